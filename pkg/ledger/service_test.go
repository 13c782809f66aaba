package ledger

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mvallecillo/hogarfin/pkg/models"
	"github.com/mvallecillo/hogarfin/pkg/store"
)

func newTestService(t *testing.T) (*Service, *store.MemStore) {
	t.Helper()
	m := store.NewMemStore()
	log := logrus.New()
	log.SetOutput(io.Discard)
	s, err := NewService(m, m.CollectionLocks, log)
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	s.now = func() time.Time { return day("2026-01-10") }
	return s, m
}

func baseSpec() LoanSpec {
	return LoanSpec{
		PersonID:           "p1",
		PersonName:         "Ana",
		Principal:          dec("1000"),
		TermMonths:         4,
		MonthlyRate:        dec("0"),
		PenaltyMode:        models.PenaltyManual,
		PenaltyMonthlyRate: dec("0"),
		DisbursedOn:        "2026-01-10",
		PaymentDay:         15,
		Status:             models.LoanActive,
	}
}

func TestSaveLoan_GeneratesSchedule(t *testing.T) {
	s, _ := newTestService(t)

	loan, err := s.SaveLoan(baseSpec())
	if err != nil {
		t.Fatalf("SaveLoan failed: %v", err)
	}
	if loan.InstallmentAmount.String() != "250" {
		t.Errorf("InstallmentAmount = %s, want 250", loan.InstallmentAmount)
	}
	if loan.FirstDueDate != "2026-02-15" {
		t.Errorf("FirstDueDate = %s, want 2026-02-15", loan.FirstDueDate)
	}

	detail, err := s.LoanDetail(loan.ID.String())
	if err != nil {
		t.Fatalf("LoanDetail failed: %v", err)
	}
	if len(detail.Installments) != 4 {
		t.Fatalf("Expected 4 installments, got %d", len(detail.Installments))
	}
	if detail.Summary.TotalPending.String() != "1000" {
		t.Errorf("TotalPending = %s, want 1000", detail.Summary.TotalPending)
	}
	if detail.DerivedStatus != models.LoanActive {
		t.Errorf("DerivedStatus = %s, want active", detail.DerivedStatus)
	}
}

func TestSaveLoan_Validation(t *testing.T) {
	s, _ := newTestService(t)

	var validation *models.ValidationError

	spec := baseSpec()
	spec.PersonID = ""
	if _, err := s.SaveLoan(spec); !errors.As(err, &validation) {
		t.Errorf("Missing person: expected ValidationError, got %v", err)
	}

	spec = baseSpec()
	spec.Principal = dec("0")
	if _, err := s.SaveLoan(spec); !errors.As(err, &validation) {
		t.Errorf("Zero principal: expected ValidationError, got %v", err)
	}

	spec = baseSpec()
	spec.TermMonths = 0
	if _, err := s.SaveLoan(spec); !errors.As(err, &validation) {
		t.Errorf("Zero term: expected ValidationError, got %v", err)
	}
}

func TestSaveLoan_RegenerateBlockedAfterPayment(t *testing.T) {
	s, _ := newTestService(t)

	loan, err := s.SaveLoan(baseSpec())
	if err != nil {
		t.Fatalf("SaveLoan failed: %v", err)
	}

	// Before any payment, regeneration is allowed.
	spec := baseSpec()
	spec.ID = loan.ID.String()
	spec.TermMonths = 2
	if _, err := s.SaveLoan(spec); err != nil {
		t.Fatalf("Regenerate before payments failed: %v", err)
	}

	if _, err := s.RegisterPayment(loan.ID.String(), PaymentRequest{
		Amount: dec("100"), At: "2026-02-15",
	}); err != nil {
		t.Fatalf("RegisterPayment failed: %v", err)
	}

	var conflict *models.StateConflictError
	if _, err := s.SaveLoan(spec); !errors.As(err, &conflict) {
		t.Errorf("Regenerate after payment: expected StateConflictError, got %v", err)
	}
}

func TestRegisterPayment_ExactInstallment(t *testing.T) {
	s, _ := newTestService(t)

	loan, _ := s.SaveLoan(baseSpec())
	payment, err := s.RegisterPayment(loan.ID.String(), PaymentRequest{
		Amount: dec("250"), At: "2026-02-15",
	})
	if err != nil {
		t.Fatalf("RegisterPayment failed: %v", err)
	}
	if !payment.Principal.Equal(dec("250")) || !payment.Interest.IsZero() || !payment.Credit.IsZero() {
		t.Errorf("Breakdown principal=%s interest=%s credit=%s",
			payment.Principal, payment.Interest, payment.Credit)
	}

	detail, _ := s.LoanDetail(loan.ID.String())
	if detail.Installments[0].DerivedStatus != models.InstallmentPaid {
		t.Errorf("First installment = %s, want paid", detail.Installments[0].DerivedStatus)
	}
	if detail.Summary.PaidInstallments != 1 {
		t.Errorf("PaidInstallments = %d, want 1", detail.Summary.PaidInstallments)
	}
	if len(detail.Payments) != 1 {
		t.Errorf("Expected 1 payment in history, got %d", len(detail.Payments))
	}
}

func TestRegisterPayment_LatePenalty(t *testing.T) {
	s, _ := newTestService(t)

	spec := baseSpec()
	spec.PenaltyMonthlyRate = dec("0.03") // 0.001 per day
	loan, _ := s.SaveLoan(spec)

	// Ten days past the first due date: 250 * 0.001 * 10 = 2.50.
	payment, err := s.RegisterPayment(loan.ID.String(), PaymentRequest{
		Amount: dec("252.50"), At: "2026-02-25",
	})
	if err != nil {
		t.Fatalf("RegisterPayment failed: %v", err)
	}
	if !payment.Penalty.Equal(dec("2.50")) {
		t.Errorf("Penalty = %s, want 2.50", payment.Penalty)
	}
	if !payment.Principal.Equal(dec("250")) {
		t.Errorf("Principal = %s, want 250", payment.Principal)
	}

	detail, _ := s.LoanDetail(loan.ID.String())
	if detail.Installments[0].DerivedStatus != models.InstallmentPaid {
		t.Errorf("First installment = %s, want paid", detail.Installments[0].DerivedStatus)
	}
	if detail.Installments[0].PenaltyThrough != "2026-02-25" {
		t.Errorf("Checkpoint = %s, want 2026-02-25", detail.Installments[0].PenaltyThrough)
	}
}

func TestRegisterPayment_FinalizesAndLocksOut(t *testing.T) {
	s, _ := newTestService(t)

	spec := baseSpec()
	spec.Principal = dec("100")
	spec.TermMonths = 1
	loan, _ := s.SaveLoan(spec)

	if _, err := s.RegisterPayment(loan.ID.String(), PaymentRequest{
		Amount: dec("100"), At: "2026-02-15",
	}); err != nil {
		t.Fatalf("RegisterPayment failed: %v", err)
	}

	detail, _ := s.LoanDetail(loan.ID.String())
	if detail.DerivedStatus != models.LoanFinalized {
		t.Errorf("DerivedStatus = %s, want finalized", detail.DerivedStatus)
	}

	var conflict *models.StateConflictError
	if _, err := s.RegisterPayment(loan.ID.String(), PaymentRequest{
		Amount: dec("10"), At: "2026-02-16",
	}); !errors.As(err, &conflict) {
		t.Errorf("Payment on finalized loan: expected StateConflictError, got %v", err)
	}
}

func TestRegisterDisbursement_Lifecycle(t *testing.T) {
	s, _ := newTestService(t)

	spec := baseSpec()
	spec.Origin = models.OriginGranted
	spec.Status = models.LoanDraft
	loan, _ := s.SaveLoan(spec)

	// Granted loans refuse payments until the money actually moved.
	var conflict *models.StateConflictError
	if _, err := s.RegisterPayment(loan.ID.String(), PaymentRequest{
		Amount: dec("250"), At: "2026-02-15",
	}); !errors.As(err, &conflict) {
		t.Fatalf("Payment before disbursement: expected StateConflictError, got %v", err)
	}

	summary, err := s.RegisterDisbursement(loan.ID.String(), DisbursementRequest{
		At: "2026-03-01", Method: "transfer",
	})
	if err != nil {
		t.Fatalf("RegisterDisbursement failed: %v", err)
	}
	if summary.FirstDueDate != "2026-04-15" {
		t.Errorf("Rebased FirstDueDate = %s, want 2026-04-15", summary.FirstDueDate)
	}
	if summary.Status != models.LoanActive {
		t.Errorf("Status = %s, want active", summary.Status)
	}

	if _, err := s.RegisterPayment(loan.ID.String(), PaymentRequest{
		Amount: dec("250"), At: "2026-04-15",
	}); err != nil {
		t.Fatalf("Payment after disbursement failed: %v", err)
	}

	// The schedule is anchored once money starts flowing.
	if _, err := s.RegisterDisbursement(loan.ID.String(), DisbursementRequest{
		At: "2026-03-15",
	}); !errors.As(err, &conflict) {
		t.Errorf("Re-disbursement after payment: expected StateConflictError, got %v", err)
	}
}

func TestSuggestPayment_Modes(t *testing.T) {
	s, _ := newTestService(t)
	loan, _ := s.SaveLoan(baseSpec())
	id := loan.ID.String()

	next, err := s.SuggestPayment(id, SuggestRequest{AsOf: "2026-02-20"})
	if err != nil {
		t.Fatalf("SuggestPayment failed: %v", err)
	}
	if next.Mode != SuggestNextInstallment {
		t.Errorf("Default mode = %s", next.Mode)
	}
	if !next.Amount.Equal(dec("250")) {
		t.Errorf("Next-installment amount = %s, want 250", next.Amount)
	}

	specific, err := s.SuggestPayment(id, SuggestRequest{
		Mode: SuggestSpecificInstallment, Seq: 2, AsOf: "2026-02-20",
	})
	if err != nil {
		t.Fatalf("SuggestPayment(specific) failed: %v", err)
	}
	if !specific.Amount.Equal(dec("500")) {
		t.Errorf("Specific amount = %s, want 500 (covers installment 1 too)", specific.Amount)
	}
	if len(specific.Warnings) == 0 {
		t.Error("Expected a warning about the earlier pending installment")
	}

	settle, _ := s.SuggestPayment(id, SuggestRequest{Mode: SuggestSettleToday, AsOf: "2026-02-20"})
	if !settle.Amount.Equal(dec("1000")) {
		t.Errorf("Settle amount = %s, want 1000", settle.Amount)
	}

	free, _ := s.SuggestPayment(id, SuggestRequest{
		Mode: SuggestFreeAmount, Amount: dec("1200"), AsOf: "2026-02-20",
	})
	if free.Preview == nil {
		t.Fatal("Expected an allocation preview")
	}
	if !free.Preview.Credit.Equal(dec("200")) {
		t.Errorf("Preview credit = %s, want 200", free.Preview.Credit)
	}
	if len(free.Warnings) == 0 {
		t.Error("Expected an overpayment warning")
	}

	// Previews never touch stored state.
	detail, _ := s.LoanDetail(id)
	if detail.Summary.TotalPending.String() != "1000" {
		t.Errorf("Suggestion mutated the loan: pending %s", detail.Summary.TotalPending)
	}
}

func TestListLoans_Filters(t *testing.T) {
	s, _ := newTestService(t)

	s.SaveLoan(baseSpec())
	other := baseSpec()
	other.PersonID = "p2"
	other.PersonName = "Luis"
	other.DisbursedOn = "2026-01-05"
	s.SaveLoan(other)

	all, err := s.ListLoans(LoanFilter{})
	if err != nil {
		t.Fatalf("ListLoans failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Expected 2 loans, got %d", len(all))
	}
	if all[0].DisbursedOn != "2026-01-10" {
		t.Errorf("Expected newest disbursement first, got %s", all[0].DisbursedOn)
	}

	justAna, _ := s.ListLoans(LoanFilter{PersonID: "p1"})
	if len(justAna) != 1 || justAna[0].PersonName != "Ana" {
		t.Errorf("Person filter returned %d loans", len(justAna))
	}

	byQuery, _ := s.ListLoans(LoanFilter{Query: "luis"})
	if len(byQuery) != 1 || byQuery[0].PersonID != "p2" {
		t.Errorf("Query filter returned %d loans", len(byQuery))
	}

	none, _ := s.ListLoans(LoanFilter{Status: "finalized"})
	if len(none) != 0 {
		t.Errorf("Status filter returned %d loans, want 0", len(none))
	}
}

func TestDeleteLoan_Cascades(t *testing.T) {
	s, m := newTestService(t)

	loan, _ := s.SaveLoan(baseSpec())
	s.RegisterPayment(loan.ID.String(), PaymentRequest{Amount: dec("100"), At: "2026-02-15"})

	if err := s.DeleteLoan(loan.ID.String()); err != nil {
		t.Fatalf("DeleteLoan failed: %v", err)
	}

	var notFound *models.NotFoundError
	if _, err := s.LoanDetail(loan.ID.String()); !errors.As(err, &notFound) {
		t.Errorf("Expected NotFoundError after delete, got %v", err)
	}
	for _, col := range []string{ColInstallments, ColPayments} {
		recs, _ := m.ListRecords(col)
		if len(recs) != 0 {
			t.Errorf("Collection %s still has %d records", col, len(recs))
		}
	}
}

func TestSaveLoan_LockTimeout(t *testing.T) {
	s, m := newTestService(t)
	s.SetLockWait(50 * time.Millisecond)

	release, err := m.CollectionLocks.Acquire(ColLoans, time.Second)
	if err != nil {
		t.Fatalf("Failed to take lock: %v", err)
	}
	defer release()

	if _, err := s.SaveLoan(baseSpec()); !errors.Is(err, store.ErrLockTimeout) {
		t.Errorf("Expected ErrLockTimeout, got %v", err)
	}
}

func TestRefreshStatuses(t *testing.T) {
	s, _ := newTestService(t)

	spec := baseSpec()
	spec.Principal = dec("100")
	spec.TermMonths = 1
	loan, _ := s.SaveLoan(spec)
	s.RegisterPayment(loan.ID.String(), PaymentRequest{Amount: dec("100"), At: "2026-02-15"})

	// Force the cached header back to a stale value.
	stale, _ := s.loadLoan(loan.ID.String())
	stale.Status = models.LoanActive
	if err := s.saveLoan(stale); err != nil {
		t.Fatalf("Failed to write stale status: %v", err)
	}

	changed, err := s.RefreshStatuses()
	if err != nil {
		t.Fatalf("RefreshStatuses failed: %v", err)
	}
	if changed != 1 {
		t.Errorf("Expected 1 loan refreshed, got %d", changed)
	}
	fresh, _ := s.loadLoan(loan.ID.String())
	if fresh.Status != models.LoanFinalized {
		t.Errorf("Status after refresh = %s, want finalized", fresh.Status)
	}
}
