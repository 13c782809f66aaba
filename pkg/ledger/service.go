package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mvallecillo/hogarfin/pkg/dates"
	"github.com/mvallecillo/hogarfin/pkg/models"
	"github.com/mvallecillo/hogarfin/pkg/store"
)

const defaultLockWait = 15 * time.Second

// Service is the loan subsystem: schedule generation, disbursements, the
// payment waterfall and derived-state reads, all on top of the tabular
// record store.
type Service struct {
	store    store.Store
	locks    store.Locker
	log      *logrus.Logger
	lockWait time.Duration
	now      func() time.Time
}

// NewService builds the loan service and makes sure its collections
// exist.
func NewService(st store.Store, locks store.Locker, log *logrus.Logger) (*Service, error) {
	if log == nil {
		log = logrus.New()
	}
	s := &Service{
		store:    st,
		locks:    locks,
		log:      log,
		lockWait: defaultLockWait,
		now:      time.Now,
	}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetLockWait overrides the advisory-lock wait bound.
func (s *Service) SetLockWait(d time.Duration) {
	if d > 0 {
		s.lockWait = d
	}
}

func (s *Service) ensureSchema() error {
	if err := s.store.EnsureCollection(ColLoans, loanFieldNames); err != nil {
		return fmt.Errorf("failed to ensure %s: %w", ColLoans, err)
	}
	if err := s.store.EnsureCollection(ColInstallments, installmentFieldNames); err != nil {
		return fmt.Errorf("failed to ensure %s: %w", ColInstallments, err)
	}
	if err := s.store.EnsureCollection(ColPayments, paymentFieldNames); err != nil {
		return fmt.Errorf("failed to ensure %s: %w", ColPayments, err)
	}
	return nil
}

// acquireLoansLock takes the advisory lock that serializes every loan
// mutation. The loan header, its installments and its payments form one
// consistency unit, so a single lock guards all three collections.
func (s *Service) acquireLoansLock() (func(), error) {
	release, err := s.locks.Acquire(ColLoans, s.lockWait)
	if err != nil {
		return nil, err
	}
	return release, nil
}

func (s *Service) loadLoan(id string) (*models.Loan, error) {
	recs, err := s.store.ListRecords(ColLoans)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if rec.Key == id {
			return loanFromRecord(rec), nil
		}
	}
	return nil, models.NotFound("loan", id)
}

func (s *Service) loadLoans() ([]*models.Loan, error) {
	recs, err := s.store.ListRecords(ColLoans)
	if err != nil {
		return nil, err
	}
	loans := make([]*models.Loan, 0, len(recs))
	for _, rec := range recs {
		loans = append(loans, loanFromRecord(rec))
	}
	return loans, nil
}

func (s *Service) loadInstallments(loanID string) ([]*models.Installment, error) {
	recs, err := s.store.ListRecords(ColInstallments)
	if err != nil {
		return nil, err
	}
	var out []*models.Installment
	for _, rec := range recs {
		if rec.Fields["loan_id"] == loanID {
			out = append(out, installmentFromRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// loadAllInstallments groups every installment by loan id, for list-level
// aggregation in a single pass over the collection.
func (s *Service) loadAllInstallments() (map[string][]*models.Installment, error) {
	recs, err := s.store.ListRecords(ColInstallments)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]*models.Installment)
	for _, rec := range recs {
		inst := installmentFromRecord(rec)
		key := inst.LoanID.String()
		out[key] = append(out[key], inst)
	}
	for _, insts := range out {
		sort.Slice(insts, func(i, j int) bool { return insts[i].Seq < insts[j].Seq })
	}
	return out, nil
}

func (s *Service) loadPayments(loanID string) ([]*models.Payment, error) {
	recs, err := s.store.ListRecords(ColPayments)
	if err != nil {
		return nil, err
	}
	var out []*models.Payment
	for _, rec := range recs {
		if rec.Fields["loan_id"] == loanID {
			out = append(out, paymentFromRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaidAt > out[j].PaidAt })
	return out, nil
}

func (s *Service) hasPayments(loanID string) (bool, error) {
	recs, err := s.store.ListRecords(ColPayments)
	if err != nil {
		return false, err
	}
	for _, rec := range recs {
		if rec.Fields["loan_id"] == loanID {
			return true, nil
		}
	}
	return false, nil
}

// hasAllocations reports whether any installment has received money.
func hasAllocations(installments []*models.Installment) bool {
	for _, inst := range installments {
		if inst.InterestPaid.Sign() > 0 || inst.PrincipalPaid.Sign() > 0 || inst.PenaltyPaid.Sign() > 0 {
			return true
		}
	}
	return false
}

// replaceInstallments swaps the loan's installment set for the freshly
// generated schedule. Callers hold the loans lock and have already
// verified that no allocation has touched the old set.
func (s *Service) replaceInstallments(loan *models.Loan, schedule Schedule) error {
	existing, err := s.loadInstallments(loan.ID.String())
	if err != nil {
		return err
	}
	for _, inst := range existing {
		if err := s.store.DeleteRecord(ColInstallments, inst.ID.String()); err != nil {
			return err
		}
	}

	nowISO := dates.FormatDateTime(s.now())
	for _, line := range schedule.Lines {
		inst := &models.Installment{
			ID:           newUUID(),
			LoanID:       loan.ID,
			Seq:          line.Seq,
			DueDate:      line.DueDate,
			Amount:       line.Amount,
			Interest:     line.Interest,
			Principal:    line.Principal,
			BalanceAfter: line.BalanceAfter,
			// Penalty starts accruing only after the due date.
			PenaltyThrough: line.DueDate,
			Status:         models.InstallmentPending,
			CreatedAt:      nowISO,
			UpdatedAt:      nowISO,
		}
		if err := s.store.UpsertRecord(ColInstallments, inst.ID.String(), installmentToFields(inst)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) saveLoan(loan *models.Loan) error {
	return s.store.UpsertRecord(ColLoans, loan.ID.String(), loanToFields(loan))
}

func (s *Service) saveInstallment(inst *models.Installment) error {
	return s.store.UpsertRecord(ColInstallments, inst.ID.String(), installmentToFields(inst))
}

// cacheLoanStatus opportunistically writes the derived status onto the
// header. Administrative statuses are never overwritten, and a failure
// here only costs the cache, never the read.
func (s *Service) cacheLoanStatus(loan *models.Loan, derived models.LoanStatus) {
	if !operativeStatus(loan.Status) || loan.Status == derived {
		return
	}
	loan.Status = derived
	loan.UpdatedAt = dates.FormatDateTime(s.now())
	if err := s.saveLoan(loan); err != nil {
		s.log.Warnf("Failed to cache status for loan %s: %v", loan.ID, err)
	}
}
