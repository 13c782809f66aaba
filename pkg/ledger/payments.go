package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/mvallecillo/hogarfin/pkg/dates"
	"github.com/mvallecillo/hogarfin/pkg/models"
	"github.com/mvallecillo/hogarfin/pkg/money"
)

// PaymentRequest is the input for registering money received against a
// loan.
type PaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	At        string          `json:"at"`
	Method    string          `json:"method"`
	Reference string          `json:"reference"`
	Note      string          `json:"note"`
}

// RegisterPayment accrues penalty up to the payment date, runs the
// waterfall over the schedule and appends the payment with its allocation
// snapshot. The returned payment carries the full breakdown including any
// credit that exceeded the loan's obligations.
func (s *Service) RegisterPayment(id string, req PaymentRequest) (*models.Payment, error) {
	amount := money.Round2(req.Amount)
	if amount.Sign() <= 0 {
		return nil, models.Validationf("payment amount must be greater than zero")
	}
	at := s.now()
	if req.At != "" {
		t, ok := dates.ParseDateTime(req.At)
		if !ok {
			return nil, models.Validationf("invalid payment date %q", req.At)
		}
		at = t
	}
	asOf := dates.DateOnly(at)

	release, err := s.acquireLoansLock()
	if err != nil {
		return nil, err
	}
	defer release()

	loan, err := s.loadLoan(id)
	if err != nil {
		return nil, err
	}
	switch loan.Status {
	case models.LoanCancelled:
		return nil, models.Conflictf("loan %s is cancelled", id)
	case models.LoanFinalized:
		return nil, models.Conflictf("loan %s is already finalized", id)
	}
	if loan.Origin == models.OriginGranted && loan.DisbursedAt == "" {
		return nil, models.Conflictf("loan %s has no disbursement yet; register it before payments", id)
	}

	installments, err := s.loadInstallments(id)
	if err != nil {
		return nil, err
	}
	if len(installments) == 0 {
		return nil, models.Conflictf("loan %s has no installments", id)
	}

	dailyRate := DailyPenaltyRate(loan.PenaltyMonthlyRate)
	for _, inst := range installments {
		AccruePenalty(inst, dailyRate, asOf)
	}

	breakdown := Allocate(installments, amount, asOf)

	nowISO := dates.FormatDateTime(s.now())
	for _, inst := range installments {
		inst.UpdatedAt = nowISO
		if err := s.saveInstallment(inst); err != nil {
			return nil, err
		}
	}

	total := decimal.Zero
	for _, inst := range installments {
		total = total.Add(TotalPendingStored(inst))
	}
	derived := DeriveLoanStatus(total)
	if operativeStatus(loan.Status) && loan.Status != derived {
		loan.Status = derived
		loan.UpdatedAt = nowISO
		if err := s.saveLoan(loan); err != nil {
			return nil, err
		}
	}

	payment := &models.Payment{
		ID:        newUUID(),
		LoanID:    loan.ID,
		PaidAt:    dates.FormatDateTime(at),
		Amount:    breakdown.Amount,
		Method:    req.Method,
		Reference: req.Reference,
		Note:      req.Note,
		Penalty:   breakdown.Penalty,
		Interest:  breakdown.Interest,
		Principal: breakdown.Principal,
		Credit:    breakdown.Credit,
		Applied:   breakdown.Applied,
	}
	if err := s.store.UpsertRecord(ColPayments, payment.ID.String(), paymentToFields(payment)); err != nil {
		return nil, err
	}
	if err := s.store.Flush(); err != nil {
		return nil, err
	}

	s.log.WithFields(logFields(loan)).WithField("amount", money.String(amount)).Info("Payment registered")
	return payment, nil
}
