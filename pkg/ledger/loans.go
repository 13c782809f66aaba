package ledger

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mvallecillo/hogarfin/pkg/dates"
	"github.com/mvallecillo/hogarfin/pkg/models"
	"github.com/mvallecillo/hogarfin/pkg/money"
)

var hundred = decimal.NewFromInt(100)

// LoanSpec is the input for creating or regenerating a loan. Zero-valued
// optional fields fall back to defaults.
type LoanSpec struct {
	ID                 string              `json:"id"`
	Origin             models.Origin       `json:"origin"`
	PersonID           string              `json:"person_id"`
	PersonName         string              `json:"person_name"`
	Principal          decimal.Decimal     `json:"principal"`
	TermMonths         int                 `json:"term_months"`
	MonthlyRate        decimal.Decimal     `json:"monthly_rate"`
	PenaltyMode        models.PenaltyMode  `json:"penalty_mode"`
	PenaltyMonthlyRate decimal.Decimal     `json:"penalty_monthly_rate"`
	FeeType            models.FeeType      `json:"fee_type"`
	FeeValue           decimal.Decimal     `json:"fee_value"`
	DisbursedOn        string              `json:"disbursed_on"`
	PaymentDay         int                 `json:"payment_day"`
	Status             models.LoanStatus   `json:"status"`
	By                 string              `json:"by"`
}

func (spec *LoanSpec) validate() error {
	if strings.TrimSpace(spec.PersonID) == "" {
		return models.Validationf("a person is required")
	}
	if spec.Principal.Sign() <= 0 {
		return models.Validationf("principal must be greater than zero")
	}
	if spec.TermMonths < 1 {
		return models.Validationf("term must be at least one month")
	}
	if spec.MonthlyRate.Sign() < 0 {
		return models.Validationf("monthly rate cannot be negative")
	}
	if spec.PenaltyMode == models.PenaltyManual && spec.PenaltyMonthlyRate.Sign() < 0 {
		return models.Validationf("penalty rate cannot be negative")
	}
	if spec.FeeValue.Sign() < 0 {
		return models.Validationf("fee cannot be negative")
	}
	return nil
}

// resolvePenaltyRate turns the penalty mode into a concrete monthly
// arrears rate. The multiplier modes scale the loan's own interest rate.
func resolvePenaltyRate(mode models.PenaltyMode, monthlyRate, manual decimal.Decimal) decimal.Decimal {
	switch mode {
	case models.PenaltyPlus25:
		return monthlyRate.Mul(decimal.NewFromFloat(1.25))
	case models.PenaltyPlus50:
		return monthlyRate.Mul(decimal.NewFromFloat(1.5))
	default:
		return manual
	}
}

func resolveFeeAmount(feeType models.FeeType, value, principal decimal.Decimal) decimal.Decimal {
	if feeType == models.FeePercent {
		return money.Round2(principal.Mul(value).Div(hundred))
	}
	return money.Round2(value)
}

// SaveLoan creates a loan, or regenerates an existing one that has not
// yet received money. Regenerating replaces the whole installment set, so
// a loan with payments or partial allocations refuses the update.
func (s *Service) SaveLoan(spec LoanSpec) (*models.Loan, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	if spec.Origin == "" {
		spec.Origin = models.OriginRequested
	}
	if spec.PenaltyMode == "" {
		spec.PenaltyMode = models.PenaltyPlus25
	}
	if spec.FeeType == "" {
		spec.FeeType = models.FeeFlat
	}
	if spec.Status == "" {
		spec.Status = models.LoanDraft
	}
	if spec.DisbursedOn == "" {
		spec.DisbursedOn = dates.Format(s.now())
	} else {
		spec.DisbursedOn = dates.NormalizeISO(spec.DisbursedOn)
	}
	spec.PaymentDay = ClampPaymentDay(spec.PaymentDay)

	release, err := s.acquireLoansLock()
	if err != nil {
		return nil, err
	}
	defer release()

	nowISO := dates.FormatDateTime(s.now())
	loan := &models.Loan{
		ID:        newUUID(),
		CreatedBy: spec.By,
		CreatedAt: nowISO,
	}
	if spec.ID != "" {
		prev, err := s.loadLoan(spec.ID)
		if err != nil {
			return nil, err
		}
		paid, err := s.hasPayments(spec.ID)
		if err != nil {
			return nil, err
		}
		insts, err := s.loadInstallments(spec.ID)
		if err != nil {
			return nil, err
		}
		if paid || hasAllocations(insts) {
			return nil, models.Conflictf("loan %s already has payments; regenerate is not allowed", spec.ID)
		}
		loan.ID = prev.ID
		loan.CreatedBy = prev.CreatedBy
		loan.CreatedAt = prev.CreatedAt
		loan.DisbursedAt = prev.DisbursedAt
		loan.DisburseMethod = prev.DisburseMethod
		loan.DisburseRef = prev.DisburseRef
		loan.DisburseNote = prev.DisburseNote
	}

	schedule := BuildSchedule(spec.Principal, spec.TermMonths, spec.MonthlyRate, spec.DisbursedOn, spec.PaymentDay)

	loan.Origin = spec.Origin
	loan.PersonID = spec.PersonID
	loan.PersonName = spec.PersonName
	loan.Principal = money.Round2(spec.Principal)
	loan.TermMonths = spec.TermMonths
	loan.MonthlyRate = spec.MonthlyRate
	loan.PenaltyMode = spec.PenaltyMode
	loan.PenaltyMonthlyRate = resolvePenaltyRate(spec.PenaltyMode, spec.MonthlyRate, spec.PenaltyMonthlyRate)
	loan.FeeType = spec.FeeType
	loan.FeeValue = spec.FeeValue
	loan.FeeAmount = resolveFeeAmount(spec.FeeType, spec.FeeValue, loan.Principal)
	loan.DisbursedOn = spec.DisbursedOn
	loan.FirstDueDate = schedule.FirstDueDate
	loan.PaymentDay = spec.PaymentDay
	loan.InstallmentAmount = schedule.InstallmentAmount
	loan.TotalInterest = schedule.TotalInterest
	loan.TotalPayable = money.Round2(loan.Principal.Add(schedule.TotalInterest))
	loan.Status = spec.Status
	loan.UpdatedBy = spec.By
	loan.UpdatedAt = nowISO

	if err := s.saveLoan(loan); err != nil {
		return nil, err
	}
	if err := s.replaceInstallments(loan, schedule); err != nil {
		return nil, err
	}
	if err := s.store.Flush(); err != nil {
		return nil, err
	}

	s.log.WithFields(logFields(loan)).Info("Loan saved")
	return loan, nil
}

// DisbursementRequest records the moment money actually moved.
type DisbursementRequest struct {
	At     string `json:"at"`
	Method string `json:"method"`
	Ref    string `json:"ref"`
	Note   string `json:"note"`
	By     string `json:"by"`
}

// ScheduleSummary is the receipt a disbursement returns.
type ScheduleSummary struct {
	LoanID            string            `json:"loan_id"`
	Status            models.LoanStatus `json:"status"`
	DisbursedOn       string            `json:"disbursed_on"`
	DisbursedAt       string            `json:"disbursed_at"`
	FirstDueDate      string            `json:"first_due_date"`
	PaymentDay        int               `json:"payment_day"`
	Installments      int               `json:"installments"`
	InstallmentAmount decimal.Decimal   `json:"installment_amount"`
	TotalInterest     decimal.Decimal   `json:"total_interest"`
	TotalPayable      decimal.Decimal   `json:"total_payable"`
}

// RegisterDisbursement anchors the loan to its real funding date,
// regenerates the schedule from it and activates the loan. A loan that
// has already received payments keeps its schedule untouched.
func (s *Service) RegisterDisbursement(id string, req DisbursementRequest) (*ScheduleSummary, error) {
	at := s.now()
	if req.At != "" {
		t, ok := dates.ParseDateTime(req.At)
		if !ok {
			return nil, models.Validationf("invalid disbursement date %q", req.At)
		}
		at = t
	}

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
	paid, err := s.hasPayments(id)
	if err != nil {
		return nil, err
	}
	insts, err := s.loadInstallments(id)
	if err != nil {
		return nil, err
	}
	if paid || hasAllocations(insts) {
		return nil, models.Conflictf("loan %s already has payments; the schedule cannot move", id)
	}

	loan.DisbursedOn = dates.Format(at)
	loan.DisbursedAt = dates.FormatDateTime(at)
	loan.DisburseMethod = req.Method
	loan.DisburseRef = req.Ref
	loan.DisburseNote = req.Note

	schedule := BuildSchedule(loan.Principal, loan.TermMonths, loan.MonthlyRate, loan.DisbursedOn, loan.PaymentDay)
	loan.FirstDueDate = schedule.FirstDueDate
	loan.InstallmentAmount = schedule.InstallmentAmount
	loan.TotalInterest = schedule.TotalInterest
	loan.TotalPayable = money.Round2(loan.Principal.Add(schedule.TotalInterest))
	loan.Status = models.LoanActive
	loan.UpdatedBy = req.By
	loan.UpdatedAt = dates.FormatDateTime(s.now())

	if err := s.saveLoan(loan); err != nil {
		return nil, err
	}
	if err := s.replaceInstallments(loan, schedule); err != nil {
		return nil, err
	}
	if err := s.store.Flush(); err != nil {
		return nil, err
	}

	s.log.WithFields(logFields(loan)).Info("Disbursement registered")
	return &ScheduleSummary{
		LoanID:            loan.ID.String(),
		Status:            loan.Status,
		DisbursedOn:       loan.DisbursedOn,
		DisbursedAt:       loan.DisbursedAt,
		FirstDueDate:      loan.FirstDueDate,
		PaymentDay:        loan.PaymentDay,
		Installments:      len(schedule.Lines),
		InstallmentAmount: loan.InstallmentAmount,
		TotalInterest:     loan.TotalInterest,
		TotalPayable:      loan.TotalPayable,
	}, nil
}

// DeleteLoan removes the loan and everything hanging off it.
func (s *Service) DeleteLoan(id string) error {
	release, err := s.acquireLoansLock()
	if err != nil {
		return err
	}
	defer release()

	if _, err := s.loadLoan(id); err != nil {
		return err
	}
	insts, err := s.loadInstallments(id)
	if err != nil {
		return err
	}
	for _, inst := range insts {
		if err := s.store.DeleteRecord(ColInstallments, inst.ID.String()); err != nil {
			return err
		}
	}
	payments, err := s.loadPayments(id)
	if err != nil {
		return err
	}
	for _, p := range payments {
		if err := s.store.DeleteRecord(ColPayments, p.ID.String()); err != nil {
			return err
		}
	}
	if err := s.store.DeleteRecord(ColLoans, id); err != nil {
		return err
	}
	if err := s.store.Flush(); err != nil {
		return err
	}
	s.log.Infof("Loan %s deleted (%d installments, %d payments)", id, len(insts), len(payments))
	return nil
}

// LoanFilter narrows ListLoans. Empty fields match everything.
type LoanFilter struct {
	PersonID string
	Origin   models.Origin
	Status   string
	From     string
	To       string
	Query    string
}

// LoanListItem is one row of the loan listing with live aggregates.
type LoanListItem struct {
	models.Loan
	DerivedStatus        models.LoanStatus `json:"derived_status"`
	OutstandingPrincipal decimal.Decimal   `json:"outstanding_principal"`
	BasePending          decimal.Decimal   `json:"base_pending"`
	PenaltyPending       decimal.Decimal   `json:"penalty_pending"`
	TotalPending         decimal.Decimal   `json:"total_pending"`
	OverdueCount         int               `json:"overdue_count"`
	OverdueAmount        decimal.Decimal   `json:"overdue_amount"`
	NextDueDate          string            `json:"next_due_date"`
	NextDueAmount        decimal.Decimal   `json:"next_due_amount"`
}

// ListLoans returns the filtered loan listing, newest disbursement
// first, with penalty projected to today on every aggregate.
func (s *Service) ListLoans(filter LoanFilter) ([]LoanListItem, error) {
	loans, err := s.loadLoans()
	if err != nil {
		return nil, err
	}
	instsByLoan, err := s.loadAllInstallments()
	if err != nil {
		return nil, err
	}

	asOf := dates.DateOnly(s.now())
	query := strings.ToLower(strings.TrimSpace(filter.Query))
	status := strings.ToLower(strings.TrimSpace(filter.Status))

	items := make([]LoanListItem, 0, len(loans))
	for _, loan := range loans {
		if filter.PersonID != "" && loan.PersonID != filter.PersonID {
			continue
		}
		if filter.Origin != "" && loan.Origin != filter.Origin {
			continue
		}
		if filter.From != "" && loan.DisbursedOn < dates.NormalizeISO(filter.From) {
			continue
		}
		if filter.To != "" && loan.DisbursedOn > dates.NormalizeISO(filter.To) {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(loan.PersonName), query) &&
			!strings.Contains(strings.ToLower(loan.DisburseNote), query) &&
			!strings.Contains(strings.ToLower(loan.ID.String()), query) {
			continue
		}

		item := LoanListItem{Loan: *loan}
		summary := summarize(loan, instsByLoan[loan.ID.String()], asOf)
		item.OutstandingPrincipal = summary.OutstandingPrincipal
		item.BasePending = summary.BasePending
		item.PenaltyPending = summary.PenaltyPending
		item.TotalPending = summary.TotalPending
		item.OverdueCount = summary.OverdueCount
		item.OverdueAmount = summary.OverdueAmount
		item.NextDueDate = summary.NextDueDate
		item.NextDueAmount = summary.NextDueAmount

		item.DerivedStatus = loan.Status
		if operativeStatus(loan.Status) {
			item.DerivedStatus = DeriveLoanStatus(summary.TotalPending)
			item.Loan.Status = item.DerivedStatus
		}
		if status != "" && string(item.DerivedStatus) != status && string(loan.Status) != status {
			continue
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].DisbursedOn != items[j].DisbursedOn {
			return items[i].DisbursedOn > items[j].DisbursedOn
		}
		return items[i].ID.String() > items[j].ID.String()
	})
	return items, nil
}
