package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mvallecillo/hogarfin/pkg/dates"
	"github.com/mvallecillo/hogarfin/pkg/models"
	"github.com/mvallecillo/hogarfin/pkg/money"
)

// InstallmentView is an installment with its pending balances projected
// to a reference date. Nothing in a view is written back.
type InstallmentView struct {
	models.Installment
	InterestPending  decimal.Decimal          `json:"interest_pending"`
	PrincipalPending decimal.Decimal          `json:"principal_pending"`
	PenaltyToDate    decimal.Decimal          `json:"penalty_to_date"`
	PenaltyPending   decimal.Decimal          `json:"penalty_pending"`
	TotalPending     decimal.Decimal          `json:"total_pending"`
	DerivedStatus    models.InstallmentStatus `json:"derived_status"`
}

// UpcomingInstallment is a compact row of the "next due" preview.
type UpcomingInstallment struct {
	Seq     int             `json:"seq"`
	DueDate string          `json:"due_date"`
	Pending decimal.Decimal `json:"pending"`
}

// LoanSummary aggregates a loan's projected position.
type LoanSummary struct {
	OutstandingPrincipal decimal.Decimal       `json:"outstanding_principal"`
	BasePending          decimal.Decimal       `json:"base_pending"`
	PenaltyPending       decimal.Decimal       `json:"penalty_pending"`
	TotalPending         decimal.Decimal       `json:"total_pending"`
	PaidInstallments     int                   `json:"paid_installments"`
	OverdueCount         int                   `json:"overdue_count"`
	OverdueAmount        decimal.Decimal       `json:"overdue_amount"`
	NextDueDate          string                `json:"next_due_date"`
	NextDueAmount        decimal.Decimal       `json:"next_due_amount"`
	Upcoming             []UpcomingInstallment `json:"upcoming"`
}

// LoanDetail is the full projected state of one loan.
type LoanDetail struct {
	Loan          models.Loan       `json:"loan"`
	DerivedStatus models.LoanStatus `json:"derived_status"`
	Installments  []InstallmentView `json:"installments"`
	Payments      []*models.Payment `json:"payments"`
	Summary       LoanSummary       `json:"summary"`
}

// buildViews projects every installment to asOf without touching the
// stored rows.
func buildViews(loan *models.Loan, installments []*models.Installment, asOf time.Time) []InstallmentView {
	dailyRate := DailyPenaltyRate(loan.PenaltyMonthlyRate)
	views := make([]InstallmentView, 0, len(installments))
	for _, inst := range installments {
		v := InstallmentView{Installment: *inst}
		v.InterestPending = money.PosPart(inst.Interest.Sub(inst.InterestPaid))
		v.PrincipalPending = money.PosPart(inst.Principal.Sub(inst.PrincipalPaid))
		v.PenaltyToDate = ProjectPenalty(inst, dailyRate, asOf)
		v.PenaltyPending = money.PosPart(v.PenaltyToDate.Sub(inst.PenaltyPaid))
		v.TotalPending = money.Round2(v.InterestPending.Add(v.PrincipalPending).Add(v.PenaltyPending))
		v.DerivedStatus = DeriveInstallmentStatus(v.TotalPending, inst.DueDate, asOf)
		views = append(views, v)
	}
	return views
}

// summarize folds the projected views into the loan position.
func summarize(loan *models.Loan, installments []*models.Installment, asOf time.Time) LoanSummary {
	views := buildViews(loan, installments, asOf)
	return summarizeViews(views, asOf)
}

func summarizeViews(views []InstallmentView, asOf time.Time) LoanSummary {
	sum := LoanSummary{
		OutstandingPrincipal: decimal.Zero,
		BasePending:          decimal.Zero,
		PenaltyPending:       decimal.Zero,
		TotalPending:         decimal.Zero,
		OverdueAmount:        decimal.Zero,
		NextDueAmount:        decimal.Zero,
	}
	today := dates.DateOnly(asOf)
	for _, v := range views {
		sum.OutstandingPrincipal = money.Round2(sum.OutstandingPrincipal.Add(v.PrincipalPending))
		sum.BasePending = money.Round2(sum.BasePending.Add(v.InterestPending).Add(v.PrincipalPending))
		sum.PenaltyPending = money.Round2(sum.PenaltyPending.Add(v.PenaltyPending))
		sum.TotalPending = money.Round2(sum.TotalPending.Add(v.TotalPending))

		switch v.DerivedStatus {
		case models.InstallmentPaid:
			sum.PaidInstallments++
		case models.InstallmentOverdue:
			sum.OverdueCount++
			sum.OverdueAmount = money.Round2(sum.OverdueAmount.Add(v.TotalPending))
		}
		if v.DerivedStatus == models.InstallmentPaid {
			continue
		}
		if due, ok := dates.Parse(v.DueDate); ok && !due.Before(today) && len(sum.Upcoming) < 3 {
			sum.Upcoming = append(sum.Upcoming, UpcomingInstallment{
				Seq:     v.Seq,
				DueDate: v.DueDate,
				Pending: v.TotalPending,
			})
		}
		if sum.NextDueDate == "" {
			sum.NextDueDate = v.DueDate
			sum.NextDueAmount = v.TotalPending
		}
	}
	return sum
}

// LoanDetail returns the loan with its full projected schedule, payment
// history and summary. The read also refreshes the header's cached
// status when the derivation disagrees with it.
func (s *Service) LoanDetail(id string) (*LoanDetail, error) {
	loan, err := s.loadLoan(id)
	if err != nil {
		return nil, err
	}
	installments, err := s.loadInstallments(id)
	if err != nil {
		return nil, err
	}
	payments, err := s.loadPayments(id)
	if err != nil {
		return nil, err
	}

	asOf := dates.DateOnly(s.now())
	views := buildViews(loan, installments, asOf)
	summary := summarizeViews(views, asOf)

	derived := loan.Status
	if operativeStatus(loan.Status) {
		derived = DeriveLoanStatus(summary.TotalPending)
		s.cacheLoanStatus(loan, derived)
	}

	return &LoanDetail{
		Loan:          *loan,
		DerivedStatus: derived,
		Installments:  views,
		Payments:      payments,
		Summary:       summary,
	}, nil
}

// RefreshStatuses recomputes the cached header status of every operative
// loan, returning how many headers changed. The background loop calls
// this periodically so listings stay honest even without reads.
func (s *Service) RefreshStatuses() (int, error) {
	release, err := s.acquireLoansLock()
	if err != nil {
		return 0, err
	}
	defer release()

	loans, err := s.loadLoans()
	if err != nil {
		return 0, err
	}
	instsByLoan, err := s.loadAllInstallments()
	if err != nil {
		return 0, err
	}

	asOf := dates.DateOnly(s.now())
	changed := 0
	for _, loan := range loans {
		if !operativeStatus(loan.Status) {
			continue
		}
		summary := summarize(loan, instsByLoan[loan.ID.String()], asOf)
		derived := DeriveLoanStatus(summary.TotalPending)
		if derived == loan.Status {
			continue
		}
		loan.Status = derived
		loan.UpdatedAt = dates.FormatDateTime(s.now())
		if err := s.saveLoan(loan); err != nil {
			return changed, err
		}
		changed++
	}
	if changed > 0 {
		if err := s.store.Flush(); err != nil {
			return changed, err
		}
	}
	return changed, nil
}

func logFields(loan *models.Loan) logrus.Fields {
	return logrus.Fields{
		"loan_id":   loan.ID.String(),
		"person_id": loan.PersonID,
		"principal": money.String(loan.Principal),
		"status":    loan.Status,
	}
}
