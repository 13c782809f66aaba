package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mvallecillo/hogarfin/pkg/dates"
	"github.com/mvallecillo/hogarfin/pkg/models"
	"github.com/mvallecillo/hogarfin/pkg/money"
)

// DeriveInstallmentStatus computes an installment's status purely from
// its pending balance and due date. Stored statuses are never trusted as
// truth; every read path goes through here.
func DeriveInstallmentStatus(totalPending decimal.Decimal, dueDate string, asOf time.Time) models.InstallmentStatus {
	if money.Round2(totalPending).LessThanOrEqual(money.Epsilon) {
		return models.InstallmentPaid
	}
	if due, ok := dates.Parse(dueDate); ok && dates.DateOnly(asOf).After(due) {
		return models.InstallmentOverdue
	}
	return models.InstallmentPending
}

// DeriveLoanStatus maps the loan's total pending balance to its operative
// status.
func DeriveLoanStatus(totalPending decimal.Decimal) models.LoanStatus {
	if money.Round2(totalPending).LessThanOrEqual(money.Epsilon) {
		return models.LoanFinalized
	}
	return models.LoanActive
}

// operativeStatus reports whether the stored header status may be
// overwritten by the derived one. Administrative statuses (draft,
// cancelled, rejected) always win over the derivation.
func operativeStatus(s models.LoanStatus) bool {
	switch s {
	case models.LoanActive, models.LoanFinalized, models.LoanApproved, "":
		return true
	}
	return false
}
