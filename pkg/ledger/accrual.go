package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mvallecillo/hogarfin/pkg/dates"
	"github.com/mvallecillo/hogarfin/pkg/models"
	"github.com/mvallecillo/hogarfin/pkg/money"
)

var thirty = decimal.NewFromInt(30)

// DailyPenaltyRate converts a monthly arrears rate into the daily rate
// used for accrual (30-day month convention).
func DailyPenaltyRate(monthly decimal.Decimal) decimal.Decimal {
	if monthly.Sign() <= 0 {
		return decimal.Zero
	}
	return monthly.Div(thirty)
}

// BasePending is the installment's unpaid interest plus unpaid principal.
// Penalty accrues on this base, never on itself.
func BasePending(inst *models.Installment) decimal.Decimal {
	interest := money.PosPart(inst.Interest.Sub(inst.InterestPaid))
	principal := money.PosPart(inst.Principal.Sub(inst.PrincipalPaid))
	return money.Round2(interest.Add(principal))
}

// penaltyAccrual computes the arrears owed on the installment's unpaid
// base between its accrual checkpoint and asOf. The returned checkpoint
// is asOf when anything accrued, "" otherwise.
func penaltyAccrual(inst *models.Installment, dailyRate decimal.Decimal, asOf time.Time) (decimal.Decimal, string) {
	if dailyRate.Sign() <= 0 {
		return decimal.Zero, ""
	}
	base := BasePending(inst)
	if base.Sign() <= 0 {
		return decimal.Zero, ""
	}
	due, ok := dates.Parse(inst.DueDate)
	if !ok {
		return decimal.Zero, ""
	}
	asOf = dates.DateOnly(asOf)
	if !asOf.After(due) {
		return decimal.Zero, ""
	}

	// Accrue from the later of the due date and the checkpoint so a span
	// already accrued cannot accrue again.
	from := due
	if through, ok := dates.Parse(inst.PenaltyThrough); ok && through.After(due) {
		from = through
	}
	days := dates.DiffDays(asOf, from)
	if days <= 0 {
		return decimal.Zero, ""
	}

	added := money.Round2(base.Mul(dailyRate).Mul(decimal.NewFromInt(int64(days))))
	return added, dates.Format(asOf)
}

// AccruePenalty brings the installment's penalty current as of the given
// date and advances the checkpoint. Only payment events call this; read
// paths use ProjectPenalty so a display never moves the checkpoint.
func AccruePenalty(inst *models.Installment, dailyRate decimal.Decimal, asOf time.Time) decimal.Decimal {
	added, through := penaltyAccrual(inst, dailyRate, asOf)
	if added.Sign() > 0 {
		inst.PenaltyAccrued = money.Round2(inst.PenaltyAccrued.Add(added))
		inst.PenaltyThrough = through
	}
	return added
}

// ProjectPenalty returns the penalty accrued through asOf, including the
// span past the stored checkpoint, without mutating the installment.
func ProjectPenalty(inst *models.Installment, dailyRate decimal.Decimal, asOf time.Time) decimal.Decimal {
	added, _ := penaltyAccrual(inst, dailyRate, asOf)
	return money.Round2(inst.PenaltyAccrued.Add(added))
}

// PenaltyPending is the unpaid penalty as of asOf, read-time projection
// included.
func PenaltyPending(inst *models.Installment, dailyRate decimal.Decimal, asOf time.Time) decimal.Decimal {
	return money.PosPart(ProjectPenalty(inst, dailyRate, asOf).Sub(inst.PenaltyPaid))
}
