package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mvallecillo/hogarfin/pkg/models"
	"github.com/mvallecillo/hogarfin/pkg/money"
)

// Allocate applies a payment amount across installments oldest-first,
// consuming penalty, then interest, then principal within each one. The
// installments must be ordered by sequence number and must already carry
// penalty accrued through asOf (see AccruePenalty). Paid balances and the
// cached status are mutated in place; whatever the obligations cannot
// absorb is returned as credit.
//
// The category order is fixed policy: clearing penalty first stops
// punitive interest from compounding, and oldest-first mirrors lender
// practice of retiring the oldest delinquency before anything newer.
func Allocate(installments []*models.Installment, amount decimal.Decimal, asOf time.Time) models.AllocationBreakdown {
	out := models.AllocationBreakdown{
		Amount:    money.Round2(amount),
		Penalty:   decimal.Zero,
		Interest:  decimal.Zero,
		Principal: decimal.Zero,
		Credit:    decimal.Zero,
	}

	rem := out.Amount
	for _, inst := range installments {
		if rem.Sign() <= 0 {
			break
		}
		penaltyPend := money.PosPart(inst.PenaltyAccrued.Sub(inst.PenaltyPaid))
		interestPend := money.PosPart(inst.Interest.Sub(inst.InterestPaid))
		principalPend := money.PosPart(inst.Principal.Sub(inst.PrincipalPaid))
		totalPend := money.Round2(penaltyPend.Add(interestPend).Add(principalPend))
		if totalPend.Sign() <= 0 {
			refreshStatus(inst, asOf)
			continue
		}

		alloc := models.InstallmentAllocation{InstallmentID: inst.ID, Seq: inst.Seq}

		if p := decimal.Min(rem, penaltyPend); p.Sign() > 0 {
			inst.PenaltyPaid = money.Round2(inst.PenaltyPaid.Add(p))
			alloc.Penalty = money.Round2(p)
			rem = money.Round2(rem.Sub(p))
			out.Penalty = money.Round2(out.Penalty.Add(p))
		}
		if p := decimal.Min(rem, interestPend); p.Sign() > 0 {
			inst.InterestPaid = money.Round2(inst.InterestPaid.Add(p))
			alloc.Interest = money.Round2(p)
			rem = money.Round2(rem.Sub(p))
			out.Interest = money.Round2(out.Interest.Add(p))
		}
		if p := decimal.Min(rem, principalPend); p.Sign() > 0 {
			inst.PrincipalPaid = money.Round2(inst.PrincipalPaid.Add(p))
			alloc.Principal = money.Round2(p)
			rem = money.Round2(rem.Sub(p))
			out.Principal = money.Round2(out.Principal.Add(p))
		}

		if alloc.Penalty.Sign() > 0 || alloc.Interest.Sign() > 0 || alloc.Principal.Sign() > 0 {
			out.Applied = append(out.Applied, alloc)
		}
		refreshStatus(inst, asOf)
	}

	out.Credit = money.PosPart(rem)
	return out
}

// refreshStatus recomputes the installment's cached status at the
// payment date.
func refreshStatus(inst *models.Installment, asOf time.Time) {
	inst.Status = DeriveInstallmentStatus(TotalPendingStored(inst), inst.DueDate, asOf)
}

// TotalPendingStored is the installment's pending balance using only the
// stored penalty accrual (no read-time projection).
func TotalPendingStored(inst *models.Installment) decimal.Decimal {
	penalty := money.PosPart(inst.PenaltyAccrued.Sub(inst.PenaltyPaid))
	return money.Round2(BasePending(inst).Add(penalty))
}
