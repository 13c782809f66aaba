package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mvallecillo/hogarfin/pkg/dates"
	"github.com/mvallecillo/hogarfin/pkg/models"
	"github.com/mvallecillo/hogarfin/pkg/money"
)

// SuggestMode selects how a payment amount is proposed.
type SuggestMode string

const (
	// SuggestNextInstallment proposes clearing the oldest unpaid
	// installment.
	SuggestNextInstallment SuggestMode = "next_installment"
	// SuggestSpecificInstallment proposes clearing everything owed up to
	// and including one chosen installment.
	SuggestSpecificInstallment SuggestMode = "specific_installment"
	// SuggestSettleToday proposes paying the whole loan off as of today.
	SuggestSettleToday SuggestMode = "settle_today"
	// SuggestFreeAmount previews how an arbitrary amount would land.
	SuggestFreeAmount SuggestMode = "free_amount"
)

// SuggestRequest asks for a proposed payment against a loan.
type SuggestRequest struct {
	Mode          SuggestMode     `json:"mode"`
	InstallmentID string          `json:"installment_id"`
	Seq           int             `json:"seq"`
	AsOf          string          `json:"as_of"`
	Amount        decimal.Decimal `json:"amount"`
}

// SuggestResult is a proposed amount plus a dry-run of its waterfall.
// Nothing is persisted; registering the payment later re-runs the real
// allocation.
type SuggestResult struct {
	LoanID   string                      `json:"loan_id"`
	Mode     SuggestMode                 `json:"mode"`
	AsOf     string                      `json:"as_of"`
	Amount   decimal.Decimal             `json:"amount"`
	Summary  LoanSummary                 `json:"summary"`
	Preview  *models.AllocationBreakdown `json:"preview,omitempty"`
	Warnings []string                    `json:"warnings,omitempty"`
}

// SuggestPayment computes the proposed amount for the requested mode and
// previews its allocation against the projected schedule.
func (s *Service) SuggestPayment(id string, req SuggestRequest) (*SuggestResult, error) {
	if req.Mode == "" {
		req.Mode = SuggestNextInstallment
	}
	asOf := dates.DateOnly(s.now())
	if req.AsOf != "" {
		t, ok := dates.Parse(req.AsOf)
		if !ok {
			return nil, models.Validationf("invalid reference date %q", req.AsOf)
		}
		asOf = t
	}

	loan, err := s.loadLoan(id)
	if err != nil {
		return nil, err
	}
	installments, err := s.loadInstallments(id)
	if err != nil {
		return nil, err
	}

	views := buildViews(loan, installments, asOf)
	result := &SuggestResult{
		LoanID:  id,
		Mode:    req.Mode,
		AsOf:    dates.Format(asOf),
		Summary: summarizeViews(views, asOf),
	}

	switch req.Mode {
	case SuggestNextInstallment:
		for _, v := range views {
			if v.TotalPending.Sign() > 0 {
				result.Amount = v.TotalPending
				break
			}
		}
	case SuggestSpecificInstallment:
		target := -1
		for i, v := range views {
			if (req.InstallmentID != "" && v.ID.String() == req.InstallmentID) ||
				(req.InstallmentID == "" && req.Seq > 0 && v.Seq == req.Seq) {
				target = i
				break
			}
		}
		if target < 0 {
			ref := req.InstallmentID
			if ref == "" {
				ref = fmt.Sprintf("seq %d", req.Seq)
			}
			return nil, models.NotFound("installment", ref)
		}
		// Older obligations cannot be skipped, so the proposal covers
		// everything owed through the chosen installment.
		amount := decimal.Zero
		skipped := 0
		for _, v := range views[:target+1] {
			amount = money.Round2(amount.Add(v.TotalPending))
			if v.Seq < views[target].Seq && v.TotalPending.Sign() > 0 {
				skipped++
			}
		}
		if skipped > 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%d earlier installments are still pending and are included in the amount", skipped))
		}
		result.Amount = amount
	case SuggestSettleToday:
		result.Amount = result.Summary.TotalPending
	case SuggestFreeAmount:
		result.Amount = money.PosPart(req.Amount)
	default:
		return nil, models.Validationf("unknown suggestion mode %q", req.Mode)
	}

	if result.Amount.Sign() > 0 {
		preview := previewAllocation(views, result.Amount)
		result.Preview = &preview
		if preview.Credit.GreaterThan(money.Epsilon) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("amount exceeds the total pending; %s would remain as credit", money.String(preview.Credit)))
		}
	}
	return result, nil
}

// previewAllocation runs the waterfall over projected views without
// touching stored state.
func previewAllocation(views []InstallmentView, amount decimal.Decimal) models.AllocationBreakdown {
	out := models.AllocationBreakdown{
		Amount:    money.Round2(amount),
		Penalty:   decimal.Zero,
		Interest:  decimal.Zero,
		Principal: decimal.Zero,
		Credit:    decimal.Zero,
	}
	rem := out.Amount
	for _, v := range views {
		if rem.Sign() <= 0 {
			break
		}
		if v.TotalPending.Sign() <= 0 {
			continue
		}
		alloc := models.InstallmentAllocation{InstallmentID: v.ID, Seq: v.Seq}
		if p := decimal.Min(rem, v.PenaltyPending); p.Sign() > 0 {
			alloc.Penalty = money.Round2(p)
			rem = money.Round2(rem.Sub(p))
			out.Penalty = money.Round2(out.Penalty.Add(p))
		}
		if p := decimal.Min(rem, v.InterestPending); p.Sign() > 0 {
			alloc.Interest = money.Round2(p)
			rem = money.Round2(rem.Sub(p))
			out.Interest = money.Round2(out.Interest.Add(p))
		}
		if p := decimal.Min(rem, v.PrincipalPending); p.Sign() > 0 {
			alloc.Principal = money.Round2(p)
			rem = money.Round2(rem.Sub(p))
			out.Principal = money.Round2(out.Principal.Add(p))
		}
		if alloc.Penalty.Sign() > 0 || alloc.Interest.Sign() > 0 || alloc.Principal.Sign() > 0 {
			out.Applied = append(out.Applied, alloc)
		}
	}
	out.Credit = money.PosPart(rem)
	return out
}
