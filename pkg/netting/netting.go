package netting

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mvallecillo/hogarfin/pkg/money"
)

// settleEps is the balance below which a position counts as settled.
// Half a cent absorbs the rounding drift of two-decimal arithmetic.
var settleEps = decimal.NewFromFloat(0.005)

// Obligation is one outstanding amount the debtor owes the creditor.
// Amounts are the unpaid remainder, never the original debt.
type Obligation struct {
	Debtor   PersonRef
	Creditor PersonRef
	Amount   decimal.Decimal
}

// Position is a person's net stance after folding all obligations.
// Positive means the household owes them (creditor), negative means they
// owe (debtor).
type Position struct {
	Ref     PersonRef       `json:"person"`
	Balance decimal.Decimal `json:"balance"`
}

// Transfer is one proposed settlement payment.
type Transfer struct {
	From   PersonRef       `json:"from"`
	To     PersonRef       `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// Plan is a settlement proposal. Complete is false when the iteration
// guard tripped before every position reached zero, in which case the
// transfers still reduce the debt but leave a residual.
type Plan struct {
	Transfers []Transfer `json:"transfers"`
	Complete  bool       `json:"complete"`
}

// NetBalances folds obligations into one net position per person.
// Mutual debts cancel: A owing B 100 while B owes A 30 nets to a single
// 70 position pair. Positions inside the epsilon are dropped.
func NetBalances(obligations []Obligation) []Position {
	balances := make(map[string]decimal.Decimal)
	refs := make(map[string]PersonRef)
	order := make([]string, 0)

	touch := func(ref PersonRef) {
		if _, ok := refs[ref.Key]; !ok {
			refs[ref.Key] = ref
			balances[ref.Key] = decimal.Zero
			order = append(order, ref.Key)
		}
	}
	for _, ob := range obligations {
		if ob.Amount.Sign() <= 0 || ob.Debtor.Key == "" || ob.Creditor.Key == "" {
			continue
		}
		if ob.Debtor.Key == ob.Creditor.Key {
			continue
		}
		touch(ob.Debtor)
		touch(ob.Creditor)
		balances[ob.Debtor.Key] = balances[ob.Debtor.Key].Sub(ob.Amount)
		balances[ob.Creditor.Key] = balances[ob.Creditor.Key].Add(ob.Amount)
	}

	positions := make([]Position, 0, len(order))
	for _, key := range order {
		bal := money.Round2(balances[key])
		if bal.Abs().LessThanOrEqual(settleEps) {
			continue
		}
		positions = append(positions, Position{Ref: refs[key], Balance: bal})
	}
	sort.Slice(positions, func(i, j int) bool {
		if !positions[i].Balance.Equal(positions[j].Balance) {
			return positions[i].Balance.GreaterThan(positions[j].Balance)
		}
		return positions[i].Ref.Key < positions[j].Ref.Key
	})
	return positions
}

// Settle proposes transfers that zero out the net positions: repeatedly
// match the largest creditor with the largest debtor for the smaller of
// the two balances. Re-sorting each round keeps the transfer count low
// without solving the NP-hard minimum exactly.
func Settle(positions []Position) Plan {
	// A residual at or below the epsilon counts as settled.
	var creditors, debtors []Position
	for _, p := range positions {
		switch {
		case p.Balance.GreaterThan(settleEps):
			creditors = append(creditors, p)
		case p.Balance.LessThan(settleEps.Neg()):
			debtors = append(debtors, p)
		}
	}

	plan := Plan{Complete: true}
	guard := (len(creditors) + len(debtors) + 10) * 50
	for len(creditors) > 0 && len(debtors) > 0 {
		if guard--; guard < 0 {
			plan.Complete = false
			break
		}
		sort.Slice(creditors, func(i, j int) bool {
			if !creditors[i].Balance.Equal(creditors[j].Balance) {
				return creditors[i].Balance.GreaterThan(creditors[j].Balance)
			}
			return creditors[i].Ref.Key < creditors[j].Ref.Key
		})
		sort.Slice(debtors, func(i, j int) bool {
			if !debtors[i].Balance.Equal(debtors[j].Balance) {
				return debtors[i].Balance.LessThan(debtors[j].Balance)
			}
			return debtors[i].Ref.Key < debtors[j].Ref.Key
		})

		cred, debt := &creditors[0], &debtors[0]
		amount := money.Round2(decimal.Min(cred.Balance, debt.Balance.Neg()))
		if amount.Sign() <= 0 {
			break
		}
		plan.Transfers = append(plan.Transfers, Transfer{
			From:   debt.Ref,
			To:     cred.Ref,
			Amount: amount,
		})
		cred.Balance = money.Round2(cred.Balance.Sub(amount))
		debt.Balance = money.Round2(debt.Balance.Add(amount))

		if cred.Balance.LessThanOrEqual(settleEps) {
			creditors = creditors[1:]
		}
		if debt.Balance.GreaterThanOrEqual(settleEps.Neg()) {
			debtors = debtors[1:]
		}
	}
	return plan
}
