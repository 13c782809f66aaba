package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mvallecillo/hogarfin/pkg/dates"
	"github.com/mvallecillo/hogarfin/pkg/money"
)

const (
	minPaymentDay = 1
	maxPaymentDay = 28
)

var one = decimal.NewFromInt(1)

// ClampPaymentDay keeps the payment day-of-month inside 1..28 so every
// month of the year has the due day.
func ClampPaymentDay(day int) int {
	if day < minPaymentDay {
		return minPaymentDay
	}
	if day > maxPaymentDay {
		return maxPaymentDay
	}
	return day
}

// InstallmentAmount is the level monthly payment (annuity formula) for
// principal p over n months at monthly rate r. Interest-free loans divide
// the principal evenly.
func InstallmentAmount(p decimal.Decimal, r decimal.Decimal, n int) decimal.Decimal {
	if n < 1 {
		n = 1
	}
	if p.Sign() <= 0 {
		return decimal.Zero
	}
	months := decimal.NewFromInt(int64(n))
	if r.IsZero() {
		return money.Round2(p.Div(months))
	}
	pow := one.Add(r).Pow(months)
	return money.Round2(p.Mul(r).Mul(pow).Div(pow.Sub(one)))
}

// ScheduleLine is one generated installment before it is persisted.
type ScheduleLine struct {
	Seq          int
	DueDate      string
	Amount       decimal.Decimal
	Interest     decimal.Decimal
	Principal    decimal.Decimal
	BalanceAfter decimal.Decimal
}

// Schedule is the full amortization table for a loan.
type Schedule struct {
	InstallmentAmount decimal.Decimal
	FirstDueDate      string
	TotalInterest     decimal.Decimal
	Lines             []ScheduleLine
}

// BuildSchedule generates the amortization table: level payments on the
// declining balance, first due on payDay of the month after disbursement.
// The final installment's principal absorbs rounding drift so that the
// principal components sum exactly to p.
func BuildSchedule(p decimal.Decimal, n int, r decimal.Decimal, disbursedOn string, payDay int) Schedule {
	if n < 1 {
		n = 1
	}
	payDay = ClampPaymentDay(payDay)
	cuota := InstallmentAmount(p, r, n)

	disb, ok := dates.Parse(disbursedOn)
	if !ok {
		disb = dates.DateOnly(time.Now())
	}
	due := dates.NextMonth(disb, payDay)

	balance := p
	totalInterest := decimal.Zero
	lines := make([]ScheduleLine, 0, n)
	for i := 1; i <= n; i++ {
		interest := money.Round2(balance.Mul(r))
		principal := money.Round2(cuota.Sub(interest))
		if i == n {
			principal = money.Round2(balance)
		}
		balance = money.Round2(decimal.Max(decimal.Zero, balance.Sub(principal)))
		totalInterest = money.Round2(totalInterest.Add(interest))

		amount := cuota
		if i == n {
			amount = money.Round2(principal.Add(interest))
		}
		lines = append(lines, ScheduleLine{
			Seq:          i,
			DueDate:      dates.Format(due),
			Amount:       amount,
			Interest:     interest,
			Principal:    principal,
			BalanceAfter: balance,
		})
		due = dates.NextMonth(due, payDay)
	}

	return Schedule{
		InstallmentAmount: cuota,
		FirstDueDate:      lines[0].DueDate,
		TotalInterest:     totalInterest,
		Lines:             lines,
	}
}
