package ledger

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mvallecillo/hogarfin/pkg/money"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestInstallmentAmount(t *testing.T) {
	cases := []struct {
		principal string
		rate      string
		months    int
		want      string
	}{
		{"1200", "0", 12, "100"},
		{"1000", "0", 1, "1000"},
		{"1000", "0.02", 12, "94.56"},
		{"500", "0.015", 6, "87.76"},
	}
	for _, c := range cases {
		got := InstallmentAmount(dec(c.principal), dec(c.rate), c.months)
		if got.String() != c.want {
			t.Errorf("InstallmentAmount(%s, %s, %d) = %s, want %s",
				c.principal, c.rate, c.months, got, c.want)
		}
	}
}

func TestBuildSchedule_PrincipalSumsExactly(t *testing.T) {
	cases := []struct {
		principal string
		months    int
		rate      string
	}{
		{"1000", 12, "0.02"},
		{"999.99", 7, "0.035"},
		{"500", 3, "0"},
		{"123.45", 1, "0.05"},
	}
	for _, c := range cases {
		sched := BuildSchedule(dec(c.principal), c.months, dec(c.rate), "2026-01-10", 15)
		if len(sched.Lines) != c.months {
			t.Fatalf("%s/%d: expected %d lines, got %d", c.principal, c.months, c.months, len(sched.Lines))
		}
		sum := decimal.Zero
		for _, line := range sched.Lines {
			sum = sum.Add(line.Principal)
		}
		if !sum.Equal(dec(c.principal)) {
			t.Errorf("%s over %d months: principal components sum to %s", c.principal, c.months, sum)
		}
		last := sched.Lines[len(sched.Lines)-1]
		if !last.BalanceAfter.IsZero() {
			t.Errorf("%s over %d months: final balance %s, want 0", c.principal, c.months, last.BalanceAfter)
		}
	}
}

func TestBuildSchedule_DueDates(t *testing.T) {
	sched := BuildSchedule(dec("300"), 3, dec("0"), "2026-11-20", 15)
	want := []string{"2026-12-15", "2027-01-15", "2027-02-15"}
	for i, line := range sched.Lines {
		if line.DueDate != want[i] {
			t.Errorf("installment %d due %s, want %s", line.Seq, line.DueDate, want[i])
		}
	}
	if sched.FirstDueDate != want[0] {
		t.Errorf("FirstDueDate = %s, want %s", sched.FirstDueDate, want[0])
	}
}

func TestBuildSchedule_InterestDeclines(t *testing.T) {
	sched := BuildSchedule(dec("1000"), 12, dec("0.02"), "2026-01-10", 15)
	first := sched.Lines[0]
	if first.Interest.String() != "20" {
		t.Errorf("First interest = %s, want 20", first.Interest)
	}
	if first.Principal.String() != "74.56" {
		t.Errorf("First principal = %s, want 74.56", first.Principal)
	}
	for i := 1; i < len(sched.Lines); i++ {
		if sched.Lines[i].Interest.GreaterThan(sched.Lines[i-1].Interest) {
			t.Errorf("Interest rose at installment %d", sched.Lines[i].Seq)
		}
	}
	// Total payable stays within a cent per installment of cuota * n.
	total := money.Round2(sched.TotalInterest.Add(dec("1000")))
	approx := sched.InstallmentAmount.Mul(decimal.NewFromInt(12))
	if total.Sub(approx).Abs().GreaterThan(decimal.NewFromFloat(0.12)) {
		t.Errorf("Total payable %s too far from %s", total, approx)
	}
}

func TestClampPaymentDay(t *testing.T) {
	if got := ClampPaymentDay(0); got != 1 {
		t.Errorf("ClampPaymentDay(0) = %d", got)
	}
	if got := ClampPaymentDay(31); got != 28 {
		t.Errorf("ClampPaymentDay(31) = %d", got)
	}
	if got := ClampPaymentDay(15); got != 15 {
		t.Errorf("ClampPaymentDay(15) = %d", got)
	}
}
