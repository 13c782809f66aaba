package ledger

import (
	"encoding/json"
	"strconv"

	"github.com/google/uuid"

	"github.com/mvallecillo/hogarfin/pkg/dates"
	"github.com/mvallecillo/hogarfin/pkg/models"
	"github.com/mvallecillo/hogarfin/pkg/money"
	"github.com/mvallecillo/hogarfin/pkg/store"
)

// Collection names in the tabular store.
const (
	ColLoans        = "loans"
	ColInstallments = "loan_installments"
	ColPayments     = "loan_payments"
)

var loanFieldNames = []string{
	"id", "origin", "person_id", "person_name", "principal", "term_months",
	"monthly_rate", "penalty_mode", "penalty_monthly_rate", "fee_type",
	"fee_value", "fee_amount", "disbursed_on", "disbursed_at",
	"disburse_method", "disburse_ref", "disburse_note", "first_due_date",
	"payment_day", "installment_amount", "total_interest", "total_payable",
	"status", "created_by", "created_at", "updated_by", "updated_at",
}

var installmentFieldNames = []string{
	"id", "loan_id", "seq", "due_date", "amount", "interest", "principal",
	"balance_after", "interest_paid", "principal_paid", "penalty_accrued",
	"penalty_paid", "penalty_through", "status", "created_at", "updated_at",
}

var paymentFieldNames = []string{
	"id", "loan_id", "paid_at", "amount", "method", "reference", "note",
	"penalty", "interest", "principal", "credit", "applied",
}

func newUUID() uuid.UUID {
	return uuid.New()
}

func parseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func parseInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func loanToFields(l *models.Loan) map[string]string {
	return map[string]string{
		"id":                   l.ID.String(),
		"origin":               string(l.Origin),
		"person_id":            l.PersonID,
		"person_name":          l.PersonName,
		"principal":            money.String(l.Principal),
		"term_months":          strconv.Itoa(l.TermMonths),
		"monthly_rate":         l.MonthlyRate.String(),
		"penalty_mode":         string(l.PenaltyMode),
		"penalty_monthly_rate": l.PenaltyMonthlyRate.String(),
		"fee_type":             string(l.FeeType),
		"fee_value":            l.FeeValue.String(),
		"fee_amount":           money.String(l.FeeAmount),
		"disbursed_on":         l.DisbursedOn,
		"disbursed_at":         l.DisbursedAt,
		"disburse_method":      l.DisburseMethod,
		"disburse_ref":         l.DisburseRef,
		"disburse_note":        l.DisburseNote,
		"first_due_date":       l.FirstDueDate,
		"payment_day":          strconv.Itoa(l.PaymentDay),
		"installment_amount":   money.String(l.InstallmentAmount),
		"total_interest":       money.String(l.TotalInterest),
		"total_payable":        money.String(l.TotalPayable),
		"status":               string(l.Status),
		"created_by":           l.CreatedBy,
		"created_at":           l.CreatedAt,
		"updated_by":           l.UpdatedBy,
		"updated_at":           l.UpdatedAt,
	}
}

func loanFromRecord(rec store.Record) *models.Loan {
	f := rec.Fields
	return &models.Loan{
		ID:                 parseUUID(f["id"]),
		Origin:             models.Origin(f["origin"]),
		PersonID:           f["person_id"],
		PersonName:         f["person_name"],
		Principal:          money.Parse(f["principal"]),
		TermMonths:         parseInt(f["term_months"]),
		MonthlyRate:        money.Parse(f["monthly_rate"]),
		PenaltyMode:        models.PenaltyMode(f["penalty_mode"]),
		PenaltyMonthlyRate: money.Parse(f["penalty_monthly_rate"]),
		FeeType:            models.FeeType(f["fee_type"]),
		FeeValue:           money.Parse(f["fee_value"]),
		FeeAmount:          money.Parse(f["fee_amount"]),
		DisbursedOn:        dates.NormalizeISO(f["disbursed_on"]),
		DisbursedAt:        f["disbursed_at"],
		DisburseMethod:     f["disburse_method"],
		DisburseRef:        f["disburse_ref"],
		DisburseNote:       f["disburse_note"],
		FirstDueDate:       dates.NormalizeISO(f["first_due_date"]),
		PaymentDay:         parseInt(f["payment_day"]),
		InstallmentAmount:  money.Parse(f["installment_amount"]),
		TotalInterest:      money.Parse(f["total_interest"]),
		TotalPayable:       money.Parse(f["total_payable"]),
		Status:             models.LoanStatus(f["status"]),
		CreatedBy:          f["created_by"],
		CreatedAt:          f["created_at"],
		UpdatedBy:          f["updated_by"],
		UpdatedAt:          f["updated_at"],
	}
}

func installmentToFields(inst *models.Installment) map[string]string {
	return map[string]string{
		"id":              inst.ID.String(),
		"loan_id":         inst.LoanID.String(),
		"seq":             strconv.Itoa(inst.Seq),
		"due_date":        inst.DueDate,
		"amount":          money.String(inst.Amount),
		"interest":        money.String(inst.Interest),
		"principal":       money.String(inst.Principal),
		"balance_after":   money.String(inst.BalanceAfter),
		"interest_paid":   money.String(inst.InterestPaid),
		"principal_paid":  money.String(inst.PrincipalPaid),
		"penalty_accrued": money.String(inst.PenaltyAccrued),
		"penalty_paid":    money.String(inst.PenaltyPaid),
		"penalty_through": inst.PenaltyThrough,
		"status":          string(inst.Status),
		"created_at":      inst.CreatedAt,
		"updated_at":      inst.UpdatedAt,
	}
}

func installmentFromRecord(rec store.Record) *models.Installment {
	f := rec.Fields
	inst := &models.Installment{
		ID:             parseUUID(f["id"]),
		LoanID:         parseUUID(f["loan_id"]),
		Seq:            parseInt(f["seq"]),
		DueDate:        dates.NormalizeISO(f["due_date"]),
		Amount:         money.Parse(f["amount"]),
		Interest:       money.Parse(f["interest"]),
		Principal:      money.Parse(f["principal"]),
		BalanceAfter:   money.Parse(f["balance_after"]),
		InterestPaid:   money.Parse(f["interest_paid"]),
		PrincipalPaid:  money.Parse(f["principal_paid"]),
		PenaltyAccrued: money.Parse(f["penalty_accrued"]),
		PenaltyPaid:    money.Parse(f["penalty_paid"]),
		PenaltyThrough: dates.NormalizeISO(f["penalty_through"]),
		Status:         models.InstallmentStatus(f["status"]),
		CreatedAt:      f["created_at"],
		UpdatedAt:      f["updated_at"],
	}
	if inst.PenaltyThrough == "" {
		inst.PenaltyThrough = inst.DueDate
	}
	return inst
}

func paymentToFields(p *models.Payment) map[string]string {
	applied, _ := json.Marshal(p.Applied)
	return map[string]string{
		"id":        p.ID.String(),
		"loan_id":   p.LoanID.String(),
		"paid_at":   p.PaidAt,
		"amount":    money.String(p.Amount),
		"method":    p.Method,
		"reference": p.Reference,
		"note":      p.Note,
		"penalty":   money.String(p.Penalty),
		"interest":  money.String(p.Interest),
		"principal": money.String(p.Principal),
		"credit":    money.String(p.Credit),
		"applied":   string(applied),
	}
}

func paymentFromRecord(rec store.Record) *models.Payment {
	f := rec.Fields
	p := &models.Payment{
		ID:        parseUUID(f["id"]),
		LoanID:    parseUUID(f["loan_id"]),
		PaidAt:    f["paid_at"],
		Amount:    money.Parse(f["amount"]),
		Method:    f["method"],
		Reference: f["reference"],
		Note:      f["note"],
		Penalty:   money.Parse(f["penalty"]),
		Interest:  money.Parse(f["interest"]),
		Principal: money.Parse(f["principal"]),
		Credit:    money.Parse(f["credit"]),
	}
	if raw := f["applied"]; raw != "" {
		// Tolerate a damaged snapshot: the breakdown totals above remain
		// usable even if the per-installment detail cannot be decoded.
		_ = json.Unmarshal([]byte(raw), &p.Applied)
	}
	return p
}
