package netting

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/mvallecillo/hogarfin/pkg/dates"
	"github.com/mvallecillo/hogarfin/pkg/models"
	"github.com/mvallecillo/hogarfin/pkg/money"
	"github.com/mvallecillo/hogarfin/pkg/store"
)

// Collection names in the tabular store.
const (
	ColPersons       = "persons"
	ColDebts         = "debts"
	ColDebtPayments  = "debt_payments"
	ColFixedExpenses = "fixed_expenses"
)

var personFieldNames = []string{"id", "name", "active"}

var debtFieldNames = []string{
	"id", "category", "date", "debtor_id", "debtor_name", "creditor_id",
	"creditor_name", "description", "amount", "created_by", "created_at",
}

var debtPaymentFieldNames = []string{
	"id", "debt_id", "amount", "paid_on", "note", "recorded_by",
}

var fixedExpenseFieldNames = []string{
	"id", "name", "category", "amount", "payer_id", "payer_name",
	"start_month", "end_month", "created_by", "created_at",
}

func parseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func personToFields(p models.Person) map[string]string {
	return map[string]string{
		"id":     p.ID,
		"name":   p.Name,
		"active": strconv.FormatBool(p.Active),
	}
}

func personFromRecord(rec store.Record) models.Person {
	f := rec.Fields
	active, err := strconv.ParseBool(f["active"])
	if err != nil {
		active = true
	}
	return models.Person{ID: f["id"], Name: f["name"], Active: active}
}

func debtToFields(d *models.Debt) map[string]string {
	return map[string]string{
		"id":            d.ID.String(),
		"category":      d.Category,
		"date":          d.Date,
		"debtor_id":     d.DebtorID,
		"debtor_name":   d.DebtorName,
		"creditor_id":   d.CreditorID,
		"creditor_name": d.CreditorName,
		"description":   d.Description,
		"amount":        money.String(d.Amount),
		"created_by":    d.CreatedBy,
		"created_at":    d.CreatedAt,
	}
}

func debtFromRecord(rec store.Record) *models.Debt {
	f := rec.Fields
	return &models.Debt{
		ID:           parseUUID(f["id"]),
		Category:     f["category"],
		Date:         dates.NormalizeISO(f["date"]),
		DebtorID:     f["debtor_id"],
		DebtorName:   f["debtor_name"],
		CreditorID:   f["creditor_id"],
		CreditorName: f["creditor_name"],
		Description:  f["description"],
		Amount:       money.Parse(f["amount"]),
		CreatedBy:    f["created_by"],
		CreatedAt:    f["created_at"],
	}
}

func debtPaymentToFields(p *models.DebtPayment) map[string]string {
	return map[string]string{
		"id":          p.ID.String(),
		"debt_id":     p.DebtID.String(),
		"amount":      money.String(p.Amount),
		"paid_on":     p.PaidOn,
		"note":        p.Note,
		"recorded_by": p.RecordedBy,
	}
}

func debtPaymentFromRecord(rec store.Record) *models.DebtPayment {
	f := rec.Fields
	return &models.DebtPayment{
		ID:         parseUUID(f["id"]),
		DebtID:     parseUUID(f["debt_id"]),
		Amount:     money.Parse(f["amount"]),
		PaidOn:     dates.NormalizeISO(f["paid_on"]),
		Note:       f["note"],
		RecordedBy: f["recorded_by"],
	}
}

func fixedExpenseToFields(e *models.FixedExpense) map[string]string {
	return map[string]string{
		"id":          e.ID.String(),
		"name":        e.Name,
		"category":    e.Category,
		"amount":      money.String(e.Amount),
		"payer_id":    e.PayerID,
		"payer_name":  e.PayerName,
		"start_month": e.StartMonth,
		"end_month":   e.EndMonth,
		"created_by":  e.CreatedBy,
		"created_at":  e.CreatedAt,
	}
}

func fixedExpenseFromRecord(rec store.Record) *models.FixedExpense {
	f := rec.Fields
	return &models.FixedExpense{
		ID:         parseUUID(f["id"]),
		Name:       f["name"],
		Category:   f["category"],
		Amount:     money.Parse(f["amount"]),
		PayerID:    f["payer_id"],
		PayerName:  f["payer_name"],
		StartMonth: dates.NormalizeMonth(f["start_month"]),
		EndMonth:   dates.NormalizeMonth(f["end_month"]),
		CreatedBy:  f["created_by"],
		CreatedAt:  f["created_at"],
	}
}
