package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LoanStatus is the loan header status. Draft, cancelled and rejected are
// administrative and only ever set by a user action; active and finalized
// are derived from balances and merely cached on the header.
type LoanStatus string

const (
	LoanDraft     LoanStatus = "draft"
	LoanApproved  LoanStatus = "approved"
	LoanActive    LoanStatus = "active"
	LoanFinalized LoanStatus = "finalized"
	LoanCancelled LoanStatus = "cancelled"
	LoanRejected  LoanStatus = "rejected"
)

// Origin distinguishes loans the household requested from a third party
// from loans it granted to someone. Granted loans require a registered
// disbursement before payments are accepted.
type Origin string

const (
	OriginRequested Origin = "requested"
	OriginGranted   Origin = "granted"
)

// PenaltyMode selects how the arrears rate is derived from the nominal
// monthly rate.
type PenaltyMode string

const (
	PenaltyManual PenaltyMode = "manual" // explicit rate
	PenaltyPlus25 PenaltyMode = "plus25" // 1.25x nominal
	PenaltyPlus50 PenaltyMode = "plus50" // 1.5x nominal
)

// FeeType selects how the administrative fee is computed.
type FeeType string

const (
	FeeFlat    FeeType = "flat"
	FeePercent FeeType = "percent" // percent of principal
)

// InstallmentStatus is derived from balances and dates on every read; the
// stored value is only a cache.
type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentOverdue InstallmentStatus = "overdue"
	InstallmentPaid    InstallmentStatus = "paid"
)

// DebtStatus is derived from a debt's amount and its partial payments.
type DebtStatus string

const (
	DebtPending DebtStatus = "pending"
	DebtPartial DebtStatus = "partial"
	DebtPaid    DebtStatus = "paid"
)

// Loan is a loan header. The installment amount and interest totals are
// computed once when the schedule is generated and stay fixed until the
// schedule is regenerated, which is forbidden once any payment exists.
type Loan struct {
	ID                 uuid.UUID       `json:"id"`
	Origin             Origin          `json:"origin"`
	PersonID           string          `json:"person_id"`
	PersonName         string          `json:"person_name"`
	Principal          decimal.Decimal `json:"principal"`
	TermMonths         int             `json:"term_months"`
	MonthlyRate        decimal.Decimal `json:"monthly_rate"`
	PenaltyMode        PenaltyMode     `json:"penalty_mode"`
	PenaltyMonthlyRate decimal.Decimal `json:"penalty_monthly_rate"`
	FeeType            FeeType         `json:"fee_type"`
	FeeValue           decimal.Decimal `json:"fee_value"`
	FeeAmount          decimal.Decimal `json:"fee_amount"`
	DisbursedOn        string          `json:"disbursed_on,omitempty"` // YYYY-MM-DD, empty until disbursed
	DisbursedAt        string          `json:"disbursed_at,omitempty"`
	DisburseMethod     string          `json:"disburse_method,omitempty"`
	DisburseRef        string          `json:"disburse_ref,omitempty"`
	DisburseNote       string          `json:"disburse_note,omitempty"`
	FirstDueDate       string          `json:"first_due_date,omitempty"`
	PaymentDay         int             `json:"payment_day"` // 1-28
	InstallmentAmount  decimal.Decimal `json:"installment_amount"`
	TotalInterest      decimal.Decimal `json:"total_interest"`
	TotalPayable       decimal.Decimal `json:"total_payable"`
	Status             LoanStatus      `json:"status"`
	CreatedBy          string          `json:"created_by,omitempty"`
	CreatedAt          string          `json:"created_at,omitempty"`
	UpdatedBy          string          `json:"updated_by,omitempty"`
	UpdatedAt          string          `json:"updated_at,omitempty"`
}

// Installment is one scheduled repayment of a loan. Interest, Principal
// and Amount are the scheduled portions; the *Paid fields accumulate
// waterfall allocations and never exceed their scheduled counterparts.
// PenaltyThrough is the date up to which arrears have already been
// accrued, which prevents the same span from accruing twice.
type Installment struct {
	ID             uuid.UUID         `json:"id"`
	LoanID         uuid.UUID         `json:"loan_id"`
	Seq            int               `json:"seq"`
	DueDate        string            `json:"due_date"`
	Amount         decimal.Decimal   `json:"amount"`
	Interest       decimal.Decimal   `json:"interest"`
	Principal      decimal.Decimal   `json:"principal"`
	BalanceAfter   decimal.Decimal   `json:"balance_after"`
	InterestPaid   decimal.Decimal   `json:"interest_paid"`
	PrincipalPaid  decimal.Decimal   `json:"principal_paid"`
	PenaltyAccrued decimal.Decimal   `json:"penalty_accrued"`
	PenaltyPaid    decimal.Decimal   `json:"penalty_paid"`
	PenaltyThrough string            `json:"penalty_through"`
	Status         InstallmentStatus `json:"status"`
	CreatedAt      string            `json:"created_at,omitempty"`
	UpdatedAt      string            `json:"updated_at,omitempty"`
}

// InstallmentAllocation records how much of one payment went to one
// installment, split by balance category.
type InstallmentAllocation struct {
	InstallmentID uuid.UUID       `json:"installment_id"`
	Seq           int             `json:"seq"`
	Penalty       decimal.Decimal `json:"penalty"`
	Interest      decimal.Decimal `json:"interest"`
	Principal     decimal.Decimal `json:"principal"`
}

// AllocationBreakdown is the full waterfall result for one payment
// amount. The conservation invariant is
// Penalty + Interest + Principal + Credit == Amount.
type AllocationBreakdown struct {
	Amount    decimal.Decimal         `json:"amount"`
	Penalty   decimal.Decimal         `json:"penalty"`
	Interest  decimal.Decimal         `json:"interest"`
	Principal decimal.Decimal         `json:"principal"`
	Credit    decimal.Decimal         `json:"credit"`
	Applied   []InstallmentAllocation `json:"applied"`
}

// Payment is one append-only ledger entry against a loan. The allocation
// snapshot is stored with the payment so the ledger can always be
// replayed.
type Payment struct {
	ID        uuid.UUID               `json:"id"`
	LoanID    uuid.UUID               `json:"loan_id"`
	PaidAt    string                  `json:"paid_at"`
	Amount    decimal.Decimal         `json:"amount"`
	Method    string                  `json:"method,omitempty"`
	Reference string                  `json:"reference,omitempty"`
	Note      string                  `json:"note,omitempty"`
	Penalty   decimal.Decimal         `json:"penalty"`
	Interest  decimal.Decimal         `json:"interest"`
	Principal decimal.Decimal         `json:"principal"`
	Credit    decimal.Decimal         `json:"credit"`
	Applied   []InstallmentAllocation `json:"applied,omitempty"`
}

// Debt is a variable expense: debtor owes creditor the amount, reduced by
// zero or more partial payments.
type Debt struct {
	ID           uuid.UUID       `json:"id"`
	Category     string          `json:"category"`
	Date         string          `json:"date"`
	DebtorID     string          `json:"debtor_id"`
	DebtorName   string          `json:"debtor_name"`
	CreditorID   string          `json:"creditor_id"`
	CreditorName string          `json:"creditor_name"`
	Description  string          `json:"description,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	CreatedBy    string          `json:"created_by,omitempty"`
	CreatedAt    string          `json:"created_at,omitempty"`
}

// DebtPayment is one partial payment against a debt.
type DebtPayment struct {
	ID         uuid.UUID       `json:"id"`
	DebtID     uuid.UUID       `json:"debt_id"`
	Amount     decimal.Decimal `json:"amount"`
	PaidOn     string          `json:"paid_on"`
	Note       string          `json:"note,omitempty"`
	RecordedBy string          `json:"recorded_by,omitempty"`
}

// Person is the stable identity used for both loan ownership and debt
// aggregation.
type Person struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// FixedExpense is a recurring monthly cost one person fronts for the
// household (rent, utilities). Each month inside its active window the
// amount is split equally across the active persons and everyone except
// the payer owes the payer their share.
type FixedExpense struct {
	ID         uuid.UUID       `json:"id"`
	Name       string          `json:"name"`
	Category   string          `json:"category,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	PayerID    string          `json:"payer_id"`
	PayerName  string          `json:"payer_name"`
	StartMonth string          `json:"start_month"`
	EndMonth   string          `json:"end_month,omitempty"`
	CreatedBy  string          `json:"created_by,omitempty"`
	CreatedAt  string          `json:"created_at,omitempty"`
}
