package netting

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mvallecillo/hogarfin/pkg/dates"
	"github.com/mvallecillo/hogarfin/pkg/models"
	"github.com/mvallecillo/hogarfin/pkg/money"
	"github.com/mvallecillo/hogarfin/pkg/store"
)

const defaultLockWait = 15 * time.Second

// Service is the shared-expense subsystem: person registry, debts with
// partial payments, net balances and settlement plans.
type Service struct {
	store    store.Store
	locks    store.Locker
	log      *logrus.Logger
	lockWait time.Duration
	now      func() time.Time
}

// NewService builds the netting service and makes sure its collections
// exist.
func NewService(st store.Store, locks store.Locker, log *logrus.Logger) (*Service, error) {
	if log == nil {
		log = logrus.New()
	}
	s := &Service{
		store:    st,
		locks:    locks,
		log:      log,
		lockWait: defaultLockWait,
		now:      time.Now,
	}
	for col, fields := range map[string][]string{
		ColPersons:       personFieldNames,
		ColDebts:         debtFieldNames,
		ColDebtPayments:  debtPaymentFieldNames,
		ColFixedExpenses: fixedExpenseFieldNames,
	} {
		if err := st.EnsureCollection(col, fields); err != nil {
			return nil, fmt.Errorf("failed to ensure %s: %w", col, err)
		}
	}
	return s, nil
}

// SetLockWait overrides the advisory-lock wait bound.
func (s *Service) SetLockWait(d time.Duration) {
	if d > 0 {
		s.lockWait = d
	}
}

// acquireDebtsLock serializes debt mutations. Debts and their payments
// form one consistency unit under a single lock.
func (s *Service) acquireDebtsLock() (func(), error) {
	return s.locks.Acquire(ColDebts, s.lockWait)
}

// SavePerson registers or renames a person. An empty id allocates one.
func (s *Service) SavePerson(p models.Person) (models.Person, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return models.Person{}, models.Validationf("person name is required")
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
		p.Active = true
	}
	if err := s.store.UpsertRecord(ColPersons, p.ID, personToFields(p)); err != nil {
		return models.Person{}, err
	}
	if err := s.store.Flush(); err != nil {
		return models.Person{}, err
	}
	return p, nil
}

// ListPersons returns every registered person in insertion order.
func (s *Service) ListPersons() ([]models.Person, error) {
	recs, err := s.store.ListRecords(ColPersons)
	if err != nil {
		return nil, err
	}
	people := make([]models.Person, 0, len(recs))
	for _, rec := range recs {
		people = append(people, personFromRecord(rec))
	}
	return people, nil
}

func (s *Service) directory() (*Directory, error) {
	people, err := s.ListPersons()
	if err != nil {
		return nil, err
	}
	return NewDirectory(people), nil
}

// DebtSpec is the input for recording a shared expense. Debtor and
// creditor may be given by id or by free-text name.
type DebtSpec struct {
	ID           string          `json:"id"`
	Category     string          `json:"category"`
	Date         string          `json:"date"`
	DebtorID     string          `json:"debtor_id"`
	DebtorName   string          `json:"debtor_name"`
	CreditorID   string          `json:"creditor_id"`
	CreditorName string          `json:"creditor_name"`
	Description  string          `json:"description"`
	Amount       decimal.Decimal `json:"amount"`
	By           string          `json:"by"`
}

// SaveDebt records a debt, or updates one that has no payments yet.
func (s *Service) SaveDebt(spec DebtSpec) (*models.Debt, error) {
	if spec.Amount.Sign() <= 0 {
		return nil, models.Validationf("debt amount must be greater than zero")
	}
	dir, err := s.directory()
	if err != nil {
		return nil, err
	}
	debtor := dir.Resolve(spec.DebtorID, spec.DebtorName)
	creditor := dir.Resolve(spec.CreditorID, spec.CreditorName)
	if debtor.Key == "" || creditor.Key == "" {
		return nil, models.Validationf("both debtor and creditor are required")
	}
	if debtor.Key == creditor.Key {
		return nil, models.Validationf("debtor and creditor cannot be the same person")
	}
	if spec.Date == "" {
		spec.Date = dates.Format(s.now())
	} else {
		spec.Date = dates.NormalizeISO(spec.Date)
	}

	release, err := s.acquireDebtsLock()
	if err != nil {
		return nil, err
	}
	defer release()

	debt := &models.Debt{
		ID:        uuid.New(),
		CreatedBy: spec.By,
		CreatedAt: dates.FormatDateTime(s.now()),
	}
	if spec.ID != "" {
		prev, err := s.loadDebt(spec.ID)
		if err != nil {
			return nil, err
		}
		payments, err := s.loadDebtPayments(spec.ID)
		if err != nil {
			return nil, err
		}
		if len(payments) > 0 {
			return nil, models.Conflictf("debt %s already has payments and cannot be edited", spec.ID)
		}
		debt.ID = prev.ID
		debt.CreatedBy = prev.CreatedBy
		debt.CreatedAt = prev.CreatedAt
	}

	debt.Category = strings.TrimSpace(spec.Category)
	debt.Date = spec.Date
	debt.DebtorName = debtor.Name
	debt.CreditorName = creditor.Name
	debt.Description = strings.TrimSpace(spec.Description)
	debt.Amount = money.Round2(spec.Amount)
	if debtor.Known {
		debt.DebtorID = debtor.Key
	}
	if creditor.Known {
		debt.CreditorID = creditor.Key
	}

	if err := s.store.UpsertRecord(ColDebts, debt.ID.String(), debtToFields(debt)); err != nil {
		return nil, err
	}
	if err := s.store.Flush(); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"debt_id":  debt.ID.String(),
		"debtor":   debtor.Key,
		"creditor": creditor.Key,
		"amount":   money.String(debt.Amount),
	}).Info("Debt saved")
	return debt, nil
}

// DeleteDebt removes a debt and its payments.
func (s *Service) DeleteDebt(id string) error {
	release, err := s.acquireDebtsLock()
	if err != nil {
		return err
	}
	defer release()

	if _, err := s.loadDebt(id); err != nil {
		return err
	}
	payments, err := s.loadDebtPayments(id)
	if err != nil {
		return err
	}
	for _, p := range payments {
		if err := s.store.DeleteRecord(ColDebtPayments, p.ID.String()); err != nil {
			return err
		}
	}
	if err := s.store.DeleteRecord(ColDebts, id); err != nil {
		return err
	}
	return s.store.Flush()
}

// DebtPaymentRequest is one partial payment against a debt.
type DebtPaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	PaidOn string          `json:"paid_on"`
	Note   string          `json:"note"`
	By     string          `json:"by"`
}

// RegisterDebtPayment appends a partial payment. Paying more than the
// remaining balance is rejected; debts have no credit concept.
func (s *Service) RegisterDebtPayment(debtID string, req DebtPaymentRequest) (*models.DebtPayment, error) {
	amount := money.Round2(req.Amount)
	if amount.Sign() <= 0 {
		return nil, models.Validationf("payment amount must be greater than zero")
	}
	paidOn := dates.Format(s.now())
	if req.PaidOn != "" {
		paidOn = dates.NormalizeISO(req.PaidOn)
		if _, ok := dates.Parse(paidOn); !ok {
			return nil, models.Validationf("invalid payment date %q", req.PaidOn)
		}
	}

	release, err := s.acquireDebtsLock()
	if err != nil {
		return nil, err
	}
	defer release()

	debt, err := s.loadDebt(debtID)
	if err != nil {
		return nil, err
	}
	payments, err := s.loadDebtPayments(debtID)
	if err != nil {
		return nil, err
	}
	remaining := debt.Amount
	for _, p := range payments {
		remaining = remaining.Sub(p.Amount)
	}
	remaining = money.Round2(remaining)
	if remaining.LessThanOrEqual(settleEps) {
		return nil, models.Conflictf("debt %s is already settled", debtID)
	}
	if amount.Sub(remaining).GreaterThan(settleEps) {
		return nil, models.Validationf("payment %s exceeds the remaining balance %s",
			money.String(amount), money.String(remaining))
	}

	payment := &models.DebtPayment{
		ID:         uuid.New(),
		DebtID:     debt.ID,
		Amount:     amount,
		PaidOn:     paidOn,
		Note:       strings.TrimSpace(req.Note),
		RecordedBy: req.By,
	}
	if err := s.store.UpsertRecord(ColDebtPayments, payment.ID.String(), debtPaymentToFields(payment)); err != nil {
		return nil, err
	}
	if err := s.store.Flush(); err != nil {
		return nil, err
	}
	s.log.Infof("Debt payment of %s registered against %s", money.String(amount), debtID)
	return payment, nil
}

func (s *Service) loadDebt(id string) (*models.Debt, error) {
	recs, err := s.store.ListRecords(ColDebts)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if rec.Key == id {
			return debtFromRecord(rec), nil
		}
	}
	return nil, models.NotFound("debt", id)
}

func (s *Service) loadDebts() ([]*models.Debt, error) {
	recs, err := s.store.ListRecords(ColDebts)
	if err != nil {
		return nil, err
	}
	debts := make([]*models.Debt, 0, len(recs))
	for _, rec := range recs {
		debts = append(debts, debtFromRecord(rec))
	}
	return debts, nil
}

func (s *Service) loadDebtPayments(debtID string) ([]*models.DebtPayment, error) {
	recs, err := s.store.ListRecords(ColDebtPayments)
	if err != nil {
		return nil, err
	}
	var out []*models.DebtPayment
	for _, rec := range recs {
		if rec.Fields["debt_id"] == debtID {
			out = append(out, debtPaymentFromRecord(rec))
		}
	}
	return out, nil
}

// loadAllDebtPayments groups payments by debt id in one pass.
func (s *Service) loadAllDebtPayments() (map[string][]*models.DebtPayment, error) {
	recs, err := s.store.ListRecords(ColDebtPayments)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]*models.DebtPayment)
	for _, rec := range recs {
		p := debtPaymentFromRecord(rec)
		out[p.DebtID.String()] = append(out[p.DebtID.String()], p)
	}
	return out, nil
}

// DebtView is a debt with its derived repayment state.
type DebtView struct {
	models.Debt
	Debtor    PersonRef             `json:"debtor"`
	Creditor  PersonRef             `json:"creditor"`
	PaidTotal decimal.Decimal       `json:"paid_total"`
	Remaining decimal.Decimal       `json:"remaining"`
	Status    models.DebtStatus     `json:"derived_status"`
	Payments  []*models.DebtPayment `json:"payments,omitempty"`
}

// DebtFilter narrows ListDebts and the aggregates built on top of it.
// Empty fields match everything. Month wins over From/To when both are
// given.
type DebtFilter struct {
	Month     string // YYYY-MM
	From      string // YYYY-MM-DD inclusive
	To        string // YYYY-MM-DD inclusive
	Category  string
	PersonKey string // matches either side, id or synthetic key
	Status    models.DebtStatus
	Query     string
}

// dateRange resolves the filter's period into an inclusive ISO range.
func (f DebtFilter) dateRange() (from, to string) {
	if f.Month != "" {
		return dates.MonthRange(f.Month)
	}
	return dates.NormalizeISO(f.From), dates.NormalizeISO(f.To)
}

// ListDebts returns filtered debts with payments folded in, newest
// first.
func (s *Service) ListDebts(filter DebtFilter) ([]DebtView, error) {
	debts, err := s.loadDebts()
	if err != nil {
		return nil, err
	}
	paymentsByDebt, err := s.loadAllDebtPayments()
	if err != nil {
		return nil, err
	}
	dir, err := s.directory()
	if err != nil {
		return nil, err
	}

	from, to := filter.dateRange()
	query := strings.ToLower(strings.TrimSpace(filter.Query))

	views := make([]DebtView, 0, len(debts))
	for _, debt := range debts {
		v := DebtView{
			Debt:     *debt,
			Debtor:   dir.Resolve(debt.DebtorID, debt.DebtorName),
			Creditor: dir.Resolve(debt.CreditorID, debt.CreditorName),
			Payments: paymentsByDebt[debt.ID.String()],
		}
		v.PaidTotal = decimal.Zero
		for _, p := range v.Payments {
			v.PaidTotal = v.PaidTotal.Add(p.Amount)
		}
		v.PaidTotal = money.Round2(v.PaidTotal)
		v.Remaining = money.PosPart(debt.Amount.Sub(v.PaidTotal))
		switch {
		case v.Remaining.LessThanOrEqual(settleEps):
			v.Status = models.DebtPaid
		case v.PaidTotal.Sign() > 0:
			v.Status = models.DebtPartial
		default:
			v.Status = models.DebtPending
		}

		if from != "" && debt.Date < from {
			continue
		}
		if to != "" && debt.Date > to {
			continue
		}
		if filter.Category != "" && !strings.EqualFold(debt.Category, filter.Category) {
			continue
		}
		if filter.PersonKey != "" && v.Debtor.Key != filter.PersonKey && v.Creditor.Key != filter.PersonKey {
			continue
		}
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(debt.Description), query) &&
			!strings.Contains(strings.ToLower(debt.DebtorName), query) &&
			!strings.Contains(strings.ToLower(debt.CreditorName), query) {
			continue
		}
		views = append(views, v)
	}

	sort.Slice(views, func(i, j int) bool {
		if views[i].Date != views[j].Date {
			return views[i].Date > views[j].Date
		}
		return views[i].ID.String() > views[j].ID.String()
	})
	return views, nil
}

// obligations maps every unsettled debt remainder in the filtered scope
// into the netting engine's input, plus the per-person shares of fixed
// expenses falling in the same period.
func (s *Service) obligations(filter DebtFilter) ([]Obligation, error) {
	views, err := s.ListDebts(filter)
	if err != nil {
		return nil, err
	}
	obs := make([]Obligation, 0, len(views))
	for _, v := range views {
		if v.Remaining.LessThanOrEqual(settleEps) {
			continue
		}
		obs = append(obs, Obligation{
			Debtor:   v.Debtor,
			Creditor: v.Creditor,
			Amount:   v.Remaining,
		})
	}
	fixed, err := s.fixedObligations(filter)
	if err != nil {
		return nil, err
	}
	return append(obs, fixed...), nil
}

// PersonBalance is one person's aggregate stance with its gross sides.
type PersonBalance struct {
	Ref  PersonRef       `json:"person"`
	Owes decimal.Decimal `json:"owes"`
	Owed decimal.Decimal `json:"owed"`
	Net  decimal.Decimal `json:"net"`
}

// BalanceByPerson returns every person's net position plus the gross
// totals behind it, sorted by net descending. The filter scopes which
// debts and fixed-expense months enter the fold.
func (s *Service) BalanceByPerson(filter DebtFilter) ([]PersonBalance, error) {
	obs, err := s.obligations(filter)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]*PersonBalance)
	order := make([]string, 0)
	get := func(ref PersonRef) *PersonBalance {
		if b, ok := byKey[ref.Key]; ok {
			return b
		}
		b := &PersonBalance{Ref: ref, Owes: decimal.Zero, Owed: decimal.Zero}
		byKey[ref.Key] = b
		order = append(order, ref.Key)
		return b
	}
	for _, ob := range obs {
		get(ob.Debtor).Owes = get(ob.Debtor).Owes.Add(ob.Amount)
		get(ob.Creditor).Owed = get(ob.Creditor).Owed.Add(ob.Amount)
	}

	out := make([]PersonBalance, 0, len(order))
	for _, key := range order {
		b := byKey[key]
		b.Owes = money.Round2(b.Owes)
		b.Owed = money.Round2(b.Owed)
		b.Net = money.Round2(b.Owed.Sub(b.Owes))
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Net.Equal(out[j].Net) {
			return out[i].Net.GreaterThan(out[j].Net)
		}
		return out[i].Ref.Key < out[j].Ref.Key
	})
	return out, nil
}

// SettlementResult is a settlement plan plus its grand total.
type SettlementResult struct {
	Positions []Position      `json:"positions"`
	Transfers []Transfer      `json:"transfers"`
	Complete  bool            `json:"complete"`
	Total     decimal.Decimal `json:"total"`
}

// SettlementPlan nets the open debts in the filtered scope and proposes
// the transfers that settle them. The plan is always computed over the
// whole household in scope; a non-empty personKey then narrows the
// reported transfers to the ones that person takes part in, so their
// view stays consistent with the global plan.
func (s *Service) SettlementPlan(filter DebtFilter, personKey string) (*SettlementResult, error) {
	obs, err := s.obligations(filter)
	if err != nil {
		return nil, err
	}

	positions := NetBalances(obs)
	plan := Settle(positions)
	if personKey != "" {
		filtered := plan.Transfers[:0]
		for _, t := range plan.Transfers {
			if t.From.Key == personKey || t.To.Key == personKey {
				filtered = append(filtered, t)
			}
		}
		plan.Transfers = filtered
	}
	total := decimal.Zero
	for _, t := range plan.Transfers {
		total = total.Add(t.Amount)
	}
	return &SettlementResult{
		Positions: positions,
		Transfers: plan.Transfers,
		Complete:  plan.Complete,
		Total:     money.Round2(total),
	}, nil
}
