package netting

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mvallecillo/hogarfin/pkg/dates"
	"github.com/mvallecillo/hogarfin/pkg/models"
	"github.com/mvallecillo/hogarfin/pkg/money"
)

// FixedExpenseSpec is the input for recording a recurring household
// expense. The payer may be given by id or by free-text name.
type FixedExpenseSpec struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Category   string          `json:"category"`
	Amount     decimal.Decimal `json:"amount"`
	PayerID    string          `json:"payer_id"`
	PayerName  string          `json:"payer_name"`
	StartMonth string          `json:"start_month"`
	EndMonth   string          `json:"end_month"`
	By         string          `json:"by"`
}

// SaveFixedExpense records or updates a recurring expense. An empty
// start month begins in the current month; an empty end month leaves
// the expense open.
func (s *Service) SaveFixedExpense(spec FixedExpenseSpec) (*models.FixedExpense, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, models.Validationf("fixed expense name is required")
	}
	if spec.Amount.Sign() <= 0 {
		return nil, models.Validationf("fixed expense amount must be greater than zero")
	}
	dir, err := s.directory()
	if err != nil {
		return nil, err
	}
	payer := dir.Resolve(spec.PayerID, spec.PayerName)
	if payer.Key == "" {
		return nil, models.Validationf("fixed expense payer is required")
	}
	start := dates.NormalizeMonth(spec.StartMonth)
	if start == "" {
		if spec.StartMonth != "" {
			return nil, models.Validationf("invalid start month %q", spec.StartMonth)
		}
		start = s.now().Format("2006-01")
	}
	end := dates.NormalizeMonth(spec.EndMonth)
	if end == "" && spec.EndMonth != "" {
		return nil, models.Validationf("invalid end month %q", spec.EndMonth)
	}
	if end != "" && end < start {
		return nil, models.Validationf("end month %s precedes start month %s", end, start)
	}

	release, err := s.acquireDebtsLock()
	if err != nil {
		return nil, err
	}
	defer release()

	expense := &models.FixedExpense{
		ID:        uuid.New(),
		CreatedBy: spec.By,
		CreatedAt: dates.FormatDateTime(s.now()),
	}
	if spec.ID != "" {
		prev, err := s.loadFixedExpense(spec.ID)
		if err != nil {
			return nil, err
		}
		expense.ID = prev.ID
		expense.CreatedBy = prev.CreatedBy
		expense.CreatedAt = prev.CreatedAt
	}
	expense.Name = name
	expense.Category = strings.TrimSpace(spec.Category)
	expense.Amount = money.Round2(spec.Amount)
	expense.PayerName = payer.Name
	if payer.Known {
		expense.PayerID = payer.Key
	}
	expense.StartMonth = start
	expense.EndMonth = end

	if err := s.store.UpsertRecord(ColFixedExpenses, expense.ID.String(), fixedExpenseToFields(expense)); err != nil {
		return nil, err
	}
	if err := s.store.Flush(); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"fixed_expense_id": expense.ID.String(),
		"payer":            payer.Key,
		"amount":           money.String(expense.Amount),
	}).Info("Fixed expense saved")
	return expense, nil
}

// DeleteFixedExpense removes a recurring expense.
func (s *Service) DeleteFixedExpense(id string) error {
	release, err := s.acquireDebtsLock()
	if err != nil {
		return err
	}
	defer release()

	if _, err := s.loadFixedExpense(id); err != nil {
		return err
	}
	if err := s.store.DeleteRecord(ColFixedExpenses, id); err != nil {
		return err
	}
	return s.store.Flush()
}

// ListFixedExpenses returns every recurring expense, newest start month
// first.
func (s *Service) ListFixedExpenses() ([]*models.FixedExpense, error) {
	recs, err := s.store.ListRecords(ColFixedExpenses)
	if err != nil {
		return nil, err
	}
	out := make([]*models.FixedExpense, 0, len(recs))
	for _, rec := range recs {
		out = append(out, fixedExpenseFromRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartMonth != out[j].StartMonth {
			return out[i].StartMonth > out[j].StartMonth
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	return out, nil
}

func (s *Service) loadFixedExpense(id string) (*models.FixedExpense, error) {
	recs, err := s.store.ListRecords(ColFixedExpenses)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if rec.Key == id {
			return fixedExpenseFromRecord(rec), nil
		}
	}
	return nil, models.NotFound("fixed expense", id)
}

// expenseActiveIn reports whether the expense recurs in the given
// YYYY-MM month. Month strings compare lexicographically.
func expenseActiveIn(e *models.FixedExpense, month string) bool {
	if e.StartMonth == "" || month < e.StartMonth {
		return false
	}
	return e.EndMonth == "" || month <= e.EndMonth
}

// scopeMonths resolves the filter's period into the list of months whose
// fixed-expense shares enter the fold. With no period the current month
// is used, matching how a household reads its running balance.
func (s *Service) scopeMonths(filter DebtFilter) []string {
	if m := dates.NormalizeMonth(filter.Month); m != "" {
		return []string{m}
	}
	from := dates.NormalizeMonth(filter.From)
	to := dates.NormalizeMonth(filter.To)
	if from == "" && to == "" {
		return []string{s.now().Format("2006-01")}
	}
	if from == "" {
		from = to
	}
	if to == "" {
		to = s.now().Format("2006-01")
	}
	if to < from {
		return nil
	}
	var months []string
	cur, _ := dates.Parse(from + "-01")
	for i := 0; i < 120; i++ {
		m := cur.Format("2006-01")
		if m > to {
			break
		}
		months = append(months, m)
		cur = dates.NextMonth(cur, 1)
	}
	return months
}

// fixedObligations expands the recurring expenses in the filtered period
// into one obligation per month and non-paying active person: the
// amount splits equally across the active persons and everyone but the
// payer owes the payer a share. Shares have no payment ledger, so a
// filter asking only for settled debts excludes them.
func (s *Service) fixedObligations(filter DebtFilter) ([]Obligation, error) {
	if filter.Status == models.DebtPaid || filter.Status == models.DebtPartial {
		return nil, nil
	}
	months := s.scopeMonths(filter)
	if len(months) == 0 {
		return nil, nil
	}
	expenses, err := s.ListFixedExpenses()
	if err != nil {
		return nil, err
	}
	if len(expenses) == 0 {
		return nil, nil
	}
	people, err := s.ListPersons()
	if err != nil {
		return nil, err
	}
	dir := NewDirectory(people)
	var active []PersonRef
	for _, p := range people {
		if p.Active {
			active = append(active, KnownRef(p.ID, p.Name))
		}
	}
	if len(active) == 0 {
		return nil, nil
	}
	query := strings.ToLower(strings.TrimSpace(filter.Query))

	var obs []Obligation
	for _, e := range expenses {
		if filter.Category != "" && !strings.EqualFold(e.Category, filter.Category) {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(e.Name), query) &&
			!strings.Contains(strings.ToLower(e.Category), query) &&
			!strings.Contains(strings.ToLower(e.PayerName), query) {
			continue
		}
		payer := dir.Resolve(e.PayerID, e.PayerName)
		if payer.Key == "" {
			continue
		}
		participants := active
		if !containsRef(active, payer.Key) {
			participants = append(append([]PersonRef{}, active...), payer)
		}
		if len(participants) < 2 {
			continue
		}
		share := money.Round2(e.Amount.Div(decimal.NewFromInt(int64(len(participants)))))
		if share.Sign() <= 0 {
			continue
		}
		for _, month := range months {
			if !expenseActiveIn(e, month) {
				continue
			}
			for _, p := range participants {
				if p.Key == payer.Key {
					continue
				}
				if filter.PersonKey != "" && p.Key != filter.PersonKey && payer.Key != filter.PersonKey {
					continue
				}
				obs = append(obs, Obligation{Debtor: p, Creditor: payer, Amount: share})
			}
		}
	}
	return obs, nil
}

func containsRef(refs []PersonRef, key string) bool {
	for _, r := range refs {
		if r.Key == key {
			return true
		}
	}
	return false
}
