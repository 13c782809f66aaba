package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mvallecillo/hogarfin/pkg/ledger"
	"github.com/mvallecillo/hogarfin/pkg/models"
	"github.com/mvallecillo/hogarfin/pkg/netting"
	"github.com/mvallecillo/hogarfin/pkg/store"
)

// Server wires the two subsystems behind the HTTP API.
type Server struct {
	loans   *ledger.Service
	netting *netting.Service
	storage store.Store
	log     *logrus.Logger
}

func NewServer(loans *ledger.Service, net *netting.Service, st store.Store, log *logrus.Logger) *Server {
	return &Server{loans: loans, netting: net, storage: st, log: log}
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.saveLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}", s.updateLoanHandler).Methods("PUT")
	router.HandleFunc("/loans/{id}", s.deleteLoanHandler).Methods("DELETE")
	router.HandleFunc("/loans/{id}/disbursement", s.disbursementHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/payments", s.paymentHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/suggested-payment", s.suggestHandler).Methods("GET")

	router.HandleFunc("/persons", s.listPersonsHandler).Methods("GET")
	router.HandleFunc("/persons", s.savePersonHandler).Methods("POST")

	router.HandleFunc("/debts", s.listDebtsHandler).Methods("GET")
	router.HandleFunc("/debts", s.saveDebtHandler).Methods("POST")
	router.HandleFunc("/debts/{id}", s.deleteDebtHandler).Methods("DELETE")
	router.HandleFunc("/debts/{id}/payments", s.debtPaymentHandler).Methods("POST")

	router.HandleFunc("/fixed-expenses", s.listFixedExpensesHandler).Methods("GET")
	router.HandleFunc("/fixed-expenses", s.saveFixedExpenseHandler).Methods("POST")
	router.HandleFunc("/fixed-expenses/{id}", s.deleteFixedExpenseHandler).Methods("DELETE")

	router.HandleFunc("/netting/balance", s.balanceHandler).Methods("GET")
	router.HandleFunc("/netting/plan", s.planHandler).Methods("GET")

	return router
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		validation *models.ValidationError
		conflict   *models.StateConflictError
		notFound   *models.NotFoundError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &conflict):
		status = http.StatusConflict
	case errors.Is(err, store.ErrLockTimeout):
		status = http.StatusServiceUnavailable
	default:
		s.log.Errorf("Unhandled error: %v", err)
	}
	writeJSON(w, status, map[string]any{"ok": false, "message": err.Error()})
}

// writeDegraded answers an aggregate read whose backend failed. These
// endpoints feed dashboards, so they report the failure in-band rather
// than breaking the whole view.
func (s *Server) writeDegraded(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrLockTimeout) {
		s.writeError(w, err)
		return
	}
	s.log.Errorf("Aggregate read failed: %v", err)
	writeJSON(w, http.StatusOK, map[string]any{"ok": false, "message": err.Error()})
}

func (s *Server) saveLoanHandler(w http.ResponseWriter, r *http.Request) {
	var spec ledger.LoanSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		s.writeError(w, models.Validationf("invalid request body: %v", err))
		return
	}
	loan, err := s.loans.SaveLoan(spec)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "loan": loan})
}

func (s *Server) updateLoanHandler(w http.ResponseWriter, r *http.Request) {
	var spec ledger.LoanSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		s.writeError(w, models.Validationf("invalid request body: %v", err))
		return
	}
	spec.ID = mux.Vars(r)["id"]
	loan, err := s.loans.SaveLoan(spec)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "loan": loan})
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	detail, err := s.loans.LoanDetail(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := s.loans.ListLoans(ledger.LoanFilter{
		PersonID: q.Get("person_id"),
		Origin:   models.Origin(q.Get("origin")),
		Status:   q.Get("status"),
		From:     q.Get("from"),
		To:       q.Get("to"),
		Query:    q.Get("q"),
	})
	if err != nil {
		s.writeDegraded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "loans": items})
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.loans.DeleteLoan(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) disbursementHandler(w http.ResponseWriter, r *http.Request) {
	var req ledger.DisbursementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, models.Validationf("invalid request body: %v", err))
		return
	}
	summary, err := s.loans.RegisterDisbursement(mux.Vars(r)["id"], req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "schedule": summary})
}

func (s *Server) paymentHandler(w http.ResponseWriter, r *http.Request) {
	var req ledger.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, models.Validationf("invalid request body: %v", err))
		return
	}
	payment, err := s.loans.RegisterPayment(mux.Vars(r)["id"], req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "payment": payment})
}

func (s *Server) suggestHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := ledger.SuggestRequest{
		Mode:          ledger.SuggestMode(q.Get("mode")),
		InstallmentID: q.Get("installment_id"),
		AsOf:          q.Get("as_of"),
	}
	if v := q.Get("seq"); v != "" {
		req.Seq, _ = strconv.Atoi(v)
	}
	if v := q.Get("amount"); v != "" {
		amount, err := decimal.NewFromString(v)
		if err != nil {
			s.writeError(w, models.Validationf("invalid amount %q", v))
			return
		}
		req.Amount = amount
	}
	result, err := s.loans.SuggestPayment(mux.Vars(r)["id"], req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) listPersonsHandler(w http.ResponseWriter, r *http.Request) {
	people, err := s.netting.ListPersons()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "persons": people})
}

func (s *Server) savePersonHandler(w http.ResponseWriter, r *http.Request) {
	var p models.Person
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeError(w, models.Validationf("invalid request body: %v", err))
		return
	}
	saved, err := s.netting.SavePerson(p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "person": saved})
}

// debtFilterFromQuery reads the shared filter parameters used by the
// debt list and the netting aggregates.
func debtFilterFromQuery(q url.Values) netting.DebtFilter {
	return netting.DebtFilter{
		Month:     q.Get("month"),
		From:      q.Get("from"),
		To:        q.Get("to"),
		Category:  q.Get("category"),
		PersonKey: q.Get("person"),
		Status:    models.DebtStatus(q.Get("status")),
		Query:     q.Get("q"),
	}
}

func (s *Server) listDebtsHandler(w http.ResponseWriter, r *http.Request) {
	debts, err := s.netting.ListDebts(debtFilterFromQuery(r.URL.Query()))
	if err != nil {
		s.writeDegraded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "debts": debts})
}

func (s *Server) saveDebtHandler(w http.ResponseWriter, r *http.Request) {
	var spec netting.DebtSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		s.writeError(w, models.Validationf("invalid request body: %v", err))
		return
	}
	debt, err := s.netting.SaveDebt(spec)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "debt": debt})
}

func (s *Server) deleteDebtHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.netting.DeleteDebt(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) debtPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req netting.DebtPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, models.Validationf("invalid request body: %v", err))
		return
	}
	payment, err := s.netting.RegisterDebtPayment(mux.Vars(r)["id"], req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "payment": payment})
}

func (s *Server) listFixedExpensesHandler(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.netting.ListFixedExpenses()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "fixed_expenses": expenses})
}

func (s *Server) saveFixedExpenseHandler(w http.ResponseWriter, r *http.Request) {
	var spec netting.FixedExpenseSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		s.writeError(w, models.Validationf("invalid request body: %v", err))
		return
	}
	expense, err := s.netting.SaveFixedExpense(spec)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "fixed_expense": expense})
}

func (s *Server) deleteFixedExpenseHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.netting.DeleteFixedExpense(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) balanceHandler(w http.ResponseWriter, r *http.Request) {
	balances, err := s.netting.BalanceByPerson(debtFilterFromQuery(r.URL.Query()))
	if err != nil {
		s.writeDegraded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "balances": balances})
}

func (s *Server) planHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := debtFilterFromQuery(q)
	// The plan is always computed over the whole household in scope;
	// person only narrows the reported transfers afterwards.
	filter.PersonKey = ""
	plan, err := s.netting.SettlementPlan(filter, q.Get("person"))
	if err != nil {
		s.writeDegraded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"positions": plan.Positions,
		"transfers": plan.Transfers,
		"complete":  plan.Complete,
		"total":     plan.Total,
	})
}
