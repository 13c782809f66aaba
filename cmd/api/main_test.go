package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/mvallecillo/hogarfin/pkg/ledger"
	"github.com/mvallecillo/hogarfin/pkg/netting"
	"github.com/mvallecillo/hogarfin/pkg/store"
)

func setupTestServer(t *testing.T) (*Server, *mux.Router) {
	t.Helper()
	m := store.NewMemStore()
	log := logrus.New()
	log.SetOutput(io.Discard)

	loans, err := ledger.NewService(m, m.CollectionLocks, log)
	if err != nil {
		t.Fatalf("Failed to create loan service: %v", err)
	}
	net, err := netting.NewService(m, m.CollectionLocks, log)
	if err != nil {
		t.Fatalf("Failed to create netting service: %v", err)
	}
	server := NewServer(loans, net, m, log)
	return server, server.Router()
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	out := map[string]any{}
	json.Unmarshal(rr.Body.Bytes(), &out)
	return rr, out
}

func TestAPI_LoanLifecycle(t *testing.T) {
	_, router := setupTestServer(t)

	rr, created := doJSON(t, router, "POST", "/loans", map[string]any{
		"person_id":    "p1",
		"person_name":  "Ana",
		"principal":    "1000",
		"term_months":  4,
		"monthly_rate": "0",
		"penalty_mode": "manual",
		"disbursed_on": "2026-01-10",
		"payment_day":  15,
		"status":       "active",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Create: expected 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	loan := created["loan"].(map[string]any)
	id := loan["id"].(string)

	rr, _ = doJSON(t, router, "GET", "/loans/"+id, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Detail: expected 200, got %d", rr.Code)
	}
	var detail struct {
		Installments []map[string]any `json:"installments"`
		Summary      map[string]any   `json:"summary"`
	}
	json.Unmarshal(rr.Body.Bytes(), &detail)
	if len(detail.Installments) != 4 {
		t.Fatalf("Expected 4 installments, got %d", len(detail.Installments))
	}

	rr, paid := doJSON(t, router, "POST", "/loans/"+id+"/payments", map[string]any{
		"amount": "250",
		"at":     "2026-02-15",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Payment: expected 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	payment := paid["payment"].(map[string]any)
	if payment["principal"] != "250" {
		t.Errorf("Payment principal = %v, want 250", payment["principal"])
	}

	rr, _ = doJSON(t, router, "GET", "/loans/"+id+"/suggested-payment?mode=settle_today&as_of=2026-02-20", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Suggest: expected 200, got %d", rr.Code)
	}
	var suggest struct {
		Amount string `json:"amount"`
	}
	json.Unmarshal(rr.Body.Bytes(), &suggest)
	if suggest.Amount != "750" {
		t.Errorf("Settle amount = %s, want 750", suggest.Amount)
	}
}

func TestAPI_ErrorMapping(t *testing.T) {
	_, router := setupTestServer(t)

	// Unknown loan id.
	rr, _ := doJSON(t, router, "GET", "/loans/00000000-0000-0000-0000-000000000000", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rr.Code)
	}

	// Invalid input.
	rr, _ = doJSON(t, router, "POST", "/loans", map[string]any{
		"person_id": "", "principal": "1000", "term_months": 4,
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rr.Code)
	}

	// State conflict: create an active loan, pay it, then try to edit it.
	rr, created := doJSON(t, router, "POST", "/loans", map[string]any{
		"person_id": "p1", "principal": "100", "term_months": 1,
		"monthly_rate": "0", "penalty_mode": "manual",
		"disbursed_on": "2026-01-10", "payment_day": 15, "status": "active",
	})
	id := created["loan"].(map[string]any)["id"].(string)
	doJSON(t, router, "POST", "/loans/"+id+"/payments", map[string]any{
		"amount": "50", "at": "2026-02-15",
	})
	rr, _ = doJSON(t, router, "PUT", "/loans/"+id, map[string]any{
		"person_id": "p1", "principal": "200", "term_months": 2,
		"monthly_rate": "0", "penalty_mode": "manual",
		"disbursed_on": "2026-01-10", "payment_day": 15,
	})
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d. Body: %s", rr.Code, rr.Body.String())
	}
}

func TestAPI_DebtsAndNetting(t *testing.T) {
	_, router := setupTestServer(t)

	rr, anaResp := doJSON(t, router, "POST", "/persons", map[string]any{"name": "Ana"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Create person: expected 201, got %d", rr.Code)
	}
	ana := anaResp["person"].(map[string]any)["id"].(string)
	_, bertaResp := doJSON(t, router, "POST", "/persons", map[string]any{"name": "Berta"})
	berta := bertaResp["person"].(map[string]any)["id"].(string)

	rr, debtResp := doJSON(t, router, "POST", "/debts", map[string]any{
		"debtor_id":   ana,
		"creditor_id": berta,
		"amount":      "100",
		"category":    "groceries",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Create debt: expected 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	debtID := debtResp["debt"].(map[string]any)["id"].(string)

	rr, _ = doJSON(t, router, "POST", "/debts/"+debtID+"/payments", map[string]any{
		"amount": "40",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Debt payment: expected 201, got %d", rr.Code)
	}

	rr, _ = doJSON(t, router, "GET", "/netting/plan", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Plan: expected 200, got %d", rr.Code)
	}
	var plan struct {
		OK        bool `json:"ok"`
		Transfers []struct {
			Amount string `json:"amount"`
		} `json:"transfers"`
	}
	json.Unmarshal(rr.Body.Bytes(), &plan)
	if !plan.OK || len(plan.Transfers) != 1 {
		t.Fatalf("Expected 1 transfer, got %+v", plan)
	}
	if plan.Transfers[0].Amount != "60" {
		t.Errorf("Transfer = %s, want 60", plan.Transfers[0].Amount)
	}

	rr, _ = doJSON(t, router, "GET", "/netting/balance", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Balance: expected 200, got %d", rr.Code)
	}

	// An old debt only enters the fold when the filter asks for its
	// month.
	doJSON(t, router, "POST", "/debts", map[string]any{
		"debtor_id":   berta,
		"creditor_id": ana,
		"amount":      "25",
		"date":        "2025-07-10",
	})
	rr, _ = doJSON(t, router, "GET", "/netting/balance?month=2025-07", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Filtered balance: expected 200, got %d", rr.Code)
	}
	var bal struct {
		OK       bool `json:"ok"`
		Balances []struct {
			Net string `json:"net"`
		} `json:"balances"`
	}
	json.Unmarshal(rr.Body.Bytes(), &bal)
	if !bal.OK || len(bal.Balances) != 2 {
		t.Fatalf("Expected 2 balances for July, got %+v", bal)
	}
	if bal.Balances[0].Net != "25" {
		t.Errorf("July top balance = %s, want 25", bal.Balances[0].Net)
	}
}

func TestAPI_FixedExpenses(t *testing.T) {
	_, router := setupTestServer(t)

	_, anaResp := doJSON(t, router, "POST", "/persons", map[string]any{"name": "Ana"})
	ana := anaResp["person"].(map[string]any)["id"].(string)
	doJSON(t, router, "POST", "/persons", map[string]any{"name": "Berta"})

	rr, created := doJSON(t, router, "POST", "/fixed-expenses", map[string]any{
		"name":        "rent",
		"category":    "housing",
		"amount":      "800",
		"payer_id":    ana,
		"start_month": "2026-01",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Create fixed expense: expected 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	id := created["fixed_expense"].(map[string]any)["id"].(string)

	// Each of the two active persons carries 400; Berta owes Ana hers.
	rr, _ = doJSON(t, router, "GET", "/netting/balance?month=2026-01", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Balance: expected 200, got %d", rr.Code)
	}
	var bal struct {
		Balances []struct {
			Net string `json:"net"`
		} `json:"balances"`
	}
	json.Unmarshal(rr.Body.Bytes(), &bal)
	if len(bal.Balances) != 2 || bal.Balances[0].Net != "400" {
		t.Fatalf("Expected Ana at +400, got %+v", bal)
	}

	rr, listed := doJSON(t, router, "GET", "/fixed-expenses", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("List: expected 200, got %d", rr.Code)
	}
	if n := len(listed["fixed_expenses"].([]any)); n != 1 {
		t.Fatalf("Expected 1 fixed expense, got %d", n)
	}

	rr, _ = doJSON(t, router, "DELETE", "/fixed-expenses/"+id, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("Delete: expected 204, got %d", rr.Code)
	}
	rr, _ = doJSON(t, router, "DELETE", "/fixed-expenses/"+id, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Second delete: expected 404, got %d", rr.Code)
	}
}
