package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"

	"github.com/emohunter/incentive-engine/internal/accrual"
	"github.com/emohunter/incentive-engine/internal/audit"
	"github.com/emohunter/incentive-engine/internal/domain"
	"github.com/emohunter/incentive-engine/internal/governance"
	"github.com/emohunter/incentive-engine/internal/identity"
	"github.com/emohunter/incentive-engine/internal/reward"
	"github.com/emohunter/incentive-engine/internal/store/storetest"
	"github.com/emohunter/incentive-engine/internal/treasury"
	"github.com/emohunter/incentive-engine/internal/vault"
)

// newTestServer wires the full stack over an in-memory repository, with the
// development header as identity.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	repo := storetest.New()
	owners := map[string]bool{"owner1": true, "owner2": true, "owner3": true}
	governors := map[string]bool{"gov1": true, "gov2": true}
	configs := reward.NewConfigStore(reward.DefaultConfigs())
	log := audit.NewLog(repo, nil)
	transfer := &treasury.BookTransferer{Repo: repo}

	tr := treasury.New(repo, owners, nil)
	ledger := vault.NewLedger(repo, tr, transfer, owners, 2, log, nil)
	acc := accrual.NewService(repo, tr, transfer, configs, owners, []string{"backend1"}, log, nil)
	voter := governance.NewVoter(repo, configs, governors, 2, log, nil)

	h := NewHandler(tr, ledger, acc, voter, configs, repo)

	r := chi.NewRouter()
	r.Use(identity.Middleware(nil))
	h.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, caller string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if caller != "" {
		req.Header.Set(identity.DevAddressHeader, caller)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response for %s %s: %v", method, path, err)
	}
	return resp, decoded
}

func TestVaultFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, srv, http.MethodPost, "/api/treasury/deposits", "owner1",
		map[string]string{"amount": "100"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deposit status = %d, body = %v", resp.StatusCode, body)
	}
	if body["balance"] != "100" {
		t.Fatalf("balance = %v, want 100", body["balance"])
	}

	resp, body = doJSON(t, srv, http.MethodPost, "/api/vault/proposals", "owner1",
		map[string]interface{}{
			"targets":     []string{"alice"},
			"amounts":     []string{"50"},
			"description": "payout",
		})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit status = %d, body = %v", resp.StatusCode, body)
	}
	id := uint64(body["id"].(float64))

	for _, owner := range []string{"owner1", "owner2"} {
		resp, body = doJSON(t, srv, http.MethodPost,
			fmt.Sprintf("/api/vault/proposals/%d/signatures", id), owner, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("sign by %s status = %d, body = %v", owner, resp.StatusCode, body)
		}
	}

	resp, body = doJSON(t, srv, http.MethodPost,
		fmt.Sprintf("/api/vault/proposals/%d/execute", id), "owner1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execute status = %d, body = %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, srv, http.MethodGet, "/api/treasury/native", "", nil)
	if resp.StatusCode != http.StatusOK || body["balance"] != "50" {
		t.Fatalf("treasury after execute = %v (status %d), want 50", body["balance"], resp.StatusCode)
	}

	resp, body = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/vault/proposals/%d", id), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get proposal status = %d", resp.StatusCode)
	}
	if body["executed"] != true {
		t.Errorf("proposal not marked executed: %v", body)
	}
}

func TestSessionFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	// Fund the treasury so the claim can settle.
	doJSON(t, srv, http.MethodPost, "/api/treasury/deposits", "owner1",
		map[string]string{"amount": "100000000000000000000"})

	resp, body := doJSON(t, srv, http.MethodPost, "/api/sessions", "backend1",
		map[string]string{"user": "user1"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d, body = %v", resp.StatusCode, body)
	}
	id := uint64(body["session_id"].(float64))

	resp, body = doJSON(t, srv, http.MethodPost,
		fmt.Sprintf("/api/sessions/user1/%d/emotions", id), "backend1",
		map[string]interface{}{"emotion": "happy", "duration_ms": 10000})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("record status = %d, body = %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, srv, http.MethodGet,
		fmt.Sprintf("/api/sessions/user1/%d/emotions/happy", id), "", nil)
	if resp.StatusCode != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("emotion data = %v (status %d)", body, resp.StatusCode)
	}

	resp, body = doJSON(t, srv, http.MethodPost,
		fmt.Sprintf("/api/sessions/user1/%d/end", id), "backend1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, body = %v", resp.StatusCode, body)
	}
	if body["tier"] != domain.TierBronze.String() {
		t.Errorf("tier = %v, want bronze for a near-instant session", body["tier"])
	}

	resp, body = doJSON(t, srv, http.MethodPost,
		fmt.Sprintf("/api/sessions/user1/%d/claim", id), "user1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("claim status = %d, body = %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, srv, http.MethodGet, "/api/users/user1/stats", "", nil)
	if resp.StatusCode != http.StatusOK || body["session_count"] != float64(1) {
		t.Fatalf("stats = %v (status %d)", body, resp.StatusCode)
	}
}

func TestGovernanceFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, srv, http.MethodPost, "/api/governance/proposals", "gov1",
		map[string]string{
			"description":     "raise gold",
			"tier":            "gold",
			"new_base_reward": "777",
		})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, body = %v", resp.StatusCode, body)
	}
	id := uint64(body["id"].(float64))

	for _, gov := range []string{"gov1", "gov2"} {
		resp, body = doJSON(t, srv, http.MethodPost,
			fmt.Sprintf("/api/governance/proposals/%d/votes", id), gov, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("vote by %s status = %d, body = %v", gov, resp.StatusCode, body)
		}
	}
	if body["executed"] != true {
		t.Fatalf("quorum vote did not execute: %v", body)
	}

	resp, body = doJSON(t, srv, http.MethodGet, "/api/reward/config/gold", "", nil)
	if resp.StatusCode != http.StatusOK || body["base_reward"] != "777" {
		t.Fatalf("config = %v (status %d), want base_reward 777", body, resp.StatusCode)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name       string
		method     string
		path       string
		caller     string
		body       interface{}
		wantStatus int
		wantCode   string
	}{
		{"deposit by stranger", http.MethodPost, "/api/treasury/deposits", "stranger",
			map[string]string{"amount": "10"}, http.StatusForbidden, "permission_denied"},
		{"malformed amount", http.MethodPost, "/api/treasury/deposits", "owner1",
			map[string]string{"amount": "ten"}, http.StatusBadRequest, "invalid_argument"},
		{"unknown proposal", http.MethodGet, "/api/vault/proposals/42", "",
			nil, http.StatusNotFound, "not_found"},
		{"malformed id", http.MethodGet, "/api/vault/proposals/abc", "",
			nil, http.StatusBadRequest, "invalid_argument"},
		{"session by non-backend", http.MethodPost, "/api/sessions", "stranger",
			map[string]string{"user": "user1"}, http.StatusForbidden, "permission_denied"},
		{"unknown session", http.MethodGet, "/api/sessions/user1/9/reward", "",
			nil, http.StatusNotFound, "not_found"},
		{"bad tier", http.MethodGet, "/api/reward/config/diamond", "",
			nil, http.StatusBadRequest, "invalid_argument"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doJSON(t, srv, tt.method, tt.path, tt.caller, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %v)", resp.StatusCode, tt.wantStatus, body)
			}
			if body["code"] != tt.wantCode {
				t.Errorf("code = %v, want %s", body["code"], tt.wantCode)
			}
		})
	}
}

func TestErrorHelper(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
	}{
		{fmt.Errorf("x: %w", errdefs.ErrInvalidArgument), http.StatusBadRequest},
		{fmt.Errorf("x: %w", errdefs.ErrUnauthenticated), http.StatusUnauthorized},
		{domain.ErrNotOwner, http.StatusForbidden},
		{domain.ErrSessionNotFound, http.StatusNotFound},
		{domain.ErrAlreadyClaimed, http.StatusConflict},
		{domain.ErrSessionNotOpen, http.StatusConflict},
		{domain.ErrInsufficientFunds, http.StatusConflict},
		{fmt.Errorf("plain failure"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		Error(rec, tt.err)
		if rec.Code != tt.wantStatus {
			t.Errorf("Error(%v) status = %d, want %d", tt.err, rec.Code, tt.wantStatus)
		}
	}
}
