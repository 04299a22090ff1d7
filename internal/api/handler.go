// Package api provides HTTP handlers for the incentive engine API.
package api

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"

	"github.com/emohunter/incentive-engine/internal/accrual"
	"github.com/emohunter/incentive-engine/internal/governance"
	"github.com/emohunter/incentive-engine/internal/reward"
	"github.com/emohunter/incentive-engine/internal/store"
	"github.com/emohunter/incentive-engine/internal/treasury"
	"github.com/emohunter/incentive-engine/internal/vault"
)

// Handler provides common handler utilities and engine dependencies.
type Handler struct {
	treasury *treasury.Treasury
	ledger   *vault.Ledger
	accrual  *accrual.Service
	voter    *governance.Voter
	configs  *reward.ConfigStore
	repo     store.Repository
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(tr *treasury.Treasury, ledger *vault.Ledger, acc *accrual.Service,
	voter *governance.Voter, configs *reward.ConfigStore, repo store.Repository) *Handler {
	return &Handler{
		treasury: tr,
		ledger:   ledger,
		accrual:  acc,
		voter:    voter,
		configs:  configs,
		repo:     repo,
	}
}

// RegisterRoutes mounts all API routes on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/treasury/deposits", h.handleDeposit)
		r.Get("/treasury/{asset}", h.handleTreasuryBalance)

		r.Post("/vault/proposals", h.handleSubmit)
		r.Post("/vault/proposals/{id}/signatures", h.handleSign)
		r.Post("/vault/proposals/{id}/execute", h.handleExecute)
		r.Get("/vault/proposals/{id}", h.handleGetProposal)

		r.Post("/sessions", h.handleStartSession)
		r.Post("/sessions/{user}/{id}/emotions", h.handleRecordEmotion)
		r.Post("/sessions/{user}/{id}/end", h.handleEndSession)
		r.Post("/sessions/{user}/{id}/claim", h.handleClaim)
		r.Get("/sessions/{user}/{id}", h.handleGetSession)
		r.Get("/sessions/{user}/{id}/emotions/{type}", h.handleGetEmotionData)
		r.Get("/sessions/{user}/{id}/reward", h.handlePendingReward)
		r.Get("/users/{user}/stats", h.handleUserStats)

		r.Post("/governance/proposals", h.handleCreateGovernance)
		r.Post("/governance/proposals/{id}/votes", h.handleVote)
		r.Get("/governance/proposals/{id}", h.handleGetGovernance)
		r.Get("/reward/config/{tier}", h.handleTierConfig)

		r.Post("/backends", h.handleAuthorizeBackend)
		r.Delete("/backends/{address}", h.handleRevokeBackend)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response with a stable machine-readable code.
func Error(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"

	switch {
	case errdefs.IsInvalidArgument(err):
		status, code = http.StatusBadRequest, "invalid_argument"
	case errdefs.IsUnauthorized(err):
		status, code = http.StatusUnauthorized, "unauthenticated"
	case errdefs.IsPermissionDenied(err):
		status, code = http.StatusForbidden, "permission_denied"
	case errdefs.IsNotFound(err):
		status, code = http.StatusNotFound, "not_found"
	case errdefs.IsAlreadyExists(err):
		status, code = http.StatusConflict, "already_done"
	case errdefs.IsFailedPrecondition(err):
		status, code = http.StatusConflict, "invalid_state"
	case errdefs.IsResourceExhausted(err):
		status, code = http.StatusConflict, "insufficient_funds"
	}

	JSON(w, status, map[string]string{"error": err.Error(), "code": code})
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("malformed request body: %w", errdefs.ErrInvalidArgument)
	}
	return nil
}

func uint64Param(r *http.Request, name string) (uint64, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed %s parameter: %w", name, errdefs.ErrInvalidArgument)
	}
	return v, nil
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q: %w", s, errdefs.ErrInvalidArgument)
	}
	return v, nil
}
