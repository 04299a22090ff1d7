package api

import (
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/emohunter/incentive-engine/internal/domain"
	"github.com/emohunter/incentive-engine/internal/identity"
)

type depositRequest struct {
	Asset  string `json:"asset"` // empty = native
	Amount string `json:"amount"`
}

func (h *Handler) handleDeposit(w http.ResponseWriter, r *http.Request) {
	caller := identity.AddressFromContext(r.Context())

	var req depositRequest
	if err := decode(r, &req); err != nil {
		Error(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		Error(w, err)
		return
	}

	if req.Asset == "" {
		err = h.treasury.DepositNative(r.Context(), caller, amount)
	} else {
		err = h.treasury.Deposit(r.Context(), caller, req.Asset, amount)
	}
	if err != nil {
		Error(w, err)
		return
	}

	asset := req.Asset
	if asset == "" {
		asset = domain.AssetNative
	}
	JSON(w, http.StatusOK, map[string]string{
		"asset":   asset,
		"balance": h.treasury.Balance(asset).String(),
	})
}

func (h *Handler) handleTreasuryBalance(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	JSON(w, http.StatusOK, map[string]string{
		"asset":   asset,
		"balance": h.treasury.Balance(asset).String(),
	})
}

type submitRequest struct {
	Asset       string   `json:"asset"` // empty = native
	Targets     []string `json:"targets"`
	Amounts     []string `json:"amounts"`
	Description string   `json:"description"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	caller := identity.AddressFromContext(r.Context())

	var req submitRequest
	if err := decode(r, &req); err != nil {
		Error(w, err)
		return
	}

	amounts := make([]*big.Int, 0, len(req.Amounts))
	for _, s := range req.Amounts {
		a, err := parseAmount(s)
		if err != nil {
			Error(w, err)
			return
		}
		amounts = append(amounts, a)
	}

	id, err := h.ledger.Submit(r.Context(), caller, req.Asset, req.Targets, amounts, req.Description)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

func (h *Handler) handleSign(w http.ResponseWriter, r *http.Request) {
	caller := identity.AddressFromContext(r.Context())

	id, err := uint64Param(r, "id")
	if err != nil {
		Error(w, err)
		return
	}
	if err := h.ledger.Sign(r.Context(), caller, id); err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "signed"})
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	caller := identity.AddressFromContext(r.Context())

	id, err := uint64Param(r, "id")
	if err != nil {
		Error(w, err)
		return
	}
	if err := h.ledger.Execute(r.Context(), caller, id); err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "executed"})
}

type proposalResponse struct {
	ID          uint64   `json:"id"`
	Proposer    string   `json:"proposer"`
	Asset       string   `json:"asset"`
	Targets     []string `json:"targets"`
	Amounts     []string `json:"amounts"`
	Description string   `json:"description"`
	VoteCount   int      `json:"vote_count"`
	Threshold   int      `json:"threshold"`
	Executed    bool     `json:"executed"`
	Signers     []string `json:"signers"`
	Total       string   `json:"total"`
}

func (h *Handler) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	id, err := uint64Param(r, "id")
	if err != nil {
		Error(w, err)
		return
	}
	p, err := h.ledger.Get(id)
	if err != nil {
		Error(w, err)
		return
	}

	amounts := make([]string, len(p.Amounts))
	for i, a := range p.Amounts {
		amounts[i] = a.String()
	}
	signers := make([]string, 0, len(p.Signers))
	for addr := range p.Signers {
		signers = append(signers, addr)
	}

	JSON(w, http.StatusOK, proposalResponse{
		ID:          p.ID,
		Proposer:    p.Proposer,
		Asset:       p.Asset,
		Targets:     p.Targets,
		Amounts:     amounts,
		Description: p.Description,
		VoteCount:   p.VoteCount,
		Threshold:   h.ledger.Threshold(),
		Executed:    p.Executed,
		Signers:     signers,
		Total:       p.Total().String(),
	})
}
