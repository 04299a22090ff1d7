package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/emohunter/incentive-engine/internal/domain"
	"github.com/emohunter/incentive-engine/internal/identity"
)

type createGovernanceRequest struct {
	Description   string `json:"description"`
	Tier          string `json:"tier"`
	NewBaseReward string `json:"new_base_reward"`
}

func (h *Handler) handleCreateGovernance(w http.ResponseWriter, r *http.Request) {
	caller := identity.AddressFromContext(r.Context())

	var req createGovernanceRequest
	if err := decode(r, &req); err != nil {
		Error(w, err)
		return
	}
	tier, err := domain.ParseRewardTier(req.Tier)
	if err != nil {
		Error(w, err)
		return
	}
	amount, err := parseAmount(req.NewBaseReward)
	if err != nil {
		Error(w, err)
		return
	}

	id, err := h.voter.CreateProposal(r.Context(), caller, req.Description, tier, amount)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

func (h *Handler) handleVote(w http.ResponseWriter, r *http.Request) {
	caller := identity.AddressFromContext(r.Context())

	id, err := uint64Param(r, "id")
	if err != nil {
		Error(w, err)
		return
	}
	if err := h.voter.Vote(r.Context(), caller, id); err != nil {
		Error(w, err)
		return
	}

	g, err := h.voter.Get(id)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":     "voted",
		"vote_count": g.VoteCount,
		"executed":   g.Executed,
	})
}

type governanceResponse struct {
	ID            uint64   `json:"id"`
	Proposer      string   `json:"proposer"`
	Description   string   `json:"description"`
	Tier          string   `json:"tier"`
	NewBaseReward string   `json:"new_base_reward"`
	VoteCount     int      `json:"vote_count"`
	Threshold     int      `json:"threshold"`
	Executed      bool     `json:"executed"`
	Voters        []string `json:"voters"`
}

func (h *Handler) handleGetGovernance(w http.ResponseWriter, r *http.Request) {
	id, err := uint64Param(r, "id")
	if err != nil {
		Error(w, err)
		return
	}
	g, err := h.voter.Get(id)
	if err != nil {
		Error(w, err)
		return
	}

	voters := make([]string, 0, len(g.Voters))
	for addr := range g.Voters {
		voters = append(voters, addr)
	}

	JSON(w, http.StatusOK, governanceResponse{
		ID:            g.ID,
		Proposer:      g.Proposer,
		Description:   g.Description,
		Tier:          g.Tier.String(),
		NewBaseReward: g.NewBaseReward.String(),
		VoteCount:     g.VoteCount,
		Threshold:     h.voter.Threshold(),
		Executed:      g.Executed,
		Voters:        voters,
	})
}

func (h *Handler) handleTierConfig(w http.ResponseWriter, r *http.Request) {
	tier, err := domain.ParseRewardTier(chi.URLParam(r, "tier"))
	if err != nil {
		Error(w, err)
		return
	}
	cfg := h.configs.Get(tier)
	JSON(w, http.StatusOK, map[string]interface{}{
		"tier":                tier.String(),
		"base_reward":         cfg.BaseReward.String(),
		"emotion_multiplier":  cfg.EmotionMultiplier,
		"duration_multiplier": cfg.DurationMultiplier,
		"tier_multiplier":     cfg.TierMultiplier,
		"active":              cfg.Active,
	})
}
