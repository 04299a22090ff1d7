package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/emohunter/incentive-engine/internal/domain"
	"github.com/emohunter/incentive-engine/internal/identity"
)

type startSessionRequest struct {
	User string `json:"user"`
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	caller := identity.AddressFromContext(r.Context())

	var req startSessionRequest
	if err := decode(r, &req); err != nil {
		Error(w, err)
		return
	}

	id, err := h.accrual.StartSession(r.Context(), caller, req.User)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]interface{}{
		"user":       req.User,
		"session_id": id,
	})
}

type recordEmotionRequest struct {
	Emotion    string `json:"emotion"`
	DurationMs uint64 `json:"duration_ms"`
}

func (h *Handler) handleRecordEmotion(w http.ResponseWriter, r *http.Request) {
	caller := identity.AddressFromContext(r.Context())
	user := chi.URLParam(r, "user")

	id, err := uint64Param(r, "id")
	if err != nil {
		Error(w, err)
		return
	}
	var req recordEmotionRequest
	if err := decode(r, &req); err != nil {
		Error(w, err)
		return
	}
	emotion, err := domain.ParseEmotionType(req.Emotion)
	if err != nil {
		Error(w, err)
		return
	}

	if err := h.accrual.RecordEmotion(r.Context(), caller, user, id, emotion, req.DurationMs); err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (h *Handler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	caller := identity.AddressFromContext(r.Context())
	user := chi.URLParam(r, "user")

	id, err := uint64Param(r, "id")
	if err != nil {
		Error(w, err)
		return
	}
	if err := h.accrual.EndSession(r.Context(), caller, user, id); err != nil {
		Error(w, err)
		return
	}

	s, err := h.accrual.GetSession(user, id)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{
		"tier":   s.Tier.String(),
		"amount": s.Amount.String(),
	})
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	caller := identity.AddressFromContext(r.Context())
	user := chi.URLParam(r, "user")

	id, err := uint64Param(r, "id")
	if err != nil {
		Error(w, err)
		return
	}
	if err := h.accrual.ClaimReward(r.Context(), caller, user, id); err != nil {
		Error(w, err)
		return
	}

	s, err := h.accrual.GetSession(user, id)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{
		"status": "claimed",
		"tier":   s.Tier.String(),
		"amount": s.Amount.String(),
	})
}

type sessionResponse struct {
	User            string                        `json:"user"`
	SessionID       uint64                        `json:"session_id"`
	State           string                        `json:"state"`
	StartTime       int64                         `json:"start_time"`
	EndTime         int64                         `json:"end_time,omitempty"`
	EngagementScore uint64                        `json:"engagement_score"`
	Emotions        map[string]domain.EmotionStat `json:"emotions"`
	Tier            string                        `json:"tier,omitempty"`
	Amount          string                        `json:"amount,omitempty"`
	Claimed         bool                          `json:"claimed"`
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")

	id, err := uint64Param(r, "id")
	if err != nil {
		Error(w, err)
		return
	}
	s, err := h.accrual.GetSession(user, id)
	if err != nil {
		Error(w, err)
		return
	}

	resp := sessionResponse{
		User:            s.User,
		SessionID:       s.ID,
		State:           s.State().String(),
		StartTime:       s.StartTime.Unix(),
		EngagementScore: s.EngagementScore,
		Emotions:        make(map[string]domain.EmotionStat, len(s.Emotions)),
		Claimed:         s.Claimed,
	}
	for et, stat := range s.Emotions {
		resp.Emotions[et.String()] = stat
	}
	if !s.EndTime.IsZero() {
		resp.EndTime = s.EndTime.Unix()
		resp.Tier = s.Tier.String()
		resp.Amount = s.Amount.String()
	}
	JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetEmotionData(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")

	id, err := uint64Param(r, "id")
	if err != nil {
		Error(w, err)
		return
	}
	emotion, err := domain.ParseEmotionType(chi.URLParam(r, "type"))
	if err != nil {
		Error(w, err)
		return
	}
	stat, err := h.accrual.GetEmotionData(user, id, emotion)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"emotion":           emotion.String(),
		"count":             stat.Count,
		"total_duration_ms": stat.TotalDurationMs,
	})
}

func (h *Handler) handlePendingReward(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")

	id, err := uint64Param(r, "id")
	if err != nil {
		Error(w, err)
		return
	}
	tier, amount, err := h.accrual.PendingReward(user, id)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{
		"tier":          tier.String(),
		"amount":        amount.String(),
		"calculated_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handleUserStats(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	sessions, total := h.accrual.UserStats(user)
	JSON(w, http.StatusOK, map[string]interface{}{
		"user":          user,
		"session_count": sessions,
		"total_rewards": total.String(),
	})
}

type backendRequest struct {
	Address string `json:"address"`
}

func (h *Handler) handleAuthorizeBackend(w http.ResponseWriter, r *http.Request) {
	caller := identity.AddressFromContext(r.Context())

	var req backendRequest
	if err := decode(r, &req); err != nil {
		Error(w, err)
		return
	}
	if err := h.accrual.AuthorizeBackend(r.Context(), caller, req.Address); err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "authorized"})
}

func (h *Handler) handleRevokeBackend(w http.ResponseWriter, r *http.Request) {
	caller := identity.AddressFromContext(r.Context())
	address := chi.URLParam(r, "address")

	if err := h.accrual.RevokeBackend(r.Context(), caller, address); err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
