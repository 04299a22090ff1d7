// Package accrual manages the per-user session lifecycle: OPEN sessions
// accumulate engagement from emotion events, ENDED sessions carry a frozen
// reward, CLAIMED sessions are terminal.
package accrual

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/containerd/errdefs"

	"github.com/emohunter/incentive-engine/internal/audit"
	"github.com/emohunter/incentive-engine/internal/domain"
	"github.com/emohunter/incentive-engine/internal/metrics"
	"github.com/emohunter/incentive-engine/internal/reward"
	"github.com/emohunter/incentive-engine/internal/store"
	"github.com/emohunter/incentive-engine/internal/treasury"
)

// sessionEntry pairs a session with its single-writer lock so record, end,
// and claim on the same session never interleave.
type sessionEntry struct {
	mu sync.Mutex
	s  *domain.Session
}

// Service owns all session state and the authorized backend allow-list.
type Service struct {
	mu       sync.RWMutex // guards sessions, counts, totals, backends
	sessions map[string]map[uint64]*sessionEntry
	counts   map[string]uint64   // per-user session counter
	totals   map[string]*big.Int // per-user lifetime claimed rewards
	backends map[string]bool

	owners   map[string]bool // may mutate the backend allow-list
	configs  *reward.ConfigStore
	treasury *treasury.Treasury
	transfer treasury.Transferer
	repo     store.Repository
	audit    *audit.Log
	now      func() time.Time
}

// NewService creates the accrual service seeded with persisted sessions and
// backends. Session counters and lifetime reward totals are rebuilt from the
// session records.
func NewService(repo store.Repository, tr *treasury.Treasury, transfer treasury.Transferer,
	configs *reward.ConfigStore, owners map[string]bool, backends []string,
	log *audit.Log, existing []*domain.Session) *Service {

	svc := &Service{
		sessions: make(map[string]map[uint64]*sessionEntry),
		counts:   make(map[string]uint64),
		totals:   make(map[string]*big.Int),
		backends: make(map[string]bool),
		owners:   owners,
		configs:  configs,
		treasury: tr,
		transfer: transfer,
		repo:     repo,
		audit:    log,
		now:      time.Now,
	}
	for _, addr := range backends {
		svc.backends[addr] = true
	}
	for _, s := range existing {
		if svc.sessions[s.User] == nil {
			svc.sessions[s.User] = make(map[uint64]*sessionEntry)
		}
		svc.sessions[s.User][s.ID] = &sessionEntry{s: s}
		if s.ID > svc.counts[s.User] {
			svc.counts[s.User] = s.ID
		}
		if s.Claimed && s.Amount != nil {
			svc.addTotalLocked(s.User, s.Amount)
		}
	}
	return svc
}

// StartSession opens a new session for user. Authorized-backend only;
// session ids are per-user and monotonically increasing.
func (svc *Service) StartSession(ctx context.Context, backend, user string) (uint64, error) {
	if err := svc.requireBackend(backend); err != nil {
		return 0, err
	}
	if user == "" {
		return 0, fmt.Errorf("empty user address: %w", errdefs.ErrInvalidArgument)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	id := svc.counts[user] + 1
	s := &domain.Session{
		User:      user,
		ID:        id,
		StartTime: svc.now(),
		Emotions:  make(map[domain.EmotionType]domain.EmotionStat),
	}

	if err := svc.repo.SaveSession(ctx, s); err != nil {
		return 0, fmt.Errorf("persist session: %w", err)
	}
	if svc.sessions[user] == nil {
		svc.sessions[user] = make(map[uint64]*sessionEntry)
	}
	svc.sessions[user][id] = &sessionEntry{s: s}
	svc.counts[user] = id

	svc.audit.Emit(ctx, audit.Event{
		Type:     audit.EventSessionStarted,
		Actor:    backend,
		User:     user,
		EntityID: id,
	})
	slog.Info("Session started", "user", user, "session_id", id)
	return id, nil
}

// RecordEmotion accumulates one emotion observation into an open session.
func (svc *Service) RecordEmotion(ctx context.Context, backend, user string, sessionID uint64, emotion domain.EmotionType, durationMs uint64) error {
	if err := svc.requireBackend(backend); err != nil {
		return err
	}
	if !emotion.Valid() {
		return fmt.Errorf("emotion type %d: %w", uint8(emotion), errdefs.ErrInvalidArgument)
	}
	if durationMs == 0 {
		return fmt.Errorf("zero duration: %w", errdefs.ErrInvalidArgument)
	}

	e, err := svc.entryFor(user, sessionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.s.State() != domain.SessionOpen {
		return fmt.Errorf("session %s/%d is %s: %w", user, sessionID, e.s.State(), domain.ErrSessionNotOpen)
	}

	prevStat := e.s.Emotions[emotion]
	prevScore := e.s.EngagementScore

	stat := prevStat
	stat.Count++
	stat.TotalDurationMs += durationMs
	e.s.Emotions[emotion] = stat
	e.s.EngagementScore += reward.ScoreDelta(emotion, durationMs)

	if err := svc.repo.SaveSession(ctx, e.s); err != nil {
		e.s.Emotions[emotion] = prevStat
		e.s.EngagementScore = prevScore
		return fmt.Errorf("persist emotion: %w", err)
	}

	svc.audit.Emit(ctx, audit.Event{
		Type:     audit.EventEmotionRecorded,
		Actor:    backend,
		User:     user,
		EntityID: sessionID,
		Detail:   fmt.Sprintf("%s %dms score=%d", emotion, durationMs, e.s.EngagementScore),
	})
	return nil
}

// EndSession closes an open session and freezes its tier and reward amount
// against the reward config active right now. Later config changes do not
// move frozen values.
func (svc *Service) EndSession(ctx context.Context, backend, user string, sessionID uint64) error {
	if err := svc.requireBackend(backend); err != nil {
		return err
	}

	e, err := svc.entryFor(user, sessionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.s.State() != domain.SessionOpen {
		return fmt.Errorf("session %s/%d is %s: %w", user, sessionID, e.s.State(), domain.ErrSessionNotOpen)
	}

	endTime := svc.now()
	duration := uint64(endTime.Sub(e.s.StartTime) / time.Second)
	tier, amount := reward.Calculate(svc.configs, e.s.EngagementScore, duration, e.s.ActiveEmotionTypes())

	e.s.EndTime = endTime
	e.s.Tier = tier
	e.s.Amount = amount

	if err := svc.repo.SaveSession(ctx, e.s); err != nil {
		e.s.EndTime = time.Time{}
		e.s.Amount = nil
		e.s.Tier = domain.TierBronze
		return fmt.Errorf("persist session end: %w", err)
	}

	svc.audit.Emit(ctx, audit.Event{
		Type:     audit.EventSessionEnded,
		Actor:    backend,
		User:     user,
		EntityID: sessionID,
		Amount:   amount.String(),
		Detail:   fmt.Sprintf("tier=%s score=%d duration=%ds", tier, e.s.EngagementScore, duration),
	})
	slog.Info("Session ended", "user", user, "session_id", sessionID,
		"tier", tier.String(), "amount", amount.String())
	return nil
}

// ClaimReward pays out an ended session's frozen reward exactly once. Only
// the session's own user may claim; the treasury debit and recipient
// transfer roll back together on failure.
func (svc *Service) ClaimReward(ctx context.Context, caller, user string, sessionID uint64) error {
	if caller != user {
		return domain.ErrNotSessionUser
	}

	e, err := svc.entryFor(user, sessionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.s.State() {
	case domain.SessionClaimed:
		return fmt.Errorf("session %s/%d: %w", user, sessionID, domain.ErrAlreadyClaimed)
	case domain.SessionOpen:
		return fmt.Errorf("session %s/%d is still open: %w", user, sessionID, domain.ErrSessionNotEnded)
	}

	amount := e.s.Amount
	if amount == nil {
		return fmt.Errorf("session %s/%d has no frozen reward: %w", user, sessionID, domain.ErrSessionNotEnded)
	}

	if err := svc.treasury.Debit(ctx, domain.AssetNative, amount); err != nil {
		return err
	}

	if amount.Sign() > 0 {
		if err := svc.transfer.TransferBatch(ctx, domain.AssetNative, []string{user}, []*big.Int{amount}); err != nil {
			if creditErr := svc.treasury.Credit(ctx, domain.AssetNative, amount); creditErr != nil {
				slog.Error("Treasury rollback failed after aborted claim transfer",
					"user", user, "session_id", sessionID, "error", creditErr)
			}
			return fmt.Errorf("transfer claim for %s/%d: %w", user, sessionID, err)
		}
	}

	e.s.Claimed = true
	if err := svc.repo.SaveSession(ctx, e.s); err != nil {
		// Funds have moved; the claimed bit stays set. Losing it would allow
		// a double claim.
		slog.Error("Failed to persist claim", "user", user, "session_id", sessionID, "error", err)
	}

	svc.mu.Lock()
	svc.addTotalLocked(user, amount)
	svc.mu.Unlock()

	metrics.RewardsClaimed.WithLabelValues(e.s.Tier.String()).Inc()
	svc.audit.Emit(ctx, audit.Event{
		Type:     audit.EventRewardClaimed,
		Actor:    caller,
		User:     user,
		EntityID: sessionID,
		Asset:    domain.AssetNative,
		Amount:   amount.String(),
		Detail:   fmt.Sprintf("tier=%s", e.s.Tier),
	})
	slog.Info("Reward claimed", "user", user, "session_id", sessionID, "amount", amount.String())
	return nil
}

// GetSession returns a snapshot of one session.
func (svc *Service) GetSession(user string, sessionID uint64) (*domain.Session, error) {
	e, err := svc.entryFor(user, sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.Clone(), nil
}

// GetEmotionData returns one emotion type's aggregate for a session.
func (svc *Service) GetEmotionData(user string, sessionID uint64, emotion domain.EmotionType) (domain.EmotionStat, error) {
	if !emotion.Valid() {
		return domain.EmotionStat{}, fmt.Errorf("emotion type %d: %w", uint8(emotion), errdefs.ErrInvalidArgument)
	}
	e, err := svc.entryFor(user, sessionID)
	if err != nil {
		return domain.EmotionStat{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.Emotions[emotion], nil
}

// PendingReward returns the frozen reward for an ended session, or a live
// preview against the current config while the session is open.
func (svc *Service) PendingReward(user string, sessionID uint64) (domain.RewardTier, *big.Int, error) {
	e, err := svc.entryFor(user, sessionID)
	if err != nil {
		return 0, nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.s.State() != domain.SessionOpen {
		return e.s.Tier, new(big.Int).Set(e.s.Amount), nil
	}
	duration := e.s.DurationSeconds(svc.now())
	tier, amount := reward.Calculate(svc.configs, e.s.EngagementScore, duration, e.s.ActiveEmotionTypes())
	return tier, amount, nil
}

// UserStats reports a user's session count and lifetime claimed rewards.
func (svc *Service) UserStats(user string) (sessions uint64, totalRewards *big.Int) {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	total := new(big.Int)
	if t, ok := svc.totals[user]; ok {
		total.Set(t)
	}
	return svc.counts[user], total
}

// AuthorizeBackend adds an address to the backend allow-list. Owner-only.
func (svc *Service) AuthorizeBackend(ctx context.Context, caller, address string) error {
	if !svc.owners[caller] {
		return domain.ErrNotOwner
	}
	if address == "" {
		return fmt.Errorf("empty backend address: %w", errdefs.ErrInvalidArgument)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	if err := svc.repo.AddBackend(ctx, address); err != nil {
		return fmt.Errorf("persist backend: %w", err)
	}
	svc.backends[address] = true

	svc.audit.Emit(ctx, audit.Event{
		Type:  audit.EventBackendAuthorized,
		Actor: caller,
		User:  address,
	})
	slog.Info("Backend authorized", "address", address, "by", caller)
	return nil
}

// RevokeBackend removes an address from the backend allow-list. Owner-only.
func (svc *Service) RevokeBackend(ctx context.Context, caller, address string) error {
	if !svc.owners[caller] {
		return domain.ErrNotOwner
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	if !svc.backends[address] {
		return fmt.Errorf("backend %s: %w", address, errdefs.ErrNotFound)
	}
	if err := svc.repo.RemoveBackend(ctx, address); err != nil {
		return fmt.Errorf("persist backend removal: %w", err)
	}
	delete(svc.backends, address)

	svc.audit.Emit(ctx, audit.Event{
		Type:  audit.EventBackendRevoked,
		Actor: caller,
		User:  address,
	})
	slog.Info("Backend revoked", "address", address, "by", caller)
	return nil
}

// IsBackend reports whether an address is on the allow-list.
func (svc *Service) IsBackend(address string) bool {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return svc.backends[address]
}

func (svc *Service) requireBackend(address string) error {
	if !svc.IsBackend(address) {
		return fmt.Errorf("address %s: %w", address, domain.ErrNotBackend)
	}
	return nil
}

func (svc *Service) entryFor(user string, sessionID uint64) (*sessionEntry, error) {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	e, ok := svc.sessions[user][sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s/%d: %w", user, sessionID, domain.ErrSessionNotFound)
	}
	return e, nil
}

// addTotalLocked requires svc.mu held.
func (svc *Service) addTotalLocked(user string, amount *big.Int) {
	total, ok := svc.totals[user]
	if !ok {
		total = new(big.Int)
		svc.totals[user] = total
	}
	total.Add(total, amount)
}
