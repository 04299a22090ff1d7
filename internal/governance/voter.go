// Package governance implements the threshold-vote path for mutating reward
// parameters. A proposal applies itself synchronously inside the vote call
// that first reaches quorum.
package governance

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
	"github.com/emohunter/incentive-engine/internal/reward"
	"github.com/emohunter/incentive-engine/internal/store"
)

type entry struct {
	mu sync.Mutex
	g  *domain.GovernanceProposal
}

// Voter is the governance proposal ledger over the reward config store.
type Voter struct {
	mu        sync.RWMutex // guards proposals map and nextID
	proposals map[uint64]*entry
	nextID    uint64

	governors map[string]bool
	threshold int

	configs *reward.ConfigStore
	repo    store.Repository
	audit   *audit.Log
	now     func() time.Time
}

// NewVoter creates a voter over the given governor set, seeded with
// persisted governance proposals.
func NewVoter(repo store.Repository, configs *reward.ConfigStore,
	governors map[string]bool, threshold int, log *audit.Log,
	existing []*domain.GovernanceProposal) *Voter {

	v := &Voter{
		proposals: make(map[uint64]*entry),
		nextID:    1,
		governors: governors,
		threshold: threshold,
		configs:   configs,
		repo:      repo,
		audit:     log,
		now:       time.Now,
	}
	for _, g := range existing {
		v.proposals[g.ID] = &entry{g: g}
		if g.ID >= v.nextID {
			v.nextID = g.ID + 1
		}
	}
	return v
}

// CreateProposal opens a vote on a new base reward for one tier.
// Governor-only.
func (v *Voter) CreateProposal(ctx context.Context, caller, description string, tier domain.RewardTier, newBaseReward *big.Int) (uint64, error) {
	if !v.governors[caller] {
		return 0, domain.ErrNotGovernor
	}
	if !tier.Valid() {
		return 0, fmt.Errorf("tier %d: %w", uint8(tier), errdefs.ErrInvalidArgument)
	}
	if newBaseReward == nil || newBaseReward.Sign() <= 0 {
		return 0, fmt.Errorf("base reward must be positive: %w", errdefs.ErrInvalidArgument)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	g := &domain.GovernanceProposal{
		ID:            v.nextID,
		Proposer:      caller,
		Description:   description,
		Tier:          tier,
		NewBaseReward: new(big.Int).Set(newBaseReward),
		Voters:        make(map[string]bool),
		CreatedAt:     v.now(),
	}

	if err := v.repo.SaveGovernanceProposal(ctx, g); err != nil {
		return 0, fmt.Errorf("persist governance proposal: %w", err)
	}
	v.proposals[g.ID] = &entry{g: g}
	v.nextID++

	v.audit.Emit(ctx, audit.Event{
		Type:     audit.EventGovernanceCreated,
		Actor:    caller,
		EntityID: g.ID,
		Amount:   g.NewBaseReward.String(),
		Detail:   fmt.Sprintf("tier=%s %s", tier, description),
	})
	slog.Info("Governance proposal created", "id", g.ID, "tier", tier.String(),
		"new_base_reward", g.NewBaseReward.String())
	return g.ID, nil
}

// Vote records one governor's vote. The vote that first reaches quorum also
// applies the proposed base reward and marks the proposal executed, all
// inside this call. Votes after execution fail.
func (v *Voter) Vote(ctx context.Context, caller string, id uint64) error {
	if !v.governors[caller] {
		return domain.ErrNotGovernor
	}

	e, err := v.entryFor(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.g.Executed {
		return domain.ErrAlreadyExecuted
	}
	if e.g.HasVoted(caller) {
		return domain.ErrAlreadyVoted
	}

	e.g.Voters[caller] = true
	e.g.VoteCount++
	reached := e.g.VoteCount >= v.threshold
	if reached {
		e.g.Executed = true
	}

	if err := v.repo.SaveGovernanceProposal(ctx, e.g); err != nil {
		delete(e.g.Voters, caller)
		e.g.VoteCount--
		e.g.Executed = false
		return fmt.Errorf("persist vote: %w", err)
	}

	v.audit.Emit(ctx, audit.Event{
		Type:     audit.EventGovernanceVoted,
		Actor:    caller,
		EntityID: id,
		Detail:   fmt.Sprintf("votes=%d threshold=%d", e.g.VoteCount, v.threshold),
	})

	if !reached {
		return nil
	}

	v.configs.SetBaseReward(e.g.Tier, e.g.NewBaseReward)
	cfg := v.configs.Get(e.g.Tier)
	if err := v.repo.SaveTierConfig(ctx, e.g.Tier, cfg); err != nil {
		// The live config has already changed; the row heals on the next
		// config write. Do not unwind the executed vote.
		slog.Error("Failed to persist tier config", "tier", e.g.Tier.String(), "error", err)
	}

	v.audit.Emit(ctx, audit.Event{
		Type:     audit.EventGovernanceApplied,
		Actor:    caller,
		EntityID: id,
		Amount:   e.g.NewBaseReward.String(),
		Detail:   fmt.Sprintf("tier=%s", e.g.Tier),
	})
	slog.Info("Governance proposal applied", "id", id, "tier", e.g.Tier.String(),
		"new_base_reward", e.g.NewBaseReward.String())
	return nil
}

// Get returns a snapshot of one governance proposal.
func (v *Voter) Get(id uint64) (*domain.GovernanceProposal, error) {
	e, err := v.entryFor(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.g.Clone(), nil
}

// Threshold returns the vote quorum.
func (v *Voter) Threshold() int {
	return v.threshold
}

func (v *Voter) entryFor(id uint64) (*entry, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.proposals[id]
	if !ok {
		return nil, fmt.Errorf("governance proposal %d: %w", id, domain.ErrProposalNotFound)
	}
	return e, nil
}
