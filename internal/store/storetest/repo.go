// Package storetest provides an in-memory Repository for package tests.
package storetest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/emohunter/incentive-engine/internal/audit"
	"github.com/emohunter/incentive-engine/internal/domain"
)

// Repo is an in-memory store.Repository. Zero value is not usable; use New.
// FailWrites makes every mutating call fail, for rollback tests.
type Repo struct {
	mu         sync.Mutex
	FailWrites bool

	Balances  map[string]*big.Int
	Accounts  map[string]map[string]*big.Int
	Proposals map[uint64]*domain.Proposal
	Sessions  map[string]map[uint64]*domain.Session
	Tiers     map[domain.RewardTier]domain.TierConfig
	Gov       map[uint64]*domain.GovernanceProposal
	Backends  map[string]bool
	Events    []audit.Event
}

// New creates an empty in-memory repository.
func New() *Repo {
	return &Repo{
		Balances:  make(map[string]*big.Int),
		Accounts:  make(map[string]map[string]*big.Int),
		Proposals: make(map[uint64]*domain.Proposal),
		Sessions:  make(map[string]map[uint64]*domain.Session),
		Tiers:     make(map[domain.RewardTier]domain.TierConfig),
		Gov:       make(map[uint64]*domain.GovernanceProposal),
		Backends:  make(map[string]bool),
	}
}

func (r *Repo) failing() error {
	if r.FailWrites {
		return fmt.Errorf("storetest: writes disabled")
	}
	return nil
}

func (r *Repo) SetTreasuryBalance(_ context.Context, asset string, balance *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failing(); err != nil {
		return err
	}
	r.Balances[asset] = new(big.Int).Set(balance)
	return nil
}

func (r *Repo) ListTreasuryBalances(context.Context) (map[string]*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*big.Int, len(r.Balances))
	for k, v := range r.Balances {
		out[k] = new(big.Int).Set(v)
	}
	return out, nil
}

func (r *Repo) BatchCredit(_ context.Context, asset string, targets []string, amounts []*big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failing(); err != nil {
		return err
	}
	if r.Accounts[asset] == nil {
		r.Accounts[asset] = make(map[string]*big.Int)
	}
	for i, target := range targets {
		bal, ok := r.Accounts[asset][target]
		if !ok {
			bal = new(big.Int)
			r.Accounts[asset][target] = bal
		}
		bal.Add(bal, amounts[i])
	}
	return nil
}

func (r *Repo) GetAccountBalance(_ context.Context, asset, address string) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bal, ok := r.Accounts[asset][address]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

func (r *Repo) SaveProposal(_ context.Context, p *domain.Proposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failing(); err != nil {
		return err
	}
	r.Proposals[p.ID] = p.Clone()
	return nil
}

func (r *Repo) ListProposals(context.Context) ([]*domain.Proposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Proposal, 0, len(r.Proposals))
	for _, p := range r.Proposals {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (r *Repo) SaveSession(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failing(); err != nil {
		return err
	}
	if r.Sessions[s.User] == nil {
		r.Sessions[s.User] = make(map[uint64]*domain.Session)
	}
	r.Sessions[s.User][s.ID] = s.Clone()
	return nil
}

func (r *Repo) ListSessions(context.Context) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for _, byID := range r.Sessions {
		for _, s := range byID {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

func (r *Repo) SaveTierConfig(_ context.Context, tier domain.RewardTier, cfg domain.TierConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failing(); err != nil {
		return err
	}
	r.Tiers[tier] = cfg.Clone()
	return nil
}

func (r *Repo) ListTierConfigs(context.Context) (map[domain.RewardTier]domain.TierConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[domain.RewardTier]domain.TierConfig, len(r.Tiers))
	for k, v := range r.Tiers {
		out[k] = v.Clone()
	}
	return out, nil
}

func (r *Repo) SaveGovernanceProposal(_ context.Context, g *domain.GovernanceProposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failing(); err != nil {
		return err
	}
	r.Gov[g.ID] = g.Clone()
	return nil
}

func (r *Repo) ListGovernanceProposals(context.Context) ([]*domain.GovernanceProposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.GovernanceProposal, 0, len(r.Gov))
	for _, g := range r.Gov {
		out = append(out, g.Clone())
	}
	return out, nil
}

func (r *Repo) AddBackend(_ context.Context, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failing(); err != nil {
		return err
	}
	r.Backends[address] = true
	return nil
}

func (r *Repo) RemoveBackend(_ context.Context, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failing(); err != nil {
		return err
	}
	delete(r.Backends, address)
	return nil
}

func (r *Repo) ListBackends(context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Backends))
	for addr := range r.Backends {
		out = append(out, addr)
	}
	return out, nil
}

func (r *Repo) AppendAuditEvent(_ context.Context, ev audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failing(); err != nil {
		return err
	}
	r.Events = append(r.Events, ev)
	return nil
}

func (r *Repo) Ping(context.Context) error { return nil }

func (r *Repo) Close() error { return nil }
