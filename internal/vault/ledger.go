// Package vault implements the M-of-N owner-approved fund disbursement
// workflow: submit, sign, execute.
package vault

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
	"github.com/emohunter/incentive-engine/internal/store"
	"github.com/emohunter/incentive-engine/internal/treasury"
)

// entry pairs a proposal with its single-writer lock so sign and execute on
// the same proposal never interleave.
type entry struct {
	mu sync.Mutex
	p  *domain.Proposal
}

// Ledger is the proposal ledger over the shared treasury.
type Ledger struct {
	mu        sync.RWMutex // guards proposals map and nextID
	proposals map[uint64]*entry
	nextID    uint64

	owners    map[string]bool
	threshold int

	treasury *treasury.Treasury
	transfer treasury.Transferer
	repo     store.Repository
	audit    *audit.Log
	now      func() time.Time
}

// NewLedger creates a ledger over the given owner set, seeded with persisted
// proposals.
func NewLedger(repo store.Repository, tr *treasury.Treasury, transfer treasury.Transferer,
	owners map[string]bool, threshold int, log *audit.Log, existing []*domain.Proposal) *Ledger {

	l := &Ledger{
		proposals: make(map[uint64]*entry),
		nextID:    1,
		owners:    owners,
		threshold: threshold,
		treasury:  tr,
		transfer:  transfer,
		repo:      repo,
		audit:     log,
		now:       time.Now,
	}
	for _, p := range existing {
		l.proposals[p.ID] = &entry{p: p}
		if p.ID >= l.nextID {
			l.nextID = p.ID + 1
		}
	}
	return l
}

// Submit creates a new disbursement proposal. Owner-only.
func (l *Ledger) Submit(ctx context.Context, caller, asset string, targets []string, amounts []*big.Int, description string) (uint64, error) {
	if !l.owners[caller] {
		return 0, domain.ErrNotOwner
	}
	if err := validatePayouts(targets, amounts); err != nil {
		return 0, err
	}
	if asset == "" {
		asset = domain.AssetNative
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p := &domain.Proposal{
		ID:          l.nextID,
		Proposer:    caller,
		Asset:       asset,
		Targets:     append([]string(nil), targets...),
		Amounts:     cloneAmounts(amounts),
		Description: description,
		Signers:     make(map[string]bool),
		CreatedAt:   l.now(),
	}

	if err := l.repo.SaveProposal(ctx, p); err != nil {
		return 0, fmt.Errorf("persist proposal: %w", err)
	}
	l.proposals[p.ID] = &entry{p: p}
	l.nextID++

	l.audit.Emit(ctx, audit.Event{
		Type:     audit.EventProposalSubmitted,
		Actor:    caller,
		EntityID: p.ID,
		Asset:    asset,
		Amount:   p.Total().String(),
		Detail:   description,
	})
	slog.Info("Proposal submitted", "id", p.ID, "proposer", caller, "total", p.Total().String())
	return p.ID, nil
}

// Sign adds the caller's signature to a pending proposal. Owner-only; each
// owner counts once.
func (l *Ledger) Sign(ctx context.Context, caller string, id uint64) error {
	if !l.owners[caller] {
		return domain.ErrNotOwner
	}

	e, err := l.entryFor(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.p.Executed {
		return domain.ErrAlreadyExecuted
	}
	if e.p.HasSigned(caller) {
		return domain.ErrAlreadySigned
	}

	e.p.Signers[caller] = true
	e.p.VoteCount++

	if err := l.repo.SaveProposal(ctx, e.p); err != nil {
		delete(e.p.Signers, caller)
		e.p.VoteCount--
		return fmt.Errorf("persist signature: %w", err)
	}

	l.audit.Emit(ctx, audit.Event{
		Type:     audit.EventProposalSigned,
		Actor:    caller,
		EntityID: id,
		Detail:   fmt.Sprintf("votes=%d threshold=%d", e.p.VoteCount, l.threshold),
	})
	return nil
}

// Execute disburses an approved proposal. Callable by anyone once the
// signature threshold is met. The executed flag flips before the transfer
// (checks-effects-interactions); a transfer failure rolls back the flag and
// the treasury debit, leaving the proposal re-executable.
func (l *Ledger) Execute(ctx context.Context, caller string, id uint64) error {
	e, err := l.entryFor(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.p.Executed {
		return domain.ErrAlreadyExecuted
	}
	if e.p.VoteCount < l.threshold {
		return fmt.Errorf("proposal %d has %d of %d signatures: %w",
			id, e.p.VoteCount, l.threshold, domain.ErrThresholdNotMet)
	}

	total := e.p.Total()
	e.p.Executed = true

	if err := l.treasury.Debit(ctx, e.p.Asset, total); err != nil {
		e.p.Executed = false
		return err
	}

	if err := l.transfer.TransferBatch(ctx, e.p.Asset, e.p.Targets, e.p.Amounts); err != nil {
		e.p.Executed = false
		if creditErr := l.treasury.Credit(ctx, e.p.Asset, total); creditErr != nil {
			slog.Error("Treasury rollback failed after aborted transfer",
				"proposal", id, "amount", total.String(), "error", creditErr)
		}
		return fmt.Errorf("transfer for proposal %d: %w", id, err)
	}

	if err := l.repo.SaveProposal(ctx, e.p); err != nil {
		// Funds have moved; the flag stays set and the record heals on the
		// next save. Losing the executed bit here would allow a double spend.
		slog.Error("Failed to persist executed proposal", "proposal", id, "error", err)
	}

	l.audit.Emit(ctx, audit.Event{
		Type:     audit.EventProposalExecuted,
		Actor:    caller,
		EntityID: id,
		Asset:    e.p.Asset,
		Amount:   total.String(),
	})
	slog.Info("Proposal executed", "id", id, "caller", caller, "total", total.String())
	return nil
}

// Get returns a snapshot of one proposal.
func (l *Ledger) Get(id uint64) (*domain.Proposal, error) {
	e, err := l.entryFor(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.p.Clone(), nil
}

// Threshold returns the signature quorum.
func (l *Ledger) Threshold() int {
	return l.threshold
}

func (l *Ledger) entryFor(id uint64) (*entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.proposals[id]
	if !ok {
		return nil, fmt.Errorf("proposal %d: %w", id, domain.ErrProposalNotFound)
	}
	return e, nil
}

func validatePayouts(targets []string, amounts []*big.Int) error {
	if len(targets) == 0 || len(targets) != len(amounts) {
		return fmt.Errorf("%d targets and %d amounts: %w",
			len(targets), len(amounts), errdefs.ErrInvalidArgument)
	}
	total := new(big.Int)
	for i, a := range amounts {
		if targets[i] == "" {
			return fmt.Errorf("empty target at index %d: %w", i, errdefs.ErrInvalidArgument)
		}
		if a == nil || a.Sign() < 0 {
			return fmt.Errorf("negative amount at index %d: %w", i, errdefs.ErrInvalidArgument)
		}
		total.Add(total, a)
	}
	if total.Sign() <= 0 {
		return fmt.Errorf("zero total payout: %w", errdefs.ErrInvalidArgument)
	}
	return nil
}

func cloneAmounts(amounts []*big.Int) []*big.Int {
	out := make([]*big.Int, len(amounts))
	for i, a := range amounts {
		out[i] = new(big.Int).Set(a)
	}
	return out
}
