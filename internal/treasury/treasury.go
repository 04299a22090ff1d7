// Package treasury custodies the engine's per-asset balances and provides
// the single atomic debit primitive shared by vault execution and reward
// claims.
package treasury

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/containerd/errdefs"

	"github.com/emohunter/incentive-engine/internal/domain"
	"github.com/emohunter/incentive-engine/internal/metrics"
	"github.com/emohunter/incentive-engine/internal/store"
)

// Transferer moves funds out of custody to external recipients. It is the
// only blocking, fallible step in any operation; a failure aborts the
// enclosing operation entirely. The batch is atomic: either every target is
// credited or none is.
type Transferer interface {
	TransferBatch(ctx context.Context, asset string, targets []string, amounts []*big.Int) error
}

// BookTransferer settles transfers by crediting recipient book accounts in
// the repository, inside one transaction.
type BookTransferer struct {
	Repo store.Repository
}

// TransferBatch implements Transferer.
func (b *BookTransferer) TransferBatch(ctx context.Context, asset string, targets []string, amounts []*big.Int) error {
	return b.Repo.BatchCredit(ctx, asset, targets, amounts)
}

// Treasury holds custody balances. All balance changes happen under one lock
// so a debit is a single compare-and-decrement; concurrent claim and vault
// execution paths can never jointly overdraw an asset.
type Treasury struct {
	mu       sync.RWMutex
	balances map[string]*big.Int
	owners   map[string]bool
	repo     store.Repository
}

// New creates a treasury over the given owner set, seeded with persisted
// balances.
func New(repo store.Repository, owners map[string]bool, balances map[string]*big.Int) *Treasury {
	t := &Treasury{
		balances: make(map[string]*big.Int),
		owners:   owners,
		repo:     repo,
	}
	for asset, bal := range balances {
		t.balances[asset] = new(big.Int).Set(bal)
		metrics.TreasuryBalance.WithLabelValues(asset).Set(toTokens(bal))
	}
	return t
}

// Deposit increases custody of an asset. Owner-only; amount must be positive.
func (t *Treasury) Deposit(ctx context.Context, caller, asset string, amount *big.Int) error {
	if !t.owners[caller] {
		return domain.ErrNotOwner
	}
	if asset == "" {
		return fmt.Errorf("empty asset identifier: %w", errdefs.ErrInvalidArgument)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("deposit amount must be positive: %w", errdefs.ErrInvalidArgument)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	balance, ok := t.balances[asset]
	if !ok {
		balance = new(big.Int)
	}
	updated := new(big.Int).Add(balance, amount)

	if err := t.repo.SetTreasuryBalance(ctx, asset, updated); err != nil {
		return fmt.Errorf("persist deposit: %w", err)
	}
	t.balances[asset] = updated
	metrics.TreasuryBalance.WithLabelValues(asset).Set(toTokens(updated))

	slog.Info("Treasury deposit", "asset", asset, "amount", amount.String(), "balance", updated.String())
	return nil
}

// DepositNative deposits the chain-native asset.
func (t *Treasury) DepositNative(ctx context.Context, caller string, amount *big.Int) error {
	return t.Deposit(ctx, caller, domain.AssetNative, amount)
}

// Debit decrements custody atomically. Fails with insufficient funds when
// balance < amount; no partial debit is ever observable.
func (t *Treasury) Debit(ctx context.Context, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("debit amount must be non-negative: %w", errdefs.ErrInvalidArgument)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	balance, ok := t.balances[asset]
	if !ok || balance.Cmp(amount) < 0 {
		return fmt.Errorf("asset %s: %w", asset, domain.ErrInsufficientFunds)
	}
	updated := new(big.Int).Sub(balance, amount)

	if err := t.repo.SetTreasuryBalance(ctx, asset, updated); err != nil {
		return fmt.Errorf("persist debit: %w", err)
	}
	t.balances[asset] = updated
	metrics.TreasuryBalance.WithLabelValues(asset).Set(toTokens(updated))
	return nil
}

// Credit returns funds to custody. Used by the rollback path when an
// external transfer fails after a debit.
func (t *Treasury) Credit(ctx context.Context, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("credit amount must be non-negative: %w", errdefs.ErrInvalidArgument)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	balance, ok := t.balances[asset]
	if !ok {
		balance = new(big.Int)
	}
	updated := new(big.Int).Add(balance, amount)

	if err := t.repo.SetTreasuryBalance(ctx, asset, updated); err != nil {
		return fmt.Errorf("persist credit: %w", err)
	}
	t.balances[asset] = updated
	metrics.TreasuryBalance.WithLabelValues(asset).Set(toTokens(updated))
	return nil
}

// Balance returns a snapshot of one asset's custody balance.
func (t *Treasury) Balance(asset string) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if balance, ok := t.balances[asset]; ok {
		return new(big.Int).Set(balance)
	}
	return new(big.Int)
}

var tokenUnit = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

func toTokens(amount *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(amount), tokenUnit).Float64()
	return f
}
