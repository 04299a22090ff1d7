package vault

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emohunter/incentive-engine/internal/audit"
	"github.com/emohunter/incentive-engine/internal/domain"
	"github.com/emohunter/incentive-engine/internal/store/storetest"
	"github.com/emohunter/incentive-engine/internal/treasury"
)

type fixture struct {
	ledger   *Ledger
	treasury *treasury.Treasury
	repo     *storetest.Repo
}

// failingTransferer rejects every batch, for rollback tests.
type failingTransferer struct{}

func (failingTransferer) TransferBatch(context.Context, string, []string, []*big.Int) error {
	return fmt.Errorf("transfer backend unavailable")
}

func newFixture(t *testing.T, transfer treasury.Transferer) *fixture {
	t.Helper()
	repo := storetest.New()
	owners := map[string]bool{"owner1": true, "owner2": true, "owner3": true, "owner4": true}
	tr := treasury.New(repo, owners, nil)
	if transfer == nil {
		transfer = &treasury.BookTransferer{Repo: repo}
	}
	log := audit.NewLog(repo, nil)
	return &fixture{
		ledger:   NewLedger(repo, tr, transfer, owners, 3, log, nil),
		treasury: tr,
		repo:     repo,
	}
}

func (f *fixture) fund(t *testing.T, amount int64) {
	t.Helper()
	require.NoError(t, f.treasury.DepositNative(context.Background(), "owner1", big.NewInt(amount)))
}

func TestSubmitRequiresOwner(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.ledger.Submit(context.Background(), "stranger", "",
		[]string{"alice"}, []*big.Int{big.NewInt(10)}, "payout")
	assert.ErrorIs(t, err, domain.ErrNotOwner)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		targets []string
		amounts []*big.Int
	}{
		{"no targets", nil, nil},
		{"length mismatch", []string{"alice", "bob"}, []*big.Int{big.NewInt(10)}},
		{"empty target", []string{""}, []*big.Int{big.NewInt(10)}},
		{"negative amount", []string{"alice"}, []*big.Int{big.NewInt(-1)}},
		{"nil amount", []string{"alice"}, []*big.Int{nil}},
		{"zero total", []string{"alice", "bob"}, []*big.Int{big.NewInt(0), big.NewInt(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.Submit(ctx, "owner1", "", tt.targets, tt.amounts, "bad")
			assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)
		})
	}

	// Rejected submissions never consume a proposal id.
	id, err := f.ledger.Submit(ctx, "owner1", "", []string{"alice"}, []*big.Int{big.NewInt(1)}, "ok")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
}

func TestSubmitSignExecute(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.fund(t, 100)

	id, err := f.ledger.Submit(ctx, "owner1", "",
		[]string{"alice", "bob"}, []*big.Int{big.NewInt(30), big.NewInt(20)}, "team payout")
	require.NoError(t, err)

	require.NoError(t, f.ledger.Sign(ctx, "owner1", id))
	require.NoError(t, f.ledger.Sign(ctx, "owner2", id))

	// Two of three signatures: execute is premature.
	err = f.ledger.Execute(ctx, "owner1", id)
	assert.ErrorIs(t, err, domain.ErrThresholdNotMet)
	assert.Equal(t, int64(100), f.treasury.Balance(domain.AssetNative).Int64())

	require.NoError(t, f.ledger.Sign(ctx, "owner3", id))
	require.NoError(t, f.ledger.Execute(ctx, "anyone", id))

	assert.Equal(t, int64(50), f.treasury.Balance(domain.AssetNative).Int64())

	alice, err := f.repo.GetAccountBalance(ctx, domain.AssetNative, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(30), alice.Int64())
	bob, err := f.repo.GetAccountBalance(ctx, domain.AssetNative, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(20), bob.Int64())

	p, err := f.ledger.Get(id)
	require.NoError(t, err)
	assert.True(t, p.Executed)
}

func TestSignRejectsDuplicatesAndStrangers(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.ledger.Submit(ctx, "owner1", "", []string{"alice"}, []*big.Int{big.NewInt(10)}, "")
	require.NoError(t, err)

	assert.ErrorIs(t, f.ledger.Sign(ctx, "stranger", id), domain.ErrNotOwner)

	require.NoError(t, f.ledger.Sign(ctx, "owner1", id))
	err = f.ledger.Sign(ctx, "owner1", id)
	assert.ErrorIs(t, err, domain.ErrAlreadySigned)

	p, err := f.ledger.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 1, p.VoteCount)
}

func TestSignRollsBackOnPersistFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.ledger.Submit(ctx, "owner1", "", []string{"alice"}, []*big.Int{big.NewInt(10)}, "")
	require.NoError(t, err)

	f.repo.FailWrites = true
	assert.Error(t, f.ledger.Sign(ctx, "owner2", id))
	f.repo.FailWrites = false

	p, err := f.ledger.Get(id)
	require.NoError(t, err)
	assert.Zero(t, p.VoteCount)
	assert.False(t, p.HasSigned("owner2"))

	// The signature still goes through once persistence recovers.
	require.NoError(t, f.ledger.Sign(ctx, "owner2", id))
}

func TestExecuteUnknownProposal(t *testing.T) {
	f := newFixture(t, nil)

	err := f.ledger.Execute(context.Background(), "owner1", 99)
	assert.ErrorIs(t, err, domain.ErrProposalNotFound)
}

func TestExecuteExactlyOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.fund(t, 100)

	id, err := f.ledger.Submit(ctx, "owner1", "", []string{"alice"}, []*big.Int{big.NewInt(40)}, "")
	require.NoError(t, err)
	for _, owner := range []string{"owner1", "owner2", "owner3"} {
		require.NoError(t, f.ledger.Sign(ctx, owner, id))
	}

	require.NoError(t, f.ledger.Execute(ctx, "owner1", id))

	err = f.ledger.Execute(ctx, "owner1", id)
	assert.ErrorIs(t, err, domain.ErrAlreadyExecuted)
	assert.Equal(t, int64(60), f.treasury.Balance(domain.AssetNative).Int64())

	// No signatures after execution either.
	assert.ErrorIs(t, f.ledger.Sign(ctx, "owner4", id), domain.ErrAlreadyExecuted)
}

func TestExecuteInsufficientFunds(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.fund(t, 30)

	id, err := f.ledger.Submit(ctx, "owner1", "", []string{"alice"}, []*big.Int{big.NewInt(40)}, "")
	require.NoError(t, err)
	for _, owner := range []string{"owner1", "owner2", "owner3"} {
		require.NoError(t, f.ledger.Sign(ctx, owner, id))
	}

	err = f.ledger.Execute(ctx, "owner1", id)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, int64(30), f.treasury.Balance(domain.AssetNative).Int64())

	p, err := f.ledger.Get(id)
	require.NoError(t, err)
	assert.False(t, p.Executed)
}

func TestExecuteRollsBackOnTransferFailure(t *testing.T) {
	f := newFixture(t, failingTransferer{})
	ctx := context.Background()
	f.fund(t, 100)

	id, err := f.ledger.Submit(ctx, "owner1", "", []string{"alice"}, []*big.Int{big.NewInt(40)}, "")
	require.NoError(t, err)
	for _, owner := range []string{"owner1", "owner2", "owner3"} {
		require.NoError(t, f.ledger.Sign(ctx, owner, id))
	}

	require.Error(t, f.ledger.Execute(ctx, "owner1", id))

	// Debit rolled back and proposal stays executable.
	assert.Equal(t, int64(100), f.treasury.Balance(domain.AssetNative).Int64())
	p, err := f.ledger.Get(id)
	require.NoError(t, err)
	assert.False(t, p.Executed)
}

func TestLedgerResumesFromPersistedProposals(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.ledger.Submit(ctx, "owner1", "", []string{"alice"}, []*big.Int{big.NewInt(10)}, "first")
	require.NoError(t, err)

	persisted, err := f.repo.ListProposals(ctx)
	require.NoError(t, err)

	owners := map[string]bool{"owner1": true}
	reloaded := NewLedger(f.repo, f.treasury, &treasury.BookTransferer{Repo: f.repo},
		owners, 3, audit.NewLog(f.repo, nil), persisted)

	id, err := reloaded.Submit(ctx, "owner1", "", []string{"bob"}, []*big.Int{big.NewInt(5)}, "second")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id, "ids keep increasing across restarts")
}
