package governance

import (
	"context"
	"math/big"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emohunter/incentive-engine/internal/audit"
	"github.com/emohunter/incentive-engine/internal/domain"
	"github.com/emohunter/incentive-engine/internal/reward"
	"github.com/emohunter/incentive-engine/internal/store/storetest"
)

var governors = map[string]bool{"gov1": true, "gov2": true, "gov3": true}

func newVoter(t *testing.T) (*Voter, *reward.ConfigStore, *storetest.Repo) {
	t.Helper()
	repo := storetest.New()
	configs := reward.NewConfigStore(reward.DefaultConfigs())
	v := NewVoter(repo, configs, governors, 2, audit.NewLog(repo, nil), nil)
	return v, configs, repo
}

func TestCreateProposalRequiresGovernor(t *testing.T) {
	v, _, _ := newVoter(t)

	_, err := v.CreateProposal(context.Background(), "stranger", "raise gold",
		domain.TierGold, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrNotGovernor)
}

func TestCreateProposalValidation(t *testing.T) {
	v, _, _ := newVoter(t)
	ctx := context.Background()

	_, err := v.CreateProposal(ctx, "gov1", "bad tier", domain.RewardTier(9), big.NewInt(1))
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)

	_, err = v.CreateProposal(ctx, "gov1", "zero reward", domain.TierGold, big.NewInt(0))
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)

	_, err = v.CreateProposal(ctx, "gov1", "nil reward", domain.TierGold, nil)
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)
}

func TestVoteAppliesAtQuorum(t *testing.T) {
	v, configs, repo := newVoter(t)
	ctx := context.Background()

	before := configs.Get(domain.TierGold).BaseReward
	raised := new(big.Int).Mul(before, big.NewInt(3))

	id, err := v.CreateProposal(ctx, "gov1", "triple gold", domain.TierGold, raised)
	require.NoError(t, err)

	// One vote of two: config untouched.
	require.NoError(t, v.Vote(ctx, "gov1", id))
	assert.Zero(t, configs.Get(domain.TierGold).BaseReward.Cmp(before))

	g, err := v.Get(id)
	require.NoError(t, err)
	assert.False(t, g.Executed)
	assert.Equal(t, 1, g.VoteCount)

	// The quorum vote applies the change inside the same call.
	require.NoError(t, v.Vote(ctx, "gov2", id))
	assert.Zero(t, configs.Get(domain.TierGold).BaseReward.Cmp(raised))

	g, err = v.Get(id)
	require.NoError(t, err)
	assert.True(t, g.Executed)
	assert.Equal(t, 2, g.VoteCount)

	// The applied config is persisted too.
	assert.Zero(t, repo.Tiers[domain.TierGold].BaseReward.Cmp(raised))
}

func TestVoteRejectsDuplicatesAndLateVotes(t *testing.T) {
	v, _, _ := newVoter(t)
	ctx := context.Background()

	id, err := v.CreateProposal(ctx, "gov1", "raise silver", domain.TierSilver, big.NewInt(7))
	require.NoError(t, err)

	require.NoError(t, v.Vote(ctx, "gov1", id))
	assert.ErrorIs(t, v.Vote(ctx, "gov1", id), domain.ErrAlreadyVoted)
	assert.ErrorIs(t, v.Vote(ctx, "stranger", id), domain.ErrNotGovernor)

	require.NoError(t, v.Vote(ctx, "gov2", id))

	// Proposal executed; a third vote cannot re-apply it.
	assert.ErrorIs(t, v.Vote(ctx, "gov3", id), domain.ErrAlreadyExecuted)

	g, err := v.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 2, g.VoteCount)
}

func TestVoteUnknownProposal(t *testing.T) {
	v, _, _ := newVoter(t)

	err := v.Vote(context.Background(), "gov1", 42)
	assert.ErrorIs(t, err, domain.ErrProposalNotFound)
}

func TestVoteRollsBackOnPersistFailure(t *testing.T) {
	v, configs, repo := newVoter(t)
	ctx := context.Background()

	before := configs.Get(domain.TierBronze).BaseReward

	id, err := v.CreateProposal(ctx, "gov1", "raise bronze", domain.TierBronze, big.NewInt(99))
	require.NoError(t, err)
	require.NoError(t, v.Vote(ctx, "gov1", id))

	// The quorum vote fails to persist: no execution, no config change.
	repo.FailWrites = true
	assert.Error(t, v.Vote(ctx, "gov2", id))
	repo.FailWrites = false

	g, err := v.Get(id)
	require.NoError(t, err)
	assert.False(t, g.Executed)
	assert.Equal(t, 1, g.VoteCount)
	assert.Zero(t, configs.Get(domain.TierBronze).BaseReward.Cmp(before))

	// The retried vote succeeds and applies.
	require.NoError(t, v.Vote(ctx, "gov2", id))
	assert.Zero(t, configs.Get(domain.TierBronze).BaseReward.Cmp(big.NewInt(99)))
}

func TestVoterResumesFromPersistedProposals(t *testing.T) {
	v, configs, repo := newVoter(t)
	ctx := context.Background()

	_, err := v.CreateProposal(ctx, "gov1", "first", domain.TierGold, big.NewInt(5))
	require.NoError(t, err)

	persisted, err := repo.ListGovernanceProposals(ctx)
	require.NoError(t, err)

	reloaded := NewVoter(repo, configs, governors, 2, audit.NewLog(repo, nil), persisted)

	id, err := reloaded.CreateProposal(ctx, "gov1", "second", domain.TierGold, big.NewInt(6))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id, "ids keep increasing across restarts")
}
