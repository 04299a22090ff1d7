package domain

import (
	"math/big"
	"time"
)

// GovernanceProposal is a pending change to one tier's base reward, applied
// automatically by the vote that first reaches quorum.
type GovernanceProposal struct {
	ID            uint64
	Proposer      string
	Description   string
	Tier          RewardTier
	NewBaseReward *big.Int
	VoteCount     int
	Executed      bool
	Voters        map[string]bool
	CreatedAt     time.Time
}

// HasVoted reports whether addr is already in the voter set.
func (g *GovernanceProposal) HasVoted(addr string) bool {
	return g.Voters[addr]
}

// Clone returns a deep copy safe to hand out to readers.
func (g *GovernanceProposal) Clone() *GovernanceProposal {
	out := *g
	if g.NewBaseReward != nil {
		out.NewBaseReward = new(big.Int).Set(g.NewBaseReward)
	}
	out.Voters = make(map[string]bool, len(g.Voters))
	for k, v := range g.Voters {
		out.Voters[k] = v
	}
	return &out
}
