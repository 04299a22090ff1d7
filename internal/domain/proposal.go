package domain

import (
	"math/big"
	"time"
)

// AssetNative identifies the chain-native asset custodied by the treasury.
// Rewards are always paid in the native asset.
const AssetNative = "native"

// Proposal is a pending fund disbursement awaiting M-of-N owner approval.
// Targets and Amounts are parallel arrays of equal length.
type Proposal struct {
	ID          uint64
	Proposer    string
	Asset       string
	Targets     []string
	Amounts     []*big.Int
	Description string
	VoteCount   int
	Executed    bool
	Signers     map[string]bool
	CreatedAt   time.Time
}

// Total sums the proposal's payout amounts.
func (p *Proposal) Total() *big.Int {
	total := new(big.Int)
	for _, a := range p.Amounts {
		total.Add(total, a)
	}
	return total
}

// HasSigned reports whether addr is already in the signer set.
func (p *Proposal) HasSigned(addr string) bool {
	return p.Signers[addr]
}

// Clone returns a deep copy safe to hand out to readers.
func (p *Proposal) Clone() *Proposal {
	out := *p
	out.Targets = append([]string(nil), p.Targets...)
	out.Amounts = make([]*big.Int, len(p.Amounts))
	for i, a := range p.Amounts {
		out.Amounts[i] = new(big.Int).Set(a)
	}
	out.Signers = make(map[string]bool, len(p.Signers))
	for k, v := range p.Signers {
		out.Signers[k] = v
	}
	return &out
}
