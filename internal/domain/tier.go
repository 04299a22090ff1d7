package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/containerd/errdefs"
)

// RewardTier is the reward bracket frozen for a session at end time.
type RewardTier uint8

const (
	TierBronze RewardTier = iota
	TierSilver
	TierGold
	TierPlatinum

	// RewardTierCount is the number of reward tiers.
	RewardTierCount = 4
)

var tierNames = [RewardTierCount]string{"BRONZE", "SILVER", "GOLD", "PLATINUM"}

// String returns the canonical upper-case tier name.
func (t RewardTier) String() string {
	if int(t) < len(tierNames) {
		return tierNames[t]
	}
	return fmt.Sprintf("TIER(%d)", uint8(t))
}

// Valid reports whether the value is a known tier.
func (t RewardTier) Valid() bool {
	return int(t) < RewardTierCount
}

// ParseRewardTier converts a name like "GOLD" (case-insensitive) to its tier.
func ParseRewardTier(s string) (RewardTier, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range tierNames {
		if n == name {
			return RewardTier(i), nil
		}
	}
	return 0, fmt.Errorf("unknown reward tier %q: %w", s, errdefs.ErrInvalidArgument)
}

// TierConfig holds the reward parameters for one tier. All multipliers are
// percent-scaled integers (100 = 1.00x). BaseReward uses the asset's smallest
// unit (18 decimals). Mutable only through governance.
type TierConfig struct {
	BaseReward         *big.Int
	EmotionMultiplier  uint64
	DurationMultiplier uint64
	TierMultiplier     uint64
	Active             bool
}

// Clone returns a deep copy so callers cannot mutate shared config state.
func (c TierConfig) Clone() TierConfig {
	out := c
	if c.BaseReward != nil {
		out.BaseReward = new(big.Int).Set(c.BaseReward)
	}
	return out
}
