package reward

import (
	"math/big"
	"sync"

	"github.com/emohunter/incentive-engine/internal/domain"
)

// oneToken is 10^18, the smallest-unit scale of one whole token.
var oneToken = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), oneToken)
}

// DefaultConfigs returns the launch tier parameters.
func DefaultConfigs() [domain.RewardTierCount]domain.TierConfig {
	return [domain.RewardTierCount]domain.TierConfig{
		domain.TierBronze:   {BaseReward: tokens(10), EmotionMultiplier: 100, DurationMultiplier: 100, TierMultiplier: 100, Active: true},
		domain.TierSilver:   {BaseReward: tokens(25), EmotionMultiplier: 110, DurationMultiplier: 100, TierMultiplier: 125, Active: true},
		domain.TierGold:     {BaseReward: tokens(50), EmotionMultiplier: 125, DurationMultiplier: 100, TierMultiplier: 150, Active: true},
		domain.TierPlatinum: {BaseReward: tokens(100), EmotionMultiplier: 150, DurationMultiplier: 100, TierMultiplier: 200, Active: true},
	}
}

// ConfigStore holds the live per-tier configs. Reads return copies; writes
// happen only through governance.
type ConfigStore struct {
	mu    sync.RWMutex
	tiers [domain.RewardTierCount]domain.TierConfig
}

// NewConfigStore creates a store seeded with the given configs.
func NewConfigStore(tiers [domain.RewardTierCount]domain.TierConfig) *ConfigStore {
	s := &ConfigStore{}
	for i, c := range tiers {
		s.tiers[i] = c.Clone()
	}
	return s
}

// Get returns a copy of one tier's config.
func (s *ConfigStore) Get(t domain.RewardTier) domain.TierConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tiers[t].Clone()
}

// All returns a copy of every tier config.
func (s *ConfigStore) All() [domain.RewardTierCount]domain.TierConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out [domain.RewardTierCount]domain.TierConfig
	for i, c := range s.tiers {
		out[i] = c.Clone()
	}
	return out
}

// SetBaseReward replaces one tier's base reward. Called by governance once a
// proposal reaches quorum.
func (s *ConfigStore) SetBaseReward(t domain.RewardTier, amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiers[t].BaseReward = new(big.Int).Set(amount)
}
