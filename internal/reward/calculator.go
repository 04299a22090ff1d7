// Package reward implements the deterministic session-to-reward mapping.
//
// Everything here is pure integer arithmetic. The multiply/divide ordering in
// Amount is load-bearing: reordering changes truncation and breaks parity
// with previously settled rewards.
package reward

import (
	"math/big"

	"github.com/emohunter/incentive-engine/internal/domain"
)

// Engagement weights, percent-scaled relative to neutral = 100.
// Indexed by domain.EmotionType.
var weights = [domain.EmotionTypeCount]uint64{
	domain.EmotionHappy:     120,
	domain.EmotionSad:       110,
	domain.EmotionAngry:     130,
	domain.EmotionSurprised: 150,
	domain.EmotionFearful:   140,
	domain.EmotionDisgusted: 105,
	domain.EmotionNeutral:   100,
}

// Weight returns the percent-scaled engagement weight for an emotion type.
func Weight(e domain.EmotionType) uint64 {
	if !e.Valid() {
		return 0
	}
	return weights[e]
}

// ScoreDelta converts one emotion observation into engagement score points:
// weight percent times whole seconds of duration.
func ScoreDelta(e domain.EmotionType, durationMs uint64) uint64 {
	return Weight(e) * durationMs / 1000
}

// Tier thresholds, evaluated highest first; first match wins.
const (
	platinumScore    = 1000
	platinumDuration = 1800
	goldScore        = 500
	goldDuration     = 900
	silverScore      = 200
	silverDuration   = 300
)

// ClassifyTier maps accumulated metrics to a reward tier.
func ClassifyTier(score, durationSeconds uint64) domain.RewardTier {
	switch {
	case score >= platinumScore && durationSeconds >= platinumDuration:
		return domain.TierPlatinum
	case score >= goldScore && durationSeconds >= goldDuration:
		return domain.TierGold
	case score >= silverScore && durationSeconds >= silverDuration:
		return domain.TierSilver
	default:
		return domain.TierBronze
	}
}

// DiversityFactor is percent-scaled, 100 (one emotion type) to 200 (all 7).
func DiversityFactor(activeEmotionTypes int) uint64 {
	if activeEmotionTypes < 0 {
		activeEmotionTypes = 0
	}
	if activeEmotionTypes > domain.EmotionTypeCount {
		activeEmotionTypes = domain.EmotionTypeCount
	}
	return 100 + uint64(activeEmotionTypes)*100/domain.EmotionTypeCount
}

// Amount computes the payout for a session under cfg:
//
//	base * emoMult * diversity / 10000 * durMult * durSec / (300*100) * tierMult / 100
//
// applied strictly left to right. Inactive configs pay nothing.
func Amount(cfg domain.TierConfig, durationSeconds uint64, activeEmotionTypes int) *big.Int {
	if !cfg.Active || cfg.BaseReward == nil {
		return new(big.Int)
	}

	amount := new(big.Int).Set(cfg.BaseReward)
	amount.Mul(amount, new(big.Int).SetUint64(cfg.EmotionMultiplier))
	amount.Mul(amount, new(big.Int).SetUint64(DiversityFactor(activeEmotionTypes)))
	amount.Div(amount, big.NewInt(10000))
	amount.Mul(amount, new(big.Int).SetUint64(cfg.DurationMultiplier))
	amount.Mul(amount, new(big.Int).SetUint64(durationSeconds))
	amount.Div(amount, big.NewInt(300*100))
	amount.Mul(amount, new(big.Int).SetUint64(cfg.TierMultiplier))
	amount.Div(amount, big.NewInt(100))
	return amount
}

// Calculate classifies the tier for the given metrics and computes the payout
// under that tier's config.
func Calculate(configs *ConfigStore, score, durationSeconds uint64, activeEmotionTypes int) (domain.RewardTier, *big.Int) {
	tier := ClassifyTier(score, durationSeconds)
	cfg := configs.Get(tier)
	return tier, Amount(cfg, durationSeconds, activeEmotionTypes)
}
