// Package metrics registers the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transitions counts audit-logged state transitions by event type.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "incentived",
		Name:      "transitions_total",
		Help:      "State transitions recorded by the audit log.",
	}, []string{"type"})

	// TreasuryBalance tracks custody balances in whole tokens by asset.
	TreasuryBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "incentived",
		Name:      "treasury_balance_tokens",
		Help:      "Treasury custody balance in whole tokens.",
	}, []string{"asset"})

	// RewardsClaimed counts successful reward claims by tier.
	RewardsClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "incentived",
		Name:      "rewards_claimed_total",
		Help:      "Successful reward claims by tier.",
	}, []string{"tier"})
)
