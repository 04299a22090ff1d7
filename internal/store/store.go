// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"math/big"

	"github.com/emohunter/incentive-engine/internal/audit"
	"github.com/emohunter/incentive-engine/internal/domain"
)

// Repository persists engine state. The in-memory engine is authoritative;
// every mutation writes through here and rolls back on failure.
type Repository interface {
	// Treasury custody balances, one row per asset.
	SetTreasuryBalance(ctx context.Context, asset string, balance *big.Int) error
	ListTreasuryBalances(ctx context.Context) (map[string]*big.Int, error)

	// Book accounts credited by fund transfers.
	BatchCredit(ctx context.Context, asset string, targets []string, amounts []*big.Int) error
	GetAccountBalance(ctx context.Context, asset, address string) (*big.Int, error)

	// Disbursement proposals, upserted whole (including signer set).
	SaveProposal(ctx context.Context, p *domain.Proposal) error
	ListProposals(ctx context.Context) ([]*domain.Proposal, error)

	// Sessions, upserted whole (including per-emotion aggregates).
	SaveSession(ctx context.Context, s *domain.Session) error
	ListSessions(ctx context.Context) ([]*domain.Session, error)

	// Per-tier reward configs.
	SaveTierConfig(ctx context.Context, tier domain.RewardTier, cfg domain.TierConfig) error
	ListTierConfigs(ctx context.Context) (map[domain.RewardTier]domain.TierConfig, error)

	// Governance proposals, upserted whole (including voter set).
	SaveGovernanceProposal(ctx context.Context, g *domain.GovernanceProposal) error
	ListGovernanceProposals(ctx context.Context) ([]*domain.GovernanceProposal, error)

	// Authorized backend allow-list.
	AddBackend(ctx context.Context, address string) error
	RemoveBackend(ctx context.Context, address string) error
	ListBackends(ctx context.Context) ([]string, error)

	// Append-only audit trail.
	AppendAuditEvent(ctx context.Context, ev audit.Event) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
