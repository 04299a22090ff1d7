// incentived - multi-party authorization and session reward settlement engine
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emohunter/incentive-engine/internal/accrual"
	"github.com/emohunter/incentive-engine/internal/api"
	"github.com/emohunter/incentive-engine/internal/audit"
	"github.com/emohunter/incentive-engine/internal/config"
	"github.com/emohunter/incentive-engine/internal/domain"
	"github.com/emohunter/incentive-engine/internal/governance"
	"github.com/emohunter/incentive-engine/internal/identity"
	"github.com/emohunter/incentive-engine/internal/middleware"
	"github.com/emohunter/incentive-engine/internal/reward"
	"github.com/emohunter/incentive-engine/internal/store"
	"github.com/emohunter/incentive-engine/internal/treasury"
	"github.com/emohunter/incentive-engine/internal/vault"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting incentive engine", "port", cfg.Port,
		"owners", len(cfg.Owners), "owner_threshold", cfg.OwnerThreshold,
		"governors", len(cfg.Governors), "governance_threshold", cfg.GovernanceThreshold)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	ctx := context.Background()
	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Rebuild engine state from the repository.
	balances, err := repo.ListTreasuryBalances(ctx)
	if err != nil {
		slog.Error("Failed to load treasury balances", "error", err)
		os.Exit(1)
	}
	proposals, err := repo.ListProposals(ctx)
	if err != nil {
		slog.Error("Failed to load proposals", "error", err)
		os.Exit(1)
	}
	sessions, err := repo.ListSessions(ctx)
	if err != nil {
		slog.Error("Failed to load sessions", "error", err)
		os.Exit(1)
	}
	govProposals, err := repo.ListGovernanceProposals(ctx)
	if err != nil {
		slog.Error("Failed to load governance proposals", "error", err)
		os.Exit(1)
	}
	backends, err := loadBackends(ctx, repo, cfg.Backends)
	if err != nil {
		slog.Error("Failed to load backend allow-list", "error", err)
		os.Exit(1)
	}
	configs, err := loadTierConfigs(ctx, repo)
	if err != nil {
		slog.Error("Failed to load tier configs", "error", err)
		os.Exit(1)
	}
	slog.Info("Engine state loaded", "proposals", len(proposals),
		"sessions", len(sessions), "governance_proposals", len(govProposals),
		"backends", len(backends))

	// Initialize services.
	hub := audit.NewHub()
	auditLog := audit.NewLog(repo, hub)
	transferer := &treasury.BookTransferer{Repo: repo}

	owners := cfg.OwnerSet()
	tr := treasury.New(repo, owners, balances)
	ledger := vault.NewLedger(repo, tr, transferer, owners, cfg.OwnerThreshold, auditLog, proposals)
	acc := accrual.NewService(repo, tr, transferer, configs, owners, backends, auditLog, sessions)
	voter := governance.NewVoter(repo, configs, cfg.GovernorSet(), cfg.GovernanceThreshold, auditLog, govProposals)

	handler := api.NewHandler(tr, ledger, acc, voter, configs, repo)
	feedHandler := audit.NewFeedHandler(hub, cfg.JWTSecret == "")

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware([]byte(cfg.JWTSecret)))

	handler.RegisterRoutes(r)
	r.Get("/ws/audit", feedHandler.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // audit feed connections stay open indefinitely
		IdleTimeout:  120 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-runCtx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// loadBackends merges the configured initial allow-list into the persisted
// one. Config entries are added once and stay until revoked.
func loadBackends(ctx context.Context, repo store.Repository, initial []string) ([]string, error) {
	persisted, err := repo.ListBackends(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(persisted))
	for _, addr := range persisted {
		known[addr] = true
	}
	for _, addr := range initial {
		if known[addr] {
			continue
		}
		if err := repo.AddBackend(ctx, addr); err != nil {
			return nil, err
		}
		persisted = append(persisted, addr)
		known[addr] = true
	}
	return persisted, nil
}

// loadTierConfigs seeds defaults on first boot and reloads persisted configs
// (including past governance changes) afterwards.
func loadTierConfigs(ctx context.Context, repo store.Repository) (*reward.ConfigStore, error) {
	tiers := reward.DefaultConfigs()

	persisted, err := repo.ListTierConfigs(ctx)
	if err != nil {
		return nil, err
	}
	for tier, cfg := range persisted {
		if tier.Valid() {
			tiers[tier] = cfg
		}
	}
	for i := range tiers {
		tier := domain.RewardTier(i)
		if _, ok := persisted[tier]; ok {
			continue
		}
		if err := repo.SaveTierConfig(ctx, tier, tiers[i]); err != nil {
			return nil, err
		}
	}
	return reward.NewConfigStore(tiers), nil
}
