package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/emohunter/incentive-engine/internal/audit"
	"github.com/emohunter/incentive-engine/internal/domain"
	"github.com/emohunter/incentive-engine/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS treasury (
		asset TEXT PRIMARY KEY,
		balance TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS accounts (
		asset TEXT NOT NULL,
		address TEXT NOT NULL,
		balance TEXT NOT NULL,
		PRIMARY KEY (asset, address)
	);
	CREATE TABLE IF NOT EXISTS proposals (
		id INTEGER PRIMARY KEY,
		proposer TEXT NOT NULL,
		asset TEXT NOT NULL,
		targets_json TEXT NOT NULL,
		amounts_json TEXT NOT NULL,
		description TEXT NOT NULL,
		vote_count INTEGER NOT NULL,
		executed INTEGER NOT NULL DEFAULT 0,
		signers_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS sessions (
		user TEXT NOT NULL,
		id INTEGER NOT NULL,
		start_time INTEGER NOT NULL,
		end_time INTEGER NOT NULL DEFAULT 0,
		engagement_score INTEGER NOT NULL DEFAULT 0,
		emotions_json TEXT NOT NULL,
		tier INTEGER NOT NULL DEFAULT 0,
		amount TEXT,
		claimed INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user, id)
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user);
	CREATE TABLE IF NOT EXISTS tier_configs (
		tier INTEGER PRIMARY KEY,
		base_reward TEXT NOT NULL,
		emotion_multiplier INTEGER NOT NULL,
		duration_multiplier INTEGER NOT NULL,
		tier_multiplier INTEGER NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	);
	CREATE TABLE IF NOT EXISTS governance_proposals (
		id INTEGER PRIMARY KEY,
		proposer TEXT NOT NULL,
		description TEXT NOT NULL,
		tier INTEGER NOT NULL,
		new_base_reward TEXT NOT NULL,
		vote_count INTEGER NOT NULL,
		executed INTEGER NOT NULL DEFAULT 0,
		voters_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS backends (
		address TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		actor TEXT,
		user TEXT,
		entity_id INTEGER,
		asset TEXT,
		amount TEXT,
		detail TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_events(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// execRetry runs fn, retrying with exponential backoff on SQLITE_BUSY.
func execRetry(fn func() error) error {
	const maxRetries = 3
	delay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i < maxRetries-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}

// SetTreasuryBalance upserts the custody balance for one asset.
func (s *SQLiteStore) SetTreasuryBalance(ctx context.Context, asset string, balance *big.Int) error {
	return execRetry(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO treasury (asset, balance) VALUES (?, ?)
			ON CONFLICT(asset) DO UPDATE SET balance = excluded.balance`,
			asset, balance.String())
		if err != nil {
			return fmt.Errorf("set treasury balance: %w", err)
		}
		return nil
	})
}

// ListTreasuryBalances loads all custody balances.
func (s *SQLiteStore) ListTreasuryBalances(ctx context.Context) (map[string]*big.Int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT asset, balance FROM treasury`)
	if err != nil {
		return nil, fmt.Errorf("list treasury balances: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*big.Int)
	for rows.Next() {
		var asset, bal string
		if err := rows.Scan(&asset, &bal); err != nil {
			return nil, fmt.Errorf("scan treasury row: %w", err)
		}
		b, err := parseAmount(bal)
		if err != nil {
			return nil, fmt.Errorf("treasury balance for %s: %w", asset, err)
		}
		out[asset] = b
	}
	return out, rows.Err()
}

// BatchCredit credits every target in a single transaction. All-or-nothing:
// the enclosing operation treats a failure here as a full abort.
func (s *SQLiteStore) BatchCredit(ctx context.Context, asset string, targets []string, amounts []*big.Int) error {
	if len(targets) != len(amounts) {
		return fmt.Errorf("batch credit: %d targets, %d amounts", len(targets), len(amounts))
	}
	return execRetry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin batch credit: %w", err)
		}
		defer tx.Rollback()

		for i, target := range targets {
			var current sql.NullString
			err := tx.QueryRowContext(ctx,
				`SELECT balance FROM accounts WHERE asset = ? AND address = ?`,
				asset, target).Scan(&current)
			if err != nil && err != sql.ErrNoRows {
				return fmt.Errorf("read account %s: %w", target, err)
			}

			balance := new(big.Int)
			if current.Valid {
				balance, err = parseAmount(current.String)
				if err != nil {
					return fmt.Errorf("account balance for %s: %w", target, err)
				}
			}
			balance.Add(balance, amounts[i])

			if _, err := tx.ExecContext(ctx, `
				INSERT INTO accounts (asset, address, balance) VALUES (?, ?, ?)
				ON CONFLICT(asset, address) DO UPDATE SET balance = excluded.balance`,
				asset, target, balance.String()); err != nil {
				return fmt.Errorf("credit account %s: %w", target, err)
			}
		}
		return tx.Commit()
	})
}

// GetAccountBalance returns a book account balance, zero if absent.
func (s *SQLiteStore) GetAccountBalance(ctx context.Context, asset, address string) (*big.Int, error) {
	var bal string
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE asset = ? AND address = ?`,
		asset, address).Scan(&bal)
	if err == sql.ErrNoRows {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account balance: %w", err)
	}
	return parseAmount(bal)
}

// SaveProposal upserts a whole proposal record including its signer set.
func (s *SQLiteStore) SaveProposal(ctx context.Context, p *domain.Proposal) error {
	targets, err := json.Marshal(p.Targets)
	if err != nil {
		return fmt.Errorf("marshal targets: %w", err)
	}
	amounts, err := json.Marshal(amountStrings(p.Amounts))
	if err != nil {
		return fmt.Errorf("marshal amounts: %w", err)
	}
	signers, err := json.Marshal(signerList(p.Signers))
	if err != nil {
		return fmt.Errorf("marshal signers: %w", err)
	}

	return execRetry(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO proposals (id, proposer, asset, targets_json, amounts_json, description, vote_count, executed, signers_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				vote_count = excluded.vote_count,
				executed = excluded.executed,
				signers_json = excluded.signers_json`,
			p.ID, p.Proposer, p.Asset, string(targets), string(amounts),
			p.Description, p.VoteCount, boolToInt(p.Executed), string(signers),
			p.CreatedAt.Unix())
		if err != nil {
			return fmt.Errorf("save proposal %d: %w", p.ID, err)
		}
		return nil
	})
}

// ListProposals loads all proposals ordered by id.
func (s *SQLiteStore) ListProposals(ctx context.Context) ([]*domain.Proposal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, proposer, asset, targets_json, amounts_json, description, vote_count, executed, signers_json, created_at
		FROM proposals ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var out []*domain.Proposal
	for rows.Next() {
		var p domain.Proposal
		var targetsJSON, amountsJSON, signersJSON string
		var executed int
		var createdAt int64

		if err := rows.Scan(&p.ID, &p.Proposer, &p.Asset, &targetsJSON, &amountsJSON,
			&p.Description, &p.VoteCount, &executed, &signersJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan proposal row: %w", err)
		}

		if err := json.Unmarshal([]byte(targetsJSON), &p.Targets); err != nil {
			return nil, fmt.Errorf("unmarshal targets for proposal %d: %w", p.ID, err)
		}
		var amountStrs []string
		if err := json.Unmarshal([]byte(amountsJSON), &amountStrs); err != nil {
			return nil, fmt.Errorf("unmarshal amounts for proposal %d: %w", p.ID, err)
		}
		p.Amounts, err = parseAmounts(amountStrs)
		if err != nil {
			return nil, fmt.Errorf("amounts for proposal %d: %w", p.ID, err)
		}
		var signers []string
		if err := json.Unmarshal([]byte(signersJSON), &signers); err != nil {
			return nil, fmt.Errorf("unmarshal signers for proposal %d: %w", p.ID, err)
		}
		p.Signers = make(map[string]bool, len(signers))
		for _, addr := range signers {
			p.Signers[addr] = true
		}

		p.Executed = executed != 0
		p.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// SaveSession upserts a whole session record including emotion aggregates.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *domain.Session) error {
	emotions, err := json.Marshal(emotionMap(sess.Emotions))
	if err != nil {
		return fmt.Errorf("marshal emotions: %w", err)
	}

	var amount sql.NullString
	if sess.Amount != nil {
		amount = sql.NullString{String: sess.Amount.String(), Valid: true}
	}
	var endTime int64
	if !sess.EndTime.IsZero() {
		endTime = sess.EndTime.Unix()
	}

	return execRetry(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (user, id, start_time, end_time, engagement_score, emotions_json, tier, amount, claimed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user, id) DO UPDATE SET
				end_time = excluded.end_time,
				engagement_score = excluded.engagement_score,
				emotions_json = excluded.emotions_json,
				tier = excluded.tier,
				amount = excluded.amount,
				claimed = excluded.claimed`,
			sess.User, sess.ID, sess.StartTime.Unix(), endTime,
			sess.EngagementScore, string(emotions), uint8(sess.Tier), amount,
			boolToInt(sess.Claimed))
		if err != nil {
			return fmt.Errorf("save session %s/%d: %w", sess.User, sess.ID, err)
		}
		return nil
	})
}

// ListSessions loads all sessions.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user, id, start_time, end_time, engagement_score, emotions_json, tier, amount, claimed
		FROM sessions ORDER BY user, id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		var sess domain.Session
		var startTime, endTime int64
		var emotionsJSON string
		var tier uint8
		var amount sql.NullString
		var claimed int

		if err := rows.Scan(&sess.User, &sess.ID, &startTime, &endTime,
			&sess.EngagementScore, &emotionsJSON, &tier, &amount, &claimed); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}

		var emotions map[string]domain.EmotionStat
		if err := json.Unmarshal([]byte(emotionsJSON), &emotions); err != nil {
			return nil, fmt.Errorf("unmarshal emotions for %s/%d: %w", sess.User, sess.ID, err)
		}
		sess.Emotions = make(map[domain.EmotionType]domain.EmotionStat, len(emotions))
		for name, stat := range emotions {
			et, err := domain.ParseEmotionType(name)
			if err != nil {
				return nil, fmt.Errorf("session %s/%d: %w", sess.User, sess.ID, err)
			}
			sess.Emotions[et] = stat
		}

		sess.StartTime = time.Unix(startTime, 0)
		if endTime != 0 {
			sess.EndTime = time.Unix(endTime, 0)
		}
		sess.Tier = domain.RewardTier(tier)
		if amount.Valid {
			sess.Amount, err = parseAmount(amount.String)
			if err != nil {
				return nil, fmt.Errorf("amount for %s/%d: %w", sess.User, sess.ID, err)
			}
		}
		sess.Claimed = claimed != 0
		out = append(out, &sess)
	}
	return out, rows.Err()
}

// SaveTierConfig upserts one tier's reward parameters.
func (s *SQLiteStore) SaveTierConfig(ctx context.Context, tier domain.RewardTier, cfg domain.TierConfig) error {
	return execRetry(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tier_configs (tier, base_reward, emotion_multiplier, duration_multiplier, tier_multiplier, active)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(tier) DO UPDATE SET
				base_reward = excluded.base_reward,
				emotion_multiplier = excluded.emotion_multiplier,
				duration_multiplier = excluded.duration_multiplier,
				tier_multiplier = excluded.tier_multiplier,
				active = excluded.active`,
			uint8(tier), cfg.BaseReward.String(), cfg.EmotionMultiplier,
			cfg.DurationMultiplier, cfg.TierMultiplier, boolToInt(cfg.Active))
		if err != nil {
			return fmt.Errorf("save tier config %s: %w", tier, err)
		}
		return nil
	})
}

// ListTierConfigs loads persisted tier configs.
func (s *SQLiteStore) ListTierConfigs(ctx context.Context) (map[domain.RewardTier]domain.TierConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tier, base_reward, emotion_multiplier, duration_multiplier, tier_multiplier, active
		FROM tier_configs`)
	if err != nil {
		return nil, fmt.Errorf("list tier configs: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.RewardTier]domain.TierConfig)
	for rows.Next() {
		var tier uint8
		var base string
		var cfg domain.TierConfig
		var active int

		if err := rows.Scan(&tier, &base, &cfg.EmotionMultiplier,
			&cfg.DurationMultiplier, &cfg.TierMultiplier, &active); err != nil {
			return nil, fmt.Errorf("scan tier config row: %w", err)
		}
		cfg.BaseReward, err = parseAmount(base)
		if err != nil {
			return nil, fmt.Errorf("base reward for tier %d: %w", tier, err)
		}
		cfg.Active = active != 0
		out[domain.RewardTier(tier)] = cfg
	}
	return out, rows.Err()
}

// SaveGovernanceProposal upserts a whole governance proposal.
func (s *SQLiteStore) SaveGovernanceProposal(ctx context.Context, g *domain.GovernanceProposal) error {
	voters, err := json.Marshal(signerList(g.Voters))
	if err != nil {
		return fmt.Errorf("marshal voters: %w", err)
	}

	return execRetry(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO governance_proposals (id, proposer, description, tier, new_base_reward, vote_count, executed, voters_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				vote_count = excluded.vote_count,
				executed = excluded.executed,
				voters_json = excluded.voters_json`,
			g.ID, g.Proposer, g.Description, uint8(g.Tier),
			g.NewBaseReward.String(), g.VoteCount, boolToInt(g.Executed),
			string(voters), g.CreatedAt.Unix())
		if err != nil {
			return fmt.Errorf("save governance proposal %d: %w", g.ID, err)
		}
		return nil
	})
}

// ListGovernanceProposals loads all governance proposals ordered by id.
func (s *SQLiteStore) ListGovernanceProposals(ctx context.Context) ([]*domain.GovernanceProposal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, proposer, description, tier, new_base_reward, vote_count, executed, voters_json, created_at
		FROM governance_proposals ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list governance proposals: %w", err)
	}
	defer rows.Close()

	var out []*domain.GovernanceProposal
	for rows.Next() {
		var g domain.GovernanceProposal
		var tier uint8
		var base, votersJSON string
		var executed int
		var createdAt int64

		if err := rows.Scan(&g.ID, &g.Proposer, &g.Description, &tier, &base,
			&g.VoteCount, &executed, &votersJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan governance row: %w", err)
		}

		g.NewBaseReward, err = parseAmount(base)
		if err != nil {
			return nil, fmt.Errorf("new base reward for proposal %d: %w", g.ID, err)
		}
		var voters []string
		if err := json.Unmarshal([]byte(votersJSON), &voters); err != nil {
			return nil, fmt.Errorf("unmarshal voters for proposal %d: %w", g.ID, err)
		}
		g.Voters = make(map[string]bool, len(voters))
		for _, addr := range voters {
			g.Voters[addr] = true
		}

		g.Tier = domain.RewardTier(tier)
		g.Executed = executed != 0
		g.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, &g)
	}
	return out, rows.Err()
}

// AddBackend inserts an address into the authorized backend list.
func (s *SQLiteStore) AddBackend(ctx context.Context, address string) error {
	return execRetry(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO backends (address, created_at) VALUES (?, ?)`,
			address, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("add backend: %w", err)
		}
		return nil
	})
}

// RemoveBackend deletes an address from the authorized backend list.
func (s *SQLiteStore) RemoveBackend(ctx context.Context, address string) error {
	return execRetry(func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM backends WHERE address = ?`, address)
		if err != nil {
			return fmt.Errorf("remove backend: %w", err)
		}
		return nil
	})
}

// ListBackends loads the authorized backend allow-list.
func (s *SQLiteStore) ListBackends(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT address FROM backends ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("list backends: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan backend row: %w", err)
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

// AppendAuditEvent inserts one immutable audit record.
func (s *SQLiteStore) AppendAuditEvent(ctx context.Context, ev audit.Event) error {
	return execRetry(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO audit_events (id, type, actor, user, entity_id, asset, amount, detail, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, string(ev.Type), ev.Actor, ev.User, ev.EntityID,
			ev.Asset, ev.Amount, ev.Detail, ev.Time.UnixMilli())
		if err != nil {
			return fmt.Errorf("append audit event: %w", err)
		}
		return nil
	})
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	return v, nil
}

func parseAmounts(strs []string) ([]*big.Int, error) {
	out := make([]*big.Int, len(strs))
	for i, s := range strs {
		v, err := parseAmount(s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func amountStrings(amounts []*big.Int) []string {
	out := make([]string, len(amounts))
	for i, a := range amounts {
		out[i] = a.String()
	}
	return out
}

func signerList(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for addr, ok := range set {
		if ok {
			out = append(out, addr)
		}
	}
	return out
}

func emotionMap(stats map[domain.EmotionType]domain.EmotionStat) map[string]domain.EmotionStat {
	out := make(map[string]domain.EmotionStat, len(stats))
	for et, stat := range stats {
		out[et.String()] = stat
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
