// Package store implements durable persistence for the engine: a Postgres
// pool holding the positions and trades_log tables, and a Redis mirror of
// the dirty-position set and the per-account capacity counters used to
// survive a restart without replaying every alert (spec.md §4.7, §6).
//
// Grounded on the teacher's internal/database/db.go (pool setup and
// migrations) and internal/database/redis_position_state.go (Redis as a
// crash-resilience mirror with the primary store of record being Postgres).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lseng/topstep-bot-5.0-sub000/internal/logging"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/position"
)

// PGConfig configures the Postgres connection pool.
type PGConfig struct {
	DSN         string
	MaxConns    int32
	MinConns    int32
	ConnTimeout time.Duration
}

// Store wraps the Postgres pool and an optional Redis mirror.
type Store struct {
	pool  *pgxpool.Pool
	redis *redis.Client
	log   zerolog.Logger
}

// Open connects to Postgres, applies migrations, and returns a Store. redisClient
// may be nil, in which case the crash-resilience mirror is simply skipped.
func Open(ctx context.Context, cfg PGConfig, redisClient *redis.Client, log zerolog.Logger) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	timeout := cfg.ConnTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &Store{pool: pool, redis: redisClient, log: logging.Component(log, "store")}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	s.log.Info().Msg("store connected")
	return s, nil
}

// Pool exposes the underlying pgx pool, for the alert.PGSource listener.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			state TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			target_entry_price DOUBLE PRECISION NOT NULL,
			fill_price DOUBLE PRECISION,
			current_sl DOUBLE PRECISION NOT NULL,
			tp1 DOUBLE PRECISION NOT NULL,
			tp2 DOUBLE PRECISION NOT NULL,
			tp3 DOUBLE PRECISION NOT NULL,
			last_price DOUBLE PRECISION NOT NULL,
			unrealized_pnl DOUBLE PRECISION NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			strategy_tag TEXT,
			exit_price DOUBLE PRECISION,
			exit_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_account_symbol ON positions(account_id, symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_state ON positions(state)`,
		`CREATE TABLE IF NOT EXISTS trades_log (
			position_id TEXT PRIMARY KEY,
			alert_id TEXT NOT NULL,
			original_alert_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			entry_time TIMESTAMPTZ NOT NULL,
			exit_price DOUBLE PRECISION NOT NULL,
			exit_time TIMESTAMPTZ NOT NULL,
			exit_reason TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			gross_pnl DOUBLE PRECISION NOT NULL,
			fees DOUBLE PRECISION NOT NULL,
			net_pnl DOUBLE PRECISION NOT NULL,
			vpvr_poc DOUBLE PRECISION,
			vpvr_vah DOUBLE PRECISION,
			vpvr_val DOUBLE PRECISION,
			highest_tp_hit TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			confirmation_score DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_log_symbol ON trades_log(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_log_exit_time ON trades_log(exit_time)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// UpsertPosition writes one position's whole-snapshot state. Called both
// for the periodic dirty-flush and for the immediate insert-on-create path;
// the upsert is idempotent so at-least-once delivery is safe (spec.md §4.7).
func (s *Store) UpsertPosition(ctx context.Context, p position.Position) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO positions (
			id, account_id, symbol, side, state, quantity, target_entry_price,
			fill_price, current_sl, tp1, tp2, tp3, last_price, unrealized_pnl,
			retry_count, strategy_tag, exit_price, exit_reason, created_at,
			updated_at, closed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			fill_price = EXCLUDED.fill_price,
			current_sl = EXCLUDED.current_sl,
			last_price = EXCLUDED.last_price,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			retry_count = EXCLUDED.retry_count,
			exit_price = EXCLUDED.exit_price,
			exit_reason = EXCLUDED.exit_reason,
			updated_at = EXCLUDED.updated_at,
			closed_at = EXCLUDED.closed_at
	`,
		p.ID, p.AccountID, p.Symbol, string(p.Side), string(p.State), p.Quantity, p.TargetEntryPrice,
		p.FillPrice, p.CurrentSL, p.TP1, p.TP2, p.TP3, p.LastPrice, p.UnrealizedPnL,
		p.RetryCount, p.StrategyTag, p.ExitPrice, p.ExitReason, p.CreatedAt, p.UpdatedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert position %s: %w", p.ID, err)
	}
	if s.redis != nil {
		s.mirrorDirty(ctx, p)
	}
	return nil
}

// InsertTrade appends a completed trade immediately (spec.md §4.7: trade-log
// inserts are not batched).
func (s *Store) InsertTrade(ctx context.Context, t position.TradeResult) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trades_log (
			position_id, alert_id, original_alert_id, symbol, side, entry_price,
			entry_time, exit_price, exit_time, exit_reason, quantity, gross_pnl,
			fees, net_pnl, vpvr_poc, vpvr_vah, vpvr_val, highest_tp_hit,
			retry_count, confirmation_score
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		ON CONFLICT (position_id) DO NOTHING
	`,
		t.PositionID, t.AlertID, t.OriginalAlertID, t.Symbol, string(t.Side), t.EntryPrice,
		t.EntryTime, t.ExitPrice, t.ExitTime, t.ExitReason, t.Quantity, t.GrossPnL,
		t.Fees, t.NetPnL, t.VPVRPOC, t.VPVRVAH, t.VPVRVAL, t.HighestTPHit,
		t.RetryCount, t.ConfirmationScore,
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.PositionID, err)
	}
	if s.redis != nil {
		s.redis.Del(ctx, dirtyKey(t.PositionID))
	}
	return nil
}

// LoadOpenPositions reads every non-terminal position back from Postgres,
// for reconciliation at startup.
func (s *Store) LoadOpenPositions(ctx context.Context) ([]position.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, symbol, side, state, quantity, target_entry_price,
			fill_price, current_sl, tp1, tp2, tp3, last_price, unrealized_pnl,
			retry_count, strategy_tag, created_at, updated_at
		FROM positions WHERE state NOT IN ('closed', 'cancelled')
	`)
	if err != nil {
		return nil, fmt.Errorf("load open positions: %w", err)
	}
	defer rows.Close()

	var out []position.Position
	for rows.Next() {
		var p position.Position
		var side, state string
		if err := rows.Scan(
			&p.ID, &p.AccountID, &p.Symbol, &side, &state, &p.Quantity, &p.TargetEntryPrice,
			&p.FillPrice, &p.CurrentSL, &p.TP1, &p.TP2, &p.TP3, &p.LastPrice, &p.UnrealizedPnL,
			&p.RetryCount, &p.StrategyTag, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// mirrorDirty writes a JSON snapshot of p to Redis with a TTL, a
// best-effort crash-resilience aid; a failed mirror write never blocks the
// Postgres write it backs up.
func (s *Store) mirrorDirty(ctx context.Context, p position.Position) {
	payload, err := json.Marshal(p)
	if err != nil {
		s.log.Warn().Err(err).Str("position_id", p.ID).Msg("mirror encode failed")
		return
	}
	if err := s.redis.Set(ctx, dirtyKey(p.ID), payload, 24*time.Hour).Err(); err != nil {
		s.log.Warn().Err(err).Str("position_id", p.ID).Msg("redis mirror write failed")
	}
}

// CapacityKey returns the Redis key mirroring an account's reserved
// micro-equivalent capacity total, for external dashboards.
func CapacityKey(accountID string) string {
	return fmt.Sprintf("engine:capacity:%s", accountID)
}

// MirrorCapacity publishes an account's current capacity usage to Redis.
func (s *Store) MirrorCapacity(ctx context.Context, accountID string, current, max int) {
	if s.redis == nil {
		return
	}
	if err := s.redis.HSet(ctx, CapacityKey(accountID), "current", current, "max", max).Err(); err != nil {
		s.log.Warn().Err(err).Str("account_id", accountID).Msg("redis capacity mirror failed")
	}
}

func dirtyKey(positionID string) string {
	return fmt.Sprintf("engine:dirty:%s", positionID)
}
