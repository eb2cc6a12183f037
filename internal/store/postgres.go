package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"crypto-scalper/config"
	"crypto-scalper/internal/paper"
	"crypto-scalper/internal/signals"
	"crypto-scalper/internal/strategy"
)

// Postgres persists trading activity in PostgreSQL via a pgx connection
// pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgres connects, verifies the connection and runs migrations.
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*Postgres, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(connCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	p := &Postgres{
		pool:   pool,
		logger: logger.With().Str("component", "postgres_store").Logger(),
	}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	p.logger.Info().Str("database", cfg.Database).Msg("Connected to PostgreSQL")
	return p, nil
}

// migrate creates the schema if it does not exist yet.
func (p *Postgres) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			pair TEXT NOT NULL,
			direction TEXT NOT NULL,
			size DOUBLE PRECISION NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			exit_price DOUBLE PRECISION NOT NULL,
			entry_time TIMESTAMPTZ NOT NULL,
			exit_time TIMESTAMPTZ NOT NULL,
			net_pnl NUMERIC(20, 8) NOT NULL,
			fees NUMERIC(20, 8) NOT NULL,
			exit_reason TEXT NOT NULL,
			duration_minutes DOUBLE PRECISION NOT NULL,
			signals_used JSONB NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_pair ON trades(pair)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_exit_time ON trades(exit_time DESC)`,
		`CREATE TABLE IF NOT EXISTS trade_signals (
			id BIGSERIAL PRIMARY KEY,
			pair TEXT NOT NULL,
			direction TEXT NOT NULL,
			strength DOUBLE PRECISION NOT NULL,
			indicator TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_signals_pair ON trade_signals(pair, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS risk_events (
			id BIGSERIAL PRIMARY KEY,
			event_type TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for i, migration := range migrations {
		if _, err := p.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}

// SaveTrade inserts a completed trade. Replays of the same id are ignored.
func (p *Postgres) SaveTrade(ctx context.Context, trade paper.Trade) error {
	signalsJSON, err := json.Marshal(trade.SignalsUsed)
	if err != nil {
		return fmt.Errorf("failed to encode signals: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO trades (id, pair, direction, size, entry_price, exit_price,
			entry_time, exit_time, net_pnl, fees, exit_reason, duration_minutes, signals_used)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`,
		trade.ID, trade.Pair, string(trade.Direction), trade.Size,
		trade.EntryPrice, trade.ExitPrice, trade.EntryTime, trade.ExitTime,
		trade.NetPnL, trade.Fees, string(trade.ExitReason), trade.DurationMinutes,
		signalsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save trade %s: %w", trade.ID, err)
	}
	return nil
}

// SaveSignal inserts one generated signal.
func (p *Postgres) SaveSignal(ctx context.Context, signal signals.Signal) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO trade_signals (pair, direction, strength, indicator, price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		signal.Pair, string(signal.Direction), signal.Strength,
		signal.Indicator, signal.Price, signal.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to save signal: %w", err)
	}
	return nil
}

// SaveRiskEvent records a halt, resume or daily reset.
func (p *Postgres) SaveRiskEvent(ctx context.Context, eventType, detail string, at time.Time) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO risk_events (event_type, detail, created_at)
		VALUES ($1, $2, $3)`,
		eventType, detail, at,
	)
	if err != nil {
		return fmt.Errorf("failed to save risk event: %w", err)
	}
	return nil
}

// RecentTrades returns the latest closed trades, newest first.
func (p *Postgres) RecentTrades(ctx context.Context, limit int) ([]paper.Trade, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, pair, direction, size, entry_price, exit_price,
			entry_time, exit_time, net_pnl, fees, exit_reason, duration_minutes, signals_used
		FROM trades
		ORDER BY exit_time DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []paper.Trade
	for rows.Next() {
		var (
			t           paper.Trade
			direction   string
			exitReason  string
			signalsJSON []byte
		)
		if err := rows.Scan(&t.ID, &t.Pair, &direction, &t.Size, &t.EntryPrice, &t.ExitPrice,
			&t.EntryTime, &t.ExitTime, &t.NetPnL, &t.Fees, &exitReason, &t.DurationMinutes,
			&signalsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Direction = signals.Direction(direction)
		t.ExitReason = strategy.ExitReason(exitReason)
		if err := json.Unmarshal(signalsJSON, &t.SignalsUsed); err != nil {
			return nil, fmt.Errorf("failed to decode signals for trade %s: %w", t.ID, err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
		p.logger.Info().Msg("Database connection closed")
	}
}
