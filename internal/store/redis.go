package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"crypto-scalper/config"
	"crypto-scalper/internal/paper"
)

const (
	// positionsKey holds the JSON snapshot of open positions.
	positionsKey = "scalper:positions"
	// haltKey holds the persisted halt state so a restart does not resume
	// trading that was deliberately stopped.
	haltKey = "scalper:halt"
	// snapshotTTL bounds how long a stale snapshot survives a dead process.
	snapshotTTL = 24 * time.Hour
)

// HaltState is the persisted halt flag.
type HaltState struct {
	Halted  bool      `json:"halted"`
	Reason  string    `json:"reason"`
	SavedAt time.Time `json:"saved_at"`
}

// RedisLedger mirrors hot runtime state (open positions, halt flag) into
// Redis so restarts can report on what the previous process was holding.
// When Redis is unavailable it degrades to an in-memory cache and keeps
// retrying in the background.
type RedisLedger struct {
	client    *redis.Client
	logger    zerolog.Logger
	available atomic.Bool

	mu            sync.RWMutex
	cachedSummary []paper.PositionSummary
	cachedHalt    HaltState
}

// NewRedisLedger connects to Redis. Connection failure is not fatal; the
// ledger starts in fallback mode and recovers when Redis comes back.
func NewRedisLedger(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) *RedisLedger {
	l := &RedisLedger{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		logger: logger.With().Str("component", "redis_ledger").Logger(),
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := l.client.Ping(pingCtx).Err(); err != nil {
		l.logger.Warn().Err(err).Msg("Redis unavailable, using in-memory fallback")
	} else {
		l.available.Store(true)
		l.logger.Info().Str("address", cfg.Address).Msg("Connected to Redis")
	}
	return l
}

// Available reports whether Redis is currently reachable.
func (l *RedisLedger) Available() bool {
	return l.available.Load()
}

// SavePositions snapshots the open positions.
func (l *RedisLedger) SavePositions(ctx context.Context, positions []paper.PositionSummary) error {
	l.mu.Lock()
	l.cachedSummary = positions
	l.mu.Unlock()

	if !l.available.Load() {
		return nil
	}

	data, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("failed to encode positions: %w", err)
	}
	if err := l.client.Set(ctx, positionsKey, data, snapshotTTL).Err(); err != nil {
		l.markUnavailable(err)
		return fmt.Errorf("failed to save positions: %w", err)
	}
	return nil
}

// LoadPositions returns the last snapshot, preferring Redis over the local
// cache.
func (l *RedisLedger) LoadPositions(ctx context.Context) ([]paper.PositionSummary, error) {
	if l.available.Load() {
		data, err := l.client.Get(ctx, positionsKey).Bytes()
		switch {
		case err == redis.Nil:
			return nil, nil
		case err != nil:
			l.markUnavailable(err)
		default:
			var positions []paper.PositionSummary
			if err := json.Unmarshal(data, &positions); err != nil {
				return nil, fmt.Errorf("failed to decode positions: %w", err)
			}
			return positions, nil
		}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cachedSummary, nil
}

// SaveHaltState persists the halt flag.
func (l *RedisLedger) SaveHaltState(ctx context.Context, halted bool, reason string) error {
	state := HaltState{Halted: halted, Reason: reason, SavedAt: time.Now()}

	l.mu.Lock()
	l.cachedHalt = state
	l.mu.Unlock()

	if !l.available.Load() {
		return nil
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode halt state: %w", err)
	}
	if err := l.client.Set(ctx, haltKey, data, 0).Err(); err != nil {
		l.markUnavailable(err)
		return fmt.Errorf("failed to save halt state: %w", err)
	}
	return nil
}

// LoadHaltState returns the persisted halt flag.
func (l *RedisLedger) LoadHaltState(ctx context.Context) (HaltState, error) {
	if l.available.Load() {
		data, err := l.client.Get(ctx, haltKey).Bytes()
		switch {
		case err == redis.Nil:
			return HaltState{}, nil
		case err != nil:
			l.markUnavailable(err)
		default:
			var state HaltState
			if err := json.Unmarshal(data, &state); err != nil {
				return HaltState{}, fmt.Errorf("failed to decode halt state: %w", err)
			}
			return state, nil
		}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cachedHalt, nil
}

// Reconnect re-checks Redis availability.
func (l *RedisLedger) Reconnect(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := l.client.Ping(pingCtx).Err(); err != nil {
		return false
	}
	if l.available.CompareAndSwap(false, true) {
		l.logger.Info().Msg("Redis connection restored")
	}
	return true
}

// Close shuts the Redis client down.
func (l *RedisLedger) Close() {
	if err := l.client.Close(); err != nil {
		l.logger.Warn().Err(err).Msg("Error closing Redis client")
	}
}

func (l *RedisLedger) markUnavailable(err error) {
	if l.available.CompareAndSwap(true, false) {
		l.logger.Warn().Err(err).Msg("Redis unavailable, falling back to in-memory cache")
	}
}
