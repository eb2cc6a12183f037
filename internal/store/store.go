// Package store persists trades, signals and risk events. The trading core
// never blocks on persistence; writes happen on event-bus subscribers.
package store

import (
	"context"
	"time"

	"crypto-scalper/internal/paper"
	"crypto-scalper/internal/signals"
)

// TradeStore persists trading activity.
type TradeStore interface {
	SaveTrade(ctx context.Context, trade paper.Trade) error
	SaveSignal(ctx context.Context, signal signals.Signal) error
	SaveRiskEvent(ctx context.Context, eventType, detail string, at time.Time) error
	RecentTrades(ctx context.Context, limit int) ([]paper.Trade, error)
	Close()
}

// NullStore discards everything. Used when the database is disabled.
type NullStore struct{}

func (NullStore) SaveTrade(context.Context, paper.Trade) error { return nil }

func (NullStore) SaveSignal(context.Context, signals.Signal) error { return nil }

func (NullStore) SaveRiskEvent(context.Context, string, string, time.Time) error { return nil }

func (NullStore) RecentTrades(context.Context, int) ([]paper.Trade, error) { return nil, nil }

func (NullStore) Close() {}
