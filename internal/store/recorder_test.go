package store

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-scalper/internal/events"
	"crypto-scalper/internal/paper"
	"crypto-scalper/internal/signals"
	"crypto-scalper/internal/strategy"
)

// captureStore records writes on channels so tests can wait for the bus's
// asynchronous delivery.
type captureStore struct {
	trades     chan paper.Trade
	signals    chan signals.Signal
	riskEvents chan string
}

func newCaptureStore() *captureStore {
	return &captureStore{
		trades:     make(chan paper.Trade, 8),
		signals:    make(chan signals.Signal, 8),
		riskEvents: make(chan string, 8),
	}
}

func (c *captureStore) SaveTrade(_ context.Context, trade paper.Trade) error {
	c.trades <- trade
	return nil
}

func (c *captureStore) SaveSignal(_ context.Context, signal signals.Signal) error {
	c.signals <- signal
	return nil
}

func (c *captureStore) SaveRiskEvent(_ context.Context, eventType, _ string, _ time.Time) error {
	c.riskEvents <- eventType
	return nil
}

func (c *captureStore) RecentTrades(context.Context, int) ([]paper.Trade, error) { return nil, nil }

func (c *captureStore) Close() {}

func TestRecorderPersistsClosedTrades(t *testing.T) {
	bus := events.NewBus()
	cs := newCaptureStore()
	NewRecorder(cs, bus, zerolog.Nop())

	trade := paper.Trade{
		ID:         "trade-1",
		Pair:       "BTC/USDT",
		Direction:  signals.DirectionLong,
		Size:       1,
		EntryPrice: 100,
		ExitPrice:  101,
		NetPnL:     decimal.NewFromFloat(0.9),
		ExitReason: strategy.ExitTakeProfit,
	}
	bus.PublishTradeClosed(trade)

	select {
	case got := <-cs.trades:
		if got.ID != "trade-1" || got.Pair != "BTC/USDT" {
			t.Errorf("persisted trade = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("trade was not persisted")
	}
}

func TestRecorderPersistsSignals(t *testing.T) {
	bus := events.NewBus()
	cs := newCaptureStore()
	NewRecorder(cs, bus, zerolog.Nop())

	bus.PublishSignal("ETH/USDT", "long", "RSI_oversold_bounce", 0.8, 3900)

	select {
	case got := <-cs.signals:
		if got.Pair != "ETH/USDT" || got.Indicator != "RSI_oversold_bounce" || got.Strength != 0.8 {
			t.Errorf("persisted signal = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("signal was not persisted")
	}
}

func TestRecorderPersistsRiskEvents(t *testing.T) {
	bus := events.NewBus()
	cs := newCaptureStore()
	NewRecorder(cs, bus, zerolog.Nop())

	bus.PublishHalt("large unrealized losses")

	select {
	case got := <-cs.riskEvents:
		if got != string(events.EventRiskHaltActivated) {
			t.Errorf("risk event = %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("risk event was not persisted")
	}
}
