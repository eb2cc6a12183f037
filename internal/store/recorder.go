package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"crypto-scalper/internal/events"
	"crypto-scalper/internal/paper"
	"crypto-scalper/internal/signals"
)

const writeTimeout = 5 * time.Second

// Recorder subscribes to the event bus and persists trading activity. The
// core publishes fire-and-forget, so a failed write only logs.
type Recorder struct {
	store  TradeStore
	logger zerolog.Logger
}

// NewRecorder wires a recorder into the bus.
func NewRecorder(ts TradeStore, bus *events.Bus, logger zerolog.Logger) *Recorder {
	r := &Recorder{
		store:  ts,
		logger: logger.With().Str("component", "trade_recorder").Logger(),
	}

	bus.Subscribe(events.EventTradeClosed, r.onTradeClosed)
	bus.Subscribe(events.EventSignalGenerated, r.onSignalGenerated)
	bus.Subscribe(events.EventRiskHaltActivated, r.onRiskEvent)
	bus.Subscribe(events.EventRiskHaltResumed, r.onRiskEvent)
	bus.Subscribe(events.EventDailyReset, r.onRiskEvent)
	return r
}

func (r *Recorder) onTradeClosed(ev events.Event) {
	trade, ok := ev.Data["trade"].(paper.Trade)
	if !ok {
		r.logger.Warn().Msg("Trade-closed event without a trade payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.store.SaveTrade(ctx, trade); err != nil {
		r.logger.Error().Err(err).Str("trade_id", trade.ID).Msg("Failed to persist trade")
	}
}

func (r *Recorder) onSignalGenerated(ev events.Event) {
	signal := signals.Signal{
		Timestamp: ev.Timestamp,
	}
	if v, ok := ev.Data["pair"].(string); ok {
		signal.Pair = v
	}
	if v, ok := ev.Data["direction"].(string); ok {
		signal.Direction = signals.Direction(v)
	}
	if v, ok := ev.Data["indicator"].(string); ok {
		signal.Indicator = v
	}
	if v, ok := ev.Data["strength"].(float64); ok {
		signal.Strength = v
	}
	if v, ok := ev.Data["price"].(float64); ok {
		signal.Price = v
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.store.SaveSignal(ctx, signal); err != nil {
		r.logger.Error().Err(err).Str("pair", signal.Pair).Msg("Failed to persist signal")
	}
}

func (r *Recorder) onRiskEvent(ev events.Event) {
	detail := ""
	if v, ok := ev.Data["reason"].(string); ok {
		detail = v
	} else if v, ok := ev.Data["date"].(string); ok {
		detail = v
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.store.SaveRiskEvent(ctx, string(ev.Type), detail, ev.Timestamp); err != nil {
		r.logger.Error().Err(err).Str("event", string(ev.Type)).Msg("Failed to persist risk event")
	}
}
