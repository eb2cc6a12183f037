// Package bot orchestrates the trading loop: market data in, decisions
// through the strategy and risk layers, simulated execution out.
package bot

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"crypto-scalper/config"
	"crypto-scalper/internal/events"
	"crypto-scalper/internal/market"
	"crypto-scalper/internal/paper"
	"crypto-scalper/internal/risk"
	"crypto-scalper/internal/store"
	"crypto-scalper/internal/strategy"
)

// Bot runs the evaluation tick loop and owns graceful shutdown.
type Bot struct {
	cfg      *config.Config
	provider market.Provider
	strategy *strategy.Engine
	riskMgr  *risk.Manager
	executor *paper.Executor
	bus      *events.Bus
	ledger   *store.RedisLedger
	logger   zerolog.Logger
	now      func() time.Time

	tickCount int
}

// New creates the orchestrator. ledger may be nil when Redis is disabled; now
// may be nil for wall clock time.
func New(cfg *config.Config, provider market.Provider, strategyEngine *strategy.Engine, riskMgr *risk.Manager, executor *paper.Executor, bus *events.Bus, ledger *store.RedisLedger, logger zerolog.Logger, now func() time.Time) *Bot {
	if now == nil {
		now = time.Now
	}
	return &Bot{
		cfg:      cfg,
		provider: provider,
		strategy: strategyEngine,
		riskMgr:  riskMgr,
		executor: executor,
		bus:      bus,
		ledger:   ledger,
		logger:   logger.With().Str("component", "bot").Logger(),
		now:      now,
	}
}

// Run executes the trading loop until ctx is cancelled, then drains all open
// positions at their last known prices.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.provider.Ping(ctx); err != nil {
		return err
	}
	b.restoreState(ctx)

	interval := time.Duration(b.cfg.Data.UpdateInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	b.logger.Info().
		Dur("interval", interval).
		Strs("pairs", b.cfg.Data.Pairs).
		Msg("Starting trading loop")
	b.bus.Publish(events.Event{Type: events.EventBotStarted, Data: map[string]interface{}{
		"pairs": b.cfg.Data.Pairs,
	}})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	b.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return nil
		case <-ticker.C:
			b.tick(ctx)
		}
	}
}

// restoreState rehydrates persisted risk state from the ledger. Open
// positions from a crashed run are reported but not resumed; a graceful
// shutdown drains them before exit.
func (b *Bot) restoreState(ctx context.Context) {
	if b.ledger == nil {
		return
	}

	if halt, err := b.ledger.LoadHaltState(ctx); err == nil && halt.Halted {
		b.logger.Warn().Str("reason", halt.Reason).Msg("Restoring persisted trading halt")
		b.riskMgr.HaltTrading(halt.Reason)
	}

	if positions, err := b.ledger.LoadPositions(ctx); err == nil && len(positions) > 0 {
		b.logger.Warn().
			Int("count", len(positions)).
			Msg("Found positions persisted by a previous run; they were not resumed")
	}
}

// tick runs one full evaluation cycle.
func (b *Bot) tick(ctx context.Context) {
	b.tickCount++

	if b.riskMgr.ResetDailyCounters() {
		b.logger.Info().Msg("Daily risk counters reset")
	}

	prices, err := b.provider.LatestPrices(ctx, b.cfg.Data.Pairs)
	if err != nil {
		b.logger.Warn().Err(err).Msg("Failed to fetch prices, skipping cycle")
		return
	}
	if len(prices) == 0 {
		b.logger.Warn().Msg("No market data received, skipping cycle")
		return
	}

	closed := b.executor.UpdatePositions(prices)
	for _, id := range closed {
		b.logger.Info().Str("position_id", id).Msg("Position closed")
	}

	b.riskMgr.UpdatePositionPrices(prices, b.executor.Balance())

	for _, pair := range b.cfg.Data.Pairs {
		b.processPair(ctx, pair)
	}

	if b.tickCount%10 == 0 {
		b.logPerformanceSummary()
	}
	b.snapshotState(ctx)
}

// processPair analyzes one pair and opens a position when the strategy
// proposes a trade and the risk gate approves it.
func (b *Bot) processPair(ctx context.Context, pair string) {
	if b.executor.HasOpenPosition(pair) {
		return
	}

	snap, err := b.provider.Snapshot(ctx, pair)
	if err != nil {
		b.logger.Error().Err(err).Str("pair", pair).Msg("Failed to fetch candles")
		return
	}
	if snap == nil {
		return
	}

	analysis := b.strategy.AnalyzePair(pair, snap)
	if analysis.Outcome != strategy.OutcomeProposed {
		if analysis.Reason != "" {
			b.logger.Debug().Str("pair", pair).Str("reason", analysis.Reason).Msg("No trade")
		}
		return
	}
	ts := analysis.Signal

	for _, s := range ts.SupportingSignals {
		b.bus.PublishSignal(s.Pair, string(s.Direction), s.Indicator, s.Strength, s.Price)
	}

	equity, _ := b.executor.TotalEquity().Float64()
	size := b.strategy.PositionSize(ts.EntryPrice, ts.StopLoss, equity)
	if size <= 0 {
		return
	}

	pos, err := b.executor.OpenPosition(ts, size)
	if err != nil {
		if !errors.Is(err, paper.ErrRejected) {
			b.logger.Error().Err(err).Str("pair", pair).Msg("Failed to open position")
		}
		return
	}

	b.logger.Info().
		Str("position_id", pos.ID).
		Str("pair", pair).
		Str("direction", string(pos.Direction)).
		Float64("confidence", ts.Confidence).
		Int("confirming_signals", len(ts.SupportingSignals)).
		Msg("Trade executed")
}

// snapshotState persists open positions and the halt flag so a restarted
// process can pick up where this one stopped.
func (b *Bot) snapshotState(ctx context.Context) {
	if b.ledger == nil {
		return
	}
	if !b.ledger.Available() {
		b.ledger.Reconnect(ctx)
	}

	if err := b.ledger.SavePositions(ctx, b.executor.PositionSummaries()); err != nil {
		b.logger.Debug().Err(err).Msg("Position snapshot failed")
	}
	halted, reason := b.riskMgr.Halted()
	if err := b.ledger.SaveHaltState(ctx, halted, reason); err != nil {
		b.logger.Debug().Err(err).Msg("Halt state snapshot failed")
	}
}

func (b *Bot) logPerformanceSummary() {
	stats := b.executor.Statistics()
	b.logger.Info().
		Str("equity", stats.TotalEquity.StringFixed(2)).
		Float64("return_pct", stats.TotalReturnPct).
		Int("total_trades", stats.TotalTrades).
		Float64("win_rate_pct", stats.WinRatePct).
		Float64("max_drawdown_pct", stats.MaxDrawdownPct).
		Int("open_positions", stats.OpenPositions).
		Msg("Performance summary")
}

// shutdown drains every open position at the freshest price available and
// logs the final account summary.
func (b *Bot) shutdown() {
	b.logger.Info().Msg("Shutting down trading loop")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Best effort: positions fall back to their last known price when the
	// provider cannot serve a fresh one.
	prices, err := b.provider.LatestPrices(ctx, b.cfg.Data.Pairs)
	if err != nil {
		b.logger.Warn().Err(err).Msg("Could not fetch closing prices, using last known")
		prices = nil
	}

	if n := b.executor.OpenPositionCount(); n > 0 {
		b.logger.Info().Int("count", n).Msg("Closing open positions")
		b.executor.CloseAllPositions(prices, strategy.ExitShutdown)
	}
	b.snapshotState(ctx)

	stats := b.executor.Statistics()
	b.logger.Info().
		Float64("total_return_pct", stats.TotalReturnPct).
		Int("total_trades", stats.TotalTrades).
		Float64("win_rate_pct", stats.WinRatePct).
		Float64("max_drawdown_pct", stats.MaxDrawdownPct).
		Str("total_fees", stats.TotalFeesPaid.StringFixed(2)).
		Msg("Final performance summary")

	b.bus.Publish(events.Event{Type: events.EventBotStopped, Data: map[string]interface{}{
		"total_trades": stats.TotalTrades,
	}})
}
