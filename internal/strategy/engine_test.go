package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"crypto-scalper/config"
	"crypto-scalper/internal/market"
	"crypto-scalper/internal/signals"
)

func testEngineAt(t *testing.T, at time.Time) (*Engine, *time.Time) {
	t.Helper()

	clock := at
	now := func() time.Time { return clock }

	cfg := config.Default().Trading
	se := signals.NewEngine(cfg.Signals, zerolog.Nop())
	return NewEngine(cfg, se, zerolog.Nop(), now), &clock
}

func flatCandles(tf market.Timeframe, n int, close, volume float64) []market.Candle {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{
			OpenTime: start.Add(time.Duration(i) * tf.Duration()),
			Open:     close, High: close, Low: close, Close: close,
			Volume: volume,
		}
	}
	return out
}

func TestExitLevelsScenario(t *testing.T) {
	e, _ := testEngineAt(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	tp, sl := e.exitLevels(100, signals.DirectionLong)
	if tp != 101.0 || sl != 99.5 {
		t.Errorf("long levels = (%v, %v), want (101.0, 99.5)", tp, sl)
	}

	risk := math.Abs(100-sl) / 100
	reward := math.Abs(tp-100) / 100
	if ratio := reward / risk; ratio < 1.8 {
		t.Errorf("risk/reward = %v, want >= 1.8", ratio)
	}

	tp, sl = e.exitLevels(100, signals.DirectionShort)
	if tp != 99.0 || sl != 100.5 {
		t.Errorf("short levels = (%v, %v), want (99.0, 100.5)", tp, sl)
	}
}

func TestAnalyzePairProposesLong(t *testing.T) {
	e, _ := testEngineAt(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	// Volume spike on 1m plus a Bollinger breakout on 15m: two confirming
	// long signals with aggregate confidence above 0.6.
	oneMin := flatCandles(market.Timeframe1m, 21, 100, 1500)
	oneMin[20].Close = 100.5
	oneMin[20].Volume = 10000

	fifteenMin := flatCandles(market.Timeframe15m, 21, 100, 1500)
	fifteenMin[20].Close = 101.5

	snap := market.Snapshot{
		market.Timeframe1m:  oneMin,
		market.Timeframe15m: fifteenMin,
	}

	analysis := e.AnalyzePair("BTC/USDT", snap)
	if analysis.Outcome != OutcomeProposed {
		t.Fatalf("outcome = %s (%s), want proposed", analysis.Outcome, analysis.Reason)
	}

	ts := analysis.Signal
	if ts.Direction != signals.DirectionLong {
		t.Errorf("direction = %s, want long", ts.Direction)
	}
	if ts.EntryPrice != 100.5 {
		t.Errorf("entry = %v, want latest 1m close 100.5", ts.EntryPrice)
	}
	if ts.Confidence < 0.6 {
		t.Errorf("confidence = %v, want >= 0.6", ts.Confidence)
	}
	if ts.TakeProfit <= ts.EntryPrice || ts.StopLoss >= ts.EntryPrice {
		t.Errorf("long levels out of order: entry %v, tp %v, sl %v", ts.EntryPrice, ts.TakeProfit, ts.StopLoss)
	}
	if len(ts.SupportingSignals) < 2 {
		t.Errorf("supporting signals = %d, want >= 2", len(ts.SupportingSignals))
	}
}

func TestAnalyzePairRespectsCooldown(t *testing.T) {
	e, clock := testEngineAt(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	e.SetCooldown("BTC/USDT", 30)

	analysis := e.AnalyzePair("BTC/USDT", market.Snapshot{})
	if analysis.Outcome != OutcomeCooldown {
		t.Errorf("outcome = %s, want cooldown", analysis.Outcome)
	}

	// Other pairs are unaffected.
	if got := e.AnalyzePair("ETH/USDT", market.Snapshot{}); got.Outcome == OutcomeCooldown {
		t.Error("cooldown leaked to an unrelated pair")
	}

	// Cooldown expires at the boundary.
	*clock = clock.Add(30 * time.Minute)
	if e.InCooldown("BTC/USDT") {
		t.Error("expected cooldown to be over after 30 minutes")
	}
}

func TestQualityFilterRejectsDeadHours(t *testing.T) {
	e, _ := testEngineAt(t, time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC))

	if reason, ok := e.passesQualityFilters(market.Snapshot{}); ok {
		t.Error("expected rejection at 03:00 UTC")
	} else if reason != "low-activity trading hours" {
		t.Errorf("reason = %q", reason)
	}

	// 06:00 UTC is outside the dead zone.
	e2, _ := testEngineAt(t, time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC))
	if _, ok := e2.passesQualityFilters(market.Snapshot{}); !ok {
		t.Error("expected 06:00 UTC to pass the session filter")
	}
}

func TestQualityFilterRejectsLowVolume(t *testing.T) {
	e, _ := testEngineAt(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	snap := market.Snapshot{
		market.Timeframe1m: flatCandles(market.Timeframe1m, 10, 100, 500),
	}
	if reason, ok := e.passesQualityFilters(snap); ok {
		t.Error("expected rejection on thin volume")
	} else if reason != "insufficient volume" {
		t.Errorf("reason = %q", reason)
	}
}

func TestQualityFilterRejectsLowVolatility(t *testing.T) {
	e, _ := testEngineAt(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	// Flat 5m candles have zero true range, so ATR stays below 0.3% of
	// price.
	snap := market.Snapshot{
		market.Timeframe5m: flatCandles(market.Timeframe5m, 30, 100, 2000),
	}
	if reason, ok := e.passesQualityFilters(snap); ok {
		t.Error("expected rejection on low volatility")
	} else if reason != "volatility too low" {
		t.Errorf("reason = %q", reason)
	}
}

func TestShouldExitPosition(t *testing.T) {
	entryTime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e, clock := testEngineAt(t, entryTime.Add(5*time.Minute))

	tests := []struct {
		name       string
		direction  signals.Direction
		current    float64
		elapsed    time.Duration
		wantExit   bool
		wantReason ExitReason
	}{
		{"long take profit inclusive", signals.DirectionLong, 101.0, 5 * time.Minute, true, ExitTakeProfit},
		{"long above take profit", signals.DirectionLong, 101.3, 5 * time.Minute, true, ExitTakeProfit},
		{"long stop loss inclusive", signals.DirectionLong, 99.5, 5 * time.Minute, true, ExitStopLoss},
		{"long holding", signals.DirectionLong, 100.2, 5 * time.Minute, false, ""},
		{"short take profit", signals.DirectionShort, 99.0, 5 * time.Minute, true, ExitTakeProfit},
		{"short stop loss", signals.DirectionShort, 100.5, 5 * time.Minute, true, ExitStopLoss},
		{"time stop at a loss", signals.DirectionLong, 99.8, 15 * time.Minute, true, ExitTimeStop},
		{"time stop skipped in profit", signals.DirectionLong, 100.2, 15 * time.Minute, false, ""},
		{"short time stop at a loss", signals.DirectionShort, 100.1, 16 * time.Minute, true, ExitTimeStop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			*clock = entryTime.Add(tt.elapsed)

			var tp, sl float64
			if tt.direction == signals.DirectionLong {
				tp, sl = 101.0, 99.5
			} else {
				tp, sl = 99.0, 100.5
			}

			exit, reason := e.ShouldExitPosition(tt.direction, 100, tt.current, entryTime, tp, sl)
			if exit != tt.wantExit || reason != tt.wantReason {
				t.Errorf("got (%v, %q), want (%v, %q)", exit, reason, tt.wantExit, tt.wantReason)
			}
		})
	}
}

func TestPositionSize(t *testing.T) {
	e, _ := testEngineAt(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	// Risk budget 2% of 1000 = 20. Stop distance 0.5 gives a risk size of
	// 40 units; the 3x leverage cap of 30 units is tighter.
	if got := e.PositionSize(100, 99.5, 1000); got != 30 {
		t.Errorf("size = %v, want leverage-capped 30", got)
	}

	// Wider stop: risk size 20 is now the binding cap.
	if got := e.PositionSize(100, 99, 1000); got != 20 {
		t.Errorf("size = %v, want risk-capped 20", got)
	}

	// Degenerate stop distance.
	if got := e.PositionSize(100, 100, 1000); got != 0 {
		t.Errorf("size with zero stop distance = %v, want 0", got)
	}
}

func TestMarketSentiment(t *testing.T) {
	e, _ := testEngineAt(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	bullish := flatCandles(market.Timeframe15m, 20, 100, 1000)
	bullish[19].Close = 102
	bullish[19].Volume = 2000
	if got := e.MarketSentiment("BTC/USDT", market.Snapshot{market.Timeframe15m: bullish}); got != SentimentBullish {
		t.Errorf("sentiment = %s, want bullish", got)
	}

	bearish := flatCandles(market.Timeframe15m, 20, 100, 1000)
	bearish[19].Close = 98
	bearish[19].Volume = 2000
	if got := e.MarketSentiment("BTC/USDT", market.Snapshot{market.Timeframe15m: bearish}); got != SentimentBearish {
		t.Errorf("sentiment = %s, want bearish", got)
	}

	flat := flatCandles(market.Timeframe15m, 20, 100, 1000)
	if got := e.MarketSentiment("BTC/USDT", market.Snapshot{market.Timeframe15m: flat}); got != SentimentNeutral {
		t.Errorf("sentiment = %s, want neutral", got)
	}

	if got := e.MarketSentiment("BTC/USDT", nil); got != SentimentNeutral {
		t.Errorf("sentiment with no data = %s, want neutral", got)
	}
}
