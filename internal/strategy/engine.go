// Package strategy combines indicator signals into vetted trade proposals and
// hosts the exit-decision logic for open positions.
package strategy

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crypto-scalper/config"
	"crypto-scalper/internal/market"
	"crypto-scalper/internal/signals"
)

// TradeSignal is a complete trade proposal with entry and exit levels.
type TradeSignal struct {
	Pair              string            `json:"pair"`
	Direction         signals.Direction `json:"direction"`
	EntryPrice        float64           `json:"entry_price"`
	TakeProfit        float64           `json:"take_profit"`
	StopLoss          float64           `json:"stop_loss"`
	Confidence        float64           `json:"confidence"`
	SupportingSignals []signals.Signal  `json:"supporting_signals"`
	Timestamp         time.Time         `json:"timestamp"`
	Timeframe         market.Timeframe  `json:"timeframe"`
}

func (ts *TradeSignal) String() string {
	return fmt.Sprintf("%s %s @ %.4f (TP: %.4f, SL: %.4f, confidence: %.2f)",
		ts.Direction, ts.Pair, ts.EntryPrice, ts.TakeProfit, ts.StopLoss, ts.Confidence)
}

// Outcome classifies the result of analyzing one pair.
type Outcome string

const (
	// OutcomeProposed means a TradeSignal was produced.
	OutcomeProposed Outcome = "proposed"
	// OutcomeNoSignal means no or not enough confirming signals fired.
	OutcomeNoSignal Outcome = "no_signal"
	// OutcomeCooldown means the pair is cooling down after recent losses.
	OutcomeCooldown Outcome = "cooldown"
	// OutcomeRejected means signals fired but a quality filter failed.
	OutcomeRejected Outcome = "rejected"
)

// Analysis is the result of AnalyzePair. Signal is non-nil only for
// OutcomeProposed; Reason explains rejections.
type Analysis struct {
	Outcome Outcome
	Reason  string
	Signal  *TradeSignal
}

// ExitReason identifies why a position should close.
type ExitReason string

const (
	ExitTakeProfit   ExitReason = "take_profit"
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTimeStop     ExitReason = "time_stop"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitManual       ExitReason = "manual"
	ExitShutdown     ExitReason = "shutdown"
)

// Sentiment classifies the broader market tone for a pair.
type Sentiment string

const (
	SentimentBullish Sentiment = "bullish"
	SentimentBearish Sentiment = "bearish"
	SentimentNeutral Sentiment = "neutral"
)

// Engine implements the multi-signal momentum scalping strategy.
type Engine struct {
	exitCfg config.ExitConfig
	riskCfg config.RiskConfig

	signalEngine *signals.Engine
	logger       zerolog.Logger
	now          func() time.Time

	mu            sync.RWMutex
	cooldownUntil map[string]time.Time
}

// NewEngine creates a strategy engine. now may be nil, in which case wall
// clock time is used.
func NewEngine(cfg config.TradingConfig, signalEngine *signals.Engine, logger zerolog.Logger, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		exitCfg:       cfg.Exit,
		riskCfg:       cfg.Risk,
		signalEngine:  signalEngine,
		logger:        logger.With().Str("component", "strategy_engine").Logger(),
		now:           now,
		cooldownUntil: make(map[string]time.Time),
	}
}

// AnalyzePair runs the full decision pipeline for one pair: cooldown check,
// signal generation, confluence, entry/exit levels, confidence and
// risk/reward validation, then the quality filters.
func (e *Engine) AnalyzePair(pair string, snap market.Snapshot) Analysis {
	if e.InCooldown(pair) {
		return Analysis{Outcome: OutcomeCooldown, Reason: "pair in cooldown"}
	}

	sigs := e.signalEngine.GenerateSignals(pair, snap)
	if len(sigs) == 0 {
		return Analysis{Outcome: OutcomeNoSignal}
	}

	confluence := e.signalEngine.AnalyzeConfluence(sigs)

	// Long is evaluated first; the first direction with enough confirming
	// signals wins.
	if e.signalEngine.HasSufficientSignals(sigs, signals.DirectionLong) {
		return e.buildTradeSignal(pair, signals.DirectionLong, confluence.Long, snap)
	}
	if e.signalEngine.HasSufficientSignals(sigs, signals.DirectionShort) {
		return e.buildTradeSignal(pair, signals.DirectionShort, confluence.Short, snap)
	}
	return Analysis{Outcome: OutcomeNoSignal, Reason: "insufficient confirming signals"}
}

// buildTradeSignal validates entry conditions and assembles the proposal.
func (e *Engine) buildTradeSignal(pair string, direction signals.Direction, supporting []signals.Signal, snap market.Snapshot) Analysis {
	entryPrice, ok := snap.LatestClose(market.Timeframe1m)
	if !ok {
		return Analysis{Outcome: OutcomeRejected, Reason: "no 1m price data"}
	}

	confidence := e.signalEngine.SignalStrength(supporting, direction)
	if confidence < 0.6 {
		return Analysis{Outcome: OutcomeRejected, Reason: fmt.Sprintf("confidence %.2f below 0.60", confidence)}
	}

	takeProfit, stopLoss := e.exitLevels(entryPrice, direction)

	risk := absFloat(entryPrice-stopLoss) / entryPrice
	reward := absFloat(takeProfit-entryPrice) / entryPrice
	if risk == 0 || reward/risk < 1.8 {
		return Analysis{Outcome: OutcomeRejected, Reason: fmt.Sprintf("risk/reward %.2f below 1.80", reward/risk)}
	}

	if reason, ok := e.passesQualityFilters(snap); !ok {
		return Analysis{Outcome: OutcomeRejected, Reason: reason}
	}

	ts := &TradeSignal{
		Pair:              pair,
		Direction:         direction,
		EntryPrice:        entryPrice,
		TakeProfit:        takeProfit,
		StopLoss:          stopLoss,
		Confidence:        confidence,
		SupportingSignals: supporting,
		Timestamp:         e.now(),
		Timeframe:         market.Timeframe5m,
	}

	e.logger.Info().
		Str("pair", pair).
		Str("direction", string(direction)).
		Float64("entry", entryPrice).
		Float64("take_profit", takeProfit).
		Float64("stop_loss", stopLoss).
		Float64("confidence", confidence).
		Msg("Trade signal generated")

	return Analysis{Outcome: OutcomeProposed, Signal: ts}
}

// exitLevels computes take-profit and stop-loss prices symmetric around the
// entry for the given direction.
func (e *Engine) exitLevels(entryPrice float64, direction signals.Direction) (takeProfit, stopLoss float64) {
	tp := e.exitCfg.TakeProfitPercent / 100
	sl := e.exitCfg.StopLossPercent / 100

	if direction == signals.DirectionLong {
		return entryPrice * (1 + tp), entryPrice * (1 - sl)
	}
	return entryPrice * (1 - tp), entryPrice * (1 + sl)
}

// passesQualityFilters applies the volume, volatility and session filters.
// All reject silently; the returned reason is for logging only.
func (e *Engine) passesQualityFilters(snap market.Snapshot) (string, bool) {
	// Liquidity: trailing 5-bar average volume on the 1m series.
	oneMin := snap.Series(market.Timeframe1m)
	if len(oneMin) >= 5 {
		recentVolume := 0.0
		for _, c := range oneMin[len(oneMin)-5:] {
			recentVolume += c.Volume
		}
		if recentVolume/5 < 1000 {
			return "insufficient volume", false
		}
	}

	// Volatility: 14-period ATR on the 5m series must be at least 0.3% of
	// the current price.
	fiveMin := snap.Series(market.Timeframe5m)
	if len(fiveMin) > 20 {
		atr := signals.CalculateATR(fiveMin, 14)
		currentPrice := fiveMin[len(fiveMin)-1].Close
		if atr < currentPrice*0.003 {
			return "volatility too low", false
		}
	}

	// Session: skip the 02:00-06:00 UTC dead zone.
	hour := e.now().UTC().Hour()
	if hour >= 2 && hour < 6 {
		return "low-activity trading hours", false
	}

	return "", true
}

// ShouldExitPosition evaluates exit conditions for an open position in
// priority order: take-profit, stop-loss, profit-gated time-stop, then
// trailing stop to breakeven.
func (e *Engine) ShouldExitPosition(direction signals.Direction, entryPrice, currentPrice float64, entryTime time.Time, takeProfit, stopLoss float64) (bool, ExitReason) {
	long := direction == signals.DirectionLong

	if long && currentPrice >= takeProfit || !long && currentPrice <= takeProfit {
		return true, ExitTakeProfit
	}
	if long && currentPrice <= stopLoss || !long && currentPrice >= stopLoss {
		return true, ExitStopLoss
	}

	// Time stop fires only when the position is not in profit.
	timeLimit := time.Duration(e.exitCfg.TimeStopMinutes) * time.Minute
	if e.now().Sub(entryTime) >= timeLimit {
		if long && currentPrice <= entryPrice || !long && currentPrice >= entryPrice {
			return true, ExitTimeStop
		}
	}

	// Once profit has reached the trailing threshold the stop moves to
	// breakeven: exit if price has come back to the entry.
	trailingThreshold := e.exitCfg.TrailingStopPercent / 100
	var profitPercent float64
	if long {
		profitPercent = (currentPrice - entryPrice) / entryPrice
	} else {
		profitPercent = (entryPrice - currentPrice) / entryPrice
	}
	if profitPercent >= trailingThreshold {
		if long && currentPrice <= entryPrice || !long && currentPrice >= entryPrice {
			return true, ExitTrailingStop
		}
	}

	return false, ""
}

// PositionSize sizes a trade as the smaller of the risk-based size (risk
// budget over stop distance) and the leverage-capped size.
func (e *Engine) PositionSize(entryPrice, stopLoss, accountBalance float64) float64 {
	maxRiskAmount := accountBalance * e.riskCfg.MaxPositionSizePercent / 100

	riskPerUnit := absFloat(entryPrice - stopLoss)
	if riskPerUnit == 0 || entryPrice == 0 {
		return 0
	}
	riskBasedSize := maxRiskAmount / riskPerUnit

	maxSizeByLeverage := accountBalance * e.riskCfg.MaxLeverage / entryPrice

	if riskBasedSize < maxSizeByLeverage {
		return riskBasedSize
	}
	return maxSizeByLeverage
}

// MarketSentiment classifies a pair's tone from the 15m series using a
// 20-bar price SMA and a 10-bar volume SMA.
func (e *Engine) MarketSentiment(pair string, snap market.Snapshot) Sentiment {
	candles := snap.Series(market.Timeframe15m)
	if len(candles) < 20 {
		return SentimentNeutral
	}

	trendSMA := signals.CalculateSMA(candles, 20)
	volumeSMA := signals.CalculateVolumeSMA(candles, 10)

	last := candles[len(candles)-1]

	switch {
	case last.Close > trendSMA*1.01 && last.Volume > volumeSMA*1.2:
		return SentimentBullish
	case last.Close < trendSMA*0.99 && last.Volume > volumeSMA*1.2:
		return SentimentBearish
	default:
		return SentimentNeutral
	}
}

// InCooldown reports whether a pair is in a post-loss cooldown.
func (e *Engine) InCooldown(pair string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	until, ok := e.cooldownUntil[pair]
	return ok && e.now().Before(until)
}

// SetCooldown blocks new proposals for a pair for the given duration.
func (e *Engine) SetCooldown(pair string, minutes int) {
	e.mu.Lock()
	e.cooldownUntil[pair] = e.now().Add(time.Duration(minutes) * time.Minute)
	e.mu.Unlock()

	e.logger.Info().Str("pair", pair).Int("minutes", minutes).Msg("Pair cooldown set")
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
