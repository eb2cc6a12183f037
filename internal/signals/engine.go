// Package signals generates trading signals from technical indicators:
// RSI, MACD, volume spikes, Bollinger Bands and EMA crossovers.
package signals

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"crypto-scalper/config"
	"crypto-scalper/internal/market"
)

// Direction is the side of a signal or position.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// Signal is a single indicator trigger. Signals are produced fresh each tick
// and never mutated.
type Signal struct {
	Pair      string    `json:"pair"`
	Direction Direction `json:"direction"`
	Strength  float64   `json:"strength"`
	Indicator string    `json:"indicator"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}

// Confluence groups signals by direction.
type Confluence struct {
	Long  []Signal
	Short []Signal
}

// Engine generates trading signals from candle snapshots.
type Engine struct {
	cfg    config.SignalsConfig
	logger zerolog.Logger
}

// NewEngine creates a signal engine.
func NewEngine(cfg config.SignalsConfig, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: logger.With().Str("component", "signal_engine").Logger(),
	}
}

// GenerateSignals runs every indicator against the snapshot and returns the
// signals with strength above 0.5, strongest first. A missing or too-short
// timeframe silently contributes nothing.
func (e *Engine) GenerateSignals(pair string, snap market.Snapshot) []Signal {
	var signals []Signal

	signals = append(signals, e.rsiSignals(pair, snap)...)
	signals = append(signals, e.macdSignals(pair, snap)...)
	signals = append(signals, e.volumeSignals(pair, snap)...)
	signals = append(signals, e.bollingerSignals(pair, snap)...)
	signals = append(signals, e.emaCrossoverSignals(pair, snap)...)

	filtered := signals[:0]
	for _, s := range signals {
		if s.Strength > 0.5 {
			filtered = append(filtered, s)
		}
	}
	signals = filtered

	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].Strength > signals[j].Strength
	})

	if len(signals) > 0 {
		e.logger.Info().
			Str("pair", pair).
			Int("count", len(signals)).
			Msg("Generated signals")
	}
	return signals
}

// rsiSignals detects oversold bounces (long) and overbought reversals (short)
// on the 5-minute series.
func (e *Engine) rsiSignals(pair string, snap market.Snapshot) []Signal {
	candles := snap.Series(market.Timeframe5m)
	period := e.cfg.RSI.Period
	if len(candles) < period+2 {
		return nil
	}

	oversold := e.cfg.RSI.OversoldThreshold
	overbought := e.cfg.RSI.OverboughtThreshold

	currentRSI := CalculateRSI(candles, period)
	prevRSI := CalculateRSI(candles[:len(candles)-1], period)

	last := candles[len(candles)-1]

	switch {
	case prevRSI <= oversold && currentRSI > oversold:
		strength := minFloat(1.0, (oversold-prevRSI)/10)
		return []Signal{{
			Pair:      pair,
			Direction: DirectionLong,
			Strength:  strength,
			Indicator: "RSI_oversold_bounce",
			Timestamp: last.OpenTime,
			Price:     last.Close,
		}}
	case prevRSI >= overbought && currentRSI < overbought:
		strength := minFloat(1.0, (prevRSI-overbought)/10)
		return []Signal{{
			Pair:      pair,
			Direction: DirectionShort,
			Strength:  strength,
			Indicator: "RSI_overbought_reversal",
			Timestamp: last.OpenTime,
			Price:     last.Close,
		}}
	}
	return nil
}

// macdSignals detects histogram sign changes on the 5-minute series. Signal
// strength is the current histogram magnitude relative to the histogram's
// standard deviation over the whole series.
func (e *Engine) macdSignals(pair string, snap market.Snapshot) []Signal {
	candles := snap.Series(market.Timeframe5m)

	histogram := MACDHistogramSeries(candles, e.cfg.MACD.FastPeriod, e.cfg.MACD.SlowPeriod, e.cfg.MACD.SignalPeriod)
	if len(histogram) < 2 {
		return nil
	}

	currentDiff := histogram[len(histogram)-1]
	prevDiff := histogram[len(histogram)-2]

	histStdDev := stdDev(histogram)
	if histStdDev == 0 {
		return nil
	}

	last := candles[len(candles)-1]

	switch {
	case prevDiff <= 0 && currentDiff > 0:
		strength := minFloat(1.0, absFloat(currentDiff)/histStdDev)
		return []Signal{{
			Pair:      pair,
			Direction: DirectionLong,
			Strength:  strength,
			Indicator: "MACD_bullish_crossover",
			Timestamp: last.OpenTime,
			Price:     last.Close,
		}}
	case prevDiff >= 0 && currentDiff < 0:
		strength := minFloat(1.0, absFloat(currentDiff)/histStdDev)
		return []Signal{{
			Pair:      pair,
			Direction: DirectionShort,
			Strength:  strength,
			Indicator: "MACD_bearish_crossover",
			Timestamp: last.OpenTime,
			Price:     last.Close,
		}}
	}
	return nil
}

// volumeSignals detects volume spikes with a directional price move on the
// 1-minute series.
func (e *Engine) volumeSignals(pair string, snap market.Snapshot) []Signal {
	candles := snap.Series(market.Timeframe1m)
	lookback := e.cfg.Volume.LookbackPeriods
	if len(candles) < lookback+1 {
		return nil
	}

	last := candles[len(candles)-1]
	prev := candles[len(candles)-2]

	avgVolume := CalculateVolumeSMA(candles, lookback)
	if avgVolume == 0 || last.Volume <= avgVolume*e.cfg.Volume.SpikeMultiplier {
		return nil
	}
	if prev.Close == 0 {
		return nil
	}

	priceChange := (last.Close - prev.Close) / prev.Close
	strength := minFloat(1.0, (last.Volume/avgVolume-1)/3)

	switch {
	case priceChange > 0.002:
		return []Signal{{
			Pair:      pair,
			Direction: DirectionLong,
			Strength:  strength,
			Indicator: "Volume_spike_bullish",
			Timestamp: last.OpenTime,
			Price:     last.Close,
		}}
	case priceChange < -0.002:
		return []Signal{{
			Pair:      pair,
			Direction: DirectionShort,
			Strength:  strength,
			Indicator: "Volume_spike_bearish",
			Timestamp: last.OpenTime,
			Price:     last.Close,
		}}
	}
	return nil
}

// bollingerSignals detects band breakouts on the 15-minute series. The bar
// must cross from inside to outside the band; sitting outside is not a
// trigger.
func (e *Engine) bollingerSignals(pair string, snap market.Snapshot) []Signal {
	candles := snap.Series(market.Timeframe15m)
	period := e.cfg.BB.Period
	if len(candles) < period+1 {
		return nil
	}

	current, ok := CalculateBollingerBands(candles, period, e.cfg.BB.StdDev)
	if !ok {
		return nil
	}
	previous, ok := CalculateBollingerBands(candles[:len(candles)-1], period, e.cfg.BB.StdDev)
	if !ok {
		return nil
	}

	last := candles[len(candles)-1]
	prevClose := candles[len(candles)-2].Close

	switch {
	case prevClose <= previous.Upper && last.Close > current.Upper:
		strength := minFloat(1.0, (last.Close-current.Upper)/(current.Upper*0.01))
		return []Signal{{
			Pair:      pair,
			Direction: DirectionLong,
			Strength:  strength,
			Indicator: "BB_upper_breakout",
			Timestamp: last.OpenTime,
			Price:     last.Close,
		}}
	case prevClose >= previous.Lower && last.Close < current.Lower:
		strength := minFloat(1.0, (current.Lower-last.Close)/(current.Lower*0.01))
		return []Signal{{
			Pair:      pair,
			Direction: DirectionShort,
			Strength:  strength,
			Indicator: "BB_lower_breakdown",
			Timestamp: last.OpenTime,
			Price:     last.Close,
		}}
	}
	return nil
}

// emaCrossoverSignals detects fast/slow EMA crossovers on the 5-minute
// series.
func (e *Engine) emaCrossoverSignals(pair string, snap market.Snapshot) []Signal {
	candles := snap.Series(market.Timeframe5m)
	slowPeriod := e.cfg.EMA.SlowPeriod
	if len(candles) < slowPeriod+1 {
		return nil
	}

	currentFast := CalculateEMA(candles, e.cfg.EMA.FastPeriod)
	currentSlow := CalculateEMA(candles, slowPeriod)
	prevFast := CalculateEMA(candles[:len(candles)-1], e.cfg.EMA.FastPeriod)
	prevSlow := CalculateEMA(candles[:len(candles)-1], slowPeriod)
	if currentSlow == 0 {
		return nil
	}

	last := candles[len(candles)-1]

	switch {
	case prevFast <= prevSlow && currentFast > currentSlow:
		strength := minFloat(1.0, (currentFast-currentSlow)/currentSlow)
		return []Signal{{
			Pair:      pair,
			Direction: DirectionLong,
			Strength:  strength,
			Indicator: "EMA_bullish_crossover",
			Timestamp: last.OpenTime,
			Price:     last.Close,
		}}
	case prevFast >= prevSlow && currentFast < currentSlow:
		strength := minFloat(1.0, (currentSlow-currentFast)/currentSlow)
		return []Signal{{
			Pair:      pair,
			Direction: DirectionShort,
			Strength:  strength,
			Indicator: "EMA_bearish_crossover",
			Timestamp: last.OpenTime,
			Price:     last.Close,
		}}
	}
	return nil
}

// AnalyzeConfluence partitions signals by direction.
func (e *Engine) AnalyzeConfluence(signals []Signal) Confluence {
	var c Confluence
	for _, s := range signals {
		if s.Direction == DirectionLong {
			c.Long = append(c.Long, s)
		} else {
			c.Short = append(c.Short, s)
		}
	}
	return c
}

// HasSufficientSignals reports whether enough signals confirm the direction.
func (e *Engine) HasSufficientSignals(signals []Signal, direction Direction) bool {
	count := 0
	for _, s := range signals {
		if s.Direction == direction {
			count++
		}
	}
	return count >= e.cfg.MinConfirmingSignals
}

// SignalStrength aggregates a direction's signals into one confidence value
// using a strength-weighted mean. Stronger signals pull the aggregate toward
// themselves.
func (e *Engine) SignalStrength(signals []Signal, direction Direction) float64 {
	totalWeight := 0.0
	weighted := 0.0
	for _, s := range signals {
		if s.Direction != direction {
			continue
		}
		totalWeight += s.Strength
		weighted += s.Strength * s.Strength
	}
	if totalWeight == 0 {
		return 0
	}
	return weighted / totalWeight
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
