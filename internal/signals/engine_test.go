package signals

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"crypto-scalper/config"
	"crypto-scalper/internal/market"
)

func testEngine() *Engine {
	return NewEngine(config.Default().Trading.Signals, zerolog.Nop())
}

// candlesFromCloses builds a candle series with fixed volume from a close
// series.
func candlesFromCloses(tf market.Timeframe, closes ...float64) []market.Candle {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	candles := make([]market.Candle, len(closes))
	for i, c := range closes {
		candles[i] = market.Candle{
			OpenTime: start.Add(time.Duration(i) * tf.Duration()),
			Open:     c,
			High:     c,
			Low:      c,
			Close:    c,
			Volume:   1000,
		}
	}
	return candles
}

func constantCloses(n int, value float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = value
	}
	return out
}

func TestCalculateSMA(t *testing.T) {
	candles := candlesFromCloses(market.Timeframe5m, 1, 2, 3, 4, 5)

	if got := CalculateSMA(candles, 5); got != 3.0 {
		t.Errorf("SMA(5) = %v, want 3.0", got)
	}
	if got := CalculateSMA(candles, 2); got != 4.5 {
		t.Errorf("SMA(2) = %v, want 4.5", got)
	}
	if got := CalculateSMA(candles, 10); got != 0 {
		t.Errorf("SMA with insufficient data = %v, want 0", got)
	}
}

func TestCalculateEMAConstantSeries(t *testing.T) {
	candles := candlesFromCloses(market.Timeframe5m, constantCloses(30, 50)...)

	if got := CalculateEMA(candles, 9); math.Abs(got-50) > 1e-9 {
		t.Errorf("EMA of constant series = %v, want 50", got)
	}
}

func TestCalculateRSIExtremes(t *testing.T) {
	// Monotonic rise has no losses.
	up := candlesFromCloses(market.Timeframe5m, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16)
	if got := CalculateRSI(up, 14); got != 100.0 {
		t.Errorf("RSI of rising series = %v, want 100", got)
	}

	// Too little history is neutral.
	short := candlesFromCloses(market.Timeframe5m, 1, 2, 3)
	if got := CalculateRSI(short, 14); got != 50.0 {
		t.Errorf("RSI with insufficient data = %v, want 50", got)
	}
}

func TestCalculateATR(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	candles := []market.Candle{
		{OpenTime: start, Open: 100, High: 102, Low: 98, Close: 100, Volume: 1000},
		{OpenTime: start.Add(time.Minute), Open: 100, High: 103, Low: 99, Close: 101, Volume: 1000},
		{OpenTime: start.Add(2 * time.Minute), Open: 101, High: 104, Low: 100, Close: 103, Volume: 1000},
	}

	// TR bar 1: max(4, |103-100|, |99-100|) = 4
	// TR bar 2: max(4, |104-101|, |100-101|) = 4
	if got := CalculateATR(candles, 2); math.Abs(got-4.0) > 1e-9 {
		t.Errorf("ATR = %v, want 4.0", got)
	}
}

func TestMACDHistogramSeriesTooShort(t *testing.T) {
	candles := candlesFromCloses(market.Timeframe5m, constantCloses(30, 100)...)
	if got := MACDHistogramSeries(candles, 12, 26, 9); got != nil {
		t.Errorf("expected nil histogram for %d bars, got %d entries", len(candles), len(got))
	}
}

func TestMACDHistogramSeriesFlat(t *testing.T) {
	candles := candlesFromCloses(market.Timeframe5m, constantCloses(60, 100)...)
	hist := MACDHistogramSeries(candles, 12, 26, 9)
	if len(hist) == 0 {
		t.Fatal("expected non-empty histogram for 60 bars")
	}
	for i, h := range hist {
		if math.Abs(h) > 1e-9 {
			t.Errorf("histogram[%d] = %v, want 0 for flat series", i, h)
		}
	}
}

func TestRSIOversoldBounceSignal(t *testing.T) {
	e := testEngine()

	// 13 straight declines push RSI to 0, then a sharp rebound lifts it back
	// above the oversold threshold. Strength = min(1, (30-0)/10) = 1.
	closes := []float64{100, 99, 98, 97, 96, 95, 94, 93, 92, 91, 90, 89, 88, 87, 86, 106}
	snap := market.Snapshot{
		market.Timeframe5m: candlesFromCloses(market.Timeframe5m, closes...),
	}

	signals := e.GenerateSignals("BTC/USDT", snap)
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	s := signals[0]
	if s.Indicator != "RSI_oversold_bounce" {
		t.Errorf("indicator = %s, want RSI_oversold_bounce", s.Indicator)
	}
	if s.Direction != DirectionLong {
		t.Errorf("direction = %s, want long", s.Direction)
	}
	if s.Strength != 1.0 {
		t.Errorf("strength = %v, want 1.0", s.Strength)
	}
	if s.Price != 106 {
		t.Errorf("price = %v, want latest close 106", s.Price)
	}
}

func TestWeakRSISignalIsFiltered(t *testing.T) {
	// With a 2-period RSI the close series 100, 128, 56, 89.88 puts the
	// previous RSI at exactly 28 (gains 28, losses 72) and the current RSI
	// above the threshold. Strength = (30-28)/10 = 0.2, which must not pass
	// the 0.5 filter.
	cfg := config.Default().Trading.Signals
	cfg.RSI.Period = 2
	e := NewEngine(cfg, zerolog.Nop())

	snap := market.Snapshot{
		market.Timeframe5m: candlesFromCloses(market.Timeframe5m, 100, 128, 56, 89.88),
	}

	if signals := e.GenerateSignals("BTC/USDT", snap); len(signals) != 0 {
		t.Errorf("expected weak signal to be filtered, got %d signals", len(signals))
	}
}

func TestVolumeSpikeSignal(t *testing.T) {
	e := testEngine()

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	candles := make([]market.Candle, 21)
	for i := range candles {
		candles[i] = market.Candle{
			OpenTime: start.Add(time.Duration(i) * time.Minute),
			Open:     100, High: 100, Low: 100, Close: 100,
			Volume: 1000,
		}
	}
	// Final bar: 5x volume and a +0.5% move.
	candles[20].Close = 100.5
	candles[20].High = 100.5
	candles[20].Volume = 5000

	snap := market.Snapshot{market.Timeframe1m: candles}

	signals := e.GenerateSignals("ETH/USDT", snap)
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	s := signals[0]
	if s.Indicator != "Volume_spike_bullish" {
		t.Errorf("indicator = %s, want Volume_spike_bullish", s.Indicator)
	}
	if s.Direction != DirectionLong {
		t.Errorf("direction = %s, want long", s.Direction)
	}
	// avg volume = (19*1000 + 5000)/20 = 1200; ratio 4.167 caps strength at 1.
	if s.Strength != 1.0 {
		t.Errorf("strength = %v, want 1.0", s.Strength)
	}
}

func TestVolumeSpikeWithoutPriceMoveIsIgnored(t *testing.T) {
	e := testEngine()

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	candles := make([]market.Candle, 21)
	for i := range candles {
		candles[i] = market.Candle{
			OpenTime: start.Add(time.Duration(i) * time.Minute),
			Open:     100, High: 100, Low: 100, Close: 100,
			Volume: 1000,
		}
	}
	// Spike volume but flat price.
	candles[20].Volume = 5000

	snap := market.Snapshot{market.Timeframe1m: candles}
	if signals := e.GenerateSignals("ETH/USDT", snap); len(signals) != 0 {
		t.Errorf("expected no signals for spike without price move, got %d", len(signals))
	}
}

func TestBollingerBreakoutSignal(t *testing.T) {
	e := testEngine()

	closes := constantCloses(21, 100)
	closes[20] = 102
	snap := market.Snapshot{
		market.Timeframe15m: candlesFromCloses(market.Timeframe15m, closes...),
	}

	signals := e.GenerateSignals("SOL/USDT", snap)
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	s := signals[0]
	if s.Indicator != "BB_upper_breakout" {
		t.Errorf("indicator = %s, want BB_upper_breakout", s.Indicator)
	}
	if s.Direction != DirectionLong {
		t.Errorf("direction = %s, want long", s.Direction)
	}
	if s.Strength <= 0.5 || s.Strength > 1.0 {
		t.Errorf("strength = %v, want in (0.5, 1.0]", s.Strength)
	}
}

func TestBollingerBreakdownSignal(t *testing.T) {
	e := testEngine()

	closes := constantCloses(21, 100)
	closes[20] = 98
	snap := market.Snapshot{
		market.Timeframe15m: candlesFromCloses(market.Timeframe15m, closes...),
	}

	signals := e.GenerateSignals("SOL/USDT", snap)
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	if signals[0].Direction != DirectionShort {
		t.Errorf("direction = %s, want short", signals[0].Direction)
	}
	if signals[0].Indicator != "BB_lower_breakdown" {
		t.Errorf("indicator = %s, want BB_lower_breakdown", signals[0].Indicator)
	}
}

func TestEMACrossoverDetection(t *testing.T) {
	e := testEngine()

	// Flat series then a large jump: both EMAs were equal, fast reacts more.
	closes := constantCloses(22, 100)
	closes[21] = 400
	snap := market.Snapshot{
		market.Timeframe5m: candlesFromCloses(market.Timeframe5m, closes...),
	}

	signals := e.emaCrossoverSignals("BTC/USDT", snap)
	if len(signals) != 1 {
		t.Fatalf("expected 1 crossover, got %d", len(signals))
	}
	if signals[0].Direction != DirectionLong {
		t.Errorf("direction = %s, want long", signals[0].Direction)
	}
	if signals[0].Indicator != "EMA_bullish_crossover" {
		t.Errorf("indicator = %s, want EMA_bullish_crossover", signals[0].Indicator)
	}
}

func TestMissingTimeframesProduceNoSignals(t *testing.T) {
	e := testEngine()

	if signals := e.GenerateSignals("BTC/USDT", nil); len(signals) != 0 {
		t.Errorf("nil snapshot: expected no signals, got %d", len(signals))
	}

	empty := market.Snapshot{
		market.Timeframe1m:  nil,
		market.Timeframe5m:  {},
		market.Timeframe15m: candlesFromCloses(market.Timeframe15m, 100),
	}
	if signals := e.GenerateSignals("BTC/USDT", empty); len(signals) != 0 {
		t.Errorf("short snapshot: expected no signals, got %d", len(signals))
	}
}

func TestGenerateSignalsSortedByStrength(t *testing.T) {
	e := testEngine()

	// Combine a maximal-strength volume spike on 1m with a smaller Bollinger
	// breakout on 15m and check ordering.
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	oneMin := make([]market.Candle, 21)
	for i := range oneMin {
		oneMin[i] = market.Candle{
			OpenTime: start.Add(time.Duration(i) * time.Minute),
			Open:     100, High: 100, Low: 100, Close: 100,
			Volume: 1000,
		}
	}
	oneMin[20].Close = 100.5
	oneMin[20].Volume = 10000

	fifteenCloses := constantCloses(21, 100)
	fifteenCloses[20] = 101.5
	snap := market.Snapshot{
		market.Timeframe1m:  oneMin,
		market.Timeframe15m: candlesFromCloses(market.Timeframe15m, fifteenCloses...),
	}

	signals := e.GenerateSignals("BTC/USDT", snap)
	if len(signals) < 2 {
		t.Fatalf("expected at least 2 signals, got %d", len(signals))
	}
	for i := 1; i < len(signals); i++ {
		if signals[i].Strength > signals[i-1].Strength {
			t.Errorf("signals not sorted descending at %d: %v > %v", i, signals[i].Strength, signals[i-1].Strength)
		}
	}
}

func TestAnalyzeConfluence(t *testing.T) {
	e := testEngine()

	signals := []Signal{
		{Direction: DirectionLong, Strength: 0.8},
		{Direction: DirectionShort, Strength: 0.7},
		{Direction: DirectionLong, Strength: 0.6},
	}

	c := e.AnalyzeConfluence(signals)
	if len(c.Long) != 2 {
		t.Errorf("long count = %d, want 2", len(c.Long))
	}
	if len(c.Short) != 1 {
		t.Errorf("short count = %d, want 1", len(c.Short))
	}
}

func TestHasSufficientSignals(t *testing.T) {
	e := testEngine() // min_confirming_signals = 2

	signals := []Signal{
		{Direction: DirectionLong, Strength: 0.8},
		{Direction: DirectionLong, Strength: 0.6},
		{Direction: DirectionShort, Strength: 0.9},
	}

	if !e.HasSufficientSignals(signals, DirectionLong) {
		t.Error("expected long to have sufficient signals")
	}
	if e.HasSufficientSignals(signals, DirectionShort) {
		t.Error("expected short to lack sufficient signals")
	}
}

func TestSignalStrengthWeightedMean(t *testing.T) {
	e := testEngine()

	signals := []Signal{
		{Direction: DirectionLong, Strength: 0.8},
		{Direction: DirectionLong, Strength: 0.6},
	}

	// (0.64 + 0.36) / 1.4
	want := 1.0 / 1.4
	if got := e.SignalStrength(signals, DirectionLong); math.Abs(got-want) > 1e-9 {
		t.Errorf("SignalStrength = %v, want %v", got, want)
	}
	if got := e.SignalStrength(signals, DirectionShort); got != 0 {
		t.Errorf("SignalStrength for empty direction = %v, want 0", got)
	}
	if got := e.SignalStrength(nil, DirectionLong); got != 0 {
		t.Errorf("SignalStrength with no signals = %v, want 0", got)
	}
}
