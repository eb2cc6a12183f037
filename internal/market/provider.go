package market

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Provider supplies candle snapshots and last-trade prices. Fetching real
// exchange data lives behind this boundary; the core only sees the typed
// schema.
type Provider interface {
	// Snapshot returns the multi-timeframe candle history for a pair.
	Snapshot(ctx context.Context, pair string) (Snapshot, error)
	// LatestPrices returns the last trade price for each requested pair.
	// Pairs with no known price are omitted from the result.
	LatestPrices(ctx context.Context, pairs []string) (PriceMap, error)
	// Ping reports whether the data source is reachable.
	Ping(ctx context.Context) error
}

// SimulatedProvider generates random-walk market data so the bot can run
// end-to-end without exchange connectivity.
type SimulatedProvider struct {
	mu          sync.RWMutex
	prices      map[string]float64
	rng         *rand.Rand
	candleLimit int
	timeframes  []Timeframe
}

// NewSimulatedProvider creates a provider seeded with realistic base prices
// for the given pairs. Unknown pairs start at 100.
func NewSimulatedProvider(pairs []string, candleLimit int) *SimulatedProvider {
	base := map[string]float64{
		"BTC/USDT": 104500.00,
		"ETH/USDT": 3900.00,
		"BNB/USDT": 710.00,
		"SOL/USDT": 220.00,
		"XRP/USDT": 2.35,
		"ADA/USDT": 1.05,
	}

	prices := make(map[string]float64, len(pairs))
	for _, p := range pairs {
		if bp, ok := base[p]; ok {
			prices[p] = bp
		} else {
			prices[p] = 100.0
		}
	}

	if candleLimit <= 0 {
		candleLimit = 100
	}

	return &SimulatedProvider{
		prices:      prices,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		candleLimit: candleLimit,
		timeframes:  []Timeframe{Timeframe1m, Timeframe5m, Timeframe15m},
	}
}

// Snapshot generates candle history ending at the pair's current simulated
// price for every supported timeframe.
func (p *SimulatedProvider) Snapshot(_ context.Context, pair string) (Snapshot, error) {
	p.step(pair)

	p.mu.RLock()
	price, ok := p.prices[pair]
	p.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	snap := make(Snapshot, len(p.timeframes))
	for _, tf := range p.timeframes {
		snap[tf] = p.generateCandles(price, tf)
	}
	return snap, nil
}

// LatestPrices returns current simulated prices.
func (p *SimulatedProvider) LatestPrices(_ context.Context, pairs []string) (PriceMap, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(PriceMap, len(pairs))
	for _, pair := range pairs {
		if price, ok := p.prices[pair]; ok {
			out[pair] = price
		}
	}
	return out, nil
}

// Ping always succeeds for simulated data.
func (p *SimulatedProvider) Ping(_ context.Context) error { return nil }

// step applies a small random walk to the pair's price.
func (p *SimulatedProvider) step(pair string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if price, ok := p.prices[pair]; ok {
		// -0.5% to +0.5% per tick
		change := (p.rng.Float64() - 0.5) * 0.01
		p.prices[pair] = price * (1 + change)
	}
}

// generateCandles walks backwards from the current price to produce a
// plausible history of candleLimit bars.
func (p *SimulatedProvider) generateCandles(currentPrice float64, tf Timeframe) []Candle {
	p.mu.Lock()
	defer p.mu.Unlock()

	interval := tf.Duration()
	now := time.Now().Truncate(interval)
	candles := make([]Candle, p.candleLimit)

	price := currentPrice
	for i := p.candleLimit - 1; i >= 0; i-- {
		drift := (p.rng.Float64() - 0.5) * 0.004
		open := price / (1 + drift)
		high := maxFloat(open, price) * (1 + p.rng.Float64()*0.001)
		low := minFloat(open, price) * (1 - p.rng.Float64()*0.001)
		volume := 800 + p.rng.Float64()*2400

		candles[i] = Candle{
			OpenTime: now.Add(-time.Duration(p.candleLimit-1-i) * interval),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    price,
			Volume:   volume,
		}
		price = open
	}
	return candles
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
