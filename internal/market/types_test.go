package market

import (
	"context"
	"testing"
	"time"
)

func TestSnapshotAccessors(t *testing.T) {
	candle := Candle{
		OpenTime: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Open:     100, High: 101, Low: 99, Close: 100.5,
		Volume: 1500,
	}
	snap := Snapshot{Timeframe1m: []Candle{candle}}

	if got := snap.Series(Timeframe1m); len(got) != 1 {
		t.Errorf("Series(1m) length = %d, want 1", len(got))
	}
	if got := snap.Series(Timeframe5m); got != nil {
		t.Errorf("Series(5m) = %v, want nil for missing timeframe", got)
	}

	price, ok := snap.LatestClose(Timeframe1m)
	if !ok || price != 100.5 {
		t.Errorf("LatestClose(1m) = (%v, %v), want (100.5, true)", price, ok)
	}
	if _, ok := snap.LatestClose(Timeframe15m); ok {
		t.Error("LatestClose on a missing timeframe reported ok")
	}

	var empty Snapshot
	if got := empty.Series(Timeframe1m); got != nil {
		t.Errorf("nil snapshot Series = %v, want nil", got)
	}
}

func TestTimeframeDuration(t *testing.T) {
	tests := []struct {
		tf   Timeframe
		want time.Duration
	}{
		{Timeframe1m, time.Minute},
		{Timeframe5m, 5 * time.Minute},
		{Timeframe15m, 15 * time.Minute},
		{Timeframe("1h"), time.Minute},
	}
	for _, tt := range tests {
		if got := tt.tf.Duration(); got != tt.want {
			t.Errorf("Duration(%s) = %v, want %v", tt.tf, got, tt.want)
		}
	}
}

func TestSimulatedProviderSnapshot(t *testing.T) {
	p := NewSimulatedProvider([]string{"BTC/USDT"}, 50)

	snap, err := p.Snapshot(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	for _, tf := range []Timeframe{Timeframe1m, Timeframe5m, Timeframe15m} {
		candles := snap.Series(tf)
		if len(candles) != 50 {
			t.Errorf("%s series length = %d, want 50", tf, len(candles))
		}
		for i, c := range candles {
			if c.High < c.Low || c.High < c.Close || c.Low > c.Close {
				t.Errorf("%s candle %d has inconsistent OHLC: %+v", tf, i, c)
			}
			if c.Volume <= 0 {
				t.Errorf("%s candle %d has non-positive volume", tf, i)
			}
		}
		for i := 1; i < len(candles); i++ {
			if !candles[i].OpenTime.After(candles[i-1].OpenTime) {
				t.Errorf("%s candles are not in ascending time order at %d", tf, i)
			}
		}
	}

	if snap, _ := p.Snapshot(context.Background(), "UNKNOWN/PAIR"); snap != nil {
		t.Errorf("unknown pair snapshot = %v, want nil", snap)
	}
}

func TestSimulatedProviderLatestPrices(t *testing.T) {
	p := NewSimulatedProvider([]string{"BTC/USDT", "ETH/USDT"}, 10)

	prices, err := p.LatestPrices(context.Background(), []string{"BTC/USDT", "UNKNOWN/PAIR"})
	if err != nil {
		t.Fatalf("LatestPrices failed: %v", err)
	}
	if _, ok := prices["BTC/USDT"]; !ok {
		t.Error("missing price for BTC/USDT")
	}
	if _, ok := prices["UNKNOWN/PAIR"]; ok {
		t.Error("unknown pair should be omitted from the price map")
	}
}
