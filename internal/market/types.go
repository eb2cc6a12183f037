// Package market defines the typed OHLCV schema the decision core consumes
// and the provider boundary that supplies it.
package market

import "time"

// Timeframe identifies a candle interval.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
)

// Duration returns the bar interval for a timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	default:
		return time.Minute
	}
}

// Candle is a single validated OHLCV bar.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Snapshot is one pair's candle history keyed by timeframe, supplied fresh
// each evaluation tick. A missing timeframe means "no data", never an error.
type Snapshot map[Timeframe][]Candle

// Series returns the candles for a timeframe, or nil when absent.
func (s Snapshot) Series(tf Timeframe) []Candle {
	if s == nil {
		return nil
	}
	return s[tf]
}

// LatestClose returns the close of the most recent bar on the given
// timeframe. ok is false when the series is empty.
func (s Snapshot) LatestClose(tf Timeframe) (price float64, ok bool) {
	series := s.Series(tf)
	if len(series) == 0 {
		return 0, false
	}
	return series[len(series)-1].Close, true
}

// PriceMap maps pair symbol to last trade price.
type PriceMap map[string]float64

// Closes extracts the close series from candles.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
