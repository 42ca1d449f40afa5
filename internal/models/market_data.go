package models

import "time"

// Interval identifies a candle timeframe.
type Interval string

const (
	Interval4h  Interval = "4h"
	Interval1h  Interval = "1h"
	Interval15m Interval = "15m"
)

// Candle represents a single OHLCV bar. Timestamps come from the exchange in
// milliseconds and are monotonic non-decreasing within a series.
type Candle struct {
	OpenTime int64   `json:"open_time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// Time returns the candle open time as UTC wall clock.
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.OpenTime).UTC()
}

// LongShortRatio represents the top-trader long/short positioning for a symbol.
type LongShortRatio struct {
	Symbol    string    `json:"symbol"`
	Long      float64   `json:"long"`
	Short     float64   `json:"short"`
	Ratio     float64   `json:"ratio"`
	Timestamp time.Time `json:"timestamp"`
}

// Closes extracts the close series from a candle slice.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Highs extracts the high series from a candle slice.
func Highs(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

// Lows extracts the low series from a candle slice.
func Lows(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}
