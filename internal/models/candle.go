// Package models provides the data structures shared across the pivot engine:
// candles, daily level sets, positions and trade events.
package models

import "time"

// Candle is a single OHLC bar as returned by the market data feed.
// Candles are immutable once fetched.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
}

// IsZero reports whether the candle carries no data.
func (c Candle) IsZero() bool {
	return c.Timestamp.IsZero() && c.Open == 0 && c.High == 0 && c.Low == 0 && c.Close == 0
}
