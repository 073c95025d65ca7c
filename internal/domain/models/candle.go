package models

import "time"

// Candle represents an OHLCV bar. Closed candles are immutable; the latest one may update in place.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Tick is a last-trade price update from the market feed.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// FeedMessage is one item on the tick/candle feed. Exactly one of Candle or Tick is set.
type FeedMessage struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe,omitempty"`
	Candle    *Candle   `json:"candle,omitempty"`
	Tick      *Tick     `json:"ticker,omitempty"`
}
