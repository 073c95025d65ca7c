package models

import "time"

// Timeframe represents a candle resolution used for analysis.
type Timeframe string

const (
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
)

// AnalysisTimeframes lists the analysed timeframes from coarsest to finest.
var AnalysisTimeframes = []Timeframe{TF4h, TF1h, TF15m}

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	switch tf {
	case TF15m, TF1h, TF4h:
		return true
	default:
		return false
	}
}

// NormalizeTimeframe converts raw string to a valid timeframe (or 1h).
func NormalizeTimeframe(s string) Timeframe {
	tf := Timeframe(s)
	if IsValidTimeframe(tf) {
		return tf
	}
	return TF1h
}

// Duration returns the candle length of the timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF15m:
		return 15 * time.Minute
	case TF1h:
		return time.Hour
	case TF4h:
		return 4 * time.Hour
	default:
		return 0
	}
}
