package models

import "time"

// Direction of a signal or position.
type Direction string

const (
	DirectionLong    Direction = "long"
	DirectionShort   Direction = "short"
	DirectionNeutral Direction = "neutral"
)

// Sign returns +1 for long, -1 for short and 0 otherwise.
func (d Direction) Sign() float64 {
	switch d {
	case DirectionLong:
		return 1
	case DirectionShort:
		return -1
	default:
		return 0
	}
}

// IsTradable reports whether a position can be opened in this direction.
func (d Direction) IsTradable() bool {
	return d == DirectionLong || d == DirectionShort
}

// TimeframeScore is the aggregator breakdown for a single timeframe.
type TimeframeScore struct {
	Timeframe Timeframe `json:"timeframe"`
	Score     float64   `json:"score"`
	Direction Direction `json:"direction"`
	Tier      int       `json:"tier"`
	Fired     []string  `json:"fired"`
	Evaluated int       `json:"evaluated"`
}

// Signal is an immutable directional recommendation. Later analyses supersede it.
type Signal struct {
	Symbol                 string           `json:"symbol"`
	Direction              Direction        `json:"direction"`
	Strength               float64          `json:"strength"`
	Confidence             float64          `json:"confidence"`
	SupportingTimeframes   []Timeframe      `json:"supporting_timeframes"`
	ContributingIndicators []string         `json:"contributing_indicators"`
	Breakdown              []TimeframeScore `json:"breakdown,omitempty"`
	Timestamp              time.Time        `json:"timestamp"`
}
