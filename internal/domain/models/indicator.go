package models

// OverflowDirection tells which band boundary price has crossed.
type OverflowDirection string

const (
	OverflowNone  OverflowDirection = "none"
	OverflowUpper OverflowDirection = "upper"
	OverflowLower OverflowDirection = "lower"
)

// MAAlignment is the ordering of the fast and slow moving averages.
type MAAlignment string

const (
	AlignmentBullish MAAlignment = "bullish"
	AlignmentBearish MAAlignment = "bearish"
	AlignmentMixed   MAAlignment = "mixed"
)

// Overflow describes how far price sits outside the band indicator, in percent of the band boundary.
type Overflow struct {
	Direction OverflowDirection `json:"direction"`
	Magnitude float64           `json:"magnitude"`
	// Recent holds magnitudes of the previous closed candles in the same direction, newest first.
	Recent []float64 `json:"recent,omitempty"`
}

// Oscillator is an RSI style reading.
type Oscillator struct {
	Value      float64   `json:"value"`
	Divergence bool      `json:"divergence"`
	DivergesTo Direction `json:"diverges_to,omitempty"`
}

// MovingAverage carries MA alignment and how confident the reversal detector is.
type MovingAverage struct {
	Alignment          MAAlignment `json:"alignment"`
	ReversalConfidence float64     `json:"reversal_confidence"`
}

// Volatility is an ATR measure.
type Volatility struct {
	ATR        float64 `json:"atr"`
	ATRPercent float64 `json:"atr_percent"`
}

// IndicatorReading is the per-timeframe output of the indicator library.
type IndicatorReading struct {
	Timeframe    Timeframe     `json:"timeframe"`
	Price        float64       `json:"price"`
	Overflow     Overflow      `json:"overflow"`
	Oscillator   Oscillator    `json:"oscillator"`
	MA           MovingAverage `json:"ma"`
	Volatility   Volatility    `json:"volatility"`
	Insufficient bool          `json:"insufficient"`
}

// IndicatorParams configures the indicator library.
type IndicatorParams struct {
	BandPeriod    int     `yaml:"band_period" default:"20"`
	BandDeviation float64 `yaml:"band_deviation" default:"2"`
	RSIPeriod     int     `yaml:"rsi_period" default:"14"`
	FastMAPeriod  int     `yaml:"fast_ma_period" default:"9"`
	SlowMAPeriod  int     `yaml:"slow_ma_period" default:"21"`
	ATRPeriod     int     `yaml:"atr_period" default:"14"`
	OverflowLook  int     `yaml:"overflow_lookback" default:"3"`
	DivergenceLen int     `yaml:"divergence_lookback" default:"10"`
}

// TimeframeThresholds maps a timeframe to its band overflow threshold, in percent.
type TimeframeThresholds map[Timeframe]float64

// For returns the threshold for tf, falling back to 1%.
func (t TimeframeThresholds) For(tf Timeframe) float64 {
	if v, ok := t[tf]; ok && v > 0 {
		return v
	}
	return 1.0
}
