package signal

import "PaperTrade/internal/domain/models"

// Indicator names used in breakdowns and contributing lists.
const (
	IndicatorOverflow   = "band_overflow"
	IndicatorRSI        = "rsi"
	IndicatorDivergence = "rsi_divergence"
	IndicatorMA         = "ma_reversal"
)

const (
	overflowWeight   = 3.0
	rsiWeight        = 1.5
	divergenceWeight = 1.0
	maWeight         = 1.5
	maMinConfidence  = 0.5
	rsiOversold      = 30.0
	rsiOverbought    = 70.0
	// indicatorsPerTimeframe is how many indicators each reading is evaluated on.
	indicatorsPerTimeframe = 4
)

// Vote is one indicator's directional opinion with its weight.
type Vote struct {
	Indicator string
	Direction models.Direction
	Weight    float64
}

// Votes extracts the indicators that fired on a reading. threshold is the band overflow threshold for its timeframe.
func Votes(r models.IndicatorReading, threshold float64) []Vote {
	if r.Insufficient {
		return nil
	}
	var out []Vote
	if r.Overflow.Magnitude >= threshold {
		switch r.Overflow.Direction {
		case models.OverflowLower:
			out = append(out, Vote{IndicatorOverflow, models.DirectionLong, overflowWeight})
		case models.OverflowUpper:
			out = append(out, Vote{IndicatorOverflow, models.DirectionShort, overflowWeight})
		}
	}
	switch {
	case r.Oscillator.Value > 0 && r.Oscillator.Value < rsiOversold:
		out = append(out, Vote{IndicatorRSI, models.DirectionLong, rsiWeight})
	case r.Oscillator.Value > rsiOverbought:
		out = append(out, Vote{IndicatorRSI, models.DirectionShort, rsiWeight})
	}
	if r.Oscillator.Divergence && r.Oscillator.DivergesTo.IsTradable() {
		out = append(out, Vote{IndicatorDivergence, r.Oscillator.DivergesTo, divergenceWeight})
	}
	if r.MA.ReversalConfidence >= maMinConfidence {
		switch r.MA.Alignment {
		case models.AlignmentBullish:
			out = append(out, Vote{IndicatorMA, models.DirectionLong, maWeight * r.MA.ReversalConfidence})
		case models.AlignmentBearish:
			out = append(out, Vote{IndicatorMA, models.DirectionShort, maWeight * r.MA.ReversalConfidence})
		}
	}
	return out
}

// Agreement is the weighted share of fired indicators pointing at target. No votes means no agreement.
func Agreement(votes []Vote, target models.Direction) float64 {
	total, match := 0.0, 0.0
	for _, v := range votes {
		total += v.Weight
		if v.Direction == target {
			match += v.Weight
		}
	}
	if total == 0 {
		return 0
	}
	return match / total
}

// Score sums signed vote weights, positive meaning long.
func Score(votes []Vote) float64 {
	s := 0.0
	for _, v := range votes {
		s += v.Direction.Sign() * v.Weight
	}
	return s
}

// Tier maps an absolute score to a strength tier 0..3.
func Tier(score float64) int {
	if score < 0 {
		score = -score
	}
	switch {
	case score < 2:
		return 0
	case score < 3.5:
		return 1
	case score < 5:
		return 2
	default:
		return 3
	}
}

// Classify turns a timeframe score into a direction.
func Classify(score float64) models.Direction {
	switch {
	case score > 2:
		return models.DirectionLong
	case score < -2:
		return models.DirectionShort
	default:
		return models.DirectionNeutral
	}
}
