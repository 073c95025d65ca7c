package validator

import (
	"PaperTrade/internal/domain/models"
	"PaperTrade/internal/services/signal"
)

// ThresholdPass is the share of overflow criteria (the current magnitude plus each recent sample)
// that reach threshold on the side matching target. A reading overflowing the other way scores 0.
func ThresholdPass(r models.IndicatorReading, target models.Direction, threshold float64) float64 {
	want := models.OverflowLower
	if target == models.DirectionShort {
		want = models.OverflowUpper
	}
	if r.Overflow.Direction != want {
		return 0
	}
	criteria := append([]float64{r.Overflow.Magnitude}, r.Overflow.Recent...)
	passed := 0
	for _, m := range criteria {
		if m >= threshold {
			passed++
		}
	}
	return float64(passed) / float64(len(criteria))
}

// Confirm evaluates one reading against the target direction.
func Confirm(r models.IndicatorReading, target models.Direction, threshold, agreementMin, passMin float64) models.TimeframeResult {
	res := models.TimeframeResult{Timeframe: r.Timeframe}
	if r.Insufficient {
		res.Reason = "insufficient_data"
		return res
	}
	res.Agreement = signal.Agreement(signal.Votes(r, threshold), target)
	res.ThresholdPass = ThresholdPass(r, target, threshold)
	res.Confirmed = res.Agreement >= agreementMin && res.ThresholdPass >= passMin
	switch {
	case res.Confirmed:
	case res.Agreement < agreementMin:
		res.Reason = "indicator_disagreement"
	default:
		res.Reason = "threshold_not_met"
	}
	return res
}
