package signal

import (
	"math"
	"sort"
	"time"

	"PaperTrade/internal/domain/models"
)

// Config tunes the aggregator.
type Config struct {
	Thresholds         models.TimeframeThresholds   `yaml:"thresholds" default:"{\"4h\":1.5,\"1h\":1.0,\"15m\":0.5}"`
	Weights            map[models.Timeframe]float64 `yaml:"weights" default:"{\"4h\":3,\"1h\":2,\"15m\":1}"`
	DirectionThreshold float64                      `yaml:"direction_threshold" default:"1" validate:"gte=0"`
}

// Aggregator combines per-timeframe readings into a Signal. It is stateless and safe for concurrent use.
type Aggregator struct {
	cfg Config
	now func() time.Time
}

// NewAggregator creates an aggregator. Missing weights fall back to 4h:3, 1h:2, 15m:1.
func NewAggregator(cfg Config) *Aggregator {
	if len(cfg.Weights) == 0 {
		cfg.Weights = map[models.Timeframe]float64{models.TF4h: 3, models.TF1h: 2, models.TF15m: 1}
	}
	if cfg.DirectionThreshold <= 0 {
		cfg.DirectionThreshold = 1
	}
	return &Aggregator{cfg: cfg, now: time.Now}
}

// Threshold returns the overflow threshold for tf.
func (a *Aggregator) Threshold(tf models.Timeframe) float64 { return a.cfg.Thresholds.For(tf) }

// ScoreTimeframe scores a single reading.
func (a *Aggregator) ScoreTimeframe(r models.IndicatorReading) models.TimeframeScore {
	votes := Votes(r, a.Threshold(r.Timeframe))
	score := Score(votes)
	ts := models.TimeframeScore{
		Timeframe: r.Timeframe,
		Score:     score,
		Direction: Classify(score),
		Tier:      Tier(score),
		Evaluated: indicatorsPerTimeframe,
	}
	for _, v := range votes {
		ts.Fired = append(ts.Fired, v.Indicator)
	}
	return ts
}

// Aggregate never fails: missing or insufficient data yields a neutral signal with zero confidence.
func (a *Aggregator) Aggregate(symbol string, readings map[models.Timeframe]models.IndicatorReading) models.Signal {
	sig := models.Signal{Symbol: symbol, Direction: models.DirectionNeutral, Timestamp: a.now().UTC()}

	var (
		scores      []models.TimeframeScore
		weighted    float64
		totalWeight float64
		fired       int
		evaluated   int
		tierSum     int
	)
	for _, tf := range models.AnalysisTimeframes {
		r, ok := readings[tf]
		if !ok || r.Insufficient {
			continue
		}
		r.Timeframe = tf
		ts := a.ScoreTimeframe(r)
		w := a.cfg.Weights[tf]
		if w <= 0 {
			continue
		}
		scores = append(scores, ts)
		weighted += w * ts.Score
		totalWeight += w
		fired += len(ts.Fired)
		evaluated += ts.Evaluated
		tierSum += ts.Tier
	}
	sig.Breakdown = scores
	if len(scores) == 0 || totalWeight == 0 {
		return sig
	}

	avg := weighted / totalWeight
	switch {
	case avg > a.cfg.DirectionThreshold:
		sig.Direction = models.DirectionLong
	case avg < -a.cfg.DirectionThreshold:
		sig.Direction = models.DirectionShort
	}
	sig.Strength = math.Abs(avg)

	agree := 0
	contributing := map[string]struct{}{}
	for _, ts := range scores {
		if ts.Direction != sig.Direction {
			continue
		}
		agree++
		if sig.Direction.IsTradable() {
			sig.SupportingTimeframes = append(sig.SupportingTimeframes, ts.Timeframe)
			for _, name := range ts.Fired {
				contributing[name] = struct{}{}
			}
		}
	}
	for name := range contributing {
		sig.ContributingIndicators = append(sig.ContributingIndicators, name)
	}
	sort.Strings(sig.ContributingIndicators)

	consensus := float64(agree) / float64(len(scores))
	firedFrac := 0.0
	if evaluated > 0 {
		firedFrac = float64(fired) / float64(evaluated)
	}
	avgTier := float64(tierSum) / float64(len(scores))
	sig.Confidence = clamp01(0.4*consensus + 0.3*firedFrac + 0.3*(avgTier/3))
	return sig
}

// Changed reports whether next moves the recommendation to a different direction.
func Changed(prev, next models.Signal) bool {
	return prev.Direction != next.Direction
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
