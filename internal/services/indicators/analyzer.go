package indicators

import (
	"math"

	"PaperTrade/internal/domain/models"
	domsvc "PaperTrade/internal/domain/service"

	"github.com/markcheno/go-talib"
)

const (
	rsiOversold   = 30.0
	rsiOverbought = 70.0
)

// TALib computes indicator readings with go-talib.
type TALib struct{}

// NewTALib creates the analyzer.
func NewTALib() *TALib { return &TALib{} }

var _ domsvc.Analyzer = (*TALib)(nil)

// MinCandles is the history needed before a reading is meaningful.
func MinCandles(p models.IndicatorParams) int {
	n := p.BandPeriod
	for _, v := range []int{p.SlowMAPeriod, p.RSIPeriod + 1, p.ATRPeriod + 1, p.DivergenceLen + p.RSIPeriod} {
		if v > n {
			n = v
		}
	}
	return n + p.OverflowLook + 1
}

// Analyze builds a reading from closed candles, oldest first. Too little history yields Insufficient.
func (a *TALib) Analyze(candles []models.Candle, tf models.Timeframe, p models.IndicatorParams) models.IndicatorReading {
	p = withDefaults(p)
	out := models.IndicatorReading{Timeframe: tf}
	if len(candles) < MinCandles(p) {
		out.Insufficient = true
		out.Overflow.Direction = models.OverflowNone
		out.MA.Alignment = models.AlignmentMixed
		if len(candles) > 0 {
			out.Price = candles[len(candles)-1].Close
		}
		return out
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i], highs[i], lows[i] = c.Close, c.High, c.Low
	}
	last := len(closes) - 1
	out.Price = closes[last]

	up, _, dn := talib.BBands(closes, p.BandPeriod, p.BandDeviation, p.BandDeviation, talib.SMA)
	out.Overflow = overflow(closes, up, dn, p.OverflowLook)

	rsi := talib.Rsi(closes, p.RSIPeriod)
	out.Oscillator = oscillator(closes, rsi, p.DivergenceLen)

	fast := talib.Sma(closes, p.FastMAPeriod)
	slow := talib.Sma(closes, p.SlowMAPeriod)
	out.MA = movingAverage(closes, fast, slow, p.OverflowLook)

	atr := talib.Atr(highs, lows, closes, p.ATRPeriod)
	out.Volatility.ATR = atr[last]
	if out.Price > 0 {
		out.Volatility.ATRPercent = atr[last] / out.Price * 100
	}
	return out
}

func withDefaults(p models.IndicatorParams) models.IndicatorParams {
	if p.BandPeriod <= 1 {
		p.BandPeriod = 20
	}
	if p.BandDeviation <= 0 {
		p.BandDeviation = 2
	}
	if p.RSIPeriod <= 1 {
		p.RSIPeriod = 14
	}
	if p.FastMAPeriod <= 1 {
		p.FastMAPeriod = 9
	}
	if p.SlowMAPeriod <= p.FastMAPeriod {
		p.SlowMAPeriod = p.FastMAPeriod * 2
	}
	if p.ATRPeriod <= 1 {
		p.ATRPeriod = 14
	}
	if p.OverflowLook < 0 {
		p.OverflowLook = 0
	}
	if p.DivergenceLen < 2 {
		p.DivergenceLen = 10
	}
	return p
}

// overflowAt returns how far closes[i] sits past the given side of the band, in percent, or 0.
func overflowAt(side models.OverflowDirection, price, upper, lower float64) float64 {
	switch side {
	case models.OverflowUpper:
		if upper > 0 && price > upper {
			return (price - upper) / upper * 100
		}
	case models.OverflowLower:
		if lower > 0 && price < lower {
			return (lower - price) / lower * 100
		}
	}
	return 0
}

func overflow(closes, up, dn []float64, look int) models.Overflow {
	last := len(closes) - 1
	o := models.Overflow{Direction: models.OverflowNone}
	switch {
	case closes[last] > up[last]:
		o.Direction = models.OverflowUpper
	case closes[last] < dn[last]:
		o.Direction = models.OverflowLower
	default:
		return o
	}
	o.Magnitude = overflowAt(o.Direction, closes[last], up[last], dn[last])
	for i := last - 1; i >= 0 && i >= last-look; i-- {
		o.Recent = append(o.Recent, overflowAt(o.Direction, closes[i], up[i], dn[i]))
	}
	return o
}

// oscillator reports RSI and a regular divergence over the lookback: price makes a new extreme the RSI does not confirm.
func oscillator(closes, rsi []float64, lookback int) models.Oscillator {
	last := len(closes) - 1
	o := models.Oscillator{Value: rsi[last]}
	start := last - lookback
	if start < 0 {
		start = 0
	}
	lowIdx, highIdx := start, start
	for i := start; i < last; i++ {
		if closes[i] < closes[lowIdx] {
			lowIdx = i
		}
		if closes[i] > closes[highIdx] {
			highIdx = i
		}
	}
	switch {
	case closes[last] < closes[lowIdx] && rsi[last] > rsi[lowIdx]:
		o.Divergence = true
		o.DivergesTo = models.DirectionLong
	case closes[last] > closes[highIdx] && rsi[last] < rsi[highIdx]:
		o.Divergence = true
		o.DivergesTo = models.DirectionShort
	}
	return o
}

// movingAverage classifies fast/slow alignment and scores a recent crossover as a reversal.
func movingAverage(closes, fast, slow []float64, look int) models.MovingAverage {
	last := len(closes) - 1
	price := closes[last]
	ma := models.MovingAverage{Alignment: models.AlignmentMixed}
	switch {
	case fast[last] > slow[last] && price >= fast[last]:
		ma.Alignment = models.AlignmentBullish
	case fast[last] < slow[last] && price <= fast[last]:
		ma.Alignment = models.AlignmentBearish
	}
	if ma.Alignment == models.AlignmentMixed {
		return ma
	}

	if look < 1 {
		look = 1
	}
	crossed := false
	nowSign := math.Signbit(fast[last] - slow[last])
	for i := last - 1; i >= 0 && i >= last-look; i-- {
		if math.Signbit(fast[i]-slow[i]) != nowSign {
			crossed = true
			break
		}
	}
	if !crossed {
		ma.ReversalConfidence = 0.3
		return ma
	}

	conf := 0.6
	slopeUp := slow[last] > slow[last-1]
	if (ma.Alignment == models.AlignmentBullish) == slopeUp {
		conf += 0.2
	}
	if slow[last] > 0 && math.Abs(fast[last]-slow[last])/slow[last] > 0.001 {
		conf += 0.2
	}
	ma.ReversalConfidence = math.Min(conf, 1)
	return ma
}
