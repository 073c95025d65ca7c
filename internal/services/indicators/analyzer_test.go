package indicators

import (
	"math"
	"testing"
	"time"

	"PaperTrade/internal/domain/models"
)

func defaultParams() models.IndicatorParams {
	return models.IndicatorParams{
		BandPeriod: 20, BandDeviation: 2, RSIPeriod: 14, FastMAPeriod: 9, SlowMAPeriod: 21,
		ATRPeriod: 14, OverflowLook: 3, DivergenceLen: 10,
	}
}

func candlesFrom(closes []float64) []models.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      c, High: c * 1.002, Low: c * 0.998, Close: c, Volume: 10,
		}
	}
	return out
}

func choppy(n int, base float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = base - 0.5
		} else {
			out[i] = base + 0.5
		}
	}
	return out
}

func TestAnalyzeInsufficientHistory(t *testing.T) {
	r := NewTALib().Analyze(candlesFrom([]float64{1, 2, 3}), models.TF1h, defaultParams())
	if !r.Insufficient {
		t.Fatalf("expected insufficient reading")
	}
	if r.Overflow.Direction != models.OverflowNone || r.Price != 3 {
		t.Fatalf("unexpected reading %+v", r)
	}
}

func TestAnalyzeLowerOverflow(t *testing.T) {
	closes := append(choppy(60, 100), 90)
	r := NewTALib().Analyze(candlesFrom(closes), models.TF15m, defaultParams())
	if r.Insufficient {
		t.Fatalf("expected enough history")
	}
	if r.Overflow.Direction != models.OverflowLower {
		t.Fatalf("expected lower overflow, got %s", r.Overflow.Direction)
	}
	if r.Overflow.Magnitude <= 0 {
		t.Fatalf("expected positive magnitude, got %f", r.Overflow.Magnitude)
	}
	if len(r.Overflow.Recent) != 3 {
		t.Fatalf("expected 3 recent samples, got %d", len(r.Overflow.Recent))
	}
	if r.Oscillator.Value >= 50 {
		t.Fatalf("expected depressed rsi, got %f", r.Oscillator.Value)
	}
	if r.Volatility.ATR <= 0 || r.Volatility.ATRPercent <= 0 {
		t.Fatalf("expected positive atr, got %+v", r.Volatility)
	}
}

func TestAnalyzeUpperOverflow(t *testing.T) {
	closes := append(choppy(60, 100), 110)
	r := NewTALib().Analyze(candlesFrom(closes), models.TF4h, defaultParams())
	if r.Overflow.Direction != models.OverflowUpper {
		t.Fatalf("expected upper overflow, got %s", r.Overflow.Direction)
	}
	if r.Oscillator.Value <= 50 {
		t.Fatalf("expected elevated rsi, got %f", r.Oscillator.Value)
	}
}

func TestAnalyzeTrendAlignment(t *testing.T) {
	up := make([]float64, 80)
	down := make([]float64, 80)
	for i := range up {
		up[i] = 100 + float64(i)
		down[i] = 200 - float64(i)
	}
	a := NewTALib()
	if r := a.Analyze(candlesFrom(up), models.TF1h, defaultParams()); r.MA.Alignment != models.AlignmentBullish {
		t.Fatalf("expected bullish alignment, got %s", r.MA.Alignment)
	}
	if r := a.Analyze(candlesFrom(down), models.TF1h, defaultParams()); r.MA.Alignment != models.AlignmentBearish {
		t.Fatalf("expected bearish alignment, got %s", r.MA.Alignment)
	}
}

func TestOscillatorDivergence(t *testing.T) {
	o := oscillator([]float64{5, 4, 3, 2.5}, []float64{20, 25, 28, 30}, 3)
	if !o.Divergence || o.DivergesTo != models.DirectionLong {
		t.Fatalf("expected bullish divergence, got %+v", o)
	}
	o = oscillator([]float64{1, 2, 3, 3.5}, []float64{80, 75, 72, 70}, 3)
	if !o.Divergence || o.DivergesTo != models.DirectionShort {
		t.Fatalf("expected bearish divergence, got %+v", o)
	}
	o = oscillator([]float64{1, 2, 3, 4}, []float64{50, 55, 60, 65}, 3)
	if o.Divergence {
		t.Fatalf("expected no divergence, got %+v", o)
	}
}

func TestRealizedVolatility(t *testing.T) {
	rets := LogReturns(candlesFrom([]float64{100, 101, 100, 101, 100}))
	if len(rets) != 4 {
		t.Fatalf("expected 4 returns, got %d", len(rets))
	}
	v := RealizedVolatility(rets, 4, BarsPerYear(models.TF1h))
	if v <= 0 || math.IsNaN(v) {
		t.Fatalf("unexpected volatility %f", v)
	}
	if RealizedVolatility(rets, 10, 1) != 0 {
		t.Fatalf("expected zero for short series")
	}
}
