package trailing

import "PaperTrade/internal/domain/models"

// better reports whether candidate is strictly more protective than current for the direction.
func better(d models.Direction, candidate, current float64) bool {
	if candidate <= 0 {
		return false
	}
	if current <= 0 {
		return true
	}
	return (candidate-current)*d.Sign() > 0
}

func needsATR(k models.TrailingKind) bool {
	return k == models.TrailATR || k == models.TrailVolatility
}

// breakevenStop returns the break-even stop the context qualifies for at the given profit.
func breakevenStop(tc models.TrailingContext, profit float64) (float64, bool) {
	be := tc.Strategy.Breakeven
	sign := tc.Direction.Sign()
	base := tc.EntryPrice * (1 + sign*be.OffsetPct/100)
	offset := base - tc.EntryPrice

	switch be.Mode {
	case models.BreakevenImmediate:
		if profit > offset*sign {
			return base, true
		}
	case models.BreakevenThreshold:
		if profit >= be.TriggerR*tc.InitialRisk {
			return base, true
		}
	case models.BreakevenProgressive:
		trigger := be.TriggerR * tc.InitialRisk
		if profit < trigger {
			return 0, false
		}
		// half of each unit of profit beyond the trigger is locked on top of break-even.
		peak := tc.HighestProfit
		if peak < profit {
			peak = profit
		}
		return base + sign*(peak-trigger)*0.5, true
	}
	return 0, false
}

// trailStop computes the strategy's stop from the peak. atr is only used by ATR based kinds.
func trailStop(tc models.TrailingContext, atr, price float64) (float64, bool) {
	s := tc.Strategy
	sign := tc.Direction.Sign()
	peak := tc.HighestFavorablePrice

	switch s.Kind {
	case models.TrailPercentage:
		if s.Percentage == nil || tc.HighestProfit <= 0 {
			return 0, false
		}
		return tc.EntryPrice + sign*tc.HighestProfit*(1-s.Percentage.GivebackPercent/100), true
	case models.TrailATR:
		if s.ATR == nil || atr <= 0 {
			return 0, false
		}
		return peak - sign*atr*s.ATR.Multiplier, true
	case models.TrailFixed:
		if s.Fixed == nil {
			return 0, false
		}
		return peak - sign*s.Fixed.Distance, true
	case models.TrailStaged:
		if s.Staged == nil {
			return 0, false
		}
		lock, ok := 0.0, false
		for _, st := range s.Staged.Stages {
			if tc.HighestProfit >= st.ProfitR*tc.InitialRisk {
				lock, ok = st.LockR, true
			}
		}
		if !ok {
			return 0, false
		}
		return tc.EntryPrice + sign*lock*tc.InitialRisk, true
	case models.TrailVolatility:
		v := s.Volatility
		if v == nil || atr <= 0 || price <= 0 {
			return 0, false
		}
		factor := 1.0
		switch pct := atr / price * 100; {
		case v.LowVolPercent > 0 && pct < v.LowVolPercent && v.LowFactor > 0:
			factor = v.LowFactor
		case v.HighVolPercent > 0 && pct > v.HighVolPercent && v.HighFactor > 0:
			factor = v.HighFactor
		}
		return peak - sign*atr*v.BaseMultiplier*factor, true
	}
	return 0, false
}
