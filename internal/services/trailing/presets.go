package trailing

import "PaperTrade/internal/domain/models"

// DefaultPresets returns the built-in strategies, keyed by name.
func DefaultPresets() map[string]models.TrailingStrategy {
	return map[string]models.TrailingStrategy{
		"percentage": {
			Kind:               models.TrailPercentage,
			Percentage:         &models.PercentageParams{GivebackPercent: 30},
			ActivationMultiple: 2,
			Breakeven:          models.BreakevenConfig{Mode: models.BreakevenThreshold, TriggerR: 1, OffsetPct: 0.1},
		},
		"atr": {
			Kind:               models.TrailATR,
			ATR:                &models.ATRParams{Multiplier: 2.5},
			ActivationMultiple: 2,
			Breakeven:          models.BreakevenConfig{Mode: models.BreakevenThreshold, TriggerR: 1, OffsetPct: 0.1},
		},
		"staged": {
			Kind: models.TrailStaged,
			Staged: &models.StagedParams{Stages: []models.Stage{
				{ProfitR: 1, LockR: 0},
				{ProfitR: 2, LockR: 1},
				{ProfitR: 3, LockR: 2},
				{ProfitR: 5, LockR: 3.5},
			}},
			ActivationMultiple: 1,
			Breakeven:          models.BreakevenConfig{Mode: models.BreakevenOff},
		},
		"volatility": {
			Kind: models.TrailVolatility,
			Volatility: &models.VolatilityParams{
				BaseMultiplier: 2, LowVolPercent: 1, HighVolPercent: 3, LowFactor: 0.75, HighFactor: 1.5,
			},
			ActivationMultiple: 2,
			Breakeven:          models.BreakevenConfig{Mode: models.BreakevenProgressive, TriggerR: 1, OffsetPct: 0.05},
		},
		"tight": {
			Kind:               models.TrailPercentage,
			Percentage:         &models.PercentageParams{GivebackPercent: 20},
			ActivationMultiple: 1,
			Breakeven:          models.BreakevenConfig{Mode: models.BreakevenImmediate, OffsetPct: 0.05},
		},
	}
}
