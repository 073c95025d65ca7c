package risk

import "PaperTrade/internal/domain/models"

// DefaultThresholds are the built-in level entry conditions.
func DefaultThresholds() models.RiskThresholds {
	return models.RiskThresholds{
		Medium:   models.LevelThresholds{DailyLossPct: 3, DrawdownPct: 5, OpenPositions: 5},
		High:     models.LevelThresholds{DailyLossPct: 5, DrawdownPct: 10, OpenPositions: 8},
		Critical: models.LevelThresholds{DailyLossPct: 8, DrawdownPct: 15, OpenPositions: 10},
	}
}

// Level is the most severe level any metric reaches. It depends only on its inputs.
func Level(m models.RiskMetrics, th models.RiskThresholds) models.RiskLevel {
	switch {
	case reaches(m, th.Critical):
		return models.RiskCritical
	case reaches(m, th.High):
		return models.RiskHigh
	case reaches(m, th.Medium):
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

func reaches(m models.RiskMetrics, t models.LevelThresholds) bool {
	if t.DailyLossPct > 0 && m.DailyLossPct >= t.DailyLossPct {
		return true
	}
	if t.DrawdownPct > 0 && m.DrawdownPct >= t.DrawdownPct {
		return true
	}
	return t.OpenPositions > 0 && m.OpenPositions >= t.OpenPositions
}
