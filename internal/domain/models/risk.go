package models

import "time"

// RiskLevel is the portfolio-wide risk posture.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskRank = map[RiskLevel]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2, RiskCritical: 3}

// Rank orders levels from low (0) to critical (3).
func (l RiskLevel) Rank() int { return riskRank[l] }

// MaxLevel returns the more severe of a and b.
func MaxLevel(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// RiskAction is what the manager does at a level.
type RiskAction string

const (
	ActionMonitor      RiskAction = "monitor"
	ActionWarn         RiskAction = "warn"
	ActionTightenStops RiskAction = "tighten_stops"
	ActionBlockNew     RiskAction = "block_new_positions"
)

// ActionFor maps a level to its action.
func ActionFor(l RiskLevel) RiskAction {
	switch l {
	case RiskMedium:
		return ActionWarn
	case RiskHigh:
		return ActionTightenStops
	case RiskCritical:
		return ActionBlockNew
	default:
		return ActionMonitor
	}
}

// EmergencyTrigger names the condition that activated emergency mode.
type EmergencyTrigger string

const (
	TriggerNone       EmergencyTrigger = ""
	TriggerDailyLoss  EmergencyTrigger = "daily_loss_limit"
	TriggerDrawdown   EmergencyTrigger = "drawdown_limit"
	TriggerMarginCall EmergencyTrigger = "margin_call"
	TriggerPanic      EmergencyTrigger = "panic_mode"
	TriggerManual     EmergencyTrigger = "manual"
)

// LevelThresholds is the entry condition of one level; any metric at or above its value qualifies.
type LevelThresholds struct {
	DailyLossPct  float64 `yaml:"daily_loss_pct" json:"daily_loss_pct"`
	DrawdownPct   float64 `yaml:"drawdown_pct" json:"drawdown_pct"`
	OpenPositions int     `yaml:"open_positions" json:"open_positions"`
}

// RiskThresholds holds the per-level entry conditions.
type RiskThresholds struct {
	Medium   LevelThresholds `yaml:"medium" json:"medium"`
	High     LevelThresholds `yaml:"high" json:"high"`
	Critical LevelThresholds `yaml:"critical" json:"critical"`
}

// RiskMetrics is the input of the level computation.
type RiskMetrics struct {
	DailyLossPct      float64   `json:"daily_loss_pct"`
	DrawdownPct       float64   `json:"drawdown_pct"`
	OpenPositions     int       `json:"open_positions"`
	MarginLevel       float64   `json:"margin_level"`
	CumulativeLossPct float64   `json:"cumulative_loss_pct"`
	DailyStartBalance float64   `json:"daily_start_balance"`
	Balance           float64   `json:"balance"`
	Equity            float64   `json:"equity"`
	At                time.Time `json:"at"`
}

// RiskProfile is the risk manager's current state.
type RiskProfile struct {
	Level         RiskLevel        `json:"level"`
	ComputedLevel RiskLevel        `json:"computed_level"`
	Action        RiskAction       `json:"action"`
	Thresholds    RiskThresholds   `json:"thresholds"`
	EmergencyMode bool             `json:"emergency_mode"`
	Trigger       EmergencyTrigger `json:"trigger,omitempty"`
	TriggeredAt   time.Time        `json:"triggered_at,omitempty"`
	PendingCloses []string         `json:"pending_closes,omitempty"`
	Metrics       RiskMetrics      `json:"metrics"`
	LastReset     time.Time        `json:"last_reset"`
}
