package models

import (
	"errors"
	"fmt"
	"time"
)

// TrailingStatus is the state of a trailing context.
type TrailingStatus string

const (
	TrailingWaiting   TrailingStatus = "waiting"
	TrailingActive    TrailingStatus = "active"
	TrailingTriggered TrailingStatus = "triggered"
	TrailingDisabled  TrailingStatus = "disabled"
)

// TrailingKind selects the trailing algorithm.
type TrailingKind string

const (
	TrailPercentage TrailingKind = "percentage"
	TrailATR        TrailingKind = "atr"
	TrailFixed      TrailingKind = "fixed"
	TrailStaged     TrailingKind = "staged"
	TrailVolatility TrailingKind = "volatility"
)

// PercentageParams trails behind the peak, giving back a share of the peak profit.
type PercentageParams struct {
	GivebackPercent float64 `yaml:"giveback_percent" json:"giveback_percent"`
}

// ATRParams trails the peak by a multiple of ATR.
type ATRParams struct {
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
}

// FixedParams trails the peak by a constant price distance.
type FixedParams struct {
	Distance float64 `yaml:"distance" json:"distance"`
}

// Stage locks LockR units of initial risk once the peak profit reaches ProfitR units.
type Stage struct {
	ProfitR float64 `yaml:"profit_r" json:"profit_r"`
	LockR   float64 `yaml:"lock_r" json:"lock_r"`
}

// StagedParams is an ordered stage ladder.
type StagedParams struct {
	Stages []Stage `yaml:"stages" json:"stages"`
}

// VolatilityParams scales an ATR distance with the current volatility regime.
type VolatilityParams struct {
	BaseMultiplier float64 `yaml:"base_multiplier" json:"base_multiplier"`
	LowVolPercent  float64 `yaml:"low_vol_percent" json:"low_vol_percent"`
	HighVolPercent float64 `yaml:"high_vol_percent" json:"high_vol_percent"`
	LowFactor      float64 `yaml:"low_factor" json:"low_factor"`
	HighFactor     float64 `yaml:"high_factor" json:"high_factor"`
}

// BreakevenMode selects how the stop is pinned near entry.
type BreakevenMode string

const (
	BreakevenOff         BreakevenMode = "off"
	BreakevenImmediate   BreakevenMode = "immediate"
	BreakevenThreshold   BreakevenMode = "threshold"
	BreakevenProgressive BreakevenMode = "progressive"
)

// BreakevenConfig configures the break-even rule. TriggerR is measured in units of initial risk.
type BreakevenConfig struct {
	Mode      BreakevenMode `yaml:"mode" json:"mode"`
	TriggerR  float64       `yaml:"trigger_r" json:"trigger_r"`
	OffsetPct float64       `yaml:"offset_pct" json:"offset_pct"`
}

// TrailingStrategy is a tagged union: Kind names the algorithm and exactly the matching params are set.
type TrailingStrategy struct {
	Kind               TrailingKind      `yaml:"kind" json:"kind"`
	Percentage         *PercentageParams `yaml:"percentage,omitempty" json:"percentage,omitempty"`
	ATR                *ATRParams        `yaml:"atr,omitempty" json:"atr,omitempty"`
	Fixed              *FixedParams      `yaml:"fixed,omitempty" json:"fixed,omitempty"`
	Staged             *StagedParams     `yaml:"staged,omitempty" json:"staged,omitempty"`
	Volatility         *VolatilityParams `yaml:"volatility,omitempty" json:"volatility,omitempty"`
	ActivationMultiple float64           `yaml:"activation_multiple" json:"activation_multiple"`
	Breakeven          BreakevenConfig   `yaml:"breakeven" json:"breakeven"`
}

var ErrInvalidStrategy = errors.New("invalid trailing strategy")

// Validate checks that the params matching Kind are present and sane, and that no other params are set.
func (s TrailingStrategy) Validate() error {
	set := 0
	for _, p := range []bool{s.Percentage != nil, s.ATR != nil, s.Fixed != nil, s.Staged != nil, s.Volatility != nil} {
		if p {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: %d parameter blocks set for kind %q", ErrInvalidStrategy, set, s.Kind)
	}
	if s.ActivationMultiple < 0 {
		return fmt.Errorf("%w: negative activation multiple", ErrInvalidStrategy)
	}
	switch s.Kind {
	case TrailPercentage:
		if s.Percentage == nil || s.Percentage.GivebackPercent <= 0 || s.Percentage.GivebackPercent >= 100 {
			return fmt.Errorf("%w: percentage giveback must be in (0,100)", ErrInvalidStrategy)
		}
	case TrailATR:
		if s.ATR == nil || s.ATR.Multiplier <= 0 {
			return fmt.Errorf("%w: atr multiplier must be positive", ErrInvalidStrategy)
		}
	case TrailFixed:
		if s.Fixed == nil || s.Fixed.Distance <= 0 {
			return fmt.Errorf("%w: fixed distance must be positive", ErrInvalidStrategy)
		}
	case TrailStaged:
		if s.Staged == nil || len(s.Staged.Stages) == 0 {
			return fmt.Errorf("%w: staged needs at least one stage", ErrInvalidStrategy)
		}
		prev := 0.0
		for _, st := range s.Staged.Stages {
			if st.ProfitR <= prev || st.LockR >= st.ProfitR {
				return fmt.Errorf("%w: stages must have increasing profit_r and lock_r below profit_r", ErrInvalidStrategy)
			}
			prev = st.ProfitR
		}
	case TrailVolatility:
		if s.Volatility == nil || s.Volatility.BaseMultiplier <= 0 {
			return fmt.Errorf("%w: volatility base multiplier must be positive", ErrInvalidStrategy)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidStrategy, s.Kind)
	}
	switch s.Breakeven.Mode {
	case "", BreakevenOff, BreakevenImmediate, BreakevenThreshold, BreakevenProgressive:
	default:
		return fmt.Errorf("%w: unknown breakeven mode %q", ErrInvalidStrategy, s.Breakeven.Mode)
	}
	return nil
}

// TrailingContext is the per-position trailing state.
type TrailingContext struct {
	PositionID            string           `json:"position_id"`
	Symbol                string           `json:"symbol"`
	Direction             Direction        `json:"direction"`
	Strategy              TrailingStrategy `json:"strategy"`
	Status                TrailingStatus   `json:"status"`
	EntryPrice            float64          `json:"entry_price"`
	InitialRisk           float64          `json:"initial_risk"`
	TriggerPrice          float64          `json:"trigger_price"`
	HighestFavorablePrice float64          `json:"highest_favorable_price"`
	HighestProfit         float64          `json:"highest_profit"`
	BreakevenSet          bool             `json:"breakeven_set"`
	LastStop              float64          `json:"last_stop"`
	Updates               int              `json:"updates"`
	ActivatedAt           time.Time        `json:"activated_at,omitempty"`
	UpdatedAt             time.Time        `json:"updated_at"`
}
