package models

import "time"

// FeeSchedule holds maker/taker rates as fractions of notional.
type FeeSchedule struct {
	Maker float64 `yaml:"maker" json:"maker" default:"0.0002"`
	Taker float64 `yaml:"taker" json:"taker" default:"0.0004"`
}

// SlippageModel applies a fixed adverse fraction to every fill.
type SlippageModel struct {
	Percent float64 `yaml:"percent" json:"percent" default:"0.0005"`
}

// Apply returns the fill price. Buys fill higher, sells fill lower.
func (s SlippageModel) Apply(price float64, buy bool) float64 {
	if buy {
		return price * (1 + s.Percent)
	}
	return price * (1 - s.Percent)
}

// AccountStats are cumulative trading statistics.
type AccountStats struct {
	TotalTrades    int     `json:"total_trades"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	Liquidations   int     `json:"liquidations"`
	TotalFees      float64 `json:"total_fees"`
	RealizedPnL    float64 `json:"realized_pnl"`
	PeakBalance    float64 `json:"peak_balance"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	StopConflicts  int     `json:"stop_conflicts"`
}

// WinRate returns wins over closed trades, 0 when nothing closed yet.
func (s AccountStats) WinRate() float64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.TotalTrades)
}

// AccountSnapshot is a consistent read-only view of the account.
type AccountSnapshot struct {
	InitialBalance float64       `json:"initial_balance"`
	Balance        float64       `json:"balance"`
	Equity         float64       `json:"equity"`
	Margin         float64       `json:"margin"`
	FreeMargin     float64       `json:"free_margin"`
	MarginLevel    float64       `json:"margin_level"` // percent; 0 when no margin is used
	UnrealizedPnL  float64       `json:"unrealized_pnl"`
	MaxLeverage    float64       `json:"max_leverage"`
	Fees           FeeSchedule   `json:"fees"`
	Slippage       SlippageModel `json:"slippage"`
	OpenPositions  int           `json:"open_positions"`
	TradingBlocked bool          `json:"trading_blocked"`
	BlockReason    string        `json:"block_reason,omitempty"`
	Stats          AccountStats  `json:"stats"`
	Timestamp      time.Time     `json:"timestamp"`
}

// DrawdownPct is the decline from the peak balance to current equity, in percent.
func (a AccountSnapshot) DrawdownPct() float64 {
	if a.Stats.PeakBalance <= 0 {
		return 0
	}
	dd := (a.Stats.PeakBalance - a.Equity) / a.Stats.PeakBalance * 100
	if dd < 0 {
		return 0
	}
	return dd
}
