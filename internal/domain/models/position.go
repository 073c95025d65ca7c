package models

import "time"

// PositionStatus is the lifecycle state of a simulated position.
type PositionStatus string

const (
	PositionOpen       PositionStatus = "open"
	PositionClosed     PositionStatus = "closed"
	PositionLiquidated PositionStatus = "liquidated"
)

// CloseReason explains why a position left the open state.
type CloseReason string

const (
	CloseManual         CloseReason = "manual"
	CloseSignal         CloseReason = "signal"
	CloseStopLoss       CloseReason = "stop_loss"
	CloseTakeProfit     CloseReason = "take_profit"
	CloseRiskAction     CloseReason = "risk_action"
	CloseEmergency      CloseReason = "emergency_close"
	CloseLiquidation    CloseReason = "liquidation"
	CloseTrailingStop   CloseReason = "trailing_stop"
	CloseAccountReset   CloseReason = "account_reset"
	CloseReasonShutdown CloseReason = "shutdown"
)

// Position is a simulated leveraged position.
type Position struct {
	ID              string         `json:"id"`
	Symbol          string         `json:"symbol"`
	Direction       Direction      `json:"direction"`
	Size            float64        `json:"size"`
	Leverage        float64        `json:"leverage"`
	EntryPrice      float64        `json:"entry_price"`
	CurrentPrice    float64        `json:"current_price"`
	NotionalValue   float64        `json:"notional_value"`
	MarginUsed      float64        `json:"margin_used"`
	EntryFee        float64        `json:"entry_fee"`
	StopLoss        float64        `json:"stop_loss"`
	InitialStopLoss float64        `json:"initial_stop_loss"`
	TakeProfit      float64        `json:"take_profit"`
	UnrealizedPnL   float64        `json:"unrealized_pnl"`
	RealizedPnL     float64        `json:"realized_pnl"`
	Status          PositionStatus `json:"status"`
	OpenedAt        time.Time      `json:"opened_at"`
	ClosedAt        time.Time      `json:"closed_at,omitempty"`
	CloseReason     CloseReason    `json:"close_reason,omitempty"`
	SessionID       string         `json:"session_id,omitempty"`
}

// GrossPnL returns the size-scaled price difference for exit price p. Leverage does not enter.
func (p *Position) GrossPnL(exit float64) float64 {
	switch p.Direction {
	case DirectionLong:
		return (exit - p.EntryPrice) * p.Size
	case DirectionShort:
		return (p.EntryPrice - exit) * p.Size
	default:
		return 0
	}
}

// ProfitDistance is the favorable price move from entry at price px (negative when losing).
func (p *Position) ProfitDistance(px float64) float64 {
	return (px - p.EntryPrice) * p.Direction.Sign()
}

// IsMoreProtective reports whether candidate is strictly more favorable than the current stop.
// An unset stop (0) accepts any positive candidate.
func (p *Position) IsMoreProtective(candidate float64) bool {
	if candidate <= 0 {
		return false
	}
	if p.StopLoss <= 0 {
		return true
	}
	switch p.Direction {
	case DirectionLong:
		return candidate > p.StopLoss
	case DirectionShort:
		return candidate < p.StopLoss
	default:
		return false
	}
}

// TradeRecord is the archived form of a terminal position.
type TradeRecord struct {
	PositionID  string         `json:"position_id"`
	Symbol      string         `json:"symbol"`
	Direction   Direction      `json:"direction"`
	Size        float64        `json:"size"`
	Leverage    float64        `json:"leverage"`
	EntryPrice  float64        `json:"entry_price"`
	ExitPrice   float64        `json:"exit_price"`
	EntryFee    float64        `json:"entry_fee"`
	ExitFee     float64        `json:"exit_fee"`
	GrossPnL    float64        `json:"gross_pnl"`
	RealizedPnL float64        `json:"realized_pnl"`
	Status      PositionStatus `json:"status"`
	CloseReason CloseReason    `json:"close_reason"`
	OpenedAt    time.Time      `json:"opened_at"`
	ClosedAt    time.Time      `json:"closed_at"`
	Duration    time.Duration  `json:"duration"`
}

// OpenRequest describes a position to open.
type OpenRequest struct {
	Symbol     string
	Direction  Direction
	Size       float64
	Leverage   float64
	Price      float64 // zero means fetch the current market price
	StopLoss   float64 // zero means derive from ATR
	TakeProfit float64 // zero means derive from reward ratio
	SessionID  string
}
