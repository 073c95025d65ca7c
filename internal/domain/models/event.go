package models

import "time"

// EventType names an engine event.
type EventType string

const (
	EventPositionOpened      EventType = "position_opened"
	EventPositionClosed      EventType = "position_closed"
	EventSignalChanged       EventType = "signal_changed"
	EventRiskLevelChanged    EventType = "risk_level_changed"
	EventEmergencyTriggered  EventType = "emergency_triggered"
	EventTrailingActivated   EventType = "trailing_activated"
	EventBreakevenSet        EventType = "breakeven_set"
	EventStopLossUpdated     EventType = "stop_loss_updated"
	EventValidationCompleted EventType = "validation_completed"
	EventDailyReset          EventType = "daily_reset"
)

// AllEventTypes lists every event the engine emits.
var AllEventTypes = []EventType{
	EventPositionOpened, EventPositionClosed, EventSignalChanged, EventRiskLevelChanged,
	EventEmergencyTriggered, EventTrailingActivated, EventBreakevenSet, EventStopLossUpdated,
	EventValidationCompleted, EventDailyReset,
}

// Event is one published engine event. Payload holds one of the *Payload types below.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Symbol    string    `json:"symbol,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

type PositionOpenedPayload struct {
	Position Position `json:"position"`
}

type PositionClosedPayload struct {
	Trade TradeRecord `json:"trade"`
}

type SignalChangedPayload struct {
	Previous Direction `json:"previous"`
	Signal   Signal    `json:"signal"`
}

type RiskLevelChangedPayload struct {
	From    RiskLevel   `json:"from"`
	To      RiskLevel   `json:"to"`
	Metrics RiskMetrics `json:"metrics"`
}

type EmergencyTriggeredPayload struct {
	Trigger   EmergencyTrigger `json:"trigger"`
	Metrics   RiskMetrics      `json:"metrics"`
	Positions []string         `json:"positions"`
}

type TrailingPayload struct {
	Context TrailingContext `json:"context"`
}

type StopLossUpdatedPayload struct {
	PositionID string  `json:"position_id"`
	Previous   float64 `json:"previous"`
	Current    float64 `json:"current"`
	Source     string  `json:"source"`
}

type ValidationCompletedPayload struct {
	Session ValidationSession `json:"session"`
}

type DailyResetPayload struct {
	Date         string  `json:"date"`
	StartBalance float64 `json:"start_balance"`
	ClearedAlarm bool    `json:"cleared_emergency"`
}
