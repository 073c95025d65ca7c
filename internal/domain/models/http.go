package models

// OpenPositionRequest is the body of a manual open.
type OpenPositionRequest struct {
	Symbol     string    `json:"symbol" validate:"required"`
	Direction  Direction `json:"direction" validate:"required,oneof=long short"`
	Size       float64   `json:"size" validate:"gt=0"`
	Leverage   float64   `json:"leverage" default:"1" validate:"gte=1"`
	Price      float64   `json:"price" validate:"gte=0"`
	StopLoss   float64   `json:"stop_loss" validate:"gte=0"`
	TakeProfit float64   `json:"take_profit" validate:"gte=0"`
}

type ClosePositionRequest struct {
	ID     string      `param:"id" validate:"required"`
	Reason CloseReason `json:"reason" default:"manual" validate:"oneof=manual signal risk_action"`
}

type StartSessionRequest struct {
	Symbol    string    `json:"symbol" validate:"required"`
	Direction Direction `json:"direction" validate:"required,oneof=long short"`
}

type AttachTrailingRequest struct {
	ID     string `param:"id" validate:"required"`
	Preset string `json:"preset"`
}

type ResetAccountRequest struct {
	Balance float64 `json:"balance" validate:"gt=0"`
}

type LimitRequest struct {
	Limit int `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=500"`
}

type EventsRequest struct {
	Limit int       `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
	Type  EventType `query:"type" json:"type"`
}
