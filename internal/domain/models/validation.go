package models

import "time"

// SessionState is the state of a validation session.
type SessionState string

const (
	SessionPending    SessionState = "pending"
	SessionValidating SessionState = "validating"
	SessionConfirmed  SessionState = "confirmed"
	SessionRejected   SessionState = "rejected"
	SessionExpired    SessionState = "expired"
)

// IsTerminal reports whether the state admits no further transition.
func (s SessionState) IsTerminal() bool {
	return s == SessionConfirmed || s == SessionRejected || s == SessionExpired
}

// ValidationMode selects the confirmation protocol.
type ValidationMode string

const (
	ModeSequential ValidationMode = "sequential"
	ModeConsensus  ValidationMode = "consensus"
)

// Rejection and expiry reasons.
const (
	ReasonStageFailed   = "stage_%s_failed"
	ReasonWindowTimeout = "window_timeout"
	ReasonCancelled     = "cancelled"
	ReasonNoConsensus   = "no_consensus"
	ReasonShutdown      = "validator_stopped"
	ReasonDataError     = "market_data_unavailable"
)

// TimeframeResult is the outcome of evaluating one timeframe.
type TimeframeResult struct {
	Timeframe     Timeframe `json:"timeframe"`
	Confirmed     bool      `json:"confirmed"`
	Agreement     float64   `json:"agreement"`
	ThresholdPass float64   `json:"threshold_pass"`
	Polls         int       `json:"polls"`
	Reason        string    `json:"reason,omitempty"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
}

// MonitoringWindow is a bounded polling window on one timeframe.
type MonitoringWindow struct {
	Timeframe    Timeframe     `json:"timeframe"`
	Duration     time.Duration `json:"duration"`
	PollInterval time.Duration `json:"poll_interval"`
	OpenedAt     time.Time     `json:"opened_at"`
	Deadline     time.Time     `json:"deadline"`
	ClosedAt     time.Time     `json:"closed_at,omitempty"`
	Polls        int           `json:"polls"`
	Outcome      string        `json:"outcome,omitempty"`
}

// ValidationSession tracks one candidate signal through the confirmation protocol.
type ValidationSession struct {
	ID              string             `json:"id"`
	Symbol          string             `json:"symbol"`
	TargetDirection Direction          `json:"target_direction"`
	Mode            ValidationMode     `json:"mode"`
	State           SessionState       `json:"state"`
	Results         []TimeframeResult  `json:"results"`
	Windows         []MonitoringWindow `json:"windows"`
	Reason          string             `json:"reason,omitempty"`
	StartedAt       time.Time          `json:"started_at"`
	EndedAt         time.Time          `json:"ended_at,omitempty"`
}

// Clone returns a deep copy safe to hand out of the owning component.
func (s ValidationSession) Clone() ValidationSession {
	out := s
	out.Results = append([]TimeframeResult(nil), s.Results...)
	out.Windows = append([]MonitoringWindow(nil), s.Windows...)
	return out
}
