package repository

import "PaperTrade/internal/domain/models"

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordError(string)                              {}
func (NopMetrics) RecordLatency(string, float64)                   {}
func (NopMetrics) RecordLastPrice(string, float64)                 {}
func (NopMetrics) RecordAccount(models.AccountSnapshot)            {}
func (NopMetrics) RecordPositionOpened(string)                     {}
func (NopMetrics) RecordPositionClosed(string, models.CloseReason) {}
func (NopMetrics) RecordRiskLevel(models.RiskLevel, bool)          {}
func (NopMetrics) RecordValidation(models.SessionState)            {}
func (NopMetrics) RecordStopUpdate(string)                         {}
func (NopMetrics) RecordStopConflict()                             {}
func (NopMetrics) RecordEvent(models.EventType, bool)              {}

var _ Metrics = NopMetrics{}
