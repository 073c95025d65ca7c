package usecase

import (
	"context"
	"time"

	"PaperTrade/internal/domain/models"
	domrepo "PaperTrade/internal/domain/repository"
	domsvc "PaperTrade/internal/domain/service"
	applogger "PaperTrade/pkg/logger"
)

// EventRelay copies bus events to the durable archive and the outbound event topic.
// Failures are logged and counted; they never reach the engine.
type EventRelay struct {
	archive domrepo.Archive
	pub     domrepo.EventPublisher
	metrics domrepo.Metrics
	timeout time.Duration
	l       *applogger.Logger
}

// NewEventRelay creates a relay. pub may be nil when Kafka is disabled.
func NewEventRelay(archive domrepo.Archive, pub domrepo.EventPublisher, metrics domrepo.Metrics, l *applogger.Logger) *EventRelay {
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &EventRelay{
		archive: archive,
		pub:     pub,
		metrics: metrics,
		timeout: 5 * time.Second,
		l:       l.With(applogger.String("component", "event_relay")),
	}
}

func (r *EventRelay) HandleEvent(ctx context.Context, ev models.Event) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if r.archive != nil {
		if err := r.archive.StoreEvent(ctx, ev); err != nil {
			r.metrics.RecordError("archive_event")
			r.l.Warn("archive event failed", applogger.String("type", string(ev.Type)), applogger.Error(err))
		}
		if p, ok := ev.Payload.(models.PositionClosedPayload); ok {
			if err := r.archive.StoreTrade(ctx, p.Trade); err != nil {
				r.metrics.RecordError("archive_trade")
				r.l.Warn("archive trade failed", applogger.String("position", p.Trade.PositionID), applogger.Error(err))
			}
		}
	}
	if r.pub != nil {
		if err := r.pub.Publish(ctx, ev); err != nil {
			r.metrics.RecordError("publish_event")
			r.l.Warn("publish event failed", applogger.String("type", string(ev.Type)), applogger.Error(err))
		}
	}
}

// Subscribe registers the relay for every event type.
func (r *EventRelay) Subscribe(src domsvc.EventSource) func() {
	return src.Subscribe("relay", r.HandleEvent)
}
