package metrics

import (
	"PaperTrade/internal/domain/models"
	domrepo "PaperTrade/internal/domain/repository"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "papertrade"

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	errorsTotal     *prometheus.CounterVec
	lastPrice       *prometheus.GaugeVec
	latency         *prometheus.HistogramVec
	account         *prometheus.GaugeVec
	openPositions   prometheus.Gauge
	positionsOpened *prometheus.CounterVec
	positionsClosed *prometheus.CounterVec
	riskLevel       prometheus.Gauge
	emergency       prometheus.Gauge
	validations     *prometheus.CounterVec
	stopUpdates     *prometheus.CounterVec
	stopConflicts   prometheus.Counter
	events          *prometheus.CounterVec
}

var _ domrepo.Metrics = (*Recorder)(nil)

// New creates a recorder registered on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder registered on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_price",
				Help:      "Last recorded mark price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		account: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "account",
				Name:      "value",
				Help:      "Account figures by field (balance, equity, margin, free_margin, unrealized_pnl, drawdown_pct)",
			},
			[]string{"field"},
		),
		openPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Number of open positions",
		}),
		positionsOpened: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "positions_opened_total",
				Help:      "Positions opened by symbol",
			},
			[]string{"symbol"},
		),
		positionsClosed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "positions_closed_total",
				Help:      "Positions closed by symbol and reason",
			},
			[]string{"symbol", "reason"},
		),
		riskLevel: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "level",
			Help:      "Current risk level (0 low, 1 medium, 2 high, 3 critical)",
		}),
		emergency: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "emergency_mode",
			Help:      "1 while emergency mode is active",
		}),
		validations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validations_total",
				Help:      "Finished validation sessions by terminal state",
			},
			[]string{"state"},
		),
		stopUpdates: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stop_updates_total",
				Help:      "Applied stop-loss updates by source",
			},
			[]string{"source"},
		),
		stopConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stop_conflicts_total",
			Help:      "Conflicting stop submissions from different sources",
		}),
		events: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Engine events by type and delivery outcome",
			},
			[]string{"type", "outcome"},
		),
	}
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordAccount publishes the account gauges.
func (r *Recorder) RecordAccount(s models.AccountSnapshot) {
	r.account.WithLabelValues("balance").Set(s.Balance)
	r.account.WithLabelValues("equity").Set(s.Equity)
	r.account.WithLabelValues("margin").Set(s.Margin)
	r.account.WithLabelValues("free_margin").Set(s.FreeMargin)
	r.account.WithLabelValues("unrealized_pnl").Set(s.UnrealizedPnL)
	r.account.WithLabelValues("drawdown_pct").Set(s.DrawdownPct())
	r.openPositions.Set(float64(s.OpenPositions))
}

func (r *Recorder) RecordPositionOpened(symbol string) {
	r.positionsOpened.WithLabelValues(symbol).Inc()
}

func (r *Recorder) RecordPositionClosed(symbol string, reason models.CloseReason) {
	r.positionsClosed.WithLabelValues(symbol, string(reason)).Inc()
}

func (r *Recorder) RecordRiskLevel(level models.RiskLevel, emergency bool) {
	r.riskLevel.Set(float64(level.Rank()))
	if emergency {
		r.emergency.Set(1)
	} else {
		r.emergency.Set(0)
	}
}

func (r *Recorder) RecordValidation(state models.SessionState) {
	r.validations.WithLabelValues(string(state)).Inc()
}

func (r *Recorder) RecordStopUpdate(source string) {
	r.stopUpdates.WithLabelValues(source).Inc()
}

func (r *Recorder) RecordStopConflict() {
	r.stopConflicts.Inc()
}

// RecordEvent counts a published event, or a dropped delivery when dropped is set.
func (r *Recorder) RecordEvent(t models.EventType, dropped bool) {
	outcome := "published"
	if dropped {
		outcome = "dropped"
	}
	r.events.WithLabelValues(string(t), outcome).Inc()
}
