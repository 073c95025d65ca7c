package risk

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"PaperTrade/internal/domain/models"
	domrepo "PaperTrade/internal/domain/repository"
	domsvc "PaperTrade/internal/domain/service"
	applogger "PaperTrade/pkg/logger"

	"golang.org/x/time/rate"
)

// Source is the stop source name for risk tightening.
const Source = "risk"

// Config holds risk limits.
type Config struct {
	Thresholds       models.RiskThresholds `yaml:"thresholds"`
	MaxDailyLossPct  float64               `yaml:"max_daily_loss_pct" default:"10" validate:"gt=0"`
	MaxDrawdownPct   float64               `yaml:"max_drawdown_pct" default:"20" validate:"gt=0"`
	MinMarginLevel   float64               `yaml:"min_margin_level" default:"200" validate:"gte=0"`
	PanicLossPct     float64               `yaml:"panic_loss_pct" default:"25" validate:"gt=0"`
	TightenCount     int                   `yaml:"tighten_count" default:"2" validate:"gte=0"`
	TightenFraction  float64               `yaml:"tighten_fraction" default:"0.5" validate:"gt=0,lt=1"`
	WarnInterval     time.Duration         `yaml:"warn_interval" default:"5m"`
	AutoClearOnReset bool                  `yaml:"auto_clear_on_reset" default:"true"`
}

// Portfolio is the execution surface the manager observes and acts on.
type Portfolio interface {
	Account() models.AccountSnapshot
	OpenPositions() []models.Position
	Close(ctx context.Context, id string, reason models.CloseReason) (models.TradeRecord, error)
	TightenStop(id string, fraction float64, source string) (bool, error)
	SetBlocked(blocked bool, reason string)
}

// Option configures Manager.
type Option func(*Manager)

func WithEvents(em domsvc.EventEmitter) Option { return func(m *Manager) { m.events = em } }
func WithMetrics(r domrepo.Metrics) Option     { return func(m *Manager) { m.metrics = r } }
func WithClock(now func() time.Time) Option    { return func(m *Manager) { m.now = now } }

// Manager computes the portfolio risk level and enforces its actions.
type Manager struct {
	cfg       Config
	portfolio Portfolio
	events    domsvc.EventEmitter
	metrics   domrepo.Metrics
	l         *applogger.Logger
	now       func() time.Time
	warn      *rate.Limiter

	mu          sync.Mutex
	level       models.RiskLevel
	computed    models.RiskLevel
	emergency   bool
	trigger     models.EmergencyTrigger
	triggeredAt time.Time
	pending     map[string]struct{}
	closing     map[string]struct{} // emergency closes in flight
	tightened   map[string]struct{}
	blocked     bool
	dailyStart  float64
	day         string
	lastReset   time.Time
	last        models.RiskMetrics
}

// New creates a manager; the daily start balance is the current equity.
func New(cfg Config, portfolio Portfolio, l *applogger.Logger, opts ...Option) *Manager {
	if cfg.Thresholds == (models.RiskThresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.TightenFraction <= 0 || cfg.TightenFraction >= 1 {
		cfg.TightenFraction = 0.5
	}
	if cfg.WarnInterval <= 0 {
		cfg.WarnInterval = 5 * time.Minute
	}
	if l == nil {
		l = applogger.Nop()
	}
	m := &Manager{
		cfg:       cfg,
		portfolio: portfolio,
		events:    domsvc.NopEmitter{},
		metrics:   domrepo.NopMetrics{},
		l:         l,
		now:       time.Now,
		warn:      rate.NewLimiter(rate.Every(cfg.WarnInterval), 1),
		level:     models.RiskLow,
		computed:  models.RiskLow,
		pending:   make(map[string]struct{}),
		closing:   make(map[string]struct{}),
		tightened: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	now := m.now().UTC()
	m.dailyStart = portfolio.Account().Equity
	m.day = dayOf(now)
	m.lastReset = now
	return m
}

func dayOf(t time.Time) string { return t.UTC().Format("2006-01-02") }

// Metrics derives risk metrics from an account snapshot against a daily start balance.
func Metrics(acc models.AccountSnapshot, dailyStart float64) models.RiskMetrics {
	m := models.RiskMetrics{
		DrawdownPct:       acc.DrawdownPct(),
		OpenPositions:     acc.OpenPositions,
		MarginLevel:       acc.MarginLevel,
		DailyStartBalance: dailyStart,
		Balance:           acc.Balance,
		Equity:            acc.Equity,
		At:                acc.Timestamp,
	}
	if dailyStart > 0 && acc.Equity < dailyStart {
		m.DailyLossPct = (dailyStart - acc.Equity) / dailyStart * 100
	}
	if acc.InitialBalance > 0 && acc.Equity < acc.InitialBalance {
		m.CumulativeLossPct = (acc.InitialBalance - acc.Equity) / acc.InitialBalance * 100
	}
	return m
}

// Check runs one risk cycle: daily rollover, metrics, emergency triggers, level and level action.
func (m *Manager) Check(ctx context.Context) (models.RiskProfile, error) {
	now := m.now().UTC()
	m.mu.Lock()
	rollover := dayOf(now) != m.day
	m.mu.Unlock()
	if rollover {
		m.ResetDaily(now)
	}

	acc := m.portfolio.Account()
	m.mu.Lock()
	metrics := Metrics(acc, m.dailyStart)
	m.last = metrics
	m.computed = Level(metrics, m.cfg.Thresholds)
	emergency := m.emergency
	m.mu.Unlock()

	if !emergency {
		if trigger := m.emergencyTrigger(metrics); trigger != models.TriggerNone {
			if err := m.ActivateEmergency(ctx, trigger); err != nil {
				return m.Profile(), err
			}
			return m.Profile(), nil
		}
	} else {
		m.retryPending(ctx)
	}

	m.applyLevel(ctx, metrics)
	return m.Profile(), nil
}

func (m *Manager) emergencyTrigger(mt models.RiskMetrics) models.EmergencyTrigger {
	switch {
	case mt.CumulativeLossPct >= m.cfg.PanicLossPct && m.cfg.PanicLossPct > 0:
		return models.TriggerPanic
	case mt.DailyLossPct >= m.cfg.MaxDailyLossPct && m.cfg.MaxDailyLossPct > 0:
		return models.TriggerDailyLoss
	case mt.DrawdownPct >= m.cfg.MaxDrawdownPct && m.cfg.MaxDrawdownPct > 0:
		return models.TriggerDrawdown
	case mt.MarginLevel > 0 && mt.MarginLevel < m.cfg.MinMarginLevel:
		return models.TriggerMarginCall
	}
	return models.TriggerNone
}

// applyLevel moves to the computed level (or critical in emergency) and runs the level action.
func (m *Manager) applyLevel(ctx context.Context, metrics models.RiskMetrics) {
	m.mu.Lock()
	from := m.level
	to := m.computed
	if m.emergency {
		to = models.RiskCritical
	}
	m.level = to
	if to.Rank() < models.RiskHigh.Rank() {
		m.tightened = make(map[string]struct{})
	}
	unblock := m.blocked && !m.emergency && to != models.RiskCritical
	if unblock {
		m.blocked = false
	}
	block := !m.blocked && to == models.RiskCritical
	if block {
		m.blocked = true
	}
	emergency := m.emergency
	m.mu.Unlock()

	m.metrics.RecordRiskLevel(to, emergency)
	if from != to {
		m.l.Info("risk level changed", applogger.String("from", string(from)), applogger.String("to", string(to)))
		m.events.Emit(models.EventRiskLevelChanged, "", models.RiskLevelChangedPayload{From: from, To: to, Metrics: metrics})
	}
	if unblock {
		m.portfolio.SetBlocked(false, "")
	}
	if emergency {
		return
	}

	switch models.ActionFor(to) {
	case models.ActionWarn:
		if m.warn.Allow() {
			m.l.Warn("risk level elevated",
				applogger.String("level", string(to)),
				applogger.Float64("daily_loss_pct", metrics.DailyLossPct),
				applogger.Float64("drawdown_pct", metrics.DrawdownPct),
				applogger.Int("open_positions", metrics.OpenPositions),
			)
		}
	case models.ActionTightenStops:
		m.tightenWorst()
	case models.ActionBlockNew:
		if block {
			m.l.Warn("risk critical, blocking new positions",
				applogger.Float64("daily_loss_pct", metrics.DailyLossPct),
				applogger.Float64("drawdown_pct", metrics.DrawdownPct))
			m.portfolio.SetBlocked(true, "risk level critical")
		}
	}
}

// tightenWorst tightens stops on the most unprofitable positions, once per high-risk episode.
func (m *Manager) tightenWorst() {
	positions := m.portfolio.OpenPositions()
	sort.Slice(positions, func(i, j int) bool { return positions[i].UnrealizedPnL < positions[j].UnrealizedPnL })

	n := 0
	for _, p := range positions {
		if n >= m.cfg.TightenCount {
			break
		}
		m.mu.Lock()
		_, done := m.tightened[p.ID]
		m.mu.Unlock()
		if done {
			n++
			continue
		}
		moved, err := m.portfolio.TightenStop(p.ID, m.cfg.TightenFraction, Source)
		if err != nil {
			m.l.Warn("tighten stop failed", applogger.String("id", p.ID), applogger.Error(err))
			continue
		}
		m.mu.Lock()
		m.tightened[p.ID] = struct{}{}
		m.mu.Unlock()
		n++
		if moved {
			m.l.Info("stop tightened by risk manager", applogger.String("id", p.ID), applogger.String("symbol", p.Symbol))
		}
	}
}

// ActivateEmergency enters emergency mode and flattens the book. Only the first activation acts;
// later calls while active are no-ops.
func (m *Manager) ActivateEmergency(ctx context.Context, trigger models.EmergencyTrigger) error {
	if trigger == models.TriggerNone {
		return fmt.Errorf("activate emergency: empty trigger")
	}
	positions := m.portfolio.OpenPositions()
	m.mu.Lock()
	if m.emergency {
		m.mu.Unlock()
		return nil
	}
	from := m.level
	m.emergency = true
	m.trigger = trigger
	m.triggeredAt = m.now().UTC()
	m.level = models.RiskCritical
	m.blocked = true
	metrics := m.last
	ids := make([]string, 0, len(positions))
	for _, p := range positions {
		m.pending[p.ID] = struct{}{}
		ids = append(ids, p.ID)
	}
	m.mu.Unlock()

	m.l.Error("emergency mode activated",
		applogger.String("trigger", string(trigger)),
		applogger.Int("positions", len(ids)),
		applogger.Float64("daily_loss_pct", metrics.DailyLossPct),
		applogger.Float64("drawdown_pct", metrics.DrawdownPct),
	)
	m.portfolio.SetBlocked(true, "emergency: "+string(trigger))
	m.metrics.RecordRiskLevel(models.RiskCritical, true)
	m.events.Emit(models.EventEmergencyTriggered, "", models.EmergencyTriggeredPayload{Trigger: trigger, Metrics: metrics, Positions: ids})
	if from != models.RiskCritical {
		m.events.Emit(models.EventRiskLevelChanged, "", models.RiskLevelChangedPayload{From: from, To: models.RiskCritical, Metrics: metrics})
	}

	m.retryPending(ctx)
	return nil
}

// retryPending closes every position queued for emergency close, plus any opened since.
func (m *Manager) retryPending(ctx context.Context) {
	open := m.portfolio.OpenPositions()
	stillOpen := make(map[string]struct{}, len(open))
	m.mu.Lock()
	for _, p := range open {
		stillOpen[p.ID] = struct{}{}
		m.pending[p.ID] = struct{}{}
	}
	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		if _, ok := stillOpen[id]; !ok {
			delete(m.pending, id)
			continue
		}
		if _, busy := m.closing[id]; busy {
			continue
		}
		m.closing[id] = struct{}{}
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)

	for i, id := range ids {
		if ctx.Err() != nil {
			m.mu.Lock()
			for _, rest := range ids[i:] {
				delete(m.closing, rest)
			}
			m.mu.Unlock()
			return
		}
		_, err := m.portfolio.Close(ctx, id, models.CloseEmergency)
		m.mu.Lock()
		delete(m.closing, id)
		if err == nil {
			delete(m.pending, id)
		}
		m.mu.Unlock()
		if err != nil {
			m.metrics.RecordError("emergency_close")
			m.l.Error("emergency close failed, retrying next cycle", applogger.String("id", id), applogger.Error(err))
		}
	}
}

// DeactivateEmergency leaves emergency mode. The level is recomputed on the next check.
func (m *Manager) DeactivateEmergency() bool {
	m.mu.Lock()
	if !m.emergency {
		m.mu.Unlock()
		return false
	}
	from := m.level
	m.emergency = false
	m.trigger = models.TriggerNone
	m.triggeredAt = time.Time{}
	m.pending = make(map[string]struct{})
	m.level = m.computed
	to := m.level
	metrics := m.last
	unblock := to != models.RiskCritical
	if unblock {
		m.blocked = false
	}
	m.mu.Unlock()

	m.l.Info("emergency mode deactivated", applogger.String("level", string(to)))
	if unblock {
		m.portfolio.SetBlocked(false, "")
	}
	m.metrics.RecordRiskLevel(to, false)
	if from != to {
		m.events.Emit(models.EventRiskLevelChanged, "", models.RiskLevelChangedPayload{From: from, To: to, Metrics: metrics})
	}
	return true
}

// ResetDaily starts a new trading day at now: the daily start balance becomes current equity and,
// when configured, emergency mode clears.
func (m *Manager) ResetDaily(now time.Time) {
	acc := m.portfolio.Account()
	m.mu.Lock()
	m.dailyStart = acc.Equity
	m.day = dayOf(now)
	m.lastReset = now.UTC()
	m.last = Metrics(acc, m.dailyStart)
	m.computed = Level(m.last, m.cfg.Thresholds)
	autoClear := m.emergency && m.cfg.AutoClearOnReset
	start := m.dailyStart
	m.mu.Unlock()

	cleared := false
	if autoClear {
		cleared = m.DeactivateEmergency()
	}
	m.l.Info("daily risk reset", applogger.String("day", dayOf(now)), applogger.Float64("start_balance", start), applogger.Bool("cleared_emergency", cleared))
	m.events.Emit(models.EventDailyReset, "", models.DailyResetPayload{Date: dayOf(now), StartBalance: start, ClearedAlarm: cleared})
	if !cleared {
		m.mu.Lock()
		metrics := m.last
		m.mu.Unlock()
		m.applyLevel(context.Background(), metrics)
	}
}

// Profile returns the current risk profile.
func (m *Manager) Profile() models.RiskProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := models.RiskProfile{
		Level:         m.level,
		ComputedLevel: m.computed,
		Action:        models.ActionFor(m.level),
		Thresholds:    m.cfg.Thresholds,
		EmergencyMode: m.emergency,
		Trigger:       m.trigger,
		TriggeredAt:   m.triggeredAt,
		Metrics:       m.last,
		LastReset:     m.lastReset,
	}
	for id := range m.pending {
		p.PendingCloses = append(p.PendingCloses, id)
	}
	sort.Strings(p.PendingCloses)
	return p
}

// AllowNewPositions reports whether the current posture permits opening positions.
func (m *Manager) AllowNewPositions() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.emergency && m.level != models.RiskCritical
}

// HandleEvent reruns the risk cycle when realized PnL changes the balance.
func (m *Manager) HandleEvent(ctx context.Context, ev models.Event) {
	if ev.Type != models.EventPositionClosed {
		return
	}
	if _, err := m.Check(ctx); err != nil {
		m.l.Warn("risk check after close failed", applogger.Error(err))
	}
}

// Subscribe registers the manager on an event source.
func (m *Manager) Subscribe(src domsvc.EventSource) func() {
	return src.Subscribe("risk", m.HandleEvent, models.EventPositionClosed)
}
