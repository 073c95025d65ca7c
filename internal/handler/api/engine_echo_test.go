package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"PaperTrade/internal/domain/models"
	"PaperTrade/internal/services/execution"
	"PaperTrade/internal/services/trailing"
	"PaperTrade/internal/services/validator"

	"github.com/labstack/echo/v4"
)

type fakeEngine struct {
	positions map[string]models.Position
	openErr   error
	lastOpen  models.OpenRequest
	resetErr  error
}

func (f *fakeEngine) Open(_ context.Context, req models.OpenRequest) (models.Position, error) {
	f.lastOpen = req
	if f.openErr != nil {
		return models.Position{}, f.openErr
	}
	p := models.Position{ID: "p-new", Symbol: req.Symbol, Direction: req.Direction, Size: req.Size, Status: models.PositionOpen}
	f.positions[p.ID] = p
	return p, nil
}

func (f *fakeEngine) Close(_ context.Context, id string, reason models.CloseReason) (models.TradeRecord, error) {
	p, ok := f.positions[id]
	if !ok {
		return models.TradeRecord{}, fmt.Errorf("close %s: %w", id, execution.ErrPositionNotFound)
	}
	delete(f.positions, id)
	return models.TradeRecord{PositionID: p.ID, Symbol: p.Symbol, CloseReason: reason, Status: models.PositionClosed}, nil
}

func (f *fakeEngine) Account() models.AccountSnapshot {
	return models.AccountSnapshot{Balance: 10000, Equity: 10000, OpenPositions: len(f.positions)}
}

func (f *fakeEngine) OpenPositions() []models.Position {
	out := make([]models.Position, 0, len(f.positions))
	for _, p := range f.positions {
		out = append(out, p)
	}
	return out
}

func (f *fakeEngine) Position(id string) (models.Position, error) {
	p, ok := f.positions[id]
	if !ok {
		return models.Position{}, execution.ErrPositionNotFound
	}
	return p, nil
}

func (f *fakeEngine) History(limit int) []models.TradeRecord {
	out := make([]models.TradeRecord, 0, limit)
	for i := 0; i < limit && i < 3; i++ {
		out = append(out, models.TradeRecord{PositionID: fmt.Sprintf("h%d", i)})
	}
	return out
}

func (f *fakeEngine) Reset(float64) error { return f.resetErr }

type fakeSessions struct {
	sessions map[string]models.ValidationSession
}

func (f *fakeSessions) Start(_ context.Context, symbol string, d models.Direction) (models.ValidationSession, error) {
	s := models.ValidationSession{ID: "s-1", Symbol: symbol, TargetDirection: d, State: models.SessionPending}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeSessions) Cancel(id string) error {
	s, ok := f.sessions[id]
	if !ok {
		return validator.ErrSessionNotFound
	}
	if s.State.IsTerminal() {
		return validator.ErrSessionFinished
	}
	s.State = models.SessionRejected
	f.sessions[id] = s
	return nil
}

func (f *fakeSessions) Get(_ context.Context, id string) (models.ValidationSession, error) {
	s, ok := f.sessions[id]
	if !ok {
		return models.ValidationSession{}, validator.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeSessions) All() []models.ValidationSession {
	out := make([]models.ValidationSession, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out
}

type fakeRisk struct{ emergency bool }

func (f *fakeRisk) Profile() models.RiskProfile {
	return models.RiskProfile{Level: models.RiskLow, EmergencyMode: f.emergency}
}

func (f *fakeRisk) ActivateEmergency(context.Context, models.EmergencyTrigger) error {
	f.emergency = true
	return nil
}

func (f *fakeRisk) DeactivateEmergency() bool {
	was := f.emergency
	f.emergency = false
	return was
}

type fakeTrailing struct{}

func (fakeTrailing) Contexts() []models.TrailingContext { return nil }

func (fakeTrailing) AttachPreset(pos models.Position, name string) (models.TrailingContext, error) {
	if name == "nope" {
		return models.TrailingContext{}, trailing.ErrUnknownPreset
	}
	return models.TrailingContext{PositionID: pos.ID, Status: models.TrailingWaiting}, nil
}

func (fakeTrailing) Presets() []string { return []string{"atr"} }

type fakeEvents struct{}

func (fakeEvents) Recent(limit int, types ...models.EventType) []models.Event {
	return []models.Event{{ID: "e1", Type: models.EventDailyReset}}
}

type fakeSignals struct{ analyzed int }

func (f *fakeSignals) Signal(string) (models.Signal, bool) { return models.Signal{}, false }

func (f *fakeSignals) Analyze(_ context.Context, symbol string) (models.Signal, error) {
	f.analyzed++
	return models.Signal{Symbol: symbol, Direction: models.DirectionLong, Timestamp: time.Now()}, nil
}

type fixture struct {
	e        *echo.Echo
	engine   *fakeEngine
	sessions *fakeSessions
	risk     *fakeRisk
	signals  *fakeSignals
}

func newFixture() fixture {
	f := fixture{
		e: echo.New(),
		engine: &fakeEngine{positions: map[string]models.Position{
			"p1": {ID: "p1", Symbol: "BTCUSDT", Direction: models.DirectionLong, Size: 1, Status: models.PositionOpen},
		}},
		sessions: &fakeSessions{sessions: map[string]models.ValidationSession{
			"done": {ID: "done", State: models.SessionConfirmed},
		}},
		risk:    &fakeRisk{},
		signals: &fakeSignals{},
	}
	h := NewEngineEchoHandler(nil, Deps{
		Engine:   f.engine,
		Sessions: f.sessions,
		Risk:     f.risk,
		Trailing: fakeTrailing{},
		Events:   fakeEvents{},
		Signals:  f.signals,
	})
	h.RegisterRoutes(f.e)
	return f
}

func (f fixture) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	out := map[string]interface{}{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
		}
	}
	return rec.Code, out
}

func TestQueryRoutes(t *testing.T) {
	f := newFixture()
	for _, path := range []string{"/api/account", "/api/positions", "/api/positions/p1", "/api/history?limit=2", "/api/sessions", "/api/sessions/done", "/api/risk", "/api/trailing", "/api/events?limit=5"} {
		if code, _ := f.do(t, http.MethodGet, path, ""); code != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d", path, code)
		}
	}
}

func TestNotFoundMapping(t *testing.T) {
	f := newFixture()
	for _, path := range []string{"/api/positions/missing", "/api/sessions/missing"} {
		if code, _ := f.do(t, http.MethodGet, path, ""); code != http.StatusNotFound {
			t.Fatalf("GET %s: expected 404, got %d", path, code)
		}
	}
	if code, _ := f.do(t, http.MethodPost, "/api/positions/missing/close", ""); code != http.StatusNotFound {
		t.Fatalf("close missing: expected 404, got %d", code)
	}
}

func TestOpenPosition(t *testing.T) {
	f := newFixture()
	code, body := f.do(t, http.MethodPost, "/api/positions", `{"symbol":"btc/usdt","direction":"long","size":0.5,"leverage":10}`)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%v)", code, body)
	}
	if f.engine.lastOpen.Symbol != "BTCUSDT" || f.engine.lastOpen.Leverage != 10 {
		t.Fatalf("unexpected open request %+v", f.engine.lastOpen)
	}

	if code, _ := f.do(t, http.MethodPost, "/api/positions", `{"symbol":"BTCUSDT","direction":"sideways","size":1}`); code != http.StatusBadRequest {
		t.Fatalf("invalid direction: expected 400, got %d", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/positions", `{"symbol":"BTCUSDT","direction":"long","size":0}`); code != http.StatusBadRequest {
		t.Fatalf("zero size: expected 400, got %d", code)
	}
}

func TestOpenPositionErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{execution.ErrTradingBlocked, http.StatusLocked},
		{execution.ErrInsufficientMargin, http.StatusConflict},
		{fmt.Errorf("open: %w", execution.ErrInvalidLeverage), http.StatusBadRequest},
		{execution.ErrNoPrice, http.StatusServiceUnavailable},
	}
	for _, c := range cases {
		f := newFixture()
		f.engine.openErr = c.err
		if code, _ := f.do(t, http.MethodPost, "/api/positions", `{"symbol":"BTCUSDT","direction":"short","size":1}`); code != c.code {
			t.Fatalf("%v: expected %d, got %d", c.err, c.code, code)
		}
	}
}

func TestClosePositionDefaultsToManual(t *testing.T) {
	f := newFixture()
	code, body := f.do(t, http.MethodPost, "/api/positions/p1/close", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", code, body)
	}
	data := body["data"].(map[string]interface{})
	if data["close_reason"] != string(models.CloseManual) {
		t.Fatalf("expected manual close, got %v", data["close_reason"])
	}
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture()
	if code, _ := f.do(t, http.MethodPost, "/api/sessions", `{"symbol":"ethusdt","direction":"short"}`); code != http.StatusCreated {
		t.Fatalf("start: expected 201, got %d", code)
	}
	if code, _ := f.do(t, http.MethodDelete, "/api/sessions/s-1", ""); code != http.StatusNoContent {
		t.Fatalf("cancel: expected 204, got %d", code)
	}
	if code, _ := f.do(t, http.MethodDelete, "/api/sessions/done", ""); code != http.StatusConflict {
		t.Fatalf("cancel finished: expected 409, got %d", code)
	}
}

func TestEmergencyRoutes(t *testing.T) {
	f := newFixture()
	if code, _ := f.do(t, http.MethodDelete, "/api/risk/emergency", ""); code != http.StatusConflict {
		t.Fatalf("deactivate inactive: expected 409, got %d", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/risk/emergency", ""); code != http.StatusOK || !f.risk.emergency {
		t.Fatalf("activate: expected 200 and emergency, got %d", code)
	}
	if code, _ := f.do(t, http.MethodDelete, "/api/risk/emergency", ""); code != http.StatusOK || f.risk.emergency {
		t.Fatalf("deactivate: expected 200, got %d", code)
	}
}

func TestAttachTrailing(t *testing.T) {
	f := newFixture()
	if code, _ := f.do(t, http.MethodPost, "/api/trailing/p1", `{"preset":"atr"}`); code != http.StatusOK {
		t.Fatalf("attach: expected 200, got %d", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/trailing/p1", `{"preset":"nope"}`); code != http.StatusBadRequest {
		t.Fatalf("unknown preset: expected 400, got %d", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/trailing/missing", `{}`); code != http.StatusNotFound {
		t.Fatalf("missing position: expected 404, got %d", code)
	}
}

func TestSignalAnalyzesOnMiss(t *testing.T) {
	f := newFixture()
	code, body := f.do(t, http.MethodGet, "/api/signals/btcusdt", "")
	if code != http.StatusOK || f.signals.analyzed != 1 {
		t.Fatalf("expected on-demand analysis, got %d (%d calls)", code, f.signals.analyzed)
	}
	data := body["data"].(map[string]interface{})
	if data["symbol"] != "BTCUSDT" {
		t.Fatalf("unexpected signal %v", data)
	}
}

func TestResetAccountConflict(t *testing.T) {
	f := newFixture()
	f.engine.resetErr = execution.ErrPositionsOpen
	if code, _ := f.do(t, http.MethodPost, "/api/account/reset", `{"balance":5000}`); code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", code)
	}
	f.engine.resetErr = nil
	if code, _ := f.do(t, http.MethodPost, "/api/account/reset", `{"balance":0}`); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero balance, got %d", code)
	}
}
