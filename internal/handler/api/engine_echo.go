package api

import (
	"context"
	"net/http"
	"time"

	"PaperTrade/internal/domain/models"
	"PaperTrade/internal/service/ratelimit"
	xhttp "PaperTrade/pkg/http"
	xlogger "PaperTrade/pkg/logger"
	"PaperTrade/pkg/util"

	"github.com/labstack/echo/v4"
)

// Engine is the execution engine surface exposed over HTTP.
type Engine interface {
	Open(ctx context.Context, req models.OpenRequest) (models.Position, error)
	Close(ctx context.Context, id string, reason models.CloseReason) (models.TradeRecord, error)
	Account() models.AccountSnapshot
	OpenPositions() []models.Position
	Position(id string) (models.Position, error)
	History(limit int) []models.TradeRecord
	Reset(balance float64) error
}

type Sessions interface {
	Start(ctx context.Context, symbol string, direction models.Direction) (models.ValidationSession, error)
	Cancel(id string) error
	Get(ctx context.Context, id string) (models.ValidationSession, error)
	All() []models.ValidationSession
}

type Risk interface {
	Profile() models.RiskProfile
	ActivateEmergency(ctx context.Context, trigger models.EmergencyTrigger) error
	DeactivateEmergency() bool
}

type Trailing interface {
	Contexts() []models.TrailingContext
	AttachPreset(pos models.Position, name string) (models.TrailingContext, error)
	Presets() []string
}

type Events interface {
	Recent(limit int, types ...models.EventType) []models.Event
}

type Signals interface {
	Signal(symbol string) (models.Signal, bool)
	Analyze(ctx context.Context, symbol string) (models.Signal, error)
}

// Deps groups the handler collaborators.
type Deps struct {
	Engine   Engine
	Sessions Sessions
	Risk     Risk
	Trailing Trailing
	Events   Events
	Signals  Signals
	Limiter  *ratelimit.Limiter
}

// EngineEchoHandler serves the paper trading API.
type EngineEchoHandler struct {
	logger *xlogger.Logger
	d      Deps
}

func NewEngineEchoHandler(logger *xlogger.Logger, d Deps) *EngineEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	if d.Limiter == nil {
		d.Limiter = ratelimit.New()
	}
	return &EngineEchoHandler{logger: logger, d: d}
}

func (h *EngineEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	limit := ratelimit.Middleware(h.d.Limiter, 10, 2)

	g.GET("/account", h.Account)
	g.POST("/account/reset", h.ResetAccount, limit)

	g.GET("/positions", h.Positions)
	g.GET("/positions/:id", h.Position)
	g.POST("/positions", h.OpenPosition, limit)
	g.POST("/positions/:id/close", h.ClosePosition, limit)
	g.GET("/history", h.History)

	g.GET("/sessions", h.Sessions)
	g.GET("/sessions/:id", h.Session)
	g.POST("/sessions", h.StartSession, limit)
	g.DELETE("/sessions/:id", h.CancelSession, limit)

	g.GET("/risk", h.Risk)
	g.POST("/risk/emergency", h.ActivateEmergency, limit)
	g.DELETE("/risk/emergency", h.DeactivateEmergency, limit)

	g.GET("/trailing", h.TrailingContexts)
	g.POST("/trailing/:id", h.AttachTrailing, limit)

	g.GET("/events", h.Events)
	g.GET("/signals/:symbol", h.Signal)
}

func (h *EngineEchoHandler) fail(c echo.Context, op string, err error) error {
	appErr := toAppError(err)
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", xlogger.Error(err))
	} else {
		h.logger.Debug(op+" rejected", xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func (h *EngineEchoHandler) Account(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.d.Engine.Account())
}

func (h *EngineEchoHandler) ResetAccount(c echo.Context) error {
	req := &models.ResetAccountRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.d.Engine.Reset(req.Balance); err != nil {
		return h.fail(c, "reset account", err)
	}
	h.logger.Info("account reset", xlogger.Float64("balance", req.Balance))
	return xhttp.SuccessResponse(c, h.d.Engine.Account())
}

func (h *EngineEchoHandler) Positions(c echo.Context) error {
	rows := h.d.Engine.OpenPositions()
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *EngineEchoHandler) Position(c echo.Context) error {
	p, err := h.d.Engine.Position(c.Param("id"))
	if err != nil {
		return h.fail(c, "get position", err)
	}
	return xhttp.SuccessResponse(c, p)
}

func (h *EngineEchoHandler) OpenPosition(c echo.Context) error {
	req := &models.OpenPositionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	p, err := h.d.Engine.Open(c.Request().Context(), models.OpenRequest{
		Symbol:     util.NormalizeSymbol(req.Symbol),
		Direction:  req.Direction,
		Size:       req.Size,
		Leverage:   req.Leverage,
		Price:      req.Price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	})
	if err != nil {
		return h.fail(c, "open position", err)
	}
	return xhttp.CreatedResponse(c, p)
}

func (h *EngineEchoHandler) ClosePosition(c echo.Context) error {
	req := &models.ClosePositionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tr, err := h.d.Engine.Close(c.Request().Context(), req.ID, req.Reason)
	if err != nil {
		return h.fail(c, "close position", err)
	}
	return xhttp.SuccessResponse(c, tr)
}

func (h *EngineEchoHandler) History(c echo.Context) error {
	req := &models.LimitRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows := h.d.Engine.History(req.Limit)
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *EngineEchoHandler) Sessions(c echo.Context) error {
	rows := h.d.Sessions.All()
	if c.QueryParam("active") == "true" {
		active := rows[:0]
		for _, s := range rows {
			if !s.State.IsTerminal() {
				active = append(active, s)
			}
		}
		rows = active
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *EngineEchoHandler) Session(c echo.Context) error {
	s, err := h.d.Sessions.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, "get session", err)
	}
	return xhttp.SuccessResponse(c, s)
}

func (h *EngineEchoHandler) StartSession(c echo.Context) error {
	req := &models.StartSessionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	s, err := h.d.Sessions.Start(c.Request().Context(), util.NormalizeSymbol(req.Symbol), req.Direction)
	if err != nil {
		return h.fail(c, "start session", err)
	}
	return xhttp.CreatedResponse(c, s)
}

func (h *EngineEchoHandler) CancelSession(c echo.Context) error {
	if err := h.d.Sessions.Cancel(c.Param("id")); err != nil {
		return h.fail(c, "cancel session", err)
	}
	return xhttp.NoContentResponse(c)
}

func (h *EngineEchoHandler) Risk(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.d.Risk.Profile())
}

func (h *EngineEchoHandler) ActivateEmergency(c echo.Context) error {
	if err := h.d.Risk.ActivateEmergency(c.Request().Context(), models.TriggerManual); err != nil {
		return h.fail(c, "activate emergency", err)
	}
	h.logger.Warn("manual emergency requested", xlogger.String("remote", c.RealIP()))
	return xhttp.SuccessResponse(c, h.d.Risk.Profile())
}

func (h *EngineEchoHandler) DeactivateEmergency(c echo.Context) error {
	if !h.d.Risk.DeactivateEmergency() {
		return xhttp.AppErrorResponse(c, xhttp.ConflictError("emergency mode is not active"))
	}
	return xhttp.SuccessResponse(c, h.d.Risk.Profile())
}

func (h *EngineEchoHandler) TrailingContexts(c echo.Context) error {
	rows := h.d.Trailing.Contexts()
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *EngineEchoHandler) AttachTrailing(c echo.Context) error {
	req := &models.AttachTrailingRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	pos, err := h.d.Engine.Position(req.ID)
	if err != nil {
		return h.fail(c, "attach trailing", err)
	}
	tc, err := h.d.Trailing.AttachPreset(pos, req.Preset)
	if err != nil {
		return h.fail(c, "attach trailing", err)
	}
	return xhttp.SuccessResponse(c, tc)
}

func (h *EngineEchoHandler) Events(c echo.Context) error {
	req := &models.EventsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	var types []models.EventType
	if req.Type != "" {
		types = append(types, req.Type)
	}
	rows := h.d.Events.Recent(req.Limit, types...)
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// Signal returns the latest signal, analyzing on demand when none is stored or it is stale.
func (h *EngineEchoHandler) Signal(c echo.Context) error {
	sym := util.NormalizeSymbol(c.Param("symbol"))
	if sym == "" {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("symbol required"))
	}
	if s, ok := h.d.Signals.Signal(sym); ok && time.Since(s.Timestamp) < 5*time.Minute {
		c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
		return xhttp.SuccessResponse(c, s)
	}
	s, err := h.d.Signals.Analyze(c.Request().Context(), sym)
	if err != nil {
		return h.fail(c, "analyze", err)
	}
	return xhttp.SuccessResponse(c, s)
}
