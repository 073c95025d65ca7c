package api

import (
	"errors"
	"net/http"

	"PaperTrade/internal/services/execution"
	"PaperTrade/internal/services/trailing"
	"PaperTrade/internal/services/validator"
	xhttp "PaperTrade/pkg/http"
)

// toAppError maps engine errors onto HTTP errors.
func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, execution.ErrPositionNotFound),
		errors.Is(err, validator.ErrSessionNotFound),
		errors.Is(err, trailing.ErrNoContext):
		return xhttp.NotFoundError(err.Error()).WithError(err)
	case errors.Is(err, execution.ErrTradingBlocked):
		return xhttp.LockedError(err.Error()).WithError(err)
	case errors.Is(err, execution.ErrInsufficientMargin),
		errors.Is(err, execution.ErrPositionsOpen),
		errors.Is(err, validator.ErrSessionFinished),
		errors.Is(err, trailing.ErrNotOpen):
		return xhttp.ConflictError(err.Error()).WithError(err)
	case errors.Is(err, execution.ErrInvalidSize),
		errors.Is(err, execution.ErrInvalidDirection),
		errors.Is(err, execution.ErrInvalidLeverage),
		errors.Is(err, execution.ErrInvalidStop),
		errors.Is(err, execution.ErrInvalidTakeProfit),
		errors.Is(err, execution.ErrPositionTooLarge),
		errors.Is(err, validator.ErrInvalidDirection),
		errors.Is(err, validator.ErrInvalidSymbol),
		errors.Is(err, trailing.ErrUnknownPreset),
		errors.Is(err, trailing.ErrNoInitialRisk):
		return xhttp.BadRequestError(err.Error()).WithError(err)
	case errors.Is(err, execution.ErrNoPrice),
		errors.Is(err, validator.ErrClosed):
		return xhttp.NewAppError("ERR_UNAVAILABLE", "", err.Error(), http.StatusServiceUnavailable).WithError(err)
	default:
		return xhttp.InternalError("internal error").WithError(err)
	}
}
