package ratelimit

import (
	"net/http"

	xhttp "PaperTrade/pkg/http"

	"github.com/labstack/echo/v4"
)

// Middleware limits each client IP to capacity requests, refilled at refillPerSec.
func Middleware(l *Limiter, capacity, refillPerSec float64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP() + ":" + c.Path()
			if !l.Allow(key, capacity, refillPerSec) {
				return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_RATE_LIMITED", "", "rate limited", http.StatusTooManyRequests))
			}
			return next(c)
		}
	}
}
