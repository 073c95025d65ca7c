package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestAllowRefills(t *testing.T) {
	now := time.Unix(0, 0)
	l := New()
	l.now = func() time.Time { return now }

	if !l.Allow("k", 2, 1) || !l.Allow("k", 2, 1) {
		t.Fatalf("expected burst of 2")
	}
	if l.Allow("k", 2, 1) {
		t.Fatalf("expected bucket to be empty")
	}
	now = now.Add(time.Second)
	if !l.Allow("k", 2, 1) {
		t.Fatalf("expected a token after one second")
	}
	if !l.Allow("other", 2, 1) {
		t.Fatalf("keys must not share buckets")
	}
}

func TestPrune(t *testing.T) {
	now := time.Unix(0, 0)
	l := New()
	l.now = func() time.Time { return now }
	l.Allow("a", 1, 1)
	now = now.Add(time.Hour)
	l.Allow("b", 1, 1)
	if n := l.Prune(time.Minute); n != 1 || l.Len() != 1 {
		t.Fatalf("expected one pruned key, got %d (len %d)", n, l.Len())
	}
}

func TestMiddlewareRejectsWith429(t *testing.T) {
	e := echo.New()
	l := New()
	e.POST("/x", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, Middleware(l, 1, 0.001))

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}
}
