package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newLimitedEcho() *echo.Echo {
	e := echo.New()
	// 1 request per second with a burst of 1: the second request is rejected.
	e.Use(RateLimiter(1, slog.New(slog.NewTextHandler(io.Discard, nil))))
	ok := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	e.GET("/pricing/markup", ok)
	e.GET("/healthz", ok)
	return e
}

func TestRateLimiter_RejectsAfterBurst(t *testing.T) {
	e := newLimitedEcho()

	req := httptest.NewRequest(http.MethodGet, "/pricing/markup", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want %d", rec.Code, http.StatusOK)
	}

	var limited *httptest.ResponseRecorder
	for i := 0; i < 10; i++ {
		rec = httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pricing/markup", http.NoBody))
		if rec.Code == http.StatusTooManyRequests {
			limited = rec
			break
		}
	}
	if limited == nil {
		t.Fatal("expected at least one 429 response after burst, got none")
	}
	if v := limited.Header().Get("Retry-After"); v != "1" {
		t.Errorf("Retry-After = %q, want %q", v, "1")
	}
	if body := limited.Body.String(); body != "{\"error\":\"rate limit exceeded\"}\n" {
		t.Errorf("body = %q, want JSON rate limit error", body)
	}
}

func TestRateLimiter_SkipsHealthProbes(t *testing.T) {
	e := newLimitedEcho()

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
		if rec.Code != http.StatusOK {
			t.Fatalf("probe %d: status = %d, want %d", i, rec.Code, http.StatusOK)
		}
	}
}
