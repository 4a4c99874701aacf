package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"xs2event-gateway/internal/config"
)

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealthz(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewHealthHandler(&config.Config{}, "test", fakePinger{})
	if err := h.Healthz(c); err != nil {
		t.Fatalf("Healthz() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestStatus(t *testing.T) {
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{BaseURL: "https://api.xs2event.com/v1"},
	}

	tests := []struct {
		name       string
		pingErr    error
		wantCode   int
		wantStatus string
		wantStore  string
	}{
		{"store reachable", nil, http.StatusOK, "ok", "ok"},
		{"store down", errors.New("database is closed"), http.StatusServiceUnavailable, "degraded", "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/gateway/status", http.NoBody)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			h := NewHealthHandler(cfg, "1.2.3", fakePinger{err: tt.pingErr})
			if err := h.Status(c); err != nil {
				t.Fatalf("Status() error = %v", err)
			}

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}

			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if body["status"] != tt.wantStatus {
				t.Errorf("body.status = %q, want %q", body["status"], tt.wantStatus)
			}
			if body["rule_store"] != tt.wantStore {
				t.Errorf("body.rule_store = %q, want %q", body["rule_store"], tt.wantStore)
			}
			if body["version"] != "1.2.3" {
				t.Errorf("body.version = %q, want %q", body["version"], "1.2.3")
			}
			if body["upstream_url"] != "https://api.xs2event.com/v1" {
				t.Errorf("body.upstream_url = %q, want %q", body["upstream_url"], "https://api.xs2event.com/v1")
			}
		})
	}
}
