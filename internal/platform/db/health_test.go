package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func runServiceHealth(t *testing.T, p Pinger) map[string]interface{} {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := ServiceHealthHandler(p, "1.0.0")(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestServiceHealth_Connected(t *testing.T) {
	body := runServiceHealth(t, stubPinger{})
	if body["database"] != "connected" {
		t.Errorf("expected connected, got %v", body["database"])
	}
	if body["version"] != "1.0.0" {
		t.Errorf("expected version 1.0.0, got %v", body["version"])
	}
}

func TestServiceHealth_Disconnected(t *testing.T) {
	body := runServiceHealth(t, stubPinger{err: errors.New("connection refused")})
	if body["database"] != "disconnected" {
		t.Errorf("expected disconnected, got %v", body["database"])
	}
	if body["status"] != "healthy" {
		t.Errorf("expected service status healthy, got %v", body["status"])
	}
}

func TestServiceHealth_NilPinger(t *testing.T) {
	body := runServiceHealth(t, nil)
	if body["database"] != "disconnected" {
		t.Errorf("expected disconnected, got %v", body["database"])
	}
}
