package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"taskreview/api/internal/store"
)

// pingStore is a memory store whose Ping can be made to fail.
type pingStore struct {
	*store.MemoryStore
	pingFn func(context.Context) error
}

func (p *pingStore) Ping(ctx context.Context) error {
	if p.pingFn != nil {
		return p.pingFn(ctx)
	}
	return nil
}

func newHealthServer(pingFn func(context.Context) error) *HTTPServer {
	st := &pingStore{MemoryStore: store.NewMemoryStore(), pingFn: pingFn}
	return NewHTTPServer(New(st, zerolog.Nop()), "*", zerolog.Nop(), nil, nil)
}

func TestHealthEndpoint(t *testing.T) {
	server := newHealthServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestReadyEndpoint_Success(t *testing.T) {
	server := newHealthServer(func(context.Context) error { return nil })

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if status, exists := response["status"]; !exists || status != "ready" {
		t.Errorf("expected status=ready, got %v", status)
	}

	checks, exists := response["checks"].(map[string]any)
	if !exists {
		t.Fatalf("expected checks object, got %v", response["checks"])
	}
	dbCheck, exists := checks["database"].(map[string]any)
	if !exists {
		t.Fatalf("expected database check, got %v", checks["database"])
	}
	if dbStatus := dbCheck["status"]; dbStatus != "ok" {
		t.Errorf("expected database status=ok, got %v", dbStatus)
	}
}

func TestReadyEndpoint_DatabaseFailure(t *testing.T) {
	server := newHealthServer(func(context.Context) error {
		return errors.New("connection refused")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if ok := response["ok"]; ok != false {
		t.Errorf("expected ok=false, got %v", ok)
	}
	if status := response["status"]; status != "not_ready" {
		t.Errorf("expected status=not_ready, got %v", status)
	}

	checks, _ := response["checks"].(map[string]any)
	dbCheck, _ := checks["database"].(map[string]any)
	if dbCheck["status"] != "error" {
		t.Errorf("expected database status=error, got %v", dbCheck["status"])
	}
	if dbCheck["error"] != "connection refused" {
		t.Errorf("expected database error to be reported, got %v", dbCheck["error"])
	}
}

func TestPreflightAndCORSHeaders(t *testing.T) {
	server := NewHTTPServer(New(store.NewMemoryStore(), zerolog.Nop()), "https://review.example", zerolog.Nop(), nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/tasks", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", rr.Code)
	}
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "https://review.example" {
		t.Errorf("expected configured origin, got %q", origin)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated request id")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("expected request id to be echoed, got %q", got)
	}
}
