package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthCheckHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	HealthCheckHandler()(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if status.Status != "healthy" {
		t.Errorf("Expected healthy, got %s", status.Status)
	}
	if status.Service != "asr-gateway" {
		t.Errorf("Expected asr-gateway, got %s", status.Service)
	}
}

func TestReadinessHandler_AllHealthy(t *testing.T) {
	checks := map[string]HealthCheckFunc{
		"backend": func(ctx context.Context) (bool, error) { return true, nil },
	}

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	ReadinessHandler(checks)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if status.Status != "ready" {
		t.Errorf("Expected ready, got %s", status.Status)
	}
	if status.Dependencies["backend"].Status != "healthy" {
		t.Errorf("Expected backend healthy, got %+v", status.Dependencies["backend"])
	}
}

func TestReadinessHandler_UnhealthyDependency(t *testing.T) {
	checks := map[string]HealthCheckFunc{
		"backend": func(ctx context.Context) (bool, error) {
			return false, errors.New("connection refused")
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	ReadinessHandler(checks)(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if status.Status != "not_ready" {
		t.Errorf("Expected not_ready, got %s", status.Status)
	}
	if status.Dependencies["backend"].Message == "" {
		t.Error("Expected failure message on unhealthy dependency")
	}
}

func TestReadinessHandler_NoChecks(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	ReadinessHandler(nil)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 with no checks, got %d", rec.Code)
	}
}
