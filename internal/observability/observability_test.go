package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"info", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "info", false)

	logger.Debug().Msg("hidden")
	logger.Info().Str("session_id", "s-1").Msg("visible")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if entry["session_id"] != "s-1" || entry["message"] != "visible" {
		t.Errorf("unexpected log entry %v", entry)
	}
}

func TestReadinessHandler(t *testing.T) {
	healthy := func(ctx context.Context) (bool, error) { return true, nil }
	failing := func(ctx context.Context) (bool, error) { return false, errors.New("dial refused") }

	tests := []struct {
		name     string
		checks   map[string]HealthCheckFunc
		wantCode int
	}{
		{"all healthy", map[string]HealthCheckFunc{"deepgram": healthy, "classifier": healthy}, http.StatusOK},
		{"one failing", map[string]HealthCheckFunc{"deepgram": healthy, "classifier": failing}, http.StatusServiceUnavailable},
		{"nil skipped", map[string]HealthCheckFunc{"deepgram": healthy, "redis": nil}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ReadinessHandler(tt.checks)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("expected status %d, got %d", tt.wantCode, rec.Code)
			}

			var status HealthStatus
			if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
				t.Fatalf("invalid body: %v", err)
			}
			if _, ok := status.Dependencies["redis"]; ok {
				t.Error("nil check should not be reported")
			}
			if dep, ok := status.Dependencies["classifier"]; ok && tt.wantCode != http.StatusOK {
				if dep.Status != "unhealthy" || dep.Message != "dial refused" {
					t.Errorf("unexpected classifier status %+v", dep)
				}
			}
		})
	}
}

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q", ct)
	}
}
