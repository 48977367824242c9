package logging

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_Levels(t *testing.T) {
	for _, level := range []string{"", "info", "debug", "warn", "error"} {
		if _, err := NewLogger(level); err != nil {
			t.Errorf("%q: %v", level, err)
		}
	}
	if _, err := NewLogger("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		want   zapcore.Level
	}{
		{http.StatusOK, zapcore.InfoLevel},
		{http.StatusNotFound, zapcore.WarnLevel},
		{http.StatusServiceUnavailable, zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		core, logs := observer.New(zapcore.DebugLevel)
		h := Middleware(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/me", nil))

		entries := logs.All()
		if len(entries) != 1 {
			t.Fatalf("status %d: expected 1 entry, got %d", tt.status, len(entries))
		}
		if entries[0].Level != tt.want {
			t.Errorf("status %d: level = %s, want %s", tt.status, entries[0].Level, tt.want)
		}
		if got := entries[0].ContextMap()["path"]; got != "/api/v1/me" {
			t.Errorf("path = %v", got)
		}
	}
}
