package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok() Checker { return CheckerFunc(func(context.Context) error { return nil }) }

func failing(msg string) Checker {
	return CheckerFunc(func(context.Context) error { return errors.New(msg) })
}

func TestHandler_Live(t *testing.T) {
	h := NewHandler(nil, map[string]Checker{"db": failing("down")})

	rr := httptest.NewRecorder()
	h.Live(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rr.Body.String())
}

func TestHandler_Ready(t *testing.T) {
	tests := []struct {
		name       string
		checkers   map[string]Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "all healthy",
			checkers:   map[string]Checker{"db": ok(), "redis": ok()},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"db": "ok", "redis": "ok"},
		},
		{
			name:       "one failing",
			checkers:   map[string]Checker{"db": ok(), "redis": failing("connection refused")},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"db": "ok", "redis": "connection refused"},
		},
		{
			name:       "nil checkers are skipped",
			checkers:   map[string]Checker{"db": ok(), "redis": nil},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"db": "ok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(nil, tt.checkers)

			rr := httptest.NewRecorder()
			h.Ready(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			var report Report
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
			assert.Equal(t, tt.wantChecks, report.Checks)
		})
	}
}

func TestHandler_CheckTimeout(t *testing.T) {
	slow := CheckerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	h := NewHandler(nil, map[string]Checker{"slow": slow})
	h.timeout = 20 * time.Millisecond

	report := h.Check(context.Background())
	assert.Equal(t, "unavailable", report.Status)
	assert.Equal(t, context.DeadlineExceeded.Error(), report.Checks["slow"])
}
