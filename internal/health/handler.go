// Package health provides health check implementations for external dependencies
// and the HTTP handlers reporting them.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// Checker reports whether a dependency is reachable.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

// HealthCheck calls f.
func (f CheckerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// DefaultTimeout bounds each readiness probe.
const DefaultTimeout = 2 * time.Second

// Report is the body of a readiness response.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves liveness and readiness probes over a set of named checkers.
type Handler struct {
	checkers map[string]Checker
	timeout  time.Duration
	logger   *slog.Logger
}

// NewHandler creates a Handler. Nil checkers are ignored so optional
// dependencies can be passed unconditionally.
func NewHandler(logger *slog.Logger, checkers map[string]Checker) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		checkers: make(map[string]Checker, len(checkers)),
		timeout:  DefaultTimeout,
		logger:   logger,
	}
	for name, c := range checkers {
		if c != nil {
			h.checkers[name] = c
		}
	}
	return h
}

// Check runs every checker concurrently and reports the outcome by name.
func (h *Handler) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]string, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			if err := c.HealthCheck(ctx); err != nil {
				results[i] = err.Error()
				return
			}
			results[i] = "ok"
		}(i, h.checkers[name])
	}
	wg.Wait()

	report := Report{Status: "ready", Checks: make(map[string]string, len(names))}
	for i, name := range names {
		report.Checks[name] = results[i]
		if results[i] != "ok" {
			report.Status = "unavailable"
		}
	}
	return report
}

// Live always answers 200: the process is up.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	h.write(w, http.StatusOK, Report{Status: "healthy"})
}

// Ready answers 200 when every dependency is reachable, 503 otherwise.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	report := h.Check(r.Context())
	status := http.StatusOK
	if report.Status != "ready" {
		status = http.StatusServiceUnavailable
		h.logger.Warn("readiness check failed", "checks", report.Checks)
	}
	h.write(w, status, report)
}

func (h *Handler) write(w http.ResponseWriter, status int, report Report) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		h.logger.Error("failed to write health response", "error", err)
	}
}
