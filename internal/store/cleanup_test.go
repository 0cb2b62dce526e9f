package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/ecoscore/internal/jobs"
)

type memPurger struct {
	mu      sync.Mutex
	deleted map[string]time.Time
	err     error
	calls   int
}

func (p *memPurger) PurgeDeleted(_ context.Context, before time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return 0, p.err
	}
	var n int64
	for id, at := range p.deleted {
		if at.Before(before) {
			delete(p.deleted, id)
			n++
		}
	}
	return n, nil
}

func (p *memPurger) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type purgeReporter struct {
	mu     sync.Mutex
	totals map[string]int
}

func (r *purgeReporter) IncJobsTotal(jobType, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totals[jobType+"/"+status]++
}
func (r *purgeReporter) ObserveJobDuration(string, float64) {}
func (r *purgeReporter) IncJobErrors(string, string)        {}

func (r *purgeReporter) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totals[key]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPurgeDeleted(t *testing.T) {
	purger := &memPurger{deleted: map[string]time.Time{
		"old":    time.Now().Add(-8 * 24 * time.Hour),
		"recent": time.Now().Add(-time.Hour),
	}}

	deleted, err := PurgeDeleted(context.Background(), purger, DefaultPurgeRetention, discardLogger())
	if err != nil {
		t.Fatalf("PurgeDeleted() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("PurgeDeleted() deleted = %d, want 1", deleted)
	}
	if _, ok := purger.deleted["recent"]; !ok {
		t.Error("recently deleted product should be kept")
	}
}

func TestPurgeDeleted_Error(t *testing.T) {
	purger := &memPurger{err: errors.New("connection reset")}

	deleted, err := PurgeDeleted(context.Background(), purger, time.Hour, nil)
	if err == nil {
		t.Fatal("PurgeDeleted() should return the purger error")
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0", deleted)
	}
}

func TestRunPeriodicPurge_RunsImmediatelyAndStops(t *testing.T) {
	purger := &memPurger{deleted: map[string]time.Time{}}
	reporter := &purgeReporter{totals: make(map[string]int)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunPeriodicPurge(ctx, purger, PurgeJobConfig{
			Interval:   10 * time.Millisecond,
			Logger:     discardLogger(),
			JobMetrics: reporter,
		})
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for purger.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunPeriodicPurge did not stop after cancellation")
	}

	if purger.callCount() < 2 {
		t.Errorf("purge calls = %d, want at least 2", purger.callCount())
	}
	if reporter.count(jobs.JobTypeProductPurge+"/"+jobs.StatusSuccess) < 2 {
		t.Errorf("job totals = %v", reporter.totals)
	}
}
