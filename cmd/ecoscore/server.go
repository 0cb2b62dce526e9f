package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/onnwee/ecoscore/internal/aggregation"
	"github.com/onnwee/ecoscore/internal/cache"
	"github.com/onnwee/ecoscore/internal/health"
	"github.com/onnwee/ecoscore/internal/jobs"
	"github.com/onnwee/ecoscore/internal/middleware"
	"github.com/onnwee/ecoscore/internal/policy"
	"github.com/onnwee/ecoscore/internal/ranking"
	"github.com/onnwee/ecoscore/internal/recompute"
)

const serviceName = "ecoscore"

// Error codes of the operations API.
const (
	errCodeNotFound        = "not_found"
	errCodeBadRequest      = "bad_request"
	errCodeInternal        = "internal_error"
	errCodeUnavailable     = "unavailable"
	errCodeRecomputeFailed = "recompute_failed"
	errCodeScoreFailed     = "score_failed"
)

const (
	defaultRankingLimit = 100
	maxRankingLimit     = 1000
	maxBatchBytes       = 32 << 20
)

// errorResponse is the body of every error: {"error": {"code": "...", "message": "..."}}.
type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type recomputer interface {
	Recompute(ctx context.Context, vertical string) (*aggregation.Result, error)
}

type rankingCache interface {
	Get(ctx context.Context, vertical, score string) (ranking.Snapshot, error)
	Publish(ctx context.Context, snap ranking.Snapshot) error
	Invalidate(ctx context.Context, vertical string) (int64, error)
}

type rankingStore interface {
	Ranking(ctx context.Context, vertical, score string, limit int) (ranking.Snapshot, error)
}

// opsServer serves health, metrics, rankings and manual recompute
// triggers. cache, store and jobMetrics are optional.
type opsServer struct {
	logger     *slog.Logger
	registry   *policy.Registry
	engine     *aggregation.Engine
	job        recomputer
	dirty      *recompute.DirtyTracker
	cache      rankingCache
	store      rankingStore
	jobMetrics jobs.Reporter
	health     *health.Handler
	metrics    http.Handler
}

func (s *opsServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health.Live)
	mux.HandleFunc("GET /ready", s.health.Ready)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	mux.HandleFunc("GET /verticals", s.handleVerticals)
	mux.HandleFunc("GET /rankings/{vertical}", s.handleRanking)
	mux.HandleFunc("DELETE /rankings/{vertical}", s.handleInvalidate)
	mux.HandleFunc("POST /recompute/{vertical}", s.handleRecompute)
	mux.HandleFunc("POST /score/{vertical}", s.handleScore)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r.Context(), http.StatusNotFound, errCodeNotFound, "The requested resource was not found")
	})

	// Tracing -> RequestID -> Logging -> Route
	return middleware.Tracing(serviceName)(middleware.RequestID(middleware.Logging(s.logger)(middleware.Route(mux))))
}

type verticalStatus struct {
	ID        string `json:"id"`
	Composite string `json:"composite"`
	Dirty     bool   `json:"dirty"`
}

func (s *opsServer) handleVerticals(w http.ResponseWriter, r *http.Request) {
	ids := s.registry.IDs()
	out := make([]verticalStatus, 0, len(ids))
	for _, id := range ids {
		v, err := s.registry.Get(id)
		if err != nil {
			continue
		}
		out = append(out, verticalStatus{ID: id, Composite: v.CompositeName(), Dirty: s.dirty.IsDirty(id)})
	}
	s.writeJSON(w, r.Context(), http.StatusOK, out)
}

// resolveVertical looks up the path vertical, answering 404 when unknown.
func (s *opsServer) resolveVertical(w http.ResponseWriter, r *http.Request) (*policy.Vertical, context.Context, bool) {
	id := r.PathValue("vertical")
	ctx := middleware.SetVertical(r.Context(), id)
	middleware.UpdateResponseContext(w, ctx)

	v, err := s.registry.Get(id)
	if err != nil {
		s.writeError(w, ctx, http.StatusNotFound, errCodeNotFound, "Unknown vertical "+strconv.Quote(id))
		return nil, ctx, false
	}
	return v, ctx, true
}

func (s *opsServer) handleRanking(w http.ResponseWriter, r *http.Request) {
	v, ctx, ok := s.resolveVertical(w, r)
	if !ok {
		return
	}

	score := r.URL.Query().Get("score")
	if score == "" {
		score = v.CompositeName()
	}
	limit := defaultRankingLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRankingLimit {
			s.writeError(w, ctx, http.StatusBadRequest, errCodeBadRequest,
				"limit must be an integer between 1 and "+strconv.Itoa(maxRankingLimit))
			return
		}
		limit = n
	}

	snap, source, err := s.lookupRanking(ctx, v.ID, score)
	if err != nil {
		s.log(ctx).ErrorContext(ctx, "ranking lookup failed", "vertical", v.ID, "score", score, "error", err)
		s.writeError(w, ctx, http.StatusServiceUnavailable, errCodeUnavailable, "Ranking storage is unavailable")
		return
	}
	if len(snap.Entries) == 0 {
		s.writeError(w, ctx, http.StatusNotFound, errCodeNotFound, "No ranking published for "+score)
		return
	}

	snap.Entries = snap.Top(limit)
	w.Header().Set("X-Ranking-Source", source)
	s.writeJSON(w, ctx, http.StatusOK, snap)
}

// lookupRanking reads the cache first and falls back to the store, warming
// the cache with what the store returned.
func (s *opsServer) lookupRanking(ctx context.Context, vertical, score string) (ranking.Snapshot, string, error) {
	if s.cache != nil {
		snap, err := s.cache.Get(ctx, vertical, score)
		if err == nil {
			return snap, "cache", nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log(ctx).WarnContext(ctx, "ranking cache unavailable", "vertical", vertical, "error", err)
		}
	}
	if s.store == nil {
		return ranking.Snapshot{}, "", nil
	}

	snap, err := s.store.Ranking(ctx, vertical, score, 0)
	if err != nil {
		return ranking.Snapshot{}, "", err
	}
	if s.cache != nil && len(snap.Entries) > 0 {
		if err := s.cache.Publish(ctx, snap); err != nil {
			s.log(ctx).WarnContext(ctx, "failed to warm ranking cache", "vertical", vertical, "score", score, "error", err)
		}
	}
	return snap, "store", nil
}

func (s *opsServer) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	v, ctx, ok := s.resolveVertical(w, r)
	if !ok {
		return
	}
	if s.cache == nil {
		s.writeError(w, ctx, http.StatusNotFound, errCodeNotFound, "No ranking cache configured")
		return
	}

	start := time.Now()
	n, err := s.cache.Invalidate(ctx, v.ID)
	s.observeJob(jobs.JobTypeCacheInvalidate, start, err, jobs.ErrorTypePublish)
	if err != nil {
		s.log(ctx).ErrorContext(ctx, "ranking cache invalidation failed", "vertical", v.ID, "error", err)
		s.writeError(w, ctx, http.StatusServiceUnavailable, errCodeUnavailable, "Ranking cache is unavailable")
		return
	}

	s.log(ctx).InfoContext(ctx, "ranking cache invalidated", "vertical", v.ID, "keys", n)
	s.writeJSON(w, ctx, http.StatusOK, map[string]int64{"invalidated": n})
}

func (s *opsServer) handleRecompute(w http.ResponseWriter, r *http.Request) {
	v, ctx, ok := s.resolveVertical(w, r)
	if !ok {
		return
	}

	startedAt := time.Now()
	result, err := s.job.Recompute(ctx, v.ID)
	if err != nil {
		s.dirty.MarkDirty(v.ID)
		s.writeError(w, ctx, http.StatusInternalServerError, errCodeRecomputeFailed, err.Error())
		return
	}
	s.dirty.ClearDirtyBefore(v.ID, startedAt)
	summary := summarize(result)
	summary.RequestID = middleware.GetRequestID(ctx)
	s.log(ctx).InfoContext(ctx, "recompute triggered", "vertical", v.ID, "run_id", result.RunID)
	s.writeJSON(w, ctx, http.StatusOK, summary)
}

// handleScore scores a posted product batch without persisting it.
func (s *opsServer) handleScore(w http.ResponseWriter, r *http.Request) {
	v, ctx, ok := s.resolveVertical(w, r)
	if !ok {
		return
	}

	start := time.Now()
	products, err := decodeBatch(http.MaxBytesReader(w, r.Body, maxBatchBytes), v.ID)
	if err != nil {
		s.writeError(w, ctx, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}

	result, err := s.engine.Run(ctx, v, products)
	s.observeJob(jobs.JobTypeBatchScore, start, err, jobs.ErrorTypeScore)
	if err != nil {
		s.log(ctx).ErrorContext(ctx, "batch scoring failed", "vertical", v.ID, "error", err)
		s.writeError(w, ctx, http.StatusUnprocessableEntity, errCodeScoreFailed, err.Error())
		return
	}
	summary := summarize(result)
	summary.RequestID = middleware.GetRequestID(ctx)
	s.log(ctx).InfoContext(ctx, "batch scored", "vertical", v.ID, "run_id", result.RunID, "products", result.Products)
	s.writeJSON(w, ctx, http.StatusOK, batchOutput{Summary: summary, Products: products})
}

// log scopes the server logger to the request ID, so handler lines can be
// joined with the request log and the run summary.
func (s *opsServer) log(ctx context.Context) *slog.Logger {
	if id := middleware.GetRequestID(ctx); id != "" {
		return s.logger.With("request_id", id)
	}
	return s.logger
}

func (s *opsServer) observeJob(jobType string, start time.Time, err error, errorType string) {
	if s.jobMetrics == nil {
		return
	}
	status := jobs.StatusSuccess
	if err != nil {
		status = jobs.StatusFailure
		s.jobMetrics.IncJobErrors(jobType, errorType)
	}
	s.jobMetrics.IncJobsTotal(jobType, status)
	s.jobMetrics.ObserveJobDuration(jobType, time.Since(start).Seconds())
}

func (s *opsServer) writeJSON(w http.ResponseWriter, ctx context.Context, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		s.log(ctx).ErrorContext(ctx, "failed to marshal response", "error", err)
		s.writeError(w, ctx, http.StatusInternalServerError, errCodeInternal, "Internal server error")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		s.log(ctx).ErrorContext(ctx, "failed to write response", "error", err)
	}
}

// writeError writes the standard error body and hands the error code to
// the logging middleware.
func (s *opsServer) writeError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	ctx = middleware.SetErrorCode(ctx, code)
	middleware.UpdateResponseContext(w, ctx)

	data, err := json.Marshal(errorResponse{Error: errorDetail{Code: code, Message: message}})
	if err != nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		s.log(ctx).ErrorContext(ctx, "failed to write error response", "error", err)
	}
}
