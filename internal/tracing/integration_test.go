package tracing_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/onnwee/ecoscore/internal/aggregation"
	"github.com/onnwee/ecoscore/internal/middleware"
	"github.com/onnwee/ecoscore/internal/policy"
	"github.com/onnwee/ecoscore/internal/product"
	"github.com/onnwee/ecoscore/internal/tracing"
)

func ptr(v float64) *float64 { return &v }

func tvVertical(t *testing.T) *policy.Vertical {
	t.Helper()
	v := policy.Merge(policy.Defaults(), policy.Vertical{
		ID:         "tv",
		Attributes: []policy.AttributeRule{{Attribute: "power"}},
		Criteria: map[string]policy.Criterion{
			"POWER": {Method: "MINMAX_FIXED", FixedMin: ptr(0), FixedMax: ptr(200), LowerIsBetter: true},
		},
		Composite: policy.Composite{Weights: map[string]float64{"POWER": 1}},
	})
	if err := v.Validate(); err != nil {
		t.Fatalf("invalid vertical: %v", err)
	}
	return &v
}

func tvProducts() []*product.Product {
	var products []*product.Product
	for id, power := range map[string]string{"p1": "50", "p2": "150", "p3": "100"} {
		p := product.New(id, "tv")
		p.Attributes["power"] = power
		products = append(products, p)
	}
	return products
}

// scoreServer scores a fixed tv batch on POST /score/{vertical} behind the
// same middleware chain as the operations server.
func scoreServer(t *testing.T, engine *aggregation.Engine) http.Handler {
	t.Helper()
	vertical := tvVertical(t)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /score/{vertical}", func(w http.ResponseWriter, r *http.Request) {
		if _, err := engine.Run(r.Context(), vertical, tvProducts()); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return middleware.Tracing("ecoscore")(middleware.RequestID(middleware.Route(mux)))
}

func newEngine() *aggregation.Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return aggregation.NewEngine(aggregation.Config{Logger: logger, Workers: 2}, aggregation.DefaultProducers(nil)...)
}

func byName(spans []sdktrace.ReadOnlySpan) map[string]sdktrace.ReadOnlySpan {
	out := make(map[string]sdktrace.ReadOnlySpan, len(spans))
	for _, s := range spans {
		out[s.Name()] = s
	}
	return out
}

// TestScoreRequestTrace checks that a scoring request produces one trace:
// the route span, with the engine passes and producer hooks beneath it.
func TestScoreRequestTrace(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	rr := httptest.NewRecorder()
	scoreServer(t, newEngine()).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/score/tv", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	spans := byName(recorder.Ended())
	root, ok := spans["POST /score/{vertical}"]
	if !ok {
		t.Fatalf("missing route span, got %v", names(recorder.Ended()))
	}

	for _, name := range []string{"ecoscore.accumulate", "ecoscore.done"} {
		span, ok := spans[name]
		if !ok {
			t.Errorf("missing span %s", name)
			continue
		}
		if span.Parent().SpanID() != root.SpanContext().SpanID() {
			t.Errorf("%s is not a child of the route span", name)
		}
	}

	done := spans["ecoscore.done"]
	if done == nil {
		t.FailNow()
	}
	passes := []string{"ecoscore.backfill", "ecoscore.relativize", "ecoscore.rank"}
	for _, p := range aggregation.DefaultProducers(nil) {
		passes = append(passes, "ecoscore.finish."+p.Name())
	}
	for _, name := range passes {
		span, ok := spans[name]
		if !ok {
			t.Errorf("missing span %s", name)
			continue
		}
		if span.Parent().SpanID() != done.SpanContext().SpanID() {
			t.Errorf("%s is not a child of ecoscore.done", name)
		}
	}

	for name, span := range spans {
		if span.SpanContext().TraceID() != root.SpanContext().TraceID() {
			t.Errorf("%s left the request trace", name)
		}
	}

	attrs := make(map[string]string)
	for _, kv := range done.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["ecoscore.vertical"] != "tv" {
		t.Errorf("ecoscore.vertical = %q, want tv", attrs["ecoscore.vertical"])
	}
	if attrs["ecoscore.products"] != "3" {
		t.Errorf("ecoscore.products = %q, want 3", attrs["ecoscore.products"])
	}
	if attrs["ecoscore.run_id"] == "" {
		t.Error("ecoscore.done has no run ID")
	}
}

// TestCancelledScoreRequestMarksSpans checks that a request cancelled before
// scoring records the failure on the engine span.
func TestCancelledScoreRequestMarksSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/score/tv", nil).WithContext(ctx)
	rr := httptest.NewRecorder()
	scoreServer(t, newEngine()).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
	var failed bool
	for _, span := range recorder.Ended() {
		if strings.HasPrefix(span.Name(), "ecoscore.") && span.Status().Code == codes.Error {
			failed = true
		}
	}
	if !failed {
		t.Errorf("no ecoscore span recorded the cancellation, got %v", names(recorder.Ended()))
	}
}

// TestScoringWithTracingDisabled checks that a disabled provider leaves
// scoring intact.
func TestScoringWithTracingDisabled(t *testing.T) {
	provider, err := tracing.NewProvider(tracing.Config{ServiceName: "ecoscore", Enabled: false}, nil)
	if err != nil {
		t.Fatalf("failed to create disabled provider: %v", err)
	}
	if provider.IsEnabled() {
		t.Error("expected tracing to be disabled")
	}

	result, err := newEngine().Run(context.Background(), tvVertical(t), tvProducts())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Ranked[policy.DefaultCompositeName] != 3 {
		t.Errorf("ranked %v, want 3 composite scores", result.Ranked)
	}
}

func names(spans []sdktrace.ReadOnlySpan) []string {
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.Name()
	}
	return out
}
