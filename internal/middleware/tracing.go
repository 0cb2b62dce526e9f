package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tracing wraps handlers with an otelhttp span per request. Incoming W3C
// traceparent headers are honored, so a recompute triggered by an upstream
// service joins the caller's trace.
//
// The span starts as "METHOD /path"; Route renames it once the mux matched.
func Tracing(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	}
}

// Route names the request span after the ServeMux pattern that served it,
// e.g. "POST /score/{vertical}", so spans group per route instead of per
// vertical. It must wrap the mux directly: the mux records the pattern on
// the request it was handed.
func Route(mux http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r)
		if r.Pattern == "" {
			return
		}
		route := r.Pattern
		name := route
		if method, path, ok := strings.Cut(route, " "); ok && method != "" {
			route = path
		} else {
			name = r.Method + " " + route
		}
		span := trace.SpanFromContext(r.Context())
		span.SetName(name)
		span.SetAttributes(attribute.String("http.route", route))
	})
}

// TraceID returns the trace ID of the active span, or "" when none is.
func TraceID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}
	return ""
}
