package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"dework/observability"
	dwotel "dework/observability/otel"
)

type ObservabilityConfig struct {
	ServiceName string
	LogRequests bool
}

// Observability records a span, request metrics and an access log line.
type Observability struct {
	cfg     ObservabilityConfig
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics interface {
		Observe(module, method string, status int, duration time.Duration)
	}
}

func NewObservability(cfg ObservabilityConfig, logger *slog.Logger) *Observability {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "gateway"
	}
	return &Observability{
		cfg:     cfg,
		logger:  logger,
		tracer:  dwotel.Tracer(cfg.ServiceName),
		metrics: observability.Gateway(),
	}
}

// Middleware labels metrics with module and the matched chi route pattern.
func (o *Observability) Middleware(module string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := o.tracer.Start(r.Context(), module, trace.WithAttributes(
				attribute.String("http.method", r.Method),
			))
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r.WithContext(ctx))
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.status_code", recorder.status),
			)
			span.End()
			duration := time.Since(start)
			o.metrics.Observe(module, r.Method+" "+route, recorder.status, duration)
			if o.cfg.LogRequests {
				o.logger.InfoContext(ctx, "request",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Int("status", recorder.status),
					slog.String("requestid", RequestIDFrom(r.Context())),
					slog.Duration("duration", duration),
				)
			}
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController and websocket hijacking reach the
// underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }
