package observability

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const metricNamespace = "github.com/cartworks/api/internal/platform/observability"

// RequestMetrics records per-request counters and latency histograms through
// the globally configured OpenTelemetry meter provider. Metric registration
// failures degrade to no-ops so a broken exporter never blocks traffic.
type RequestMetrics struct {
	duration        metric.Float64Histogram
	durationEnabled bool
	requests        metric.Int64Counter
	requestsEnabled bool
}

// NewRequestMetrics registers the HTTP server instruments.
func NewRequestMetrics(logger *zap.Logger) *RequestMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	meter := otel.GetMeterProvider().Meter(metricNamespace)

	duration, durationErr := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("HTTP request latency in milliseconds"),
	)
	if durationErr != nil {
		logger.Warn("observability: unable to register duration metric", zap.Error(durationErr))
	}

	requests, requestsErr := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("HTTP requests by route, method and status"),
	)
	if requestsErr != nil {
		logger.Warn("observability: unable to register request counter", zap.Error(requestsErr))
	}

	return &RequestMetrics{
		duration:        duration,
		durationEnabled: durationErr == nil,
		requests:        requests,
		requestsEnabled: requestsErr == nil,
	}
}

// Middleware records metrics for every request passing through.
func (m *RequestMetrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil || (!m.durationEnabled && !m.requestsEnabled) {
				next.ServeHTTP(w, r)
				return
			}

			recorder := newResponseRecorder(w)
			start := time.Now()
			next.ServeHTTP(recorder, r)

			attrs := metric.WithAttributes(
				attribute.String("http.route", SanitizeRoute(routePattern(r))),
				attribute.String("http.method", SanitizeMethod(r.Method)),
				attribute.Int("http.status", recorder.Status()),
			)
			ctx := r.Context()
			if m.requestsEnabled {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.durationEnabled {
				m.duration.Record(ctx, float64(time.Since(start))/float64(time.Millisecond), attrs)
			}
		})
	}
}
