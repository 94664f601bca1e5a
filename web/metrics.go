package web

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type httpMetrics struct {
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inflight        *prometheus.GaugeVec
}

func newHTTPMetrics(name string, r prometheus.Registerer) *httpMetrics {
	return &httpMetrics{
		requestCounter: register(r, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: name + "_requests_total",
				Help: "Total number of handled HTTP requests",
			},
			[]string{"method", "route", "status"},
		)),
		requestDuration: register(r, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)),
		inflight: register(r, prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: name + "_inflight_requests",
				Help: "Number of HTTP requests in progress",
			},
			[]string{"method", "route"},
		)),
	}
}

// register 注册采集器，同名采集器已存在时复用已有的
func register[T prometheus.Collector](r prometheus.Registerer, c T) T {
	if err := r.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// observe 为一次请求记录 span 和指标，fn 返回响应状态码
func (a *App) observe(ctx context.Context, meta *HandlerMeta, fn func(context.Context) int) {
	start := time.Now()

	var span trace.Span
	if a.tracer != nil {
		ctx, span = a.tracer.Start(ctx, meta.Method+" "+meta.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", meta.Method),
				attribute.String("http.route", meta.Path),
				attribute.String("code.function", meta.Func),
			),
		)
		defer span.End()
	}

	if a.metrics != nil {
		a.metrics.inflight.WithLabelValues(meta.Method, meta.Path).Inc()
		defer a.metrics.inflight.WithLabelValues(meta.Method, meta.Path).Dec()
	}

	status := fn(ctx)
	duration := time.Since(start)

	if span != nil {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= 500 {
			span.SetStatus(codes.Error, strconv.Itoa(status))
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	if a.metrics != nil {
		a.metrics.requestCounter.WithLabelValues(meta.Method, meta.Path, strconv.Itoa(status)).Inc()
		a.metrics.requestDuration.WithLabelValues(meta.Method, meta.Path).Observe(duration.Seconds())
	}
}
