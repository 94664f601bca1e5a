package rdb

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type poolMetrics struct {
	statementCounter  *prometheus.CounterVec
	statementDuration *prometheus.HistogramVec
	inflight          *prometheus.GaugeVec
}

func newPoolMetrics(name string, r prometheus.Registerer) *poolMetrics {
	return &poolMetrics{
		statementCounter: register(r, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: name + "_statements_total",
				Help: "Total number of executed SQL statements",
			},
			[]string{"operation", "status"},
		)),
		statementDuration: register(r, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_statement_duration_seconds",
				Help:    "Duration of SQL statements in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"operation"},
		)),
		inflight: register(r, prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: name + "_inflight_statements",
				Help: "Number of SQL statements in progress",
			},
			[]string{"operation"},
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

// observe 为一次语句执行记录 span 和指标
func (p *Pool) observe(ctx context.Context, operation string, query string, fn func(context.Context) error) error {
	start := time.Now()

	var span trace.Span
	if p.tracer != nil {
		ctx, span = p.tracer.Start(ctx, "rdb."+operation,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("db.system", p.dialect.Name()),
				attribute.String("db.statement", query),
				attribute.String("component", p.name),
			),
		)
		defer span.End()
	}

	if p.metrics != nil {
		p.metrics.inflight.WithLabelValues(operation).Inc()
		defer p.metrics.inflight.WithLabelValues(operation).Dec()
	}

	err := fn(ctx)
	duration := time.Since(start)

	if span != nil {
		span.SetAttributes(attribute.Int64("duration_ms", duration.Milliseconds()))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.statementCounter.WithLabelValues(operation, status).Inc()
		p.metrics.statementDuration.WithLabelValues(operation).Observe(duration.Seconds())
	}

	if err != nil {
		p.logger.ErrorContext(ctx, "statement failed", "operation", operation, "duration_ms", duration.Milliseconds(), "error", err.Error())
	}

	return err
}
