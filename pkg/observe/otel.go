package observe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/timeplus-io/proton-go/pkg/errs"
)

const instrumentationName = "github.com/timeplus-io/proton-go"

// OtelConfig configures OtelHook.
type OtelConfig struct {
	// TracerProvider defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider

	EnableTracing    bool
	EnableMetrics    bool
	RecordExceptions bool

	// Attributes are added to every span.
	Attributes []attribute.KeyValue
}

func DefaultOtelConfig() OtelConfig {
	return OtelConfig{
		EnableTracing:    true,
		EnableMetrics:    true,
		RecordExceptions: true,
	}
}

// OtelHook opens a client span per request and records a request counter
// and a duration histogram.
type OtelHook struct {
	cfg      OtelConfig
	tracer   trace.Tracer
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

func NewOtelHook(cfg OtelConfig) (*OtelHook, error) {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}

	h := &OtelHook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}
	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		var err error
		h.requests, err = meter.Int64Counter("db.client.requests",
			metric.WithUnit("{request}"),
			metric.WithDescription("Number of dispatched requests"),
		)
		if err != nil {
			return nil, fmt.Errorf("observe: request counter: %w", err)
		}
		h.duration, err = meter.Float64Histogram("db.client.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of dispatched requests"),
		)
		if err != nil {
			return nil, fmt.Errorf("observe: duration histogram: %w", err)
		}
	}
	return h, nil
}

type spanToken struct {
	span  trace.Span
	start time.Time
}

func (h *OtelHook) OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, Token) {
	if !h.cfg.EnableTracing {
		return ctx, &spanToken{start: time.Now()}
	}

	attrs := []attribute.KeyValue{
		attribute.String("db.system", "proton"),
		attribute.String("db.proton.query_id", info.QueryID),
		attribute.String("db.proton.format", info.Format),
		attribute.String("db.operation", info.Mode),
		attribute.String("server.address", info.Node),
		attribute.String("network.protocol.name", info.Protocol),
	}
	if info.Session != "" {
		attrs = append(attrs, attribute.String("db.proton.session_id", info.Session))
	}
	attrs = append(attrs, h.cfg.Attributes...)

	ctx, span := h.tracer.Start(ctx, "proton/"+info.Mode,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return ctx, &spanToken{span: span, start: time.Now()}
}

func (h *OtelHook) OnDispatchEnd(ctx context.Context, token Token, info DispatchInfo, stats *Stats, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	if h.cfg.EnableMetrics {
		attrs := metric.WithAttributes(
			attribute.String("db.system", "proton"),
			attribute.String("db.operation", info.Mode),
			attribute.String("server.address", info.Node),
			attribute.String("status", status),
		)
		h.requests.Add(ctx, 1, attrs)
		h.duration.Record(ctx, time.Since(st.start).Seconds(), attrs)
	}

	if st.span == nil {
		return
	}
	if st.span.IsRecording() {
		if stats != nil {
			st.span.SetAttributes(
				attribute.Int64("db.proton.read_rows", int64(stats.ReadRows)),
				attribute.Int64("db.proton.read_bytes", int64(stats.ReadBytes)),
				attribute.Int64("db.proton.written_rows", int64(stats.WrittenRows)),
				attribute.Int64("db.proton.written_bytes", int64(stats.WrittenBytes)),
				attribute.Int64("db.proton.result_rows", int64(stats.ResultRows)),
			)
		}
		if err != nil {
			st.span.SetStatus(codes.Error, err.Error())
			if h.cfg.RecordExceptions {
				st.span.RecordError(err)
			}
			st.span.SetAttributes(attribute.String("error.type", errorType(err)))
		} else {
			st.span.SetStatus(codes.Ok, "")
		}
	}
	st.span.End()
}

func errorType(err error) string {
	var ce *errs.ConnectionError
	if errors.As(err, &ce) {
		return ce.Kind.String()
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return fmt.Sprintf("%T", err)
}

var _ DispatchHook = (*OtelHook)(nil)
