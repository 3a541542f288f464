package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/goleak"

	"github.com/timeplus-io/proton-go/pkg/errs"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var info = DispatchInfo{
	QueryID:  "q-1",
	Node:     "127.0.0.1:8123",
	Protocol: "http",
	Format:   "RowBinaryWithNamesAndTypes",
	Mode:     "query",
}

type otelFixture struct {
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
	hook   *OtelHook
}

func newOtel(t *testing.T, cfg OtelConfig) *otelFixture {
	t.Helper()
	f := &otelFixture{
		spans:  tracetest.NewSpanRecorder(),
		reader: sdkmetric.NewManualReader(),
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(f.spans))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(f.reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})
	cfg.TracerProvider = tp
	cfg.MeterProvider = mp

	var err error
	f.hook, err = NewOtelHook(cfg)
	require.NoError(t, err)
	return f
}

func (f *otelFixture) requests(t *testing.T) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, f.reader.Collect(context.Background(), &rm))

	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "db.client.requests" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				status, _ := dp.Attributes.Value("status")
				out[status.AsString()] += dp.Value
			}
		}
	}
	return out
}

func attrMap(kvs []attribute.KeyValue) map[string]string {
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		m[string(kv.Key)] = kv.Value.Emit()
	}
	return m
}

func TestOtelHook_Success(t *testing.T) {
	f := newOtel(t, DefaultOtelConfig())

	ctx, tok := f.hook.OnDispatchStart(context.Background(), info)
	assert.True(t, trace.SpanContextFromContext(ctx).IsValid())
	f.hook.OnDispatchEnd(ctx, tok, info, &Stats{ReadRows: 10, ResultRows: 2}, nil)

	ended := f.spans.Ended()
	require.Len(t, ended, 1)
	span := ended[0]
	assert.Equal(t, "proton/query", span.Name())
	assert.Equal(t, trace.SpanKindClient, span.SpanKind())
	assert.Equal(t, codes.Ok, span.Status().Code)

	attrs := attrMap(span.Attributes())
	assert.Equal(t, "proton", attrs["db.system"])
	assert.Equal(t, "q-1", attrs["db.proton.query_id"])
	assert.Equal(t, "127.0.0.1:8123", attrs["server.address"])
	assert.Equal(t, "http", attrs["network.protocol.name"])
	assert.Equal(t, "RowBinaryWithNamesAndTypes", attrs["db.proton.format"])
	assert.Equal(t, "10", attrs["db.proton.read_rows"])

	assert.Equal(t, map[string]int64{"ok": 1}, f.requests(t))
}

func TestOtelHook_Error(t *testing.T) {
	f := newOtel(t, DefaultOtelConfig())

	err := errs.Classify("127.0.0.1:8123", errs.ErrProtocol)
	ctx, tok := f.hook.OnDispatchStart(context.Background(), info)
	f.hook.OnDispatchEnd(ctx, tok, info, nil, err)

	span := f.spans.Ended()[0]
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Equal(t, "protocol", attrMap(span.Attributes())["error.type"])
	require.Len(t, span.Events(), 1)
	assert.Equal(t, "exception", span.Events()[0].Name)

	assert.Equal(t, map[string]int64{"error": 1}, f.requests(t))
}

func TestOtelHook_Disabled(t *testing.T) {
	f := newOtel(t, OtelConfig{})

	ctx, tok := f.hook.OnDispatchStart(context.Background(), info)
	assert.False(t, trace.SpanContextFromContext(ctx).IsValid())
	f.hook.OnDispatchEnd(ctx, tok, info, nil, nil)

	assert.Empty(t, f.spans.Ended())
	assert.Empty(t, f.requests(t))

	// A foreign token is ignored.
	f.hook.OnDispatchEnd(ctx, "nope", info, nil, nil)
}

func TestErrorType(t *testing.T) {
	assert.Equal(t, "cancelled", errorType(context.Canceled))
	assert.Equal(t, "timeout", errorType(errs.Classify("n", context.DeadlineExceeded)))
	assert.Equal(t, "*errors.errorString", errorType(errors.New("x")))
}

type recordingHook struct {
	name string
	log  *[]string
}

func (h recordingHook) OnDispatchStart(ctx context.Context, _ DispatchInfo) (context.Context, Token) {
	*h.log = append(*h.log, "start "+h.name)
	return ctx, h.name
}

func (h recordingHook) OnDispatchEnd(_ context.Context, tok Token, _ DispatchInfo, _ *Stats, _ error) {
	*h.log = append(*h.log, "end "+h.name+" "+tok.(string))
}

func TestChain(t *testing.T) {
	var log []string
	a := recordingHook{"a", &log}
	b := recordingHook{"b", &log}

	h := Chain(a, nil, Nop{}, Chain(b))
	ctx, tok := h.OnDispatchStart(context.Background(), info)
	h.OnDispatchEnd(ctx, tok, info, nil, nil)
	assert.Equal(t, []string{"start a", "start b", "end b b", "end a a"}, log)

	assert.Equal(t, Nop{}, Chain())
	assert.Equal(t, a, Chain(nil, a))
}

func TestLogHook(t *testing.T) {
	var buf bytes.Buffer
	h := NewLogHook(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	ctx, tok := h.OnDispatchStart(context.Background(), info)
	h.OnDispatchEnd(ctx, tok, info, &Stats{ReadRows: 3}, nil)
	assert.Contains(t, buf.String(), "request done")
	assert.Contains(t, buf.String(), "read_rows=3")
	assert.Contains(t, buf.String(), "elapsed=")

	buf.Reset()
	h.OnDispatchEnd(ctx, tok, info, nil, errors.New("boom"))
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "err=boom")
}
