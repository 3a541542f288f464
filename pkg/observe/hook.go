// Package observe provides callpoints around request dispatch and an
// OpenTelemetry implementation of them.
package observe

import (
	"context"
	"log/slog"
	"time"
)

// DispatchHook is called around every dispatched request. Implementations
// must be safe for concurrent use.
type DispatchHook interface {
	OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, Token)
	OnDispatchEnd(ctx context.Context, token Token, info DispatchInfo, stats *Stats, err error)
}

// Token is returned by OnDispatchStart and handed back to OnDispatchEnd. Only
// the hook that created it understands it.
type Token any

// DispatchInfo describes one request.
type DispatchInfo struct {
	QueryID  string
	Node     string // host:port
	Protocol string
	Format   string
	Mode     string // query or mutation
	Session  string
}

// Stats are the server-reported counters of a finished request.
type Stats struct {
	ReadRows     uint64
	ReadBytes    uint64
	WrittenRows  uint64
	WrittenBytes uint64
	ResultRows   uint64
}

// Nop does nothing.
type Nop struct{}

func (Nop) OnDispatchStart(ctx context.Context, _ DispatchInfo) (context.Context, Token) {
	return ctx, nil
}

func (Nop) OnDispatchEnd(context.Context, Token, DispatchInfo, *Stats, error) {}

// LogHook writes one record per finished request: Debug on success, Warn on
// failure.
type LogHook struct {
	Logger *slog.Logger
}

func NewLogHook(logger *slog.Logger) *LogHook {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogHook{Logger: logger}
}

func (h *LogHook) OnDispatchStart(ctx context.Context, _ DispatchInfo) (context.Context, Token) {
	return ctx, time.Now()
}

func (h *LogHook) OnDispatchEnd(ctx context.Context, token Token, info DispatchInfo, stats *Stats, err error) {
	attrs := []any{
		"query_id", info.QueryID,
		"node", info.Node,
		"protocol", info.Protocol,
		"mode", info.Mode,
	}
	if start, ok := token.(time.Time); ok {
		attrs = append(attrs, "elapsed", time.Since(start))
	}
	if err != nil {
		h.Logger.WarnContext(ctx, "request failed", append(attrs, "err", err)...)
		return
	}
	if stats != nil {
		attrs = append(attrs, "read_rows", stats.ReadRows, "written_rows", stats.WrittenRows)
	}
	h.Logger.DebugContext(ctx, "request done", attrs...)
}

// Chain calls hooks in order on start and in reverse order on end.
func Chain(hooks ...DispatchHook) DispatchHook {
	var flat []DispatchHook
	for _, h := range hooks {
		switch h := h.(type) {
		case nil, Nop:
		case chain:
			flat = append(flat, h...)
		default:
			flat = append(flat, h)
		}
	}
	switch len(flat) {
	case 0:
		return Nop{}
	case 1:
		return flat[0]
	}
	return chain(flat)
}

type chain []DispatchHook

func (c chain) OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, Token) {
	tokens := make([]Token, len(c))
	for i, h := range c {
		ctx, tokens[i] = h.OnDispatchStart(ctx, info)
	}
	return ctx, tokens
}

func (c chain) OnDispatchEnd(ctx context.Context, token Token, info DispatchInfo, stats *Stats, err error) {
	tokens, _ := token.([]Token)
	for i := len(c) - 1; i >= 0; i-- {
		var t Token
		if i < len(tokens) {
			t = tokens[i]
		}
		c[i].OnDispatchEnd(ctx, t, info, stats, err)
	}
}
