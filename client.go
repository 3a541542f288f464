// Package proton is the client facade: it wires node registry, connection
// manager, transports and dispatch hooks behind request builders.
//
//	c, err := proton.New(cfg)
//	...
//	resp, err := c.Execute(ctx, c.Query("SELECT * FROM t WHERE id = :id").Param("id", 7))
package proton

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/timeplus-io/proton-go/pkg/cluster"
	"github.com/timeplus-io/proton-go/pkg/config"
	"github.com/timeplus-io/proton-go/pkg/conn"
	"github.com/timeplus-io/proton-go/pkg/errs"
	"github.com/timeplus-io/proton-go/pkg/executor"
	"github.com/timeplus-io/proton-go/pkg/observe"
	"github.com/timeplus-io/proton-go/pkg/request"
	"github.com/timeplus-io/proton-go/pkg/transport"
	"github.com/timeplus-io/proton-go/pkg/types"
)

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHook replaces the default OpenTelemetry hook.
func WithHook(h observe.DispatchHook) Option {
	return func(c *Client) { c.hook = h }
}

// WithMetrics registers the registry collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) { c.metrics = cluster.NewMetrics(reg) }
}

// WithProber replaces the transport ping used by health sweeps.
func WithProber(p cluster.Prober) Option {
	return func(c *Client) { c.prober = p }
}

// WithShared makes clients built with the same s share one executor when the
// config sets no MaxThreadsPerClient. The pool starts with the first client
// and stops when the last of them is closed. Without it each client gets its
// own Shared, released by Close.
func WithShared(s *executor.Shared) Option {
	return func(c *Client) { c.shared = s }
}

type Client struct {
	cfg      config.Config
	logger   *slog.Logger
	hook     observe.DispatchHook
	metrics  *cluster.Metrics
	prober   cluster.Prober
	shared   *executor.Shared
	registry *cluster.Registry
	manager  *conn.Manager[transport.Conn]
	columns  *types.Cache

	closeOnce sync.Once
}

// New validates cfg, registers its nodes and starts the connection manager.
func New(cfg config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lb, err := cluster.ParseLoadBalancing(cfg.LoadBalancing)
	if err != nil {
		return nil, err
	}

	c := &Client{cfg: cfg}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.hook == nil {
		h, err := observe.NewOtelHook(observe.DefaultOtelConfig())
		if err != nil {
			return nil, err
		}
		c.hook = h
	}
	if c.prober == nil {
		c.prober = transport.NewProber(cfg)
	}
	if c.shared == nil {
		c.shared = executor.NewShared("proton", 0, 0, c.logger)
	}
	if c.columns, err = types.NewCache(cfg.ParseCacheSize); err != nil {
		return nil, err
	}

	c.registry = cluster.NewRegistry(
		cluster.WithLoadBalancing(lb),
		cluster.WithProber(c.prober),
		cluster.WithLogger(c.logger),
		cluster.WithMetrics(c.metrics),
		cluster.WithBackoff(cfg.HealthCheckInterval),
		cluster.WithProbeTimeout(cfg.HealthCheckTimeout),
		cluster.WithFailoverThreshold(cfg.FailoverThreshold),
	)
	for _, uri := range cfg.Nodes {
		n, err := cluster.ParseNode(uri)
		if err == nil {
			err = c.registry.Register(n)
		}
		if err != nil {
			_ = c.registry.Close()
			return nil, fmt.Errorf("node %q: %w", uri, err)
		}
	}

	c.manager = conn.NewManager[transport.Conn](transport.Dial,
		conn.WithShared[transport.Conn](c.shared),
		conn.WithLogger[transport.Conn](c.logger),
	)
	if err := c.manager.Init(cfg); err != nil {
		_ = c.registry.Close()
		return nil, err
	}
	c.logger.Debug("client ready", "nodes", len(cfg.Nodes), "load_balancing", lb)
	return c, nil
}

func (c *Client) Config() config.Config { return c.cfg }

func (c *Client) Registry() *cluster.Registry { return c.registry }

// Query starts a read request routed to any healthy node.
func (c *Client) Query(sql string) *request.Builder {
	return request.NewQuery(c.cfg).Query(sql).Select(c.registry, cluster.AnyNode)
}

// Insert starts a mutation into table routed to any healthy node.
func (c *Client) Insert(table string) *request.Builder {
	return request.NewMutation(c.cfg).Table(table).Select(c.registry, cluster.AnyNode)
}

// Columns parses a column list through the client's cache. The returned
// slice is the caller's own.
func (c *Client) Columns(text string) ([]*types.Column, error) {
	cols, err := c.columns.ParseColumns(text)
	if err != nil {
		return nil, err
	}
	return slices.Clone(cols), nil
}

// Execute seals b and dispatches it. With Async set the dispatch runs on the
// executor and Execute waits for it; when ctx ends first the task is
// cancelled and the error matches errs.ErrCancelled, or is a timeout
// ConnectionError for an expired deadline.
func (c *Client) Execute(ctx context.Context, b *request.Builder) (*transport.Response, error) {
	req, err := b.Seal(ctx)
	if err != nil {
		return nil, err
	}
	if !c.cfg.Async {
		return c.dispatch(ctx, req)
	}

	f, err := c.submit(ctx, req)
	if err != nil {
		return nil, err
	}
	v, err := f.Wait(ctx)
	if err == nil {
		return v.(*transport.Response), nil
	}
	if ctx.Err() == nil {
		return nil, err
	}
	if !f.Cancel() {
		// Finished while ctx ended; nobody reads this response.
		if v, _ := f.Wait(context.Background()); v != nil {
			_ = v.(*transport.Response).Close()
		}
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, fmt.Errorf("%w: waiting for %s", errs.ErrCancelled, req.QueryID())
	}
	return nil, errs.Classify(req.Node().Address(), ctx.Err())
}

// ExecuteAsync seals b now and dispatches it on the executor. The future's
// value is a *transport.Response.
func (c *Client) ExecuteAsync(ctx context.Context, b *request.Builder) (*executor.Future, error) {
	req, err := b.Seal(ctx)
	if err != nil {
		return nil, err
	}
	return c.submit(ctx, req)
}

func (c *Client) submit(ctx context.Context, req *request.Sealed) (*executor.Future, error) {
	return c.manager.Submit(ctx, func(ctx context.Context) (any, error) {
		resp, err := c.dispatch(ctx, req)
		if err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			_ = resp.Close()
			return nil, ctx.Err()
		}
		return resp, nil
	})
}

func (c *Client) dispatch(ctx context.Context, req *request.Sealed) (*transport.Response, error) {
	node := c.registry.Resolve(req.Node())
	info := observe.DispatchInfo{
		QueryID:  req.QueryID(),
		Node:     node.Address(),
		Protocol: node.Protocol().String(),
		Format:   req.Format().String(),
		Mode:     req.Mode().String(),
		Session:  req.SessionID(),
	}

	ctx, tok := c.hook.OnDispatchStart(ctx, info)
	resp, err := c.do(ctx, node, req)
	var stats *observe.Stats
	if resp != nil {
		s := resp.Summary
		stats = &observe.Stats{
			ReadRows:     s.ReadRows,
			ReadBytes:    s.ReadBytes,
			WrittenRows:  s.WrittenRows,
			WrittenBytes: s.WrittenBytes,
			ResultRows:   s.ResultRows,
		}
	}
	c.hook.OnDispatchEnd(ctx, tok, info, stats, err)

	c.report(req.Node(), err)
	return resp, err
}

func (c *Client) do(ctx context.Context, node *cluster.Node, req *request.Sealed) (*transport.Response, error) {
	h, err := c.manager.Connection(ctx, node)
	if err != nil {
		return nil, err
	}
	resp, err := h.Do(ctx, req)
	switch {
	case err == nil:
		return resp, nil
	case errors.Is(err, request.ErrMissingParameter):
		// Nothing was sent.
		return nil, err
	case errors.Is(err, context.Canceled) && !errors.Is(err, errs.ErrCancelled):
		return nil, fmt.Errorf("%w: %v", errs.ErrCancelled, err)
	}
	return nil, errs.Classify(node.Address(), err)
}

// report feeds the failure detector. Only network and timeout failures
// count against a node; a node that answered with an error is alive.
func (c *Client) report(n *cluster.Node, err error) {
	var ce *errs.ConnectionError
	switch {
	case err == nil:
		c.registry.Report(n, nil)
	case errors.As(err, &ce) && ce.Retryable():
		c.registry.Report(n, err)
	case errors.As(err, &ce):
		c.registry.Report(n, nil)
	}
}

// CheckHealth sweeps unhealthy nodes now and returns how many remain.
func (c *Client) CheckHealth(ctx context.Context) (int, error) {
	return c.registry.CheckHealth(ctx)
}

// Close drains the executor until ctx ends and stops health checks.
func (c *Client) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.manager.Close(ctx)
		err = c.registry.Close()
	})
	return err
}
