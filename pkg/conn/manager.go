// Package conn keeps at most one live connection handle per manager and
// switches it atomically when requests move to another node.
package conn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/timeplus-io/proton-go/pkg/cluster"
	"github.com/timeplus-io/proton-go/pkg/config"
	"github.com/timeplus-io/proton-go/pkg/errs"
	"github.com/timeplus-io/proton-go/pkg/executor"
)

// Handle is a live connection to one node.
type Handle interface {
	Close() error
}

// Factory opens a handle to node.
type Factory[H Handle] func(ctx context.Context, node *cluster.Node, cfg config.Config) (H, error)

// Check reports whether h, bound to current, can serve target. It is only
// called when a handle exists.
type Check[H Handle] func(h H, current, target *cluster.Node) bool

// SameNode is the default Check.
func SameNode[H Handle](_ H, current, target *cluster.Node) bool {
	return current != nil && current.Equal(target)
}

type Option[H Handle] func(*Manager[H])

func WithCheck[H Handle](c Check[H]) Option[H] {
	return func(m *Manager[H]) { m.check = c }
}

// WithShared sets the pool used when the config asks for no dedicated
// workers.
func WithShared[H Handle](s *executor.Shared) Option[H] {
	return func(m *Manager[H]) { m.shared = s }
}

func WithLogger[H Handle](l *slog.Logger) Option[H] {
	return func(m *Manager[H]) { m.logger = l }
}

type Manager[H Handle] struct {
	factory Factory[H]
	check   Check[H]
	shared  *executor.Shared
	logger  *slog.Logger

	mu        sync.RWMutex
	cfg       config.Config
	inited    bool
	closing   bool
	pool      *executor.Pool
	ownsPool  bool
	node      *cluster.Node
	handle    H
	hasHandle bool
}

func NewManager[H Handle](factory Factory[H], opts ...Option[H]) *Manager[H] {
	m := &Manager[H]{factory: factory, check: SameNode[H]}
	for _, o := range opts {
		o(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Init activates the manager. Only the first call after construction or
// Close provisions the executor; later calls are no-ops.
func (m *Manager[H]) Init(cfg config.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return fmt.Errorf("%w: manager is closing", errs.ErrIllegalState)
	}
	if m.inited {
		return nil
	}

	switch {
	case cfg.MaxThreadsPerClient > 0:
		m.pool = executor.NewPool("conn", cfg.MaxThreadsPerClient, cfg.MaxQueuedRequests, m.logger)
		m.ownsPool = true
	case m.shared != nil:
		m.pool = m.shared.Acquire()
		m.ownsPool = false
	default:
		m.pool = executor.NewPool("conn", 0, cfg.MaxQueuedRequests, m.logger)
		m.ownsPool = true
	}
	m.cfg = cfg
	m.inited = true
	return nil
}

// Connection returns the handle bound to node, opening a new one (and
// closing the previous one) when the bound node does not serve it.
func (m *Manager[H]) Connection(ctx context.Context, node *cluster.Node) (H, error) {
	var zero H
	if node == nil {
		return zero, fmt.Errorf("%w: nil node", errs.ErrIllegalState)
	}

	m.mu.RLock()
	if !m.inited {
		m.mu.RUnlock()
		return zero, fmt.Errorf("%w: connection manager not initialized", errs.ErrIllegalState)
	}
	if m.hasHandle && m.check(m.handle, m.node, node) {
		h := m.handle
		m.mu.RUnlock()
		return h, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inited {
		return zero, fmt.Errorf("%w: connection manager not initialized", errs.ErrIllegalState)
	}
	if m.hasHandle && m.check(m.handle, m.node, node) {
		return m.handle, nil
	}
	m.closeHandleLocked()

	m.node = node
	h, err := m.factory(ctx, node, m.cfg)
	if err != nil {
		return zero, errs.Classify(node.Address(), err)
	}
	m.handle, m.hasHandle = h, true
	m.logger.Debug("connection opened", "node", node.ID())
	return h, nil
}

func (m *Manager[H]) closeHandleLocked() {
	if !m.hasHandle {
		return
	}
	if err := m.handle.Close(); err != nil {
		m.logger.Warn("close connection", "node", m.node.ID(), "err", err)
	}
	var zero H
	m.handle, m.hasHandle = zero, false
}

// Submit runs task on the manager's executor.
func (m *Manager[H]) Submit(ctx context.Context, task executor.Task) (*executor.Future, error) {
	m.mu.RLock()
	pool := m.pool
	m.mu.RUnlock()
	if pool == nil {
		return nil, fmt.Errorf("%w: connection manager not initialized", errs.ErrIllegalState)
	}
	return pool.Submit(ctx, task)
}

// Close drains the executor until ctx ends, cancels what is left and closes
// the handle. Failures are logged. The manager can be re-initialized
// afterwards.
func (m *Manager[H]) Close(ctx context.Context) {
	m.mu.Lock()
	if !m.inited || m.closing {
		m.mu.Unlock()
		return
	}
	m.closing = true
	pool, owned := m.pool, m.ownsPool
	m.pool = nil
	m.mu.Unlock()

	// Running tasks may still ask for the connection while draining.
	if owned {
		if err := pool.Shutdown(ctx); err != nil {
			m.logger.Warn("executor did not drain", "err", err)
		}
		pool.ShutdownNow()
	} else if err := m.shared.Release(ctx); err != nil {
		m.logger.Warn("release shared executor", "err", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeHandleLocked()
	m.node = nil
	m.ownsPool = false
	m.inited = false
	m.closing = false
}

func (m *Manager[H]) Config() config.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Node is the node the current handle is bound to, or nil.
func (m *Manager[H]) Node() *cluster.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.node
}

func (m *Manager[H]) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasHandle
}

func (m *Manager[H]) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inited
}
