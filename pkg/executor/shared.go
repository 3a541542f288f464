package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/atomic"

	"github.com/timeplus-io/proton-go/pkg/errs"
)

// RefCount starts at one for the first holder.
type RefCount struct {
	count *atomic.Int32
}

func NewRefCount() *RefCount {
	return &RefCount{count: atomic.NewInt32(1)}
}

func (r *RefCount) Inc() {
	r.count.Inc()
}

// Dec reports whether the last reference was dropped.
func (r *RefCount) Dec() bool {
	n := r.count.Dec()
	if n < 0 {
		panic("refcount dropped below zero")
	}
	return n == 0
}

func (r *RefCount) Get() int32 {
	return r.count.Load()
}

func (r *RefCount) String() string {
	return fmt.Sprintf("RefCount: %d", r.Get())
}

// Shared hands one pool to several owners. The pool is created by the first
// Acquire and shut down by the last Release; a later Acquire starts a new one.
type Shared struct {
	name    string
	workers int
	queue   int
	logger  *slog.Logger

	mu   sync.Mutex
	pool *Pool
	refs *RefCount
}

func NewShared(name string, workers, queue int, logger *slog.Logger) *Shared {
	return &Shared{name: name, workers: workers, queue: queue, logger: logger}
}

func (s *Shared) Acquire() *Pool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool == nil {
		s.pool = NewPool(s.name, s.workers, s.queue, s.logger)
		s.refs = NewRefCount()
		return s.pool
	}
	s.refs.Inc()
	return s.pool
}

// Release drops one reference. Dropping the last one drains the pool until
// ctx ends and then cancels whatever is left.
func (s *Shared) Release(ctx context.Context) error {
	s.mu.Lock()
	if s.pool == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: release of idle shared pool %s", errs.ErrIllegalState, s.name)
	}
	if !s.refs.Dec() {
		s.mu.Unlock()
		return nil
	}
	p := s.pool
	s.pool, s.refs = nil, nil
	s.mu.Unlock()

	err := p.Shutdown(ctx)
	p.ShutdownNow()
	return err
}

// Refs is the number of current holders.
func (s *Shared) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs == nil {
		return 0
	}
	return int(s.refs.Get())
}
