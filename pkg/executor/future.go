package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/timeplus-io/proton-go/pkg/errs"
)

// Future is the pending result of a submitted Task.
type Future struct {
	done   chan struct{}
	once   sync.Once
	cancel context.CancelFunc

	val any
	err error
}

func newFuture(cancel context.CancelFunc) *Future {
	return &Future{done: make(chan struct{}), cancel: cancel}
}

// Completed returns a future that is already done.
func Completed(v any, err error) *Future {
	f := newFuture(func() {})
	f.complete(v, err)
	return f
}

func (f *Future) complete(v any, err error) {
	f.once.Do(func() {
		f.val, f.err = v, err
		f.cancel()
		close(f.done)
	})
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the task finishes or ctx ends. Ending ctx does not
// cancel the task; use Cancel for that.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get waits at most timeout; a non-positive timeout waits forever.
func (f *Future) Get(timeout time.Duration) (any, error) {
	if timeout <= 0 {
		return f.Wait(context.Background())
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-f.done:
		return f.val, f.err
	case <-t.C:
		return nil, fmt.Errorf("executor: result not ready after %s: %w", timeout, context.DeadlineExceeded)
	}
}

// Cancel aborts the task's context. A task that has not started never runs.
// It reports false when the result was already available.
func (f *Future) Cancel() bool {
	select {
	case <-f.done:
		return false
	default:
	}
	f.cancel()
	return true
}

// cancelled maps a failure caused by the task's own cancellation to
// errs.ErrCancelled.
func cancelled(ctx context.Context, err error) error {
	if err == nil || ctx.Err() == nil {
		return err
	}
	if errors.Is(ctx.Err(), context.Canceled) && !errors.Is(err, errs.ErrCancelled) {
		return fmt.Errorf("%w: %v", errs.ErrCancelled, err)
	}
	return err
}
