package cluster

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// FailureDetector counts consecutive transport failures per node and calls
// onTrip once a node reaches the threshold. Cancellations are not failures.
type FailureDetector struct {
	mu        sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker[struct{}]
	threshold uint32
	timeout   time.Duration
	onTrip    func(*Node)
}

func NewFailureDetector(threshold int, openFor time.Duration, onTrip func(*Node)) *FailureDetector {
	if threshold < 1 {
		threshold = 1
	}
	return &FailureDetector{
		breakers:  make(map[string]*gobreaker.CircuitBreaker[struct{}]),
		threshold: uint32(threshold),
		timeout:   openFor,
		onTrip:    onTrip,
	}
}

func (d *FailureDetector) breaker(n *Node) *gobreaker.CircuitBreaker[struct{}] {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := n.key()
	if cb, ok := d.breakers[k]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    n.ID(),
		Timeout: d.timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= d.threshold
		},
		OnStateChange: func(_ string, _, to gobreaker.State) {
			if to == gobreaker.StateOpen && d.onTrip != nil {
				d.onTrip(n)
			}
		},
	})
	d.breakers[k] = cb
	return cb
}

// Report records the outcome of one transport call against n; nil is a
// success. A cancelled call leaves the counts untouched.
func (d *FailureDetector) Report(n *Node, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	_, _ = d.breaker(n).Execute(func() (struct{}, error) {
		return struct{}{}, err
	})
}

// Failures is the current consecutive failure count for n.
func (d *FailureDetector) Failures(n *Node) int {
	d.mu.Lock()
	cb, ok := d.breakers[n.key()]
	d.mu.Unlock()
	if !ok {
		return 0
	}
	return int(cb.Counts().ConsecutiveFailures)
}

// Forget drops the state kept for n.
func (d *FailureDetector) Forget(n *Node) {
	d.mu.Lock()
	delete(d.breakers, n.key())
	d.mu.Unlock()
}
