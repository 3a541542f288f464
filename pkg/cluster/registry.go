// Package cluster tracks server nodes, their health and node selection.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/timeplus-io/proton-go/pkg/errs"
)

var (
	ErrClosed      = errors.New("cluster: registry closed")
	ErrUnknownNode = errors.New("cluster: node is not managed")
)

const (
	DefaultBackoff      = 3 * time.Second
	DefaultProbeTimeout = time.Second
)

// Prober checks that a node answers. It is called from the health-check
// goroutine with a bounded context.
type Prober interface {
	Probe(ctx context.Context, n *Node) error
}

type ProberFunc func(ctx context.Context, n *Node) error

func (f ProberFunc) Probe(ctx context.Context, n *Node) error { return f(ctx, n) }

// DialProber only checks that the node accepts TCP connections.
var DialProber Prober = ProberFunc(func(ctx context.Context, n *Node) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", n.Address())
	if err != nil {
		return err
	}
	return conn.Close()
})

type LoadBalancing uint8

const (
	RoundRobin LoadBalancing = iota
	PickFirst
)

func (lb LoadBalancing) String() string {
	if lb == PickFirst {
		return "pick_first"
	}
	return "round_robin"
}

func ParseLoadBalancing(s string) (LoadBalancing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "round_robin", "roundrobin":
		return RoundRobin, nil
	case "pick_first", "pickfirst", "first":
		return PickFirst, nil
	}
	return RoundRobin, fmt.Errorf("cluster: unknown load balancing policy %q", s)
}

type Option func(*Registry)

func WithLoadBalancing(lb LoadBalancing) Option {
	return func(r *Registry) { r.policy = lb }
}

func WithProber(p Prober) Option {
	return func(r *Registry) { r.prober = p }
}

// WithDetector replaces DetectProtocol for nodes registered with protocol Any.
func WithDetector(fn func(ctx context.Context, addr string) (Protocol, error)) Option {
	return func(r *Registry) { r.detect = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithBackoff sets the delay before re-sweeping while nodes stay unhealthy.
func WithBackoff(d time.Duration) Option {
	return func(r *Registry) { r.backoff = d }
}

func WithProbeTimeout(d time.Duration) Option {
	return func(r *Registry) { r.probeTimeout = d }
}

// WithFailoverThreshold sets how many consecutive reported failures mark a
// node unhealthy.
func WithFailoverThreshold(n int) Option {
	return func(r *Registry) { r.threshold = n }
}

type event struct {
	node *Node
	to   Status
	ack  chan error
}

// Registry owns the healthy and unhealthy node lists. Every status change is
// an event applied by a single goroutine; a second goroutine runs the health
// sweeps.
type Registry struct {
	mu        sync.Mutex
	nodes     map[string]*Node
	status    map[string]Status
	detected  map[string]Protocol
	healthy   []*Node
	unhealthy []*Node
	cursor    *atomic.Int64

	policy       LoadBalancing
	prober       Prober
	detect       func(ctx context.Context, addr string) (Protocol, error)
	logger       *slog.Logger
	metrics      *Metrics
	backoff      time.Duration
	probeTimeout time.Duration
	threshold    int
	failures     *FailureDetector

	events   chan event
	trigger  chan struct{}
	sweepMu  sync.Mutex
	sweeping *atomic.Bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewRegistry(opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		nodes:        make(map[string]*Node),
		status:       make(map[string]Status),
		detected:     make(map[string]Protocol),
		cursor:       atomic.NewInt64(-1),
		prober:       DialProber,
		detect:       DetectProtocol,
		backoff:      DefaultBackoff,
		probeTimeout: DefaultProbeTimeout,
		threshold:    3,
		events:       make(chan event),
		trigger:      make(chan struct{}, 1),
		sweeping:     atomic.NewBool(false),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, o := range opts {
		o(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.failures = NewFailureDetector(r.threshold, r.backoff, func(n *Node) {
		if err := r.Update(n, Unhealthy); err != nil && !errors.Is(err, ErrClosed) {
			r.logger.Warn("mark node unhealthy", "node", n, "err", err)
		}
	})

	r.wg.Add(2)
	go r.loop()
	go r.sweeper()
	return r
}

// Register adds n as Managed and then marks it Healthy. Registering a node
// that is already managed keeps its current status.
func (r *Registry) Register(n *Node) error {
	if err := r.Update(n, Managed); err != nil {
		return err
	}
	if r.Status(n) != Managed {
		return nil
	}
	return r.Update(n, Healthy)
}

// Remove unmanages n.
func (r *Registry) Remove(n *Node) error {
	return r.Update(n, Unmanaged)
}

// Update applies a status transition and returns once it took effect.
func (r *Registry) Update(n *Node, to Status) error {
	if n == nil {
		return fmt.Errorf("%w: nil node", ErrUnknownNode)
	}
	ev := event{node: n, to: to, ack: make(chan error, 1)}
	select {
	case r.events <- ev:
	case <-r.ctx.Done():
		return ErrClosed
	}
	select {
	case err := <-ev.ack:
		return err
	case <-r.ctx.Done():
		return ErrClosed
	}
}

// Report feeds a transport outcome for n to the failure detector.
func (r *Registry) Report(n *Node, err error) {
	r.failures.Report(n, err)
}

func (r *Registry) loop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case ev := <-r.events:
			err := r.apply(ev.node, ev.to)
			ev.ack <- err
			if err == nil && ev.to == Unhealthy && !r.sweeping.Load() {
				r.requestSweep()
			}
		}
	}
}

func (r *Registry) apply(n *Node, to Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := n.key()
	from, known := r.status[k]
	switch to {
	case Managed:
		if known {
			return nil
		}
		r.nodes[k] = n
		r.status[k] = Managed
	case Healthy, Unhealthy:
		if !known {
			return fmt.Errorf("%w: %s", ErrUnknownNode, n)
		}
		if from == to {
			return nil
		}
		stored := r.nodes[k]
		r.healthy = removeNode(r.healthy, k)
		r.unhealthy = removeNode(r.unhealthy, k)
		if to == Healthy {
			r.healthy = append(r.healthy, stored)
			r.failures.Forget(stored)
		} else {
			r.unhealthy = append(r.unhealthy, stored)
		}
		r.status[k] = to
	case Unmanaged:
		if !known {
			return nil
		}
		r.healthy = removeNode(r.healthy, k)
		r.unhealthy = removeNode(r.unhealthy, k)
		delete(r.nodes, k)
		delete(r.status, k)
		delete(r.detected, k)
		r.failures.Forget(n)
	default:
		return fmt.Errorf("cluster: invalid status %d", to)
	}

	r.logger.Debug("node status changed", "node", n, "from", from, "to", to)
	r.metrics.setCounts(len(r.healthy), len(r.unhealthy))
	return nil
}

func removeNode(list []*Node, key string) []*Node {
	return slices.DeleteFunc(list, func(n *Node) bool { return n.key() == key })
}

func (r *Registry) requestSweep() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

func (r *Registry) sweeper() {
	defer r.wg.Done()
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.trigger:
		case <-timer.C:
		}
		if remaining := r.sweep(r.ctx); remaining > 0 && r.ctx.Err() == nil {
			timer.Reset(r.backoff)
		}
	}
}

// CheckHealth runs one sweep over the unhealthy nodes now and returns how
// many are still unhealthy. It waits for a running background sweep first.
func (r *Registry) CheckHealth(ctx context.Context) (int, error) {
	if r.ctx.Err() != nil {
		return 0, ErrClosed
	}
	return r.sweep(ctx), nil
}

func (r *Registry) sweep(ctx context.Context) int {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()
	r.sweeping.Store(true)
	defer r.sweeping.Store(false)

	r.metrics.sweep()
	for _, n := range r.UnhealthyNodes() {
		if ctx.Err() != nil {
			break
		}
		if err := r.probe(ctx, n); err != nil {
			r.metrics.probeFailed(n)
			r.logger.Warn("health probe failed", "node", n, "err", err)
			continue
		}
		if err := r.Update(n, Healthy); err != nil && !errors.Is(err, ErrUnknownNode) {
			r.logger.Warn("mark node healthy", "node", n, "err", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.unhealthy)
}

func (r *Registry) probe(ctx context.Context, n *Node) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("health probe panicked", "node", n, "panic", p)
			err = fmt.Errorf("cluster: probe panicked: %v", p)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	target := n
	if n.Protocol() == Any {
		p, derr := r.detect(ctx, n.Address())
		if derr != nil {
			r.logger.Debug("protocol detection failed", "node", n, "err", derr)
		}
		r.mu.Lock()
		if _, ok := r.status[n.key()]; ok {
			r.detected[n.key()] = p
		}
		r.mu.Unlock()
		target = n.WithProtocol(p)
	}
	return r.prober.Probe(ctx, target)
}

// Select picks a healthy node matching sel according to the load-balancing
// policy.
func (r *Registry) Select(sel Selector) (*Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.selectLocked(sel)
	r.metrics.selected(err == nil)
	return n, err
}

func (r *Registry) selectLocked(sel Selector) (*Node, error) {
	size := len(r.healthy)
	if size == 0 {
		return nil, errs.ErrNoHealthyNode
	}
	if r.policy == PickFirst {
		for _, n := range r.healthy {
			if r.matchLocked(sel, n) {
				return n, nil
			}
		}
		return nil, fmt.Errorf("%w: none matches %s", errs.ErrNoHealthyNode, sel)
	}

	for {
		last := r.cursor.Load()
		start := int((last + 1) % int64(size))
		idx := -1
		for i := 0; i < size; i++ {
			j := (start + i) % size
			if r.matchLocked(sel, r.healthy[j]) {
				idx = j
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("%w: none matches %s", errs.ErrNoHealthyNode, sel)
		}
		if r.cursor.CompareAndSwap(last, int64(idx)) {
			return r.healthy[idx], nil
		}
	}
}

func (r *Registry) matchLocked(sel Selector, n *Node) bool {
	if p, ok := r.detected[n.key()]; ok && n.Protocol() == Any {
		return sel.Match(n.WithProtocol(p))
	}
	return sel.Match(n)
}

// Resolve returns n with the protocol found by detection, or n itself when
// nothing was detected.
func (r *Registry) Resolve(n *Node) *Node {
	if n.Protocol() != Any {
		return n
	}
	r.mu.Lock()
	p, ok := r.detected[n.key()]
	r.mu.Unlock()
	if !ok {
		return n
	}
	return n.WithProtocol(p)
}

// HealthyNodes is a snapshot of the healthy list.
func (r *Registry) HealthyNodes() []*Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.healthy)
}

// UnhealthyNodes is a snapshot of the unhealthy list.
func (r *Registry) UnhealthyNodes() []*Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.unhealthy)
}

// Status reports n's status; unknown nodes are Unmanaged.
func (r *Registry) Status(n *Node) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status[n.key()]
}

// Failures is the consecutive failure count reported for n.
func (r *Registry) Failures(n *Node) int {
	return r.failures.Failures(n)
}

// Close stops both goroutines. In-flight probes are cancelled.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		r.cancel()
		r.wg.Wait()
	})
	return nil
}
