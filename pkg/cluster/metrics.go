package cluster

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the registry's prometheus collectors.
type Metrics struct {
	nodes         *prometheus.GaugeVec
	sweeps        prometheus.Counter
	probeFailures *prometheus.CounterVec
	selections    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		nodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "proton",
			Subsystem: "cluster",
			Name:      "nodes",
			Help:      "Number of managed nodes by health status.",
		}, []string{"status"}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "proton",
			Subsystem: "cluster",
			Name:      "health_sweeps_total",
			Help:      "Total number of health-check sweeps over unhealthy nodes.",
		}),
		probeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proton",
			Subsystem: "cluster",
			Name:      "probe_failures_total",
			Help:      "Total number of failed health probes per node.",
		}, []string{"node"}),
		selections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proton",
			Subsystem: "cluster",
			Name:      "selections_total",
			Help:      "Total number of node selections by outcome.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.nodes, m.sweeps, m.probeFailures, m.selections)
	}
	return m
}

func (m *Metrics) setCounts(healthy, unhealthy int) {
	if m == nil {
		return
	}
	m.nodes.WithLabelValues(Healthy.String()).Set(float64(healthy))
	m.nodes.WithLabelValues(Unhealthy.String()).Set(float64(unhealthy))
}

func (m *Metrics) sweep() {
	if m != nil {
		m.sweeps.Inc()
	}
}

func (m *Metrics) probeFailed(n *Node) {
	if m != nil {
		m.probeFailures.WithLabelValues(n.ID()).Inc()
	}
}

func (m *Metrics) selected(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.selections.WithLabelValues("ok").Inc()
	} else {
		m.selections.WithLabelValues("no_node").Inc()
	}
}
