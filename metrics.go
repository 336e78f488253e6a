package rutabaga

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes orchestrator statistics as Prometheus collectors.
type Metrics struct {
	mu sync.Mutex

	resources       prometheus.Gauge
	contexts        prometheus.Gauge
	fencesTotal     *prometheus.CounterVec
	operationErrors *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
	owned      []prometheus.Collector

	nresources, ncontexts int
}

func newGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rutabaga",
		Name:      name,
		Help:      help,
	})
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rutabaga",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates the collectors. With a nil registerer the collectors
// are updated but never exported.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	return &Metrics{
		registerer:      registerer,
		resources:       newGauge("resources", "Number of live resources"),
		contexts:        newGauge("contexts", "Number of live rendering contexts"),
		fencesTotal:     newCounterVec("fences_total", "Fences created, by timeline", []string{"timeline"}),
		operationErrors: newCounterVec("operation_errors_total", "Failed operations, by operation", []string{"op"}),
	}
}

// Register registers the collectors. Safe to call multiple times. When
// another Metrics already registered collectors with the same names, they
// are adopted and both instances report into them.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered || m.registerer == nil {
		return nil
	}
	m.owned = m.owned[:0]
	var err error
	if m.resources, err = register(m, m.resources); err != nil {
		return err
	}
	if m.contexts, err = register(m, m.contexts); err != nil {
		return err
	}
	if m.fencesTotal, err = register(m, m.fencesTotal); err != nil {
		return err
	}
	if m.operationErrors, err = register(m, m.operationErrors); err != nil {
		return err
	}
	m.registered = true
	return nil
}

// register registers c, or returns the collector already registered under
// its descriptor.
func register[C prometheus.Collector](m *Metrics, c C) (C, error) {
	err := m.registerer.Register(c)
	if err == nil {
		m.owned = append(m.owned, c)
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		m.unregisterOwned()
		return c, err
	}
	existing, ok := are.ExistingCollector.(C)
	if !ok {
		m.unregisterOwned()
		return c, fmt.Errorf("metrics: collector %T registered with a different type: %w", are.ExistingCollector, err)
	}
	return existing, nil
}

// Unregister removes the collectors this instance registered and withdraws
// its share of the gauges.
func (m *Metrics) Unregister() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.registered {
		return
	}
	m.resources.Sub(float64(m.nresources))
	m.contexts.Sub(float64(m.ncontexts))
	m.nresources, m.ncontexts = 0, 0
	m.unregisterOwned()
	m.registered = false
}

func (m *Metrics) unregisterOwned() {
	for _, c := range m.owned {
		m.registerer.Unregister(c)
	}
	m.owned = nil
}

// Gauges move by deltas so that instances sharing a collector add up.
func (m *Metrics) setResources(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources.Add(float64(n - m.nresources))
	m.nresources = n
}

func (m *Metrics) setContexts(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts.Add(float64(n - m.ncontexts))
	m.ncontexts = n
}

func (m *Metrics) fence(f Fence) {
	timeline := "global"
	if f.PerRing() {
		timeline = "ring"
	}
	m.fencesTotal.WithLabelValues(timeline).Inc()
}

// observe counts err against op and returns it unchanged.
func (m *Metrics) observe(op string, err error) error {
	if err != nil {
		m.operationErrors.WithLabelValues(op).Inc()
	}
	return err
}
