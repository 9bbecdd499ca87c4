package store

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	operations *prometheus.CounterVec
	duplicates *prometheus.CounterVec
	conflicts  *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semantika",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Document operations by collection and kind.",
		}, []string{"collection", "op"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semantika",
			Subsystem: "store",
			Name:      "duplicate_keys_total",
			Help:      "Inserts rejected by a uniqueness constraint.",
		}, []string{"collection"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semantika",
			Subsystem: "store",
			Name:      "version_conflicts_total",
			Help:      "Conditional updates rejected by a version mismatch.",
		}, []string{"collection"}),
	}

	var err error
	m.operations, err = register(reg, m.operations)
	if err != nil {
		return nil, err
	}
	m.duplicates, err = register(reg, m.duplicates)
	if err != nil {
		return nil, err
	}
	m.conflicts, err = register(reg, m.conflicts)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// register reuses an identical collector already on reg, so several stores
// may share one registry.
func register(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

func (m *metrics) op(collection, op string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(collection, op).Inc()
}

func (m *metrics) duplicate(collection string) {
	if m == nil {
		return
	}
	m.duplicates.WithLabelValues(collection).Inc()
}

func (m *metrics) conflict(collection string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(collection).Inc()
}
