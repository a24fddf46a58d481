package store

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// storeMetrics holds the per-store Prometheus collectors.
type storeMetrics struct {
	actions  *prometheus.CounterVec
	requests *prometheus.HistogramVec
	plans    *prometheus.CounterVec
}

func newStoreMetrics(table string, reg prometheus.Registerer) (*storeMetrics, error) {
	labels := prometheus.Labels{"table": table}
	m := &storeMetrics{
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "docstore",
			Name:        "actions_total",
			Help:        "Document actions executed, by kind and outcome.",
			ConstLabels: labels,
		}, []string{"kind", "outcome"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "docstore",
			Name:        "request_duration_seconds",
			Help:        "Latency of native DynamoDB requests.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"operation"}),
		plans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "docstore",
			Name:        "query_plans_total",
			Help:        "Query plans chosen, by access path.",
			ConstLabels: labels,
		}, []string{"plan"}),
	}
	if reg == nil {
		return m, nil
	}
	var err error
	if m.actions, err = register(reg, m.actions); err != nil {
		return nil, err
	}
	if m.requests, err = register(reg, m.requests); err != nil {
		return nil, err
	}
	if m.plans, err = register(reg, m.plans); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, reusing an identical collector registered by an
// earlier Store on the same table.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *storeMetrics) recordAction(kind ActionKind, err error) {
	outcome := "ok"
	if err != nil {
		outcome = KindOf(err).String()
	}
	m.actions.WithLabelValues(kind.String(), outcome).Inc()
}
