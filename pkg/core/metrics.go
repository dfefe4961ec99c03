package core

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the store's Prometheus collectors
type metrics struct {
	tierHits  *prometheus.CounterVec
	retries   prometheus.Counter
	saved     prometheus.Counter
	failed    prometheus.Counter
	repaired  prometheus.Counter
	rowsCount prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		tierHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vecmem",
			Name:      "query_tier_total",
			Help:      "Queries answered by each retrieval tier.",
		}, []string{"tier"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vecmem",
			Name:      "query_retries_total",
			Help:      "Queries re-issued with a relaxed threshold.",
		}),
		saved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vecmem",
			Name:      "saved_records_total",
			Help:      "Records upserted.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vecmem",
			Name:      "failed_records_total",
			Help:      "Records rejected or failed during save.",
		}),
		repaired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vecmem",
			Name:      "repaired_vectors_total",
			Help:      "Vectors that had non-finite components zeroed.",
		}),
		rowsCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vecmem",
			Name:      "rows",
			Help:      "Row count observed by the last Count call.",
		}),
	}
	if reg != nil {
		m.tierHits = register(reg, m.tierHits)
		m.retries = register(reg, m.retries)
		m.saved = register(reg, m.saved)
		m.failed = register(reg, m.failed)
		m.repaired = register(reg, m.repaired)
		m.rowsCount = register(reg, m.rowsCount)
	}
	return m
}

// register adds c to reg. When an identical collector is already registered,
// e.g. by a second store sharing the registry, the existing one is reused.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}
