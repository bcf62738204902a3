package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the ledger's Prometheus collectors.
type Metrics struct {
	Mutations             *prometheus.CounterVec
	ValidationFailures    *prometheus.CounterVec
	PersistenceFailures   prometheus.Counter
	ConsistencyViolations prometheus.Counter
	Recoveries            prometheus.Counter
	Durable               prometheus.Gauge
	SavedSeq              prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered, which is what tests usually want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tally",
			Name:      "mutations_total",
			Help:      "Committed entity mutations by kind and action.",
		}, []string{"kind", "action"}),
		ValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tally",
			Name:      "validation_failures_total",
			Help:      "Commands rejected by validation, by command.",
		}, []string{"command"}),
		PersistenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tally",
			Name:      "persistence_failures_total",
			Help:      "Snapshot saves that failed.",
		}),
		ConsistencyViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tally",
			Name:      "consistency_violations_total",
			Help:      "Group balance sets that did not net to zero.",
		}),
		Recoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tally",
			Name:      "store_recoveries_total",
			Help:      "Incompatible stores deleted and recreated at open.",
		}),
		Durable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tally",
			Name:      "store_durable",
			Help:      "1 while changes reach durable storage, 0 when degraded.",
		}),
		SavedSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tally",
			Name:      "saved_sequence",
			Help:      "Highest mutation sequence number saved.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Mutations,
			m.ValidationFailures,
			m.PersistenceFailures,
			m.ConsistencyViolations,
			m.Recoveries,
			m.Durable,
			m.SavedSeq,
		)
	}
	return m
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
