package microsurvey

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the actor-population gauges spec §4.8 calls for
// ("Heap-usage metrics exposed: live actor count..."), grounded on the
// teacher's escrow.Metrics registration style.
type Metrics struct {
	LiveActors   prometheus.Gauge
	ActorsEvicted prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		LiveActors: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "microsurvey_live_actors",
			Help: "Number of in-memory survey actors currently held by the orchestrator",
		}),
		ActorsEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "microsurvey_actors_evicted_total",
			Help: "Total number of idle actors evicted from the in-memory LRU because the live cap was exceeded",
		}),
	}
}
