package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "escrow_events_emitted_total",
	Help: "Committed engine events, labeled by type",
}, []string{"type"})

// Metrics counts events by type.
type Metrics struct{}

func (Metrics) Emit(e Event) {
	eventsEmitted.WithLabelValues(e.Type).Inc()
}
