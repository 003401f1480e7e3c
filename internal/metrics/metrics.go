package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	eventbus "github.com/hanpama/querystore/internal/eventbus"
	events "github.com/hanpama/querystore/internal/events"
)

// Collector turns lifecycle events into Prometheus series.
type Collector struct {
	transitions *prometheus.CounterVec
	inFlight    prometheus.Gauge
	httpLatency *prometheus.HistogramVec

	mu     sync.Mutex
	flying map[string]struct{}
}

// New creates a Collector and registers its series with reg. A nil reg
// means prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "querystore_transitions_total",
				Help: "Query status transitions by target status.",
			},
			[]string{"status"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "querystore_in_flight",
			Help: "Queries with a network request outstanding.",
		}),
		httpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "querystore_http_fetch_seconds",
				Help:    "Latency of GraphQL HTTP round trips.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		flying: make(map[string]struct{}),
	}
	reg.MustRegister(c.transitions, c.inFlight, c.httpLatency)
	return c
}

// Register subscribes c to bus.
func (c *Collector) Register(bus *eventbus.Bus) (unsubscribe func()) {
	unsubs := []func(){
		eventbus.Subscribe(bus, func(_ context.Context, e events.QueryInit) {
			c.transitions.WithLabelValues(e.Status).Inc()
			c.setFlying(e.ID, true)
			if e.LinkedID != "" {
				c.transitions.WithLabelValues("fetchMore").Inc()
				c.setFlying(e.LinkedID, true)
			}
		}),
		eventbus.Subscribe(bus, func(_ context.Context, e events.QueryResult) {
			c.transitions.WithLabelValues(e.Status).Inc()
			c.setFlying(e.ID, false)
			if e.LinkedID != "" {
				c.transitions.WithLabelValues(e.Status).Inc()
				c.setFlying(e.LinkedID, false)
			}
		}),
		eventbus.Subscribe(bus, func(_ context.Context, e events.QueryError) {
			c.transitions.WithLabelValues("error").Inc()
			c.setFlying(e.ID, false)
			if e.LinkedID != "" {
				c.transitions.WithLabelValues("error").Inc()
				c.setFlying(e.LinkedID, false)
			}
		}),
		eventbus.Subscribe(bus, func(_ context.Context, e events.QueryResolvedLocally) {
			c.transitions.WithLabelValues(e.Status).Inc()
			c.setFlying(e.ID, !e.Complete)
		}),
		eventbus.Subscribe(bus, func(_ context.Context, e events.QueryStop) {
			c.setFlying(e.ID, false)
		}),
		eventbus.Subscribe(bus, func(_ context.Context, e events.StoreReset) {
			for _, id := range e.IDs {
				c.transitions.WithLabelValues("loading").Inc()
				c.setFlying(id, true)
			}
		}),
		eventbus.Subscribe(bus, func(_ context.Context, e events.HTTPFetchFinish) {
			outcome := "ok"
			if e.Err != nil {
				outcome = "error"
			}
			c.httpLatency.WithLabelValues(outcome).Observe(e.Duration.Seconds())
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (c *Collector) setFlying(id string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.flying[id] = struct{}{}
	} else {
		delete(c.flying, id)
	}
	c.inFlight.Set(float64(len(c.flying)))
}
