package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/gatekeeper/pkg/governor/cache"
)

// cacheLenTimeout bounds the store query made during a scrape.
const cacheLenTimeout = 2 * time.Second

// RegisterCache adds gauges and counters sampled from c at scrape time.
func (c *Collector) RegisterCache(rc *cache.Cache) error {
	entries := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Entries held by the response cache store, -1 when the store cannot be read",
		},
		func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), cacheLenTimeout)
			defer cancel()
			n, err := rc.Len(ctx)
			if err != nil {
				return -1
			}
			return float64(n)
		},
	)
	inFlight := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: "cache",
			Name:      "in_flight",
			Help:      "Keys with a running upstream call",
		},
		func() float64 { return float64(rc.InFlight()) },
	)
	hits := prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace:   c.namespace,
			Subsystem:   "cache",
			Name:        "lookups_total",
			Help:        "Response cache lookups by result",
			ConstLabels: prometheus.Labels{"result": "hit"},
		},
		func() float64 { return float64(rc.Stats().Hits) },
	)
	misses := prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace:   c.namespace,
			Subsystem:   "cache",
			Name:        "lookups_total",
			Help:        "Response cache lookups by result",
			ConstLabels: prometheus.Labels{"result": "miss"},
		},
		func() float64 { return float64(rc.Stats().Misses) },
	)

	for _, col := range []prometheus.Collector{entries, inFlight, hits, misses} {
		if err := c.registry.Register(col); err != nil {
			return err
		}
	}
	return nil
}
