// Package metrics holds the Prometheus collectors updated during an export run.
// A run is short-lived, so the collectors live on a private registry that is
// written to a textfile (node_exporter textfile collector format) at the end.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "portexport"

// Outcome labels for API requests.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// Collector bundles the counters of one export run.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	// Port API requests by endpoint and outcome.
	requestsTotal *prometheus.CounterVec

	// Entity lookups served from / missing in the planner's LRU cache.
	cacheHitsTotal   prometheus.Counter
	cacheMissesTotal prometheus.Counter

	// Entities handed to the serializer, by blueprint.
	exportedEntities *prometheus.GaugeVec
}

// New creates a Collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of Port API requests by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		cacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entity_cache_hits_total",
				Help:      "Total number of entity lookups served from the cache",
			},
		),
		cacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entity_cache_misses_total",
				Help:      "Total number of entity lookups not found in the cache",
			},
		),
		exportedEntities: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "exported_entities",
				Help:      "Number of exported entities by blueprint",
			},
			[]string{"blueprint"},
		),
	}
	c.registry.MustRegister(
		c.requestsTotal,
		c.cacheHitsTotal,
		c.cacheMissesTotal,
		c.exportedEntities,
	)
	return c
}

// ObserveRequest counts one API request. notFound is consulted only when err != nil.
func (c *Collector) ObserveRequest(endpoint string, err error, notFound error) {
	if c == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
		if notFound != nil && errors.Is(err, notFound) {
			outcome = OutcomeNotFound
		}
	}
	c.requestsTotal.WithLabelValues(endpoint, outcome).Inc()
}

func (c *Collector) CacheHit() {
	if c != nil {
		c.cacheHitsTotal.Inc()
	}
}

func (c *Collector) CacheMiss() {
	if c != nil {
		c.cacheMissesTotal.Inc()
	}
}

// SetExported records the number of entities exported for a blueprint.
func (c *Collector) SetExported(blueprint string, n int) {
	if c != nil {
		c.exportedEntities.WithLabelValues(blueprint).Set(float64(n))
	}
}

// Registry exposes the underlying registry, e.g. for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// WriteTextfile writes all collected metrics to path in the Prometheus text format.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
