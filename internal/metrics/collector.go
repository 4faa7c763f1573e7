// Package metrics collects host metrics for the optional gateway metrics
// service: CPU load, memory pressure and uptime, published alongside the
// telemetry stream so operators can watch the gateway host itself.
package metrics

import "context"

// Collector gathers one metric. Collect returns nil when the metric could
// not be gathered; the publisher then omits the field.
type Collector interface {
	Name() string
	Collect(ctx context.Context) interface{}
	Unit() string
	Description() string
}

// Registry manages the set of registered collectors.
type Registry struct {
	collectors map[string]Collector
}

// NewRegistry creates an empty collector registry.
func NewRegistry() *Registry {
	return &Registry{
		collectors: make(map[string]Collector),
	}
}

// Register adds a collector, replacing any previous one with the same name.
func (r *Registry) Register(collector Collector) {
	r.collectors[collector.Name()] = collector
}

// Collectors returns all registered collectors keyed by name.
func (r *Registry) Collectors() map[string]Collector {
	return r.collectors
}
