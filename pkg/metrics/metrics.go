// Metrics collection for the quadruped host
//
// Provides Prometheus-compatible metrics: counters, gauges, and
// histograms, rendered in the text exposition format.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// Counter is a monotonically increasing value.
type Counter struct {
	mu    sync.Mutex
	value float64
}

// Inc adds one.
func (c *Counter) Inc() {
	c.Add(1)
}

// Add adds delta; negative deltas are ignored.
func (c *Counter) Add(delta float64) {
	if delta < 0 {
		return
	}
	c.mu.Lock()
	c.value += delta
	c.mu.Unlock()
}

// Value returns the current count.
func (c *Counter) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Gauge is a value that can go up and down.
type Gauge struct {
	mu    sync.Mutex
	value float64
}

// Set replaces the value.
func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

// Value returns the current value.
func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Histogram counts observations in cumulative buckets.
type Histogram struct {
	mu      sync.Mutex
	bounds  []float64
	counts  []uint64
	count   uint64
	sum     float64
}

// newHistogram creates a histogram with the given upper bounds, which
// must be sorted ascending.
func newHistogram(bounds []float64) *Histogram {
	return &Histogram{
		bounds: bounds,
		counts: make([]uint64, len(bounds)),
	}
}

// Observe records one observation.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.count++
	h.sum += v
	for i, bound := range h.bounds {
		if v <= bound {
			h.counts[i]++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Sum returns the sum of observations.
func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

type metric struct {
	name string
	help string
	kind string

	counter   *Counter
	gauge     *Gauge
	histogram *Histogram
}

// Registry holds named metrics and renders them.
type Registry struct {
	mu      sync.Mutex
	metrics map[string]*metric
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]*metric)}
}

// Counter registers (or returns the existing) counter with name.
func (r *Registry) Counter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.metrics[name]; ok {
		return m.counter
	}
	c := &Counter{}
	r.metrics[name] = &metric{name: name, help: help, kind: "counter", counter: c}
	return c
}

// Gauge registers (or returns the existing) gauge with name.
func (r *Registry) Gauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.metrics[name]; ok {
		return m.gauge
	}
	g := &Gauge{}
	r.metrics[name] = &metric{name: name, help: help, kind: "gauge", gauge: g}
	return g
}

// Histogram registers (or returns the existing) histogram with name.
func (r *Registry) Histogram(name, help string, bounds []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.metrics[name]; ok {
		return m.histogram
	}
	h := newHistogram(bounds)
	r.metrics[name] = &metric{name: name, help: help, kind: "histogram", histogram: h}
	return h
}

// Render produces the Prometheus text exposition format.
func (r *Registry) Render() string {
	r.mu.Lock()
	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	metrics := make([]*metric, 0, len(names))
	for _, name := range names {
		metrics = append(metrics, r.metrics[name])
	}
	r.mu.Unlock()

	var sb strings.Builder
	for _, m := range metrics {
		fmt.Fprintf(&sb, "# HELP %s %s\n", m.name, m.help)
		fmt.Fprintf(&sb, "# TYPE %s %s\n", m.name, m.kind)

		switch m.kind {
		case "counter":
			fmt.Fprintf(&sb, "%s %v\n", m.name, m.counter.Value())
		case "gauge":
			fmt.Fprintf(&sb, "%s %v\n", m.name, m.gauge.Value())
		case "histogram":
			h := m.histogram
			h.mu.Lock()
			for i, bound := range h.bounds {
				fmt.Fprintf(&sb, "%s_bucket{le=\"%v\"} %d\n", m.name, bound, h.counts[i])
			}
			fmt.Fprintf(&sb, "%s_bucket{le=\"%v\"} %d\n", m.name, math.Inf(1), h.count)
			fmt.Fprintf(&sb, "%s_sum %v\n", m.name, h.sum)
			fmt.Fprintf(&sb, "%s_count %d\n", m.name, h.count)
			h.mu.Unlock()
		}
	}
	return sb.String()
}
