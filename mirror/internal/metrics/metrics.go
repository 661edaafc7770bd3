package metrics

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/obsidianstack/snapsync/mirror/internal/cache"
	"github.com/obsidianstack/snapsync/mirror/internal/store"
	"github.com/obsidianstack/snapsync/pkg/types"
)

const metricsNamespace = "snapsync"

// Collector is a prometheus.Collector for the synchronized array, its cache
// and its upstream multiplexer.
type Collector struct {
	events         *prometheus.CounterVec
	applyErrors    *prometheus.CounterVec
	listeners      prometheus.Gauge
	upstreamActive prometheus.Gauge
	entries        prometheus.Gauge
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	parseErrors    prometheus.Counter
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "events_total",
				Help:      "Change events emitted to listeners, by type.",
			}, []string{"type"},
		),
		applyErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "apply_errors_total",
				Help:      "Upstream events rejected by the ordered store, by error kind.",
			}, []string{"kind"},
		),
		listeners: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "listeners",
				Help:      "Registered local listeners.",
			},
		),
		upstreamActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "upstream_active",
				Help:      "1 while an upstream subscription is open.",
			},
		),
		entries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "entries",
				Help:      "Entries currently mirrored.",
			},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "cache_hits_total",
				Help:      "Parsed value reads served from the cache.",
			},
		),
		cacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "cache_misses_total",
				Help:      "Parsed value reads that invoked the parser.",
			},
		),
		parseErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "parse_errors_total",
				Help:      "Parser invocations that failed.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.events.Describe(ch)
	c.applyErrors.Describe(ch)
	c.listeners.Describe(ch)
	c.upstreamActive.Describe(ch)
	c.entries.Describe(ch)
	c.cacheHits.Describe(ch)
	c.cacheMisses.Describe(ch)
	c.parseErrors.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.events.Collect(ch)
	c.applyErrors.Collect(ch)
	c.listeners.Collect(ch)
	c.upstreamActive.Collect(ch)
	c.entries.Collect(ch)
	c.cacheHits.Collect(ch)
	c.cacheMisses.Collect(ch)
	c.parseErrors.Collect(ch)
}

// ObserveEvent counts one emitted change event.
func (c *Collector) ObserveEvent(t types.EventType) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(t.String()).Inc()
}

// ObserveApplyError counts one rejected upstream event.
func (c *Collector) ObserveApplyError(err error) {
	if c == nil {
		return
	}
	c.applyErrors.WithLabelValues(errorKind(err)).Inc()
}

// SetEntries records the mirrored entry count.
func (c *Collector) SetEntries(n int) {
	if c == nil {
		return
	}
	c.entries.Set(float64(n))
}

// SetListeners is part of the mux.Observer interface.
func (c *Collector) SetListeners(n int) {
	if c == nil {
		return
	}
	c.listeners.Set(float64(n))
}

// SetUpstreamActive is part of the mux.Observer interface.
func (c *Collector) SetUpstreamActive(active bool) {
	if c == nil {
		return
	}
	if active {
		c.upstreamActive.Set(1)
	} else {
		c.upstreamActive.Set(0)
	}
}

// CacheHit is part of the cache.Observer interface.
func (c *Collector) CacheHit() {
	if c == nil {
		return
	}
	c.cacheHits.Inc()
}

// CacheMiss is part of the cache.Observer interface.
func (c *Collector) CacheMiss() {
	if c == nil {
		return
	}
	c.cacheMisses.Inc()
}

// ParseFailed is part of the cache.Observer interface.
func (c *Collector) ParseFailed() {
	if c == nil {
		return
	}
	c.parseErrors.Inc()
}

// errorKind maps store errors onto a bounded label set.
func errorKind(err error) string {
	var pe *cache.ParseError
	switch {
	case errors.Is(err, store.ErrDuplicateKey):
		return "duplicate_key"
	case errors.Is(err, store.ErrKeyNotFound):
		return "key_not_found"
	case errors.Is(err, store.ErrReferenceNotFound):
		return "reference_not_found"
	case errors.Is(err, store.ErrEmptyKey):
		return "empty_key"
	case errors.As(err, &pe):
		return "parse"
	default:
		return "other"
	}
}

// Snapshot gathers g and flattens every counter and gauge sample into a map
// keyed by metric name plus sorted label pairs, e.g.
// `snapsync_events_total{type="inserted"}`.
func Snapshot(g prometheus.Gatherer) (map[string]float64, error) {
	mfs, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("metrics: gather: %w", err)
	}
	out := make(map[string]float64)
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			var v float64
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				v = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				v = m.GetGauge().GetValue()
			default:
				continue
			}
			out[sampleName(mf.GetName(), m.GetLabel())] = v
		}
	}
	return out, nil
}

func sampleName(name string, labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return name
	}
	pairs := make([]string, 0, len(labels))
	for _, lp := range labels {
		pairs = append(pairs, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
	}
	sort.Strings(pairs)
	return name + "{" + strings.Join(pairs, ",") + "}"
}

// WriteText writes every metric family gathered from g in the Prometheus text
// exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return fmt.Errorf("metrics: gather: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
