// Package promexport exposes the latest walk of every (subsystem, instance)
// pair as Prometheus metrics, together with the service's own counters.
package promexport

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tinytelemetry/statwalk/internal/ingest"
	"github.com/tinytelemetry/statwalk/internal/model"
)

// InstanceLabel is added to every exported sample.
const InstanceLabel = "instance"

// Config holds tunable parameters for the collector.
type Config struct {
	Namespace string
	TTL       time.Duration
	Now       func() time.Time
}

type snapshotKey struct {
	subsystem string
	instance  string
}

type snapshot struct {
	received time.Time
	samples  []*model.MetricSample
}

// Collector keeps the most recent batch per (subsystem, instance) and turns
// it into const metrics on every scrape. Snapshots older than the TTL are
// dropped so a vanished instance stops being exported.
//
// Collector describes no metrics up front, which makes it an unchecked
// collector: the metric set follows whatever the documents contain.
type Collector struct {
	namespace string
	ttl       time.Duration
	now       func() time.Time

	mu        sync.Mutex
	snapshots map[snapshotKey]snapshot

	walks        *prometheus.CounterVec
	walkDuration *prometheus.HistogramVec
	diagnostics  *prometheus.CounterVec
	dropped      prometheus.Counter
	live         prometheus.GaugeFunc
}

// NewCollector creates a collector. Register it with Register.
func NewCollector(conf ...Config) *Collector {
	c := &Collector{
		namespace: model.DefaultNamespace,
		ttl:       model.DefaultMetricsTTL,
		now:       time.Now,
		snapshots: make(map[snapshotKey]snapshot),
	}
	if len(conf) > 0 {
		if conf[0].Namespace != "" {
			c.namespace = conf[0].Namespace
		}
		if conf[0].TTL > 0 {
			c.ttl = conf[0].TTL
		}
		if conf[0].Now != nil {
			c.now = conf[0].Now
		}
	}

	c.walks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "statwalk",
		Name:      "walks_total",
		Help:      "Documents walked, by subsystem.",
	}, []string{"subsystem"})
	c.walkDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "statwalk",
		Name:      "walk_duration_seconds",
		Help:      "Time spent walking one document.",
		Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
	}, []string{"subsystem"})
	c.diagnostics = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "statwalk",
		Name:      "diagnostics_total",
		Help:      "Diagnostics reported by walks, by subsystem and kind.",
	}, []string{"subsystem", "kind"})
	c.dropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "statwalk",
		Name:      "dropped_samples_total",
		Help:      "Samples that could not be exported (invalid name or conflicting type).",
	})
	c.live = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "statwalk",
		Name:      "snapshots",
		Help:      "Instances whose latest walk is currently exported.",
	}, func() float64 { return float64(c.Live()) })
	return c
}

// Register adds the collector and its self-metrics to reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c, c.walks, c.walkDuration, c.diagnostics, c.dropped, c.live} {
		if err := reg.Register(col); err != nil {
			return fmt.Errorf("promexport: register: %w", err)
		}
	}
	return nil
}

// Consume replaces the snapshot for the batch's (subsystem, instance) and
// updates the walk counters.
func (c *Collector) Consume(b *ingest.Batch) {
	c.walks.WithLabelValues(b.Subsystem).Inc()
	c.walkDuration.WithLabelValues(b.Subsystem).Observe(b.Duration.Seconds())
	for _, d := range b.Diagnostics {
		c.diagnostics.WithLabelValues(b.Subsystem, d.Kind.String()).Inc()
	}

	c.mu.Lock()
	c.snapshots[snapshotKey{subsystem: b.Subsystem, instance: b.Instance}] = snapshot{
		received: c.now(),
		samples:  b.Samples,
	}
	c.mu.Unlock()
}

// Live returns the number of unexpired snapshots.
func (c *Collector) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()
	return len(c.snapshots)
}

func (c *Collector) expireLocked() {
	cutoff := c.now().Add(-c.ttl)
	for k, s := range c.snapshots {
		if s.received.Before(cutoff) {
			delete(c.snapshots, k)
		}
	}
}

// Describe sends nothing; see Collector.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// family is every sample sharing one exported name.
type family struct {
	name      string
	kind      model.MetricKind
	subsystem string
	labelKeys map[string]struct{}
	samples   []*model.MetricSample
}

// Collect emits the current snapshots. Label sets are unioned per metric
// name so every series of a family has the same label names; a label a
// sample lacks is exported empty, which Prometheus treats as absent.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	c.expireLocked()
	keys := make([]snapshotKey, 0, len(c.snapshots))
	for k := range c.snapshots {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].subsystem != keys[j].subsystem {
			return keys[i].subsystem < keys[j].subsystem
		}
		return keys[i].instance < keys[j].instance
	})
	families := make(map[string]*family)
	var order []string
	for _, k := range keys {
		for _, s := range c.snapshots[k].samples {
			name := c.metricName(s.Subsystem, s.Name)
			f, ok := families[name]
			if !ok {
				f = &family{name: name, kind: s.Kind, subsystem: s.Subsystem, labelKeys: make(map[string]struct{})}
				families[name] = f
				order = append(order, name)
			}
			if s.Kind != f.kind {
				c.dropped.Inc()
				continue
			}
			for lk := range s.Labels {
				f.labelKeys[exportedLabel(lk)] = struct{}{}
			}
			f.samples = append(f.samples, s)
		}
	}
	c.mu.Unlock()

	for _, name := range order {
		c.collectFamily(ch, families[name])
	}
}

func (c *Collector) collectFamily(ch chan<- prometheus.Metric, f *family) {
	labelNames := make([]string, 0, len(f.labelKeys)+1)
	labelNames = append(labelNames, InstanceLabel)
	for lk := range f.labelKeys {
		labelNames = append(labelNames, lk)
	}
	sort.Strings(labelNames[1:])

	valueType := prometheus.GaugeValue
	if f.kind == model.Counter {
		valueType = prometheus.CounterValue
	}
	desc := prometheus.NewDesc(f.name, fmt.Sprintf("%s %s from the %s subsystem.", f.kind, f.name, f.subsystem), labelNames, nil)

	seen := make(map[string]struct{}, len(f.samples))
	for _, s := range f.samples {
		values := make([]string, len(labelNames))
		values[0] = s.Instance
		for lk, lv := range s.Labels {
			values[indexOf(labelNames, exportedLabel(lk))] = lv
		}
		id := strings.Join(values, "\xff")
		if _, dup := seen[id]; dup {
			c.dropped.Inc()
			continue
		}
		seen[id] = struct{}{}

		m, err := prometheus.NewConstMetric(desc, valueType, s.Value, values...)
		if err != nil {
			c.dropped.Inc()
			continue
		}
		ch <- m
	}
}

// metricName builds <namespace>_<subsystem>_<name>.
func (c *Collector) metricName(subsystem, name string) string {
	return sanitize(c.namespace) + "_" + sanitize(subsystem) + "_" + sanitize(name)
}

// exportedLabel maps a metric label name to a valid Prometheus label name
// that cannot collide with the instance label.
func exportedLabel(name string) string {
	name = sanitize(name)
	if name == InstanceLabel {
		return "exported_" + InstanceLabel
	}
	return name
}

// sanitize replaces every character outside [a-zA-Z0-9_] and prefixes a
// leading digit.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 1)
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}
