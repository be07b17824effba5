// Package otlpexport converts walk results into OTLP metrics and pushes them
// to a collector over gRPC.
package otlpexport

import (
	"sort"
	"time"

	collectormetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/tinytelemetry/statwalk/internal/model"
)

// Resource and scope identification.
const (
	ScopeName           = "github.com/tinytelemetry/statwalk"
	AttrServiceInstance = "service.instance.id"
	AttrDBSystem        = "db.system"
	AttrSubsystem       = "statwalk.subsystem"
	DBSystemMongoDB     = "mongodb"
)

// RequestOptions tunes BuildRequest.
type RequestOptions struct {
	// Namespace prefixes metric names as <namespace>.<subsystem>.<name>.
	Namespace string
	// Version is reported as the instrumentation scope version.
	Version string
	// StartTime is the start of cumulative counters. Zero leaves it unset.
	StartTime time.Time
}

type resourceKey struct {
	subsystem string
	instance  string
}

// BuildRequest groups samples by (subsystem, instance) into one
// ResourceMetrics each. Gauges map to Gauge points and counters to
// cumulative monotonic Sum points; labels become point attributes.
func BuildRequest(samples []*model.MetricSample, opts RequestOptions) *collectormetricspb.ExportMetricsServiceRequest {
	if opts.Namespace == "" {
		opts.Namespace = model.DefaultNamespace
	}

	grouped := make(map[resourceKey][]*model.MetricSample)
	var keys []resourceKey
	for _, s := range samples {
		k := resourceKey{subsystem: s.Subsystem, instance: s.Instance}
		if _, ok := grouped[k]; !ok {
			keys = append(keys, k)
		}
		grouped[k] = append(grouped[k], s)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].subsystem != keys[j].subsystem {
			return keys[i].subsystem < keys[j].subsystem
		}
		return keys[i].instance < keys[j].instance
	})

	req := &collectormetricspb.ExportMetricsServiceRequest{}
	for _, k := range keys {
		req.ResourceMetrics = append(req.ResourceMetrics, &metricspb.ResourceMetrics{
			Resource: &resourcepb.Resource{
				Attributes: []*commonpb.KeyValue{
					stringAttr(AttrServiceInstance, k.instance),
					stringAttr(AttrDBSystem, DBSystemMongoDB),
					stringAttr(AttrSubsystem, k.subsystem),
				},
			},
			ScopeMetrics: []*metricspb.ScopeMetrics{{
				Scope: &commonpb.InstrumentationScope{
					Name:    ScopeName,
					Version: opts.Version,
				},
				Metrics: buildMetrics(grouped[k], opts),
			}},
		})
	}
	return req
}

// buildMetrics folds samples sharing a name into one Metric with several points.
func buildMetrics(samples []*model.MetricSample, opts RequestOptions) []*metricspb.Metric {
	byName := make(map[string]*metricspb.Metric)
	var out []*metricspb.Metric
	for _, s := range samples {
		name := opts.Namespace + "." + s.Subsystem + "." + s.Name
		point := &metricspb.NumberDataPoint{
			Attributes:   labelAttrs(s.Labels),
			TimeUnixNano: unixNano(s.Timestamp),
			Value:        &metricspb.NumberDataPoint_AsDouble{AsDouble: s.Value},
		}

		m, ok := byName[name]
		if !ok {
			m = &metricspb.Metric{Name: name}
			switch s.Kind {
			case model.Counter:
				m.Data = &metricspb.Metric_Sum{Sum: &metricspb.Sum{
					AggregationTemporality: metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE,
					IsMonotonic:            true,
				}}
			default:
				m.Data = &metricspb.Metric_Gauge{Gauge: &metricspb.Gauge{}}
			}
			byName[name] = m
			out = append(out, m)
		}

		switch data := m.Data.(type) {
		case *metricspb.Metric_Sum:
			if s.Kind != model.Counter {
				continue
			}
			point.StartTimeUnixNano = unixNano(opts.StartTime)
			data.Sum.DataPoints = append(data.Sum.DataPoints, point)
		case *metricspb.Metric_Gauge:
			if s.Kind != model.Gauge {
				continue
			}
			data.Gauge.DataPoints = append(data.Gauge.DataPoints, point)
		}
	}
	return out
}

func labelAttrs(labels model.Labels) []*commonpb.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	attrs := make([]*commonpb.KeyValue, 0, len(labels))
	for _, k := range labels.Keys() {
		attrs = append(attrs, stringAttr(k, labels[k]))
	}
	return attrs
}

func stringAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}},
	}
}

func unixNano(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano())
}

// RenderJSON renders a request in the OTLP/JSON encoding.
func RenderJSON(req *collectormetricspb.ExportMetricsServiceRequest) ([]byte, error) {
	return protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(req)
}
