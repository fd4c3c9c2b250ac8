package prommetrics

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-identity-sync/core"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultBuckets covers millisecond durations from a few ms to roughly 20 minutes.
var DefaultBuckets = prometheus.ExponentialBuckets(5, 2, 18)

// Recorder implements core.MetricsRecorder on top of prometheus vectors. The
// label set of a metric is fixed by its first observation; later tags missing
// a label record an empty value and unknown tags are dropped.
type Recorder struct {
	registerer prometheus.Registerer
	buckets    []float64

	mu         sync.Mutex
	counters   map[string]*counterEntry
	histograms map[string]*histogramEntry
}

type counterEntry struct {
	vec    *prometheus.CounterVec
	labels []string
}

type histogramEntry struct {
	vec    *prometheus.HistogramVec
	labels []string
}

type Option func(*Recorder)

func WithBuckets(buckets []float64) Option {
	return func(r *Recorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

func NewRecorder(registerer prometheus.Registerer, opts ...Option) *Recorder {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		registerer: registerer,
		buckets:    DefaultBuckets,
		counters:   map[string]*counterEntry{},
		histograms: map[string]*histogramEntry{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	name = MetricName(name)
	if name == "" {
		return
	}
	r.mu.Lock()
	entry, ok := r.counters[name]
	if !ok {
		labels := labelNames(tags)
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name,
			Help: "identity sync counter " + name,
		}, labels)
		registered, err := register(r.registerer, vec)
		if err != nil {
			r.mu.Unlock()
			return
		}
		entry = &counterEntry{vec: registered.(*prometheus.CounterVec), labels: labels}
		r.counters[name] = entry
	}
	r.mu.Unlock()

	counter, err := entry.vec.GetMetricWithLabelValues(labelValues(entry.labels, tags)...)
	if err != nil {
		return
	}
	counter.Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	name = MetricName(name)
	if name == "" {
		return
	}
	r.mu.Lock()
	entry, ok := r.histograms[name]
	if !ok {
		labels := labelNames(tags)
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    "identity sync histogram " + name,
			Buckets: r.buckets,
		}, labels)
		registered, err := register(r.registerer, vec)
		if err != nil {
			r.mu.Unlock()
			return
		}
		entry = &histogramEntry{vec: registered.(*prometheus.HistogramVec), labels: labels}
		r.histograms[name] = entry
	}
	r.mu.Unlock()

	observer, err := entry.vec.GetMetricWithLabelValues(labelValues(entry.labels, tags)...)
	if err != nil {
		return
	}
	observer.Observe(value)
}

// register reuses a collector another recorder already registered under the
// same descriptor.
func register(registerer prometheus.Registerer, collector prometheus.Collector) (prometheus.Collector, error) {
	if err := registerer.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return already.ExistingCollector, nil
		}
		return nil, err
	}
	return collector, nil
}

// MetricName converts dotted metric names into the prometheus charset.
func MetricName(name string) string {
	return sanitize(strings.TrimSpace(name), true)
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	seen := map[string]struct{}{}
	for key := range tags {
		label := sanitize(strings.TrimSpace(key), false)
		if label == "" || strings.HasPrefix(label, "__") {
			continue
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		names = append(names, label)
	}
	sort.Strings(names)
	return names
}

func labelValues(labels []string, tags map[string]string) []string {
	byLabel := make(map[string]string, len(tags))
	for key, value := range tags {
		byLabel[sanitize(strings.TrimSpace(key), false)] = value
	}
	values := make([]string, len(labels))
	for i, label := range labels {
		values[i] = byLabel[label]
	}
	return values
}

func sanitize(value string, allowColon bool) string {
	if value == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(value))
	for i, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r == ':' && allowColon:
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
	return b.String()
}

var _ core.MetricsRecorder = (*Recorder)(nil)
