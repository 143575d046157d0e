// Package prometheus implements metrics.Client on top of a prometheus
// registry. Metric names are normalized to the prometheus character set;
// tags become labels.
package prometheus

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stageflow/stageflow/backend/metrics"
)

type vectors struct {
	reg prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

type client struct {
	v    *vectors
	tags metrics.Tags
}

func NewClient(reg prometheus.Registerer) metrics.Client {
	return &client{
		v: &vectors{
			reg:        reg,
			counters:   map[string]*prometheus.CounterVec{},
			gauges:     map[string]*prometheus.GaugeVec{},
			histograms: map[string]*prometheus.HistogramVec{},
		},
		tags: metrics.Tags{},
	}
}

func (c *client) Counter(name string, tags metrics.Tags, value int64) {
	labels := c.merge(tags)

	c.v.mu.Lock()
	cv, ok := c.v.counters[name]
	if !ok {
		cv = prometheus.NewCounterVec(prometheus.CounterOpts{Name: normalize(name)}, labelNames(labels))
		c.v.reg.MustRegister(cv)
		c.v.counters[name] = cv
	}
	c.v.mu.Unlock()

	cv.With(prometheus.Labels(labels)).Add(float64(value))
}

func (c *client) Gauge(name string, tags metrics.Tags, value int64) {
	labels := c.merge(tags)

	c.v.mu.Lock()
	gv, ok := c.v.gauges[name]
	if !ok {
		gv = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: normalize(name)}, labelNames(labels))
		c.v.reg.MustRegister(gv)
		c.v.gauges[name] = gv
	}
	c.v.mu.Unlock()

	gv.With(prometheus.Labels(labels)).Set(float64(value))
}

func (c *client) Distribution(name string, tags metrics.Tags, value float64) {
	c.observe(name, tags, value)
}

func (c *client) Timing(name string, tags metrics.Tags, duration time.Duration) {
	c.observe(name, tags, float64(duration)/float64(time.Millisecond))
}

func (c *client) WithTags(tags metrics.Tags) metrics.Client {
	return &client{
		v:    c.v,
		tags: c.merge(tags),
	}
}

func (c *client) observe(name string, tags metrics.Tags, value float64) {
	labels := c.merge(tags)

	c.v.mu.Lock()
	hv, ok := c.v.histograms[name]
	if !ok {
		hv = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: normalize(name)}, labelNames(labels))
		c.v.reg.MustRegister(hv)
		c.v.histograms[name] = hv
	}
	c.v.mu.Unlock()

	hv.With(prometheus.Labels(labels)).Observe(value)
}

func (c *client) merge(tags metrics.Tags) metrics.Tags {
	merged := make(metrics.Tags, len(c.tags)+len(tags))
	for k, v := range c.tags {
		merged[k] = v
	}
	for k, v := range tags {
		merged[k] = v
	}
	return merged
}

func labelNames(tags metrics.Tags) []string {
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, k)
	}
	return names
}

func normalize(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}
