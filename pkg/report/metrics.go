package report

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chksrv"

var attemptBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0}

// Collector holds the gauges describing one check run.
type Collector struct {
	success     *prometheus.GaugeVec
	attempts    *prometheus.GaugeVec
	layer       *prometheus.GaugeVec
	timing      *prometheus.GaugeVec
	attemptTime *prometheus.HistogramVec
}

// NewCollector creates the metrics and registers them on reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		success: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "success",
			Help:      "Whether the check run succeeded (1 = success, 0 = failure).",
		}, []string{"check", "target"}),
		attempts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "attempts",
			Help:      "Number of attempts made by the check run.",
		}, []string{"check", "target"}),
		layer: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "layer_success",
			Help:      "Whether a protocol layer succeeded in the last attempt.",
		}, []string{"check", "target", "layer"}),
		timing: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "timing_seconds",
			Help:      "Timings recorded by the last attempt in seconds.",
		}, []string{"check", "target", "key", "kind"}),
		attemptTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Duration of each attempt in seconds.",
			Buckets:   attemptBuckets,
		}, []string{"check", "target"}),
	}
	for _, col := range []prometheus.Collector{c.success, c.attempts, c.layer, c.timing, c.attemptTime} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Observe records s.
func (c *Collector) Observe(s Summary) {
	labels := prometheus.Labels{"check": s.Check.Type, "target": s.Check.Target}

	c.success.With(labels).Set(boolValue(s.Success))
	c.attempts.With(labels).Set(float64(len(s.Attempts)))
	for _, a := range s.Attempts {
		c.attemptTime.With(labels).Observe(a.Duration.Seconds())
	}

	for _, layer := range s.Results.Layers() {
		c.layer.WithLabelValues(s.Check.Type, s.Check.Target, layer).
			Set(boolValue(s.Results.Bool(layer + ".success")))
	}

	for key, v := range s.Results {
		prefix, kind, ok := timingKey(key)
		if !ok {
			continue
		}
		f, ok := v.(float64)
		if !ok {
			continue
		}
		c.timing.WithLabelValues(s.Check.Type, s.Check.Target, prefix, kind).Set(f)
	}
}

// timingKey splits "<prefix>.time.<kind>" into its prefix and kind.
func timingKey(key string) (prefix, kind string, ok bool) {
	i := strings.LastIndex(key, ".time.")
	if i <= 0 {
		return "", "", false
	}
	kind = key[i+len(".time."):]
	if kind != "perf" && kind != "process" {
		return "", "", false
	}
	return key[:i], kind, true
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// WriteTextfile writes the metrics of s to path in the Prometheus text
// format, for pickup by the node exporter textfile collector.
func WriteTextfile(path string, s Summary) error {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		return err
	}
	c.Observe(s)
	return prometheus.WriteToTextfile(path, reg)
}
