// Package usage records what the response pipeline kept and dropped.
// The pipeline reports through the Recorder interface; the Prometheus
// implementation backs the /metrics endpoint.
package usage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Marker families.
const (
	FamilyEvent     = "event"
	FamilyPlace     = "place"
	FamilyMap       = "map"
	FamilyDocument  = "document"
	FamilyTelematic = "telematic"
)

// Drop reasons.
const (
	ReasonMalformed     = "malformed"
	ReasonMissingFields = "missing_fields"
	ReasonUnverifiable  = "unverifiable"
	ReasonWrongYear     = "wrong_year"
	ReasonOutOfWindow   = "out_of_window"
	ReasonAlreadySeen   = "already_seen"
	ReasonOverCap       = "over_cap"
)

// Recorder receives pipeline outcomes. Implementations must be safe for concurrent use.
type Recorder interface {
	Extracted(family string)
	Dropped(family, reason string)
	ResolverCall(outcome string, d time.Duration)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Extracted(string)                   {}
func (Nop) Dropped(string, string)             {}
func (Nop) ResolverCall(string, time.Duration) {}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}

// PrometheusRecorder exports pipeline counters.
type PrometheusRecorder struct {
	extracted *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	resolver  *prometheus.HistogramVec
}

// NewPrometheusRecorder creates the collectors and registers them on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		extracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "civicbot",
			Name:      "entities_extracted_total",
			Help:      "Marker payloads extracted from model output by family",
		}, []string{"family"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "civicbot",
			Name:      "entities_dropped_total",
			Help:      "Entities dropped by the pipeline by family and reason",
		}, []string{"family", "reason"}),
		resolver: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "civicbot",
			Name:      "place_resolver_seconds",
			Help:      "Place resolver latency by outcome",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{r.extracted, r.dropped, r.resolver} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *PrometheusRecorder) Extracted(family string) {
	r.extracted.WithLabelValues(family).Inc()
}

func (r *PrometheusRecorder) Dropped(family, reason string) {
	r.dropped.WithLabelValues(family, reason).Inc()
}

func (r *PrometheusRecorder) ResolverCall(outcome string, d time.Duration) {
	r.resolver.WithLabelValues(outcome).Observe(d.Seconds())
}
