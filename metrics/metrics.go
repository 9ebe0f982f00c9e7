package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bandlight/types"
)

// Iteration outcomes.
const (
	OutcomeDecided = "decided"
	OutcomeSkipped = "skipped"
	OutcomeEmpty   = "empty"
)

type Metrics struct {
	iterations        *prometheus.CounterVec
	channelFailures   *prometheus.CounterVec
	actuations        *prometheus.CounterVec
	actuatorErrors    prometheus.Counter
	acquisitionErrors prometheus.Counter
	bandPower         *prometheus.GaugeVec
	channelsUsed      prometheus.Gauge
	analysisDuration  prometheus.Histogram

	gatherer prometheus.Gatherer
}

// NewMetrics registers the loop metrics with reg. A nil reg uses a private
// registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		iterations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bandlight_iterations_total",
			Help: "Loop iterations by outcome.",
		}, []string{"outcome"}),
		channelFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bandlight_channel_failures_total",
			Help: "Channels excluded from an iteration, by pipeline stage.",
		}, []string{"stage"}),
		actuations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bandlight_actuations_total",
			Help: "Light commands delivered, by state.",
		}, []string{"state"}),
		actuatorErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "bandlight_actuator_errors_total",
			Help: "Light commands that failed to send.",
		}),
		acquisitionErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "bandlight_acquisition_errors_total",
			Help: "Windows that could not be read from the session.",
		}),
		bandPower: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bandlight_band_power",
			Help: "Channel-averaged band power of the last decided iteration.",
		}, []string{"band"}),
		channelsUsed: f.NewGauge(prometheus.GaugeOpts{
			Name: "bandlight_channels_used",
			Help: "Channels that contributed to the last decided iteration.",
		}),
		analysisDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "bandlight_analysis_duration_seconds",
			Help:    "Time spent preprocessing and estimating band power per window.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		gatherer: reg,
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Iteration(outcome string, took time.Duration) {
	m.iterations.WithLabelValues(outcome).Inc()
	if took > 0 {
		m.analysisDuration.Observe(took.Seconds())
	}
}

func (m *Metrics) ChannelFailure(stage string) {
	m.channelFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) AcquisitionError() { m.acquisitionErrors.Inc() }

func (m *Metrics) Actuation(s types.State, err error) {
	if err != nil {
		m.actuatorErrors.Inc()
		return
	}
	m.actuations.WithLabelValues(s.String()).Inc()
}

func (m *Metrics) Reading(r types.Reading) {
	m.bandPower.WithLabelValues(r.Band).Set(r.Mean)
	for _, o := range r.Others {
		m.bandPower.WithLabelValues(o.Band).Set(o.Mean)
	}
	m.channelsUsed.Set(float64(r.Channels))
}
