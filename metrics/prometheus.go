// Package metrics provides the Prometheus implementation of core.Metrics and
// collectors for transport statistics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/najoast/sage/core"
	"github.com/najoast/sage/network"
)

// Default histogram buckets for tick durations (in seconds).
var tickBuckets = []float64{
	.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1, .25,
}

// dispatchMetrics implements core.Metrics using Prometheus.
type dispatchMetrics struct {
	queuedTotal     *prometheus.CounterVec
	dispatchedTotal *prometheus.CounterVec
	droppedTotal    *prometheus.CounterVec
	tickDuration    *prometheus.HistogramVec
	tickProcessed   *prometheus.CounterVec
	ticksTotal      *prometheus.CounterVec
	queueDepth      *prometheus.GaugeVec
	groupFailures   *prometheus.CounterVec
}

// NewMetrics creates the dispatch metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) core.Metrics {
	m := &dispatchMetrics{
		queuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sage_messages_queued_total",
			Help: "Total number of messages queued",
		}, []string{"group", "message_type"}),

		dispatchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sage_messages_dispatched_total",
			Help: "Total number of messages dispatched",
		}, []string{"group", "message_type", "consumed"}),

		droppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sage_messages_dropped_total",
			Help: "Total number of messages no receiver was offered",
		}, []string{"group", "message_type"}),

		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sage_tick_duration_seconds",
			Help:    "Tick duration in seconds",
			Buckets: tickBuckets,
		}, []string{"group"}),

		tickProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sage_tick_messages_total",
			Help: "Total number of messages processed by ticks",
		}, []string{"group"}),

		ticksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sage_ticks_total",
			Help: "Total number of ticks",
		}, []string{"group", "flushed"}),

		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sage_queue_depth",
			Help: "Current number of queued messages",
		}, []string{"group"}),

		groupFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sage_group_failures_total",
			Help: "Total number of failed groups",
		}, []string{"group"}),
	}

	reg.MustRegister(
		m.queuedTotal,
		m.dispatchedTotal,
		m.droppedTotal,
		m.tickDuration,
		m.tickProcessed,
		m.ticksTotal,
		m.queueDepth,
		m.groupFailures,
	)

	return m
}

func (m *dispatchMetrics) MessageQueued(group, msgType string) {
	m.queuedTotal.WithLabelValues(group, msgType).Inc()
}

func (m *dispatchMetrics) MessageDispatched(group, msgType string, consumed bool) {
	m.dispatchedTotal.WithLabelValues(group, msgType, strconv.FormatBool(consumed)).Inc()
}

func (m *dispatchMetrics) MessageDropped(group, msgType string) {
	m.droppedTotal.WithLabelValues(group, msgType).Inc()
}

func (m *dispatchMetrics) TickCompleted(group string, elapsed time.Duration, processed int, flushed bool) {
	m.tickDuration.WithLabelValues(group).Observe(elapsed.Seconds())
	m.tickProcessed.WithLabelValues(group).Add(float64(processed))
	m.ticksTotal.WithLabelValues(group, strconv.FormatBool(flushed)).Inc()
}

func (m *dispatchMetrics) QueueDepth(group string, depth int) {
	m.queueDepth.WithLabelValues(group).Set(float64(depth))
}

func (m *dispatchMetrics) GroupFailed(group string) {
	m.groupFailures.WithLabelValues(group).Inc()
}

var _ core.Metrics = (*dispatchMetrics)(nil)

// StatisticsSource reports transport counters.
type StatisticsSource interface {
	Statistics() network.Statistics
}

// RegisterTransport exposes the counters of src as sage_transport_* metrics
// labelled with protocol.
func RegisterTransport(reg prometheus.Registerer, protocol network.Protocol, src StatisticsSource) error {
	labels := prometheus.Labels{"protocol": string(protocol)}
	collectors := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "sage_transport_packets_in_total",
			Help:        "Total number of packets received",
			ConstLabels: labels,
		}, func() float64 { return float64(src.Statistics().PacketsIn) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "sage_transport_packets_out_total",
			Help:        "Total number of packets sent",
			ConstLabels: labels,
		}, func() float64 { return float64(src.Statistics().PacketsOut) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "sage_transport_bytes_in_total",
			Help:        "Total number of bytes received",
			ConstLabels: labels,
		}, func() float64 { return float64(src.Statistics().BytesIn) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "sage_transport_bytes_out_total",
			Help:        "Total number of bytes sent",
			ConstLabels: labels,
		}, func() float64 { return float64(src.Statistics().BytesOut) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "sage_transport_peers",
			Help:        "Current number of peers",
			ConstLabels: labels,
		}, func() float64 { return float64(src.Statistics().Peers) }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
