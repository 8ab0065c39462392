package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SinkMetrics exposes the daemon's counters to Prometheus. It is an Observer,
// so it sees exactly what the status board sees.
type SinkMetrics struct {
	registry *prometheus.Registry

	commandsDispatched *prometheus.CounterVec
	dispatcherState    *prometheus.GaugeVec
	transactionLabel   prometheus.Gauge
	pairingRequests    *prometheus.CounterVec
	handshakeEvents    *prometheus.CounterVec
	streamEvents       *prometheus.CounterVec
	framesForwarded    prometheus.Counter
	bytesForwarded     prometheus.Counter
	forwardDuration    prometheus.Histogram
	forwardErrors      *prometheus.CounterVec
}

// NewSinkMetrics creates the metrics and registers them, plus the Go and
// process collectors, on registry.
func NewSinkMetrics(registry *prometheus.Registry) (*SinkMetrics, error) {
	m := &SinkMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *SinkMetrics) initMetrics() {
	m.commandsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bluesink_commands_dispatched_total",
			Help: "Passthrough commands sent to the host",
		},
		[]string{"command"},
	)
	m.dispatcherState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bluesink_dispatcher_state",
			Help: "1 for the dispatcher's current state, 0 otherwise",
		},
		[]string{"state"},
	)
	m.transactionLabel = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bluesink_next_transaction_label",
		Help: "Label the next passthrough command will carry",
	})
	m.pairingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bluesink_pairing_requests_total",
			Help: "Numeric comparison requests by decision",
		},
		[]string{"decision", "decider"},
	)
	m.handshakeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bluesink_handshake_events_total",
			Help: "Pairing handshake events by kind",
		},
		[]string{"kind"},
	)
	m.streamEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bluesink_stream_events_total",
			Help: "Non-data stream events by kind",
		},
		[]string{"kind"},
	)
	m.framesForwarded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bluesink_audio_frames_forwarded_total",
		Help: "Sink data buffers written to the audio output",
	})
	m.bytesForwarded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bluesink_audio_bytes_forwarded_total",
		Help: "PCM bytes written to the audio output",
	})
	m.forwardDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bluesink_audio_forward_duration_seconds",
		Help:    "Time spent writing one buffer to the audio output",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 100us to ~26s
	})
	m.forwardErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bluesink_audio_forward_errors_total",
			Help: "Failed writes to the audio output",
		},
		[]string{"reason"},
	)
}

func (m *SinkMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.commandsDispatched,
		m.dispatcherState,
		m.transactionLabel,
		m.pairingRequests,
		m.handshakeEvents,
		m.streamEvents,
		m.framesForwarded,
		m.bytesForwarded,
		m.forwardDuration,
		m.forwardErrors,
	}
}

// Describe implements prometheus.Collector.
func (m *SinkMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *SinkMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// RegisterGaugeFunc exposes a value owned by another component (ring fill,
// underruns, ignored edges).
func (m *SinkMetrics) RegisterGaugeFunc(name, help string, fn func() float64) error {
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	}, fn))
}

// Handler serves the registry in the Prometheus text format.
func (m *SinkMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

func (m *SinkMetrics) DispatcherStateChanged(state DispatcherState) {
	for _, s := range []DispatcherState{DispatcherIdle, DispatcherArmed, DispatcherDispatching} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.dispatcherState.WithLabelValues(string(s)).Set(v)
	}
}

func (m *SinkMetrics) CommandDispatched(label TransactionLabel, cmd LogicalCommand) {
	m.commandsDispatched.WithLabelValues(cmd.String()).Inc()
	m.transactionLabel.Set(float64(label.Next()))
}

func (m *SinkMetrics) PairingRequest(_ ConfirmationRequest, accepted bool, decider string) {
	decision := "rejected"
	if accepted {
		decision = "accepted"
	}
	m.pairingRequests.WithLabelValues(decision, decider).Inc()
}

func (m *SinkMetrics) HandshakeObserved(ev HandshakeEvent) {
	m.handshakeEvents.WithLabelValues(ev.Kind()).Inc()
}

func (m *SinkMetrics) StreamEventObserved(ev StreamEvent) {
	m.streamEvents.WithLabelValues(ev.Kind()).Inc()
}

func (m *SinkMetrics) FrameForwarded(n int, elapsed time.Duration) {
	m.framesForwarded.Inc()
	m.bytesForwarded.Add(float64(n))
	m.forwardDuration.Observe(elapsed.Seconds())
}

func (m *SinkMetrics) ForwardFailed(err error) {
	reason := "error"
	if errors.Is(err, ErrForwardTimeout) {
		reason = "timeout"
	}
	m.forwardErrors.WithLabelValues(reason).Inc()
}
