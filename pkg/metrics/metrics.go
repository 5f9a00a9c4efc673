package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "msgbus"

	// Status label values for success/error metrics
	StatusSuccess = "success"
	StatusError   = "error"
	StatusTimeout = "timeout"
	StatusNacked  = "nacked"

	StatusDeadLettered = "dead_lettered"

	KafkaConsumer = "kafka_consumer"
	KafkaProducer = "kafka_producer"
	KafkaOffset   = "kafka_offset"
	Relay         = "relay"
)

// Labels holds constant labels applied to all metrics.
// These are useful for distinguishing metrics from multiple relay instances.
type Labels struct {
	Service       string // Logical service name (e.g., "orders-relay")
	Environment   string // Deployment environment (e.g., "production", "staging", "development")
	Region        string // Cloud region (e.g., "us-east-1", "eu-west-1")
	CloudProvider string // Cloud provider (e.g., "aws", "oci", "gcp")
}

// toPrometheusLabels converts Labels to prometheus.Labels map.
// Only non-empty labels are included to avoid empty label values.
func (l Labels) toPrometheusLabels() prometheus.Labels {
	labels := prometheus.Labels{}
	if l.Service != "" {
		labels["service"] = l.Service
	}
	if l.Environment != "" {
		labels["environment"] = l.Environment
	}
	if l.Region != "" {
		labels["region"] = l.Region
	}
	if l.CloudProvider != "" {
		labels["cloud_provider"] = l.CloudProvider
	}
	return labels
}

// Metrics records message bus activity. A nil *Metrics is valid and records
// nothing, so components can run without a registry.
type Metrics struct {
	// Consumer handle state
	handleRefs   prometheus.Gauge
	openMessages prometheus.Gauge

	// Consumer metrics
	messagesReceived *prometheus.CounterVec // by topic, partition
	pollErrors       *prometheus.CounterVec // by severity (fatal/non_fatal)
	acknowledgements *prometheus.CounterVec // by op, status
	rebalanceEvents  *prometheus.CounterVec // by type
	assignedDelta    *prometheus.CounterVec // partitions by type

	// Sliding window offset metrics
	lastCommittedOffset *prometheus.GaugeVec
	offsetWindowSize    *prometheus.GaugeVec
	offsetCommits       *prometheus.CounterVec

	// Producer metrics
	sends        *prometheus.CounterVec   // by topic, status
	sendDuration *prometheus.HistogramVec // by topic

	// Relay metrics
	messagesRelayed  *prometheus.CounterVec // by status
	relayDuration    prometheus.Histogram
	messagesInFlight prometheus.Gauge
}

// New creates a new Metrics instance and registers all metrics with the provided registerer.
// Returns an error if any metric registration fails.
// For metrics with constant labels (e.g., service), use NewWithLabels instead.
func New(reg prometheus.Registerer) (*Metrics, error) {
	return NewWithLabels(reg, Labels{})
}

// NewWithLabels creates a new Metrics instance with constant labels applied to all metrics.
func NewWithLabels(reg prometheus.Registerer, labels Labels) (*Metrics, error) {
	// Wrap the registerer with constant labels if any are provided
	promLabels := labels.toPrometheusLabels()
	if len(promLabels) > 0 {
		reg = prometheus.WrapRegistererWith(promLabels, reg)
	}

	return newMetrics(reg)
}

// durationBuckets cover 1ms to 10s.
var durationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// newMetrics is the internal constructor that creates and registers all metrics.
func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		handleRefs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: KafkaConsumer,
			Name:      "handle_refs",
			Help:      "Live references on the consumer handle (bus, stream and open messages)",
		}),
		openMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: KafkaConsumer,
			Name:      "open_messages",
			Help:      "Messages read from the stream and not closed yet",
		}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: KafkaConsumer,
			Name:      "messages_received_total",
			Help:      "Total messages received by topic and partition",
		}, []string{"topic", "partition"}),
		pollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: KafkaConsumer,
			Name:      "poll_errors_total",
			Help:      "Total poll errors by severity",
		}, []string{"severity"}),
		acknowledgements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: KafkaConsumer,
			Name:      "acknowledgements_total",
			Help:      "Total ack, nack and reject calls by outcome",
		}, []string{"op", "status"}),
		rebalanceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: KafkaConsumer,
			Name:      "rebalance_events_total",
			Help:      "Total rebalance events by type",
		}, []string{"type"}),
		assignedDelta: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: KafkaConsumer,
			Name:      "rebalance_partitions_total",
			Help:      "Total partitions assigned or revoked",
		}, []string{"type"}),
		lastCommittedOffset: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: KafkaOffset,
			Name:      "last_committed",
			Help:      "Last offset successfully committed to Kafka for each topic partition",
		}, []string{"topic", "partition"}),
		offsetWindowSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: KafkaOffset,
			Name:      "window_size",
			Help:      "Number of offsets currently in the sliding window awaiting commit for each topic partition",
		}, []string{"topic", "partition"}),
		offsetCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: KafkaOffset,
			Name:      "commits_total",
			Help:      "Total number of offset commit attempts by topic, partition and status",
		}, []string{"topic", "partition", "status"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: KafkaProducer,
			Name:      "sends_total",
			Help:      "Total sends by destination topic and status",
		}, []string{"topic", "status"}),
		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: KafkaProducer,
			Name:      "send_duration_seconds",
			Help:      "Time from send to delivery report",
			Buckets:   durationBuckets,
		}, []string{"topic"}),
		messagesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Relay,
			Name:      "messages_total",
			Help:      "Total relayed messages by status",
		}, []string{"status"}),
		relayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Relay,
			Name:      "duration_seconds",
			Help:      "Time to relay a single message end-to-end",
			Buckets:   durationBuckets,
		}),
		messagesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Relay,
			Name:      "in_flight",
			Help:      "Messages currently being relayed",
		}),
	}

	err := errors.Join(
		reg.Register(m.handleRefs),
		reg.Register(m.openMessages),
		reg.Register(m.messagesReceived),
		reg.Register(m.pollErrors),
		reg.Register(m.acknowledgements),
		reg.Register(m.rebalanceEvents),
		reg.Register(m.assignedDelta),
		reg.Register(m.lastCommittedOffset),
		reg.Register(m.offsetWindowSize),
		reg.Register(m.offsetCommits),
		reg.Register(m.sends),
		reg.Register(m.sendDuration),
		reg.Register(m.messagesRelayed),
		reg.Register(m.relayDuration),
		reg.Register(m.messagesInFlight),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// SetHandleRefs sets the consumer handle reference gauge.
func (m *Metrics) SetHandleRefs(n int64) {
	if m == nil {
		return
	}
	m.handleRefs.Set(float64(n))
}

// OpenMessagesInc increments the open message gauge.
func (m *Metrics) OpenMessagesInc() {
	if m == nil {
		return
	}
	m.openMessages.Inc()
}

// OpenMessagesDec decrements the open message gauge.
func (m *Metrics) OpenMessagesDec() {
	if m == nil {
		return
	}
	m.openMessages.Dec()
}

// MessageReceived records a message read from topic and partition.
func (m *Metrics) MessageReceived(topic string, partition int32) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(topic, partitionLabel(partition)).Inc()
}

// PollError records a failed poll.
func (m *Metrics) PollError(fatal bool) {
	if m == nil {
		return
	}
	severity := "non_fatal"
	if fatal {
		severity = "fatal"
	}
	m.pollErrors.WithLabelValues(severity).Inc()
}

// Acknowledged records the outcome of an ack, nack or reject.
func (m *Metrics) Acknowledged(op string, err error) {
	if m == nil {
		return
	}
	m.acknowledgements.WithLabelValues(op, statusOf(err)).Inc()
}

// RebalanceEvent records an "assigned" or "revoked" rebalance of n partitions.
func (m *Metrics) RebalanceEvent(eventType string, n int) {
	if m == nil {
		return
	}
	m.rebalanceEvents.WithLabelValues(eventType).Inc()
	m.assignedDelta.WithLabelValues(eventType).Add(float64(n))
}

// OffsetCommitted records a sliding window commit attempt. The committed
// offset gauge only moves on success.
func (m *Metrics) OffsetCommitted(topic string, partition int32, offset int64, err error) {
	if m == nil {
		return
	}
	p := partitionLabel(partition)
	m.offsetCommits.WithLabelValues(topic, p, statusOf(err)).Inc()
	if err == nil {
		m.lastCommittedOffset.WithLabelValues(topic, p).Set(float64(offset))
	}
}

// SetOffsetWindowSize sets the number of offsets waiting in a topic
// partition's window.
func (m *Metrics) SetOffsetWindowSize(topic string, partition int32, n int) {
	if m == nil {
		return
	}
	m.offsetWindowSize.WithLabelValues(topic, partitionLabel(partition)).Set(float64(n))
}

// ObserveSend records a send to topic with the given status.
func (m *Metrics) ObserveSend(topic, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(topic, status).Inc()
	m.sendDuration.WithLabelValues(topic).Observe(d.Seconds())
}

// IncMessagesInFlight increments the in-flight relay gauge.
func (m *Metrics) IncMessagesInFlight() {
	if m == nil {
		return
	}
	m.messagesInFlight.Inc()
}

// DecMessagesInFlight decrements the in-flight relay gauge.
func (m *Metrics) DecMessagesInFlight() {
	if m == nil {
		return
	}
	m.messagesInFlight.Dec()
}

// RecordMessageRelayed records the outcome of relaying one message.
func (m *Metrics) RecordMessageRelayed(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.messagesRelayed.WithLabelValues(status).Inc()
	m.relayDuration.Observe(d.Seconds())
}

func partitionLabel(partition int32) string {
	return strconv.FormatInt(int64(partition), 10)
}

func statusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}
