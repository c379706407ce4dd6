package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector records swarm engine metrics. A nil *Collector is valid and
// disables collection, so callers never guard their Record calls.
type Collector struct {
	agentRunsTotal   *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec
	agentTokensUsed  *prometheus.CounterVec

	messagesSent     *prometheus.CounterVec
	messagesRejected *prometheus.CounterVec

	dispatchesTotal  *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec

	blackboardWrites *prometheus.CounterVec
	eventsEmitted    *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates a metrics collector registered under the given
// prometheus namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.agentRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_runs_total",
			Help:      "Total number of agent invocations",
		},
		[]string{"agent", "status"},
	)

	c.agentRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_run_duration_seconds",
			Help:      "Agent invocation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"agent"},
	)

	c.agentTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_tokens_used_total",
			Help:      "Total tokens reported by agent runs",
		},
		[]string{"agent"},
	)

	c.messagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total number of swarm messages accepted by the bus",
		},
		[]string{"type"},
	)

	c.messagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_rejected_total",
			Help:      "Total number of swarm messages rejected before recording",
		},
		[]string{"reason"},
	)

	c.dispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Total number of distributed job dispatches",
		},
		[]string{"status"},
	)

	c.dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Distributed dispatch round-trip duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		},
		[]string{"agent"},
	)

	c.blackboardWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blackboard_writes_total",
			Help:      "Total number of blackboard writes",
		},
		[]string{"section"},
	)

	c.eventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Total number of swarm events emitted",
		},
		[]string{"type"},
	)

	return c
}

// RecordAgentRun records one agent invocation outcome.
func (c *Collector) RecordAgentRun(agent, status string, d time.Duration, totalTokens int) {
	if c == nil {
		return
	}
	c.agentRunsTotal.WithLabelValues(agent, status).Inc()
	c.agentRunDuration.WithLabelValues(agent).Observe(d.Seconds())
	if totalTokens > 0 {
		c.agentTokensUsed.WithLabelValues(agent).Add(float64(totalTokens))
	}
}

// RecordMessageSent records an accepted bus message.
func (c *Collector) RecordMessageSent(msgType string) {
	if c == nil {
		return
	}
	c.messagesSent.WithLabelValues(msgType).Inc()
}

// RecordMessageRejected records a bus rejection by reason.
func (c *Collector) RecordMessageRejected(reason string) {
	if c == nil {
		return
	}
	c.messagesRejected.WithLabelValues(reason).Inc()
}

// RecordDispatch records one distributed dispatch outcome.
func (c *Collector) RecordDispatch(agent, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.dispatchesTotal.WithLabelValues(status).Inc()
	c.dispatchDuration.WithLabelValues(agent).Observe(d.Seconds())
}

// RecordBlackboardWrite records one blackboard write.
func (c *Collector) RecordBlackboardWrite(section string) {
	if c == nil {
		return
	}
	c.blackboardWrites.WithLabelValues(section).Inc()
}

// RecordEvent records one emitted swarm event.
func (c *Collector) RecordEvent(eventType string) {
	if c == nil {
		return
	}
	c.eventsEmitted.WithLabelValues(eventType).Inc()
}
