// Package monitor implements Prometheus instrumentation for the transport.
package monitor

import (
	"sync"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/HorizonRepublic/jetbridge-go/contracts"
)

// Metrics is a prometheus-backed stats collector. It satisfies
// messaging.StatsCollector and can additionally observe provisioning
// readiness through WatchConsumer.
type Metrics struct {
	publishedTotal   *prometheus.CounterVec
	publishFailTotal *prometheus.CounterVec
	repliesMatched   prometheus.Counter
	repliesDropped   prometheus.Counter
	pendingRequests  prometheus.Gauge
	handledTotal     *prometheus.CounterVec
	handlerFailTotal *prometheus.CounterVec
	consumerPending  *prometheus.GaugeVec

	registerer prometheus.Registerer

	mu         sync.Mutex
	registered bool
}

func newCounterVec(service, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "jetbridge",
			Subsystem:   "transport",
			Name:        name,
			Help:        help,
			ConstLabels: prometheus.Labels{"service": service},
		},
		labels,
	)
}

func newCounter(service, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "jetbridge",
		Subsystem:   "transport",
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"service": service},
	})
}

// NewMetrics creates the collector set for one service instance. A nil
// registerer falls back to the default registry.
func NewMetrics(service string, registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		registerer:       registerer,
		publishedTotal:   newCounterVec(service, "messages_published_total", "Messages accepted by the durable stream", []string{"kind"}),
		publishFailTotal: newCounterVec(service, "publish_failures_total", "Publish attempts rejected before broker acknowledgment", []string{"kind"}),
		repliesMatched:   newCounter(service, "replies_matched_total", "Inbox replies matched to a pending command"),
		repliesDropped:   newCounter(service, "replies_dropped_total", "Inbox replies with no pending command"),
		pendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "jetbridge",
			Subsystem:   "transport",
			Name:        "pending_requests",
			Help:        "Commands awaiting a reply",
			ConstLabels: prometheus.Labels{"service": service},
		}),
		handledTotal:     newCounterVec(service, "messages_handled_total", "Deliveries acknowledged after handler success", []string{"kind"}),
		handlerFailTotal: newCounterVec(service, "handler_failures_total", "Handler invocations that returned an error", []string{"kind"}),
		consumerPending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   "jetbridge",
				Subsystem:   "transport",
				Name:        "consumer_pending_messages",
				Help:        "Unprocessed messages reported at consumer provisioning time",
				ConstLabels: prometheus.Labels{"service": service},
			},
			[]string{"kind"},
		),
	}
}

// Register registers all collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.publishedTotal,
		m.publishFailTotal,
		m.repliesMatched,
		m.repliesDropped,
		m.pendingRequests,
		m.handledTotal,
		m.handlerFailTotal,
		m.consumerPending,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

func (m *Metrics) MessagePublished(kind contracts.Kind) {
	m.publishedTotal.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) PublishFailed(kind contracts.Kind) {
	m.publishFailTotal.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) ReplyMatched() {
	m.repliesMatched.Inc()
}

func (m *Metrics) ReplyDropped() {
	m.repliesDropped.Inc()
}

func (m *Metrics) PendingRequests(n int) {
	m.pendingRequests.Set(float64(n))
}

func (m *Metrics) HandlerSucceeded(kind contracts.Kind) {
	m.handledTotal.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) HandlerFailed(kind contracts.Kind) {
	m.handlerFailTotal.WithLabelValues(kind.String()).Inc()
}

// WatchConsumer records the backlog reported for a freshly ensured consumer.
// It has the provision.ConsumerWatcher signature.
func (m *Metrics) WatchConsumer(kind contracts.Kind, info *jetstream.ConsumerInfo) {
	if info == nil {
		return
	}
	m.consumerPending.WithLabelValues(kind.String()).Set(float64(info.NumPending))
}
