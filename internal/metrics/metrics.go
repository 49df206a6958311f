// Package metrics exposes fan-out counters through a private Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Failure reasons used as the "reason" label.
const (
	ReasonHandleClosed = "handle_closed"
	ReasonStaleHandle  = "stale_handle"
	ReasonMailboxFull  = "mailbox_full"
	ReasonEvicted      = "evicted"
	ReasonOther        = "other"
)

// Collector records publish and delivery activity. A nil *Collector is a
// valid no-op, so components can take one unconditionally.
type Collector struct {
	registry      *prometheus.Registry
	published     *prometheus.CounterVec
	delivered     *prometheus.CounterVec
	failed        *prometheus.CounterVec
	evicted       *prometheus.CounterVec
	handlerErrors *prometheus.CounterVec
	subscriptions *prometheus.GaugeVec
}

// New builds a Collector whose metric names are prefixed with namespace.
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = "fanout"
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Messages accepted by Publish, per topic.",
		}, []string{"topic"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Messages enqueued into an observer mailbox, per topic.",
		}, []string{"topic"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Deliveries that could not be enqueued, per topic and reason.",
		}, []string{"topic", "reason"}),
		evicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_evicted_total",
			Help:      "Queued messages evicted by a drop-oldest mailbox, per topic.",
		}, []string{"topic"}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_errors_total",
			Help:      "Observer handler errors and panics, per observer name.",
		}, []string{"observer"}),
		subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions",
			Help:      "Registered (handle, topic) pairs per subject; topic \"*\" is the all-topics bucket.",
		}, []string{"subject"}),
	}

	c.registry.MustRegister(
		c.published,
		c.delivered,
		c.failed,
		c.evicted,
		c.handlerErrors,
		c.subscriptions,
		collectors.NewGoCollector(),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Published counts one accepted publish.
func (c *Collector) Published(topic string) {
	if c == nil {
		return
	}
	c.published.WithLabelValues(topic).Inc()
}

// Delivered counts one successful enqueue.
func (c *Collector) Delivered(topic string) {
	if c == nil {
		return
	}
	c.delivered.WithLabelValues(topic).Inc()
}

// Failed counts one failed delivery.
func (c *Collector) Failed(topic, reason string) {
	if c == nil {
		return
	}
	c.failed.WithLabelValues(topic, reason).Inc()
}

// Evicted counts one message pushed out of a full mailbox.
func (c *Collector) Evicted(topic string) {
	if c == nil {
		return
	}
	c.evicted.WithLabelValues(topic).Inc()
}

// HandlerError counts one handler error or panic.
func (c *Collector) HandlerError(observer string) {
	if c == nil {
		return
	}
	c.handlerErrors.WithLabelValues(observer).Inc()
}

// SetSubscriptions records the current subscription count for a subject.
func (c *Collector) SetSubscriptions(subject string, n int) {
	if c == nil {
		return
	}
	c.subscriptions.WithLabelValues(subject).Set(float64(n))
}
