package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_http_requests_total",
			Help: "Total number of HTTP requests processed by the messaging service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "messaging_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "messaging_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_ws_events_total",
			Help: "Total number of websocket lifecycle events.",
		},
		[]string{"event"},
	)
	messagesRoutedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_messages_routed_total",
			Help: "Total number of messages accepted and persisted by the router.",
		},
	)
	deliveryTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_delivery_transitions_total",
			Help: "Total number of delivery-record status transitions.",
		},
		[]string{"status"},
	)
	queueEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_queue_evictions_total",
			Help: "Connections evicted because their outbound queue was full.",
		},
	)
	presenceEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_presence_events_total",
			Help: "Total number of presence transitions broadcast.",
		},
		[]string{"state"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		messagesRoutedTotal,
		deliveryTransitionsTotal,
		queueEvictionsTotal,
		presenceEventsTotal,
		amqpPublishErrorsTotal,
	)
}

// HTTPMetricsMiddleware records request counts and latencies per route.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive() { wsActiveConnections.Inc() }

func DecWSActive() { wsActiveConnections.Dec() }

func IncWSEvent(event string) { wsEventsTotal.WithLabelValues(event).Inc() }

func IncMessageRouted() { messagesRoutedTotal.Inc() }

func IncDeliveryTransition(status string) { deliveryTransitionsTotal.WithLabelValues(status).Inc() }

func IncQueueEviction() { queueEvictionsTotal.Inc() }

func IncPresenceEvent(state string) { presenceEventsTotal.WithLabelValues(state).Inc() }

func IncAMQPPublishError() { amqpPublishErrorsTotal.Inc() }
