package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry is the registry exposed on the daemon's /metrics endpoint.
var Registry = prometheus.NewRegistry()

var (
	// BrokerConnected is 1 while the MQTT client holds a connection to a broker.
	BrokerConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "earpm_broker_connected",
			Help: "Whether the MQTT client is connected to a broker (1=connected, 0=disconnected).",
		},
	)

	// BrokersKnown is the number of entries in the broker info registry.
	BrokersKnown = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "earpm_brokers_known",
			Help: "Number of broker endpoints currently known to the MQTT client.",
		},
	)

	// MessagesInflight is the number of occupied message pool slots.
	MessagesInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "earpm_messages_inflight",
			Help: "Number of in-flight messages held in the message pool.",
		},
	)

	// MessagesPublished counts publish attempts by mode (async/sync/reply) and result.
	MessagesPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "earpm_messages_published_total",
			Help: "Total number of messages handed to the MQTT engine.",
		},
		[]string{"mode", "result"}, // result: success/failed/exhausted/timeout
	)

	// SyncLatency observes the round trip of synchronous publishes.
	SyncLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "earpm_sync_latency_seconds",
			Help:    "Latency between publishing a synchronous message and receiving its reply.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// MessagesDropped counts inbound messages discarded by the receive path.
	MessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "earpm_messages_dropped_total",
			Help: "Total number of inbound messages dropped by the receive path.",
		},
		[]string{"reason"},
	)

	// Subscriptions is the number of tracked topic subscriptions.
	Subscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "earpm_subscriptions",
			Help: "Number of topic subscriptions tracked by the MQTT client.",
		},
	)

	// DelivererQueueLength is the number of events waiting in the event deliverer.
	DelivererQueueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "earpm_deliverer_queue_length",
			Help: "Number of events waiting to be delivered to the local Event Admin.",
		},
	)

	// EventsDelivered counts events handed to the local Event Admin, by mode (post/send).
	EventsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "earpm_events_delivered_total",
			Help: "Total number of events delivered to the local Event Admin.",
		},
		[]string{"mode"},
	)

	// DiscoveredEndpoints is the number of broker endpoints known to discovery.
	DiscoveredEndpoints = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "earpm_discovered_endpoints",
			Help: "Number of MQTT broker endpoints known to broker discovery.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		BrokerConnected,
		BrokersKnown,
		MessagesInflight,
		MessagesPublished,
		SyncLatency,
		MessagesDropped,
		Subscriptions,
		DelivererQueueLength,
		EventsDelivered,
		DiscoveredEndpoints,
	)
}
