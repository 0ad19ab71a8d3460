package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portalsync_events_accepted_total",
		Help: "Total number of activity events accepted by the router.",
	})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portalsync_events_dropped_total",
		Help: "Total number of inbound payloads dropped, labelled by reason.",
	}, []string{"reason"})

	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portalsync_stream_reconnects_total",
		Help: "Total number of stream reconnect attempts.",
	})

	BrokerReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portalsync_broker_reconnects_total",
		Help: "Total number of broker reconnect attempts.",
	})

	InvalidationsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portalsync_invalidations_dispatched_total",
		Help: "Total number of coalesced invalidation dispatches.",
	})

	EnvelopesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portalsync_envelopes_published_total",
		Help: "Total number of outbound envelopes, labelled by path (direct or queued).",
	}, []string{"path"})

	OutboundQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portalsync_outbound_queue_depth",
		Help: "Current number of envelopes waiting in the outbound queue.",
	})

	BackendHealthy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portalsync_backend_healthy",
		Help: "Backend health as seen by the heartbeat probe (1 ok, 0 degraded).",
	})
)
