package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forward_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forward_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Order lifecycle metrics
	OrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forward_orders_total",
			Help: "Total number of order operations",
		},
		[]string{"action", "status"}, // create/take/deliver/settle x success/failed
	)

	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forward_settlements_total",
			Help: "Total number of settled orders",
		},
		[]string{"outcome"},
	)

	FeeAccruedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forward_fee_accrued_total",
			Help: "Protocol fee accrued per pool (margin smallest unit)",
		},
		[]string{"pool"},
	)

	CommandProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forward_command_processing_duration_seconds",
			Help:    "Time to process a settlement command",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	// Vault metrics
	VaultPricePerShare = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "forward_vault_price_per_share",
			Help: "Current margin vault price per full share (scaled)",
		},
	)

	// Event store metrics
	EventsStoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forward_events_stored_total",
			Help: "Total number of events stored",
		},
		[]string{"type"},
	)

	EventStoreWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forward_event_store_write_duration_seconds",
			Help:    "Time to write events to event store",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)

	// NATS metrics
	NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forward_nats_messages_published_total",
			Help: "Total number of NATS messages published",
		},
		[]string{"subject"},
	)

	NATSMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forward_nats_messages_received_total",
			Help: "Total number of NATS messages received",
		},
		[]string{"subject"},
	)

	// Registry metrics
	PoolCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "forward_pool_count",
			Help: "Total number of deployed pools",
		},
	)

	OpenOrdersGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forward_orders_open",
			Help: "Orders ever created per pool",
		},
		[]string{"pool"},
	)
)
