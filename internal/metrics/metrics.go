package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grantfed",
		Subsystem: "request",
		Name:      "total",
		Help:      "Total requests handled",
	}, []string{"service", "kind", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "grantfed",
		Subsystem: "request",
		Name:      "duration_seconds",
		Help:      "Request handling duration",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 20),
	}, []string{"service", "kind"})

	RequestsInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "grantfed",
		Subsystem: "request",
		Name:      "in_flight",
		Help:      "Requests currently being handled",
	}, []string{"service"})

	DuplicateRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grantfed",
		Subsystem: "request",
		Name:      "duplicates_total",
		Help:      "Requests answered from the idempotency ledger",
	}, []string{"service"})

	MalformedRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grantfed",
		Subsystem: "request",
		Name:      "malformed_total",
		Help:      "Deliveries dropped because they could not be decoded",
	}, []string{"service"})

	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grantfed",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total RPC calls issued",
	}, []string{"target", "outcome"})

	RPCCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "grantfed",
		Subsystem: "rpc",
		Name:      "call_duration_seconds",
		Help:      "RPC round trip duration",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 20),
	}, []string{"target"})

	RPCUnmatchedRepliesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "grantfed",
		Subsystem: "rpc",
		Name:      "unmatched_replies_total",
		Help:      "Replies dropped because their correlation id did not match",
	})

	BrokerPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grantfed",
		Subsystem: "broker",
		Name:      "published_total",
		Help:      "Messages published per queue",
	}, []string{"queue"})

	BrokerRedeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grantfed",
		Subsystem: "broker",
		Name:      "redeliveries_total",
		Help:      "Messages requeued for redelivery",
	}, []string{"queue"})

	BrokerQueuesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "grantfed",
		Subsystem: "broker",
		Name:      "queues_total",
		Help:      "Declared queues",
	})

	ClockReconciliationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "grantfed",
		Subsystem: "clock",
		Name:      "reconciliations_total",
		Help:      "Times the logical clock jumped forward to a peer date",
	})

	SnapshotWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "grantfed",
		Subsystem: "snapshot",
		Name:      "writes_total",
		Help:      "Total snapshot writes",
	})

	SnapshotWriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "grantfed",
		Subsystem: "snapshot",
		Name:      "write_duration_seconds",
		Help:      "Snapshot write duration",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 20),
	})

	SnapshotSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "grantfed",
		Subsystem: "snapshot",
		Name:      "size_bytes",
		Help:      "Size of last snapshot in bytes",
	})

	AgencyFunds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "grantfed",
		Subsystem: "agency",
		Name:      "funds",
		Help:      "Funds still available to the funding agency",
	})

	AgencyPendingGrants = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "grantfed",
		Subsystem: "agency",
		Name:      "pending_grants",
		Help:      "Grants waiting for the university to confirm account creation",
	})

	SagaOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grantfed",
		Subsystem: "agency",
		Name:      "saga_outcomes_total",
		Help:      "Proposal sagas by final state",
	}, []string{"state"})

	UniversityAccounts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "grantfed",
		Subsystem: "university",
		Name:      "accounts",
		Help:      "Research accounts held by the university",
	})

	GRPCRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grantfed",
		Subsystem: "grpc",
		Name:      "requests_total",
		Help:      "Total gRPC requests",
	}, []string{"service", "method", "code"})

	GRPCRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "grantfed",
		Subsystem: "grpc",
		Name:      "request_duration_seconds",
		Help:      "gRPC request duration",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 20),
	}, []string{"service", "method"})
)
