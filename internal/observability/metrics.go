package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	transferCounter       *prometheus.CounterVec
	railDurationHistogram *prometheus.HistogramVec
	idempotencyCounter    *prometheus.CounterVec
	fanOutHistogram       *prometheus.HistogramVec
	archivedCounter       *prometheus.CounterVec
	breakerStateGauge     *prometheus.GaugeVec
	ledgerDriftCounter    prometheus.Counter
	eventPublishCounter   *prometheus.CounterVec
	workerRunCounter      *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		transferCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transfer_outcomes_total",
			Help: "Transfer status transitions by rail",
		}, []string{"rail", "status"})

		railDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rail_call_duration_seconds",
			Help:    "Latency of rail adapter calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"rail", "operation", "result"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency guard outcomes",
		}, []string{"outcome"})

		fanOutHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shard_fanout_duration_seconds",
			Help:    "Duration of cross-partition fan-out queries",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "partitions"})

		archivedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transfers_archived_total",
			Help: "Transfers moved to the archive",
		}, []string{"partition"})

		breakerStateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rail_circuit_breaker_state",
			Help: "Rail circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"rail"})

		ledgerDriftCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_locked_drift_total",
			Help: "Number of accounts whose locked funds diverged from active reservations",
		})

		eventPublishCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "event_publish_total",
			Help: "Event bus publish outcomes",
		}, []string{"type", "result"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			transferCounter,
			railDurationHistogram,
			idempotencyCounter,
			fanOutHistogram,
			archivedCounter,
			breakerStateGauge,
			ledgerDriftCounter,
			eventPublishCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementTransferOutcome(rail, status string) {
	if transferCounter == nil {
		return
	}
	transferCounter.WithLabelValues(rail, status).Inc()
}

func ObserveRailCall(rail, operation, result string, duration time.Duration) {
	if railDurationHistogram == nil {
		return
	}
	railDurationHistogram.WithLabelValues(rail, operation, result).Observe(duration.Seconds())
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func ObserveFanOut(operation string, partitions int, duration time.Duration) {
	if fanOutHistogram == nil {
		return
	}
	fanOutHistogram.WithLabelValues(operation, strconv.Itoa(partitions)).Observe(duration.Seconds())
}

func AddArchived(partition string, count int) {
	if archivedCounter == nil || count == 0 {
		return
	}
	archivedCounter.WithLabelValues(partition).Add(float64(count))
}

func SetBreakerState(rail string, state int) {
	if breakerStateGauge == nil {
		return
	}
	breakerStateGauge.WithLabelValues(rail).Set(float64(state))
}

func AddLedgerDrift(count int) {
	if ledgerDriftCounter == nil || count == 0 {
		return
	}
	ledgerDriftCounter.Add(float64(count))
}

func IncrementEventPublish(eventType, result string) {
	if eventPublishCounter == nil {
		return
	}
	eventPublishCounter.WithLabelValues(eventType, result).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
