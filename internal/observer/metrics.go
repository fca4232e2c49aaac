package observer

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true // Flag to control metric collection

	// Labels for snapshot store operations
	storeOperationLabels = []string{"operation", "collection", "status"}
	// Labels for remote API calls
	remoteCallLabels = []string{"method", "resource", "status"}

	// Histogram for snapshot store operation durations.
	StoreOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tg_crm_sync_store_operation_duration_seconds",
			Help:    "Histogram of snapshot store operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		storeOperationLabels,
	)

	malformedPayloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tg_crm_sync_store_malformed_payloads_total",
			Help: "Total number of persisted payloads that failed to decode and were replaced by an empty collection.",
		},
		[]string{"collection"},
	)

	// Remote API metrics
	RemoteCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tg_crm_sync_remote_calls_total",
			Help: "Total number of HTTP calls made to the CRM backend, labeled by resource and outcome.",
		},
		remoteCallLabels,
	)
	RemoteCallDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tg_crm_sync_remote_call_duration_seconds",
			Help:    "Histogram of CRM backend call durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		remoteCallLabels,
	)
	remoteFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tg_crm_sync_remote_fallbacks_total",
			Help: "Total number of operations served from the local snapshot because the backend was unreachable.",
		},
		[]string{"resource"},
	)
	remoteAuthExpiriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tg_crm_sync_remote_auth_expiries_total",
		Help: "Total number of backend calls rejected with an expired or invalid session.",
	})

	// Global metrics instance
	Metrics *metricsStore
)

// Metrics related to identity reconciliation
var (
	reconcileOutcomeLabels = []string{"outcome"}

	reconcileTasksSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tg_crm_sync_reconcile_tasks_submitted_total",
		Help: "Total number of reconcile tasks submitted to the worker pool.",
	})
	reconcileTasksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tg_crm_sync_reconcile_tasks_processed_total",
			Help: "Total number of reconcile tasks processed by the worker pool, labeled by final outcome.",
		},
		reconcileOutcomeLabels,
	)
	reconcileProcessingDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tg_crm_sync_reconcile_processing_duration_seconds",
		Help:    "Histogram of processing durations for reconcile tasks.",
		Buckets: prometheus.DefBuckets,
	})
	reconcileQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tg_crm_sync_reconcile_queue_length",
		Help: "Approximate number of tasks waiting in the reconcile worker pool queue.",
	})
	identityConflictsResolvedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tg_crm_sync_identity_conflicts_resolved_total",
		Help: "Total number of duplicate contact records merged during identity conflict resolution.",
	})
	cacheChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tg_crm_sync_cache_checks_total",
			Help: "Total number of reconcile guard cache checks, labeled by filter and result.",
		},
		[]string{"filter", "result"},
	)
)

// Metrics related to schema migration and integrity repair
var (
	migrationTransformsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tg_crm_sync_migration_transforms_total",
			Help: "Total number of schema transforms applied, labeled by source version and outcome.",
		},
		[]string{"from_version", "status"},
	)
	repairPassesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tg_crm_sync_repair_passes_total",
		Help: "Total number of referential integrity repair passes executed.",
	})
	repairedAssignmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tg_crm_sync_repaired_assignments_total",
		Help: "Total number of conversations whose owner assignment was repaired.",
	})
)

// Metrics related to the pending-sync flusher
var (
	flushOutcomeLabels = []string{"outcome"}

	flushCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tg_crm_sync_flush_cycles_total",
		Help: "Total number of pending-sync flush cycles executed.",
	})
	flushContactsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tg_crm_sync_flush_contacts_total",
			Help: "Total number of pending contacts flushed to the backend, labeled by outcome.",
		},
		flushOutcomeLabels,
	)
	flushRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tg_crm_sync_flush_retries_total",
		Help: "Total number of retry attempts for pending contact flushes.",
	})
	flushDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tg_crm_sync_flush_dropped_total",
		Help: "Total number of contacts marked failed after exceeding max flush retries.",
	})
)

// metricsStore holds references to all Prometheus metrics.
type metricsStore struct{}

// InitMetrics initializes and registers the Prometheus metrics if enabled.
// Call this function during application startup.
func InitMetrics(enabled bool) {
	if !enabled {
		metricsEnabled = false
		return
	}

	metricsEnabled = true

	// Metrics are already auto-registered via promauto, so no explicit
	// registration is needed here.
	Metrics = &metricsStore{}
}

// ObserveStoreOperationDuration records the duration of a snapshot store operation.
func ObserveStoreOperationDuration(operation, collection string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	StoreOperationDurationSeconds.WithLabelValues(operation, sanitizeCollection(collection), status).Observe(duration.Seconds())
}

// IncMalformedPayload increments the counter for undecodable snapshot payloads.
func IncMalformedPayload(collection string) {
	if !metricsEnabled {
		return
	}
	malformedPayloadsTotal.WithLabelValues(sanitizeCollection(collection)).Inc()
}

// --- Remote API Metric Helpers ---

// ObserveRemoteCall records the outcome and duration of a backend HTTP call.
func ObserveRemoteCall(method, resource string, statusCode int, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	status := sanitizeStatusCode(statusCode)
	RemoteCallsTotal.WithLabelValues(method, resource, status).Inc()
	RemoteCallDurationSeconds.WithLabelValues(method, resource, status).Observe(duration.Seconds())
}

// IncRemoteFallback increments the counter for local-snapshot fallbacks.
func IncRemoteFallback(resource string) {
	if !metricsEnabled {
		return
	}
	remoteFallbacksTotal.WithLabelValues(resource).Inc()
}

// IncRemoteAuthExpired increments the counter for expired-session rejections.
func IncRemoteAuthExpired() {
	if !metricsEnabled {
		return
	}
	remoteAuthExpiriesTotal.Inc()
}

// --- Reconcile Metric Helpers ---

// IncReconcileTasksSubmitted increments the counter for submitted reconcile tasks.
func IncReconcileTasksSubmitted() {
	if Metrics != nil { // Use global Metrics check
		reconcileTasksSubmittedTotal.Inc()
	}
}

// IncReconcileTasksProcessed increments the counter for processed reconcile tasks by outcome.
func IncReconcileTasksProcessed(outcome string) {
	if Metrics != nil {
		reconcileTasksProcessedTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveReconcileProcessingDuration records the processing time for a reconcile task.
func ObserveReconcileProcessingDuration(duration time.Duration) {
	if Metrics != nil {
		reconcileProcessingDurationSeconds.Observe(duration.Seconds())
	}
}

// SetReconcileQueueLength sets the current reconcile queue length.
func SetReconcileQueueLength(length int) {
	if Metrics != nil {
		reconcileQueueLength.Set(float64(length))
	}
}

// IncCacheCheck increments the per-result counter for guard cache checks.
func IncCacheCheck(filter, result string) {
	if Metrics != nil {
		cacheChecksTotal.WithLabelValues(filter, result).Inc()
	}
}

// IncIdentityConflictsResolved adds merged duplicate records to the conflict counter.
func IncIdentityConflictsResolved(merged int) {
	if Metrics != nil && merged > 0 {
		identityConflictsResolvedTotal.Add(float64(merged))
	}
}

// --- Migration and Repair Metric Helpers ---

// IncMigrationTransform increments the counter for an applied schema transform.
func IncMigrationTransform(fromVersion int, err error) {
	if !metricsEnabled {
		return
	}
	status := "applied"
	if err != nil {
		status = "error"
	}
	migrationTransformsTotal.WithLabelValues(strconv.Itoa(fromVersion), status).Inc()
}

// IncRepairPass increments the counter for executed repair passes.
func IncRepairPass() {
	if Metrics != nil {
		repairPassesTotal.Inc()
	}
}

// IncRepairedAssignments adds repaired conversations to the repair counter.
func IncRepairedAssignments(count int) {
	if Metrics != nil && count > 0 {
		repairedAssignmentsTotal.Add(float64(count))
	}
}

// --- Flush Metric Helpers ---

// IncFlushCycle increments the counter for flush cycles.
func IncFlushCycle() {
	if Metrics != nil {
		flushCyclesTotal.Inc()
	}
}

// IncFlushContact increments the per-outcome counter for flushed contacts.
func IncFlushContact(outcome string) {
	if Metrics != nil {
		flushContactsTotal.WithLabelValues(outcome).Inc()
	}
}

// IncFlushRetry increments the counter for flush retry attempts.
func IncFlushRetry() {
	if Metrics != nil {
		flushRetriesTotal.Inc()
	}
}

// IncFlushDropped increments the counter for contacts parked after max retries.
func IncFlushDropped() {
	if Metrics != nil {
		flushDroppedTotal.Inc()
	}
}

// sanitizeCollection ensures the collection label is valid or returns a default value.
func sanitizeCollection(collection string) string {
	if collection == "" {
		return "unknown"
	}
	return collection
}

// sanitizeStatusCode collapses HTTP status codes into their class to keep
// cardinality low.
func sanitizeStatusCode(code int) string {
	switch {
	case code == 0:
		return "transport_error"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// SanitizeErrorType maps specific errors onto a small set of categories.
// Keep this simple to avoid high cardinality.
func SanitizeErrorType(errStr string) string {
	// If no error (e.g., for success actions), return "none"
	if errStr == "" || errStr == "none" {
		return "none"
	}

	switch {
	case strings.Contains(errStr, "sqlite"), strings.Contains(errStr, "SQL"), strings.Contains(errStr, "constraint"), strings.Contains(errStr, "database"):
		return "storage"
	case strings.Contains(errStr, "validation failed"), strings.Contains(errStr, "bad request"), strings.Contains(errStr, "invalid"), strings.Contains(errStr, "missing field"):
		return "validation"
	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "no rows"):
		return "not_found"
	case strings.Contains(errStr, "session expired"), strings.Contains(errStr, "unauthorized"), strings.Contains(errStr, "forbidden"):
		return "auth"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errStr, "unmarshal"), strings.Contains(errStr, "json"):
		return "unmarshal"
	case strings.Contains(errStr, "panic"):
		return "panic"
	default:
		return "unknown"
	}
}

