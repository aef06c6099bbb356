// Package metrics declares every Prometheus series the rule engine
// exports, co-located in one file per the teacher's
// observability/metrics.go convention, plus the cardinality guard
// named in §4.11.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/itskum47/ruleforge/internal/model"
)

var (
	RuleExecutionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rule_execution_total",
		Help: "Total number of rule chain executions by outcome",
	}, []string{"ruleChainId", "status"})

	RuleTimeoutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rule_timeout_total",
		Help: "Total number of rule chain executions that timed out",
	}, []string{"ruleChainId"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests served by collaborator surfaces",
	}, []string{"method", "route", "status_code"})

	TelemetryIngestionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_ingestion_total",
		Help: "Total number of telemetry events ingested",
	}, []string{"type"})

	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Total number of notifications delivered by channel",
	}, []string{"type", "result"})

	DeviceStateChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_state_changes_total",
		Help: "Total number of committed device state changes",
	}, []string{"actionType", "result"})

	RuleExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rule_execution_duration_seconds",
		Help:    "Rule chain execution wall time",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"ruleChainId"})

	DataCollectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "data_collection_duration_seconds",
		Help:    "Batch latest-value collection wall time",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request wall time",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rule_engine_queue_depth",
		Help: "Current number of jobs pending in the durable queue",
	}, []string{"priority"})

	WorkerCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rule_engine_worker_count",
		Help: "Current number of active worker goroutines",
	})

	CircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rule_engine_circuit_state",
		Help: "Circuit breaker state (0=closed, 1=half_open, 2=open)",
	}, []string{"ruleChainId"})

	BackpressureState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rule_engine_backpressure_state",
		Help: "Backpressure gate state (0=closed, 1=half_open, 2=open)",
	})

	CardinalityRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rule_engine_metric_label_rejections_total",
		Help: "Metric writes rejected by the cardinality guard",
	}, []string{"reason"})

	IndexCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rule_engine_index_cache_hits_total",
		Help: "Originator index cache hits",
	})

	IndexCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rule_engine_index_cache_misses_total",
		Help: "Originator index cache misses",
	})

	IndexCacheErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rule_engine_index_cache_errors_total",
		Help: "Originator index cache connection errors",
	})

	IndexRebuildErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rule_engine_index_rebuild_errors_total",
		Help: "Originator index relational rebuild query failures",
	})
)

// allowedLabels is the cardinality guard's fixed allow-list (§4.11):
// label name -> maximum distinct values observed before writes using
// a new value for that label are rejected.
var allowedLabels = map[string]int{
	"ruleChainId":    200,
	"organizationId": 100,
	"status":         5,
	"type":           20,
	"method":         10,
	"route":          100,
	"status_code":    20,
	"protocol":       5,
	"result":         5,
	"actionType":     50,
}

var deniedLabels = map[string]struct{}{
	"sensorUUID":      {},
	"deviceUUID":      {},
	"userId":          {},
	"telemetryDataId": {},
	"jobId":           {},
	"requestId":       {},
	"sessionId":       {},
	"deviceToken":     {},
}

// Guard enforces the cardinality allow/deny policy before a label
// value reaches a metric. It tracks observed values per label
// in-process, guarded by a single mutex — this check has no teacher
// equivalent, and the volume here doesn't warrant anything finer.
type Guard struct {
	mu   sync.Mutex
	seen map[string]map[string]struct{}
}

func NewGuard() *Guard {
	return &Guard{seen: make(map[string]map[string]struct{})}
}

// Check validates a (label, value) pair, recording the value if
// accepted. It returns a Fatal model.Error on ForbiddenLabel or
// CardinalityExceeded — callers must not record the metric on error.
func (g *Guard) Check(label, value string) error {
	if _, forbidden := deniedLabels[label]; forbidden {
		CardinalityRejections.WithLabelValues("forbidden_label").Inc()
		return errForbiddenLabel(label)
	}
	max, allowed := allowedLabels[label]
	if !allowed {
		CardinalityRejections.WithLabelValues("forbidden_label").Inc()
		return errForbiddenLabel(label)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	values, ok := g.seen[label]
	if !ok {
		values = make(map[string]struct{})
		g.seen[label] = values
	}
	if _, known := values[value]; known {
		return nil
	}
	if len(values) >= max {
		CardinalityRejections.WithLabelValues("cardinality_exceeded").Inc()
		return errCardinalityExceeded(label, max)
	}
	values[value] = struct{}{}
	return nil
}

func errForbiddenLabel(label string) error {
	return model.NewError(model.KindFatal, "forbidden metric label: "+label, map[string]interface{}{"label": label})
}

func errCardinalityExceeded(label string, max int) error {
	return model.NewError(model.KindFatal, "cardinality exceeded for label: "+label, map[string]interface{}{"label": label, "max": max})
}
