// Package metrics exposes hoststar's Prometheus metrics: dispatcher
// command throughput, scheduler queue depth, arbiter lock contention,
// and turn submission outcomes (spec.md §4.13), adapted from the
// teacher's general service/HTTP/database metric registry.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServiceMetrics contains general service health and database metrics.
type ServiceMetrics struct {
	BuildInfo *prometheus.GaugeVec
	StartTime prometheus.Gauge

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	DBConnectionsActive prometheus.Gauge
	DBQueriesTotal      *prometheus.CounterVec
	DBQueryDuration     *prometheus.HistogramVec
	DBErrors            *prometheus.CounterVec
}

// DispatcherMetrics instruments the command dispatcher (spec.md §4.8).
type DispatcherMetrics struct {
	CommandsTotal    *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	SessionsActive   prometheus.Gauge
	PermissionDenied *prometheus.CounterVec
}

// SchedulerMetrics instruments the turn scheduler (spec.md §4.2, §4.7).
type SchedulerMetrics struct {
	QueueDepth    prometheus.Gauge
	TickDuration  prometheus.Histogram
	GamesAdvanced prometheus.Counter
}

// ArbiterMetrics instruments the per-game arbiter lock (spec.md §4.1).
type ArbiterMetrics struct {
	WaitDuration  *prometheus.HistogramVec
	LocksHeld     prometheus.Gauge
	LockTimeouts  prometheus.Counter
	LockAcquired  *prometheus.CounterVec
}

// TurnMetrics instruments turn submission and the external checker
// invocation (spec.md §4.6, §4.11).
type TurnMetrics struct {
	SubmissionsTotal *prometheus.CounterVec
	EngineDuration   prometheus.Histogram
	CanonicalWrites  prometheus.Counter
	DedupedWrites    prometheus.Counter
}

// NewServiceMetrics creates and registers general service metrics.
func NewServiceMetrics(namespace string) *ServiceMetrics {
	return &ServiceMetrics{
		BuildInfo: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		}, []string{"version", "commit", "build_time"}),
		StartTime: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "start_time_seconds",
			Help:      "Unix timestamp of service start time",
		}),
		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		DBConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "connections_active",
			Help:      "Number of active database connections",
		}),
		DBQueriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "queries_total",
			Help:      "Total number of database queries",
		}, []string{"query_type", "table"}),
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"query_type"}),
		DBErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "errors_total",
			Help:      "Total number of database errors",
		}, []string{"error_type"}),
	}
}

// NewDispatcherMetrics creates and registers dispatcher metrics.
func NewDispatcherMetrics(namespace string) *DispatcherMetrics {
	return &DispatcherMetrics{
		CommandsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "commands_total",
			Help:      "Total number of dispatched commands by verb and outcome",
		}, []string{"verb", "outcome"}),
		CommandDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "command_duration_seconds",
			Help:      "Command handling duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"verb"}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "sessions_active",
			Help:      "Number of open dispatcher sessions",
		}),
		PermissionDenied: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "permission_denied_total",
			Help:      "Total number of commands rejected by a permission check",
		}, []string{"verb"}),
	}
}

// NewSchedulerMetrics creates and registers scheduler metrics.
func NewSchedulerMetrics(namespace string) *SchedulerMetrics {
	return &SchedulerMetrics{
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Number of games with a schedule item currently due",
		}),
		TickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one scheduler worker tick",
			Buckets:   prometheus.DefBuckets,
		}),
		GamesAdvanced: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "games_advanced_total",
			Help:      "Total number of games the scheduler has advanced a turn for",
		}),
	}
}

// NewArbiterMetrics creates and registers arbiter metrics.
func NewArbiterMetrics(namespace string) *ArbiterMetrics {
	return &ArbiterMetrics{
		WaitDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "arbiter",
			Name:      "wait_duration_seconds",
			Help:      "Time a caller waited to acquire a per-game arbiter lock",
			Buckets:   prometheus.DefBuckets,
		}, []string{"game_id"}),
		LocksHeld: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "arbiter",
			Name:      "locks_held",
			Help:      "Number of per-game arbiter locks currently held",
		}),
		LockTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "arbiter",
			Name:      "lock_timeouts_total",
			Help:      "Total number of arbiter lock acquisitions that timed out",
		}),
		LockAcquired: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "arbiter",
			Name:      "locks_acquired_total",
			Help:      "Total number of successful arbiter lock acquisitions",
		}, []string{"game_id"}),
	}
}

// NewTurnMetrics creates and registers turn submission metrics.
func NewTurnMetrics(namespace string) *TurnMetrics {
	return &TurnMetrics{
		SubmissionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "turn",
			Name:      "submissions_total",
			Help:      "Total number of turn submissions by resulting state",
		}, []string{"state"}),
		EngineDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "turn",
			Name:      "engine_duration_seconds",
			Help:      "Duration of one external turn-checker invocation",
			Buckets:   prometheus.DefBuckets,
		}),
		CanonicalWrites: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "turn",
			Name:      "canonical_writes_total",
			Help:      "Total number of canonical turn file overwrites",
		}),
		DedupedWrites: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "turn",
			Name:      "deduped_writes_total",
			Help:      "Total number of resubmissions skipped as byte-identical",
		}),
	}
}

// Registry is hoststar's metrics registry: one general ServiceMetrics
// plus one set per domain subsystem, served together on a single
// /metrics endpoint (spec.md §2's single-process model has no
// per-service registry split to preserve).
type Registry struct {
	serviceName string
	logger      *slog.Logger

	Service    *ServiceMetrics
	Dispatcher *DispatcherMetrics
	Scheduler  *SchedulerMetrics
	Arbiter    *ArbiterMetrics
	Turn       *TurnMetrics

	server *http.Server
}

// NewRegistry creates a new metrics registry for the host service.
func NewRegistry(serviceName, version, buildTime, gitCommit string, logger *slog.Logger) *Registry {
	reg := &Registry{
		serviceName: serviceName,
		logger:      logger,
		Service:     NewServiceMetrics("hoststar"),
		Dispatcher:  NewDispatcherMetrics("hoststar"),
		Scheduler:   NewSchedulerMetrics("hoststar"),
		Arbiter:     NewArbiterMetrics("hoststar"),
		Turn:        NewTurnMetrics("hoststar"),
	}

	reg.Service.BuildInfo.WithLabelValues(version, gitCommit, buildTime).Set(1)
	reg.Service.StartTime.SetToCurrentTime()

	return reg
}

// StartMetricsServer starts the HTTP server for Prometheus metrics.
func (r *Registry) StartMetricsServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"` + r.serviceName + `"}`))
	})

	r.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	r.logger.Info("starting metrics server", "port", port)
	return r.server.ListenAndServe()
}

// StopMetricsServer stops the metrics HTTP server.
func (r *Registry) StopMetricsServer(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	r.logger.Info("stopping metrics server")
	return r.server.Shutdown(ctx)
}

// HTTPMiddleware returns HTTP middleware that instruments requests
// against the general ServiceMetrics.
func (r *Registry) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, req)

			duration := time.Since(start)
			status := strconv.Itoa(wrapped.statusCode)

			r.Service.HTTPRequestsTotal.WithLabelValues(req.Method, req.URL.Path, status).Inc()
			r.Service.HTTPRequestDuration.WithLabelValues(req.Method, req.URL.Path).Observe(duration.Seconds())
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
