// Package metrics provides internal metrics collection for the plugin
// runtime. This package is internal and should not be imported by external
// projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector registers and records the runtime's Prometheus metrics.
type Collector struct {
	// Dispatch surface
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec

	// Hook and event execution
	hookInvocations *prometheus.CounterVec
	hookFailures    *prometheus.CounterVec
	eventEmits      *prometheus.CounterVec

	// Widget rendering
	widgetRenders  *prometheus.CounterVec
	widgetFailures *prometheus.CounterVec

	// Sandbox
	compileTotal     *prometheus.CounterVec
	compileCacheSize prometheus.Gauge

	// Plugin migrations
	migrationsTotal   *prometheus.CounterVec
	migrationDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector creates the collector and registers its metrics with the
// default registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Total plugin controller dispatches",
		},
		[]string{"method", "status"},
	)
	c.dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Plugin controller dispatch duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	c.hookInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_invocations_total",
			Help:      "Total hook handler invocations",
		},
		[]string{"hook"},
	)
	c.hookFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_failures_total",
			Help:      "Hook handler failures (chain continued)",
		},
		[]string{"hook"},
	)
	c.eventEmits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_emits_total",
			Help:      "Total event emissions",
		},
		[]string{"event"},
	)

	c.widgetRenders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "widget_renders_total",
			Help:      "Total widget renders",
		},
		[]string{"widget"},
	)
	c.widgetFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "widget_failures_total",
			Help:      "Widget renders that produced the error placeholder",
		},
		[]string{"widget"},
	)

	c.compileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_compiles_total",
			Help:      "Sandbox compilations by outcome",
		},
		[]string{"outcome"},
	)
	c.compileCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sandbox_compile_cache_entries",
			Help:      "Distinct compiled sources in the cache",
		},
	)

	c.migrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_migrations_total",
			Help:      "Plugin migrations by outcome",
		},
		[]string{"outcome"},
	)
	c.migrationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plugin_migration_duration_seconds",
			Help:      "Plugin migration execution duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"outcome"},
	)

	return c
}

// RecordDispatch records one controller dispatch.
func (c *Collector) RecordDispatch(method string, status int, duration time.Duration) {
	c.dispatchTotal.WithLabelValues(method, statusLabel(status)).Inc()
	c.dispatchDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordHook records one hook handler invocation.
func (c *Collector) RecordHook(hook string, failed bool) {
	c.hookInvocations.WithLabelValues(hook).Inc()
	if failed {
		c.hookFailures.WithLabelValues(hook).Inc()
	}
}

// RecordEvent records one event emission.
func (c *Collector) RecordEvent(event string) {
	c.eventEmits.WithLabelValues(event).Inc()
}

// RecordWidget records one widget render.
func (c *Collector) RecordWidget(widget string, failed bool) {
	c.widgetRenders.WithLabelValues(widget).Inc()
	if failed {
		c.widgetFailures.WithLabelValues(widget).Inc()
	}
}

// RecordCompile records one sandbox compilation.
func (c *Collector) RecordCompile(cached bool, failed bool) {
	switch {
	case failed:
		c.compileTotal.WithLabelValues("error").Inc()
	case cached:
		c.compileTotal.WithLabelValues("cache_hit").Inc()
	default:
		c.compileTotal.WithLabelValues("compiled").Inc()
	}
}

// SetCompileCacheSize updates the compile cache gauge.
func (c *Collector) SetCompileCacheSize(n int) {
	c.compileCacheSize.Set(float64(n))
}

// RecordMigration records one plugin migration run.
func (c *Collector) RecordMigration(outcome string, duration time.Duration) {
	c.migrationsTotal.WithLabelValues(outcome).Inc()
	c.migrationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func statusLabel(status int) string {
	switch {
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
