package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/extract"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/logger"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/oracle"
)

// Metrics is the daemon's Prometheus collector set. Each Metrics owns its
// registry, so tests and restarted daemons never trip duplicate
// registration.
type Metrics struct {
	registry *prometheus.Registry
	log      zerolog.Logger

	cycles      prometheus.Counter
	workflows   prometheus.Counter
	skills      prometheus.Counter
	oracleCalls *prometheus.CounterVec
	throttles   prometheus.Counter
	cleanups    prometheus.Counter
	lastCycle   prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		log:      logger.Component("metrics"),
		cycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "agent_learning_cycles_total",
			Help: "Completed learning cycles.",
		}),
		workflows: factory.NewCounter(prometheus.CounterOpts{
			Name: "agent_workflows_extracted_total",
			Help: "Workflows extracted from capture sessions.",
		}),
		skills: factory.NewCounter(prometheus.CounterOpts{
			Name: "agent_skills_written_total",
			Help: "Skill files written by the pipeline.",
		}),
		oracleCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_oracle_calls_total",
			Help: "AI oracle calls by operation and outcome.",
		}, []string{"operation", "status"}),
		throttles: factory.NewCounter(prometheus.CounterOpts{
			Name: "agent_throttle_sleeps_total",
			Help: "Cycles delayed by the resource guard.",
		}),
		cleanups: factory.NewCounter(prometheus.CounterOpts{
			Name: "agent_cleanup_deleted_files_total",
			Help: "Capture files deleted by cleanup.",
		}),
		lastCycle: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agent_last_cycle_timestamp_seconds",
			Help: "Unix time of the last completed cycle.",
		}),
	}
}

// Registry exposes the collector registry for custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// CycleDone records one finished cycle and how many workflows it produced.
func (m *Metrics) CycleDone(extracted int) {
	m.cycles.Inc()
	if extracted > 0 {
		m.workflows.Add(float64(extracted))
	}
	m.lastCycle.SetToCurrentTime()
}

// SkillWritten counts one generated skill file.
func (m *Metrics) SkillWritten() {
	m.skills.Inc()
}

// OracleCall records one oracle round trip. Calls the adapter absorbed
// into an empty result count as status "empty".
func (m *Metrics) OracleCall(operation string, answered bool) {
	status := "ok"
	if !answered {
		status = "empty"
	}
	m.oracleCalls.With(prometheus.Labels{
		"operation": operation,
		"status":    status,
	}).Inc()
}

// ThrottleSlept counts a guard-imposed sleep.
func (m *Metrics) ThrottleSlept(d time.Duration) {
	if d > 0 {
		m.throttles.Inc()
	}
}

// FilesDeleted counts cleanup deletions.
func (m *Metrics) FilesDeleted(n int) {
	if n > 0 {
		m.cleanups.Add(float64(n))
	}
}

// Serve exposes /metrics on addr in the background. An empty addr
// disables serving. The returned server is non-nil when serving started;
// shut it down with Shutdown.
func (m *Metrics) Serve(addr string) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Warn().Err(err).Str("addr", addr).Msg("metrics endpoint stopped")
		}
	}()
	m.log.Info().Str("addr", addr).Msg("metrics endpoint listening")
	return srv
}

// InstrumentAnalyzer wraps a segment analyzer so every oracle call lands
// in the metrics. A nil metrics returns the analyzer unchanged.
func (m *Metrics) InstrumentAnalyzer(inner extract.Analyzer) extract.Analyzer {
	if m == nil || inner == nil {
		return inner
	}
	return &countingAnalyzer{inner: inner, metrics: m}
}

type countingAnalyzer struct {
	inner   extract.Analyzer
	metrics *Metrics
}

func (a *countingAnalyzer) AnalyzeWorkflowSegment(ctx context.Context, actionsText, appName string) *oracle.SegmentAnalysis {
	res := a.inner.AnalyzeWorkflowSegment(ctx, actionsText, appName)
	a.metrics.OracleCall("analyze_segment", res != nil)
	return res
}
