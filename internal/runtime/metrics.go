package runtime

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/cortex/internal/agent/core"
	"github.com/mohammad-safakhou/cortex/internal/capability"
	"github.com/mohammad-safakhou/cortex/internal/executor"
	"github.com/mohammad-safakhou/cortex/internal/planner"
)

const namespace = "cortex"

// Metrics owns the prometheus collectors for one process. A nil *Metrics
// hands out empty callbacks.
type Metrics struct {
	Registry *prometheus.Registry

	toolCalls    *prometheus.CounterVec
	toolLatency  *prometheus.HistogramVec
	catalogTools prometheus.Gauge
	liveServers  prometheus.Gauge
	catalogVer   prometheus.Gauge
	planSteps    *prometheus.CounterVec
	planOutcomes *prometheus.CounterVec
	lifelines    *prometheus.CounterVec
	stepOutcomes *prometheus.CounterVec
	runs         *prometheus.CounterVec
	runDuration  prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "capability", Name: "tool_calls_total",
			Help: "Tool calls by tool, server and outcome.",
		}, []string{"tool", "server", "outcome"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "capability", Name: "tool_call_duration_seconds",
			Help: "Tool call latency including worker launch.", Buckets: prometheus.DefBuckets,
		}, []string{"tool", "server"}),
		catalogTools: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "capability", Name: "catalog_tools",
			Help: "Tools in the installed catalog.",
		}),
		liveServers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "capability", Name: "live_servers",
			Help: "Servers that answered discovery.",
		}),
		catalogVer: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "capability", Name: "catalog_version",
			Help: "Version of the installed catalog.",
		}),
		planSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "executor", Name: "steps_total",
			Help: "Executed plan steps by tool and result.",
		}, []string{"tool", "ok"}),
		planOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "executor", Name: "plans_total",
			Help: "Plan executions by outcome.",
		}, []string{"outcome"}),
		lifelines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "agent", Name: "lifelines_consumed_total",
			Help: "Lifelines consumed by phase.",
		}, []string{"phase"}),
		stepOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "agent", Name: "steps_total",
			Help: "Orchestration steps by outcome.",
		}, []string{"outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "agent", Name: "runs_total",
			Help: "Runs by terminal state.",
		}, []string{"state"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "agent", Name: "run_duration_seconds",
			Help: "Wall time of a run.", Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.toolCalls, m.toolLatency, m.catalogTools, m.liveServers, m.catalogVer,
		m.planSteps, m.planOutcomes, m.lifelines, m.stepOutcomes, m.runs, m.runDuration,
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) Capability() capability.Metrics {
	if m == nil {
		return capability.Metrics{}
	}
	return capability.Metrics{
		ToolCall: func(tool, serverID, outcome string, took time.Duration) {
			m.toolCalls.WithLabelValues(tool, serverID, outcome).Inc()
			m.toolLatency.WithLabelValues(tool, serverID).Observe(took.Seconds())
		},
		Catalog: func(version int64, live, tools int) {
			m.catalogVer.Set(float64(version))
			m.liveServers.Set(float64(live))
			m.catalogTools.Set(float64(tools))
		},
	}
}

func (m *Metrics) Executor() executor.Metrics {
	if m == nil {
		return executor.Metrics{}
	}
	return executor.Metrics{
		Step: func(_ context.Context, step planner.PlanStep, ok bool, _ time.Duration) {
			label := "false"
			if ok {
				label = "true"
			}
			m.planSteps.WithLabelValues(step.Tool, label).Inc()
		},
		Plan: func(_ context.Context, outcome string) {
			m.planOutcomes.WithLabelValues(outcome).Inc()
		},
	}
}

func (m *Metrics) Core() core.Metrics {
	if m == nil {
		return core.Metrics{}
	}
	return core.Metrics{
		Lifeline: func(phase core.Phase) { m.lifelines.WithLabelValues(string(phase)).Inc() },
		Step:     func(outcome core.StepOutcome) { m.stepOutcomes.WithLabelValues(string(outcome)).Inc() },
		Run: func(state core.State, took time.Duration) {
			m.runs.WithLabelValues(string(state)).Inc()
			m.runDuration.Observe(took.Seconds())
		},
	}
}
