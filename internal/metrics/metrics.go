// Package metrics exposes Prometheus collectors for assistant turns,
// tool calls and scheduled notifications.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nugget/tralfaz/internal/agent"
	"github.com/nugget/tralfaz/internal/scheduler"
)

const namespace = "tralfaz"

// Metrics holds the process collectors. It implements
// [scheduler.Observer].
type Metrics struct {
	llmCalls      *prometheus.CounterVec
	llmDuration   *prometheus.HistogramVec
	toolCalls     *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// MustNew constructs and registers the collectors. Registration errors
// panic, as with promauto. Tests pass a fresh registry.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		llmCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "calls_total",
				Help:      "Model completions by model and status.",
			},
			[]string{"model", "status"},
		),
		llmDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "call_duration_seconds",
				Help:      "Latency of model completions.",
				Buckets:   []float64{0.5, 1, 2, 4, 8, 15, 30, 60, 120},
			},
			[]string{"model"},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tools",
				Name:      "calls_total",
				Help:      "Tool executions by tool and status.",
			},
			[]string{"tool", "status"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "notifications_total",
				Help:      "Reminder and briefing delivery attempts by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
	}
	reg.MustRegister(m.llmCalls, m.llmDuration, m.toolCalls, m.notifications)
	return m
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Hooks returns agent loop hooks that feed these collectors.
func (m *Metrics) Hooks() agent.Hooks {
	return agent.Hooks{
		LLMCall: func(model string, d time.Duration, err error) {
			m.llmCalls.WithLabelValues(model, status(err)).Inc()
			m.llmDuration.WithLabelValues(model).Observe(d.Seconds())
		},
		ToolCall: func(name string, err error) {
			m.toolCalls.WithLabelValues(name, status(err)).Inc()
		},
	}
}

// Observe counts a scheduler delivery attempt.
func (m *Metrics) Observe(_ context.Context, ev scheduler.Event) {
	m.notifications.WithLabelValues(ev.Kind, ev.Outcome).Inc()
}
