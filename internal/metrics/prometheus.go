package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// PrometheusSink implements Sink with client_golang collectors.
// Registration errors are logged, never returned.
type PrometheusSink struct {
	log zerolog.Logger

	ticksTotal      prometheus.Counter
	tickErrorsTotal prometheus.Counter
	tickDuration    prometheus.Histogram
	eventsFired     *prometheus.CounterVec
	eventsFailed    *prometheus.CounterVec

	toolCalls       *prometheus.CounterVec
	modelCalls      prometheus.Counter
	modelDuration   prometheus.Histogram
	tokensTotal     *prometheus.CounterVec
	advisoriesTotal *prometheus.CounterVec
}

func NewPrometheusSink(reg prometheus.Registerer, log zerolog.Logger) *PrometheusSink {
	s := &PrometheusSink{log: log}
	s.initSchedulerMetrics(reg)
	s.initAgentMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "laterclaw_scheduler_ticks_total",
		Help: "Total number of firing loop ticks.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "laterclaw_scheduler_tick_errors_total",
		Help: "Ticks that could not load the ledger.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "laterclaw_scheduler_tick_duration_seconds",
		Help:    "Duration of each tick, including executions.",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60},
	})
	s.eventsFired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "laterclaw_scheduler_events_fired_total",
		Help: "Scheduled events executed and delivered successfully.",
	}, []string{"kind"})
	s.eventsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "laterclaw_scheduler_events_failed_total",
		Help: "Scheduled event executions that failed and stay active.",
	}, []string{"kind"})

	s.register(reg, s.ticksTotal, "laterclaw_scheduler_ticks_total")
	s.register(reg, s.tickErrorsTotal, "laterclaw_scheduler_tick_errors_total")
	s.register(reg, s.tickDuration, "laterclaw_scheduler_tick_duration_seconds")
	s.register(reg, s.eventsFired, "laterclaw_scheduler_events_fired_total")
	s.register(reg, s.eventsFailed, "laterclaw_scheduler_events_failed_total")
}

func (s *PrometheusSink) initAgentMetrics(reg prometheus.Registerer) {
	s.toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "laterclaw_agent_tool_calls_total",
		Help: "Tool invocations by tool and result.",
	}, []string{"tool", "ok"})
	s.modelCalls = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "laterclaw_agent_model_calls_total",
		Help: "Successful model calls.",
	})
	s.modelDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "laterclaw_agent_model_call_duration_seconds",
		Help:    "Latency of model calls.",
		Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
	s.tokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "laterclaw_agent_tokens_total",
		Help: "Tokens consumed by direction.",
	}, []string{"direction"})
	s.advisoriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "laterclaw_agent_advisories_total",
		Help: "Upstream failures by advisory class.",
	}, []string{"class"})

	s.register(reg, s.toolCalls, "laterclaw_agent_tool_calls_total")
	s.register(reg, s.modelCalls, "laterclaw_agent_model_calls_total")
	s.register(reg, s.modelDuration, "laterclaw_agent_model_call_duration_seconds")
	s.register(reg, s.tokensTotal, "laterclaw_agent_tokens_total")
	s.register(reg, s.advisoriesTotal, "laterclaw_agent_advisories_total")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.log.Warn().Err(err).Str("metric", name).Msg("metrics: register failed")
	}
}

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, fired int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) EventFired(kind string) {
	s.eventsFired.WithLabelValues(kind).Inc()
}

func (s *PrometheusSink) EventFailed(kind string) {
	s.eventsFailed.WithLabelValues(kind).Inc()
}

func (s *PrometheusSink) ToolCall(name string, ok bool) {
	s.toolCalls.WithLabelValues(name, strconv.FormatBool(ok)).Inc()
}

func (s *PrometheusSink) ModelCall(duration time.Duration, promptTokens, completionTokens int) {
	s.modelCalls.Inc()
	s.modelDuration.Observe(duration.Seconds())
	s.tokensTotal.WithLabelValues("prompt").Add(float64(promptTokens))
	s.tokensTotal.WithLabelValues("completion").Add(float64(completionTokens))
}

func (s *PrometheusSink) Advisory(class string) {
	s.advisoriesTotal.WithLabelValues(class).Inc()
}
