// Package metrics is the DAG execution manager's observability surface:
// per-state job counters, flow-state gauges, the orchestration-delay
// histogram, a per-shard heartbeat meter, and the named timing events from
// spec.md §6, emitted as both structured log lines and OTel span events.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dagucloud/dagu/internal/core"
	"github.com/dagucloud/dagu/internal/logger"
)

// Collector owns every metric this module exposes. One Collector is
// shared across all shards and the supervisor.
type Collector struct {
	JobsSent              *prometheus.CounterVec
	JobsSucceeded         *prometheus.CounterVec
	JobsFailed            *prometheus.CounterVec
	JobsStartSLAExceeded  *prometheus.CounterVec
	JobsRunSLAExceeded    *prometheus.CounterVec
	FlowState             *prometheus.GaugeVec
	OrchestrationDelay    prometheus.Histogram
	ShardHeartbeat        *prometheus.GaugeVec

	tracer trace.Tracer
}

// NewCollector registers every metric on reg and returns the Collector.
// tracer may be nil, in which case span events are skipped (tracing
// disabled per config).
func NewCollector(reg prometheus.Registerer, tracer trace.Tracer) *Collector {
	c := &Collector{
		JobsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dagmanager_jobs_sent_total",
			Help: "Jobs submitted to a SpecProducer.",
		}, []string{"flow_group"}),
		JobsSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dagmanager_jobs_succeeded_total",
			Help: "Jobs observed COMPLETE.",
		}, []string{"flow_group"}),
		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dagmanager_jobs_failed_total",
			Help: "Jobs observed FAILED.",
		}, []string{"flow_group"}),
		JobsStartSLAExceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dagmanager_jobs_start_sla_exceeded_total",
			Help: "Jobs cancelled for exceeding jobStartSla while ORCHESTRATED.",
		}, []string{"flow_group"}),
		JobsRunSLAExceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dagmanager_jobs_run_sla_exceeded_total",
			Help: "Jobs cancelled for exceeding the flow's run SLA.",
		}, []string{"flow_group"}),
		FlowState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dagmanager_flows_in_state",
			Help: "Number of flows currently in each flow state (FlowEvent name).",
		}, []string{"status"}),
		OrchestrationDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dagmanager_orchestration_delay_seconds",
			Help:    "Time between flowExecutionId (origin) and first submit phase.",
			Buckets: prometheus.DefBuckets,
		}),
		ShardHeartbeat: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dagmanager_shard_heartbeat_unix_seconds",
			Help: "Unix time of each shard's last completed pass.",
		}, []string{"shard"}),
		tracer: tracer,
	}

	reg.MustRegister(
		c.JobsSent, c.JobsSucceeded, c.JobsFailed,
		c.JobsStartSLAExceeded, c.JobsRunSLAExceeded,
		c.FlowState, c.OrchestrationDelay, c.ShardHeartbeat,
	)
	return c
}

// ObserveFlowStates replaces the flow-state gauge with a fresh snapshot.
// counts maps a flow's current state label (a core.FlowEvent, or
// "FLOW_RUNNING" for a flow with no FlowEvent set yet) to the number of
// flows a shard currently holds in that state. Callers take a full
// snapshot each pass rather than incrementing/decrementing so a crashed
// or skipped decrement can never leave the gauge permanently wrong.
func (c *Collector) ObserveFlowStates(counts map[string]int) {
	c.FlowState.Reset()
	for status, n := range counts {
		c.FlowState.WithLabelValues(status).Set(float64(n))
	}
}

// EmitFlowEvent records a flow-level named timing event: a structured log
// line always, plus an OTel span event when tracing is enabled.
func (c *Collector) EmitFlowEvent(ctx context.Context, id core.DagId, event core.FlowEvent, message string) {
	logger.Info(ctx, "flow event", "dagId", id.String(), "event", string(event), "message", message)
	c.spanEvent(ctx, string(event), id, message)
}

// EmitJobEvent records a per-job named timing event.
func (c *Collector) EmitJobEvent(ctx context.Context, id core.DagId, job core.NodeID, event core.JobEvent, message string) {
	logger.Info(ctx, "job event", "dagId", id.String(), "job", string(job), "event", string(event), "message", message)
	c.spanEvent(ctx, string(event), id, message)
}

func (c *Collector) spanEvent(ctx context.Context, name string, id core.DagId, message string) {
	if c.tracer == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(
		attribute.String("dagId", id.String()),
		attribute.String("message", message),
	))
}
