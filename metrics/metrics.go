package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/mlodash/autoflow/logger"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
	"go.uber.org/zap"
)

const (
	ADMISSION_ACCEPTED         = "accepted"
	ADMISSION_TOO_LARGE        = "payload_too_large"
	ADMISSION_RATE_LIMITED     = "rate_limited"
	ADMISSION_UNAUTHENTICATED  = "unauthenticated"
	ADMISSION_INVALID_PAYLOAD  = "invalid_payload"
	ADMISSION_UNKNOWN_WORKFLOW = "unknown_workflow"
	ADMISSION_INTERNAL_ERROR   = "internal_error"
	STEP_OUTCOME_SUCCESS       = "success"
	STEP_OUTCOME_FAILURE       = "failure"
	STEP_OUTCOME_DISCARDED     = "discarded"
)

var (
	KeyWorkflow = tag.MustNewKey("workflow")
	KeyStatus   = tag.MustNewKey("status")
	KeyKind     = tag.MustNewKey("kind")
	KeyOutcome  = tag.MustNewKey("outcome")
)

var (
	ExecutionsCreated  = stats.Int64("autoflow/executions_created", "Executions created", stats.UnitDimensionless)
	ExecutionsFinished = stats.Int64("autoflow/executions_finished", "Executions reaching a terminal status", stats.UnitDimensionless)
	StepLatency        = stats.Float64("autoflow/step_latency", "Action step latency", stats.UnitMilliseconds)
	Admissions         = stats.Int64("autoflow/webhook_admissions", "Webhook admission decisions", stats.UnitDimensionless)
)

var (
	ExecutionsCreatedView = &view.View{
		Name:        "autoflow/executions_created",
		Measure:     ExecutionsCreated,
		Description: "Executions created per workflow",
		TagKeys:     []tag.Key{KeyWorkflow},
		Aggregation: view.Count(),
	}
	ExecutionsFinishedView = &view.View{
		Name:        "autoflow/executions_finished",
		Measure:     ExecutionsFinished,
		Description: "Terminal executions per workflow and status",
		TagKeys:     []tag.Key{KeyWorkflow, KeyStatus},
		Aggregation: view.Count(),
	}
	StepLatencyView = &view.View{
		Name:        "autoflow/step_latency",
		Measure:     StepLatency,
		Description: "Step latency distribution per action kind and outcome",
		TagKeys:     []tag.Key{KeyKind, KeyOutcome},
		Aggregation: view.Distribution(5, 25, 100, 250, 1000, 5000, 30000, 120000),
	}
	AdmissionsView = &view.View{
		Name:        "autoflow/webhook_admissions",
		Measure:     Admissions,
		Description: "Webhook admission decisions per outcome",
		TagKeys:     []tag.Key{KeyOutcome},
		Aggregation: view.Count(),
	}
)

var registerOnce sync.Once
var registerErr error

// Register registers all views. Safe to call more than once.
func Register() error {
	registerOnce.Do(func() {
		registerErr = view.Register(ExecutionsCreatedView, ExecutionsFinishedView, StepLatencyView, AdmissionsView)
	})
	return registerErr
}

func RecordExecutionCreated(ctx context.Context, wfId string) {
	record(ctx, []tag.Mutator{tag.Upsert(KeyWorkflow, wfId)}, ExecutionsCreated.M(1))
}

func RecordExecutionFinished(ctx context.Context, wfId string, status string) {
	record(ctx, []tag.Mutator{tag.Upsert(KeyWorkflow, wfId), tag.Upsert(KeyStatus, status)}, ExecutionsFinished.M(1))
}

func RecordStep(ctx context.Context, kind string, outcome string, elapsed time.Duration) {
	ms := float64(elapsed) / float64(time.Millisecond)
	record(ctx, []tag.Mutator{tag.Upsert(KeyKind, kind), tag.Upsert(KeyOutcome, outcome)}, StepLatency.M(ms))
}

func RecordAdmission(ctx context.Context, outcome string) {
	record(ctx, []tag.Mutator{tag.Upsert(KeyOutcome, outcome)}, Admissions.M(1))
}

func record(ctx context.Context, mutators []tag.Mutator, ms ...stats.Measurement) {
	if err := stats.RecordWithTags(ctx, mutators, ms...); err != nil {
		logger.Debug("error in recording metric", zap.Error(err))
	}
}
