package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mlodash/autoflow/action"
	"github.com/mlodash/autoflow/analytics"
	api "github.com/mlodash/autoflow/api/v1"
	"github.com/mlodash/autoflow/logger"
	"github.com/mlodash/autoflow/metrics"
	"github.com/mlodash/autoflow/model"
	"github.com/mlodash/autoflow/persistence"
	"github.com/mlodash/autoflow/util"
	"go.uber.org/zap"
)

const DEFAULT_WORKERS = 8
const DEFAULT_QUEUE_SIZE = 1024
const DEFAULT_SWEEP_INTERVAL = 30 * time.Second

const SOURCE_WEBHOOK = "webhook"
const SOURCE_OPERATOR = "operator"

type Resolver interface {
	// Resolve rejects unknown and inactive workflows.
	Resolve(ctx context.Context, id string) (*model.WorkflowDefinition, error)
	// Definition returns the definition regardless of the active flag.
	Definition(ctx context.Context, id string) (*model.WorkflowDefinition, error)
}

type ActionInvoker interface {
	Invoke(ctx context.Context, spec model.ActionSpec, actx action.Context) (action.Result, error)
}

type Config struct {
	Workers   int
	QueueSize int
	// SweepInterval is both how often stuck executions are looked for and
	// how old they must be before they are resubmitted.
	SweepInterval  time.Duration
	RecoverRunning bool
}

type CreateRequest struct {
	WorkflowId string
	Trigger    json.RawMessage
	SubjectId  string
	Source     string
	Actor      string
}

type ExecutionLogs struct {
	ExecutionId string                `json:"executionId"`
	Status      model.ExecutionStatus `json:"status"`
	Logs        []model.LogEntry      `json:"logs"`
}

type runHandle struct {
	running bool
	cancel  context.CancelFunc
	// resubmit is set when a submit arrives while the runner is still
	// active; release queues the execution again.
	resubmit bool
}

// Engine owns every execution state transition. Executions run on a bounded
// worker pool; each execution has at most one runner in this process.
type Engine struct {
	store    persistence.ExecutionStore
	resolver Resolver
	actions  ActionInvoker
	conf     Config

	Now   func() time.Time
	NewId func() string

	worker  *util.Worker
	sweeper *util.TickWorker

	baseCtx  context.Context
	shutdown context.CancelFunc

	mu       sync.Mutex
	inflight map[string]*runHandle
}

func NewEngine(conf Config, store persistence.ExecutionStore, resolver Resolver, actions ActionInvoker, wg *sync.WaitGroup) *Engine {
	if conf.Workers <= 0 {
		conf.Workers = DEFAULT_WORKERS
	}
	if conf.QueueSize <= 0 {
		conf.QueueSize = DEFAULT_QUEUE_SIZE
	}
	if conf.SweepInterval <= 0 {
		conf.SweepInterval = DEFAULT_SWEEP_INTERVAL
	}
	baseCtx, shutdown := context.WithCancel(context.Background())
	e := &Engine{
		store:    store,
		resolver: resolver,
		actions:  actions,
		conf:     conf,
		Now:      time.Now,
		NewId:    func() string { return uuid.New().String() },
		baseCtx:  baseCtx,
		shutdown: shutdown,
		inflight: make(map[string]*runHandle),
	}
	e.worker = util.NewWorker("execution-runner", wg, e.handle, conf.Workers, conf.QueueSize)
	e.sweeper = util.NewTickWorker("execution-sweeper", conf.SweepInterval, e.sweep, wg)
	return e
}

func (e *Engine) Start() {
	e.worker.Start()
	e.sweeper.Start()
}

// Stop interrupts running steps and stops the workers. Executions left
// RUNNING are picked up by Recover on the next start.
func (e *Engine) Stop() error {
	e.sweeper.Stop()
	e.shutdown()
	e.worker.Stop()
	return nil
}

func (e *Engine) now() time.Time {
	return e.Now().UTC()
}

// Create persists a PENDING execution for an admitted trigger and queues it.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*model.Execution, error) {
	wf, err := e.resolver.Resolve(ctx, req.WorkflowId)
	if err != nil {
		return nil, err
	}
	trigger, err := decodeTrigger(req.Trigger)
	if err != nil {
		return nil, err
	}
	if len(req.Trigger) == 0 {
		req.Trigger = json.RawMessage("{}")
	}
	subjectId := req.SubjectId
	if subjectId == "" && wf.SubjectPath != "" {
		if v, ok := util.Lookup(trigger, wf.SubjectPath); ok {
			subjectId = fmt.Sprint(v)
		}
	}

	now := e.now()
	exec := &model.Execution{
		Id:          e.NewId(),
		WorkflowId:  wf.Id,
		SubjectId:   subjectId,
		Status:      model.PENDING,
		TriggerData: req.Trigger,
		CurrentStep: 0,
		Attempts:    1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("execution created by %s for workflow %s version %d with %d steps", sourceOf(req), wf.Id, wf.Version, len(wf.Actions))
	if _, err := e.appendLog(ctx, exec.Id, model.LOG_INFO, model.NO_STEP, msg); err != nil {
		return nil, err
	}
	metrics.RecordExecutionCreated(ctx, wf.Id)
	logger.Info("execution created", zap.String("executionId", exec.Id), zap.String("workflowId", wf.Id), zap.String("subjectId", subjectId))
	e.submit(exec.Id)
	return exec, nil
}

func (e *Engine) Get(ctx context.Context, id string) (*model.Execution, error) {
	return e.store.GetExecution(ctx, id)
}

func (e *Engine) List(ctx context.Context, filter model.ExecutionFilter) (*model.ExecutionPage, error) {
	return e.store.ListExecutions(ctx, filter)
}

func (e *Engine) GetLogs(ctx context.Context, id string) (*ExecutionLogs, error) {
	exec, err := e.store.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	logs, err := e.store.GetLogs(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ExecutionLogs{ExecutionId: id, Status: exec.Status, Logs: logs}, nil
}

// Cancel moves a PENDING or RUNNING execution to CANCELLED and signals its
// runner. A step already dispatched is left to finish.
func (e *Engine) Cancel(ctx context.Context, id string, actor string) (*model.Execution, error) {
	var updated *model.Execution
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		var current *model.Execution
		current, err = e.store.GetExecution(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.Status.Terminal() {
			return nil, api.InvalidTransitionError{ExecutionId: id, Operation: "cancel", From: string(current.Status)}
		}
		now := e.now()
		updated, err = e.store.UpdateExecution(ctx, id, current.Status, func(exec *model.Execution) error {
			exec.MarkTerminal(model.CANCELLED, now)
			exec.CancelledBy = actor
			exec.UpdatedAt = now
			return nil
		})
		if !isConflict(err) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	if _, err := e.appendLog(ctx, id, model.LOG_INFO, model.NO_STEP, fmt.Sprintf("execution cancelled by %s", actor)); err != nil {
		return nil, err
	}
	e.interrupt(id)
	e.finished(ctx, updated)
	logger.Info("execution cancelled", zap.String("executionId", id), zap.String("actor", actor))
	return updated, nil
}

// Retry resumes a FAILED execution at the step that failed.
func (e *Engine) Retry(ctx context.Context, id string, actor string) (*model.Execution, error) {
	current, err := e.store.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != model.FAILED {
		return nil, api.InvalidTransitionError{ExecutionId: id, Operation: "retry", From: string(current.Status)}
	}
	now := e.now()
	updated, err := e.store.UpdateExecution(ctx, id, model.FAILED, func(exec *model.Execution) error {
		exec.Status = model.RUNNING
		exec.ErrorMessage = nil
		exec.Attempts++
		exec.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("retry requested by %s, attempt %d resumes at step %d", actor, updated.Attempts, updated.CurrentStep)
	if _, err := e.appendLog(ctx, id, model.LOG_INFO, model.NO_STEP, msg); err != nil {
		return nil, err
	}
	logger.Info("execution retried", zap.String("executionId", id), zap.String("actor", actor), zap.Int("attempt", updated.Attempts))
	e.submit(id)
	return updated, nil
}

func (e *Engine) appendLog(ctx context.Context, id string, level model.LogLevel, step int, msg string) (model.LogEntry, error) {
	return e.store.AppendLog(ctx, id, model.LogEntry{
		Timestamp: e.now(),
		Level:     level,
		Message:   msg,
		StepIndex: step,
	})
}

// finished records a terminal transition in metrics and analytics.
func (e *Engine) finished(ctx context.Context, exec *model.Execution) {
	metrics.RecordExecutionFinished(ctx, exec.WorkflowId, string(exec.Status))
	analytics.RecordExecutionFinished(exec.WorkflowId, exec.Id, string(exec.Status), exec.Attempts)
}

func decodeTrigger(raw json.RawMessage) (map[string]any, error) {
	trigger := make(map[string]any)
	if len(raw) == 0 {
		return trigger, nil
	}
	if err := json.Unmarshal(raw, &trigger); err != nil {
		return nil, api.InvalidPayloadError{Reason: "trigger data should be a JSON object"}
	}
	if trigger == nil {
		trigger = make(map[string]any)
	}
	return trigger, nil
}

func sourceOf(req CreateRequest) string {
	source := req.Source
	if source == "" {
		source = SOURCE_WEBHOOK
	}
	if req.Actor != "" {
		return fmt.Sprintf("%s %s", source, req.Actor)
	}
	return source
}

func isConflict(err error) bool {
	var conflict api.ConcurrentModificationError
	return errors.As(err, &conflict)
}
