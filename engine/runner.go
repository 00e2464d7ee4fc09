package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/mlodash/autoflow/action"
	"github.com/mlodash/autoflow/analytics"
	api "github.com/mlodash/autoflow/api/v1"
	"github.com/mlodash/autoflow/logger"
	"github.com/mlodash/autoflow/metrics"
	"github.com/mlodash/autoflow/model"
	"github.com/mlodash/autoflow/util"
	"go.uber.org/zap"
)

const SUMMARY_LIMIT = 200

type runTask struct {
	ExecutionId string
}

// submit queues the execution unless it is already queued or running here.
// A submit that finds the runner active is replayed when the runner exits.
// A full queue leaves the execution to the sweeper.
func (e *Engine) submit(id string) bool {
	e.mu.Lock()
	if h, ok := e.inflight[id]; ok {
		if h.running {
			h.resubmit = true
		}
		e.mu.Unlock()
		return false
	}
	e.inflight[id] = &runHandle{}
	e.mu.Unlock()

	if err := e.worker.Submit(runTask{ExecutionId: id}); err != nil {
		e.mu.Lock()
		delete(e.inflight, id)
		e.mu.Unlock()
		if errors.Is(err, util.ErrQueueFull) {
			logger.Warn("execution queue full, leaving execution for the sweeper", zap.String("executionId", id))
		} else {
			logger.Warn("execution not submitted", zap.String("executionId", id), zap.Error(err))
		}
		return false
	}
	return true
}

func (e *Engine) claim(id string) (context.Context, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.inflight[id]
	if ok && h.running {
		return nil, false
	}
	if !ok {
		h = &runHandle{}
		e.inflight[id] = h
	}
	ctx, cancel := context.WithCancel(e.baseCtx)
	h.running = true
	h.cancel = cancel
	return ctx, true
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	resubmit := false
	if h, ok := e.inflight[id]; ok {
		if h.cancel != nil {
			h.cancel()
		}
		resubmit = h.resubmit
		delete(e.inflight, id)
	}
	e.mu.Unlock()
	if resubmit && e.baseCtx.Err() == nil {
		e.submit(id)
	}
}

func (e *Engine) interrupt(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h, ok := e.inflight[id]; ok && h.cancel != nil {
		h.cancel()
	}
}

func (e *Engine) isInflight(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inflight[id]
	return ok
}

func (e *Engine) handle(task util.Task) error {
	t, ok := task.(runTask)
	if !ok {
		return fmt.Errorf("unexpected task %T", task)
	}
	return e.run(t.ExecutionId)
}

// run drives one execution until it reaches a terminal status, is cancelled
// or the engine stops. Store writes use a context that outlives cancellation
// so that the outcome of an in-flight step is always recorded.
func (e *Engine) run(id string) error {
	runCtx, ok := e.claim(id)
	if !ok {
		return nil
	}
	defer e.release(id)
	storeCtx := context.Background()

	exec, err := e.store.GetExecution(storeCtx, id)
	if err != nil {
		return err
	}
	switch exec.Status {
	case model.PENDING:
		now := e.now()
		exec, err = e.store.UpdateExecution(storeCtx, id, model.PENDING, func(x *model.Execution) error {
			x.Status = model.RUNNING
			if x.StartedAt == nil {
				x.StartedAt = &now
			}
			x.UpdatedAt = now
			return nil
		})
		if err != nil {
			if isConflict(err) {
				return nil
			}
			return err
		}
	case model.RUNNING:
	default:
		return nil
	}
	return e.advance(runCtx, storeCtx, exec)
}

func (e *Engine) advance(runCtx context.Context, storeCtx context.Context, exec *model.Execution) error {
	trigger, err := decodeTrigger(exec.TriggerData)
	if err != nil {
		return e.fail(storeCtx, exec, exec.CurrentStep, "", err)
	}
	for {
		wf, err := e.resolver.Definition(storeCtx, exec.WorkflowId)
		if err != nil {
			var unknown api.UnknownWorkflowError
			if errors.As(err, &unknown) {
				return e.fail(storeCtx, exec, exec.CurrentStep, "", err)
			}
			return err
		}
		if exec.CurrentStep >= len(wf.Actions) {
			return e.complete(storeCtx, exec)
		}
		if runCtx.Err() != nil {
			return nil
		}

		step := exec.CurrentStep
		spec := wf.Actions[step]
		actx := action.Context{
			ExecutionId: exec.Id,
			WorkflowId:  exec.WorkflowId,
			SubjectId:   exec.SubjectId,
			Step:        step,
			Trigger:     trigger,
		}
		start := e.Now()
		res, actErr := e.actions.Invoke(runCtx, spec, actx)
		elapsed := e.Now().Sub(start)

		if actErr != nil {
			if e.baseCtx.Err() != nil {
				logger.Warn("step interrupted by shutdown", zap.String("executionId", exec.Id), zap.Int("step", step))
				return nil
			}
			metrics.RecordStep(storeCtx, string(spec.Kind), metrics.STEP_OUTCOME_FAILURE, elapsed)
			return e.fail(storeCtx, exec, step, spec.Kind, actErr)
		}

		now := e.now()
		updated, err := e.store.UpdateExecution(storeCtx, exec.Id, model.RUNNING, func(x *model.Execution) error {
			if x.CurrentStep != step {
				return api.ConcurrentModificationError{ExecutionId: x.Id, Expected: fmt.Sprintf("step %d", step), Actual: fmt.Sprintf("step %d", x.CurrentStep)}
			}
			x.CurrentStep = step + 1
			x.UpdatedAt = now
			return nil
		})
		if err != nil {
			if isConflict(err) {
				metrics.RecordStep(storeCtx, string(spec.Kind), metrics.STEP_OUTCOME_DISCARDED, elapsed)
				return e.discard(storeCtx, exec.Id, step)
			}
			return err
		}
		metrics.RecordStep(storeCtx, string(spec.Kind), metrics.STEP_OUTCOME_SUCCESS, elapsed)
		analytics.RecordStepSuccess(exec.WorkflowId, exec.Id, string(spec.Kind), step, res.Output)

		msg := fmt.Sprintf("step %d (%s) completed", step, spec.Kind)
		if res.Summary != "" {
			msg = fmt.Sprintf("%s: %s", msg, truncate(res.Summary, SUMMARY_LIMIT))
		}
		if _, err := e.appendLog(storeCtx, exec.Id, model.LOG_INFO, step, msg); err != nil {
			return err
		}
		exec = updated
		if exec.CurrentStep >= len(wf.Actions) {
			return e.complete(storeCtx, exec)
		}
	}
}

// complete moves a RUNNING execution whose step counter is past the last
// action to COMPLETED. The last step's log entry is already written.
func (e *Engine) complete(storeCtx context.Context, exec *model.Execution) error {
	now := e.now()
	updated, err := e.store.UpdateExecution(storeCtx, exec.Id, model.RUNNING, func(x *model.Execution) error {
		x.MarkTerminal(model.COMPLETED, now)
		x.UpdatedAt = now
		return nil
	})
	if err != nil {
		if isConflict(err) {
			return nil
		}
		return err
	}
	e.finished(storeCtx, updated)
	logger.Info("execution completed", zap.String("executionId", exec.Id), zap.String("workflowId", exec.WorkflowId))
	return nil
}

func (e *Engine) fail(storeCtx context.Context, exec *model.Execution, step int, kind model.ActionKind, cause error) error {
	now := e.now()
	reason := cause.Error()
	updated, err := e.store.UpdateExecution(storeCtx, exec.Id, model.RUNNING, func(x *model.Execution) error {
		x.MarkTerminal(model.FAILED, now)
		x.ErrorMessage = &reason
		x.UpdatedAt = now
		return nil
	})
	if err != nil {
		if isConflict(err) {
			return e.discard(storeCtx, exec.Id, step)
		}
		return err
	}
	analytics.RecordStepFailure(exec.WorkflowId, exec.Id, string(kind), step, reason)
	if _, err := e.appendLog(storeCtx, exec.Id, model.LOG_ERROR, step, reason); err != nil {
		return err
	}
	e.finished(storeCtx, updated)
	logger.Warn("execution failed", zap.String("executionId", exec.Id), zap.Int("step", step), zap.String("reason", reason))
	return nil
}

// discard records a step whose outcome lost the race with another
// transition, usually a cancel.
func (e *Engine) discard(storeCtx context.Context, id string, step int) error {
	_, err := e.appendLog(storeCtx, id, model.LOG_WARN, step, fmt.Sprintf("step %d finished after cancellation; result discarded", step))
	logger.Info("step result discarded", zap.String("executionId", id), zap.Int("step", step))
	return err
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
