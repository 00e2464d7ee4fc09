package engine

import (
	"context"

	"github.com/mlodash/autoflow/logger"
	"github.com/mlodash/autoflow/model"
	"github.com/mlodash/autoflow/persistence"
	"go.uber.org/zap"
)

// Recover resubmits executions left behind by a previous process. RUNNING
// executions are only resumed when RecoverRunning is set; their current step
// may run a second time.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	pending, err := e.collect(ctx, model.ExecutionFilter{Statuses: []model.ExecutionStatus{model.PENDING}})
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, exec := range pending {
		if e.submit(exec.Id) {
			resumed++
		}
	}
	if e.conf.RecoverRunning {
		running, err := e.collect(ctx, model.ExecutionFilter{Statuses: []model.ExecutionStatus{model.RUNNING}})
		if err != nil {
			return resumed, err
		}
		for _, exec := range running {
			if e.isInflight(exec.Id) {
				continue
			}
			if _, err := e.appendLog(ctx, exec.Id, model.LOG_WARN, exec.CurrentStep, "resumed after restart"); err != nil {
				return resumed, err
			}
			if e.submit(exec.Id) {
				resumed++
			}
		}
	}
	logger.Info("execution recovery finished", zap.Int("resumed", resumed))
	return resumed, nil
}

// sweep resubmits executions that have waited longer than the sweep
// interval without a runner.
func (e *Engine) sweep(ctx context.Context) {
	cutoff := e.now().Add(-e.conf.SweepInterval)
	pending, err := e.collect(ctx, model.ExecutionFilter{
		Statuses:      []model.ExecutionStatus{model.PENDING},
		CreatedBefore: cutoff,
	})
	if err != nil {
		logger.Error("error in sweeping pending executions", zap.Error(err))
		return
	}
	for _, exec := range pending {
		if exec.UpdatedAt.Before(cutoff) {
			e.submit(exec.Id)
		}
	}
	if !e.conf.RecoverRunning {
		return
	}
	running, err := e.collect(ctx, model.ExecutionFilter{Statuses: []model.ExecutionStatus{model.RUNNING}})
	if err != nil {
		logger.Error("error in sweeping running executions", zap.Error(err))
		return
	}
	for _, exec := range running {
		if exec.UpdatedAt.Before(cutoff) && !e.isInflight(exec.Id) {
			e.submit(exec.Id)
		}
	}
}

func (e *Engine) collect(ctx context.Context, filter model.ExecutionFilter) ([]*model.Execution, error) {
	filter.Limit = persistence.MAX_PAGE_SIZE
	var res []*model.Execution
	for {
		page, err := e.store.ListExecutions(ctx, filter)
		if err != nil {
			return nil, err
		}
		res = append(res, page.Executions...)
		filter.Offset += len(page.Executions)
		if len(page.Executions) == 0 || filter.Offset >= page.Total {
			return res, nil
		}
	}
}
