package persistence

import (
	"context"

	api "github.com/mlodash/autoflow/api/v1"
	"github.com/mlodash/autoflow/model"
)

const DEFAULT_PAGE_SIZE = 50
const MAX_PAGE_SIZE = 500

// Mutation edits a copy of the stored record. Returning an error aborts the
// update and leaves the record untouched.
type Mutation func(exec *model.Execution) error

// ExecutionStore is the durable record of workflow executions. Every store
// returns api_v1.NotFoundError for unknown ids and
// api_v1.ConcurrentModificationError when UpdateExecution observes a status
// other than the expected one or loses a race with another writer.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec *model.Execution) error
	GetExecution(ctx context.Context, id string) (*model.Execution, error)
	UpdateExecution(ctx context.Context, id string, expected model.ExecutionStatus, mutate Mutation) (*model.Execution, error)
	AppendLog(ctx context.Context, id string, entry model.LogEntry) (model.LogEntry, error)
	GetLogs(ctx context.Context, id string) ([]model.LogEntry, error)
	ListExecutions(ctx context.Context, filter model.ExecutionFilter) (*model.ExecutionPage, error)
}

// ApplyMutation checks the expected status and applies mutate to a copy of
// current. Identity fields are restored after the mutation and the version
// is bumped.
func ApplyMutation(current *model.Execution, expected model.ExecutionStatus, mutate Mutation) (*model.Execution, error) {
	if current.Status != expected {
		return nil, api.ConcurrentModificationError{
			ExecutionId: current.Id,
			Expected:    string(expected),
			Actual:      string(current.Status),
		}
	}
	updated := current.Clone()
	if err := mutate(updated); err != nil {
		return nil, err
	}
	updated.Id = current.Id
	updated.WorkflowId = current.WorkflowId
	updated.TriggerData = current.TriggerData
	updated.CreatedAt = current.CreatedAt
	if current.CompletedAt != nil {
		updated.CompletedAt = current.CompletedAt
	}
	updated.Version = current.Version + 1
	return updated, nil
}

func NormalizeFilter(filter model.ExecutionFilter) model.ExecutionFilter {
	if filter.Limit <= 0 {
		filter.Limit = DEFAULT_PAGE_SIZE
	}
	if filter.Limit > MAX_PAGE_SIZE {
		filter.Limit = MAX_PAGE_SIZE
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return filter
}
