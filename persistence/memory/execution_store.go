package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	api "github.com/mlodash/autoflow/api/v1"
	"github.com/mlodash/autoflow/model"
	"github.com/mlodash/autoflow/persistence"
)

type executionStore struct {
	mu         sync.RWMutex
	executions map[string]*model.Execution
	logs       map[string][]model.LogEntry
}

var _ persistence.ExecutionStore = new(executionStore)

func NewExecutionStore() *executionStore {
	return &executionStore{
		executions: make(map[string]*model.Execution),
		logs:       make(map[string][]model.LogEntry),
	}
}

func (s *executionStore) CreateExecution(_ context.Context, exec *model.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[exec.Id]; ok {
		return api.StorageLayerError{Message: fmt.Sprintf("execution %s already exists", exec.Id)}
	}
	s.executions[exec.Id] = exec.Clone()
	return nil
}

func (s *executionStore) GetExecution(_ context.Context, id string) (*model.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, api.NotFoundError{ExecutionId: id}
	}
	return exec.Clone(), nil
}

func (s *executionStore) UpdateExecution(_ context.Context, id string, expected model.ExecutionStatus, mutate persistence.Mutation) (*model.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.executions[id]
	if !ok {
		return nil, api.NotFoundError{ExecutionId: id}
	}
	updated, err := persistence.ApplyMutation(current, expected, mutate)
	if err != nil {
		return nil, err
	}
	s.executions[id] = updated
	return updated.Clone(), nil
}

func (s *executionStore) AppendLog(_ context.Context, id string, entry model.LogEntry) (model.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[id]; !ok {
		return model.LogEntry{}, api.NotFoundError{ExecutionId: id}
	}
	entry.Seq = int64(len(s.logs[id]) + 1)
	s.logs[id] = append(s.logs[id], entry)
	return entry, nil
}

func (s *executionStore) GetLogs(_ context.Context, id string) ([]model.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.executions[id]; !ok {
		return nil, api.NotFoundError{ExecutionId: id}
	}
	logs := make([]model.LogEntry, len(s.logs[id]))
	copy(logs, s.logs[id])
	return logs, nil
}

func (s *executionStore) ListExecutions(_ context.Context, filter model.ExecutionFilter) (*model.ExecutionPage, error) {
	filter = persistence.NormalizeFilter(filter)
	s.mu.RLock()
	matched := make([]*model.Execution, 0)
	for _, exec := range s.executions {
		if filter.Matches(exec) {
			matched = append(matched, exec.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].Id > matched[j].Id
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	page := &model.ExecutionPage{
		Executions: []*model.Execution{},
		Total:      len(matched),
		Offset:     filter.Offset,
		Limit:      filter.Limit,
	}
	if filter.Offset < len(matched) {
		end := filter.Offset + filter.Limit
		if end > len(matched) {
			end = len(matched)
		}
		page.Executions = matched[filter.Offset:end]
	}
	return page, nil
}
