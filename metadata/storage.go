package metadata

import (
	"context"
	"sort"
	"sync"

	api "github.com/mlodash/autoflow/api/v1"
	"github.com/mlodash/autoflow/model"
)

// MetadataStorage returns api_v1.UnknownWorkflowError for missing ids.
type MetadataStorage interface {
	SaveWorkflowDefinition(ctx context.Context, wf model.WorkflowDefinition) error
	GetWorkflowDefinition(ctx context.Context, id string) (*model.WorkflowDefinition, error)
	ListWorkflowDefinitions(ctx context.Context) ([]*model.WorkflowDefinition, error)
}

type InMemoryStorage struct {
	mu        sync.RWMutex
	workflows map[string]model.WorkflowDefinition
}

var _ MetadataStorage = new(InMemoryStorage)

func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		workflows: make(map[string]model.WorkflowDefinition),
	}
}

func (s *InMemoryStorage) SaveWorkflowDefinition(_ context.Context, wf model.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.Id] = wf
	return nil
}

func (s *InMemoryStorage) GetWorkflowDefinition(_ context.Context, id string) (*model.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, api.UnknownWorkflowError{WorkflowId: id}
	}
	return &wf, nil
}

func (s *InMemoryStorage) ListWorkflowDefinitions(_ context.Context) ([]*model.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*model.WorkflowDefinition, 0, len(s.workflows))
	for _, wf := range s.workflows {
		wf := wf
		result = append(result, &wf)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Id < result[j].Id })
	return result, nil
}
