package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	api "github.com/mlodash/autoflow/api/v1"
	"github.com/mlodash/autoflow/logger"
	"github.com/mlodash/autoflow/model"
	"github.com/mlodash/autoflow/util"
	c "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const DEFAULT_CACHE_TTL = 30 * time.Second

type ActionValidator interface {
	Validate(spec model.ActionSpec) error
}

// MetadataService resolves workflow definitions for the engine and the
// intake gate and validates definitions before they are stored.
type MetadataService struct {
	storage   MetadataStorage
	validator ActionValidator
	cache     *c.Cache
	now       func() time.Time
}

func NewMetadataService(storage MetadataStorage, validator ActionValidator, cacheTTL time.Duration) *MetadataService {
	if cacheTTL <= 0 {
		cacheTTL = DEFAULT_CACHE_TTL
	}
	return &MetadataService{
		storage:   storage,
		validator: validator,
		cache:     c.New(cacheTTL, 2*cacheTTL),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Resolve returns the definition for a new execution. Inactive workflows are
// rejected with WorkflowInactiveError.
func (s *MetadataService) Resolve(ctx context.Context, id string) (*model.WorkflowDefinition, error) {
	wf, err := s.Definition(ctx, id)
	if err != nil {
		return nil, err
	}
	if !wf.Active {
		return nil, api.WorkflowInactiveError{WorkflowId: id}
	}
	return wf, nil
}

// Definition returns the definition regardless of its active flag. Running
// executions use it so that deactivation never affects them.
func (s *MetadataService) Definition(ctx context.Context, id string) (*model.WorkflowDefinition, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, api.UnknownWorkflowError{WorkflowId: id}
	}
	if cached, found := s.cache.Get(id); found {
		return cached.(*model.WorkflowDefinition), nil
	}
	wf, err := s.storage.GetWorkflowDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(id, wf)
	return wf, nil
}

func (s *MetadataService) List(ctx context.Context) ([]*model.WorkflowDefinition, error) {
	return s.storage.ListWorkflowDefinitions(ctx)
}

func (s *MetadataService) Save(ctx context.Context, wf model.WorkflowDefinition) (*model.WorkflowDefinition, error) {
	if err := s.Validate(wf); err != nil {
		return nil, err
	}
	existing, err := s.storage.GetWorkflowDefinition(ctx, wf.Id)
	var unknown api.UnknownWorkflowError
	switch {
	case err == nil:
		wf.Version = existing.Version + 1
	case errors.As(err, &unknown):
		wf.Version = 1
	default:
		return nil, err
	}
	wf.UpdatedAt = s.now()
	if err := s.storage.SaveWorkflowDefinition(ctx, wf); err != nil {
		return nil, err
	}
	s.cache.Delete(wf.Id)
	logger.Info("workflow definition saved", zap.String("workflowId", wf.Id), zap.Int("version", wf.Version), zap.Bool("active", wf.Active))
	return &wf, nil
}

func (s *MetadataService) SetActive(ctx context.Context, id string, active bool) (*model.WorkflowDefinition, error) {
	wf, err := s.storage.GetWorkflowDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	wf.Active = active
	wf.Version++
	wf.UpdatedAt = s.now()
	if err := s.storage.SaveWorkflowDefinition(ctx, *wf); err != nil {
		return nil, err
	}
	s.cache.Delete(id)
	logger.Info("workflow active flag changed", zap.String("workflowId", id), zap.Bool("active", active))
	return wf, nil
}

func (s *MetadataService) Validate(wf model.WorkflowDefinition) error {
	if strings.TrimSpace(wf.Id) == "" {
		return api.ValidationError{Message: "workflow id can not be empty"}
	}
	if strings.TrimSpace(wf.Name) == "" {
		return api.ValidationError{Message: fmt.Sprintf("workflow %s: name can not be empty", wf.Id)}
	}
	if !wf.TriggerType.Valid() {
		return api.ValidationError{Message: fmt.Sprintf("workflow %s: invalid trigger type %q", wf.Id, wf.TriggerType)}
	}
	if wf.SubjectPath != "" && !util.ValidPath(wf.SubjectPath) {
		return api.ValidationError{Message: fmt.Sprintf("workflow %s: subjectPath should be a valid jsonpath expression", wf.Id)}
	}
	if len(wf.Actions) == 0 {
		return api.ValidationError{Message: fmt.Sprintf("workflow %s: at least one action is required", wf.Id)}
	}
	for i, act := range wf.Actions {
		if err := s.validator.Validate(act); err != nil {
			return api.ValidationError{Message: fmt.Sprintf("workflow %s: action %d: %s", wf.Id, i, err.Error())}
		}
	}
	return nil
}

type definitionsFile struct {
	Workflows []model.WorkflowDefinition `yaml:"workflows"`
}

// LoadFile saves every workflow listed in a YAML definitions file. Workflows
// whose stored definition is unchanged keep their version. It returns the
// number of definitions written.
func (s *MetadataService) LoadFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var file definitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("parsing definitions file %s: %w", path, err)
	}
	saved := 0
	for _, wf := range file.Workflows {
		existing, err := s.storage.GetWorkflowDefinition(ctx, wf.Id)
		if err == nil && sameDefinition(*existing, wf) {
			continue
		}
		if _, err := s.Save(ctx, wf); err != nil {
			return saved, err
		}
		saved++
	}
	return saved, nil
}

// sameDefinition compares definitions by their JSON form, ignoring the
// fields the service maintains itself.
func sameDefinition(a model.WorkflowDefinition, b model.WorkflowDefinition) bool {
	a.Version, b.Version = 0, 0
	a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}
