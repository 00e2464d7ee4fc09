package action

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	api "github.com/mlodash/autoflow/api/v1"
	"github.com/mlodash/autoflow/model"
	"github.com/mlodash/autoflow/util"
)

// Context is what a step sees of the execution it belongs to.
type Context struct {
	ExecutionId string
	WorkflowId  string
	SubjectId   string
	Step        int
	Trigger     map[string]any
}

func (c Context) data() map[string]any {
	return map[string]any{
		"trigger": c.Trigger,
		"execution": map[string]any{
			"id":         c.ExecutionId,
			"workflowId": c.WorkflowId,
			"subjectId":  c.SubjectId,
			"step":       c.Step,
		},
	}
}

type Result struct {
	Summary string
	Output  map[string]any
}

type Action interface {
	Kind() model.ActionKind
	Validate(params map[string]any) error
	Execute(ctx context.Context, actx Context, params map[string]any) (Result, error)
}

// Registry dispatches action specs to their handlers. The set of kinds is
// fixed here; adding a kind means adding a field and a case in lookup.
type Registry struct {
	createTask       *createTaskAction
	sendNotification *sendNotificationAction
	recordActivity   *recordActivityAction
	updateStage      *updateStageAction
	delay            *delayAction
	script           *scriptAction
	check            *checkAction
}

func NewRegistry(sink Sink) *Registry {
	return &Registry{
		createTask:       &createTaskAction{sink: sink},
		sendNotification: &sendNotificationAction{sink: sink},
		recordActivity:   &recordActivityAction{sink: sink},
		updateStage:      &updateStageAction{sink: sink},
		delay:            &delayAction{},
		script:           &scriptAction{},
		check:            &checkAction{},
	}
}

func (r *Registry) lookup(kind model.ActionKind) (Action, error) {
	switch kind {
	case model.ACTION_CREATE_TASK:
		return r.createTask, nil
	case model.ACTION_SEND_NOTIFICATION:
		return r.sendNotification, nil
	case model.ACTION_RECORD_ACTIVITY:
		return r.recordActivity, nil
	case model.ACTION_UPDATE_STAGE:
		return r.updateStage, nil
	case model.ACTION_DELAY:
		return r.delay, nil
	case model.ACTION_SCRIPT:
		return r.script, nil
	case model.ACTION_CHECK:
		return r.check, nil
	}
	return nil, fmt.Errorf("unsupported action kind %q", kind)
}

func (r *Registry) Kinds() []model.ActionKind {
	return []model.ActionKind{
		model.ACTION_CREATE_TASK,
		model.ACTION_SEND_NOTIFICATION,
		model.ACTION_RECORD_ACTIVITY,
		model.ACTION_UPDATE_STAGE,
		model.ACTION_DELAY,
		model.ACTION_SCRIPT,
		model.ACTION_CHECK,
	}
}

func (r *Registry) Validate(spec model.ActionSpec) error {
	act, err := r.lookup(spec.Kind)
	if err != nil {
		return api.ValidationError{Message: err.Error()}
	}
	if err := act.Validate(spec.Params); err != nil {
		return api.ValidationError{Message: fmt.Sprintf("%s: %s", spec.Kind, err.Error())}
	}
	return nil
}

// Invoke resolves templated parameters and runs the action. Failures come
// back as ActionExecutionError.
func (r *Registry) Invoke(ctx context.Context, spec model.ActionSpec, actx Context) (Result, error) {
	act, err := r.lookup(spec.Kind)
	if err != nil {
		return Result{}, api.ActionExecutionError{Kind: string(spec.Kind), Step: actx.Step, Err: err}
	}
	params := util.ResolveParams(actx.data(), spec.Params)
	res, err := act.Execute(ctx, actx, params)
	if err != nil {
		return Result{}, api.ActionExecutionError{Kind: string(spec.Kind), Step: actx.Step, Err: err}
	}
	return res, nil
}

func isTemplate(v any) bool {
	s, ok := v.(string)
	return ok && strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")
}

func requireString(params map[string]any, name string) error {
	v, ok := params[name]
	if !ok {
		return fmt.Errorf("parameter %s is required", name)
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return fmt.Errorf("parameter %s should be a non empty string", name)
	}
	return nil
}

func optionalString(params map[string]any, name string) error {
	v, ok := params[name]
	if !ok {
		return nil
	}
	if _, ok := v.(string); !ok {
		return fmt.Errorf("parameter %s should be a string", name)
	}
	return nil
}

func optionalNumber(params map[string]any, name string) error {
	v, ok := params[name]
	if !ok || isTemplate(v) {
		return nil
	}
	if _, ok := toFloat(v); !ok {
		return fmt.Errorf("parameter %s should be a number", name)
	}
	return nil
}

func stringParam(params map[string]any, name string) string {
	if v, ok := params[name]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
		return fmt.Sprintf("%v", v)
	}
	return ""
}

func numberParam(params map[string]any, name string) (float64, bool) {
	v, ok := params[name]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return toFloat(f)
	}
	return 0, false
}
