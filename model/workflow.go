package model

import "time"

type TriggerType string

const TRIGGER_WEBHOOK TriggerType = "webhook"
const TRIGGER_SCHEDULE TriggerType = "schedule"
const TRIGGER_EVENT TriggerType = "event"

func (t TriggerType) Valid() bool {
	switch t {
	case TRIGGER_WEBHOOK, TRIGGER_SCHEDULE, TRIGGER_EVENT:
		return true
	}
	return false
}

type ActionKind string

const ACTION_CREATE_TASK ActionKind = "create_task"
const ACTION_SEND_NOTIFICATION ActionKind = "send_notification"
const ACTION_RECORD_ACTIVITY ActionKind = "record_activity"
const ACTION_UPDATE_STAGE ActionKind = "update_stage"
const ACTION_DELAY ActionKind = "delay"
const ACTION_SCRIPT ActionKind = "script"
const ACTION_CHECK ActionKind = "check"

type ActionSpec struct {
	Kind   ActionKind     `json:"kind" yaml:"kind"`
	Name   string         `json:"name,omitempty" yaml:"name,omitempty"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

type WorkflowDefinition struct {
	Id          string       `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	TriggerType TriggerType  `json:"triggerType" yaml:"triggerType"`
	SubjectPath string       `json:"subjectPath,omitempty" yaml:"subjectPath,omitempty"`
	Actions     []ActionSpec `json:"actions" yaml:"actions"`
	Active      bool         `json:"active" yaml:"active"`
	Version     int          `json:"version" yaml:"version"`
	UpdatedAt   time.Time    `json:"updatedAt" yaml:"-"`
}

// WorkflowSummary is the short form embedded in execution views.
type WorkflowSummary struct {
	Id          string      `json:"id"`
	Name        string      `json:"name"`
	TriggerType TriggerType `json:"triggerType"`
	ActionCount int         `json:"actionCount"`
	Active      bool        `json:"active"`
}

func (wf *WorkflowDefinition) Summary() WorkflowSummary {
	return WorkflowSummary{
		Id:          wf.Id,
		Name:        wf.Name,
		TriggerType: wf.TriggerType,
		ActionCount: len(wf.Actions),
		Active:      wf.Active,
	}
}
