package model

import (
	"encoding/json"
	"time"
)

type ExecutionStatus string

const PENDING ExecutionStatus = "PENDING"
const RUNNING ExecutionStatus = "RUNNING"
const COMPLETED ExecutionStatus = "COMPLETED"
const FAILED ExecutionStatus = "FAILED"
const CANCELLED ExecutionStatus = "CANCELLED"

func (s ExecutionStatus) Terminal() bool {
	return s == COMPLETED || s == FAILED || s == CANCELLED
}

func (s ExecutionStatus) Valid() bool {
	switch s {
	case PENDING, RUNNING, COMPLETED, FAILED, CANCELLED:
		return true
	}
	return false
}

type LogLevel string

const LOG_INFO LogLevel = "info"
const LOG_WARN LogLevel = "warn"
const LOG_ERROR LogLevel = "error"

// NO_STEP marks log entries that concern the execution rather than a step.
const NO_STEP = -1

type LogEntry struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	StepIndex int       `json:"stepIndex"`
}

type Execution struct {
	Id           string          `json:"id"`
	WorkflowId   string          `json:"workflowId"`
	SubjectId    string          `json:"subjectId,omitempty"`
	Status       ExecutionStatus `json:"status"`
	TriggerData  json.RawMessage `json:"triggerData"`
	CurrentStep  int             `json:"currentStep"`
	Attempts     int             `json:"attempts"`
	ErrorMessage *string         `json:"errorMessage"`
	CancelledBy  string          `json:"cancelledBy,omitempty"`
	StartedAt    *time.Time      `json:"startedAt"`
	CompletedAt  *time.Time      `json:"completedAt"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	Version      int64           `json:"version"`
}

func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	c := *e
	if e.TriggerData != nil {
		c.TriggerData = append(json.RawMessage(nil), e.TriggerData...)
	}
	if e.ErrorMessage != nil {
		msg := *e.ErrorMessage
		c.ErrorMessage = &msg
	}
	if e.StartedAt != nil {
		t := *e.StartedAt
		c.StartedAt = &t
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// MarkTerminal moves the execution to a terminal status. CompletedAt is only
// ever set by the first terminal transition.
func (e *Execution) MarkTerminal(status ExecutionStatus, at time.Time) {
	e.Status = status
	if e.CompletedAt == nil {
		t := at
		e.CompletedAt = &t
	}
}

type ExecutionFilter struct {
	WorkflowId string
	SubjectId  string
	Statuses   []ExecutionStatus
	// CreatedBefore restricts results to executions created strictly before it.
	CreatedBefore time.Time
	Offset        int
	Limit         int
}

func (f ExecutionFilter) Matches(e *Execution) bool {
	if f.WorkflowId != "" && e.WorkflowId != f.WorkflowId {
		return false
	}
	if f.SubjectId != "" && e.SubjectId != f.SubjectId {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if s == e.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.CreatedBefore.IsZero() && !e.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	return true
}

type ExecutionPage struct {
	Executions []*Execution `json:"executions"`
	Total      int          `json:"total"`
	Offset     int          `json:"offset"`
	Limit      int          `json:"limit"`
}
