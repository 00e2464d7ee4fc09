package api_v1

import (
	"fmt"
	"net/http"
	"time"
)

// Category values are the coarse error identifiers returned to callers.
const (
	CATEGORY_AUTHENTICATION          = "authentication_error"
	CATEGORY_ADMISSION               = "admission_error"
	CATEGORY_PAYLOAD_TOO_LARGE       = "payload_too_large"
	CATEGORY_INVALID_PAYLOAD         = "invalid_payload"
	CATEGORY_UNKNOWN_WORKFLOW        = "unknown_workflow"
	CATEGORY_WORKFLOW_INACTIVE       = "workflow_inactive"
	CATEGORY_INVALID_TRANSITION      = "invalid_transition"
	CATEGORY_CONCURRENT_MODIFICATION = "concurrent_modification"
	CATEGORY_NOT_FOUND               = "not_found"
	CATEGORY_ACTION_EXECUTION        = "action_execution_error"
	CATEGORY_STORAGE                 = "storage_error"
	CATEGORY_VALIDATION              = "validation_error"
)

// CategorizedError is implemented by every error in this package.
type CategorizedError interface {
	error
	Category() string
	StatusCode() int
}

type AuthenticationError struct {
	Reason string
}

func (e AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func (e AuthenticationError) Category() string { return CATEGORY_AUTHENTICATION }
func (e AuthenticationError) StatusCode() int  { return http.StatusUnauthorized }

type AdmissionError struct {
	Key        string
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
}

func (e AdmissionError) Error() string {
	return fmt.Sprintf("rate limit of %d exceeded for key %s, retry after %s", e.Limit, e.Key, e.RetryAfter)
}

func (e AdmissionError) Category() string { return CATEGORY_ADMISSION }
func (e AdmissionError) StatusCode() int  { return http.StatusTooManyRequests }

type PayloadTooLargeError struct {
	Limit int64
}

func (e PayloadTooLargeError) Error() string {
	return fmt.Sprintf("payload exceeds %d bytes", e.Limit)
}

func (e PayloadTooLargeError) Category() string { return CATEGORY_PAYLOAD_TOO_LARGE }
func (e PayloadTooLargeError) StatusCode() int  { return http.StatusRequestEntityTooLarge }

type InvalidPayloadError struct {
	Reason string
}

func (e InvalidPayloadError) Error() string {
	return fmt.Sprintf("invalid payload: %s", e.Reason)
}

func (e InvalidPayloadError) Category() string { return CATEGORY_INVALID_PAYLOAD }
func (e InvalidPayloadError) StatusCode() int  { return http.StatusBadRequest }

type UnknownWorkflowError struct {
	WorkflowId string
}

func (e UnknownWorkflowError) Error() string {
	return fmt.Sprintf("workflow %s not found", e.WorkflowId)
}

func (e UnknownWorkflowError) Category() string { return CATEGORY_UNKNOWN_WORKFLOW }
func (e UnknownWorkflowError) StatusCode() int  { return http.StatusNotFound }

type WorkflowInactiveError struct {
	WorkflowId string
}

func (e WorkflowInactiveError) Error() string {
	return fmt.Sprintf("workflow %s is inactive", e.WorkflowId)
}

func (e WorkflowInactiveError) Category() string { return CATEGORY_WORKFLOW_INACTIVE }
func (e WorkflowInactiveError) StatusCode() int  { return http.StatusBadRequest }

type InvalidTransitionError struct {
	ExecutionId string
	Operation   string
	From        string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("can not %s execution %s in state %s", e.Operation, e.ExecutionId, e.From)
}

func (e InvalidTransitionError) Category() string { return CATEGORY_INVALID_TRANSITION }
func (e InvalidTransitionError) StatusCode() int  { return http.StatusBadRequest }

type ConcurrentModificationError struct {
	ExecutionId string
	Expected    string
	Actual      string
}

func (e ConcurrentModificationError) Error() string {
	return fmt.Sprintf("execution %s modified concurrently, expected state %s found %s", e.ExecutionId, e.Expected, e.Actual)
}

func (e ConcurrentModificationError) Category() string { return CATEGORY_CONCURRENT_MODIFICATION }
func (e ConcurrentModificationError) StatusCode() int  { return http.StatusConflict }

type NotFoundError struct {
	ExecutionId string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("execution %s not found", e.ExecutionId)
}

func (e NotFoundError) Category() string { return CATEGORY_NOT_FOUND }
func (e NotFoundError) StatusCode() int  { return http.StatusNotFound }

// ActionExecutionError wraps a failure returned by an action handler.
type ActionExecutionError struct {
	Kind string
	Step int
	Err  error
}

func (e ActionExecutionError) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %v", e.Step, e.Kind, e.Err)
}

func (e ActionExecutionError) Unwrap() error { return e.Err }

func (e ActionExecutionError) Category() string { return CATEGORY_ACTION_EXECUTION }
func (e ActionExecutionError) StatusCode() int  { return http.StatusInternalServerError }

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

func (e StorageLayerError) Category() string { return CATEGORY_STORAGE }
func (e StorageLayerError) StatusCode() int  { return http.StatusInternalServerError }

type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

func (e ValidationError) Category() string { return CATEGORY_VALIDATION }
func (e ValidationError) StatusCode() int  { return http.StatusBadRequest }
