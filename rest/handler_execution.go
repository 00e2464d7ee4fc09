package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	api "github.com/mlodash/autoflow/api/v1"
	"github.com/mlodash/autoflow/engine"
	"github.com/mlodash/autoflow/logger"
	"github.com/mlodash/autoflow/model"
	"go.uber.org/zap"
)

type executionView struct {
	*model.Execution
	Workflow *model.WorkflowSummary `json:"workflow,omitempty"`
	Subject  map[string]any         `json:"subject,omitempty"`
}

func (s *Server) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		respondWithAPIError(w, err)
		return
	}
	page, err := s.executions.List(r.Context(), filter)
	if err != nil {
		respondWithAPIError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, page)
}

func (s *Server) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	exec, err := s.executions.Get(r.Context(), id)
	if err != nil {
		respondWithAPIError(w, err)
		return
	}
	view := executionView{Execution: exec}
	if wf, err := s.workflows.Definition(r.Context(), exec.WorkflowId); err == nil {
		summary := wf.Summary()
		view.Workflow = &summary
	} else {
		logger.Warn("workflow of execution not found", zap.String("executionId", id), zap.String("workflowId", exec.WorkflowId), zap.Error(err))
	}
	if exec.SubjectId != "" {
		subject, err := s.subjects.Summary(r.Context(), exec.SubjectId)
		if err != nil {
			logger.Warn("error in looking up subject", zap.String("subjectId", exec.SubjectId), zap.Error(err))
		}
		view.Subject = subject
	}
	respondWithJSON(w, http.StatusOK, view)
}

func (s *Server) HandleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	exec, err := s.executions.Cancel(r.Context(), id, actorFrom(r.Context()))
	if err != nil {
		respondWithAPIError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, exec)
}

func (s *Server) HandleRetryExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	exec, err := s.executions.Retry(r.Context(), id, actorFrom(r.Context()))
	if err != nil {
		respondWithAPIError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, exec)
}

func (s *Server) HandleGetExecutionLogs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	logs, err := s.executions.GetLogs(r.Context(), id)
	if err != nil {
		respondWithAPIError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, logs)
}

// HandleRunWorkflow starts an execution on behalf of an operator. The body is
// the trigger data; subjectId may be given as a query parameter.
func (s *Server) HandleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	wfId := mux.Vars(r)["workflowId"]
	defer r.Body.Close()
	limit := s.gate.MaxBodyBytes()
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		respondWithAPIError(w, api.InvalidPayloadError{Reason: "could not read request body"})
		return
	}
	if int64(len(body)) > limit {
		respondWithAPIError(w, api.PayloadTooLargeError{Limit: limit})
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		body = []byte("{}")
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
		respondWithAPIError(w, api.InvalidPayloadError{Reason: "body should be a JSON object"})
		return
	}
	exec, err := s.executions.Create(r.Context(), engine.CreateRequest{
		WorkflowId: wfId,
		Trigger:    body,
		SubjectId:  r.URL.Query().Get("subjectId"),
		Source:     engine.SOURCE_OPERATOR,
		Actor:      actorFrom(r.Context()),
	})
	if err != nil {
		respondWithAPIError(w, err)
		return
	}
	respondOK(w, map[string]any{"executionId": exec.Id, "status": exec.Status})
}

func parseFilter(r *http.Request) (model.ExecutionFilter, error) {
	q := r.URL.Query()
	filter := model.ExecutionFilter{
		WorkflowId: q.Get("workflowId"),
		SubjectId:  q.Get("subjectId"),
	}
	if statuses := q.Get("status"); statuses != "" {
		for _, st := range strings.Split(statuses, ",") {
			status := model.ExecutionStatus(strings.ToUpper(strings.TrimSpace(st)))
			if !status.Valid() {
				return filter, api.ValidationError{Message: fmt.Sprintf("unknown status %q", st)}
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	var err error
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		return filter, api.ValidationError{Message: "offset should be a non-negative integer"}
	}
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		return filter, api.ValidationError{Message: "limit should be a non-negative integer"}
	}
	return filter, nil
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid value %q", v)
	}
	return n, nil
}
