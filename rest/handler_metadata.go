package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	api "github.com/mlodash/autoflow/api/v1"
	"github.com/mlodash/autoflow/logger"
	"github.com/mlodash/autoflow/model"
	"go.uber.org/zap"
)

func (s *Server) HandleCreateFlow(w http.ResponseWriter, r *http.Request) {
	var wf model.WorkflowDefinition
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		respondWithAPIError(w, api.ValidationError{Message: "invalid workflow definition: " + err.Error()})
		return
	}
	saved, err := s.workflows.Save(r.Context(), wf)
	if err != nil {
		logger.Error("error saving workflow", zap.String("workflowId", wf.Id), zap.Error(err))
		respondWithAPIError(w, err)
		return
	}
	logger.Info("workflow saved", zap.String("workflowId", saved.Id), zap.Int("version", saved.Version), zap.String("actor", actorFrom(r.Context())))
	respondWithJSON(w, http.StatusOK, saved)
}

func (s *Server) HandleListFlows(w http.ResponseWriter, r *http.Request) {
	wfs, err := s.workflows.List(r.Context())
	if err != nil {
		respondWithAPIError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"workflows": wfs})
}

func (s *Server) HandleGetFlow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	wf, err := s.workflows.Definition(r.Context(), id)
	if err != nil {
		logger.Info("workflow does not exist", zap.String("workflowId", id))
		respondWithAPIError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wf)
}

type activeRequest struct {
	Active *bool `json:"active"`
}

func (s *Server) HandleSetFlowActive(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req activeRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
		respondWithAPIError(w, api.ValidationError{Message: `body should be {"active": true|false}`})
		return
	}
	wf, err := s.workflows.SetActive(r.Context(), id, *req.Active)
	if err != nil {
		respondWithAPIError(w, err)
		return
	}
	logger.Info("workflow active flag changed", zap.String("workflowId", id), zap.Bool("active", wf.Active), zap.String("actor", actorFrom(r.Context())))
	respondWithJSON(w, http.StatusOK, wf)
}
