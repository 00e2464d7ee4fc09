package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	api "github.com/mlodash/autoflow/api/v1"
	"github.com/mlodash/autoflow/engine"
	"github.com/mlodash/autoflow/logger"
	"github.com/mlodash/autoflow/model"
	"github.com/mlodash/autoflow/webhook"
	"go.uber.org/zap"
)

type ExecutionService interface {
	Create(ctx context.Context, req engine.CreateRequest) (*model.Execution, error)
	Get(ctx context.Context, id string) (*model.Execution, error)
	List(ctx context.Context, filter model.ExecutionFilter) (*model.ExecutionPage, error)
	Cancel(ctx context.Context, id string, actor string) (*model.Execution, error)
	Retry(ctx context.Context, id string, actor string) (*model.Execution, error)
	GetLogs(ctx context.Context, id string) (*engine.ExecutionLogs, error)
}

type WorkflowService interface {
	Definition(ctx context.Context, id string) (*model.WorkflowDefinition, error)
	List(ctx context.Context) ([]*model.WorkflowDefinition, error)
	Save(ctx context.Context, wf model.WorkflowDefinition) (*model.WorkflowDefinition, error)
	SetActive(ctx context.Context, id string, active bool) (*model.WorkflowDefinition, error)
}

type TriggerGate interface {
	Admit(ctx context.Context, req webhook.TriggerRequest) (webhook.Admission, error)
	MaxBodyBytes() int64
}

type ServerConfig struct {
	HttpPort         int
	Gate             TriggerGate
	Executions       ExecutionService
	Workflows        WorkflowService
	Authenticator    Authenticator
	SubjectDirectory SubjectDirectory
}

type Server struct {
	http.Server
	Port       int
	gate       TriggerGate
	executions ExecutionService
	workflows  WorkflowService
	auth       Authenticator
	subjects   SubjectDirectory
}

func NewServer(conf ServerConfig) (*Server, error) {
	if conf.Gate == nil || conf.Executions == nil || conf.Workflows == nil {
		return nil, fmt.Errorf("gate, executions and workflows are required")
	}
	s := &Server{
		Server: http.Server{
			Addr:              fmt.Sprintf(":%d", conf.HttpPort),
			IdleTimeout:       30 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
		},
		Port:       conf.HttpPort,
		gate:       conf.Gate,
		executions: conf.Executions,
		workflows:  conf.Workflows,
		auth:       conf.Authenticator,
		subjects:   conf.SubjectDirectory,
	}
	if s.auth == nil {
		s.auth = NewTokenAuthenticator(nil)
	}
	if s.subjects == nil {
		s.subjects = NoopSubjectDirectory{}
	}
	s.Handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.HandleHealth).Methods(http.MethodGet)
	router.HandleFunc("/workflows/{workflowId}/trigger", s.HandleTrigger).Methods(http.MethodPost)

	operator := router.NewRoute().Subrouter()
	operator.Use(s.authMiddleware)
	operator.HandleFunc("/workflows/{workflowId}/run", s.HandleRunWorkflow).Methods(http.MethodPost)

	operator.HandleFunc("/executions", s.HandleListExecutions).Methods(http.MethodGet)
	operator.HandleFunc("/executions/{id}", s.HandleGetExecution).Methods(http.MethodGet)
	operator.HandleFunc("/executions/{id}/cancel", s.HandleCancelExecution).Methods(http.MethodPost)
	operator.HandleFunc("/executions/{id}/retry", s.HandleRetryExecution).Methods(http.MethodPost)
	operator.HandleFunc("/executions/{id}/logs", s.HandleGetExecutionLogs).Methods(http.MethodGet)

	operator.HandleFunc("/metadata/workflow", s.HandleCreateFlow).Methods(http.MethodPost)
	operator.HandleFunc("/metadata/workflow", s.HandleListFlows).Methods(http.MethodGet)
	operator.HandleFunc("/metadata/workflow/{id}", s.HandleGetFlow).Methods(http.MethodGet)
	operator.HandleFunc("/metadata/workflow/{id}/active", s.HandleSetFlowActive).Methods(http.MethodPut)

	router.Use(loggingMiddleware)
	return router
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		logger.Error("error shutting down http server", zap.Error(err))
	}
	return nil
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondOK(w, map[string]any{"status": "ok"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("http request", zap.String("method", r.Method), zap.String("path", r.URL.Path),
			zap.Int("status", rec.status), zap.Duration("elapsed", time.Since(start)))
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, message map[string]any) {
	respondWithJSON(w, http.StatusOK, message)
}

func respondWithError(w http.ResponseWriter, code int, category string, message string) {
	respondWithJSON(w, code, map[string]string{"error": category, "message": message})
}

// respondWithAPIError maps typed errors to their status and category.
// Anything else is reported as an internal error without details.
func respondWithAPIError(w http.ResponseWriter, err error) {
	var categorized api.CategorizedError
	if errors.As(err, &categorized) && categorized.StatusCode() < http.StatusInternalServerError {
		respondWithError(w, categorized.StatusCode(), categorized.Category(), categorized.Error())
		return
	}
	logger.Error("internal error", zap.Error(err))
	respondWithError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
