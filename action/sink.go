package action

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mlodash/autoflow/logger"
	"go.uber.org/zap"
)

type TaskRequest struct {
	ExecutionId string
	SubjectId   string
	Title       string
	Assignee    string
	DueAt       *time.Time
}

type NotificationRequest struct {
	ExecutionId string
	SubjectId   string
	Recipient   string
	Channel     string
	Message     string
}

type ActivityRequest struct {
	ExecutionId string
	SubjectId   string
	Type        string
	Description string
}

type StageRequest struct {
	ExecutionId string
	SubjectId   string
	Stage       string
}

// Sink is the activity side of the CRM that workflow actions write into.
type Sink interface {
	CreateTask(ctx context.Context, req TaskRequest) (string, error)
	SendNotification(ctx context.Context, req NotificationRequest) error
	RecordActivity(ctx context.Context, req ActivityRequest) error
	UpdateStage(ctx context.Context, req StageRequest) error
}

// LoggingSink records side effects in the process log only. It is the
// default when no CRM backend is wired in.
type LoggingSink struct{}

var _ Sink = new(LoggingSink)

func (LoggingSink) CreateTask(_ context.Context, req TaskRequest) (string, error) {
	id := uuid.New().String()
	logger.Info("task created", zap.String("taskId", id), zap.String("executionId", req.ExecutionId),
		zap.String("subjectId", req.SubjectId), zap.String("title", req.Title), zap.String("assignee", req.Assignee))
	return id, nil
}

func (LoggingSink) SendNotification(_ context.Context, req NotificationRequest) error {
	logger.Info("notification sent", zap.String("executionId", req.ExecutionId), zap.String("recipient", req.Recipient),
		zap.String("channel", req.Channel))
	return nil
}

func (LoggingSink) RecordActivity(_ context.Context, req ActivityRequest) error {
	logger.Info("activity recorded", zap.String("executionId", req.ExecutionId), zap.String("subjectId", req.SubjectId),
		zap.String("type", req.Type))
	return nil
}

func (LoggingSink) UpdateStage(_ context.Context, req StageRequest) error {
	logger.Info("stage updated", zap.String("executionId", req.ExecutionId), zap.String("subjectId", req.SubjectId),
		zap.String("stage", req.Stage))
	return nil
}
