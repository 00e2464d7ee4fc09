package action

import (
	"context"
	"fmt"
	"time"

	"github.com/mlodash/autoflow/model"
)

var _ Action = new(createTaskAction)
var _ Action = new(sendNotificationAction)
var _ Action = new(recordActivityAction)
var _ Action = new(updateStageAction)

type createTaskAction struct {
	sink Sink
}

func (a *createTaskAction) Kind() model.ActionKind { return model.ACTION_CREATE_TASK }

func (a *createTaskAction) Validate(params map[string]any) error {
	if err := requireString(params, "title"); err != nil {
		return err
	}
	if err := optionalString(params, "assignee"); err != nil {
		return err
	}
	return optionalNumber(params, "dueInDays")
}

func (a *createTaskAction) Execute(ctx context.Context, actx Context, params map[string]any) (Result, error) {
	req := TaskRequest{
		ExecutionId: actx.ExecutionId,
		SubjectId:   actx.SubjectId,
		Title:       stringParam(params, "title"),
		Assignee:    stringParam(params, "assignee"),
	}
	if days, ok := numberParam(params, "dueInDays"); ok {
		due := time.Now().UTC().Add(time.Duration(days * float64(24*time.Hour)))
		req.DueAt = &due
	}
	taskId, err := a.sink.CreateTask(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Summary: fmt.Sprintf("created task %s %q", taskId, req.Title),
		Output:  map[string]any{"taskId": taskId},
	}, nil
}

type sendNotificationAction struct {
	sink Sink
}

func (a *sendNotificationAction) Kind() model.ActionKind { return model.ACTION_SEND_NOTIFICATION }

func (a *sendNotificationAction) Validate(params map[string]any) error {
	if err := requireString(params, "message"); err != nil {
		return err
	}
	if err := optionalString(params, "recipient"); err != nil {
		return err
	}
	return optionalString(params, "channel")
}

func (a *sendNotificationAction) Execute(ctx context.Context, actx Context, params map[string]any) (Result, error) {
	req := NotificationRequest{
		ExecutionId: actx.ExecutionId,
		SubjectId:   actx.SubjectId,
		Recipient:   stringParam(params, "recipient"),
		Channel:     stringParam(params, "channel"),
		Message:     stringParam(params, "message"),
	}
	if req.Channel == "" {
		req.Channel = "in_app"
	}
	if err := a.sink.SendNotification(ctx, req); err != nil {
		return Result{}, err
	}
	return Result{Summary: fmt.Sprintf("sent %s notification to %s", req.Channel, recipientOrDefault(req.Recipient))}, nil
}

func recipientOrDefault(r string) string {
	if r == "" {
		return "subject owner"
	}
	return r
}

type recordActivityAction struct {
	sink Sink
}

func (a *recordActivityAction) Kind() model.ActionKind { return model.ACTION_RECORD_ACTIVITY }

func (a *recordActivityAction) Validate(params map[string]any) error {
	if err := requireString(params, "description"); err != nil {
		return err
	}
	return optionalString(params, "type")
}

func (a *recordActivityAction) Execute(ctx context.Context, actx Context, params map[string]any) (Result, error) {
	req := ActivityRequest{
		ExecutionId: actx.ExecutionId,
		SubjectId:   actx.SubjectId,
		Type:        stringParam(params, "type"),
		Description: stringParam(params, "description"),
	}
	if req.Type == "" {
		req.Type = "workflow"
	}
	if err := a.sink.RecordActivity(ctx, req); err != nil {
		return Result{}, err
	}
	return Result{Summary: fmt.Sprintf("recorded %s activity", req.Type)}, nil
}

type updateStageAction struct {
	sink Sink
}

func (a *updateStageAction) Kind() model.ActionKind { return model.ACTION_UPDATE_STAGE }

func (a *updateStageAction) Validate(params map[string]any) error {
	return requireString(params, "stage")
}

func (a *updateStageAction) Execute(ctx context.Context, actx Context, params map[string]any) (Result, error) {
	if actx.SubjectId == "" {
		return Result{}, fmt.Errorf("update_stage needs a subject, execution %s has none", actx.ExecutionId)
	}
	req := StageRequest{
		ExecutionId: actx.ExecutionId,
		SubjectId:   actx.SubjectId,
		Stage:       stringParam(params, "stage"),
	}
	if err := a.sink.UpdateStage(ctx, req); err != nil {
		return Result{}, err
	}
	return Result{Summary: fmt.Sprintf("moved %s to stage %s", req.SubjectId, req.Stage)}, nil
}
