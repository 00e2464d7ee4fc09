package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	api "github.com/mlodash/autoflow/api/v1"
	"github.com/mlodash/autoflow/model"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMetadataStorage(t *testing.T) {
	_, client := newTestClient(t)
	storage := NewRedisMetadataStorage(client, "test")
	ctx := context.Background()

	_, err := storage.GetWorkflowDefinition(ctx, "wf-1")
	var unknown api.UnknownWorkflowError
	require.True(t, errors.As(err, &unknown))

	wf := model.WorkflowDefinition{
		Id:          "wf-1",
		Name:        "new lead follow up",
		TriggerType: model.TRIGGER_WEBHOOK,
		Active:      true,
		Version:     1,
		UpdatedAt:   testTime,
		Actions: []model.ActionSpec{
			{Kind: model.ACTION_CREATE_TASK, Params: map[string]any{"title": "call {$.trigger.name}"}},
		},
	}
	require.NoError(t, storage.SaveWorkflowDefinition(ctx, wf))
	require.NoError(t, storage.SaveWorkflowDefinition(ctx, model.WorkflowDefinition{Id: "wf-0", Name: "other", TriggerType: model.TRIGGER_EVENT}))

	got, err := storage.GetWorkflowDefinition(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, wf.Name, got.Name)
	require.Len(t, got.Actions, 1)
	require.Equal(t, "call {$.trigger.name}", got.Actions[0].Params["title"])

	all, err := storage.ListWorkflowDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "wf-0", all[0].Id)
}
