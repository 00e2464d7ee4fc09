package metadata

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mlodash/autoflow/action"
	api "github.com/mlodash/autoflow/api/v1"
	"github.com/mlodash/autoflow/model"
	"github.com/stretchr/testify/require"
)

func newTestService() *MetadataService {
	return NewMetadataService(NewInMemoryStorage(), action.NewRegistry(action.LoggingSink{}), 0)
}

func leadWorkflow(active bool) model.WorkflowDefinition {
	return model.WorkflowDefinition{
		Id:          "new-lead",
		Name:        "New lead intake",
		TriggerType: model.TRIGGER_WEBHOOK,
		SubjectPath: "$.clientId",
		Active:      active,
		Actions: []model.ActionSpec{
			{Kind: model.ACTION_CREATE_TASK, Params: map[string]any{"title": "Call {$.trigger.name}"}},
			{Kind: model.ACTION_SEND_NOTIFICATION, Params: map[string]any{"message": "new lead"}},
		},
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	s := newTestService()

	_, err := s.Resolve(ctx, "new-lead")
	var unknown api.UnknownWorkflowError
	require.ErrorAs(t, err, &unknown)

	saved, err := s.Save(ctx, leadWorkflow(true))
	require.NoError(t, err)
	require.Equal(t, 1, saved.Version)

	wf, err := s.Resolve(ctx, "new-lead")
	require.NoError(t, err)
	require.Len(t, wf.Actions, 2)

	_, err = s.SetActive(ctx, "new-lead", false)
	require.NoError(t, err)

	_, err = s.Resolve(ctx, "new-lead")
	var inactive api.WorkflowInactiveError
	require.ErrorAs(t, err, &inactive, "cache is invalidated when the flag changes")

	wf, err = s.Definition(ctx, "new-lead")
	require.NoError(t, err)
	require.False(t, wf.Active)
	require.Equal(t, 2, wf.Version)
}

func TestValidate(t *testing.T) {
	s := newTestService()
	for scenario, mutate := range map[string]func(wf *model.WorkflowDefinition){
		"empty id":          func(wf *model.WorkflowDefinition) { wf.Id = "" },
		"empty name":        func(wf *model.WorkflowDefinition) { wf.Name = " " },
		"bad trigger":       func(wf *model.WorkflowDefinition) { wf.TriggerType = "cron" },
		"bad subject path":  func(wf *model.WorkflowDefinition) { wf.SubjectPath = "clientId" },
		"no actions":        func(wf *model.WorkflowDefinition) { wf.Actions = nil },
		"unknown kind":      func(wf *model.WorkflowDefinition) { wf.Actions[0].Kind = "fax" },
		"invalid parameter": func(wf *model.WorkflowDefinition) { wf.Actions[1].Params = map[string]any{} },
	} {
		t.Run(scenario, func(t *testing.T) {
			wf := leadWorkflow(true)
			mutate(&wf)
			var verr api.ValidationError
			require.ErrorAs(t, s.Validate(wf), &verr)
		})
	}
	require.NoError(t, s.Validate(leadWorkflow(true)))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workflows.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workflows:
  - id: doc-received
    name: Document received
    triggerType: event
    active: true
    actions:
      - kind: record_activity
        params:
          description: "Document {$.trigger.documentName} received"
      - kind: delay
        params:
          seconds: 1
`), 0o600))

	s := newTestService()
	n, err := s.LoadFile(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	wf, err := s.Resolve(context.Background(), "doc-received")
	require.NoError(t, err)
	require.Equal(t, model.TRIGGER_EVENT, wf.TriggerType)
	require.Equal(t, model.ACTION_DELAY, wf.Actions[1].Kind)

	list, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)

	n, err = s.LoadFile(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	wf, err = s.Definition(context.Background(), "doc-received")
	require.NoError(t, err)
	require.Equal(t, 1, wf.Version)
}
