package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mlodash/autoflow/action"
	api "github.com/mlodash/autoflow/api/v1"
	"github.com/mlodash/autoflow/metadata"
	"github.com/mlodash/autoflow/model"
	"github.com/mlodash/autoflow/persistence"
	"github.com/mlodash/autoflow/persistence/memory"
	"github.com/stretchr/testify/require"
)

type stepFunc func(ctx context.Context, spec model.ActionSpec, actx action.Context) (action.Result, error)

type fakeInvoker struct {
	mu    sync.Mutex
	calls []int
	fn    stepFunc
}

func (f *fakeInvoker) Invoke(ctx context.Context, spec model.ActionSpec, actx action.Context) (action.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, actx.Step)
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return action.Result{Summary: string(spec.Kind)}, nil
	}
	return fn(ctx, spec, actx)
}

func (f *fakeInvoker) Calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

type testEnv struct {
	engine   *Engine
	store    persistence.ExecutionStore
	metadata *metadata.MetadataService
	invoker  *fakeInvoker
}

func newTestEnv(t *testing.T, conf Config) *testEnv {
	return newTestEnvWithStore(t, conf, memory.NewExecutionStore())
}

func newTestEnvWithStore(t *testing.T, conf Config, store persistence.ExecutionStore) *testEnv {
	wg := &sync.WaitGroup{}
	md := metadata.NewMetadataService(metadata.NewInMemoryStorage(), action.NewRegistry(action.LoggingSink{}), time.Minute)
	invoker := &fakeInvoker{}
	e := NewEngine(conf, store, md, invoker, wg)
	t.Cleanup(func() {
		e.Stop()
		wg.Wait()
	})
	_, err := md.Save(context.Background(), twoStepWorkflow("lead-intake", true))
	require.NoError(t, err)
	return &testEnv{engine: e, store: store, metadata: md, invoker: invoker}
}

func twoStepWorkflow(id string, active bool) model.WorkflowDefinition {
	return model.WorkflowDefinition{
		Id:          id,
		Name:        "Lead intake",
		TriggerType: model.TRIGGER_WEBHOOK,
		SubjectPath: "$.clientId",
		Active:      active,
		Actions: []model.ActionSpec{
			{Kind: model.ACTION_CREATE_TASK, Params: map[string]any{"title": "Call {$.trigger.name}"}},
			{Kind: model.ACTION_SEND_NOTIFICATION, Params: map[string]any{"message": "new lead"}},
		},
	}
}

func (env *testEnv) create(t *testing.T) *model.Execution {
	exec, err := env.engine.Create(context.Background(), CreateRequest{
		WorkflowId: "lead-intake",
		Trigger:    json.RawMessage(`{"clientId":"c-42","name":"Ada"}`),
	})
	require.NoError(t, err)
	return exec
}

func (env *testEnv) waitForStatus(t *testing.T, id string, status model.ExecutionStatus) *model.Execution {
	var exec *model.Execution
	require.Eventually(t, func() bool {
		var err error
		exec, err = env.engine.Get(context.Background(), id)
		return err == nil && exec.Status == status
	}, 5*time.Second, 10*time.Millisecond, "waiting for %s", status)
	return exec
}

func (env *testEnv) logs(t *testing.T, id string) []model.LogEntry {
	logs, err := env.engine.GetLogs(context.Background(), id)
	require.NoError(t, err)
	return logs.Logs
}

func TestCompletesAllSteps(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.engine.Start()

	exec := env.create(t)
	require.Equal(t, model.PENDING, exec.Status)
	require.Equal(t, "c-42", exec.SubjectId)
	require.Equal(t, 1, exec.Attempts)

	done := env.waitForStatus(t, exec.Id, model.COMPLETED)
	require.Equal(t, 2, done.CurrentStep)
	require.NotNil(t, done.CompletedAt)
	require.NotNil(t, done.StartedAt)
	require.Nil(t, done.ErrorMessage)

	logs := env.logs(t, exec.Id)
	require.Len(t, logs, 3)
	require.Equal(t, model.NO_STEP, logs[0].StepIndex)
	require.Equal(t, 0, logs[1].StepIndex)
	require.Equal(t, 1, logs[2].StepIndex)
	require.Equal(t, []int{0, 1}, env.invoker.Calls())
}

func TestFailureAndRetry(t *testing.T) {
	env := newTestEnv(t, Config{})
	var failures int
	env.invoker.fn = func(ctx context.Context, spec model.ActionSpec, actx action.Context) (action.Result, error) {
		if actx.Step == 1 && failures == 0 {
			failures++
			return action.Result{}, api.ActionExecutionError{Kind: string(spec.Kind), Step: actx.Step, Err: errors.New("smtp unavailable")}
		}
		return action.Result{Summary: "ok"}, nil
	}
	env.engine.Start()

	exec := env.create(t)
	failed := env.waitForStatus(t, exec.Id, model.FAILED)
	require.Equal(t, 1, failed.CurrentStep)
	require.NotNil(t, failed.ErrorMessage)
	require.Contains(t, *failed.ErrorMessage, "smtp unavailable")
	require.NotNil(t, failed.CompletedAt)
	firstCompletedAt := *failed.CompletedAt

	before := env.logs(t, exec.Id)
	require.Equal(t, model.LOG_ERROR, before[len(before)-1].Level)

	retried, err := env.engine.Retry(context.Background(), exec.Id, "alice")
	require.NoError(t, err)
	require.Equal(t, model.RUNNING, retried.Status)
	require.Equal(t, 2, retried.Attempts)
	require.Equal(t, 1, retried.CurrentStep)
	require.Nil(t, retried.ErrorMessage)

	done := env.waitForStatus(t, exec.Id, model.COMPLETED)
	require.Equal(t, 2, done.CurrentStep)
	require.True(t, firstCompletedAt.Equal(*done.CompletedAt))

	after := env.logs(t, exec.Id)
	require.Greater(t, len(after), len(before))
	require.Equal(t, before, after[:len(before)])
	require.Equal(t, []int{0, 1, 1}, env.invoker.Calls())
}

func TestCancelWhileStepInFlight(t *testing.T) {
	env := newTestEnv(t, Config{})
	started := make(chan struct{})
	release := make(chan struct{})
	env.invoker.fn = func(ctx context.Context, spec model.ActionSpec, actx action.Context) (action.Result, error) {
		if actx.Step == 0 {
			close(started)
			<-release
		}
		return action.Result{}, nil
	}
	env.engine.Start()

	exec := env.create(t)
	<-started
	cancelled, err := env.engine.Cancel(context.Background(), exec.Id, "bob")
	require.NoError(t, err)
	require.Equal(t, model.CANCELLED, cancelled.Status)
	require.Equal(t, "bob", cancelled.CancelledBy)
	require.NotNil(t, cancelled.CompletedAt)
	close(release)

	require.Eventually(t, func() bool {
		logs := env.logs(t, exec.Id)
		return logs[len(logs)-1].Level == model.LOG_WARN
	}, 5*time.Second, 10*time.Millisecond)

	final, err := env.engine.Get(context.Background(), exec.Id)
	require.NoError(t, err)
	require.Equal(t, model.CANCELLED, final.Status)
	require.Equal(t, 0, final.CurrentStep)
	require.Equal(t, []int{0}, env.invoker.Calls())
}

func TestCancelInterruptsDelay(t *testing.T) {
	env := newTestEnv(t, Config{})
	started := make(chan struct{})
	env.invoker.fn = func(ctx context.Context, spec model.ActionSpec, actx action.Context) (action.Result, error) {
		close(started)
		<-ctx.Done()
		return action.Result{}, ctx.Err()
	}
	env.engine.Start()

	exec := env.create(t)
	<-started
	_, err := env.engine.Cancel(context.Background(), exec.Id, "bob")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		logs := env.logs(t, exec.Id)
		return logs[len(logs)-1].Level == model.LOG_WARN
	}, 5*time.Second, 10*time.Millisecond)
	final, err := env.engine.Get(context.Background(), exec.Id)
	require.NoError(t, err)
	require.Equal(t, model.CANCELLED, final.Status)
	require.Nil(t, final.ErrorMessage)
}

func TestInvalidTransitions(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	pending := env.create(t)
	_, err := env.engine.Retry(ctx, pending.Id, "alice")
	var invalid api.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, string(model.PENDING), invalid.From)

	env.engine.Start()
	done := env.waitForStatus(t, pending.Id, model.COMPLETED)
	logsBefore := env.logs(t, pending.Id)

	_, err = env.engine.Cancel(ctx, pending.Id, "alice")
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "cancel", invalid.Operation)

	after, err := env.engine.Get(ctx, pending.Id)
	require.NoError(t, err)
	require.True(t, done.CompletedAt.Equal(*after.CompletedAt))
	require.Equal(t, logsBefore, env.logs(t, pending.Id))

	_, err = env.engine.Retry(ctx, pending.Id, "alice")
	require.ErrorAs(t, err, &invalid)
}

func TestRetryWhileRunning(t *testing.T) {
	env := newTestEnv(t, Config{})
	started := make(chan struct{})
	release := make(chan struct{})
	env.invoker.fn = func(ctx context.Context, spec model.ActionSpec, actx action.Context) (action.Result, error) {
		if actx.Step == 0 {
			close(started)
			<-release
		}
		return action.Result{}, nil
	}
	env.engine.Start()
	exec := env.create(t)
	<-started

	_, err := env.engine.Retry(context.Background(), exec.Id, "alice")
	var invalid api.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, string(model.RUNNING), invalid.From)
	close(release)
	env.waitForStatus(t, exec.Id, model.COMPLETED)
}

func TestCancelPendingNeverRuns(t *testing.T) {
	env := newTestEnv(t, Config{})
	exec := env.create(t)

	_, err := env.engine.Cancel(context.Background(), exec.Id, "ops")
	require.NoError(t, err)
	env.engine.Start()

	time.Sleep(50 * time.Millisecond)
	final, err := env.engine.Get(context.Background(), exec.Id)
	require.NoError(t, err)
	require.Equal(t, model.CANCELLED, final.Status)
	require.Nil(t, final.StartedAt)
	require.Empty(t, env.invoker.Calls())
}

func TestCreateErrors(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	_, err := env.metadata.Save(ctx, twoStepWorkflow("paused", false))
	require.NoError(t, err)

	_, err = env.engine.Create(ctx, CreateRequest{WorkflowId: "missing", Trigger: json.RawMessage(`{}`)})
	var unknown api.UnknownWorkflowError
	require.ErrorAs(t, err, &unknown)

	_, err = env.engine.Create(ctx, CreateRequest{WorkflowId: "paused", Trigger: json.RawMessage(`{}`)})
	var inactive api.WorkflowInactiveError
	require.ErrorAs(t, err, &inactive)

	_, err = env.engine.Create(ctx, CreateRequest{WorkflowId: "lead-intake", Trigger: json.RawMessage(`[1,2]`)})
	var invalid api.InvalidPayloadError
	require.ErrorAs(t, err, &invalid)

	page, err := env.engine.List(ctx, model.ExecutionFilter{})
	require.NoError(t, err)
	require.Zero(t, page.Total)

	_, err = env.engine.GetLogs(ctx, "missing")
	var notFound api.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestDeactivationDoesNotAffectAdmittedExecutions(t *testing.T) {
	env := newTestEnv(t, Config{})
	exec := env.create(t)
	_, err := env.metadata.SetActive(context.Background(), "lead-intake", false)
	require.NoError(t, err)

	env.engine.Start()
	env.waitForStatus(t, exec.Id, model.COMPLETED)
}

func TestRecover(t *testing.T) {
	for scenario, tc := range map[string]struct {
		recoverRunning bool
		runningStatus  model.ExecutionStatus
	}{
		"resumes running":      {recoverRunning: true, runningStatus: model.COMPLETED},
		"leaves running alone": {recoverRunning: false, runningStatus: model.RUNNING},
	} {
		t.Run(scenario, func(t *testing.T) {
			env := newTestEnv(t, Config{RecoverRunning: tc.recoverRunning})
			ctx := context.Background()
			now := time.Now().UTC()

			pending := &model.Execution{Id: "pending-1", WorkflowId: "lead-intake", Status: model.PENDING,
				TriggerData: json.RawMessage(`{}`), Attempts: 1, CreatedAt: now, UpdatedAt: now}
			started := now
			running := &model.Execution{Id: "running-1", WorkflowId: "lead-intake", Status: model.RUNNING,
				TriggerData: json.RawMessage(`{}`), CurrentStep: 1, Attempts: 1, StartedAt: &started, CreatedAt: now, UpdatedAt: now}
			require.NoError(t, env.store.CreateExecution(ctx, pending))
			require.NoError(t, env.store.CreateExecution(ctx, running))

			env.engine.Start()
			_, err := env.engine.Recover(ctx)
			require.NoError(t, err)

			env.waitForStatus(t, "pending-1", model.COMPLETED)
			if tc.recoverRunning {
				done := env.waitForStatus(t, "running-1", model.COMPLETED)
				require.Equal(t, 2, done.CurrentStep)
				logs := env.logs(t, "running-1")
				require.Equal(t, "resumed after restart", logs[0].Message)
				require.Equal(t, model.LOG_WARN, logs[0].Level)
			} else {
				time.Sleep(50 * time.Millisecond)
				got, err := env.engine.Get(ctx, "running-1")
				require.NoError(t, err)
				require.Equal(t, tc.runningStatus, got.Status)
			}
		})
	}
}

func TestSweepResubmitsStalePending(t *testing.T) {
	env := newTestEnv(t, Config{SweepInterval: 20 * time.Millisecond})
	ctx := context.Background()
	old := time.Now().UTC().Add(-time.Minute)
	stale := &model.Execution{Id: "stale-1", WorkflowId: "lead-intake", Status: model.PENDING,
		TriggerData: json.RawMessage(`{}`), Attempts: 1, CreatedAt: old, UpdatedAt: old}
	require.NoError(t, env.store.CreateExecution(ctx, stale))

	env.engine.Start()
	env.waitForStatus(t, "stale-1", model.COMPLETED)
}

// gatedStore holds the first error log append until proceed is closed.
type gatedStore struct {
	persistence.ExecutionStore
	once    sync.Once
	entered chan struct{}
	proceed chan struct{}
}

func (s *gatedStore) AppendLog(ctx context.Context, id string, entry model.LogEntry) (model.LogEntry, error) {
	if entry.Level == model.LOG_ERROR {
		s.once.Do(func() {
			close(s.entered)
			<-s.proceed
		})
	}
	return s.ExecutionStore.AppendLog(ctx, id, entry)
}

func TestRetryBeforeFailedRunnerExits(t *testing.T) {
	store := &gatedStore{ExecutionStore: memory.NewExecutionStore(), entered: make(chan struct{}), proceed: make(chan struct{})}
	env := newTestEnvWithStore(t, Config{RecoverRunning: false, SweepInterval: time.Hour}, store)
	var mu sync.Mutex
	failures := 0
	env.invoker.fn = func(ctx context.Context, spec model.ActionSpec, actx action.Context) (action.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		if actx.Step == 1 && failures == 0 {
			failures++
			return action.Result{}, errors.New("crm timeout")
		}
		return action.Result{}, nil
	}
	env.engine.Start()

	exec := env.create(t)
	<-store.entered
	retried, err := env.engine.Retry(context.Background(), exec.Id, "alice")
	require.NoError(t, err)
	require.Equal(t, model.RUNNING, retried.Status)
	close(store.proceed)

	done := env.waitForStatus(t, exec.Id, model.COMPLETED)
	require.Equal(t, 2, done.CurrentStep)
	require.Equal(t, 2, done.Attempts)
	require.Equal(t, []int{0, 1, 1}, env.invoker.Calls())
}

// completionObserver records how many log entries existed when the
// execution was moved to COMPLETED.
type completionObserver struct {
	persistence.ExecutionStore
	mu           sync.Mutex
	logsAtFinish []model.LogEntry
}

func (s *completionObserver) UpdateExecution(ctx context.Context, id string, expected model.ExecutionStatus, mutate persistence.Mutation) (*model.Execution, error) {
	updated, err := s.ExecutionStore.UpdateExecution(ctx, id, expected, mutate)
	if err == nil && updated.Status == model.COMPLETED {
		logs, logErr := s.ExecutionStore.GetLogs(ctx, id)
		if logErr == nil {
			s.mu.Lock()
			s.logsAtFinish = logs
			s.mu.Unlock()
		}
	}
	return updated, err
}

func TestLastStepLoggedBeforeCompletion(t *testing.T) {
	store := &completionObserver{ExecutionStore: memory.NewExecutionStore()}
	env := newTestEnvWithStore(t, Config{}, store)
	env.engine.Start()

	exec := env.create(t)
	env.waitForStatus(t, exec.Id, model.COMPLETED)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.logsAtFinish, 3)
	require.Equal(t, 1, store.logsAtFinish[2].StepIndex)
}

func TestRunningPastLastStepIsCompletedOnRecover(t *testing.T) {
	env := newTestEnv(t, Config{RecoverRunning: true})
	ctx := context.Background()
	now := time.Now().UTC()
	exec := &model.Execution{Id: "all-steps-done", WorkflowId: "lead-intake", Status: model.RUNNING,
		TriggerData: json.RawMessage(`{}`), CurrentStep: 2, Attempts: 1, StartedAt: &now, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, env.store.CreateExecution(ctx, exec))

	env.engine.Start()
	_, err := env.engine.Recover(ctx)
	require.NoError(t, err)
	done := env.waitForStatus(t, exec.Id, model.COMPLETED)
	require.NotNil(t, done.CompletedAt)
	require.Empty(t, env.invoker.Calls())
}
