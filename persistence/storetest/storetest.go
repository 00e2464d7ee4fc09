// Package storetest holds the behaviour every ExecutionStore must share.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	api "github.com/mlodash/autoflow/api/v1"
	"github.com/mlodash/autoflow/model"
	"github.com/mlodash/autoflow/persistence"
	"github.com/stretchr/testify/require"
)

// Run executes the shared scenarios, calling newStore for a fresh empty store
// per scenario.
func Run(t *testing.T, newStore func(t *testing.T) persistence.ExecutionStore) {
	for scenario, fn := range map[string]func(
		t *testing.T, store persistence.ExecutionStore,
	){
		"create and get":                      testCreateGet,
		"update checks expected status":       testUpdateExpectedStatus,
		"concurrent updates have one winner":  testConcurrentUpdate,
		"mutation error leaves record intact": testMutationError,
		"logs are ordered and append only":    testLogs,
		"list filters and pages":              testList,
		"trigger data kept verbatim":          testTriggerVerbatim,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, newStore(t))
		})
	}
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func NewExecution(id string, wfId string, createdAt time.Time) *model.Execution {
	return &model.Execution{
		Id:          id,
		WorkflowId:  wfId,
		SubjectId:   "lead-1",
		Status:      model.PENDING,
		TriggerData: json.RawMessage(`{"leadId":"lead-1"}`),
		CurrentStep: 0,
		Attempts:    1,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

func testCreateGet(t *testing.T, store persistence.ExecutionStore) {
	ctx := context.Background()
	exec := NewExecution("e-1", "wf-1", base)
	require.NoError(t, store.CreateExecution(ctx, exec))

	got, err := store.GetExecution(ctx, "e-1")
	require.NoError(t, err)
	require.Equal(t, model.PENDING, got.Status)
	require.Equal(t, "wf-1", got.WorkflowId)
	require.JSONEq(t, `{"leadId":"lead-1"}`, string(got.TriggerData))
	require.True(t, base.Equal(got.CreatedAt))

	require.Error(t, store.CreateExecution(ctx, exec))

	_, err = store.GetExecution(ctx, "missing")
	var notFound api.NotFoundError
	require.True(t, errors.As(err, &notFound))
}

func testTriggerVerbatim(t *testing.T, store persistence.ExecutionStore) {
	ctx := context.Background()
	raw := `{"b":1,  "a":2, "a":3,` + "\n" + `"note":"caf\u00e9"}`
	exec := NewExecution("e-1", "wf-1", base)
	exec.TriggerData = json.RawMessage(raw)
	require.NoError(t, store.CreateExecution(ctx, exec))

	got, err := store.GetExecution(ctx, "e-1")
	require.NoError(t, err)
	require.Equal(t, raw, string(got.TriggerData))

	updated, err := store.UpdateExecution(ctx, "e-1", model.PENDING, func(e *model.Execution) error {
		e.Status = model.RUNNING
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, raw, string(updated.TriggerData))

	page, err := store.ListExecutions(ctx, model.ExecutionFilter{})
	require.NoError(t, err)
	require.Len(t, page.Executions, 1)
	require.Equal(t, raw, string(page.Executions[0].TriggerData))
}

func testUpdateExpectedStatus(t *testing.T, store persistence.ExecutionStore) {
	ctx := context.Background()
	require.NoError(t, store.CreateExecution(ctx, NewExecution("e-1", "wf-1", base)))

	started := base.Add(time.Second)
	updated, err := store.UpdateExecution(ctx, "e-1", model.PENDING, func(e *model.Execution) error {
		e.Status = model.RUNNING
		e.StartedAt = &started
		e.WorkflowId = "other"
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, model.RUNNING, updated.Status)
	require.Equal(t, "wf-1", updated.WorkflowId)
	require.Equal(t, int64(1), updated.Version)

	_, err = store.UpdateExecution(ctx, "e-1", model.PENDING, func(e *model.Execution) error {
		e.Status = model.CANCELLED
		return nil
	})
	var conflict api.ConcurrentModificationError
	require.True(t, errors.As(err, &conflict))
	require.Equal(t, string(model.RUNNING), conflict.Actual)

	got, err := store.GetExecution(ctx, "e-1")
	require.NoError(t, err)
	require.Equal(t, model.RUNNING, got.Status)
	require.NotNil(t, got.StartedAt)

	_, err = store.UpdateExecution(ctx, "missing", model.PENDING, func(e *model.Execution) error { return nil })
	var notFound api.NotFoundError
	require.True(t, errors.As(err, &notFound))
}

func testConcurrentUpdate(t *testing.T, store persistence.ExecutionStore) {
	ctx := context.Background()
	require.NoError(t, store.CreateExecution(ctx, NewExecution("e-1", "wf-1", base)))

	const writers = 8
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.UpdateExecution(ctx, "e-1", model.PENDING, func(e *model.Execution) error {
				e.Status = model.RUNNING
				e.CancelledBy = fmt.Sprintf("writer-%d", i)
				return nil
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		var conflict api.ConcurrentModificationError
		require.True(t, errors.As(err, &conflict), err.Error())
	}
	require.Equal(t, 1, wins)
}

func testMutationError(t *testing.T, store persistence.ExecutionStore) {
	ctx := context.Background()
	require.NoError(t, store.CreateExecution(ctx, NewExecution("e-1", "wf-1", base)))

	boom := errors.New("boom")
	_, err := store.UpdateExecution(ctx, "e-1", model.PENDING, func(e *model.Execution) error {
		e.Status = model.FAILED
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.GetExecution(ctx, "e-1")
	require.NoError(t, err)
	require.Equal(t, model.PENDING, got.Status)
	require.Equal(t, int64(0), got.Version)
}

func testLogs(t *testing.T, store persistence.ExecutionStore) {
	ctx := context.Background()
	require.NoError(t, store.CreateExecution(ctx, NewExecution("e-1", "wf-1", base)))

	for i := 0; i < 3; i++ {
		entry, err := store.AppendLog(ctx, "e-1", model.LogEntry{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Level:     model.LOG_INFO,
			Message:   fmt.Sprintf("message %d", i),
			StepIndex: i - 1,
		})
		require.NoError(t, err)
		require.Equal(t, int64(i+1), entry.Seq)
	}
	first, err := store.GetLogs(ctx, "e-1")
	require.NoError(t, err)
	require.Len(t, first, 3)

	_, err = store.AppendLog(ctx, "e-1", model.LogEntry{Timestamp: base, Level: model.LOG_WARN, Message: "later", StepIndex: model.NO_STEP})
	require.NoError(t, err)

	second, err := store.GetLogs(ctx, "e-1")
	require.NoError(t, err)
	require.Len(t, second, 4)
	for i := range first {
		require.Equal(t, first[i].Seq, second[i].Seq)
		require.Equal(t, first[i].Message, second[i].Message)
		require.Equal(t, first[i].StepIndex, second[i].StepIndex)
	}
	require.Equal(t, model.LOG_WARN, second[3].Level)
	require.Equal(t, model.NO_STEP, second[3].StepIndex)

	_, err = store.AppendLog(ctx, "missing", model.LogEntry{Timestamp: base, Level: model.LOG_INFO, Message: "x"})
	var notFound api.NotFoundError
	require.True(t, errors.As(err, &notFound))

	empty := NewExecution("e-2", "wf-1", base)
	require.NoError(t, store.CreateExecution(ctx, empty))
	logs, err := store.GetLogs(ctx, "e-2")
	require.NoError(t, err)
	require.Empty(t, logs)
}

func testList(t *testing.T, store persistence.ExecutionStore) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		wf := "wf-a"
		if i%2 == 1 {
			wf = "wf-b"
		}
		require.NoError(t, store.CreateExecution(ctx, NewExecution(fmt.Sprintf("e-%d", i), wf, base.Add(time.Duration(i)*time.Minute))))
	}
	_, err := store.UpdateExecution(ctx, "e-2", model.PENDING, func(e *model.Execution) error {
		e.Status = model.RUNNING
		return nil
	})
	require.NoError(t, err)

	page, err := store.ListExecutions(ctx, model.ExecutionFilter{})
	require.NoError(t, err)
	require.Equal(t, 5, page.Total)
	require.Equal(t, "e-4", page.Executions[0].Id)
	require.Equal(t, "e-0", page.Executions[4].Id)

	page, err = store.ListExecutions(ctx, model.ExecutionFilter{WorkflowId: "wf-a"})
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)

	page, err = store.ListExecutions(ctx, model.ExecutionFilter{Statuses: []model.ExecutionStatus{model.RUNNING}})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	require.Equal(t, "e-2", page.Executions[0].Id)

	page, err = store.ListExecutions(ctx, model.ExecutionFilter{Offset: 1, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 5, page.Total)
	require.Len(t, page.Executions, 2)
	require.Equal(t, "e-3", page.Executions[0].Id)
	require.Equal(t, "e-2", page.Executions[1].Id)

	page, err = store.ListExecutions(ctx, model.ExecutionFilter{Offset: 10})
	require.NoError(t, err)
	require.Empty(t, page.Executions)

	page, err = store.ListExecutions(ctx, model.ExecutionFilter{CreatedBefore: base.Add(2 * time.Minute)})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
}
