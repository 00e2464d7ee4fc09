package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	api "github.com/mlodash/autoflow/api/v1"
	"github.com/mlodash/autoflow/logger"
	"github.com/mlodash/autoflow/model"
	"github.com/mlodash/autoflow/persistence"
	"go.uber.org/zap"
)

const executionColumns = `id, workflow_id, subject_id, status, trigger_data, current_step, attempts,
	error_message, cancelled_by, started_at, completed_at, created_at, updated_at, version`

const insertExecutionSQL = `
INSERT INTO workflow_executions (` + executionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

const selectExecutionSQL = `SELECT ` + executionColumns + ` FROM workflow_executions WHERE id = $1`

// The version and status predicates make the update a compare-and-set.
const updateExecutionSQL = `
UPDATE workflow_executions
SET subject_id = $3, status = $4, current_step = $5, attempts = $6, error_message = $7,
	cancelled_by = $8, started_at = $9, completed_at = $10, updated_at = $11, version = $12
WHERE id = $1 AND version = $2 AND status = $13`

const lockExecutionSQL = `SELECT id FROM workflow_executions WHERE id = $1 FOR UPDATE`

const insertLogSQL = `
INSERT INTO workflow_execution_logs (execution_id, seq, ts, level, message, step_index)
SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5 FROM workflow_execution_logs WHERE execution_id = $1
RETURNING seq`

const selectLogsSQL = `
SELECT seq, ts, level, message, step_index FROM workflow_execution_logs
WHERE execution_id = $1 ORDER BY seq`

const uniqueViolation = "23505"

var _ persistence.ExecutionStore = new(postgresExecutionStore)

type postgresExecutionStore struct {
	db DB
}

func NewPostgresExecutionStore(db DB) *postgresExecutionStore {
	return &postgresExecutionStore{db: db}
}

func (s *postgresExecutionStore) CreateExecution(ctx context.Context, exec *model.Execution) error {
	_, err := s.db.Exec(ctx, insertExecutionSQL,
		exec.Id, exec.WorkflowId, exec.SubjectId, string(exec.Status), []byte(exec.TriggerData),
		exec.CurrentStep, exec.Attempts, exec.ErrorMessage, exec.CancelledBy,
		exec.StartedAt, exec.CompletedAt, exec.CreatedAt, exec.UpdatedAt, exec.Version)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return api.StorageLayerError{Message: fmt.Sprintf("execution %s already exists", exec.Id)}
		}
		logger.Error("error in saving execution", zap.String("executionId", exec.Id), zap.Error(err))
		return api.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *postgresExecutionStore) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	exec, err := scanExecution(s.db.QueryRow(ctx, selectExecutionSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, api.NotFoundError{ExecutionId: id}
		}
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	return exec, nil
}

func (s *postgresExecutionStore) UpdateExecution(ctx context.Context, id string, expected model.ExecutionStatus, mutate persistence.Mutation) (*model.Execution, error) {
	current, err := s.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	updated, err := persistence.ApplyMutation(current, expected, mutate)
	if err != nil {
		return nil, err
	}
	tag, err := s.db.Exec(ctx, updateExecutionSQL,
		id, current.Version, updated.SubjectId, string(updated.Status), updated.CurrentStep,
		updated.Attempts, updated.ErrorMessage, updated.CancelledBy, updated.StartedAt,
		updated.CompletedAt, updated.UpdatedAt, updated.Version, string(expected))
	if err != nil {
		logger.Error("error in updating execution", zap.String("executionId", id), zap.Error(err))
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	if tag.RowsAffected() == 0 {
		actual := "unknown"
		if latest, getErr := s.GetExecution(ctx, id); getErr == nil {
			actual = string(latest.Status)
		}
		return nil, api.ConcurrentModificationError{ExecutionId: id, Expected: string(expected), Actual: actual}
	}
	return updated, nil
}

func (s *postgresExecutionStore) AppendLog(ctx context.Context, id string, entry model.LogEntry) (model.LogEntry, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return model.LogEntry{}, api.StorageLayerError{Message: err.Error()}
	}
	defer tx.Rollback(ctx)

	var locked string
	if err := tx.QueryRow(ctx, lockExecutionSQL, id).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.LogEntry{}, api.NotFoundError{ExecutionId: id}
		}
		return model.LogEntry{}, api.StorageLayerError{Message: err.Error()}
	}
	if err := tx.QueryRow(ctx, insertLogSQL, id, entry.Timestamp, string(entry.Level), entry.Message, entry.StepIndex).Scan(&entry.Seq); err != nil {
		logger.Error("error in appending execution log", zap.String("executionId", id), zap.Error(err))
		return model.LogEntry{}, api.StorageLayerError{Message: err.Error()}
	}
	if err := tx.Commit(ctx); err != nil {
		return model.LogEntry{}, api.StorageLayerError{Message: err.Error()}
	}
	return entry, nil
}

func (s *postgresExecutionStore) GetLogs(ctx context.Context, id string) ([]model.LogEntry, error) {
	if _, err := s.GetExecution(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, selectLogsSQL, id)
	if err != nil {
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()

	logs := make([]model.LogEntry, 0)
	for rows.Next() {
		var entry model.LogEntry
		var level string
		if err := rows.Scan(&entry.Seq, &entry.Timestamp, &level, &entry.Message, &entry.StepIndex); err != nil {
			return nil, api.StorageLayerError{Message: err.Error()}
		}
		entry.Level = model.LogLevel(level)
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	return logs, nil
}

func (s *postgresExecutionStore) ListExecutions(ctx context.Context, filter model.ExecutionFilter) (*model.ExecutionPage, error) {
	filter = persistence.NormalizeFilter(filter)
	where, args := buildWhere(filter)

	var total int
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM workflow_executions"+where, args...).Scan(&total); err != nil {
		return nil, api.StorageLayerError{Message: err.Error()}
	}

	query := fmt.Sprintf("SELECT %s FROM workflow_executions%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		executionColumns, where, len(args)+1, len(args)+2)
	rows, err := s.db.Query(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()

	page := &model.ExecutionPage{
		Executions: []*model.Execution{},
		Total:      total,
		Offset:     filter.Offset,
		Limit:      filter.Limit,
	}
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, api.StorageLayerError{Message: err.Error()}
		}
		page.Executions = append(page.Executions, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	return page, nil
}

func buildWhere(filter model.ExecutionFilter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.WorkflowId != "" {
		add("workflow_id = $%d", filter.WorkflowId)
	}
	if filter.SubjectId != "" {
		add("subject_id = $%d", filter.SubjectId)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		add("status = ANY($%d)", statuses)
	}
	if !filter.CreatedBefore.IsZero() {
		add("created_at < $%d", filter.CreatedBefore)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanExecution(row pgx.Row) (*model.Execution, error) {
	var exec model.Execution
	var status string
	var trigger []byte
	err := row.Scan(&exec.Id, &exec.WorkflowId, &exec.SubjectId, &status, &trigger,
		&exec.CurrentStep, &exec.Attempts, &exec.ErrorMessage, &exec.CancelledBy,
		&exec.StartedAt, &exec.CompletedAt, &exec.CreatedAt, &exec.UpdatedAt, &exec.Version)
	if err != nil {
		return nil, err
	}
	exec.Status = model.ExecutionStatus(status)
	exec.TriggerData = trigger
	return &exec, nil
}
