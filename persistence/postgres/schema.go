package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is satisfied by *pgxpool.Pool and *pgx.Conn.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS workflow_definitions (
	id TEXT PRIMARY KEY,
	definition JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_executions (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	subject_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	trigger_data BYTEA NOT NULL,
	current_step INT NOT NULL,
	attempts INT NOT NULL,
	error_message TEXT,
	cancelled_by TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	version BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS workflow_executions_workflow_idx ON workflow_executions (workflow_id, created_at DESC);
CREATE INDEX IF NOT EXISTS workflow_executions_status_idx ON workflow_executions (status, created_at DESC);

CREATE TABLE IF NOT EXISTS workflow_execution_logs (
	execution_id TEXT NOT NULL REFERENCES workflow_executions (id),
	seq BIGINT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	level TEXT NOT NULL,
	message TEXT NOT NULL,
	step_index INT NOT NULL,
	PRIMARY KEY (execution_id, seq)
);
`

// Migrate creates the tables used by the postgres stores when missing.
func Migrate(ctx context.Context, db DB) error {
	_, err := db.Exec(ctx, schemaSQL)
	return err
}
