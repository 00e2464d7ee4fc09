package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	api "github.com/mlodash/autoflow/api/v1"
	"github.com/mlodash/autoflow/metadata"
	"github.com/mlodash/autoflow/model"
)

const upsertWorkflowSQL = `
INSERT INTO workflow_definitions (id, definition, updated_at) VALUES ($1, $2::jsonb, $3)
ON CONFLICT (id) DO UPDATE SET definition = EXCLUDED.definition, updated_at = EXCLUDED.updated_at`

var _ metadata.MetadataStorage = new(postgresMetadataStorage)

type postgresMetadataStorage struct {
	db DB
}

func NewPostgresMetadataStorage(db DB) *postgresMetadataStorage {
	return &postgresMetadataStorage{db: db}
}

func (s *postgresMetadataStorage) SaveWorkflowDefinition(ctx context.Context, wf model.WorkflowDefinition) error {
	data, err := json.Marshal(wf)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, upsertWorkflowSQL, wf.Id, string(data), wf.UpdatedAt); err != nil {
		return api.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *postgresMetadataStorage) GetWorkflowDefinition(ctx context.Context, id string) (*model.WorkflowDefinition, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `SELECT definition FROM workflow_definitions WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, api.UnknownWorkflowError{WorkflowId: id}
		}
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	var wf model.WorkflowDefinition
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

func (s *postgresMetadataStorage) ListWorkflowDefinitions(ctx context.Context) ([]*model.WorkflowDefinition, error) {
	rows, err := s.db.Query(ctx, `SELECT definition FROM workflow_definitions ORDER BY id`)
	if err != nil {
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()
	res := make([]*model.WorkflowDefinition, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, api.StorageLayerError{Message: err.Error()}
		}
		var wf model.WorkflowDefinition
		if err := json.Unmarshal(data, &wf); err != nil {
			return nil, err
		}
		res = append(res, &wf)
	}
	return res, rows.Err()
}
