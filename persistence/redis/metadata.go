package redis

import (
	"context"
	"errors"
	"sort"

	rd "github.com/go-redis/redis/v9"
	api "github.com/mlodash/autoflow/api/v1"
	"github.com/mlodash/autoflow/logger"
	"github.com/mlodash/autoflow/metadata"
	"github.com/mlodash/autoflow/model"
	"github.com/mlodash/autoflow/util"
	"go.uber.org/zap"
)

const WORKFLOW_DEF string = "WORKFLOW"

var _ metadata.MetadataStorage = new(redisMetadataStorage)

type redisMetadataStorage struct {
	*baseDao
	workflowEncoderDecoder util.EncoderDecoder[model.WorkflowDefinition]
}

func NewRedisMetadataStorage(redisClient rd.UniversalClient, namespace string) *redisMetadataStorage {
	return &redisMetadataStorage{
		baseDao:                newBaseDao(redisClient, namespace),
		workflowEncoderDecoder: util.NewJsonEncoderDecoder[model.WorkflowDefinition](),
	}
}

func (rms *redisMetadataStorage) SaveWorkflowDefinition(ctx context.Context, wf model.WorkflowDefinition) error {
	data, err := rms.workflowEncoderDecoder.Encode(wf)
	if err != nil {
		return err
	}
	key := rms.getNamespaceKey(WORKFLOW_DEF)
	if err := rms.redisClient.HSet(ctx, key, []string{wf.Id, string(data)}).Err(); err != nil {
		logger.Error("error in saving workflow definition", zap.String("workflowId", wf.Id), zap.Error(err))
		return api.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rms *redisMetadataStorage) GetWorkflowDefinition(ctx context.Context, id string) (*model.WorkflowDefinition, error) {
	key := rms.getNamespaceKey(WORKFLOW_DEF)
	val, err := rms.redisClient.HGet(ctx, key, id).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, api.UnknownWorkflowError{WorkflowId: id}
		}
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	return rms.workflowEncoderDecoder.Decode([]byte(val))
}

func (rms *redisMetadataStorage) ListWorkflowDefinitions(ctx context.Context) ([]*model.WorkflowDefinition, error) {
	key := rms.getNamespaceKey(WORKFLOW_DEF)
	values, err := rms.redisClient.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	res := make([]*model.WorkflowDefinition, 0, len(values))
	for id, val := range values {
		wf, err := rms.workflowEncoderDecoder.Decode([]byte(val))
		if err != nil {
			logger.Error("error in decoding workflow definition", zap.String("workflowId", id), zap.Error(err))
			continue
		}
		res = append(res, wf)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Id < res[j].Id })
	return res, nil
}
