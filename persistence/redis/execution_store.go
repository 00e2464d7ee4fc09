package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	rd "github.com/go-redis/redis/v9"
	api "github.com/mlodash/autoflow/api/v1"
	"github.com/mlodash/autoflow/logger"
	"github.com/mlodash/autoflow/model"
	"github.com/mlodash/autoflow/persistence"
	"github.com/mlodash/autoflow/util"
	"go.uber.org/zap"
)

const EXECUTION_KEY string = "EXECUTION"
const EXECUTION_LOG_KEY string = "EXECUTION_LOG"
const EXECUTION_INDEX_KEY string = "EXECUTIONS"

const mgetBatchSize = 100

var _ persistence.ExecutionStore = new(redisExecutionStore)

// redisExecutionStore keeps each execution as a JSON string, its log as a
// list and creation-ordered id lists (global and per workflow) for listing.
type redisExecutionStore struct {
	*baseDao
	executionEncoderDecoder util.EncoderDecoder[storedExecution]
	logEncoderDecoder       util.EncoderDecoder[model.LogEntry]
}

// storedExecution keeps the trigger payload as raw bytes so it comes back
// exactly as received; json.RawMessage would be compacted on encode.
type storedExecution struct {
	model.Execution
	TriggerData []byte `json:"triggerData"`
}

func NewRedisExecutionStore(redisClient rd.UniversalClient, namespace string) *redisExecutionStore {
	return &redisExecutionStore{
		baseDao:                 newBaseDao(redisClient, namespace),
		executionEncoderDecoder: util.NewJsonEncoderDecoder[storedExecution](),
		logEncoderDecoder:       util.NewJsonEncoderDecoder[model.LogEntry](),
	}
}

func (r *redisExecutionStore) encodeExecution(exec *model.Execution) ([]byte, error) {
	return r.executionEncoderDecoder.Encode(storedExecution{Execution: *exec, TriggerData: exec.TriggerData})
}

func (r *redisExecutionStore) decodeExecution(data []byte) (*model.Execution, error) {
	stored, err := r.executionEncoderDecoder.Decode(data)
	if err != nil {
		return nil, err
	}
	exec := stored.Execution
	exec.TriggerData = stored.TriggerData
	return &exec, nil
}

func (r *redisExecutionStore) CreateExecution(ctx context.Context, exec *model.Execution) error {
	data, err := r.encodeExecution(exec)
	if err != nil {
		return err
	}
	key := r.getNamespaceKey(EXECUTION_KEY, exec.Id)
	created, err := r.redisClient.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		logger.Error("error in saving execution", zap.String("executionId", exec.Id), zap.Error(err))
		return api.StorageLayerError{Message: err.Error()}
	}
	if !created {
		return api.StorageLayerError{Message: fmt.Sprintf("execution %s already exists", exec.Id)}
	}
	_, err = r.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.RPush(ctx, r.getNamespaceKey(EXECUTION_INDEX_KEY), exec.Id)
		pipe.RPush(ctx, r.getNamespaceKey(EXECUTION_INDEX_KEY, exec.WorkflowId), exec.Id)
		return nil
	})
	if err != nil {
		logger.Error("error in indexing execution", zap.String("executionId", exec.Id), zap.Error(err))
		return api.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *redisExecutionStore) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	val, err := r.redisClient.Get(ctx, r.getNamespaceKey(EXECUTION_KEY, id)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, api.NotFoundError{ExecutionId: id}
		}
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	return r.decodeExecution([]byte(val))
}

func (r *redisExecutionStore) UpdateExecution(ctx context.Context, id string, expected model.ExecutionStatus, mutate persistence.Mutation) (*model.Execution, error) {
	key := r.getNamespaceKey(EXECUTION_KEY, id)
	var updated *model.Execution
	err := r.redisClient.Watch(ctx, func(tx *rd.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		if err != nil {
			if errors.Is(err, rd.Nil) {
				return api.NotFoundError{ExecutionId: id}
			}
			return api.StorageLayerError{Message: err.Error()}
		}
		current, err := r.decodeExecution([]byte(val))
		if err != nil {
			return err
		}
		updated, err = persistence.ApplyMutation(current, expected, mutate)
		if err != nil {
			return err
		}
		data, err := r.encodeExecution(updated)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)

	if err != nil {
		if errors.Is(err, rd.TxFailedErr) {
			actual := "unknown"
			if latest, getErr := r.GetExecution(ctx, id); getErr == nil {
				actual = string(latest.Status)
			}
			return nil, api.ConcurrentModificationError{ExecutionId: id, Expected: string(expected), Actual: actual}
		}
		return nil, err
	}
	return updated, nil
}

func (r *redisExecutionStore) AppendLog(ctx context.Context, id string, entry model.LogEntry) (model.LogEntry, error) {
	if err := r.exists(ctx, id); err != nil {
		return model.LogEntry{}, err
	}
	entry.Seq = 0
	data, err := r.logEncoderDecoder.Encode(entry)
	if err != nil {
		return model.LogEntry{}, err
	}
	length, err := r.redisClient.RPush(ctx, r.getNamespaceKey(EXECUTION_LOG_KEY, id), data).Result()
	if err != nil {
		logger.Error("error in appending execution log", zap.String("executionId", id), zap.Error(err))
		return model.LogEntry{}, api.StorageLayerError{Message: err.Error()}
	}
	entry.Seq = length
	return entry, nil
}

func (r *redisExecutionStore) GetLogs(ctx context.Context, id string) ([]model.LogEntry, error) {
	if err := r.exists(ctx, id); err != nil {
		return nil, err
	}
	values, err := r.redisClient.LRange(ctx, r.getNamespaceKey(EXECUTION_LOG_KEY, id), 0, -1).Result()
	if err != nil {
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	logs, err := util.DecodeAll(r.logEncoderDecoder, values)
	if err != nil {
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	for i := range logs {
		logs[i].Seq = int64(i + 1)
	}
	return logs, nil
}

func (r *redisExecutionStore) ListExecutions(ctx context.Context, filter model.ExecutionFilter) (*model.ExecutionPage, error) {
	filter = persistence.NormalizeFilter(filter)
	indexKey := r.getNamespaceKey(EXECUTION_INDEX_KEY)
	if filter.WorkflowId != "" {
		indexKey = r.getNamespaceKey(EXECUTION_INDEX_KEY, filter.WorkflowId)
	}
	ids, err := r.redisClient.LRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, api.StorageLayerError{Message: err.Error()}
	}

	matched := make([]*model.Execution, 0)
	for start := 0; start < len(ids); start += mgetBatchSize {
		end := start + mgetBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, r.getNamespaceKey(EXECUTION_KEY, id))
		}
		values, err := r.redisClient.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, api.StorageLayerError{Message: err.Error()}
		}
		for _, v := range values {
			s, ok := v.(string)
			if !ok {
				continue
			}
			exec, err := r.decodeExecution([]byte(s))
			if err != nil {
				return nil, err
			}
			if filter.Matches(exec) {
				matched = append(matched, exec)
			}
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].Id > matched[j].Id
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	page := &model.ExecutionPage{
		Executions: []*model.Execution{},
		Total:      len(matched),
		Offset:     filter.Offset,
		Limit:      filter.Limit,
	}
	if filter.Offset < len(matched) {
		end := filter.Offset + filter.Limit
		if end > len(matched) {
			end = len(matched)
		}
		page.Executions = matched[filter.Offset:end]
	}
	return page, nil
}

func (r *redisExecutionStore) exists(ctx context.Context, id string) error {
	n, err := r.redisClient.Exists(ctx, r.getNamespaceKey(EXECUTION_KEY, id)).Result()
	if err != nil {
		return api.StorageLayerError{Message: err.Error()}
	}
	if n == 0 {
		return api.NotFoundError{ExecutionId: id}
	}
	return nil
}
