package redis

import (
	"context"
	"errors"
	"time"

	rd "github.com/go-redis/redis/v9"
	"github.com/tahanlog/gastoflow/logger"
	"github.com/tahanlog/gastoflow/model"
	"github.com/tahanlog/gastoflow/persistence"
	"github.com/tahanlog/gastoflow/util"
	"go.uber.org/zap"
)

const EXECUTION_KEY string = "EXECUTION"
const HISTORY_KEY string = "HISTORY"

var _ persistence.ExecutionDao = new(redisExecutionDao)

// redisExecutionDao keeps the execution header in a hash and the
// history in a per-execution list, so appends never rewrite the log.
type redisExecutionDao struct {
	baseDao
	headerEncDec util.EncoderDecoder[model.WorkflowExecution]
	eventEncDec  util.EncoderDecoder[model.HistoryEvent]
}

func NewRedisExecutionDao(conf Config) *redisExecutionDao {
	return &redisExecutionDao{
		baseDao:      *newBaseDao(conf),
		headerEncDec: util.NewJsonEncoderDecoder[model.WorkflowExecution](),
		eventEncDec:  util.NewJsonEncoderDecoder[model.HistoryEvent](),
	}
}

func (d *redisExecutionDao) Create(ctx context.Context, execution *model.WorkflowExecution) error {
	key := d.getNamespaceKey(EXECUTION_KEY)
	header := *execution
	header.History = nil
	data, err := d.headerEncDec.Encode(header)
	if err != nil {
		return err
	}
	created, err := d.redisClient.HSetNX(ctx, key, execution.WorkflowId, string(data)).Result()
	if err != nil {
		logger.Error("error creating execution", zap.String("workflowId", execution.WorkflowId), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if !created {
		existing, err := d.get(ctx, execution.WorkflowId)
		if err != nil {
			return err
		}
		if !existing.Status.Terminal() {
			return persistence.DuplicateExecutionError{WorkflowId: execution.WorkflowId}
		}
		// terminal execution under the same id, start a fresh run
		if err := d.redisClient.Del(ctx, d.historyKey(execution.WorkflowId)).Err(); err != nil {
			return persistence.StorageLayerError{Message: err.Error()}
		}
		if err := d.redisClient.HSet(ctx, key, execution.WorkflowId, string(data)).Err(); err != nil {
			return persistence.StorageLayerError{Message: err.Error()}
		}
	}
	return nil
}

func (d *redisExecutionDao) Get(ctx context.Context, workflowId string) (*model.WorkflowExecution, error) {
	execution, err := d.get(ctx, workflowId)
	if err != nil {
		return nil, err
	}
	items, err := d.redisClient.LRange(ctx, d.historyKey(workflowId), 0, -1).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	for _, item := range items {
		event, err := d.eventEncDec.Decode([]byte(item))
		if err != nil {
			return nil, err
		}
		execution.History = append(execution.History, *event)
	}
	return execution, nil
}

func (d *redisExecutionDao) AppendEvent(ctx context.Context, workflowId string, event model.HistoryEvent) error {
	data, err := d.eventEncDec.Encode(event)
	if err != nil {
		return err
	}
	if err := d.redisClient.RPush(ctx, d.historyKey(workflowId), string(data)).Err(); err != nil {
		logger.Error("error appending history event", zap.String("workflowId", workflowId), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (d *redisExecutionDao) Close(ctx context.Context, workflowId string, status model.WorkflowStatus, result []byte, failure *model.ActivityError, closeTime time.Time) error {
	execution, err := d.get(ctx, workflowId)
	if err != nil {
		return err
	}
	execution.Status = status
	execution.Result = result
	execution.Failure = failure
	execution.CloseTime = &closeTime
	data, err := d.headerEncDec.Encode(*execution)
	if err != nil {
		return err
	}
	if err := d.redisClient.HSet(ctx, d.getNamespaceKey(EXECUTION_KEY), workflowId, string(data)).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (d *redisExecutionDao) RunningIds(ctx context.Context) ([]string, error) {
	all, err := d.redisClient.HGetAll(ctx, d.getNamespaceKey(EXECUTION_KEY)).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	ids := make([]string, 0)
	for id, data := range all {
		execution, err := d.headerEncDec.Decode([]byte(data))
		if err != nil {
			continue
		}
		if execution.Status == model.WORKFLOW_STATUS_RUNNING {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (d *redisExecutionDao) get(ctx context.Context, workflowId string) (*model.WorkflowExecution, error) {
	data, err := d.redisClient.HGet(ctx, d.getNamespaceKey(EXECUTION_KEY), workflowId).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, model.NotFoundError{Entity: "workflow", Id: workflowId}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return d.headerEncDec.Decode([]byte(data))
}

func (d *redisExecutionDao) historyKey(workflowId string) string {
	return d.getNamespaceKey(HISTORY_KEY, workflowId)
}
