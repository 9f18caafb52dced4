package redis

import (
	"context"
	"errors"
	"strconv"
	"sync"

	rd "github.com/go-redis/redis/v9"
	"github.com/tahanlog/gastoflow/logger"
	"github.com/tahanlog/gastoflow/persistence"
	"go.uber.org/zap"
)

var _ persistence.Queue = new(redisQueue)

// redisQueue is a list-per-partition queue. Messages are routed to a
// partition by workflow id and popped round-robin across partitions.
type redisQueue struct {
	baseDao
	mu               sync.Mutex
	currentPartition int
}

func NewRedisQueue(conf Config) *redisQueue {
	return &redisQueue{
		baseDao: *newBaseDao(conf),
	}
}

func (rq *redisQueue) Push(ctx context.Context, queueName string, workflowId string, message []byte) error {
	partition := strconv.Itoa(rq.getPartition(workflowId))
	key := rq.getNamespaceKey(queueName, partition)
	err := rq.redisClient.RPush(ctx, key, message).Err()
	if err != nil {
		logger.Error("error while push to redis list", zap.String("queue", key), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rq *redisQueue) Pop(ctx context.Context, queueName string, batchSize int) ([]string, error) {
	result := make([]string, 0)
	for i := 0; i < rq.partitions && len(result) < batchSize; i++ {
		partition := rq.getNextPartition()
		key := rq.getNamespaceKey(queueName, strconv.Itoa(partition))
		items, err := rq.pop(ctx, key, batchSize-len(result))
		if err != nil {
			return nil, err
		}
		result = append(result, items...)
	}
	if len(result) == 0 {
		return nil, persistence.EmptyQueueError{QueueName: queueName}
	}
	return result, nil
}

func (rq *redisQueue) pop(ctx context.Context, key string, batchSize int) ([]string, error) {
	res, err := rq.redisClient.LPopCount(ctx, key, batchSize).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return []string{}, nil
		}
		logger.Error("error while pop from redis list", zap.String("queue", key), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return res, nil
}

func (rq *redisQueue) getNextPartition() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	rq.currentPartition = (rq.currentPartition + 1) % rq.partitions
	return rq.currentPartition
}
