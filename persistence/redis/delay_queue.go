package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	rd "github.com/go-redis/redis/v9"
	"github.com/tahanlog/gastoflow/logger"
	"github.com/tahanlog/gastoflow/persistence"
	"go.uber.org/zap"
)

var _ persistence.DelayQueue = new(redisDelayQueue)

// redisDelayQueue is a ZSET scored by due time in millis.
type redisDelayQueue struct {
	baseDao
}

func NewRedisDelayQueue(conf Config) *redisDelayQueue {
	return &redisDelayQueue{
		baseDao: *newBaseDao(conf),
	}
}

func (rq *redisDelayQueue) PushWithDelay(ctx context.Context, queueName string, delay time.Duration, message []byte) error {
	key := rq.getNamespaceKey(queueName)
	dueTime := time.Now().Add(delay).UnixMilli()
	member := rd.Z{
		Score:  float64(dueTime),
		Member: message,
	}
	err := rq.redisClient.ZAdd(ctx, key, member).Err()
	if err != nil {
		logger.Error("error while push to redis zset", zap.String("queue", key), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rq *redisDelayQueue) PopDue(ctx context.Context, queueName string) ([]string, error) {
	key := rq.getNamespaceKey(queueName)
	currentTime := time.Now().UnixMilli()
	pipe := rq.redisClient.Pipeline()

	opt := &rd.ZRangeBy{
		Min: strconv.Itoa(0),
		Max: strconv.FormatInt(currentTime, 10),
	}
	zr := pipe.ZRangeByScore(ctx, key, opt)
	pipe.ZRemRangeByScore(ctx, key, strconv.Itoa(0), strconv.FormatInt(currentTime, 10))

	_, err := pipe.Exec(ctx)
	if err != nil {
		logger.Error("error while pop from redis zset", zap.String("queue", key), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}

	res, err := zr.Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return []string{}, nil
		}
		logger.Error("error while pop from redis zset", zap.String("queue", key), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	if len(res) == 0 {
		return nil, persistence.EmptyQueueError{QueueName: queueName}
	}
	return res, nil
}
