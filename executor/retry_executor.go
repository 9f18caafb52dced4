package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tahanlog/gastoflow/engine"
	"github.com/tahanlog/gastoflow/logger"
	"github.com/tahanlog/gastoflow/model"
	"github.com/tahanlog/gastoflow/persistence"
	"github.com/tahanlog/gastoflow/util"
	"go.uber.org/zap"
)

// RetryExecutor moves due retry messages from the delay queue back
// onto the task queue, preserving the workflow id based partitioning.
type RetryExecutor struct {
	queue      persistence.Queue
	delayQueue persistence.DelayQueue
	taskEncDec util.EncoderDecoder[model.Task]
	tw         *util.TickWorker
	stop       chan struct{}
	wg         *sync.WaitGroup
}

func NewRetryExecutor(queue persistence.Queue, delayQueue persistence.DelayQueue, interval time.Duration, wg *sync.WaitGroup) *RetryExecutor {
	ex := &RetryExecutor{
		queue:      queue,
		delayQueue: delayQueue,
		taskEncDec: util.NewJsonEncoderDecoder[model.Task](),
		stop:       make(chan struct{}),
		wg:         wg,
	}
	ex.tw = util.NewTickWorker("retry-executor", interval, ex.stop, ex.handle, ex.wg)
	return ex
}

func (ex *RetryExecutor) Start() {
	if ex.IsRunning() {
		return
	}
	ex.tw.Start()
}

func (ex *RetryExecutor) IsRunning() bool {
	return ex.tw.IsRunning()
}

func (ex *RetryExecutor) Stop() {
	if !ex.IsRunning() {
		return
	}
	ex.tw.Stop()
}

func (ex *RetryExecutor) handle() {
	ctx := context.Background()
	messages, err := ex.delayQueue.PopDue(ctx, engine.RETRY_QUEUE)
	if err != nil {
		var empty persistence.EmptyQueueError
		if !errors.As(err, &empty) {
			logger.Error("error polling retry queue", zap.Error(err))
		}
		return
	}
	for _, message := range messages {
		task, err := ex.taskEncDec.Decode([]byte(message))
		if err != nil {
			logger.Error("dropping undecodable retry message", zap.Error(err))
			continue
		}
		if err := ex.queue.Push(ctx, engine.TASK_QUEUE, task.WorkflowId, []byte(message)); err != nil {
			logger.Error("error requeueing retry task", zap.String("workflowId", task.WorkflowId), zap.Error(err))
		}
	}
}
