package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/spaolacci/murmur3"
	"github.com/tahanlog/gastoflow/activity"
	"github.com/tahanlog/gastoflow/engine"
	"github.com/tahanlog/gastoflow/logger"
	"github.com/tahanlog/gastoflow/model"
	"github.com/tahanlog/gastoflow/persistence"
	"github.com/tahanlog/gastoflow/util"
	"go.uber.org/zap"
)

type Config struct {
	PollInterval             time.Duration
	BatchSize                int
	Concurrency              int
	MaxRetryBeforeResultPush int
	RetryIntervalSecond      int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.MaxRetryBeforeResultPush <= 0 {
		c.MaxRetryBeforeResultPush = 3
	}
	if c.RetryIntervalSecond <= 0 {
		c.RetryIntervalSecond = 1
	}
	return c
}

// TaskWorkerPool polls the task queue and runs activity handlers on a
// fixed pool. Tasks for the same workflow id always land on the same
// worker so their relative order is preserved.
type TaskWorkerPool struct {
	config     Config
	registry   *activity.Registry
	engine     *engine.WorkflowEngine
	queue      persistence.Queue
	taskEncDec util.EncoderDecoder[model.Task]
	workers    []*util.Worker
	poller     *util.TickWorker
	stop       chan struct{}
	wg         *sync.WaitGroup
}

func NewTaskWorkerPool(config Config, registry *activity.Registry, eng *engine.WorkflowEngine, queue persistence.Queue, wg *sync.WaitGroup) *TaskWorkerPool {
	config = config.withDefaults()
	pool := &TaskWorkerPool{
		config:     config,
		registry:   registry,
		engine:     eng,
		queue:      queue,
		taskEncDec: util.NewJsonEncoderDecoder[model.Task](),
		stop:       make(chan struct{}),
		wg:         wg,
	}
	for i := 0; i < config.Concurrency; i++ {
		name := fmt.Sprintf("task-worker-%d", i)
		pool.workers = append(pool.workers, util.NewWorker(name, wg, pool.handle, config.BatchSize))
	}
	pool.poller = util.NewTickWorker("task-poller", config.PollInterval, pool.stop, pool.poll, wg)
	return pool
}

func (p *TaskWorkerPool) Start() {
	for _, w := range p.workers {
		w.Start()
	}
	p.poller.Start()
}

func (p *TaskWorkerPool) Stop() {
	p.poller.Stop()
	for _, w := range p.workers {
		w.Stop()
	}
}

func (p *TaskWorkerPool) poll() {
	ctx := context.Background()
	messages, err := p.queue.Pop(ctx, engine.TASK_QUEUE, p.config.BatchSize)
	if err != nil {
		var empty persistence.EmptyQueueError
		if !errors.As(err, &empty) {
			logger.Error("error polling task queue", zap.Error(err))
		}
		return
	}
	for _, message := range messages {
		task, err := p.taskEncDec.Decode([]byte(message))
		if err != nil {
			logger.Error("dropping undecodable task", zap.Error(err))
			continue
		}
		slot := murmur3.Sum32([]byte(task.WorkflowId)) % uint32(len(p.workers))
		p.workers[slot].Sender() <- *task
	}
}

func (p *TaskWorkerPool) handle(job util.Job) error {
	task, ok := job.(model.Task)
	if !ok {
		return fmt.Errorf("unexpected job type %T", job)
	}
	result := p.execute(context.Background(), task)
	return p.pushResult(context.Background(), result)
}

func (p *TaskWorkerPool) execute(ctx context.Context, task model.Task) model.TaskResult {
	result := model.TaskResult{
		WorkflowId: task.WorkflowId,
		RunId:      task.RunId,
		Activity:   task.Activity,
		Attempt:    task.Attempt,
	}
	handler, err := p.registry.Get(task.Activity)
	if err != nil {
		result.Error = model.NewActivityError(err)
		return result
	}
	output, err := handler(ctx, task.Input)
	if err != nil {
		logger.Warn("activity failed", zap.String("workflowId", task.WorkflowId), zap.String("activity", task.Activity), zap.Int("attempt", task.Attempt), zap.Error(err))
		result.Error = model.NewActivityError(err)
		return result
	}
	result.Output = output
	return result
}

// pushResult reports the outcome to the engine, retrying so that a
// transient storage hiccup does not lose a finished activity.
func (p *TaskWorkerPool) pushResult(ctx context.Context, result model.TaskResult) error {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Duration(p.config.RetryIntervalSecond)*time.Second), uint64(p.config.MaxRetryBeforeResultPush))
	err := backoff.Retry(func() error {
		return p.engine.HandleTaskResult(ctx, result)
	}, backoff.WithContext(b, ctx))
	if err != nil {
		logger.Error("error pushing task result", zap.String("workflowId", result.WorkflowId), zap.String("activity", result.Activity), zap.Error(err))
		return err
	}
	return nil
}
