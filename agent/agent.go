package agent

import (
	"context"
	"sync"

	"github.com/tahanlog/gastoflow/activity"
	"github.com/tahanlog/gastoflow/config"
	"github.com/tahanlog/gastoflow/engine"
	"github.com/tahanlog/gastoflow/executor"
	"github.com/tahanlog/gastoflow/external/ai"
	"github.com/tahanlog/gastoflow/external/odoo"
	"github.com/tahanlog/gastoflow/external/transcribe"
	"github.com/tahanlog/gastoflow/logger"
	"github.com/tahanlog/gastoflow/persistence"
	"github.com/tahanlog/gastoflow/persistence/memory"
	"github.com/tahanlog/gastoflow/persistence/postgres"
	"github.com/tahanlog/gastoflow/persistence/redis"
	"github.com/tahanlog/gastoflow/rest"
	"github.com/tahanlog/gastoflow/worker"
	"github.com/tahanlog/gastoflow/workflow"
)

// Agent wires the storage layer, activity handlers, engine, worker
// pool, retry executor and http gateway into one process.
type Agent struct {
	Config config.Config

	executionDao  persistence.ExecutionDao
	queue         persistence.Queue
	delayQueue    persistence.DelayQueue
	boletaStore   persistence.BoletaStore
	registry      *activity.Registry
	engine        *engine.WorkflowEngine
	workerPool    *worker.TaskWorkerPool
	retryExecutor *executor.RetryExecutor
	httpServer    *rest.Server

	shutdown     bool
	shutdownLock sync.Mutex
	wg           sync.WaitGroup
}

func New(conf config.Config) (*Agent, error) {
	a := &Agent{
		Config: conf,
	}
	setup := []func() error{
		a.setupStorage,
		a.setupActivities,
		a.setupEngine,
		a.setupWorkerPool,
		a.setupRetryExecutor,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupStorage() error {
	switch a.Config.StorageType {
	case config.STORAGE_TYPE_INMEM:
		a.executionDao = memory.NewInMemExecutionDao()
		a.queue = memory.NewInMemQueue()
		a.delayQueue = memory.NewInMemDelayQueue()
		a.boletaStore = memory.NewInMemBoletaStore()
	default:
		a.executionDao = redis.NewRedisExecutionDao(a.Config.RedisConfig)
		a.queue = redis.NewRedisQueue(a.Config.RedisConfig)
		a.delayQueue = redis.NewRedisDelayQueue(a.Config.RedisConfig)
		store, err := postgres.NewBoletaStore(context.Background(), a.Config.PostgresConfig)
		if err != nil {
			return err
		}
		a.boletaStore = store
	}
	return nil
}

func (a *Agent) setupActivities() error {
	matcher, err := odoo.NewCategoryMatcher()
	if err != nil {
		return err
	}
	a.registry = activity.NewRegistry()
	receiptActivities := activity.NewReceiptActivities(a.boletaStore,
		ai.NewClient(a.Config.AiConfig), transcribe.NewClient(a.Config.TranscribeConfig))
	receiptActivities.Register(a.registry)
	expenseActivities := activity.NewExpenseActivities(a.boletaStore,
		odoo.NewClient(a.Config.OdooConfig), matcher)
	expenseActivities.Register(a.registry)
	return nil
}

func (a *Agent) setupEngine() error {
	a.engine = engine.NewWorkflowEngine(workflow.Definitions(), a.executionDao, a.queue, a.delayQueue)
	return nil
}

func (a *Agent) setupWorkerPool() error {
	a.workerPool = worker.NewTaskWorkerPool(worker.Config{
		PollInterval: a.Config.PollInterval,
		BatchSize:    a.Config.BatchSize,
		Concurrency:  a.Config.WorkerCount,
	}, a.registry, a.engine, a.queue, &a.wg)
	return nil
}

func (a *Agent) setupRetryExecutor() error {
	a.retryExecutor = executor.NewRetryExecutor(a.queue, a.delayQueue, a.Config.RetryInterval, &a.wg)
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.engine)
	if err != nil {
		return err
	}
	return nil
}

func (a *Agent) Start() error {
	if err := a.engine.Recover(context.Background()); err != nil {
		return err
	}
	a.workerPool.Start()
	a.retryExecutor.Start()
	go func() {
		err := a.httpServer.Start()
		if err != nil {
			logger.Error("http server stopped")
			_ = a.Shutdown()
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	logger.Info("shutting down server")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true

	shutdown := []func() error{
		a.httpServer.Stop,
		func() error {
			a.retryExecutor.Stop()
			return nil
		},
		func() error {
			a.workerPool.Stop()
			return nil
		},
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	logger.Info("waiting for all services to shutdown...")
	a.wg.Wait()
	return nil
}
