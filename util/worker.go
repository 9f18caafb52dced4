package util

import (
	"sync"

	"github.com/tahanlog/gastoflow/logger"
	"go.uber.org/zap"
)

type Job any

// Worker drains a bounded channel of jobs on a single goroutine.
type Worker struct {
	name    string
	stop    chan struct{}
	wg      *sync.WaitGroup
	handler func(Job) error
	jobChan chan Job
}

func NewWorker(name string, wg *sync.WaitGroup, handler func(Job) error, capacity int) *Worker {
	return &Worker{
		jobChan: make(chan Job, capacity),
		name:    name,
		wg:      wg,
		stop:    make(chan struct{}),
		handler: handler,
	}
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case job := <-w.jobChan:
				err := w.handler(job)
				if err != nil {
					logger.Error("error executing job in worker", zap.String("worker", w.name), zap.Error(err))
				}
			case <-w.stop:
				logger.Info("stopping worker", zap.String("worker", w.name))
				return
			}
		}
	}()
}

func (w *Worker) Sender() chan<- Job {
	return w.jobChan
}

func (w *Worker) Stop() {
	w.stop <- struct{}{}
}
