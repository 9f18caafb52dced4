package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tahanlog/gastoflow/model"
	"github.com/tahanlog/gastoflow/persistence"
)

var _ persistence.ExecutionDao = new(InMemExecutionDao)

// InMemExecutionDao keeps executions in process memory. Used for the
// memory storage mode and for hermetic engine tests.
type InMemExecutionDao struct {
	mu         sync.Mutex
	executions map[string]*model.WorkflowExecution
}

func NewInMemExecutionDao() *InMemExecutionDao {
	return &InMemExecutionDao{
		executions: make(map[string]*model.WorkflowExecution),
	}
}

func (d *InMemExecutionDao) Create(ctx context.Context, execution *model.WorkflowExecution) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.executions[execution.WorkflowId]; ok && !existing.Status.Terminal() {
		return persistence.DuplicateExecutionError{WorkflowId: execution.WorkflowId}
	}
	stored := *execution
	stored.History = append([]model.HistoryEvent(nil), execution.History...)
	d.executions[execution.WorkflowId] = &stored
	return nil
}

func (d *InMemExecutionDao) Get(ctx context.Context, workflowId string) (*model.WorkflowExecution, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	existing, ok := d.executions[workflowId]
	if !ok {
		return nil, model.NotFoundError{Entity: "workflow", Id: workflowId}
	}
	copied := *existing
	copied.History = append([]model.HistoryEvent(nil), existing.History...)
	return &copied, nil
}

func (d *InMemExecutionDao) AppendEvent(ctx context.Context, workflowId string, event model.HistoryEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	existing, ok := d.executions[workflowId]
	if !ok {
		return model.NotFoundError{Entity: "workflow", Id: workflowId}
	}
	existing.History = append(existing.History, event)
	return nil
}

func (d *InMemExecutionDao) Close(ctx context.Context, workflowId string, status model.WorkflowStatus, result []byte, failure *model.ActivityError, closeTime time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	existing, ok := d.executions[workflowId]
	if !ok {
		return model.NotFoundError{Entity: "workflow", Id: workflowId}
	}
	existing.Status = status
	existing.Result = result
	existing.Failure = failure
	existing.CloseTime = &closeTime
	return nil
}

func (d *InMemExecutionDao) RunningIds(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0)
	for id, execution := range d.executions {
		if execution.Status == model.WORKFLOW_STATUS_RUNNING {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
