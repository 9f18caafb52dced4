package engine

import (
	"context"
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/tahanlog/gastoflow/model"
)

type WorkflowStatus struct {
	WorkflowId      string               `json:"workflow_id"`
	RunId           string               `json:"run_id"`
	Type            model.WorkflowType   `json:"workflow_type"`
	Status          model.WorkflowStatus `json:"status"`
	StartTime       time.Time            `json:"start_time"`
	CloseTime       *time.Time           `json:"close_time,omitempty"`
	ExecutionTimeMs *int64               `json:"execution_time_ms,omitempty"`
	Result          json.RawMessage      `json:"result,omitempty"`
	Error           *model.ActivityError `json:"error,omitempty"`
}

// GetStatus reads the execution header. Closed executions are
// immutable, so they are served from a short lived cache.
func (e *WorkflowEngine) GetStatus(ctx context.Context, workflowId string) (*WorkflowStatus, error) {
	if cached, found := e.statusCache.Get(workflowId); found {
		return cached.(*WorkflowStatus), nil
	}
	execution, err := e.executions.Get(ctx, workflowId)
	if err != nil {
		return nil, err
	}
	status := &WorkflowStatus{
		WorkflowId: execution.WorkflowId,
		RunId:      execution.RunId,
		Type:       execution.Type,
		Status:     execution.Status,
		StartTime:  execution.StartTime,
		CloseTime:  execution.CloseTime,
		Result:     execution.Result,
		Error:      execution.Failure,
	}
	if execution.CloseTime != nil {
		elapsed := execution.CloseTime.Sub(execution.StartTime).Milliseconds()
		status.ExecutionTimeMs = &elapsed
	}
	if execution.Status.Terminal() {
		e.statusCache.Set(workflowId, status, gocache.DefaultExpiration)
	}
	return status, nil
}
