package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/tahanlog/gastoflow/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

type EmptyQueueError struct {
	QueueName string
}

func (e EmptyQueueError) Error() string {
	return fmt.Sprintf("queue %s is empty", e.QueueName)
}

// DuplicateExecutionError enforces the idempotent start guard: a
// workflow id with a non-terminal execution can not be started again.
type DuplicateExecutionError struct {
	WorkflowId string
}

func (e DuplicateExecutionError) Error() string {
	return fmt.Sprintf("workflow %s already has a running execution", e.WorkflowId)
}

// ExecutionDao persists workflow executions and their append-only
// history. Create must atomically reject a workflow id that still has
// a non-terminal execution.
type ExecutionDao interface {
	Create(ctx context.Context, execution *model.WorkflowExecution) error
	Get(ctx context.Context, workflowId string) (*model.WorkflowExecution, error)
	AppendEvent(ctx context.Context, workflowId string, event model.HistoryEvent) error
	Close(ctx context.Context, workflowId string, status model.WorkflowStatus, result []byte, failure *model.ActivityError, closeTime time.Time) error
	RunningIds(ctx context.Context) ([]string, error)
}

// Queue is the durable ordered channel between the engine and the
// worker pool. Messages for one workflow id stay on one partition so
// their relative order is preserved.
type Queue interface {
	Push(ctx context.Context, queueName string, workflowId string, message []byte) error
	Pop(ctx context.Context, queueName string, batchSize int) ([]string, error)
}

// DelayQueue holds retry messages until their backoff delay elapses.
type DelayQueue interface {
	PushWithDelay(ctx context.Context, queueName string, delay time.Duration, message []byte) error
	PopDue(ctx context.Context, queueName string) ([]string, error)
}

// BoletaStore is the transactional collaborator owning trips, drivers
// and boletas. State transitions are conditional: they fail with
// BusinessStateError when the current state is not the expected one.
type BoletaStore interface {
	GetTrip(ctx context.Context, tripId string) (*model.Trip, error)
	GetDriver(ctx context.Context, userId string) (*model.DriverInfo, error)

	InsertBoleta(ctx context.Context, boleta *model.Boleta) (int64, error)
	GetBoleta(ctx context.Context, boletaId int64) (*model.Boleta, error)
	UpdateMetadata(ctx context.Context, boletaId int64, metadata model.BoletaMetadata) error
	TransitionState(ctx context.Context, boletaId int64, from model.BoletaState, to model.BoletaState) error
	SaveExtraction(ctx context.Context, boletaId int64, fields model.ExtractedFields, metadata model.BoletaMetadata) error
	MarkForReview(ctx context.Context, boletaId int64, metadata model.BoletaMetadata) error
	ConfirmBoleta(ctx context.Context, boletaId int64, odooExpenseId int64) error
}
