package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tahanlog/gastoflow/model"
	"github.com/tahanlog/gastoflow/persistence"
)

func runningExecution(workflowId string) *model.WorkflowExecution {
	return &model.WorkflowExecution{
		WorkflowId: workflowId,
		RunId:      "run-1",
		Type:       model.WORKFLOW_TYPE_RECEIPT_INGESTION,
		Status:     model.WORKFLOW_STATUS_RUNNING,
		StartTime:  time.Now(),
	}
}

func TestExecutionDao(t *testing.T) {
	ctx := context.Background()

	t.Run("create rejects a running duplicate", func(t *testing.T) {
		dao := NewInMemExecutionDao()
		require.NoError(t, dao.Create(ctx, runningExecution("wf-1")))
		err := dao.Create(ctx, runningExecution("wf-1"))
		require.Error(t, err)
		require.IsType(t, persistence.DuplicateExecutionError{}, err)
	})

	t.Run("create overwrites a terminal execution", func(t *testing.T) {
		dao := NewInMemExecutionDao()
		require.NoError(t, dao.Create(ctx, runningExecution("wf-1")))
		require.NoError(t, dao.Close(ctx, "wf-1", model.WORKFLOW_STATUS_COMPLETED, nil, nil, time.Now()))
		require.NoError(t, dao.Create(ctx, runningExecution("wf-1")))

		execution, err := dao.Get(ctx, "wf-1")
		require.NoError(t, err)
		require.Equal(t, model.WORKFLOW_STATUS_RUNNING, execution.Status)
	})

	t.Run("history is append only and ordered", func(t *testing.T) {
		dao := NewInMemExecutionDao()
		require.NoError(t, dao.Create(ctx, runningExecution("wf-1")))
		for seq := 1; seq <= 3; seq++ {
			require.NoError(t, dao.AppendEvent(ctx, "wf-1", model.HistoryEvent{
				Seq: seq, Type: model.EVENT_ACTIVITY_SCHEDULED, Step: "resolve-trip", Attempt: seq,
			}))
		}
		execution, err := dao.Get(ctx, "wf-1")
		require.NoError(t, err)
		require.Len(t, execution.History, 3)
		for i, event := range execution.History {
			require.Equal(t, i+1, event.Seq)
		}
	})

	t.Run("get returns not found for unknown id", func(t *testing.T) {
		dao := NewInMemExecutionDao()
		_, err := dao.Get(ctx, "nope")
		require.Error(t, err)
		require.IsType(t, model.NotFoundError{}, err)
	})

	t.Run("running ids exclude closed executions", func(t *testing.T) {
		dao := NewInMemExecutionDao()
		require.NoError(t, dao.Create(ctx, runningExecution("wf-1")))
		require.NoError(t, dao.Create(ctx, runningExecution("wf-2")))
		require.NoError(t, dao.Close(ctx, "wf-2", model.WORKFLOW_STATUS_FAILED, nil, &model.ActivityError{
			Kind: model.ERROR_KIND_NOT_FOUND, Message: "trip missing",
		}, time.Now()))

		ids, err := dao.RunningIds(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"wf-1"}, ids)
	})
}

func TestDelayQueue(t *testing.T) {
	ctx := context.Background()
	queue := NewInMemDelayQueue()

	require.NoError(t, queue.PushWithDelay(ctx, "retries", 0, []byte("due-now")))
	require.NoError(t, queue.PushWithDelay(ctx, "retries", 1*time.Hour, []byte("due-later")))

	due, err := queue.PopDue(ctx, "retries")
	require.NoError(t, err)
	require.Equal(t, []string{"due-now"}, due)

	_, err = queue.PopDue(ctx, "retries")
	require.Error(t, err)
	require.IsType(t, persistence.EmptyQueueError{}, err)

	entries := queue.Drain("retries")
	require.Len(t, entries, 1)
	require.Equal(t, "due-later", entries[0].Message)
	require.Equal(t, 1*time.Hour, entries[0].Delay)
}
