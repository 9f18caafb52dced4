package executor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tahanlog/gastoflow/engine"
	"github.com/tahanlog/gastoflow/model"
	"github.com/tahanlog/gastoflow/persistence/memory"
	"github.com/tahanlog/gastoflow/util"
)

func TestRetryExecutorHandle(t *testing.T) {
	ctx := context.Background()
	queue := memory.NewInMemQueue()
	delayQueue := memory.NewInMemDelayQueue()
	ex := NewRetryExecutor(queue, delayQueue, time.Second, &sync.WaitGroup{})

	// an empty delay queue is a normal tick, not an error
	ex.handle()
	_, err := queue.Pop(ctx, engine.TASK_QUEUE, 10)
	require.Error(t, err)

	encDec := util.NewJsonEncoderDecoder[model.Task]()
	data, err := encDec.Encode(model.Task{
		WorkflowId: "wf-1",
		RunId:      "run-1",
		Activity:   "resolve-trip",
		Attempt:    2,
		Input:      json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	require.NoError(t, delayQueue.PushWithDelay(ctx, engine.RETRY_QUEUE, 0, data))

	ex.handle()
	messages, err := queue.Pop(ctx, engine.TASK_QUEUE, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	task, err := encDec.Decode([]byte(messages[0]))
	require.NoError(t, err)
	require.Equal(t, "wf-1", task.WorkflowId)
	require.Equal(t, 2, task.Attempt)

	// undecodable messages are dropped, decodable ones still move
	require.NoError(t, delayQueue.PushWithDelay(ctx, engine.RETRY_QUEUE, 0, []byte("not json")))
	require.NoError(t, delayQueue.PushWithDelay(ctx, engine.RETRY_QUEUE, 0, data))
	ex.handle()
	messages, err = queue.Pop(ctx, engine.TASK_QUEUE, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
}
