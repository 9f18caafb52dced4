package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tahanlog/gastoflow/activity"
	"github.com/tahanlog/gastoflow/model"
	"github.com/tahanlog/gastoflow/persistence"
	"github.com/tahanlog/gastoflow/persistence/memory"
	"github.com/tahanlog/gastoflow/util"
	"github.com/tahanlog/gastoflow/workflow"
)

// harness drives the engine synchronously: it pops dispatched tasks
// from the in-memory queues and reports results produced by
// test-controlled handlers, standing in for the worker pool.
type harness struct {
	t          *testing.T
	engine     *WorkflowEngine
	executions *memory.InMemExecutionDao
	queue      *memory.InMemQueue
	delayQueue *memory.InMemDelayQueue
	handlers   map[string]func(task model.Task) (json.RawMessage, error)
	delays     []time.Duration
}

func newHarness(t *testing.T) *harness {
	executions := memory.NewInMemExecutionDao()
	queue := memory.NewInMemQueue()
	delayQueue := memory.NewInMemDelayQueue()
	return &harness{
		t:          t,
		engine:     NewWorkflowEngine(workflow.Definitions(), executions, queue, delayQueue),
		executions: executions,
		queue:      queue,
		delayQueue: delayQueue,
		handlers:   make(map[string]func(task model.Task) (json.RawMessage, error)),
	}
}

func (h *harness) handle(activityName string, fn func(task model.Task) (json.RawMessage, error)) {
	h.handlers[activityName] = fn
}

func (h *harness) succeed(activityName string, output any) {
	h.handle(activityName, func(task model.Task) (json.RawMessage, error) {
		raw, err := json.Marshal(output)
		require.NoError(h.t, err)
		return raw, nil
	})
}

func (h *harness) fail(activityName string, err error) {
	h.handle(activityName, func(task model.Task) (json.RawMessage, error) {
		return nil, err
	})
}

// pump executes dispatched tasks until both queues drain. Delayed
// retries are released immediately; the requested delay is recorded
// for assertions.
func (h *harness) pump() {
	ctx := context.Background()
	encDec := util.NewJsonEncoderDecoder[model.Task]()
	for i := 0; i < 100; i++ {
		messages, err := h.queue.Pop(ctx, TASK_QUEUE, 10)
		if err != nil {
			if _, ok := err.(persistence.EmptyQueueError); !ok {
				require.NoError(h.t, err)
			}
			messages = nil
		}
		if len(messages) == 0 {
			delayed := h.delayQueue.Drain(RETRY_QUEUE)
			if len(delayed) == 0 {
				return
			}
			for _, entry := range delayed {
				h.delays = append(h.delays, entry.Delay)
				require.NoError(h.t, h.queue.Push(ctx, TASK_QUEUE, "", []byte(entry.Message)))
			}
			continue
		}
		for _, message := range messages {
			task, err := encDec.Decode([]byte(message))
			require.NoError(h.t, err)
			handler, ok := h.handlers[task.Activity]
			require.True(h.t, ok, "no handler for %s", task.Activity)
			result := model.TaskResult{
				WorkflowId: task.WorkflowId,
				RunId:      task.RunId,
				Activity:   task.Activity,
				Attempt:    task.Attempt,
			}
			output, handlerErr := handler(*task)
			if handlerErr != nil {
				result.Error = model.NewActivityError(handlerErr)
			} else {
				result.Output = output
			}
			require.NoError(h.t, h.engine.HandleTaskResult(ctx, result))
		}
	}
	h.t.Fatal("workflow did not settle")
}

func receiptInput(audio string) json.RawMessage {
	input := model.ReceiptIngestionInput{
		TripId:   "trip-1",
		ImageUrl: "https://img/receipt.jpg",
		AudioUrl: audio,
	}
	raw, _ := json.Marshal(input)
	return raw
}

func (h *harness) wireHappyIngestion() {
	h.succeed(activity.ACTIVITY_RESOLVE_TRIP, activity.ResolveTripOutput{TripId: "trip-1", DriverId: "driver-7"})
	h.succeed(activity.ACTIVITY_CREATE_BOLETA, activity.CreateBoletaOutput{BoletaId: 42})
	h.succeed(activity.ACTIVITY_TRANSCRIBE_AUDIO, activity.TranscribeAudioOutput{Text: "peaje ruta 5"})
	h.succeed(activity.ACTIVITY_CLASSIFY_RECEIPT, model.ExtractedFields{Merchant: "COPEC", Total: 12000, Currency: "CLP"})
	h.succeed(activity.ACTIVITY_PERSIST_EXTRACTION, model.ReceiptIngestionOutput{
		BoletaId: 42, State: model.BOLETA_STATE_AWAITING_REVIEW,
	})
	h.succeed(activity.ACTIVITY_FLAG_REVIEW, model.ReceiptIngestionOutput{
		BoletaId: 42, State: model.BOLETA_STATE_AWAITING_REVIEW,
		Metadata: model.BoletaMetadata{Error: "Audio transcription failed"},
	})
}

func TestStartWorkflow(t *testing.T) {
	ctx := context.Background()

	t.Run("completes a full ingestion", func(t *testing.T) {
		h := newHarness(t)
		h.wireHappyIngestion()
		runId, err := h.engine.StartWorkflow(ctx, model.WORKFLOW_TYPE_RECEIPT_INGESTION, "wf-1", receiptInput(""))
		require.NoError(t, err)
		require.NotEmpty(t, runId)
		h.pump()

		status, err := h.engine.GetStatus(ctx, "wf-1")
		require.NoError(t, err)
		require.Equal(t, model.WORKFLOW_STATUS_COMPLETED, status.Status)
		require.NotNil(t, status.CloseTime)
		require.NotNil(t, status.ExecutionTimeMs)

		var output model.ReceiptIngestionOutput
		require.NoError(t, json.Unmarshal(status.Result, &output))
		require.Equal(t, int64(42), output.BoletaId)
		require.Equal(t, model.BOLETA_STATE_AWAITING_REVIEW, output.State)
	})

	t.Run("rejects a duplicate running workflow id", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.engine.StartWorkflow(ctx, model.WORKFLOW_TYPE_RECEIPT_INGESTION, "wf-dup", receiptInput(""))
		require.NoError(t, err)

		_, err = h.engine.StartWorkflow(ctx, model.WORKFLOW_TYPE_RECEIPT_INGESTION, "wf-dup", receiptInput(""))
		require.Error(t, err)
		require.IsType(t, persistence.DuplicateExecutionError{}, err)
	})

	t.Run("allows restarting a terminal workflow id", func(t *testing.T) {
		h := newHarness(t)
		h.wireHappyIngestion()
		_, err := h.engine.StartWorkflow(ctx, model.WORKFLOW_TYPE_RECEIPT_INGESTION, "wf-redo", receiptInput(""))
		require.NoError(t, err)
		h.pump()

		_, err = h.engine.StartWorkflow(ctx, model.WORKFLOW_TYPE_RECEIPT_INGESTION, "wf-redo", receiptInput(""))
		require.NoError(t, err)
	})

	t.Run("rejects invalid input before anything is persisted", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.engine.StartWorkflow(ctx, model.WORKFLOW_TYPE_RECEIPT_INGESTION, "wf-bad", json.RawMessage(`{"trip_id":""}`))
		require.Error(t, err)
		require.IsType(t, model.ValidationError{}, err)

		_, err = h.engine.GetStatus(ctx, "wf-bad")
		require.Error(t, err)
	})
}

func TestRetryScheduling(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.wireHappyIngestion()

	attempts := 0
	h.handle(activity.ACTIVITY_RESOLVE_TRIP, func(task model.Task) (json.RawMessage, error) {
		attempts++
		if attempts < 4 {
			return nil, model.TransientError{Message: "storage hiccup"}
		}
		raw, _ := json.Marshal(activity.ResolveTripOutput{TripId: "trip-1", DriverId: "driver-7"})
		return raw, nil
	})

	_, err := h.engine.StartWorkflow(ctx, model.WORKFLOW_TYPE_RECEIPT_INGESTION, "wf-retry", receiptInput(""))
	require.NoError(t, err)
	h.pump()

	require.Equal(t, 4, attempts)
	require.Len(t, h.delays, 3)
	for i := 1; i < len(h.delays); i++ {
		require.Greater(t, h.delays[i], h.delays[i-1])
	}

	status, err := h.engine.GetStatus(ctx, "wf-retry")
	require.NoError(t, err)
	require.Equal(t, model.WORKFLOW_STATUS_COMPLETED, status.Status)
}

func TestPermanentFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("non retryable error fails the workflow immediately", func(t *testing.T) {
		h := newHarness(t)
		h.fail(activity.ACTIVITY_RESOLVE_TRIP, model.NotFoundError{Entity: "trip", Id: "trip-1"})

		_, err := h.engine.StartWorkflow(ctx, model.WORKFLOW_TYPE_RECEIPT_INGESTION, "wf-nf", receiptInput(""))
		require.NoError(t, err)
		h.pump()

		status, err := h.engine.GetStatus(ctx, "wf-nf")
		require.NoError(t, err)
		require.Equal(t, model.WORKFLOW_STATUS_FAILED, status.Status)
		require.NotNil(t, status.Error)
		require.Equal(t, model.ERROR_KIND_NOT_FOUND, status.Error.Kind)
		require.Empty(t, h.delays)
	})

	t.Run("retryable error fails after the attempt budget", func(t *testing.T) {
		h := newHarness(t)
		h.fail(activity.ACTIVITY_RESOLVE_TRIP, model.TransientError{Message: "storage down"})

		_, err := h.engine.StartWorkflow(ctx, model.WORKFLOW_TYPE_RECEIPT_INGESTION, "wf-exhaust", receiptInput(""))
		require.NoError(t, err)
		h.pump()

		status, err := h.engine.GetStatus(ctx, "wf-exhaust")
		require.NoError(t, err)
		require.Equal(t, model.WORKFLOW_STATUS_FAILED, status.Status)
		require.Len(t, h.delays, model.ReceiptRetryPolicy.MaxAttempts-1)
	})
}

func TestPartialSuccess(t *testing.T) {
	ctx := context.Background()

	t.Run("transcription failure completes the workflow via flag review", func(t *testing.T) {
		h := newHarness(t)
		h.wireHappyIngestion()
		h.fail(activity.ACTIVITY_TRANSCRIBE_AUDIO, model.TransientError{Message: "transcriber returned 500"})

		classified := false
		h.handle(activity.ACTIVITY_CLASSIFY_RECEIPT, func(task model.Task) (json.RawMessage, error) {
			classified = true
			return nil, nil
		})

		_, err := h.engine.StartWorkflow(ctx, model.WORKFLOW_TYPE_RECEIPT_INGESTION, "wf-partial", receiptInput("https://audio/note.ogg"))
		require.NoError(t, err)
		h.pump()

		status, err := h.engine.GetStatus(ctx, "wf-partial")
		require.NoError(t, err)
		require.Equal(t, model.WORKFLOW_STATUS_COMPLETED, status.Status)
		require.Nil(t, status.Error)
		require.False(t, classified, "classification must not run after the workflow parked the boleta")

		var output model.ReceiptIngestionOutput
		require.NoError(t, json.Unmarshal(status.Result, &output))
		require.Equal(t, model.BOLETA_STATE_AWAITING_REVIEW, output.State)
		require.Equal(t, "Audio transcription failed", output.Metadata.Error)
	})

	t.Run("recovery failure fails the workflow", func(t *testing.T) {
		h := newHarness(t)
		h.wireHappyIngestion()
		h.fail(activity.ACTIVITY_CLASSIFY_RECEIPT, model.TransientError{Message: "classifier down"})
		h.fail(activity.ACTIVITY_FLAG_REVIEW, model.NotFoundError{Entity: "boleta", Id: "42"})

		_, err := h.engine.StartWorkflow(ctx, model.WORKFLOW_TYPE_RECEIPT_INGESTION, "wf-recfail", receiptInput(""))
		require.NoError(t, err)
		h.pump()

		status, err := h.engine.GetStatus(ctx, "wf-recfail")
		require.NoError(t, err)
		require.Equal(t, model.WORKFLOW_STATUS_FAILED, status.Status)
	})
}

func TestDuplicateResultDelivery(t *testing.T) {
	ctx := context.Background()
	encDec := util.NewJsonEncoderDecoder[model.Task]()

	t.Run("redelivered completion dispatches the successor once", func(t *testing.T) {
		h := newHarness(t)
		h.wireHappyIngestion()
		_, err := h.engine.StartWorkflow(ctx, model.WORKFLOW_TYPE_RECEIPT_INGESTION, "wf-redeliver", receiptInput(""))
		require.NoError(t, err)

		messages, err := h.queue.Pop(ctx, TASK_QUEUE, 10)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		task, err := encDec.Decode([]byte(messages[0]))
		require.NoError(t, err)
		output, err := h.handlers[task.Activity](*task)
		require.NoError(t, err)

		// the result push is retried on partial failure, so the same
		// completion can arrive more than once
		result := model.TaskResult{
			WorkflowId: task.WorkflowId, RunId: task.RunId, Activity: task.Activity,
			Attempt: task.Attempt, Output: output,
		}
		require.NoError(t, h.engine.HandleTaskResult(ctx, result))
		require.NoError(t, h.engine.HandleTaskResult(ctx, result))

		messages, err = h.queue.Pop(ctx, TASK_QUEUE, 10)
		require.NoError(t, err)
		require.Len(t, messages, 1, "successor step must be dispatched once")
		next, err := encDec.Decode([]byte(messages[0]))
		require.NoError(t, err)
		require.Equal(t, activity.ACTIVITY_CREATE_BOLETA, next.Activity)

		execution, err := h.executions.Get(ctx, "wf-redeliver")
		require.NoError(t, err)
		completions := 0
		for _, event := range execution.History {
			if event.Step == activity.ACTIVITY_RESOLVE_TRIP && event.Type == model.EVENT_ACTIVITY_COMPLETED {
				completions++
			}
		}
		require.Equal(t, 1, completions)

		require.NoError(t, h.queue.Push(ctx, TASK_QUEUE, next.WorkflowId, []byte(messages[0])))
		h.pump()
		status, err := h.engine.GetStatus(ctx, "wf-redeliver")
		require.NoError(t, err)
		require.Equal(t, model.WORKFLOW_STATUS_COMPLETED, status.Status)
	})

	t.Run("redelivered failure schedules one retry", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.engine.StartWorkflow(ctx, model.WORKFLOW_TYPE_RECEIPT_INGESTION, "wf-refail", receiptInput(""))
		require.NoError(t, err)

		messages, err := h.queue.Pop(ctx, TASK_QUEUE, 10)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		task, err := encDec.Decode([]byte(messages[0]))
		require.NoError(t, err)

		result := model.TaskResult{
			WorkflowId: task.WorkflowId, RunId: task.RunId, Activity: task.Activity,
			Attempt: task.Attempt, Error: model.NewActivityError(model.TransientError{Message: "storage hiccup"}),
		}
		require.NoError(t, h.engine.HandleTaskResult(ctx, result))
		require.NoError(t, h.engine.HandleTaskResult(ctx, result))

		require.Len(t, h.delayQueue.Drain(RETRY_QUEUE), 1, "retry must be scheduled once")
		execution, err := h.executions.Get(ctx, "wf-refail")
		require.NoError(t, err)
		require.Equal(t, 1, execution.FailedAttempts(activity.ACTIVITY_RESOLVE_TRIP))
	})
}

func TestRecover(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	resolveCalls := 0
	h.handle(activity.ACTIVITY_RESOLVE_TRIP, func(task model.Task) (json.RawMessage, error) {
		resolveCalls++
		raw, _ := json.Marshal(activity.ResolveTripOutput{TripId: "trip-1", DriverId: "driver-7"})
		return raw, nil
	})

	_, err := h.engine.StartWorkflow(ctx, model.WORKFLOW_TYPE_RECEIPT_INGESTION, "wf-crash", receiptInput(""))
	require.NoError(t, err)

	// run only the first step, then simulate a crash: the dispatched
	// create-boleta task is lost with the process
	messages, err := h.queue.Pop(ctx, TASK_QUEUE, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	encDec := util.NewJsonEncoderDecoder[model.Task]()
	task, err := encDec.Decode([]byte(messages[0]))
	require.NoError(t, err)
	output, err := h.handlers[task.Activity](*task)
	require.NoError(t, err)
	require.NoError(t, h.engine.HandleTaskResult(ctx, model.TaskResult{
		WorkflowId: task.WorkflowId, RunId: task.RunId, Activity: task.Activity,
		Attempt: task.Attempt, Output: output,
	}))
	_, _ = h.queue.Pop(ctx, TASK_QUEUE, 10)

	// fresh engine over the same storage, as after a restart
	recovered := NewWorkflowEngine(workflow.Definitions(), h.executions, h.queue, h.delayQueue)
	require.NoError(t, recovered.Recover(ctx))

	h.engine = recovered
	h.wireHappyIngestion()
	h.handle(activity.ACTIVITY_RESOLVE_TRIP, func(task model.Task) (json.RawMessage, error) {
		resolveCalls++
		raw, _ := json.Marshal(activity.ResolveTripOutput{TripId: "trip-1", DriverId: "driver-7"})
		return raw, nil
	})
	h.pump()

	require.Equal(t, 1, resolveCalls, "completed step must not re-execute on replay")
	status, err := recovered.GetStatus(ctx, "wf-crash")
	require.NoError(t, err)
	require.Equal(t, model.WORKFLOW_STATUS_COMPLETED, status.Status)
}
