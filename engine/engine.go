package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/tahanlog/gastoflow/logger"
	"github.com/tahanlog/gastoflow/model"
	"github.com/tahanlog/gastoflow/persistence"
	"github.com/tahanlog/gastoflow/util"
	"github.com/tahanlog/gastoflow/workflow"
	"go.uber.org/zap"
)

const TASK_QUEUE = "tasks"
const RETRY_QUEUE = "task-retries"

// WorkflowEngine owns workflow progress. Every decision is derived
// from the recorded history, so the same code path serves live
// execution and crash recovery: append what happened, then look at
// the history and dispatch whatever is not recorded as done.
type WorkflowEngine struct {
	definitions map[model.WorkflowType]*workflow.Definition
	executions  persistence.ExecutionDao
	queue       persistence.Queue
	delayQueue  persistence.DelayQueue
	taskEncDec  util.EncoderDecoder[model.Task]
	statusCache *gocache.Cache
	mu          sync.Mutex
}

func NewWorkflowEngine(definitions map[model.WorkflowType]*workflow.Definition,
	executions persistence.ExecutionDao, queue persistence.Queue, delayQueue persistence.DelayQueue) *WorkflowEngine {
	return &WorkflowEngine{
		definitions: definitions,
		executions:  executions,
		queue:       queue,
		delayQueue:  delayQueue,
		taskEncDec:  util.NewJsonEncoderDecoder[model.Task](),
		statusCache: gocache.New(5*time.Minute, 10*time.Minute),
	}
}

// StartWorkflow validates the input, persists the initial execution
// and dispatches the first step. A workflow id with a running
// execution is rejected before anything is dispatched.
func (e *WorkflowEngine) StartWorkflow(ctx context.Context, workflowType model.WorkflowType, workflowId string, input json.RawMessage) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	definition, ok := e.definitions[workflowType]
	if !ok {
		return "", model.ValidationError{Message: fmt.Sprintf("unknown workflow type %s", workflowType)}
	}
	plan, err := definition.Plan(input)
	if err != nil {
		return "", err
	}

	execution := &model.WorkflowExecution{
		WorkflowId: workflowId,
		RunId:      uuid.New().String(),
		Type:       workflowType,
		Status:     model.WORKFLOW_STATUS_RUNNING,
		Input:      input,
		StartTime:  time.Now(),
	}
	if err := e.executions.Create(ctx, execution); err != nil {
		return "", err
	}
	logger.Info("workflow started", zap.String("workflowId", workflowId), zap.String("runId", execution.RunId), zap.String("type", string(workflowType)))

	if err := e.dispatch(ctx, execution, plan[0], 1, nil, workflow.State{}, 0); err != nil {
		return execution.RunId, err
	}
	return execution.RunId, nil
}

// HandleTaskResult records the outcome of one activity invocation and
// moves the workflow forward.
func (e *WorkflowEngine) HandleTaskResult(ctx context.Context, result model.TaskResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	execution, err := e.executions.Get(ctx, result.WorkflowId)
	if err != nil {
		return err
	}
	if execution.Status.Terminal() || execution.RunId != result.RunId {
		logger.Debug("dropping stale task result", zap.String("workflowId", result.WorkflowId), zap.String("activity", result.Activity))
		return nil
	}
	// at-least-once delivery: a result whose outcome is already in the
	// history is a redelivery and must not append a second event, or
	// the successor step would be dispatched again
	if last := execution.LastEventFor(result.Activity); last != nil {
		if last.Type == model.EVENT_ACTIVITY_COMPLETED || last.Attempt >= result.Attempt {
			logger.Debug("dropping duplicate task result", zap.String("workflowId", result.WorkflowId), zap.String("activity", result.Activity), zap.Int("attempt", result.Attempt))
			return nil
		}
	}

	var event model.HistoryEvent
	if result.Error == nil {
		event = model.HistoryEvent{
			Seq:     execution.NextSeq(),
			Type:    model.EVENT_ACTIVITY_COMPLETED,
			Step:    result.Activity,
			Attempt: result.Attempt,
			Payload: result.Output,
			Time:    time.Now(),
		}
	} else {
		payload, err := json.Marshal(result.Error)
		if err != nil {
			return err
		}
		event = model.HistoryEvent{
			Seq:     execution.NextSeq(),
			Type:    model.EVENT_ACTIVITY_FAILED,
			Step:    result.Activity,
			Attempt: result.Attempt,
			Payload: payload,
			Time:    time.Now(),
		}
	}
	if err := e.executions.AppendEvent(ctx, execution.WorkflowId, event); err != nil {
		return err
	}
	execution.History = append(execution.History, event)
	return e.progress(ctx, execution)
}

// Recover replays every running execution after a process restart and
// re-dispatches only the steps not recorded as complete.
func (e *WorkflowEngine) Recover(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids, err := e.executions.RunningIds(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		execution, err := e.executions.Get(ctx, id)
		if err != nil {
			logger.Error("can not load execution for recovery", zap.String("workflowId", id), zap.Error(err))
			continue
		}
		logger.Info("recovering workflow", zap.String("workflowId", id), zap.Int("historyLength", len(execution.History)))
		if err := e.progress(ctx, execution); err != nil {
			logger.Error("error recovering workflow", zap.String("workflowId", id), zap.Error(err))
		}
	}
	return nil
}

// progress derives the next action purely from recorded history:
// dispatch the first step without a completion, schedule its retry,
// run its recovery, or close the workflow.
func (e *WorkflowEngine) progress(ctx context.Context, execution *model.WorkflowExecution) error {
	definition, ok := e.definitions[execution.Type]
	if !ok {
		return model.ValidationError{Message: fmt.Sprintf("unknown workflow type %s", execution.Type)}
	}
	plan, err := definition.Plan(execution.Input)
	if err != nil {
		return e.closeFailed(ctx, execution, model.NewActivityError(err))
	}
	state := rebuildState(execution)

	// a finished recovery step ends the workflow as a partial success
	for i := range plan {
		if plan[i].Recovery != nil && state.Has(plan[i].Recovery.Name) {
			return e.closeCompleted(ctx, execution, definition, state)
		}
	}

	for i := range plan {
		step := plan[i]
		if state.Has(step.Name) {
			continue
		}
		failures := execution.FailedAttempts(step.Name)
		if failures == 0 {
			return e.dispatch(ctx, execution, step, 1, nil, state, 0)
		}
		lastFailure := lastFailureFor(execution, step.Name)
		if lastFailure.Kind.Retryable() && failures < step.Policy.MaxAttempts {
			attempt := failures + 1
			return e.dispatch(ctx, execution, step, attempt, nil, state, step.Policy.Delay(attempt))
		}
		// permanent failure for this step
		if step.FailureMode == workflow.PARTIAL_SUCCESS && step.Recovery != nil {
			recovery := *step.Recovery
			recoveryFailures := execution.FailedAttempts(recovery.Name)
			if recoveryFailures > 0 {
				lastRecoveryFailure := lastFailureFor(execution, recovery.Name)
				if !lastRecoveryFailure.Kind.Retryable() || recoveryFailures >= recovery.Policy.MaxAttempts {
					return e.closeFailed(ctx, execution, lastRecoveryFailure)
				}
			}
			attempt := recoveryFailures + 1
			return e.dispatch(ctx, execution, recovery, attempt, lastFailure, state, recovery.Policy.Delay(attempt))
		}
		return e.closeFailed(ctx, execution, lastFailure)
	}
	return e.closeCompleted(ctx, execution, definition, state)
}

func (e *WorkflowEngine) dispatch(ctx context.Context, execution *model.WorkflowExecution, step workflow.Step, attempt int, failure *model.ActivityError, state workflow.State, delay time.Duration) error {
	input, err := step.BuildInput(workflow.BuildContext{
		Input:   execution.Input,
		State:   state,
		Failure: failure,
	})
	if err != nil {
		return e.closeFailed(ctx, execution, model.NewActivityError(err))
	}
	rawInput, err := json.Marshal(input)
	if err != nil {
		return err
	}
	event := model.HistoryEvent{
		Seq:     execution.NextSeq(),
		Type:    model.EVENT_ACTIVITY_SCHEDULED,
		Step:    step.Name,
		Attempt: attempt,
		Time:    time.Now(),
	}
	if err := e.executions.AppendEvent(ctx, execution.WorkflowId, event); err != nil {
		return err
	}
	execution.History = append(execution.History, event)

	task := model.Task{
		WorkflowId: execution.WorkflowId,
		RunId:      execution.RunId,
		Activity:   step.Name,
		Attempt:    attempt,
		Input:      rawInput,
	}
	data, err := e.taskEncDec.Encode(task)
	if err != nil {
		return err
	}
	if delay > 0 {
		logger.Debug("scheduling retry", zap.String("workflowId", execution.WorkflowId), zap.String("activity", step.Name), zap.Int("attempt", attempt), zap.Duration("delay", delay))
		return e.delayQueue.PushWithDelay(ctx, RETRY_QUEUE, delay, data)
	}
	return e.queue.Push(ctx, TASK_QUEUE, execution.WorkflowId, data)
}

func (e *WorkflowEngine) closeCompleted(ctx context.Context, execution *model.WorkflowExecution, definition *workflow.Definition, state workflow.State) error {
	result, err := definition.BuildResult(execution.Input, state)
	if err != nil {
		return e.closeFailed(ctx, execution, model.NewActivityError(err))
	}
	event := model.HistoryEvent{
		Seq:     execution.NextSeq(),
		Type:    model.EVENT_WORKFLOW_COMPLETED,
		Payload: result,
		Time:    time.Now(),
	}
	if err := e.executions.AppendEvent(ctx, execution.WorkflowId, event); err != nil {
		return err
	}
	logger.Info("workflow completed", zap.String("workflowId", execution.WorkflowId))
	return e.executions.Close(ctx, execution.WorkflowId, model.WORKFLOW_STATUS_COMPLETED, result, nil, time.Now())
}

func (e *WorkflowEngine) closeFailed(ctx context.Context, execution *model.WorkflowExecution, failure *model.ActivityError) error {
	payload, err := json.Marshal(failure)
	if err != nil {
		return err
	}
	event := model.HistoryEvent{
		Seq:     execution.NextSeq(),
		Type:    model.EVENT_WORKFLOW_FAILED,
		Payload: payload,
		Time:    time.Now(),
	}
	if err := e.executions.AppendEvent(ctx, execution.WorkflowId, event); err != nil {
		return err
	}
	logger.Warn("workflow failed", zap.String("workflowId", execution.WorkflowId), zap.String("error", failure.Message))
	return e.executions.Close(ctx, execution.WorkflowId, model.WORKFLOW_STATUS_FAILED, nil, failure, time.Now())
}

// rebuildState replays the history into workflow-local state. Only
// recorded completions feed the state, so a replayed workflow sees
// exactly what the crashed one saw.
func rebuildState(execution *model.WorkflowExecution) workflow.State {
	state := workflow.State{}
	for _, event := range execution.History {
		if event.Type == model.EVENT_ACTIVITY_COMPLETED {
			state[event.Step] = event.Payload
		}
	}
	return state
}

func lastFailureFor(execution *model.WorkflowExecution, step string) *model.ActivityError {
	for i := len(execution.History) - 1; i >= 0; i-- {
		event := execution.History[i]
		if event.Step == step && event.Type == model.EVENT_ACTIVITY_FAILED {
			var failure model.ActivityError
			if err := json.Unmarshal(event.Payload, &failure); err == nil {
				return &failure
			}
			return &model.ActivityError{Kind: model.ERROR_KIND_TRANSIENT, Message: "unreadable failure record"}
		}
	}
	return &model.ActivityError{Kind: model.ERROR_KIND_TRANSIENT, Message: "no failure recorded"}
}
