package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/tahanlog/gastoflow/model"
)

// State is the workflow-local state: the recorded output of every
// completed step, keyed by step name. It is rebuilt from history on
// replay, never from live data, which keeps replay deterministic.
type State map[string]json.RawMessage

func (s State) Has(step string) bool {
	_, ok := s[step]
	return ok
}

// Decode unmarshals a recorded step output into its typed form.
func Decode[T any](s State, step string) (*T, error) {
	raw, ok := s[step]
	if !ok {
		return nil, fmt.Errorf("no recorded output for step %s", step)
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("decode output of step %s: %w", step, err)
	}
	return &value, nil
}

type FailureMode int

const (
	// FAIL_WORKFLOW surfaces a permanent step failure as a failed
	// workflow.
	FAIL_WORKFLOW FailureMode = iota
	// PARTIAL_SUCCESS runs the step's Recovery step instead and
	// completes the workflow, leaving the business entity reviewable.
	PARTIAL_SUCCESS
)

// BuildContext is what a step's input builder may depend on. Failure
// is set only when building a recovery step's input.
type BuildContext struct {
	Input   json.RawMessage
	State   State
	Failure *model.ActivityError
}

// Step is one activity invocation in a workflow plan.
type Step struct {
	Name        string
	Policy      model.RetryPolicy
	FailureMode FailureMode
	Recovery    *Step
	BuildInput  func(bc BuildContext) (any, error)
}

// Definition describes one workflow type. Plan must be a pure function
// of the immutable input so replay produces the same step list.
type Definition struct {
	Type        model.WorkflowType
	Plan        func(input json.RawMessage) ([]Step, error)
	BuildResult func(input json.RawMessage, state State) (json.RawMessage, error)
}

// Definitions returns every workflow type this service runs.
func Definitions() map[model.WorkflowType]*Definition {
	return map[model.WorkflowType]*Definition{
		model.WORKFLOW_TYPE_RECEIPT_INGESTION:  ReceiptIngestionDefinition(),
		model.WORKFLOW_TYPE_EXPENSE_SUBMISSION: ExpenseSubmissionDefinition(),
	}
}
