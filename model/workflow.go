package model

import (
	"encoding/json"
	"time"
)

type WorkflowType string

const (
	WORKFLOW_TYPE_RECEIPT_INGESTION  WorkflowType = "ReceiptIngestion"
	WORKFLOW_TYPE_EXPENSE_SUBMISSION WorkflowType = "ExpenseSubmission"
)

type WorkflowStatus string

const (
	WORKFLOW_STATUS_RUNNING    WorkflowStatus = "running"
	WORKFLOW_STATUS_COMPLETED  WorkflowStatus = "completed"
	WORKFLOW_STATUS_FAILED     WorkflowStatus = "failed"
	WORKFLOW_STATUS_TERMINATED WorkflowStatus = "terminated"
	WORKFLOW_STATUS_CANCELLED  WorkflowStatus = "cancelled"
)

func (s WorkflowStatus) Terminal() bool {
	return s != WORKFLOW_STATUS_RUNNING
}

type HistoryEventType string

const (
	EVENT_ACTIVITY_SCHEDULED HistoryEventType = "ACTIVITY_SCHEDULED"
	EVENT_ACTIVITY_COMPLETED HistoryEventType = "ACTIVITY_COMPLETED"
	EVENT_ACTIVITY_FAILED    HistoryEventType = "ACTIVITY_FAILED"
	EVENT_WORKFLOW_COMPLETED HistoryEventType = "WORKFLOW_COMPLETED"
	EVENT_WORKFLOW_FAILED    HistoryEventType = "WORKFLOW_FAILED"
)

// HistoryEvent is one entry in an execution's append-only event log.
// Payload holds the activity output for ACTIVITY_COMPLETED, the
// serialized ActivityError for ACTIVITY_FAILED and the workflow result
// for WORKFLOW_COMPLETED.
type HistoryEvent struct {
	Seq     int              `json:"seq"`
	Type    HistoryEventType `json:"type"`
	Step    string           `json:"step,omitempty"`
	Attempt int              `json:"attempt,omitempty"`
	Payload json.RawMessage  `json:"payload,omitempty"`
	Time    time.Time        `json:"time"`
}

// WorkflowExecution is one durable business transaction. History is the
// sole source of truth for reconstructing workflow-local state after a
// crash; everything else is derivable bookkeeping for the status API.
type WorkflowExecution struct {
	WorkflowId string          `json:"workflowId"`
	RunId      string          `json:"runId"`
	Type       WorkflowType    `json:"workflowType"`
	Status     WorkflowStatus  `json:"status"`
	Input      json.RawMessage `json:"input"`
	Result     json.RawMessage `json:"result,omitempty"`
	Failure    *ActivityError  `json:"failure,omitempty"`
	StartTime  time.Time       `json:"startTime"`
	CloseTime  *time.Time      `json:"closeTime,omitempty"`
	History    []HistoryEvent  `json:"history"`
}

func (e *WorkflowExecution) NextSeq() int {
	return len(e.History) + 1
}

// LastEventFor returns the latest completion or failure event recorded
// for the named step, or nil.
func (e *WorkflowExecution) LastEventFor(step string) *HistoryEvent {
	for i := len(e.History) - 1; i >= 0; i-- {
		ev := &e.History[i]
		if ev.Step != step {
			continue
		}
		if ev.Type == EVENT_ACTIVITY_COMPLETED || ev.Type == EVENT_ACTIVITY_FAILED {
			return ev
		}
	}
	return nil
}

// FailedAttempts counts recorded failures for the named step.
func (e *WorkflowExecution) FailedAttempts(step string) int {
	count := 0
	for i := range e.History {
		if e.History[i].Step == step && e.History[i].Type == EVENT_ACTIVITY_FAILED {
			count++
		}
	}
	return count
}
