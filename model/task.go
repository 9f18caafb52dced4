package model

import (
	"encoding/json"
	"math"
	"time"
)

// Task is one activity invocation dispatched over the task queue.
type Task struct {
	WorkflowId string          `json:"workflowId"`
	RunId      string          `json:"runId"`
	Activity   string          `json:"activity"`
	Attempt    int             `json:"attempt"`
	Input      json.RawMessage `json:"input,omitempty"`
}

// TaskResult is reported back to the engine by a worker. Error is nil
// on success.
type TaskResult struct {
	WorkflowId string          `json:"workflowId"`
	RunId      string          `json:"runId"`
	Activity   string          `json:"activity"`
	Attempt    int             `json:"attempt"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      *ActivityError  `json:"error,omitempty"`
}

// RetryPolicy bounds retries for one activity class.
type RetryPolicy struct {
	MaxAttempts        int           `json:"maxAttempts"`
	InitialInterval    time.Duration `json:"initialInterval"`
	BackoffCoefficient float64       `json:"backoffCoefficient"`
	MaxInterval        time.Duration `json:"maxInterval"`
}

// Delay returns the wait before the given attempt (attempt 2 is the
// first retry). Delays increase strictly until MaxInterval.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := float64(p.InitialInterval) * math.Pow(p.BackoffCoefficient, float64(attempt-2))
	if d > float64(p.MaxInterval) {
		return p.MaxInterval
	}
	return time.Duration(d)
}

// Short budget for reads and classifier calls, long budget for the
// accounting submission, which is known unreliable.
var (
	ReceiptRetryPolicy = RetryPolicy{
		MaxAttempts:        5,
		InitialInterval:    1 * time.Second,
		BackoffCoefficient: 2.0,
		MaxInterval:        60 * time.Second,
	}
	SubmissionRetryPolicy = RetryPolicy{
		MaxAttempts:        10,
		InitialInterval:    5 * time.Second,
		BackoffCoefficient: 2.0,
		MaxInterval:        120 * time.Second,
	}
)
