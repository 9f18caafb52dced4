package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tahanlog/gastoflow/model"
)

// Receipt ingestion activities.
const (
	ACTIVITY_RESOLVE_TRIP       = "resolve-trip"
	ACTIVITY_CREATE_BOLETA      = "create-boleta"
	ACTIVITY_TRANSCRIBE_AUDIO   = "transcribe-audio"
	ACTIVITY_CLASSIFY_RECEIPT   = "classify-receipt"
	ACTIVITY_PERSIST_EXTRACTION = "persist-extraction"
	ACTIVITY_FLAG_REVIEW        = "flag-review"
)

// Expense submission activities.
const (
	ACTIVITY_LOAD_BOLETA      = "load-boleta"
	ACTIVITY_RESOLVE_EMPLOYEE = "resolve-employee"
	ACTIVITY_RESOLVE_CATEGORY = "resolve-category"
	ACTIVITY_PREPARE_PAYLOAD  = "prepare-payload"
	ACTIVITY_SUBMIT_EXPENSE   = "submit-expense"
	ACTIVITY_CONFIRM_BOLETA   = "confirm-boleta"
)

// Handler executes one activity invocation. Handlers are stateless and
// idempotency-aware; every call is independently retryable.
type Handler func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

func (r *Registry) Register(name string, handler Handler) {
	r.handlers[name] = handler
}

func (r *Registry) Get(name string) (Handler, error) {
	handler, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("no handler registered for activity %s", name)
	}
	return handler, nil
}

// typed adapts a typed activity function to the Handler signature,
// keeping untyped JSON out of activity bodies.
func typed[I any, O any](fn func(ctx context.Context, input I) (O, error)) Handler {
	return func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var input I
		if err := json.Unmarshal(raw, &input); err != nil {
			return nil, model.ValidationError{Message: fmt.Sprintf("malformed activity input: %v", err)}
		}
		output, err := fn(ctx, input)
		if err != nil {
			return nil, err
		}
		return json.Marshal(output)
	}
}
