package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an activity failure for retry decisions.
type ErrorKind string

const (
	ERROR_KIND_VALIDATION     ErrorKind = "validation"
	ERROR_KIND_NOT_FOUND      ErrorKind = "not_found"
	ERROR_KIND_BUSINESS_STATE ErrorKind = "business_state"
	ERROR_KIND_TRANSIENT      ErrorKind = "transient"
)

func (k ErrorKind) Retryable() bool {
	return k == ERROR_KIND_TRANSIENT
}

type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Message)
}

type NotFoundError struct {
	Entity string
	Id     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s with id %s does not exist", e.Entity, e.Id)
}

type BusinessStateError struct {
	Message string
}

func (e BusinessStateError) Error() string {
	return e.Message
}

type TransientError struct {
	Message string
	Cause   error
}

func (e TransientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e TransientError) Unwrap() error {
	return e.Cause
}

// Classify maps an error raised by an activity to its retry class.
// Unrecognized errors are treated as transient, the safe default for
// downstream service failures.
func Classify(err error) ErrorKind {
	var vErr ValidationError
	var nfErr NotFoundError
	var bsErr BusinessStateError
	switch {
	case errors.As(err, &vErr):
		return ERROR_KIND_VALIDATION
	case errors.As(err, &nfErr):
		return ERROR_KIND_NOT_FOUND
	case errors.As(err, &bsErr):
		return ERROR_KIND_BUSINESS_STATE
	default:
		return ERROR_KIND_TRANSIENT
	}
}

// ActivityError is the serializable form of a classified activity failure,
// carried on task results and in workflow history.
type ActivityError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *ActivityError) Error() string {
	return e.Message
}

func NewActivityError(err error) *ActivityError {
	return &ActivityError{
		Kind:    Classify(err),
		Message: err.Error(),
	}
}
