package model

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicyDelay(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:        5,
		InitialInterval:    1 * time.Second,
		BackoffCoefficient: 2.0,
		MaxInterval:        60 * time.Second,
	}

	require.Equal(t, time.Duration(0), policy.Delay(1))
	require.Equal(t, 1*time.Second, policy.Delay(2))
	require.Equal(t, 2*time.Second, policy.Delay(3))
	require.Equal(t, 4*time.Second, policy.Delay(4))
	require.Equal(t, 8*time.Second, policy.Delay(5))

	previous := time.Duration(0)
	for attempt := 2; attempt <= policy.MaxAttempts; attempt++ {
		delay := policy.Delay(attempt)
		require.Greater(t, delay, previous)
		previous = delay
	}
}

func TestRetryPolicyDelayCapped(t *testing.T) {
	policy := SubmissionRetryPolicy
	require.Equal(t, 5*time.Second, policy.Delay(2))
	require.Equal(t, policy.MaxInterval, policy.Delay(10))
}

func TestClassify(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T){
		"validation error is permanent": func(t *testing.T) {
			kind := Classify(ValidationError{Message: "trip_id is required"})
			require.Equal(t, ERROR_KIND_VALIDATION, kind)
			require.False(t, kind.Retryable())
		},
		"not found error is permanent": func(t *testing.T) {
			kind := Classify(NotFoundError{Entity: "trip", Id: "t-1"})
			require.Equal(t, ERROR_KIND_NOT_FOUND, kind)
			require.False(t, kind.Retryable())
		},
		"business state error is permanent": func(t *testing.T) {
			kind := Classify(BusinessStateError{Message: "boleta already confirmed"})
			require.Equal(t, ERROR_KIND_BUSINESS_STATE, kind)
			require.False(t, kind.Retryable())
		},
		"transient error is retryable": func(t *testing.T) {
			kind := Classify(TransientError{Message: "service unavailable"})
			require.Equal(t, ERROR_KIND_TRANSIENT, kind)
			require.True(t, kind.Retryable())
		},
		"wrapped errors are unwrapped": func(t *testing.T) {
			err := fmt.Errorf("loading trip: %w", NotFoundError{Entity: "trip", Id: "t-2"})
			require.Equal(t, ERROR_KIND_NOT_FOUND, Classify(err))
		},
		"unknown errors default to transient": func(t *testing.T) {
			require.Equal(t, ERROR_KIND_TRANSIENT, Classify(errors.New("connection reset")))
		},
	} {
		t.Run(scenario, fn)
	}
}
