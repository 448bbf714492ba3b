package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briandenicola/art-voice-agent-accelerator/types"
)

func fastPolicy(maxRetries int) *Policy {
	return &Policy{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetryerSucceedsFirstAttempt(t *testing.T) {
	r := NewRetryer(fastPolicy(3), nil)
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryerRecoversFromTransient(t *testing.T) {
	r := NewRetryer(fastPolicy(3), nil)
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return types.NewError(types.ErrLLMTransient, "rate limited")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryerStopsOnPermanentError(t *testing.T) {
	r := NewRetryer(fastPolicy(3), nil)
	permanent := errors.New("invalid request")
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetryerExhaustsRetries(t *testing.T) {
	r := NewRetryer(fastPolicy(2), nil)
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return types.NewError(types.ErrLLMTransient, "still down")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, types.HasErrorCode(err, types.ErrLLMTransient))
}

func TestRetryerHonorsRetryableFlag(t *testing.T) {
	r := NewRetryer(fastPolicy(2), nil)
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return types.NewError(types.ErrToolExecution, "flaky backend").WithRetryable(true)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryerContextCancelDuringBackoff(t *testing.T) {
	r := NewRetryer(&Policy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := r.Do(ctx, func() error {
		calls++
		return types.NewError(types.ErrLLMTransient, "down")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
