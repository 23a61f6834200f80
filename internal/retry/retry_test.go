// SPDX-License-Identifier: MIT

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tubescribe/tubescribe/internal/faults"
)

func fastPolicy(attempts uint) Policy {
	return Policy{Attempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Jitter: 0, Multiplier: 2}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(4), func() error {
		calls++
		if calls < 3 {
			return faults.New(faults.KindUpstreamUnavailable, "503")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(4), func() error {
		calls++
		return faults.New(faults.KindAudioTooLong, "too long")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, faults.KindAudioTooLong, faults.KindOf(err))
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(4), func() error {
		calls++
		return faults.New(faults.KindRateLimited, "429")
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestDoHonoursContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, Policy{Attempts: 4, BaseDelay: time.Minute, MaxDelay: time.Minute, Multiplier: 2}, func() error {
		return faults.New(faults.KindRateLimited, "429")
	})
	require.Error(t, err)
}

func TestDoValue(t *testing.T) {
	v, err := DoValue(context.Background(), fastPolicy(2), func() (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestForKind(t *testing.T) {
	assert.Equal(t, 120*time.Second, ForKind(faults.KindRateLimited).MaxDelay)
	assert.Equal(t, 10*time.Second, ForKind(faults.KindInternal).MaxDelay)
}

func TestPlainErrorsAreRetryable(t *testing.T) {
	// Uncategorised errors map to internal_error, which is retryable.
	calls := 0
	_ = Do(context.Background(), fastPolicy(2), func() error {
		calls++
		return errors.New("flaky")
	})
	assert.Equal(t, 2, calls)
}
