// Copyright 2025 Arcade Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_Success(t *testing.T) {
	err := Do(context.Background(), func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestDo_RetrySuccess(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}, WithMaxAttempts(3), WithBackoff(Fixed(time.Millisecond)))

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_MaxAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("persistent error")
	}, WithMaxAttempts(3), WithBackoff(Fixed(time.Millisecond)))

	assert.EqualError(t, err, "persistent error")
	assert.Equal(t, 3, attempts)
}

func TestDo_RetryIfStops(t *testing.T) {
	permanent := errors.New("permanent")
	attempts := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return permanent
	}, WithMaxAttempts(5), WithRetryIf(func(err error) bool {
		return !errors.Is(err, permanent)
	}))

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Do(ctx, func(ctx context.Context) error {
		attempts++
		cancel()
		return errors.New("fail")
	}, WithMaxAttempts(5), WithBackoff(Fixed(time.Second)))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestDo_OnRetry(t *testing.T) {
	var waits []time.Duration
	_ = Do(context.Background(), func(ctx context.Context) error {
		return errors.New("fail")
	},
		WithMaxAttempts(3),
		WithPolicy(Policy{Backoff: Exponential(time.Millisecond, 2, 0), Jitter: NoJitter}),
		WithOnRetry(func(attempt int, err error, wait time.Duration) {
			waits = append(waits, wait)
		}),
	)

	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, waits)
}

func TestExponential(t *testing.T) {
	b := Exponential(time.Second, 2, time.Minute)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 32 * time.Second},
		{6, time.Minute},
		{100, time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Next(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponential_InvalidFactor(t *testing.T) {
	b := Exponential(time.Second, 0.5, 0)
	assert.Equal(t, 4*time.Second, b.Next(2))
}

func TestFullJitter(t *testing.T) {
	assert.Equal(t, time.Duration(0), FullJitter(0))
	for i := 0; i < 100; i++ {
		d := FullJitter(time.Second)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, time.Second)
	}
}

func TestPolicy_Delay(t *testing.T) {
	p := DefaultPolicy()
	for attempt := 0; attempt < 10; attempt++ {
		d := p.Delay(attempt)
		assert.Less(t, d, time.Minute)
	}

	var zero Policy
	assert.Equal(t, 2*time.Second, zero.Delay(1))
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.False(t, IsRetryableError(context.Canceled))
	assert.False(t, IsRetryableError(context.DeadlineExceeded))
	assert.True(t, IsRetryableError(errors.New("boom")))
}
