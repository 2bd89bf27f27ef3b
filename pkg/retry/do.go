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
	"math"
	"math/rand/v2"
	"time"
)

// Func defines a retryable function.
// The function must respect the provided context.
type Func func(ctx context.Context) error

// RetryIf determines whether an error should trigger a retry.
type RetryIf func(error) bool

// Backoff defines how long to wait before the next retry.
// attempt starts from 0 (first retry after the first failure).
type Backoff interface {
	Next(attempt int) time.Duration
}

type fixedBackoff struct {
	interval time.Duration
}

func (b fixedBackoff) Next(int) time.Duration {
	return b.interval
}

// Fixed returns a fixed backoff strategy.
func Fixed(interval time.Duration) Backoff {
	return fixedBackoff{interval: interval}
}

type exponentialBackoff struct {
	base   time.Duration
	factor float64
	max    time.Duration
}

func (b exponentialBackoff) Next(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(b.base) * math.Pow(b.factor, float64(attempt))
	if b.max > 0 && (d > float64(b.max) || math.IsInf(d, 0)) {
		return b.max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Exponential returns base*factor^attempt capped at max (max <= 0 disables the cap).
// A factor below 1 is treated as 2.
func Exponential(base time.Duration, factor float64, max time.Duration) Backoff {
	if factor < 1 {
		factor = 2
	}
	return exponentialBackoff{base: base, factor: factor, max: max}
}

// Jitter modifies the backoff duration to avoid thundering herd problems.
type Jitter func(time.Duration) time.Duration

// NoJitter applies no jitter.
func NoJitter(d time.Duration) time.Duration {
	return d
}

// FullJitter returns a random duration in [0, d).
func FullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d)))
}

// Policy pairs a backoff with a jitter and yields concrete delays.
type Policy struct {
	Backoff Backoff
	Jitter  Jitter
}

// DefaultPolicy is 1s base, doubling, capped at 60s, full jitter.
func DefaultPolicy() Policy {
	return Policy{
		Backoff: Exponential(time.Second, 2, time.Minute),
		Jitter:  FullJitter,
	}
}

// Delay returns the wait before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	b := p.Backoff
	if b == nil {
		b = Exponential(time.Second, 2, time.Minute)
	}
	j := p.Jitter
	if j == nil {
		j = NoJitter
	}
	return j(b.Next(attempt))
}

type config struct {
	maxAttempts    int
	maxElapsedTime time.Duration
	policy         Policy
	retryIf        RetryIf
	onRetry        func(attempt int, err error, wait time.Duration)
}

func defaultConfig() *config {
	return &config{
		maxAttempts: 3,
		policy:      Policy{Backoff: Fixed(time.Second), Jitter: NoJitter},
		retryIf:     IsRetryableError,
	}
}

// Option configures retry behavior.
type Option func(*config)

// WithMaxAttempts sets the maximum number of attempts (including the first attempt).
func WithMaxAttempts(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithMaxElapsedTime limits the total retry duration.
func WithMaxElapsedTime(d time.Duration) Option {
	return func(c *config) {
		c.maxElapsedTime = d
	}
}

// WithBackoff sets the backoff strategy.
func WithBackoff(b Backoff) Option {
	return func(c *config) {
		if b != nil {
			c.policy.Backoff = b
		}
	}
}

// WithJitter sets the jitter strategy.
func WithJitter(j Jitter) Option {
	return func(c *config) {
		if j != nil {
			c.policy.Jitter = j
		}
	}
}

// WithPolicy sets backoff and jitter together.
func WithPolicy(p Policy) Option {
	return func(c *config) {
		c.policy = p
	}
}

// WithRetryIf sets the retry condition function.
func WithRetryIf(fn RetryIf) Option {
	return func(c *config) {
		if fn != nil {
			c.retryIf = fn
		}
	}
}

// WithOnRetry registers a callback invoked before each wait.
func WithOnRetry(fn func(attempt int, err error, wait time.Duration)) Option {
	return func(c *config) {
		c.onRetry = fn
	}
}

// Do executes fn with retry logic.
// The provided context controls cancellation and timeout.
func Do(ctx context.Context, fn Func, opts ...Option) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	start := time.Now()
	var lastErr error

	for attempt := 0; attempt < cfg.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if cfg.maxElapsedTime > 0 && attempt > 0 && time.Since(start) >= cfg.maxElapsedTime {
			return lastErr
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !cfg.retryIf(err) {
			return err
		}
		if attempt == cfg.maxAttempts-1 {
			break
		}

		wait := cfg.policy.Delay(attempt)
		if cfg.onRetry != nil {
			cfg.onRetry(attempt, err, wait)
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}

	return lastErr
}

// IsRetryableError is the default retry condition.
// It retries all errors except context cancellation or deadline exceeded.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
