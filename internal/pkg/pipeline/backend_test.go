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

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-arcade/dispatch/internal/pkg/task"
)

type handlerFunc func(ctx context.Context, env *task.Envelope, call int) (map[string]any, error)

// fakeBackend 每次提交在独立 goroutine 中调用对应 kind 的 handler
type fakeBackend struct {
	mu        sync.Mutex
	handlers  map[task.Kind]handlerFunc
	calls     map[task.Kind]int
	submitted []*task.Envelope
	results   map[string]chan *task.Result
	canceled  map[string]bool
	cancels   map[string]context.CancelFunc
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		handlers: make(map[task.Kind]handlerFunc),
		calls:    make(map[task.Kind]int),
		results:  make(map[string]chan *task.Result),
		canceled: make(map[string]bool),
		cancels:  make(map[string]context.CancelFunc),
	}
}

func (b *fakeBackend) handle(kind task.Kind, h handlerFunc) *fakeBackend {
	b.handlers[kind] = h
	return b
}

func (b *fakeBackend) Submit(_ context.Context, kind task.Kind, payload map[string]any, opts ...task.Option) (string, error) {
	b.mu.Lock()
	h, ok := b.handlers[kind]
	if !ok {
		b.mu.Unlock()
		return "", fmt.Errorf("%w: %s", task.ErrInvalidKind, kind)
	}
	env := task.New(kind, payload, opts...)
	env.ID = fmt.Sprintf("task-%d", len(b.submitted)+1)
	call := b.calls[kind]
	b.calls[kind]++
	b.submitted = append(b.submitted, env)
	ch := make(chan *task.Result, 1)
	b.results[env.ID] = ch
	ctx, cancel := context.WithCancel(context.Background())
	b.cancels[env.ID] = cancel
	b.mu.Unlock()

	go func() {
		res := &task.Result{TaskID: env.ID, Kind: kind, Attempt: 1, FinishedAt: time.Now()}
		out, err := h(ctx, env.Clone(), call)
		if err != nil {
			res.Status = task.StatusFailed
			res.Error = err.Error()
		} else {
			res.Status = task.StatusSucceeded
			res.Output = out
		}
		ch <- res
	}()
	return env.ID, nil
}

func (b *fakeBackend) Wait(ctx context.Context, taskID string, timeout time.Duration) (*task.Result, error) {
	b.mu.Lock()
	ch, ok := b.results[taskID]
	b.mu.Unlock()
	if !ok {
		return nil, task.ErrNotFound
	}
	select {
	case res := <-ch:
		ch <- res
		return res, nil
	case <-time.After(timeout):
		return nil, task.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *fakeBackend) Cancel(_ context.Context, taskID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.canceled[taskID] = true
	if cancel, ok := b.cancels[taskID]; ok {
		cancel()
	}
	return nil
}

func (b *fakeBackend) envelopes(kind task.Kind) []*task.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*task.Envelope
	for _, env := range b.submitted {
		if env.Kind == kind {
			out = append(out, env)
		}
	}
	return out
}

func (b *fakeBackend) wasCanceled(taskID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.canceled[taskID]
}

func succeed(out map[string]any) handlerFunc {
	return func(context.Context, *task.Envelope, int) (map[string]any, error) { return out, nil }
}

func fail(msg string) handlerFunc {
	return func(context.Context, *task.Envelope, int) (map[string]any, error) { return nil, fmt.Errorf("%s", msg) }
}
