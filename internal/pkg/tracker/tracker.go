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

package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-arcade/dispatch/internal/pkg/task"
	"github.com/go-arcade/dispatch/pkg/event"
	"github.com/go-arcade/dispatch/pkg/log"
	"github.com/go-arcade/dispatch/pkg/safe"
)

/**
 * @file: tracker.go
 * @description: 结果追踪，按 task_id 关联执行结果，支持轮询和阻塞等待
 */

const (
	EventResultRecorded = "result.recorded"
	EventTaskTerminal   = "task.terminal"

	// 跨进程写入的结果没有本地通知，等待方按此间隔轮询
	defaultPollInterval = 200 * time.Millisecond
	archiveTimeout      = 5 * time.Second
)

// ResultEvent 每条结果写入后发布
type ResultEvent struct {
	Result *task.Result
}

func (e ResultEvent) EventName() string { return EventResultRecorded }
func (e ResultEvent) EventType() string { return string(e.Result.Status) }

// TerminalEvent 任务进入终态后发布
type TerminalEvent struct {
	TaskID string
}

func (e TerminalEvent) EventName() string { return EventTaskTerminal }
func (e TerminalEvent) EventType() string { return "terminal" }

type Option func(*Tracker)

func WithArchive(a Archive) Option {
	return func(t *Tracker) { t.archive = a }
}

func WithEventBus(bus *event.EventBus) Option {
	return func(t *Tracker) { t.bus = bus }
}

func WithPollInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.poll = d
		}
	}
}

type Tracker struct {
	store   RecordStore
	archive Archive
	bus     *event.EventBus
	poll    time.Duration

	mu      sync.Mutex
	waiters map[string][]chan struct{}
}

func NewTracker(store RecordStore, opts ...Option) *Tracker {
	t := &Tracker{
		store:   store,
		poll:    defaultPollInterval,
		waiters: make(map[string][]chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record 写入一次执行的结果，成功结果同时使任务进入终态
func (t *Tracker) Record(ctx context.Context, r *task.Result) error {
	r = r.Clone()
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now()
	}
	if err := t.store.Append(ctx, r); err != nil {
		return err
	}
	t.bus.Publish(ResultEvent{Result: r.Clone()})

	if t.archive != nil {
		safe.Go(func() {
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
			defer cancel()
			if err := t.archive.Archive(actx, r); err != nil {
				log.WithContext(ctx).Warnw("archive result failed", "task_id", r.TaskID, "attempt", r.Attempt, "error", err)
			}
		})
	}

	if r.Succeeded() {
		return t.MarkTerminal(ctx, r.TaskID)
	}
	return nil
}

// MarkTerminal 任务被放弃或取消时调用，唤醒所有等待方
func (t *Tracker) MarkTerminal(ctx context.Context, taskID string) error {
	if err := t.store.MarkTerminal(ctx, taskID); err != nil {
		return err
	}
	t.notify(taskID)
	t.bus.Publish(TerminalEvent{TaskID: taskID})
	return nil
}

// Reopen 人工恢复已放弃的任务前调用，之前的记录保留在历史中
func (t *Tracker) Reopen(ctx context.Context, taskID string) error {
	return t.store.Reopen(ctx, taskID)
}

// Reinstate 恢复失败时把任务退回 Reopen 之前的终态
func (t *Tracker) Reinstate(ctx context.Context, taskID string) error {
	if err := t.store.Reinstate(ctx, taskID); err != nil {
		return err
	}
	t.notify(taskID)
	return nil
}

// Get 返回终态任务的最后一条结果；未执行就被取消的任务返回 ErrCanceled
func (t *Tracker) Get(ctx context.Context, taskID string) (*task.Result, error) {
	current, err := t.store.Current(ctx, taskID)
	if err != nil {
		return nil, err
	}
	terminal, err := t.store.IsTerminal(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if len(current) == 0 {
		if terminal {
			// 未执行就被取消
			return nil, task.ErrCanceled
		}
		history, err := t.store.History(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if len(history) == 0 {
			return nil, task.ErrNotFound
		}
		return nil, task.ErrNotReady
	}

	latest := current[len(current)-1]
	if latest.Succeeded() || terminal {
		return latest, nil
	}
	return nil, task.ErrNotReady
}

// Latest 返回最后一条记录，不论是否终态
func (t *Tracker) Latest(ctx context.Context, taskID string) (*task.Result, error) {
	history, err := t.History(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return history[len(history)-1], nil
}

func (t *Tracker) History(ctx context.Context, taskID string) ([]*task.Result, error) {
	history, err := t.store.History(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, task.ErrNotFound
	}
	return history, nil
}

// Terminal 报告任务是否已进入终态
func (t *Tracker) Terminal(ctx context.Context, taskID string) (bool, error) {
	return t.store.IsTerminal(ctx, taskID)
}

// WaitFor 阻塞直到任务进入终态；超时返回 ErrTimeout，不影响任务本身
func (t *Tracker) WaitFor(ctx context.Context, taskID string, timeout time.Duration) (*task.Result, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	for {
		ch := t.subscribe(taskID)
		r, err := t.Get(ctx, taskID)
		if err == nil {
			t.unsubscribe(taskID, ch)
			return r, nil
		}
		if !errors.Is(err, task.ErrNotReady) && !errors.Is(err, task.ErrNotFound) {
			t.unsubscribe(taskID, ch)
			return nil, err
		}

		select {
		case <-ch:
		case <-ticker.C:
		case <-deadline.C:
			t.unsubscribe(taskID, ch)
			return nil, task.ErrTimeout
		case <-ctx.Done():
			t.unsubscribe(taskID, ch)
			return nil, ctx.Err()
		}
		t.unsubscribe(taskID, ch)
	}
}

func (t *Tracker) subscribe(taskID string) chan struct{} {
	ch := make(chan struct{})
	t.mu.Lock()
	t.waiters[taskID] = append(t.waiters[taskID], ch)
	t.mu.Unlock()
	return ch
}

func (t *Tracker) unsubscribe(taskID string, ch chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.waiters[taskID]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(t.waiters, taskID)
	} else {
		t.waiters[taskID] = list
	}
}

func (t *Tracker) notify(taskID string) {
	t.mu.Lock()
	list := t.waiters[taskID]
	delete(t.waiters, taskID)
	t.mu.Unlock()

	for _, ch := range list {
		close(ch)
	}
}

// Waiting 当前阻塞等待的调用数
func (t *Tracker) Waiting() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, list := range t.waiters {
		n += len(list)
	}
	return n
}
