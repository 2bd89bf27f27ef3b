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

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-arcade/dispatch/internal/pkg/task"
)

type channelQueue struct {
	ready   *envHeap
	delayed *envHeap
}

// MemoryStore 进程内队列存储，所有操作在一把锁内完成
type MemoryStore struct {
	mu       sync.Mutex
	seq      int64
	tasks    map[string]*task.Envelope
	pending  map[string]*entry
	delayed  map[string]bool
	channels map[string]*channelQueue
	wake     map[string]chan struct{}
	now      func() time.Time
	closed   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:    make(map[string]*task.Envelope),
		pending:  make(map[string]*entry),
		delayed:  make(map[string]bool),
		channels: make(map[string]*channelQueue),
		wake:     make(map[string]chan struct{}),
		now:      time.Now,
	}
}

func (s *MemoryStore) channel(name string) *channelQueue {
	q, ok := s.channels[name]
	if !ok {
		q = &channelQueue{ready: newReadyHeap(), delayed: newDelayedHeap()}
		s.channels[name] = q
	}
	return q
}

func (s *MemoryStore) wakeChan(name string) chan struct{} {
	ch, ok := s.wake[name]
	if !ok {
		ch = make(chan struct{}, 1)
		s.wake[name] = ch
	}
	return ch
}

// insert 调用方持有锁
func (s *MemoryStore) insert(env *task.Envelope) {
	q := s.channel(env.Channel)
	e := &entry{env: env}
	s.pending[env.ID] = e
	if env.Ready(s.now()) {
		q.ready.push(e)
		delete(s.delayed, env.ID)
	} else {
		q.delayed.push(e)
		s.delayed[env.ID] = true
	}
	notify(s.wakeChan(env.Channel))
}

// promote 把到期的延迟信封移入就绪堆
func (s *MemoryStore) promote(q *channelQueue) {
	now := s.now()
	for {
		top := q.delayed.peek()
		if top == nil || !top.env.Ready(now) {
			return
		}
		q.delayed.pop()
		delete(s.delayed, top.env.ID)
		q.ready.push(top)
	}
}

func (s *MemoryStore) Enqueue(_ context.Context, env *task.Envelope) error {
	if err := validateEnqueue(env); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: store closed", task.ErrStorageUnavailable)
	}
	if _, exists := s.tasks[env.ID]; exists {
		return fmt.Errorf("task %s already enqueued", env.ID)
	}

	s.seq++
	env.Seq = s.seq
	stored := env.Clone()
	s.tasks[env.ID] = stored
	s.insert(stored)
	return nil
}

func (s *MemoryStore) Dequeue(_ context.Context, channel string) (*task.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%w: store closed", task.ErrStorageUnavailable)
	}

	q := s.channel(channel)
	s.promote(q)
	e := q.ready.pop()
	if e == nil {
		return nil, task.ErrEmpty
	}
	delete(s.pending, e.env.ID)
	if err := startEnvelope(e.env, s.now()); err != nil {
		return nil, err
	}
	return e.env.Clone(), nil
}

func (s *MemoryStore) Peek(_ context.Context, channel string) (*task.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.channel(channel)
	s.promote(q)
	e := q.ready.peek()
	if e == nil {
		return nil, task.ErrEmpty
	}
	return e.env.Clone(), nil
}

func (s *MemoryStore) Requeue(_ context.Context, env *task.Envelope, delay time.Duration) (*task.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tasks[env.ID]
	if !ok {
		return nil, task.ErrNotFound
	}
	if _, queued := s.pending[env.ID]; queued {
		return nil, fmt.Errorf("task %s: %w: already pending", env.ID, task.ErrInvalidTransition)
	}

	next := env.Clone()
	reinsert, err := failEnvelope(next, delay, s.now())
	if err != nil {
		return nil, err
	}
	*stored = *next
	if reinsert {
		s.insert(stored)
	}
	return stored.Clone(), nil
}

func (s *MemoryStore) Cancel(_ context.Context, id string) (*task.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tasks[id]
	if !ok {
		return nil, task.ErrNotFound
	}
	e, queued := s.pending[id]
	if !queued {
		return stored.Clone(), task.ErrNotPending
	}

	q := s.channel(stored.Channel)
	if s.delayed[id] {
		q.delayed.remove(e)
		delete(s.delayed, id)
	} else {
		q.ready.remove(e)
	}
	delete(s.pending, id)

	if err := stored.Transition(task.StatusCanceled); err != nil {
		return nil, err
	}
	stored.CompletedAt = s.now()
	stored.LastError = task.ErrCanceled.Error()
	return stored.Clone(), nil
}

func (s *MemoryStore) Restore(_ context.Context, id string) (*task.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tasks[id]
	if !ok {
		return nil, task.ErrNotFound
	}
	if err := restoreEnvelope(stored); err != nil {
		return nil, err
	}
	s.seq++
	stored.Seq = s.seq
	s.insert(stored)
	return stored.Clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*task.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tasks[id]
	if !ok {
		return nil, task.ErrNotFound
	}
	return stored.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, env *task.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tasks[env.ID]
	if !ok {
		return task.ErrNotFound
	}
	if _, queued := s.pending[env.ID]; queued {
		return fmt.Errorf("task %s: %w: pending envelopes change through the queue", env.ID, task.ErrInvalidTransition)
	}
	*stored = *env.Clone()
	return nil
}

func (s *MemoryStore) Depth(_ context.Context, channel string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.channels[channel]
	if !ok {
		return 0, nil
	}
	return q.ready.Len() + q.delayed.Len(), nil
}

func (s *MemoryStore) Wake(channel string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wakeChan(channel)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
