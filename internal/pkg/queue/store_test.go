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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-arcade/dispatch/internal/pkg/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreTests 两种存储实现共用的行为测试
func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("priority before fifo", func(t *testing.T) {
		s := newStore(t)
		low := task.New(task.KindCode, nil, task.WithPriority(1))
		high := task.New(task.KindCode, nil, task.WithPriority(5))
		require.NoError(t, s.Enqueue(ctx, low))
		require.NoError(t, s.Enqueue(ctx, high))

		first, err := s.Dequeue(ctx, "code")
		require.NoError(t, err)
		assert.Equal(t, high.ID, first.ID)

		second, err := s.Dequeue(ctx, "code")
		require.NoError(t, err)
		assert.Equal(t, low.ID, second.ID)

		_, err = s.Dequeue(ctx, "code")
		assert.ErrorIs(t, err, task.ErrEmpty)
	})

	t.Run("fifo among equal priority", func(t *testing.T) {
		s := newStore(t)
		var ids []string
		for range 5 {
			e := task.New(task.KindQuality, nil, task.WithPriority(2))
			require.NoError(t, s.Enqueue(ctx, e))
			ids = append(ids, e.ID)
		}
		for _, want := range ids {
			got, err := s.Dequeue(ctx, "quality")
			require.NoError(t, err)
			assert.Equal(t, want, got.ID)
		}
	})

	t.Run("dequeue marks in progress", func(t *testing.T) {
		s := newStore(t)
		e := task.New(task.KindMemory, nil)
		require.NoError(t, s.Enqueue(ctx, e))

		got, err := s.Dequeue(ctx, "memory")
		require.NoError(t, err)
		assert.Equal(t, task.StatusInProgress, got.Status)
		assert.Equal(t, 1, got.Attempt)
		assert.False(t, got.StartedAt.IsZero())

		stored, err := s.Get(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusInProgress, stored.Status)
	})

	t.Run("peek has no side effects", func(t *testing.T) {
		s := newStore(t)
		e := task.New(task.KindCode, nil)
		require.NoError(t, s.Enqueue(ctx, e))

		p, err := s.Peek(ctx, "code")
		require.NoError(t, err)
		assert.Equal(t, e.ID, p.ID)
		assert.Equal(t, task.StatusPending, p.Status)

		depth, err := s.Depth(ctx, "code")
		require.NoError(t, err)
		assert.Equal(t, 1, depth)
	})

	t.Run("invalid kind rejected", func(t *testing.T) {
		s := newStore(t)
		err := s.Enqueue(ctx, &task.Envelope{ID: "x", Status: task.StatusPending})
		assert.ErrorIs(t, err, task.ErrInvalidKind)
	})

	t.Run("requeue until abandoned", func(t *testing.T) {
		s := newStore(t)
		e := task.New(task.KindCode, nil, task.WithMaxAttempts(3))
		require.NoError(t, s.Enqueue(ctx, e))

		for attempt := 1; attempt <= 3; attempt++ {
			got, err := s.Dequeue(ctx, "code")
			require.NoError(t, err)
			assert.Equal(t, attempt, got.Attempt)

			got.LastError = "boom"
			next, err := s.Requeue(ctx, got, 0)
			require.NoError(t, err)
			if attempt < 3 {
				assert.Equal(t, task.StatusPending, next.Status)
			} else {
				assert.Equal(t, task.StatusAbandoned, next.Status)
			}
		}

		_, err := s.Dequeue(ctx, "code")
		assert.ErrorIs(t, err, task.ErrEmpty)

		stored, err := s.Get(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusAbandoned, stored.Status)
		assert.Equal(t, 3, stored.Attempt)
		assert.Equal(t, "boom", stored.LastError)
	})

	t.Run("requeue with delay", func(t *testing.T) {
		s := newStore(t)
		e := task.New(task.KindCode, nil)
		require.NoError(t, s.Enqueue(ctx, e))
		got, err := s.Dequeue(ctx, "code")
		require.NoError(t, err)

		_, err = s.Requeue(ctx, got, 150*time.Millisecond)
		require.NoError(t, err)

		_, err = s.Dequeue(ctx, "code")
		assert.ErrorIs(t, err, task.ErrEmpty)
		depth, err := s.Depth(ctx, "code")
		require.NoError(t, err)
		assert.Equal(t, 1, depth)

		assert.Eventually(t, func() bool {
			got, err := s.Dequeue(ctx, "code")
			return err == nil && got.ID == e.ID && got.Attempt == 2
		}, 2*time.Second, 20*time.Millisecond)
	})

	t.Run("cancel pending", func(t *testing.T) {
		s := newStore(t)
		e := task.New(task.KindCode, nil)
		require.NoError(t, s.Enqueue(ctx, e))

		canceled, err := s.Cancel(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusCanceled, canceled.Status)

		_, err = s.Dequeue(ctx, "code")
		assert.ErrorIs(t, err, task.ErrEmpty)

		_, err = s.Cancel(ctx, e.ID)
		assert.ErrorIs(t, err, task.ErrNotPending)

		_, err = s.Cancel(ctx, "missing")
		assert.ErrorIs(t, err, task.ErrNotFound)
	})

	t.Run("cancel in progress is rejected", func(t *testing.T) {
		s := newStore(t)
		e := task.New(task.KindCode, nil)
		require.NoError(t, s.Enqueue(ctx, e))
		_, err := s.Dequeue(ctx, "code")
		require.NoError(t, err)

		_, err = s.Cancel(ctx, e.ID)
		assert.ErrorIs(t, err, task.ErrNotPending)
	})

	t.Run("restore abandoned", func(t *testing.T) {
		s := newStore(t)
		e := task.New(task.KindCode, nil, task.WithMaxAttempts(1))
		require.NoError(t, s.Enqueue(ctx, e))

		_, err := s.Restore(ctx, e.ID)
		assert.ErrorIs(t, err, task.ErrNotAbandoned)

		got, err := s.Dequeue(ctx, "code")
		require.NoError(t, err)
		_, err = s.Requeue(ctx, got, 0)
		require.NoError(t, err)

		restored, err := s.Restore(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusPending, restored.Status)
		assert.Equal(t, 0, restored.Attempt)

		again, err := s.Dequeue(ctx, "code")
		require.NoError(t, err)
		assert.Equal(t, 1, again.Attempt)
	})

	t.Run("save succeeded", func(t *testing.T) {
		s := newStore(t)
		e := task.New(task.KindCode, nil)
		require.NoError(t, s.Enqueue(ctx, e))
		got, err := s.Dequeue(ctx, "code")
		require.NoError(t, err)

		require.NoError(t, got.Transition(task.StatusSucceeded))
		got.CompletedAt = time.Now()
		require.NoError(t, s.Save(ctx, got))

		stored, err := s.Get(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusSucceeded, stored.Status)
	})

	t.Run("wake fires on enqueue", func(t *testing.T) {
		s := newStore(t)
		wake := s.Wake("generic")
		// 丢弃订阅建立前的残留信号
		select {
		case <-wake:
		default:
		}
		require.NoError(t, s.Enqueue(ctx, task.New(task.KindGeneric, nil)))

		select {
		case <-wake:
		case <-time.After(time.Second):
			t.Fatal("wake signal not received")
		}
	})

	t.Run("concurrent dequeue of single envelope", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Enqueue(ctx, task.New(task.KindCode, nil)))

		var wg sync.WaitGroup
		var mu sync.Mutex
		var got, empty int
		for range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Dequeue(ctx, "code")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					got++
				case errors.Is(err, task.ErrEmpty):
					empty++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, got)
		assert.Equal(t, 1, empty)
	})

	t.Run("every envelope dequeued exactly once", func(t *testing.T) {
		s := newStore(t)
		const n = 200
		for i := range n {
			require.NoError(t, s.Enqueue(ctx, task.New(task.KindCode, nil, task.WithPriority(i%7))))
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		seen := make(map[string]int)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					e, err := s.Dequeue(ctx, "code")
					if err != nil {
						return
					}
					mu.Lock()
					seen[e.ID]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, seen, n)
		for id, c := range seen {
			assert.Equal(t, 1, c, "task %s dequeued %d times", id, c)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		s := NewMemoryStore()
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestMemoryStore_ChannelsAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Enqueue(ctx, task.New(task.KindCode, nil)))

	_, err := s.Dequeue(ctx, "quality")
	assert.ErrorIs(t, err, task.ErrEmpty)

	depth, err := s.Depth(ctx, "quality")
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestMemoryStore_DelayedUsesClock(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	e := task.New(task.KindCode, nil)
	require.NoError(t, s.Enqueue(ctx, e))
	got, err := s.Dequeue(ctx, "code")
	require.NoError(t, err)
	_, err = s.Requeue(ctx, got, time.Minute)
	require.NoError(t, err)

	_, err = s.Peek(ctx, "code")
	assert.ErrorIs(t, err, task.ErrEmpty)

	now = now.Add(time.Minute)
	p, err := s.Peek(ctx, "code")
	require.NoError(t, err)
	assert.Equal(t, e.ID, p.ID)
}

func TestMemoryStore_CancelDelayed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	e := task.New(task.KindCode, nil)
	require.NoError(t, s.Enqueue(ctx, e))
	got, err := s.Dequeue(ctx, "code")
	require.NoError(t, err)
	_, err = s.Requeue(ctx, got, time.Hour)
	require.NoError(t, err)

	_, err = s.Cancel(ctx, e.ID)
	require.NoError(t, err)
	depth, err := s.Depth(ctx, "code")
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())
	err := s.Enqueue(context.Background(), task.New(task.KindCode, nil))
	assert.ErrorIs(t, err, task.ErrStorageUnavailable)
}
