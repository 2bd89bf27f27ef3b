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
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-arcade/dispatch/internal/pkg/task"
	"github.com/go-arcade/dispatch/pkg/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func result(id string, attempt int, status task.Status) *task.Result {
	r := &task.Result{TaskID: id, Kind: task.KindCode, Attempt: attempt, Status: status}
	if status == task.StatusSucceeded {
		r.Output = map[string]any{"attempt": attempt}
	} else {
		r.Error = "boom"
	}
	return r
}

// runRecordStoreTests 两种存储实现共用
func runRecordStoreTests(t *testing.T, newStore func(t *testing.T) RecordStore) {
	ctx := context.Background()

	t.Run("write once per attempt", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Append(ctx, result("a", 1, task.StatusFailed)))
		assert.ErrorIs(t, s.Append(ctx, result("a", 1, task.StatusSucceeded)), task.ErrAlreadyRecorded)
		require.NoError(t, s.Append(ctx, result("a", 2, task.StatusSucceeded)))

		history, err := s.History(ctx, "a")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, task.StatusFailed, history[0].Status)
		assert.Equal(t, task.StatusSucceeded, history[1].Status)
	})

	t.Run("terminal flag", func(t *testing.T) {
		s := newStore(t)
		terminal, err := s.IsTerminal(ctx, "b")
		require.NoError(t, err)
		assert.False(t, terminal)

		require.NoError(t, s.MarkTerminal(ctx, "b"))
		terminal, err = s.IsTerminal(ctx, "b")
		require.NoError(t, err)
		assert.True(t, terminal)
	})

	t.Run("reopen keeps history", func(t *testing.T) {
		s := newStore(t)
		for i := 1; i <= 3; i++ {
			require.NoError(t, s.Append(ctx, result("c", i, task.StatusFailed)))
		}
		require.NoError(t, s.MarkTerminal(ctx, "c"))
		_, err := s.History(ctx, "c")
		require.NoError(t, err)

		require.NoError(t, s.Reopen(ctx, "c"))
		terminal, err := s.IsTerminal(ctx, "c")
		require.NoError(t, err)
		assert.False(t, terminal)

		current, err := s.Current(ctx, "c")
		require.NoError(t, err)
		assert.Empty(t, current)

		// 恢复后 attempt 重新从 1 开始
		require.NoError(t, s.Append(ctx, result("c", 1, task.StatusSucceeded)))
		history, err := s.History(ctx, "c")
		require.NoError(t, err)
		assert.Len(t, history, 4)
	})

	t.Run("reinstate undoes reopen", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Append(ctx, result("e", 1, task.StatusFailed)))
		require.NoError(t, s.MarkTerminal(ctx, "e"))
		require.NoError(t, s.Reopen(ctx, "e"))
		require.NoError(t, s.Append(ctx, result("e", 1, task.StatusFailed)))
		require.NoError(t, s.Append(ctx, result("e", 2, task.StatusFailed)))
		require.NoError(t, s.MarkTerminal(ctx, "e"))

		require.NoError(t, s.Reopen(ctx, "e"))
		require.NoError(t, s.Reinstate(ctx, "e"))

		terminal, err := s.IsTerminal(ctx, "e")
		require.NoError(t, err)
		assert.True(t, terminal)
		current, err := s.Current(ctx, "e")
		require.NoError(t, err)
		require.Len(t, current, 2)
		assert.Equal(t, 2, current[1].Attempt)
		history, err := s.History(ctx, "e")
		require.NoError(t, err)
		assert.Len(t, history, 3)

		// 没有待撤销的 Reopen
		require.NoError(t, s.Reinstate(ctx, "e"))
		history, err = s.History(ctx, "e")
		require.NoError(t, err)
		assert.Len(t, history, 3)
	})

	t.Run("reinstate after new round is a no-op", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Append(ctx, result("f", 1, task.StatusFailed)))
		require.NoError(t, s.MarkTerminal(ctx, "f"))
		require.NoError(t, s.Reopen(ctx, "f"))
		require.NoError(t, s.Append(ctx, result("f", 1, task.StatusSucceeded)))

		require.NoError(t, s.Reinstate(ctx, "f"))
		current, err := s.Current(ctx, "f")
		require.NoError(t, err)
		require.Len(t, current, 1)
		assert.Equal(t, task.StatusSucceeded, current[0].Status)
	})

	t.Run("records are copies", func(t *testing.T) {
		s := newStore(t)
		r := result("d", 1, task.StatusSucceeded)
		require.NoError(t, s.Append(ctx, r))
		r.Output["attempt"] = 99

		history, err := s.History(ctx, "d")
		require.NoError(t, err)
		history[0].Output["attempt"] = 42

		again, err := s.History(ctx, "d")
		require.NoError(t, err)
		assert.EqualValues(t, 1, again[0].Output["attempt"])
	})
}

func TestMemoryRecords(t *testing.T) {
	runRecordStoreTests(t, func(t *testing.T) RecordStore { return NewMemoryRecords() })
}

func TestTracker_Get(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryRecords())

	_, err := tr.Get(ctx, "x")
	assert.ErrorIs(t, err, task.ErrNotFound)

	require.NoError(t, tr.Record(ctx, result("x", 1, task.StatusFailed)))
	_, err = tr.Get(ctx, "x")
	assert.ErrorIs(t, err, task.ErrNotReady)

	// 重试中的失败记录仍可在历史中查看
	history, err := tr.History(ctx, "x")
	require.NoError(t, err)
	assert.Len(t, history, 1)

	require.NoError(t, tr.Record(ctx, result("x", 2, task.StatusSucceeded)))
	r, err := tr.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 2, r.Attempt)
	assert.False(t, r.FinishedAt.IsZero())
}

func TestTracker_Abandoned(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryRecords())

	for i := 1; i <= 3; i++ {
		require.NoError(t, tr.Record(ctx, result("y", i, task.StatusFailed)))
	}
	_, err := tr.Get(ctx, "y")
	assert.ErrorIs(t, err, task.ErrNotReady)

	require.NoError(t, tr.MarkTerminal(ctx, "y"))
	r, err := tr.Get(ctx, "y")
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, r.Status)
	assert.Equal(t, 3, r.Attempt)
}

func TestTracker_CanceledBeforeRun(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryRecords())
	require.NoError(t, tr.MarkTerminal(ctx, "z"))

	_, err := tr.Get(ctx, "z")
	assert.ErrorIs(t, err, task.ErrCanceled)

	_, err = tr.WaitFor(ctx, "z", time.Second)
	assert.ErrorIs(t, err, task.ErrCanceled)
}

func TestTracker_ResultImmutable(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryRecords())
	r := result("im", 1, task.StatusSucceeded)
	require.NoError(t, tr.Record(ctx, r))

	assert.ErrorIs(t, tr.Record(ctx, result("im", 1, task.StatusFailed)), task.ErrAlreadyRecorded)
	got, err := tr.Get(ctx, "im")
	require.NoError(t, err)
	assert.Equal(t, task.StatusSucceeded, got.Status)
}

// Scenario: 等待 1s，任务 2s 后完成
func TestTracker_WaitTimeoutThenResult(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryRecords())

	go func() {
		time.Sleep(2 * time.Second)
		_ = tr.Record(ctx, result("slow", 1, task.StatusSucceeded))
	}()

	start := time.Now()
	_, err := tr.WaitFor(ctx, "slow", time.Second)
	assert.ErrorIs(t, err, task.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	assert.Equal(t, 0, tr.Waiting())

	r, err := tr.WaitFor(ctx, "slow", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, task.StatusSucceeded, r.Status)
}

func TestTracker_WaitWokenByTerminal(t *testing.T) {
	ctx := context.Background()
	// 轮询间隔足够长，保证是通知唤醒
	tr := NewTracker(NewMemoryRecords(), WithPollInterval(time.Hour))
	require.NoError(t, tr.Record(ctx, result("w", 1, task.StatusFailed)))

	var wg sync.WaitGroup
	results := make([]*task.Result, 3)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := tr.WaitFor(ctx, "w", 5*time.Second)
			assert.NoError(t, err)
			results[i] = r
		}()
	}

	require.Eventually(t, func() bool { return tr.Waiting() == 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, tr.MarkTerminal(ctx, "w"))
	wg.Wait()
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, 1, r.Attempt)
	}
}

func TestTracker_WaitContextCanceled(t *testing.T) {
	tr := NewTracker(NewMemoryRecords())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.WaitFor(ctx, "never", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeArchive struct {
	mu      sync.Mutex
	records []*task.Result
	err     error
}

func (f *fakeArchive) Archive(_ context.Context, r *task.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, r)
	return f.err
}

func (f *fakeArchive) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func TestTracker_ArchiveAndEvents(t *testing.T) {
	ctx := context.Background()
	archive := &fakeArchive{err: errors.New("db down")}
	bus := event.NewEventBus()

	var recorded, terminal atomic.Int32
	bus.RegisterHandler(EventResultRecorded, event.HandlerFunc(func(event.Event) { recorded.Add(1) }))
	bus.RegisterHandler(EventTaskTerminal, event.HandlerFunc(func(event.Event) { terminal.Add(1) }))

	tr := NewTracker(NewMemoryRecords(), WithArchive(archive), WithEventBus(bus))
	require.NoError(t, tr.Record(ctx, result("ar", 1, task.StatusFailed)))
	require.NoError(t, tr.Record(ctx, result("ar", 2, task.StatusSucceeded)))

	// 归档失败不影响记录
	assert.Eventually(t, func() bool { return archive.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), recorded.Load())
	assert.Equal(t, int32(1), terminal.Load())
}

func TestTracker_Reopen(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryRecords())
	require.NoError(t, tr.Record(ctx, result("r", 1, task.StatusFailed)))
	require.NoError(t, tr.MarkTerminal(ctx, "r"))

	require.NoError(t, tr.Reopen(ctx, "r"))
	_, err := tr.Get(ctx, "r")
	assert.ErrorIs(t, err, task.ErrNotReady)

	require.NoError(t, tr.Record(ctx, result("r", 1, task.StatusSucceeded)))
	r, err := tr.Get(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, task.StatusSucceeded, r.Status)

	latest, err := tr.Latest(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, task.StatusSucceeded, latest.Status)
}

func TestTracker_Reinstate(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryRecords())
	require.NoError(t, tr.Record(ctx, result("ri", 1, task.StatusFailed)))
	require.NoError(t, tr.MarkTerminal(ctx, "ri"))

	require.NoError(t, tr.Reopen(ctx, "ri"))
	require.NoError(t, tr.Reinstate(ctx, "ri"))
	r, err := tr.Get(ctx, "ri")
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, r.Status)
	assert.Equal(t, 1, r.Attempt)
}
