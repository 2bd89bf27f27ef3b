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
	"sync"

	"github.com/go-arcade/dispatch/internal/pkg/task"
)

/**
 * @file: records.go
 * @description: 执行结果存储，每个 (task_id, attempt) 只写一次
 */

// RecordStore 结果记录的持久化
type RecordStore interface {
	// Append 同一轮次内重复的 attempt 返回 ErrAlreadyRecorded
	Append(ctx context.Context, r *task.Result) error
	// History 按 attempt 顺序返回全部记录，包括 Reopen 之前的轮次
	History(ctx context.Context, taskID string) ([]*task.Result, error)
	// Current 仅返回当前轮次的记录
	Current(ctx context.Context, taskID string) ([]*task.Result, error)
	MarkTerminal(ctx context.Context, taskID string) error
	IsTerminal(ctx context.Context, taskID string) (bool, error)
	// Reopen 清除终态并把当前轮次归档，用于人工恢复已放弃的任务
	Reopen(ctx context.Context, taskID string) error
	// Reinstate 撤销最近一次 Reopen；新一轮已经写入记录时不做任何事
	Reinstate(ctx context.Context, taskID string) error
}

type memoryEntry struct {
	prior    []*task.Result
	current  []*task.Result
	terminal bool
	// 最近一次 Reopen 归档的条数
	reopened int
}

type MemoryRecords struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{entries: make(map[string]*memoryEntry)}
}

func (m *MemoryRecords) Append(_ context.Context, r *task.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[r.TaskID]
	if !ok {
		e = &memoryEntry{}
		m.entries[r.TaskID] = e
	}
	for _, existing := range e.current {
		if existing.Attempt == r.Attempt {
			return task.ErrAlreadyRecorded
		}
	}
	e.current = append(e.current, r.Clone())
	return nil
}

func (m *MemoryRecords) History(_ context.Context, taskID string) ([]*task.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[taskID]
	if !ok {
		return nil, nil
	}
	out := make([]*task.Result, 0, len(e.prior)+len(e.current))
	for _, r := range e.prior {
		out = append(out, r.Clone())
	}
	for _, r := range e.current {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (m *MemoryRecords) Current(_ context.Context, taskID string) ([]*task.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[taskID]
	if !ok {
		return nil, nil
	}
	out := make([]*task.Result, 0, len(e.current))
	for _, r := range e.current {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (m *MemoryRecords) MarkTerminal(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[taskID]
	if !ok {
		e = &memoryEntry{}
		m.entries[taskID] = e
	}
	e.terminal = true
	return nil
}

func (m *MemoryRecords) IsTerminal(_ context.Context, taskID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[taskID]
	return ok && e.terminal, nil
}

func (m *MemoryRecords) Reopen(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[taskID]
	if !ok {
		return nil
	}
	e.reopened = len(e.current)
	e.prior = append(e.prior, e.current...)
	e.current = nil
	e.terminal = false
	return nil
}

func (m *MemoryRecords) Reinstate(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[taskID]
	if !ok || len(e.current) > 0 {
		return nil
	}
	cut := len(e.prior) - e.reopened
	e.current = append(e.current, e.prior[cut:]...)
	e.prior = e.prior[:cut:cut]
	e.reopened = 0
	e.terminal = true
	return nil
}
