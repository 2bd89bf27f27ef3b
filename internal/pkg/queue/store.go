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
	"time"

	"github.com/go-arcade/dispatch/internal/pkg/task"
)

/**
 * @file: store.go
 * @description: 按 channel 分区的任务队列存储
 */

// Store 队列存储
// 同一 channel 上并发 Dequeue 的调用方拿到的信封互不相同
type Store interface {
	// Enqueue 按 (priority desc, seq asc) 插入，分配 seq
	Enqueue(ctx context.Context, env *task.Envelope) error
	// Dequeue 取出最高优先级的可执行信封并标记 in_progress，attempt 加一；没有时返回 task.ErrEmpty
	Dequeue(ctx context.Context, channel string) (*task.Envelope, error)
	// Peek 只读查看下一个可执行信封
	Peek(ctx context.Context, channel string) (*task.Envelope, error)
	// Requeue 记录一次失败；次数用尽时置为 abandoned，否则延迟 delay 后重新入队
	Requeue(ctx context.Context, env *task.Envelope, delay time.Duration) (*task.Envelope, error)
	// Cancel 移除 pending 信封，其他状态返回 task.ErrNotPending
	Cancel(ctx context.Context, id string) (*task.Envelope, error)
	// Restore 运维操作：abandoned 信封重置 attempt 后重新入队
	Restore(ctx context.Context, id string) (*task.Envelope, error)
	Get(ctx context.Context, id string) (*task.Envelope, error)
	// Save 持久化执行中信封的状态变化（succeeded / canceled）
	Save(ctx context.Context, env *task.Envelope) error
	// Depth pending 数量（含延迟中的）
	Depth(ctx context.Context, channel string) (int, error)
	// Wake 有新信封入队时触发
	Wake(channel string) <-chan struct{}
	Close() error
}

// failEnvelope 失败后的状态推进，返回是否需要重新入队
func failEnvelope(env *task.Envelope, delay time.Duration, now time.Time) (bool, error) {
	if env.Status == task.StatusInProgress {
		if err := env.Transition(task.StatusFailed); err != nil {
			return false, err
		}
	}
	if env.Exhausted() {
		if err := env.Transition(task.StatusAbandoned); err != nil {
			return false, err
		}
		env.CompletedAt = now
		return false, nil
	}
	if err := env.Transition(task.StatusPending); err != nil {
		return false, err
	}
	env.StartedAt = time.Time{}
	if delay > 0 {
		env.NotBefore = now.Add(delay)
	} else {
		env.NotBefore = time.Time{}
	}
	return true, nil
}

// startEnvelope 出队时的状态推进
func startEnvelope(env *task.Envelope, now time.Time) error {
	if err := env.Transition(task.StatusInProgress); err != nil {
		return err
	}
	env.Attempt++
	env.StartedAt = now
	env.NotBefore = time.Time{}
	return nil
}

func restoreEnvelope(env *task.Envelope) error {
	if env.Status != task.StatusAbandoned {
		return task.ErrNotAbandoned
	}
	if err := env.Transition(task.StatusPending); err != nil {
		return err
	}
	env.Attempt = 0
	env.NotBefore = time.Time{}
	env.StartedAt = time.Time{}
	env.CompletedAt = time.Time{}
	return nil
}

func validateEnqueue(env *task.Envelope) error {
	if env == nil || env.Kind == "" {
		return task.ErrInvalidKind
	}
	if env.Status != task.StatusPending {
		return task.ErrNotPending
	}
	if env.Channel == "" {
		env.Channel = string(env.Kind)
	}
	if env.MaxAttempts <= 0 {
		env.MaxAttempts = task.DefaultMaxAttempts
	}
	env.Priority = task.ClampPriority(env.Priority)
	return nil
}

// notify 非阻塞唤醒
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
