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

package task

import (
	"fmt"
	"time"

	"github.com/go-arcade/dispatch/pkg/id"
	"github.com/go-arcade/dispatch/pkg/statemachine"
)

/**
 * @file: envelope.go
 * @description: 任务信封，一次工作单元在分发生命周期中的记录
 */

type Kind string

const (
	KindCode    Kind = "code"
	KindQuality Kind = "quality"
	KindMemory  Kind = "memory"
	KindGeneric Kind = "generic"
)

// BuiltinKinds 内置的 worker 类型
var BuiltinKinds = []Kind{KindCode, KindQuality, KindMemory, KindGeneric}

func (k Kind) String() string { return string(k) }

type Status = statemachine.TaskStatus

const (
	StatusPending    = statemachine.TaskPending
	StatusInProgress = statemachine.TaskInProgress
	StatusSucceeded  = statemachine.TaskSucceeded
	StatusFailed     = statemachine.TaskFailed
	StatusAbandoned  = statemachine.TaskAbandoned
	StatusCanceled   = statemachine.TaskCanceled
)

const (
	MinPriority        = -1000
	MaxPriority        = 1000
	DefaultMaxAttempts = 3
)

type Envelope struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"kind"`
	Channel     string         `json:"channel"`
	Payload     map[string]any `json:"payload,omitempty"`
	Priority    int            `json:"priority"`
	Seq         int64          `json:"seq"`
	Attempt     int            `json:"attempt"`
	MaxAttempts int            `json:"max_attempts"`
	Status      Status         `json:"status"`
	LastError   string         `json:"last_error,omitempty"`

	NotBefore   time.Time `json:"not_before"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	PipelineID string `json:"pipeline_id,omitempty"`
	StageIndex int    `json:"stage_index,omitempty"`
	Stage      string `json:"stage,omitempty"`
}

type Option func(*Envelope)

func WithPriority(p int) Option {
	return func(e *Envelope) { e.Priority = ClampPriority(p) }
}

func WithMaxAttempts(n int) Option {
	return func(e *Envelope) {
		if n > 0 {
			e.MaxAttempts = n
		}
	}
}

// WithChannel 覆盖默认的 channel（默认与 kind 同名）
func WithChannel(ch string) Option {
	return func(e *Envelope) {
		if ch != "" {
			e.Channel = ch
		}
	}
}

// WithPipeline 标记信封所属的流水线阶段
func WithPipeline(pipelineID string, stageIndex int, stage string) Option {
	return func(e *Envelope) {
		e.PipelineID = pipelineID
		e.StageIndex = stageIndex
		e.Stage = stage
	}
}

// New 创建 pending 状态的信封，payload 会被深拷贝
func New(kind Kind, payload map[string]any, opts ...Option) *Envelope {
	e := &Envelope{
		ID:          id.TaskID(),
		Kind:        kind,
		Channel:     string(kind),
		Payload:     CopyPayload(payload),
		MaxAttempts: DefaultMaxAttempts,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func ClampPriority(p int) int {
	return min(max(p, MinPriority), MaxPriority)
}

// Transition 按状态表推进，非法转移返回 ErrInvalidTransition
func (e *Envelope) Transition(to Status) error {
	if err := e.Status.ValidateTransition(to); err != nil {
		return fmt.Errorf("task %s: %w: %s -> %s", e.ID, ErrInvalidTransition, e.Status, to)
	}
	e.Status = to
	return nil
}

// Ready 是否已到可分发时间
func (e *Envelope) Ready(now time.Time) bool {
	return e.NotBefore.IsZero() || !now.Before(e.NotBefore)
}

// Exhausted 已用完全部执行次数
func (e *Envelope) Exhausted() bool {
	return e.Attempt >= e.MaxAttempts
}

// Clone 深拷贝，worker 只操作副本
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	c := *e
	c.Payload = CopyPayload(e.Payload)
	return &c
}

// Less 出队顺序：优先级高者在前，同优先级按提交顺序
func Less(a, b *Envelope) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Seq < b.Seq
}

// CopyPayload 递归拷贝 map / slice，标量按值共享
func CopyPayload(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = copyValue(v)
	}
	return dst
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CopyPayload(val)
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = copyValue(val[i])
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return val
	}
}
