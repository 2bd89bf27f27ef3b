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

package worker

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/go-arcade/dispatch/internal/pkg/task"
)

const DefaultTimeout = 5 * time.Minute

// Binding 类型对应的 worker 与执行参数
type Binding struct {
	Worker      Worker
	Timeout     time.Duration
	MaxAttempts int
	Channel     string
}

type RegisterOption func(*Binding)

func WithTimeout(d time.Duration) RegisterOption {
	return func(b *Binding) {
		if d > 0 {
			b.Timeout = d
		}
	}
}

func WithMaxAttempts(n int) RegisterOption {
	return func(b *Binding) {
		if n > 0 {
			b.MaxAttempts = n
		}
	}
}

// WithChannel 把类型路由到指定 channel
func WithChannel(ch string) RegisterOption {
	return func(b *Binding) {
		if ch != "" {
			b.Channel = ch
		}
	}
}

// Registry kind → worker
type Registry struct {
	mu       sync.RWMutex
	bindings map[task.Kind]*Binding
}

func NewRegistry() *Registry {
	return &Registry{bindings: make(map[task.Kind]*Binding)}
}

// Register 重复注册会覆盖之前的 worker
func (r *Registry) Register(w Worker, opts ...RegisterOption) {
	b := &Binding{
		Worker:      w,
		Timeout:     DefaultTimeout,
		MaxAttempts: task.DefaultMaxAttempts,
		Channel:     string(w.Kind()),
	}
	for _, opt := range opts {
		opt(b)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[w.Kind()] = b
}

// Lookup 未注册时返回 task.ErrInvalidKind
func (r *Registry) Lookup(kind task.Kind) (Binding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bindings[kind]
	if !ok {
		return Binding{}, fmt.Errorf("%w: %q", task.ErrInvalidKind, kind)
	}
	return *b, nil
}

func (r *Registry) Has(kind task.Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bindings[kind]
	return ok
}

// Kinds 已注册的类型，按名称排序
func (r *Registry) Kinds() []task.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]task.Kind, 0, len(r.bindings))
	for k := range r.bindings {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Channels 已注册类型用到的 channel，去重后排序
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channels := make([]string, 0, len(r.bindings))
	for _, b := range r.bindings {
		if !slices.Contains(channels, b.Channel) {
			channels = append(channels, b.Channel)
		}
	}
	slices.Sort(channels)
	return channels
}
