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
	"container/heap"

	"github.com/go-arcade/dispatch/internal/pkg/task"
)

type entry struct {
	env   *task.Envelope
	index int
}

// envHeap 可按下标删除的堆
type envHeap struct {
	items []*entry
	less  func(a, b *task.Envelope) bool
}

func newReadyHeap() *envHeap {
	return &envHeap{less: task.Less}
}

func newDelayedHeap() *envHeap {
	return &envHeap{less: func(a, b *task.Envelope) bool {
		if a.NotBefore.Equal(b.NotBefore) {
			return task.Less(a, b)
		}
		return a.NotBefore.Before(b.NotBefore)
	}}
}

func (h *envHeap) Len() int           { return len(h.items) }
func (h *envHeap) Less(i, j int) bool { return h.less(h.items[i].env, h.items[j].env) }
func (h *envHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *envHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(h.items)
	h.items = append(h.items, e)
}

func (h *envHeap) Pop() any {
	old := h.items
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	h.items = old[:n-1]
	return e
}

func (h *envHeap) push(e *entry) { heap.Push(h, e) }

func (h *envHeap) pop() *entry {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*entry)
}

func (h *envHeap) peek() *entry {
	if h.Len() == 0 {
		return nil
	}
	return h.items[0]
}

func (h *envHeap) remove(e *entry) {
	if e.index < 0 || e.index >= h.Len() || h.items[e.index] != e {
		return
	}
	heap.Remove(h, e.index)
}
