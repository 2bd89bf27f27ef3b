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

package dispatcher

import (
	"context"
	"sync"
)

// slotGate 可调整上限的槽位信号量，每个槽位有固定编号
type slotGate struct {
	mu      sync.Mutex
	limit   int
	used    []bool
	busy    int
	changed chan struct{}
}

func newSlotGate(limit int) *slotGate {
	return &slotGate{limit: max(limit, 1), changed: make(chan struct{})}
}

// acquire 阻塞直到有空闲槽位，返回槽位编号
func (g *slotGate) acquire(ctx context.Context) (int, error) {
	for {
		g.mu.Lock()
		if g.busy < g.limit {
			idx := g.take()
			g.mu.Unlock()
			return idx, nil
		}
		ch := g.changed
		g.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return -1, ctx.Err()
		}
	}
}

func (g *slotGate) take() int {
	for i := range g.used {
		if !g.used[i] {
			g.used[i] = true
			g.busy++
			return i
		}
	}
	g.used = append(g.used, true)
	g.busy++
	return len(g.used) - 1
}

func (g *slotGate) release(idx int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if idx < 0 || idx >= len(g.used) || !g.used[idx] {
		return
	}
	g.used[idx] = false
	g.busy--
	g.broadcast()
}

// resize 缩容时已占用的槽位继续执行，释放后不再复用
func (g *slotGate) resize(limit int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limit = max(limit, 1)
	g.broadcast()
}

func (g *slotGate) broadcast() {
	close(g.changed)
	g.changed = make(chan struct{})
}

func (g *slotGate) snapshot() (limit, busy int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limit, g.busy
}
