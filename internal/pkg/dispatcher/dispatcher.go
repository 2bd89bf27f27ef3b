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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-arcade/dispatch/internal/pkg/queue"
	"github.com/go-arcade/dispatch/internal/pkg/task"
	"github.com/go-arcade/dispatch/internal/pkg/tracker"
	"github.com/go-arcade/dispatch/internal/pkg/worker"
	"github.com/go-arcade/dispatch/pkg/log"
	"github.com/go-arcade/dispatch/pkg/metrics"
	"github.com/go-arcade/dispatch/pkg/retry"
	"github.com/go-arcade/dispatch/pkg/safe"
)

/**
 * @file: dispatcher.go
 * @description: 每个 channel 一个分发循环，按槽位上限把信封交给 worker 执行
 */

const (
	// 执行结束后写存储的超时，不受强制停止影响
	storeTimeout = 10 * time.Second
	// 找不到执行中任务的取消请求保留时长
	cancelRequestTTL = time.Minute
)

type Option func(*Dispatcher)

func WithMetrics(m *metrics.DispatchMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithStats(s *worker.StatsCollector) Option {
	return func(d *Dispatcher) { d.stats = s }
}

func WithPolicy(p retry.Policy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

func WithPollInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.poll = interval
		}
	}
}

// WithConcurrency 覆盖单个 channel 的槽位数
func WithConcurrency(channel string, n int) Option {
	return func(d *Dispatcher) { d.limits[channel] = n }
}

type channelLoop struct {
	name string
	gate *slotGate
}

type Dispatcher struct {
	store    queue.Store
	registry *worker.Registry
	tracker  *tracker.Tracker
	stats    *worker.StatsCollector
	metrics  *metrics.DispatchMetrics
	policy   retry.Policy
	poll     time.Duration
	limits   map[string]int

	mu        sync.Mutex
	started   bool
	stopping  bool
	channels  map[string]*channelLoop
	inflight  map[string]*worker.CancelFlag
	requested map[string]time.Time

	// loopCtx 停止出队，runCtx 取消执行中的任务
	loopCtx    context.Context
	loopCancel context.CancelFunc
	runCtx     context.Context
	runCancel  context.CancelFunc
	loops      sync.WaitGroup
	slots      sync.WaitGroup
}

func New(store queue.Store, registry *worker.Registry, tr *tracker.Tracker, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		registry:  registry,
		tracker:   tr,
		stats:     worker.NewStatsCollector(),
		policy:    retry.DefaultPolicy(),
		poll:      500 * time.Millisecond,
		limits:    make(map[string]int),
		channels:  make(map[string]*channelLoop),
		inflight:  make(map[string]*worker.CancelFlag),
		requested: make(map[string]time.Time),
	}
	for ch, n := range DefaultConcurrency {
		d.limits[ch] = n
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start 为注册表中的每个 channel 启动分发循环
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return errors.New("dispatcher already started")
	}
	d.started = true
	d.loopCtx, d.loopCancel = context.WithCancel(context.WithoutCancel(ctx))
	d.runCtx, d.runCancel = context.WithCancel(context.WithoutCancel(ctx))

	for _, name := range d.registry.Channels() {
		limit := d.limits[name]
		if limit <= 0 {
			limit = 1
		}
		ch := &channelLoop{name: name, gate: newSlotGate(limit)}
		d.channels[name] = ch

		d.loops.Add(1)
		safe.Go(func() {
			defer d.loops.Done()
			d.runChannel(ch)
		})
		log.Infow("dispatch loop started", "channel", name, "slots", limit)
	}
	return nil
}

// Stopping 优雅停止开始后返回 true
func (d *Dispatcher) Stopping() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopping
}

// Stop 停止出队并等待执行中的任务结束；ctx 到期后转为强制停止
func (d *Dispatcher) Stop(ctx context.Context) error {
	if !d.beginStop() {
		return nil
	}
	d.loops.Wait()

	done := make(chan struct{})
	go func() {
		d.slots.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.runCancel()
		log.Info("dispatcher drained")
		return nil
	case <-ctx.Done():
		log.Warn("drain deadline reached, canceling in-flight tasks")
		d.runCancel()
		<-done
		return ctx.Err()
	}
}

// ForceStop 取消所有执行中的任务并等待槽位退出，被中断的任务走正常的失败流程
func (d *Dispatcher) ForceStop() {
	d.beginStop()
	d.mu.Lock()
	cancel := d.runCancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.loops.Wait()
	d.slots.Wait()
}

func (d *Dispatcher) beginStop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started || d.stopping {
		d.stopping = true
		return false
	}
	d.stopping = true
	d.loopCancel()
	return true
}

// Resize 调整 channel 的槽位数，运行中生效
func (d *Dispatcher) Resize(channel string, n int) error {
	if n <= 0 {
		return fmt.Errorf("concurrency for %s must be positive, got %d", channel, n)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.limits[channel] = n
	ch, ok := d.channels[channel]
	if !ok {
		if d.started {
			return fmt.Errorf("channel %s has no dispatch loop", channel)
		}
		return nil
	}
	ch.gate.resize(n)
	log.Infow("channel resized", "channel", channel, "slots", n)
	return nil
}

// SlotStats channel -> (上限, 占用)
func (d *Dispatcher) SlotStats() map[string][2]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string][2]int, len(d.channels))
	for name, ch := range d.channels {
		limit, busy := ch.gate.snapshot()
		out[name] = [2]int{limit, busy}
	}
	return out
}

func (d *Dispatcher) Stats() map[task.Kind]worker.Stats {
	return d.stats.Snapshot()
}

// Cancel 给执行中的任务设置取消标记；任务还没开始执行时记下请求，开始时立即取消
func (d *Dispatcher) Cancel(taskID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if flag, ok := d.inflight[taskID]; ok {
		flag.Cancel()
		return true
	}
	now := time.Now()
	for id, at := range d.requested {
		if now.Sub(at) > cancelRequestTTL {
			delete(d.requested, id)
		}
	}
	d.requested[taskID] = now
	return false
}

func (d *Dispatcher) track(taskID string, flag *worker.CancelFlag) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inflight[taskID] = flag
	if _, ok := d.requested[taskID]; ok {
		delete(d.requested, taskID)
		flag.Cancel()
	}
}

func (d *Dispatcher) untrack(taskID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, taskID)
}

func (d *Dispatcher) runChannel(ch *channelLoop) {
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()
	wake := d.store.Wake(ch.name)

	for {
		idx, err := ch.gate.acquire(d.loopCtx)
		if err != nil {
			return
		}
		if d.loopCtx.Err() != nil {
			ch.gate.release(idx)
			return
		}

		env, err := d.store.Dequeue(d.loopCtx, ch.name)
		if err != nil {
			ch.gate.release(idx)
			if !errors.Is(err, task.ErrEmpty) && d.loopCtx.Err() == nil {
				log.Warnw("dequeue failed", "channel", ch.name, "error", err)
			}
			select {
			case <-wake:
			case <-ticker.C:
				d.reportDepth(ch.name)
			case <-d.loopCtx.Done():
				return
			}
			continue
		}

		d.slots.Add(1)
		if d.metrics != nil {
			d.metrics.SlotAcquired(ch.name)
		}
		workerID := fmt.Sprintf("%s-%d", ch.name, idx)
		safe.Go(func() {
			defer d.slots.Done()
			defer func() {
				ch.gate.release(idx)
				if d.metrics != nil {
					d.metrics.SlotReleased(ch.name)
				}
			}()
			d.execute(env, workerID)
		})
	}
}

func (d *Dispatcher) reportDepth(channel string) {
	if d.metrics == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if n, err := d.store.Depth(ctx, channel); err == nil {
		d.metrics.SetQueueDepth(channel, n)
	}
}
