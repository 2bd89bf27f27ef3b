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

package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/go-arcade/dispatch/internal/pkg/dispatcher"
	"github.com/go-arcade/dispatch/internal/pkg/pipeline"
	"github.com/go-arcade/dispatch/internal/pkg/queue"
	"github.com/go-arcade/dispatch/internal/pkg/task"
	"github.com/go-arcade/dispatch/internal/pkg/tracker"
	"github.com/go-arcade/dispatch/internal/pkg/worker"
	"github.com/go-arcade/dispatch/pkg/log"
	"github.com/go-arcade/dispatch/pkg/metrics"
	"github.com/go-arcade/dispatch/pkg/shutdown"
)

/**
 * @file: service_dispatch.go
 * @description: 分发服务，对外提供提交、查询、等待、取消与流水线操作
 */

// WorkerStats 单个类型的执行统计与 slot 占用
type WorkerStats struct {
	worker.Stats
	Channel   string `json:"channel"`
	SlotsUsed int    `json:"slots_used"`
	SlotLimit int    `json:"slot_limit"`
}

type DispatchService struct {
	store      queue.Store
	registry   *worker.Registry
	dispatcher *dispatcher.Dispatcher
	tracker    *tracker.Tracker
	pipelines  *pipeline.Coordinator
	metrics    *metrics.DispatchMetrics
	shutdown   *shutdown.Manager
}

func NewDispatchService(store queue.Store, registry *worker.Registry, d *dispatcher.Dispatcher,
	tr *tracker.Tracker, m *metrics.DispatchMetrics) *DispatchService {
	return &DispatchService{
		store:      store,
		registry:   registry,
		dispatcher: d,
		tracker:    tr,
		metrics:    m,
		shutdown:   shutdown.NewManager(),
	}
}

// SetPipelines 协调器以本服务作为任务后端，构造后再注入
func (s *DispatchService) SetPipelines(c *pipeline.Coordinator) {
	s.pipelines = c
}

// ShuttingDown Stop 调用后返回 true
func (s *DispatchService) ShuttingDown() bool {
	return s.shutdown.IsShuttingDown()
}

func (s *DispatchService) Pipelines() *pipeline.Coordinator {
	return s.pipelines
}

// Start 启动分发循环
func (s *DispatchService) Start(ctx context.Context) error {
	return s.dispatcher.Start(ctx)
}

// Stop 拒绝新提交，停止流水线并等待执行中的任务结束
func (s *DispatchService) Stop(ctx context.Context) error {
	s.shutdown.Shutdown()
	var errs []error
	if s.pipelines != nil {
		if err := s.pipelines.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop pipelines: %w", err))
		}
	}
	if err := s.dispatcher.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop dispatcher: %w", err))
	}
	return errors.Join(errs...)
}

// Submit 未注册的类型不会创建任何状态
func (s *DispatchService) Submit(ctx context.Context, kind task.Kind, payload map[string]any, opts ...task.Option) (string, error) {
	if s.shutdown.IsShuttingDown() || s.dispatcher.Stopping() {
		return "", task.ErrShuttingDown
	}
	binding, err := s.registry.Lookup(kind)
	if err != nil {
		return "", err
	}

	defaults := []task.Option{task.WithChannel(binding.Channel), task.WithMaxAttempts(binding.MaxAttempts)}
	env := task.New(kind, payload, append(defaults, opts...)...)
	if err := s.store.Enqueue(ctx, env); err != nil {
		return "", err
	}
	if s.metrics != nil {
		s.metrics.Submitted(string(kind))
	}
	log.WithContext(ctx).Infow("task submitted", "task_id", env.ID, "kind", kind, "channel", env.Channel, "priority", env.Priority)
	return env.ID, nil
}

// Status 返回信封快照
func (s *DispatchService) Status(ctx context.Context, taskID string) (*task.Envelope, error) {
	return s.store.Get(ctx, taskID)
}

// Result 尚未产生结果的已知任务返回 ErrNotReady
func (s *DispatchService) Result(ctx context.Context, taskID string) (*task.Result, error) {
	r, err := s.tracker.Get(ctx, taskID)
	if errors.Is(err, task.ErrNotFound) {
		if _, gerr := s.store.Get(ctx, taskID); gerr == nil {
			return nil, fmt.Errorf("%w: %s", task.ErrNotReady, taskID)
		}
	}
	return r, err
}

// History 所有执行记录，按时间排序
func (s *DispatchService) History(ctx context.Context, taskID string) ([]*task.Result, error) {
	h, err := s.tracker.History(ctx, taskID)
	if errors.Is(err, task.ErrNotFound) {
		if _, gerr := s.store.Get(ctx, taskID); gerr == nil {
			return []*task.Result{}, nil
		}
	}
	return h, err
}

// Wait 阻塞至有结果或超时（ErrTimeout）
func (s *DispatchService) Wait(ctx context.Context, taskID string, timeout time.Duration) (*task.Result, error) {
	if _, err := s.store.Get(ctx, taskID); err != nil {
		return nil, err
	}
	return s.tracker.WaitFor(ctx, taskID, timeout)
}

// Cancel pending 任务直接移出队列；执行中的任务协作式取消，由 worker 在检查点退出
func (s *DispatchService) Cancel(ctx context.Context, taskID string) error {
	env, err := s.store.Cancel(ctx, taskID)
	if err == nil {
		if err := s.tracker.MarkTerminal(ctx, taskID); err != nil {
			log.WithContext(ctx).Warnw("mark canceled task terminal", "task_id", taskID, "error", err)
		}
		log.WithContext(ctx).Infow("task canceled", "task_id", taskID, "kind", env.Kind)
		return nil
	}
	if !errors.Is(err, task.ErrNotPending) {
		return err
	}

	env, gerr := s.store.Get(ctx, taskID)
	if gerr != nil {
		return gerr
	}
	if env.Status == task.StatusInProgress {
		s.dispatcher.Cancel(taskID)
		log.WithContext(ctx).Infow("cancel requested", "task_id", taskID, "kind", env.Kind)
		return nil
	}
	return err
}

// RequeueAbandoned 运维操作：新一轮执行，历史记录保留
func (s *DispatchService) RequeueAbandoned(ctx context.Context, taskID string) error {
	if s.shutdown.IsShuttingDown() {
		return task.ErrShuttingDown
	}
	env, err := s.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if env.Status != task.StatusAbandoned {
		return fmt.Errorf("%w: %s is %s", task.ErrNotAbandoned, taskID, env.Status)
	}
	if err := s.tracker.Reopen(ctx, taskID); err != nil {
		return err
	}
	if _, err := s.store.Restore(ctx, taskID); err != nil {
		// 信封仍是 abandoned，结果记录退回终态
		if rerr := s.tracker.Reinstate(ctx, taskID); rerr != nil {
			log.WithContext(ctx).Errorw("reinstate result after failed restore", "task_id", taskID, "error", rerr)
		}
		return err
	}
	log.WithContext(ctx).Infow("abandoned task requeued", "task_id", taskID, "kind", env.Kind)
	return nil
}

// QueueDepth 未注册的 channel 返回 ErrInvalidKind
func (s *DispatchService) QueueDepth(ctx context.Context, channel string) (int, error) {
	if !slices.Contains(s.registry.Channels(), channel) {
		return 0, fmt.Errorf("%w: unknown channel %q", task.ErrInvalidKind, channel)
	}
	return s.store.Depth(ctx, channel)
}

func (s *DispatchService) WorkerStats() map[task.Kind]WorkerStats {
	stats := s.dispatcher.Stats()
	slots := s.dispatcher.SlotStats()
	out := make(map[task.Kind]WorkerStats)
	for _, kind := range s.registry.Kinds() {
		b, err := s.registry.Lookup(kind)
		if err != nil {
			continue
		}
		ws := WorkerStats{Stats: stats[kind], Channel: b.Channel}
		if slot, ok := slots[b.Channel]; ok {
			ws.SlotLimit, ws.SlotsUsed = slot[0], slot[1]
		}
		out[kind] = ws
	}
	return out
}

// Resize 调整 channel 并发
func (s *DispatchService) Resize(channel string, n int) error {
	return s.dispatcher.Resize(channel, n)
}

// RunPipeline def 为 nil 时按名字运行已注册的流水线
func (s *DispatchService) RunPipeline(ctx context.Context, name string, def *pipeline.Definition, payload map[string]any) (string, error) {
	if s.pipelines == nil {
		return "", errors.New("pipelines are not enabled")
	}
	if s.shutdown.IsShuttingDown() {
		return "", task.ErrShuttingDown
	}
	if def != nil {
		return s.pipelines.Run(ctx, def, payload)
	}
	return s.pipelines.RunNamed(ctx, name, payload)
}

// RunNamed 供定时任务使用
func (s *DispatchService) RunNamed(ctx context.Context, name string, payload map[string]any) (string, error) {
	return s.RunPipeline(ctx, name, nil, payload)
}

func (s *DispatchService) PipelineStatus(runID string) (*pipeline.RunSnapshot, error) {
	if s.pipelines == nil {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrRunNotFound, runID)
	}
	return s.pipelines.Status(runID)
}

func (s *DispatchService) WaitPipeline(ctx context.Context, runID string) (*pipeline.RunSnapshot, error) {
	if s.pipelines == nil {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrRunNotFound, runID)
	}
	return s.pipelines.Wait(ctx, runID)
}

func (s *DispatchService) PipelineNames() []string {
	if s.pipelines == nil {
		return nil
	}
	return s.pipelines.Definitions()
}
