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

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/go-arcade/dispatch/internal/pkg/task"
	"github.com/go-arcade/dispatch/pkg/id"
	"github.com/go-arcade/dispatch/pkg/log"
	"github.com/go-arcade/dispatch/pkg/metrics"
	"github.com/go-arcade/dispatch/pkg/safe"
	"github.com/go-arcade/dispatch/pkg/statemachine"
	"golang.org/x/sync/errgroup"
)

/**
 * @file: coordinator.go
 * @description: 流水线协调器，逐阶段提交任务并根据结果决定继续、跳过或终止
 */

const (
	DefaultStageTimeout = 30 * time.Minute
	DefaultMaxRuns      = 1000
)

var (
	ErrPipelineNotFound = errors.New("pipeline not found")
	ErrRunNotFound      = errors.New("pipeline run not found")

	errStageWon = errors.New("stage already has a winner")
)

// Backend 任务的提交、等待与取消
type Backend interface {
	Submit(ctx context.Context, kind task.Kind, payload map[string]any, opts ...task.Option) (string, error)
	Wait(ctx context.Context, taskID string, timeout time.Duration) (*task.Result, error)
	Cancel(ctx context.Context, taskID string) error
}

type Option func(*Coordinator)

func WithStageTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.stageTimeout = d
		}
	}
}

func WithMaxRuns(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxRuns = n
		}
	}
}

func WithMetrics(m *metrics.DispatchMetrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithKindCheck 注册定义时校验任务类型
func WithKindCheck(known func(task.Kind) bool) Option {
	return func(c *Coordinator) { c.known = known }
}

type Coordinator struct {
	backend      Backend
	stageTimeout time.Duration
	maxRuns      int
	metrics      *metrics.DispatchMetrics
	known        func(task.Kind) bool

	mu    sync.RWMutex
	defs  map[string]*Definition
	runs  map[string]*run
	order []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCoordinator(backend Backend, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		backend:      backend,
		stageTimeout: DefaultStageTimeout,
		maxRuns:      DefaultMaxRuns,
		defs:         make(map[string]*Definition),
		runs:         make(map[string]*run),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register 注册具名流水线，同名覆盖
func (c *Coordinator) Register(def *Definition) error {
	if err := def.Validate(c.known); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defs[def.Name] = def.Clone()
	return nil
}

func (c *Coordinator) Definition(name string) (*Definition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, name)
	}
	return def.Clone(), nil
}

func (c *Coordinator) Definitions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.defs))
	for name := range c.defs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// RunNamed 运行已注册的流水线
func (c *Coordinator) RunNamed(ctx context.Context, name string, payload map[string]any) (string, error) {
	def, err := c.Definition(name)
	if err != nil {
		return "", err
	}
	return c.Run(ctx, def, payload)
}

// Run 校验定义后异步运行，返回运行 id
func (c *Coordinator) Run(ctx context.Context, def *Definition, payload map[string]any) (string, error) {
	if err := def.Validate(c.known); err != nil {
		return "", err
	}
	if c.ctx.Err() != nil {
		return "", task.ErrShuttingDown
	}

	r := newRun(id.PipelineID(), def.Clone())
	c.mu.Lock()
	c.runs[r.id] = r
	c.order = append(c.order, r.id)
	c.evictLocked()
	c.mu.Unlock()

	input := task.CopyPayload(payload)
	c.wg.Add(1)
	safe.Go(func() {
		defer c.wg.Done()
		defer close(r.done)
		c.execute(r, input)
	})
	log.WithContext(ctx).Infow("pipeline started", "pipeline", def.Name, "pipeline_id", r.id, "stages", len(def.Stages))
	return r.id, nil
}

// evictLocked 超出上限时丢弃最早结束的运行
func (c *Coordinator) evictLocked() {
	for len(c.order) > c.maxRuns {
		evicted := false
		for i, rid := range c.order {
			r := c.runs[rid]
			select {
			case <-r.done:
			default:
				continue
			}
			delete(c.runs, rid)
			c.order = append(c.order[:i], c.order[i+1:]...)
			evicted = true
			break
		}
		if !evicted {
			return
		}
	}
}

func (c *Coordinator) Status(runID string) (*RunSnapshot, error) {
	c.mu.RLock()
	r, ok := c.runs[runID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r.snapshot(), nil
}

// Wait 阻塞直到运行结束
func (c *Coordinator) Wait(ctx context.Context, runID string) (*RunSnapshot, error) {
	c.mu.RLock()
	r, ok := c.runs[runID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	select {
	case <-r.done:
		return r.snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop 取消所有运行中的流水线并等待其退出
func (c *Coordinator) Stop(ctx context.Context) error {
	c.cancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) execute(r *run, input map[string]any) {
	ctx := c.ctx
	logger := log.WithContext(ctx).With("pipeline", r.def.Name, "pipeline_id", r.id)
	_ = r.setStatus(statemachine.PipelineRunning, "started")

	sc := &scope{pipelineID: r.id, input: input, stages: make(map[string]any)}
	for i := range r.def.Stages {
		st := &r.def.Stages[i]
		if ctx.Err() != nil {
			c.finish(r, statemachine.PipelineCanceled, "shutdown")
			return
		}

		ok, err := sc.when(st.When)
		if err == nil && !ok {
			_ = r.updateStage(i, statemachine.StageSkipped, "condition not met", func(s *StageSnapshot) {
				s.Warning = "condition not met"
			})
			logger.Infow("stage skipped", "stage", st.Name, "when", st.When)
			continue
		}

		_ = r.updateStage(i, statemachine.StageRunning, "started", nil)
		var output map[string]any
		if err == nil {
			output, err = c.runStage(ctx, r, i, st, sc)
		}
		if err == nil {
			_ = r.updateStage(i, statemachine.StageSucceeded, "succeeded", func(s *StageSnapshot) {
				s.Output = task.CopyPayload(output)
			})
			sc.prev = output
			sc.stages[st.Name] = output
			continue
		}

		if ctx.Err() != nil {
			_ = r.updateStage(i, statemachine.StageFailed, "canceled", func(s *StageSnapshot) { s.Error = err.Error() })
			c.finish(r, statemachine.PipelineCanceled, "shutdown")
			return
		}
		if st.Optional {
			_ = r.updateStage(i, statemachine.StageSkipped, "optional stage failed", func(s *StageSnapshot) {
				s.Error = err.Error()
				s.Warning = "optional stage failed: " + err.Error()
			})
			logger.Warnw("optional stage failed, skipping", "stage", st.Name, "error", err)
			continue
		}

		failure := &task.PipelineStageFailure{PipelineID: r.id, StageIndex: i, Stage: st.Name, Cause: err}
		_ = r.updateStage(i, statemachine.StageFailed, "failed", func(s *StageSnapshot) { s.Error = err.Error() })
		r.fail(failure)
		logger.Warnw("pipeline halted", "stage", st.Name, "stage_index", i, "error", err)
		c.finish(r, statemachine.PipelineFailed, failure.Error())
		return
	}
	c.finish(r, statemachine.PipelineCompleted, "all stages finished")
}

func (c *Coordinator) finish(r *run, status statemachine.PipelineStatus, reason string) {
	_ = r.setStatus(status, reason)
	if c.metrics != nil {
		c.metrics.PipelineFinished(r.def.Name, string(status))
	}
	log.Infow("pipeline finished", "pipeline", r.def.Name, "pipeline_id", r.id, "status", status)
}

// runStage 提交 fanout 个副本，首个成功的结果胜出，其余取消或忽略
func (c *Coordinator) runStage(ctx context.Context, r *run, idx int, st *Stage, sc *scope) (map[string]any, error) {
	payload, err := sc.payload(st)
	if err != nil {
		return nil, err
	}

	opts := []task.Option{task.WithPipeline(r.id, idx, st.Name), task.WithPriority(st.Priority)}
	if st.MaxAttempts > 0 {
		opts = append(opts, task.WithMaxAttempts(st.MaxAttempts))
	}

	n := st.replicas()
	ids := make([]string, 0, n)
	for range n {
		taskID, err := c.backend.Submit(ctx, st.Kind, payload, opts...)
		if err != nil {
			c.cancelAll(ids, "")
			return nil, fmt.Errorf("submit stage %s: %w", st.Name, err)
		}
		ids = append(ids, taskID)
	}
	_ = r.updateStage(idx, statemachine.StageRunning, "submitted", func(s *StageSnapshot) { s.TaskIDs = slices.Clone(ids) })

	var (
		mu     sync.Mutex
		winner *task.Result
		errs   []error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, taskID := range ids {
		g.Go(func() error {
			res, err := c.backend.Wait(gctx, taskID, c.stageTimeout)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				errs = append(errs, fmt.Errorf("task %s: %w", taskID, err))
			case res.Succeeded():
				if winner == nil {
					winner = res
					return errStageWon
				}
			default:
				errs = append(errs, fmt.Errorf("task %s: %w: %s", taskID, task.ErrExecutionFailure, res.Error))
			}
			return nil
		})
	}
	_ = g.Wait()

	if winner != nil {
		c.cancelAll(ids, winner.TaskID)
		_ = r.updateStage(idx, statemachine.StageRunning, "winner", func(s *StageSnapshot) { s.WinnerID = winner.TaskID })
		return winner.Output, nil
	}
	c.cancelAll(ids, "")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, errors.Join(errs...)
}

// cancelAll 取消除 keep 以外的副本；已结束的副本忽略错误
func (c *Coordinator) cancelAll(ids []string, keep string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, taskID := range ids {
		if taskID == keep {
			continue
		}
		if err := c.backend.Cancel(ctx, taskID); err != nil {
			log.Debugw("cancel stage replica", "task_id", taskID, "error", err)
		}
	}
}
