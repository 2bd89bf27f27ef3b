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

package schedule

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-arcade/dispatch/internal/pkg/task"
	"github.com/go-arcade/dispatch/pkg/cron"
	"github.com/go-arcade/dispatch/pkg/log"
	"github.com/go-arcade/dispatch/pkg/metrics"
)

/**
 * @file: schedule.go
 * @description: 定时提交任务或流水线
 */

const (
	OutcomeSubmitted = "submitted"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"

	submitTimeout = 30 * time.Second
)

var ErrInvalidEntry = errors.New("invalid schedule entry")

// Submitter 提交单个任务
type Submitter interface {
	Submit(ctx context.Context, kind task.Kind, payload map[string]any, opts ...task.Option) (string, error)
}

// PipelineRunner 按名字启动流水线
type PipelineRunner interface {
	RunNamed(ctx context.Context, name string, payload map[string]any) (string, error)
}

// Entry 定时配置，Kind 与 Pipeline 二选一
type Entry struct {
	Name     string         `mapstructure:"name" json:"name"`
	Spec     string         `mapstructure:"spec" json:"spec"`
	Kind     task.Kind      `mapstructure:"kind" json:"kind,omitempty"`
	Pipeline string         `mapstructure:"pipeline" json:"pipeline,omitempty"`
	Payload  map[string]any `mapstructure:"payload" json:"payload,omitempty"`
	Priority int            `mapstructure:"priority" json:"priority,omitempty"`
	Disabled bool           `mapstructure:"disabled" json:"disabled,omitempty"`
}

func (e *Entry) Validate(known func(task.Kind) bool) error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidEntry)
	}
	if _, err := cron.Parse(e.Spec); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidEntry, e.Name, err)
	}
	switch {
	case e.Kind == "" && e.Pipeline == "":
		return fmt.Errorf("%w: %s: kind or pipeline is required", ErrInvalidEntry, e.Name)
	case e.Kind != "" && e.Pipeline != "":
		return fmt.Errorf("%w: %s: kind and pipeline are exclusive", ErrInvalidEntry, e.Name)
	case e.Kind != "" && known != nil && !known(e.Kind):
		return fmt.Errorf("%w: %s: %w: %q", ErrInvalidEntry, e.Name, task.ErrInvalidKind, e.Kind)
	}
	return nil
}

// Status 定时任务的运行情况
type Status struct {
	Entry
	Next        time.Time `json:"next,omitzero"`
	Prev        time.Time `json:"prev,omitzero"`
	Runs        int64     `json:"runs"`
	Failures    int64     `json:"failures"`
	LastID      string    `json:"last_id,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	LastFiredAt time.Time `json:"last_fired_at,omitzero"`
}

type job struct {
	s       *Scheduler
	entry   Entry
	running atomic.Bool

	mu        sync.Mutex
	runs      int64
	failures  int64
	lastID    string
	lastErr   string
	lastFired time.Time
}

// Run 上一次提交未返回时跳过本次触发
func (j *job) Run() {
	if !j.running.CompareAndSwap(false, true) {
		j.s.observe(j.entry.Name, OutcomeSkipped)
		return
	}
	defer j.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()
	id, err := j.s.fire(ctx, &j.entry)

	j.mu.Lock()
	j.runs++
	j.lastFired = time.Now()
	if err != nil {
		j.failures++
		j.lastErr = err.Error()
	} else {
		j.lastID = id
		j.lastErr = ""
	}
	j.mu.Unlock()

	if err != nil {
		j.s.observe(j.entry.Name, OutcomeFailed)
		log.Warnw("scheduled submission failed", "schedule", j.entry.Name, "error", err)
		return
	}
	j.s.observe(j.entry.Name, OutcomeSubmitted)
	log.Debugw("scheduled submission", "schedule", j.entry.Name, "id", id)
}

type Option func(*Scheduler)

func WithPipelines(p PipelineRunner) Option {
	return func(s *Scheduler) { s.pipelines = p }
}

func WithMetrics(m *metrics.DispatchMetrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithKindCheck(known func(task.Kind) bool) Option {
	return func(s *Scheduler) { s.known = known }
}

func WithCron(c *cron.Cron) Option {
	return func(s *Scheduler) { s.cron = c }
}

type Scheduler struct {
	cron      *cron.Cron
	submitter Submitter
	pipelines PipelineRunner
	metrics   *metrics.DispatchMetrics
	known     func(task.Kind) bool

	mu   sync.RWMutex
	jobs map[string]*job
}

func New(submitter Submitter, opts ...Option) *Scheduler {
	s := &Scheduler{
		submitter: submitter,
		jobs:      make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cron == nil {
		s.cron = cron.New()
	}
	return s
}

// Add 注册定时任务；Disabled 的条目只记录不调度
func (s *Scheduler) Add(e Entry) error {
	if err := e.Validate(s.known); err != nil {
		return err
	}
	if e.Pipeline != "" && s.pipelines == nil {
		return fmt.Errorf("%w: %s: pipelines are not available", ErrInvalidEntry, e.Name)
	}
	e.Payload = task.CopyPayload(e.Payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[e.Name]; ok {
		return fmt.Errorf("%w: %s", cron.ErrDuplicateName, e.Name)
	}
	j := &job{s: s, entry: e}
	if !e.Disabled {
		if err := s.cron.AddJob(e.Name, e.Spec, j); err != nil {
			return err
		}
	}
	s.jobs[e.Name] = j
	return nil
}

func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", cron.ErrNotFound, name)
	}
	delete(s.jobs, name)
	if j.entry.Disabled {
		return nil
	}
	return s.cron.Remove(name)
}

func (s *Scheduler) List() []Status {
	times := make(map[string]cron.Entry)
	for _, e := range s.cron.Entries() {
		times[e.Name] = e
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Status, 0, len(s.jobs))
	for name, j := range s.jobs {
		j.mu.Lock()
		st := Status{
			Entry:       j.entry,
			Runs:        j.runs,
			Failures:    j.failures,
			LastID:      j.lastID,
			LastError:   j.lastErr,
			LastFiredAt: j.lastFired,
		}
		j.mu.Unlock()
		st.Payload = task.CopyPayload(st.Payload)
		if t, ok := times[name]; ok {
			st.Next, st.Prev = t.Next, t.Prev
		}
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b Status) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Trigger 立即执行一次，不影响调度
func (s *Scheduler) Trigger(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", cron.ErrNotFound, name)
	}
	return s.fire(ctx, &j.entry)
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Infow("scheduler started", "entries", s.cron.Len())
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) fire(ctx context.Context, e *Entry) (string, error) {
	payload := task.CopyPayload(e.Payload)
	if e.Pipeline != "" {
		return s.pipelines.RunNamed(ctx, e.Pipeline, payload)
	}
	return s.submitter.Submit(ctx, e.Kind, payload, task.WithPriority(e.Priority))
}

func (s *Scheduler) observe(name, outcome string) {
	if s.metrics != nil {
		s.metrics.ScheduleRun(name, outcome)
	}
}
