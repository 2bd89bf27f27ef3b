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

package cron

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-arcade/dispatch/pkg/log"
	"github.com/robfig/cron"
	"go.uber.org/zap"
)

var (
	ErrDuplicateName = errors.New("cron entry already exists")
	ErrNotFound      = errors.New("cron entry not found")
)

// Job 与 robfig/cron 的 Job 相同
type Job = cron.Job

type FuncJob = cron.FuncJob

// Entry 命名任务的快照
type Entry struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next,omitzero"`
	Prev time.Time `json:"prev,omitzero"`
}

type named struct {
	name     string
	spec     string
	schedule cron.Schedule
	job      Job
}

// Run 让 robfig/cron 的快照能按 job 找回名字
func (n *named) Run() { n.job.Run() }

type OpOption func(*Cron)

func WithLocation(loc *time.Location) OpOption {
	return func(c *Cron) {
		if loc != nil {
			c.location = loc
		}
	}
}

func WithLogger(logger *zap.SugaredLogger) OpOption {
	return func(c *Cron) { c.logger = logger }
}

// Cron 在 robfig/cron v1 之上增加按名字删除；v1 没有 entry id，删除时重建底层实例
type Cron struct {
	mu       sync.Mutex
	inner    *cron.Cron
	location *time.Location
	logger   *zap.SugaredLogger
	entries  map[string]*named
	running  bool
}

func New(opts ...OpOption) *Cron {
	c := &Cron{
		location: time.Local,
		entries:  make(map[string]*named),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.GetLogger()
	}
	c.inner = c.newInner()
	return c
}

func (c *Cron) newInner() *cron.Cron {
	inner := cron.NewWithLocation(c.location)
	inner.ErrorLog = zap.NewStdLog(c.logger.Desugar().Named("cron"))
	return inner
}

// Parse 解析 6 段（含秒）表达式或 @every / @daily 等描述符
func Parse(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("empty cron spec")
	}
	schedule, err := cron.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return schedule, nil
}

func (c *Cron) AddFunc(name, spec string, cmd func()) error {
	return c.AddJob(name, spec, FuncJob(cmd))
}

func (c *Cron) AddJob(name, spec string, job Job) error {
	if name == "" {
		return errors.New("cron entry name is required")
	}
	schedule, err := Parse(spec)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	n := &named{name: name, spec: strings.TrimSpace(spec), schedule: schedule, job: job}
	c.entries[name] = n
	c.inner.Schedule(schedule, n)
	return nil
}

func (c *Cron) Remove(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(c.entries, name)

	old := c.inner
	c.inner = c.newInner()
	for _, n := range c.entries {
		c.inner.Schedule(n.schedule, n)
	}
	if c.running {
		old.Stop()
		c.inner.Start()
	}
	return nil
}

// Entries 按名字排序；未启动时 Next 为零值
func (c *Cron) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Entry, 0, len(c.entries))
	seen := make(map[string]bool, len(c.entries))
	for _, e := range c.inner.Entries() {
		n, ok := e.Job.(*named)
		if !ok {
			continue
		}
		seen[n.name] = true
		out = append(out, Entry{Name: n.name, Spec: n.spec, Next: e.Next, Prev: e.Prev})
	}
	for name, n := range c.entries {
		if !seen[name] {
			out = append(out, Entry{Name: name, Spec: n.spec})
		}
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func (c *Cron) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cron) Location() *time.Location {
	return c.location
}

func (c *Cron) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.inner.Start()
}

// Stop 停止调度，不等待正在执行的任务
func (c *Cron) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	c.inner.Stop()
}

func (c *Cron) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
