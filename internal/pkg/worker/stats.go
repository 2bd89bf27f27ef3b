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
	"sync"
	"time"

	"github.com/go-arcade/dispatch/internal/pkg/task"
)

// Stats 单个类型的执行统计
type Stats struct {
	TasksCompleted int64         `json:"tasks_completed"`
	Errors         int64         `json:"errors"`
	TotalDuration  time.Duration `json:"total_duration"`
	AvgDuration    time.Duration `json:"avg_duration"`
	LastFinishedAt time.Time     `json:"last_finished_at"`
}

type StatsCollector struct {
	mu    sync.Mutex
	stats map[task.Kind]*Stats
}

func NewStatsCollector() *StatsCollector {
	return &StatsCollector{stats: make(map[task.Kind]*Stats)}
}

// Observe 记录一次执行
func (c *StatsCollector) Observe(kind task.Kind, d time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.stats[kind]
	if !ok {
		s = &Stats{}
		c.stats[kind] = s
	}
	if err != nil {
		s.Errors++
	} else {
		s.TasksCompleted++
	}
	s.TotalDuration += d
	s.AvgDuration = s.TotalDuration / time.Duration(s.TasksCompleted+s.Errors)
	s.LastFinishedAt = time.Now()
}

func (c *StatsCollector) Snapshot() map[task.Kind]Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[task.Kind]Stats, len(c.stats))
	for k, s := range c.stats {
		out[k] = *s
	}
	return out
}
