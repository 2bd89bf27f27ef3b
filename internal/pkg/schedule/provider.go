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
	"fmt"
	"time"

	"github.com/go-arcade/dispatch/internal/pkg/worker"
	"github.com/go-arcade/dispatch/pkg/cron"
	"github.com/go-arcade/dispatch/pkg/metrics"
	"github.com/google/wire"
)

var ProviderSet = wire.NewSet(ProvideScheduler)

type Conf struct {
	Location string  `mapstructure:"location"` // 例如 Asia/Shanghai，默认本地时区
	Entries  []Entry `mapstructure:"entries"`
}

func ProvideScheduler(conf Conf, submitter Submitter, pipelines PipelineRunner, registry *worker.Registry, m *metrics.DispatchMetrics) (*Scheduler, error) {
	loc := time.Local
	if conf.Location != "" {
		l, err := time.LoadLocation(conf.Location)
		if err != nil {
			return nil, fmt.Errorf("schedule location: %w", err)
		}
		loc = l
	}
	s := New(submitter,
		WithCron(cron.New(cron.WithLocation(loc))),
		WithPipelines(pipelines),
		WithMetrics(m),
		WithKindCheck(registry.Has),
	)
	for _, e := range conf.Entries {
		if err := s.Add(e); err != nil {
			return nil, err
		}
	}
	return s, nil
}
