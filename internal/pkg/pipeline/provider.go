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
	"time"

	"github.com/go-arcade/dispatch/internal/pkg/worker"
	"github.com/go-arcade/dispatch/pkg/log"
	"github.com/go-arcade/dispatch/pkg/metrics"
	"github.com/google/wire"
)

var ProviderSet = wire.NewSet(ProvideCoordinator)

type Conf struct {
	StageTimeout int    `mapstructure:"stageTimeout"` // 分钟
	MaxRuns      int    `mapstructure:"maxRuns"`
	File         string `mapstructure:"file"` // YAML 定义文件，可为空
}

func (c *Conf) SetDefaults() {
	if c.StageTimeout <= 0 {
		c.StageTimeout = int(DefaultStageTimeout / time.Minute)
	}
	if c.MaxRuns <= 0 {
		c.MaxRuns = DefaultMaxRuns
	}
}

// ProvideCoordinator 注册内置 code-review 流水线和文件中的定义
// 内置 worker 未全部注册时跳过 code-review
func ProvideCoordinator(conf Conf, backend Backend, registry *worker.Registry, m *metrics.DispatchMetrics) (*Coordinator, error) {
	conf.SetDefaults()
	c := NewCoordinator(backend,
		WithStageTimeout(time.Duration(conf.StageTimeout)*time.Minute),
		WithMaxRuns(conf.MaxRuns),
		WithMetrics(m),
		WithKindCheck(registry.Has),
	)
	if err := c.Register(CodeReview()); err != nil {
		log.Warnw("built-in pipeline not registered", "pipeline", CodeReviewPipeline, "error", err)
	}
	if conf.File == "" {
		return c, nil
	}
	defs, err := LoadDefinitions(conf.File, registry.Has)
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		if err := c.Register(def); err != nil {
			return nil, err
		}
	}
	log.Infow("pipelines loaded", "file", conf.File, "count", len(defs))
	return c, nil
}
