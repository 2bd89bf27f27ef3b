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
	"github.com/go-arcade/dispatch/internal/pkg/dispatcher"
	"github.com/go-arcade/dispatch/internal/pkg/pipeline"
	"github.com/go-arcade/dispatch/internal/pkg/queue"
	"github.com/go-arcade/dispatch/internal/pkg/schedule"
	"github.com/go-arcade/dispatch/internal/pkg/tracker"
	"github.com/go-arcade/dispatch/internal/pkg/worker"
	"github.com/go-arcade/dispatch/pkg/metrics"
	"github.com/google/wire"
)

// ProviderSet 提供服务层相关的依赖
var ProviderSet = wire.NewSet(
	ProvideDispatchService,
	wire.Bind(new(queue.Submitter), new(*DispatchService)),
	wire.Bind(new(schedule.Submitter), new(*DispatchService)),
	wire.Bind(new(schedule.PipelineRunner), new(*DispatchService)),
)

// ProvideDispatchService 协调器依赖服务提交任务，因此在这里一并创建
func ProvideDispatchService(store queue.Store, registry *worker.Registry, d *dispatcher.Dispatcher,
	tr *tracker.Tracker, m *metrics.DispatchMetrics, pipeConf pipeline.Conf) (*DispatchService, error) {
	s := NewDispatchService(store, registry, d, tr, m)
	coordinator, err := pipeline.ProvideCoordinator(pipeConf, s, registry, m)
	if err != nil {
		return nil, err
	}
	s.SetPipelines(coordinator)
	return s, nil
}
