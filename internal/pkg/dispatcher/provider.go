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
	"github.com/go-arcade/dispatch/internal/pkg/queue"
	"github.com/go-arcade/dispatch/internal/pkg/tracker"
	"github.com/go-arcade/dispatch/internal/pkg/worker"
	"github.com/go-arcade/dispatch/pkg/metrics"
	"github.com/google/wire"
)

var ProviderSet = wire.NewSet(ProvideDispatcher)

func ProvideDispatcher(conf Conf, store queue.Store, registry *worker.Registry, tr *tracker.Tracker,
	stats *worker.StatsCollector, m *metrics.DispatchMetrics) *Dispatcher {
	conf.SetDefaults()
	opts := []Option{
		WithStats(stats),
		WithMetrics(m),
		WithPolicy(conf.Policy()),
		WithPollInterval(conf.PollDuration()),
	}
	for ch, n := range conf.Concurrency {
		opts = append(opts, WithConcurrency(ch, n))
	}
	return New(store, registry, tr, opts...)
}
