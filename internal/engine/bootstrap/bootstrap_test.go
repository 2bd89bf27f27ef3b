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

package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/go-arcade/dispatch/internal/engine/config"
	"github.com/go-arcade/dispatch/internal/engine/router"
	"github.com/go-arcade/dispatch/internal/engine/service"
	"github.com/go-arcade/dispatch/internal/pkg/dispatcher"
	"github.com/go-arcade/dispatch/internal/pkg/pipeline"
	"github.com/go-arcade/dispatch/internal/pkg/queue"
	"github.com/go-arcade/dispatch/internal/pkg/schedule"
	"github.com/go-arcade/dispatch/internal/pkg/task"
	"github.com/go-arcade/dispatch/internal/pkg/tracker"
	"github.com/go-arcade/dispatch/internal/pkg/worker"
	"github.com/go-arcade/dispatch/pkg/event"
	"github.com/go-arcade/dispatch/pkg/http"
	"github.com/go-arcade/dispatch/pkg/log"
	"github.com/go-arcade/dispatch/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	store := queue.NewMemoryStore()
	registry := worker.NewRegistry()
	registry.Register(worker.NewFunc(task.KindGeneric, func(_ context.Context, payload map[string]any) (map[string]any, error) {
		return payload, nil
	}))
	bus := event.NewEventBus()
	tr := tracker.NewTracker(tracker.NewMemoryRecords(), tracker.WithPollInterval(10*time.Millisecond), tracker.WithEventBus(bus))
	d := dispatcher.New(store, registry, tr, dispatcher.WithPollInterval(10*time.Millisecond))
	t.Cleanup(d.ForceStop)

	svc, err := service.ProvideDispatchService(store, registry, d, tr, nil, pipeline.Conf{})
	require.NoError(t, err)

	appConf := &config.AppConfig{
		Http:       http.Http{Host: "127.0.0.1", Port: 0, ContextPath: "/api/v1"},
		Dispatcher: dispatcher.Conf{DrainTimeout: 1},
	}
	metricsServer := metrics.NewServer(metrics.Conf{})
	scheduler := schedule.New(svc)
	rt := router.NewRouter(&appConf.Http, svc, scheduler, metricsServer)

	app, cleanup, err := NewApp(log.GetLogger(), rt, nil, appConf, svc, scheduler, nil, metricsServer, nil, bus)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return app
}

func TestApp_StartAndShutdown(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, app.Start(ctx))

	id, err := app.Service.Submit(ctx, task.KindGeneric, map[string]any{"n": 1})
	require.NoError(t, err)
	res, err := app.Service.Wait(ctx, id, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, res.Succeeded())

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	app.Shutdown(shutdownCtx)

	assert.True(t, app.Service.ShuttingDown())
	_, err = app.Service.Submit(ctx, task.KindGeneric, nil)
	assert.ErrorIs(t, err, task.ErrShuttingDown)
}

func TestApp_ApplyConfigResizesChannels(t *testing.T) {
	app := newTestApp(t)
	require.NoError(t, app.Start(context.Background()))
	t.Cleanup(func() { app.Shutdown(context.Background()) })

	channel := string(task.KindGeneric)
	old := config.AppConfig{Dispatcher: dispatcher.Conf{Concurrency: map[string]int{channel: 2}}}
	cur := config.AppConfig{Dispatcher: dispatcher.Conf{Concurrency: map[string]int{channel: 7}}}
	app.applyConfig(old, cur)

	stats := app.Service.WorkerStats()
	assert.Equal(t, 7, stats[task.KindGeneric].SlotLimit)

	// 相同配置不做任何调整
	app.applyConfig(cur, cur)
	assert.Equal(t, 7, app.Service.WorkerStats()[task.KindGeneric].SlotLimit)
}
