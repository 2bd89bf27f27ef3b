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
	"fmt"
	"maps"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-arcade/dispatch/internal/engine/config"
	"github.com/go-arcade/dispatch/internal/engine/router"
	"github.com/go-arcade/dispatch/internal/engine/service"
	"github.com/go-arcade/dispatch/internal/pkg/dispatcher"
	"github.com/go-arcade/dispatch/internal/pkg/queue"
	"github.com/go-arcade/dispatch/internal/pkg/schedule"
	"github.com/go-arcade/dispatch/internal/pkg/tracker"
	"github.com/go-arcade/dispatch/pkg/event"
	"github.com/go-arcade/dispatch/pkg/log"
	"github.com/go-arcade/dispatch/pkg/metrics"
	"github.com/gofiber/fiber/v2"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout      = 30 * time.Second
	queueMetricsInterval = 15 * time.Second
)

type App struct {
	HttpApp   *fiber.App
	Loader    *config.Loader
	AppConf   *config.AppConfig
	Service   *service.DispatchService
	Scheduler *schedule.Scheduler
	Bridge    *queue.Bridge
	Metrics   *metrics.Server
	Tracer    *sdktrace.TracerProvider
	Logger    *zap.SugaredLogger
	Bus       *event.EventBus

	collector *metrics.AsynqMetricsCollector
}

// InitAppFunc wire 生成的初始化函数
type InitAppFunc func(configPath string) (*App, func(), error)

// NewApp logger 放在首位，保证其他组件初始化前全局日志已就绪
func NewApp(
	logger *zap.SugaredLogger,
	rt *router.Router,
	loader *config.Loader,
	appConf *config.AppConfig,
	svc *service.DispatchService,
	scheduler *schedule.Scheduler,
	bridge *queue.Bridge,
	metricsServer *metrics.Server,
	tp *sdktrace.TracerProvider,
	bus *event.EventBus,
) (*App, func(), error) {
	app := &App{
		HttpApp:   rt.Router(),
		Loader:    loader,
		AppConf:   appConf,
		Service:   svc,
		Scheduler: scheduler,
		Bridge:    bridge,
		Metrics:   metricsServer,
		Tracer:    tp,
		Logger:    logger,
		Bus:       bus,
	}

	if bus != nil {
		bus.RegisterHandler(tracker.EventResultRecorded, event.HandlerFunc(func(e event.Event) {
			if re, ok := e.(tracker.ResultEvent); ok {
				log.Debugw("result recorded", "task_id", re.Result.TaskID, "attempt", re.Result.Attempt, "status", re.Result.Status)
			}
		}))
	}

	cleanup := func() {
		if app.Bridge != nil {
			app.Bridge.Shutdown()
		}
		_ = logger.Sync()
	}
	return app, cleanup, nil
}

// Bootstrap 初始化应用，返回 App 与清理函数
func Bootstrap(configFile string, initApp InitAppFunc) (*App, func(), error) {
	app, cleanup, err := initApp(configFile)
	if err != nil {
		return nil, nil, err
	}
	return app, cleanup, nil
}

// Start 启动各组件，HTTP 最后开始监听
func (a *App) Start(ctx context.Context) error {
	if err := a.Service.Start(ctx); err != nil {
		return fmt.Errorf("start dispatch service: %w", err)
	}

	var g errgroup.Group
	g.Go(func() error {
		if a.Scheduler != nil {
			a.Scheduler.Start()
		}
		return nil
	})
	g.Go(func() error {
		if a.Bridge == nil {
			return nil
		}
		if err := a.Bridge.Serve(a.Service); err != nil {
			return fmt.Errorf("start ingress bridge: %w", err)
		}
		sink, err := metrics.NewPrometheusSink(a.Metrics.GetRegistry())
		if err != nil {
			log.Warnw("ingress queue metrics disabled", "error", err)
			return nil
		}
		a.collector = metrics.NewAsynqMetricsCollector(a.Bridge.Inspector(), sink)
		a.collector.Start(queueMetricsInterval)
		return nil
	})
	g.Go(a.Metrics.Start)
	if err := g.Wait(); err != nil {
		return err
	}

	if a.Loader != nil {
		a.Loader.OnChange(a.applyConfig)
		a.Loader.Watch()
	}

	addr := fmt.Sprintf("%s:%d", a.AppConf.Http.Host, a.AppConf.Http.Port)
	go func() {
		log.Infow("HTTP listener started", "address", addr)
		if err := a.HttpApp.Listen(addr); err != nil {
			log.Errorw("HTTP listener failed", "address", addr, zap.Error(err))
		}
	}()
	return nil
}

// applyConfig 热更新 channel 并发上限
func (a *App) applyConfig(old, cur config.AppConfig) {
	if maps.Equal(old.Dispatcher.Concurrency, cur.Dispatcher.Concurrency) {
		return
	}
	for ch, n := range cur.Dispatcher.Concurrency {
		if old.Dispatcher.Concurrency[ch] == n {
			continue
		}
		if err := a.Service.Resize(ch, n); err != nil {
			log.Warnw("resize channel failed", "channel", ch, "limit", n, "error", err)
			continue
		}
		log.Infow("channel concurrency updated", "channel", ch, "limit", n)
	}
}

// Shutdown 先停止入口，再排空分发器
func (a *App) Shutdown(ctx context.Context) {
	if a.Bridge != nil {
		a.Bridge.Shutdown()
		a.Bridge = nil
	}
	if a.collector != nil {
		a.collector.Stop()
	}

	if err := a.HttpApp.ShutdownWithContext(ctx); err != nil {
		log.Errorw("HTTP server shutdown error", "error", err)
	} else {
		log.Info("HTTP server shut down gracefully")
	}

	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}

	dc := dispatcher.Conf{DrainTimeout: a.AppConf.Dispatcher.DrainTimeout}
	dc.SetDefaults()
	drainCtx, cancel := context.WithTimeout(ctx, dc.DrainDuration())
	defer cancel()
	if err := a.Service.Stop(drainCtx); err != nil {
		log.Warnw("dispatcher did not drain in time, in-flight tasks were canceled", "error", err)
	}

	if err := a.Metrics.Stop(ctx); err != nil {
		log.Warnw("metrics server shutdown error", "error", err)
	}
}

// Run 启动应用并等待退出信号，然后优雅关闭
func Run(app *App, cleanup func()) {
	if err := app.Start(context.Background()); err != nil {
		log.Errorw("failed to start application", "error", err)
		cleanup()
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-quit
	log.Infof("Received signal: %v, shutting down gracefully...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	app.Shutdown(ctx)
	cleanup()

	log.Info("Server shutdown complete")
}
