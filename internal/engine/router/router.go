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

package router

import (
	"errors"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-arcade/dispatch/internal/engine/service"
	"github.com/go-arcade/dispatch/internal/pkg/pipeline"
	"github.com/go-arcade/dispatch/internal/pkg/schedule"
	"github.com/go-arcade/dispatch/internal/pkg/task"
	"github.com/go-arcade/dispatch/pkg/cron"
	"github.com/go-arcade/dispatch/pkg/http"
	"github.com/go-arcade/dispatch/pkg/http/middleware"
	"github.com/go-arcade/dispatch/pkg/metrics"
	"github.com/go-arcade/dispatch/pkg/version"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/pprof"
)

/**
 * @file: router.go
 * @description: 分发服务的 HTTP 接口
 */

type Router struct {
	Http      *http.Http
	Service   *service.DispatchService
	Scheduler *schedule.Scheduler
	Metrics   *metrics.Server
}

func NewRouter(httpConf *http.Http, svc *service.DispatchService, scheduler *schedule.Scheduler, metricsServer *metrics.Server) *Router {
	return &Router{
		Http:      httpConf,
		Service:   svc,
		Scheduler: scheduler,
		Metrics:   metricsServer,
	}
}

func (rt *Router) Router() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Arcade Dispatch",
		DisableStartupMessage: true,
		ReadTimeout:           rt.Http.ReadTimeoutDuration(),
		WriteTimeout:          rt.Http.WriteTimeoutDuration(),
		IdleTimeout:           rt.Http.IdleTimeoutDuration(),
		BodyLimit:             rt.Http.BodyLimit,
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
	})

	app.Use(
		middleware.ExceptionMiddleware,
		middleware.CorsMiddleware(rt.Http.Cors),
		middleware.RequestMiddleware(),
		middleware.TraceMiddleware(),
		middleware.AccessLogMiddleware(rt.Http),
		middleware.UnifiedResponseMiddleware(),
	)

	if rt.Http.PProf {
		app.Use(pprof.New())
	}
	if rt.Http.ExposeMetrics && rt.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(rt.Metrics.Handler()))
	}

	app.Get("/health", rt.health)
	app.Get("/version", func(c *fiber.Ctx) error {
		return c.JSON(version.GetVersion())
	})

	api := app.Group(rt.Http.ContextPath)
	rt.taskRouter(api)
	rt.pipelineRouter(api)
	rt.adminRouter(api.Group("/admin"))

	app.Use(func(c *fiber.Ctx) error {
		return http.WithRepErrMsg(c, http.NotFound.Code, "request path not found", c.Path())
	})
	return app
}

// health 停机过程中返回 503，便于负载均衡摘除
func (rt *Router) health(c *fiber.Ctx) error {
	if rt.Service.ShuttingDown() {
		return c.Status(fiber.StatusServiceUnavailable).SendString("shutting down")
	}
	return c.SendString("ok")
}

// replyErr 把领域错误映射为统一的错误响应
func replyErr(c *fiber.Ctx, err error) error {
	code := errCode(err)
	return http.WithRepErrMsg(c, code.Code, err.Error(), c.Path())
}

func errCode(err error) *http.Response {
	switch {
	case errors.Is(err, task.ErrInvalidKind),
		errors.Is(err, pipeline.ErrInvalidDefinition),
		errors.Is(err, schedule.ErrInvalidEntry):
		return http.InvalidKind
	case errors.Is(err, task.ErrNotFound),
		errors.Is(err, pipeline.ErrRunNotFound),
		errors.Is(err, pipeline.ErrPipelineNotFound),
		errors.Is(err, cron.ErrNotFound):
		return http.NotFound
	case errors.Is(err, task.ErrNotReady):
		return http.NotReady
	case errors.Is(err, task.ErrTimeout):
		return http.Timeout
	case errors.Is(err, task.ErrNotPending),
		errors.Is(err, task.ErrNotAbandoned),
		errors.Is(err, task.ErrInvalidTransition),
		errors.Is(err, task.ErrAlreadyRecorded),
		errors.Is(err, task.ErrCanceled):
		return http.Conflict
	case errors.Is(err, task.ErrStorageUnavailable):
		return http.StorageUnavailable
	case errors.Is(err, task.ErrShuttingDown):
		return http.Shutdown
	default:
		return http.InternalError
	}
}

func badRequest(c *fiber.Ctx, msg string) error {
	return http.WithRepErrMsg(c, http.BadRequest.Code, strings.TrimSpace(msg), c.Path())
}
