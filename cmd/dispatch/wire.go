//go:build wireinject
// +build wireinject

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

package main

import (
	"github.com/go-arcade/dispatch/internal/engine/bootstrap"
	"github.com/go-arcade/dispatch/internal/engine/config"
	"github.com/go-arcade/dispatch/internal/engine/router"
	"github.com/go-arcade/dispatch/internal/engine/service"
	"github.com/go-arcade/dispatch/internal/pkg/dispatcher"
	"github.com/go-arcade/dispatch/internal/pkg/queue"
	"github.com/go-arcade/dispatch/internal/pkg/schedule"
	"github.com/go-arcade/dispatch/internal/pkg/tracker"
	"github.com/go-arcade/dispatch/internal/pkg/worker"
	"github.com/go-arcade/dispatch/pkg/cache"
	"github.com/go-arcade/dispatch/pkg/database"
	"github.com/go-arcade/dispatch/pkg/event"
	"github.com/go-arcade/dispatch/pkg/log"
	"github.com/go-arcade/dispatch/pkg/metrics"
	"github.com/go-arcade/dispatch/pkg/trace"
	"github.com/google/wire"
)

func initApp(configPath string) (*bootstrap.App, func(), error) {
	panic(wire.Build(
		// 配置层
		config.ProviderSet,
		// 基础设施
		log.ProviderSet,
		cache.ProviderSet,
		database.ProviderSet,
		trace.ProviderSet,
		metrics.ProviderSet,
		event.NewEventBus,
		// 分发核心
		queue.ProviderSet,
		worker.ProviderSet,
		tracker.ProviderSet,
		dispatcher.ProviderSet,
		// 服务层
		service.ProviderSet,
		schedule.ProviderSet,
		// 路由层
		router.ProviderSet,
		// 应用层
		bootstrap.NewApp,
	))
}
