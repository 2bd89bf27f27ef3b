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

package config

import (
	"github.com/go-arcade/dispatch/internal/pkg/dispatcher"
	"github.com/go-arcade/dispatch/internal/pkg/pipeline"
	"github.com/go-arcade/dispatch/internal/pkg/queue"
	"github.com/go-arcade/dispatch/internal/pkg/schedule"
	"github.com/go-arcade/dispatch/internal/pkg/tracker"
	"github.com/go-arcade/dispatch/internal/pkg/worker"
	"github.com/go-arcade/dispatch/pkg/cache"
	"github.com/go-arcade/dispatch/pkg/database"
	"github.com/go-arcade/dispatch/pkg/http"
	"github.com/go-arcade/dispatch/pkg/log"
	"github.com/go-arcade/dispatch/pkg/metrics"
	"github.com/go-arcade/dispatch/pkg/trace"
	"github.com/google/wire"
)

// ProviderSet 提供配置层相关的依赖
var ProviderSet = wire.NewSet(
	LoadConfigFile,
	ProvideConf,
	ProvideHttpConfig,
	ProvideLogConfig,
	ProvideDatabaseConfig,
	ProvideRedisConfig,
	ProvideFastCacheConfig,
	ProvideTraceConfig,
	ProvideMetricsConfig,
	ProvideQueueConfig,
	ProvideIngressConfig,
	ProvideDispatcherConfig,
	ProvideWorkerConfig,
	ProvideGeneratorConfig,
	ProvideTrackerConfig,
	ProvidePipelineConfig,
	ProvideScheduleConfig,
)

// ProvideConf 提供应用配置
func ProvideConf(l *Loader) *AppConfig {
	cfg := l.Config()
	return &cfg
}

// ProvideHttpConfig 提供 HTTP 配置
func ProvideHttpConfig(appConf *AppConfig) *http.Http {
	return &appConf.Http
}

// ProvideLogConfig 提供日志配置
func ProvideLogConfig(appConf *AppConfig) *log.Conf {
	return &appConf.Log
}

func ProvideDatabaseConfig(appConf *AppConfig) database.Database {
	return appConf.Database
}

func ProvideRedisConfig(appConf *AppConfig) cache.Redis {
	return appConf.Redis
}

func ProvideFastCacheConfig(appConf *AppConfig) cache.FastCacheConfig {
	return appConf.FastCache
}

func ProvideTraceConfig(appConf *AppConfig) trace.Conf {
	return appConf.Trace
}

func ProvideMetricsConfig(appConf *AppConfig) metrics.Conf {
	return appConf.Metrics
}

func ProvideQueueConfig(appConf *AppConfig) queue.Conf {
	return appConf.Queue
}

func ProvideIngressConfig(appConf *AppConfig) queue.BridgeConfig {
	return appConf.Ingress
}

func ProvideDispatcherConfig(appConf *AppConfig) dispatcher.Conf {
	return appConf.Dispatcher
}

func ProvideWorkerConfig(appConf *AppConfig) worker.Conf {
	return appConf.Workers
}

func ProvideGeneratorConfig(appConf *AppConfig) worker.GeneratorConf {
	return appConf.Generator
}

func ProvideTrackerConfig(appConf *AppConfig) tracker.Conf {
	return appConf.Tracker
}

func ProvidePipelineConfig(appConf *AppConfig) pipeline.Conf {
	return appConf.Pipeline
}

func ProvideScheduleConfig(appConf *AppConfig) schedule.Conf {
	return appConf.Schedules
}
