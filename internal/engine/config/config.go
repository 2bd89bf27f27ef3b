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
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
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
	"github.com/spf13/viper"
)

type AppConfig struct {
	Log        log.Conf
	Http       http.Http
	Redis      cache.Redis
	FastCache  cache.FastCacheConfig `mapstructure:"fastcache"`
	Database   database.Database
	Trace      trace.Conf
	Metrics    metrics.Conf
	Queue      queue.Conf
	Ingress    queue.BridgeConfig
	Dispatcher dispatcher.Conf
	Workers    worker.Conf
	Generator  worker.GeneratorConf
	Tracker    tracker.Conf
	Pipeline   pipeline.Conf
	Schedules  schedule.Conf
}

// SetDefaults 各配置段的默认值
func (c *AppConfig) SetDefaults() {
	def := log.SetDefaults()
	c.Log.Output = firstNonEmpty(c.Log.Output, def.Output)
	c.Log.Path = firstNonEmpty(c.Log.Path, def.Path)
	c.Log.Filename = firstNonEmpty(c.Log.Filename, def.Filename)
	c.Log.Level = firstNonEmpty(c.Log.Level, def.Level)
	c.Http.SetDefaults()
	c.Redis.SetDefaults()
	c.Database.SetDefaults()
	c.Trace.SetDefaults()
	c.Queue.SetDefaults()
	c.Ingress.SetDefaults()
	c.Dispatcher.SetDefaults()
	c.Workers.SetDefaults()
	c.Generator.SetDefaults()
	c.Tracker.SetDefaults()
	c.Pipeline.SetDefaults()
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// ChangeFunc 配置文件变更后回调
type ChangeFunc func(old, cur AppConfig)

// Loader 持有当前配置，文件变更时重新解析并通知
type Loader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	cfg       AppConfig
	listeners []ChangeFunc
}

// LoadConfigFile load config file
func LoadConfigFile(path string) (*Loader, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	l := &Loader{path: path, v: v}
	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	l.cfg = cfg
	log.Infow("config file loaded", "path", path)
	return l, nil
}

func (l *Loader) decode() (AppConfig, error) {
	var cfg AppConfig
	if err := l.v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal configuration file: %w", err)
	}
	cfg.SetDefaults()
	return cfg, nil
}

func (l *Loader) Config() AppConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

func (l *Loader) OnChange(fn ChangeFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Watch 监听配置文件，日志级别立即生效，其余交给 OnChange 的回调
func (l *Loader) Watch() {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		log.Infof("The configuration changes, re -analyze the configuration file: %s", e.Name)
		if err := l.reload(); err != nil {
			log.Errorw("config reload failed", "path", e.Name, "error", err)
		}
	})
	l.v.WatchConfig()
}

func (l *Loader) reload() error {
	if err := l.v.ReadInConfig(); err != nil {
		return err
	}
	cfg, err := l.decode()
	if err != nil {
		return err
	}

	l.mu.Lock()
	old := l.cfg
	l.cfg = cfg
	listeners := append([]ChangeFunc(nil), l.listeners...)
	l.mu.Unlock()

	if old.Log.Level != cfg.Log.Level {
		log.SetLevel(cfg.Log.Level)
		log.Infow("log level changed", "from", old.Log.Level, "to", cfg.Log.Level)
	}
	for _, fn := range listeners {
		fn(old, cfg)
	}
	return nil
}
