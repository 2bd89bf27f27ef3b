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

package worker

import (
	"time"

	"github.com/go-arcade/dispatch/internal/pkg/task"
	"github.com/go-arcade/dispatch/pkg/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
)

// ProviderSet 提供 worker 相关的依赖
var ProviderSet = wire.NewSet(ProvideGenerator, ProvideMemoryIndex, ProvideRegistry, NewStatsCollector)

// KindConf 单个类型的执行参数
type KindConf struct {
	Timeout     int    `mapstructure:"timeout"` // 秒
	MaxAttempts int    `mapstructure:"maxAttempts"`
	Channel     string `mapstructure:"channel"`
}

type Conf struct {
	Workspace   string              `mapstructure:"workspace"`
	IndexPrefix string              `mapstructure:"indexPrefix"`
	Kinds       map[string]KindConf `mapstructure:"kinds"`
	Generic     GenericConf         `mapstructure:"generic"`
}

var defaultTimeouts = map[task.Kind]time.Duration{
	task.KindCode:    5 * time.Minute,
	task.KindQuality: 2 * time.Minute,
	task.KindMemory:  time.Minute,
	task.KindGeneric: time.Minute,
}

func (c *Conf) SetDefaults() {
	if c.Workspace == "" {
		c.Workspace = "./workspace"
	}
	if c.IndexPrefix == "" {
		c.IndexPrefix = "{dispatch}:memory:"
	}
	if c.Kinds == nil {
		c.Kinds = make(map[string]KindConf)
	}
}

// Options 类型对应的注册参数
func (c *Conf) Options(kind task.Kind) []RegisterOption {
	kc := c.Kinds[string(kind)]
	timeout := defaultTimeouts[kind]
	if kc.Timeout > 0 {
		timeout = time.Duration(kc.Timeout) * time.Second
	}
	return []RegisterOption{
		WithTimeout(timeout),
		WithMaxAttempts(kc.MaxAttempts),
		WithChannel(kc.Channel),
	}
}

func ProvideGenerator(conf GeneratorConf) Generator {
	gen := NewGenerator(conf)
	if gen == nil {
		log.Warn("generator is disabled, code worker will fail and quality worker runs static checks only")
	}
	return gen
}

// ProvideMemoryIndex 有 Redis 时使用 RedisIndex
func ProvideMemoryIndex(conf Conf, client redis.UniversalClient) MemoryIndex {
	if client == nil {
		return NewInMemoryIndex()
	}
	conf.SetDefaults()
	return NewRedisIndex(client, conf.IndexPrefix)
}

// ProvideRegistry 注册内置 worker
func ProvideRegistry(conf Conf, gen Generator, index MemoryIndex) *Registry {
	conf.SetDefaults()

	r := NewRegistry()
	r.Register(NewCodeWorker(gen, conf.Workspace), conf.Options(task.KindCode)...)
	r.Register(NewQualityWorker(gen), conf.Options(task.KindQuality)...)
	r.Register(NewMemoryWorker(index, gen), conf.Options(task.KindMemory)...)
	r.Register(NewGenericWorker(conf.Generic), conf.Options(task.KindGeneric)...)

	log.Infow("workers registered", "kinds", r.Kinds(), "channels", r.Channels())
	return r
}
