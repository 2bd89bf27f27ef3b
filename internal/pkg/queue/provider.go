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

package queue

import (
	"context"
	"time"

	"github.com/go-arcade/dispatch/pkg/log"
	"github.com/google/wire"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// ProviderSet 提供 queue 相关的依赖
var ProviderSet = wire.NewSet(ProvideStore, ProvideBridge)

// Conf 队列存储配置
type Conf struct {
	Backend      string `mapstructure:"backend"` // memory | redis
	KeyPrefix    string `mapstructure:"keyPrefix"`
	RecoverAfter int    `mapstructure:"recoverAfter"` // 秒，启动时回收超过该时长的执行中信封
}

func (c *Conf) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
}

// ProvideStore 根据配置选择存储实现，redis 未启用时退回内存
func ProvideStore(conf Conf, client redis.UniversalClient) (Store, func(), error) {
	conf.SetDefaults()

	if conf.Backend != "redis" || client == nil {
		if conf.Backend == "redis" {
			log.Warn("queue backend is redis but redis is not enabled, falling back to memory store")
		}
		store := NewMemoryStore()
		return store, func() { _ = store.Close() }, nil
	}

	store := NewRedisStore(client, conf.KeyPrefix)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := store.Recover(ctx, time.Duration(conf.RecoverAfter)*time.Second)
	if err != nil {
		return nil, nil, err
	}
	log.Infow("redis queue store ready", "prefix", conf.KeyPrefix, "recovered", n)
	return store, func() { _ = store.Close() }, nil
}

// ProvideBridge 未启用或没有 Redis 时返回 nil
func ProvideBridge(conf BridgeConfig, client redis.UniversalClient) (*Bridge, error) {
	if !conf.Enabled || client == nil {
		return nil, nil
	}
	return NewBridge(RedisConnOpt(client), conf)
}

// ClientOpt 供 CLI 直接连接 Redis
func ClientOpt(addr, password string, db int) asynq.RedisConnOpt {
	return asynq.RedisClientOpt{Addr: addr, Password: password, DB: db}
}
