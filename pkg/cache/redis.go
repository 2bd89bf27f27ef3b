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

package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/go-arcade/dispatch/pkg/log"
	"github.com/redis/go-redis/v9"
)

type Redis struct {
	Enabled          bool          `mapstructure:"enabled"`
	Mode             string        `mapstructure:"mode"` // single | sentinel | cluster
	Address          string        `mapstructure:"address"`
	Password         string        `mapstructure:"password"`
	DB               int           `mapstructure:"db"`
	PoolSize         int           `mapstructure:"poolSize"`
	UseTLS           bool          `mapstructure:"useTLS"`
	MasterName       string        `mapstructure:"masterName"`
	SentinelUsername string        `mapstructure:"sentinelUsername"`
	SentinelPassword string        `mapstructure:"sentinelPassword"`
	DialTimeout      time.Duration `mapstructure:"dialTimeout"`  // 连接超时（秒）
	ReadTimeout      time.Duration `mapstructure:"readTimeout"`  // 读超时（秒）
	WriteTimeout     time.Duration `mapstructure:"writeTimeout"` // 写超时（秒）
}

// SetDefaults 设置默认值
func (c *Redis) SetDefaults() {
	if c.Mode == "" {
		c.Mode = "single"
	}
	if c.Address == "" {
		c.Address = "localhost:6379"
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 20
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 3
	}
}

// NewRedis 创建 Redis 客户端并 ping 检查连通性
func NewRedis(cfg Redis) (redis.UniversalClient, error) {
	cfg.SetDefaults()

	var tlsConfig *tls.Config
	if cfg.UseTLS {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	var client redis.UniversalClient
	switch cfg.Mode {
	case "single":
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Address,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			DialTimeout:  cfg.DialTimeout * time.Second,
			ReadTimeout:  cfg.ReadTimeout * time.Second,
			WriteTimeout: cfg.WriteTimeout * time.Second,
			TLSConfig:    tlsConfig,
		})
	case "sentinel":
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       cfg.MasterName,
			SentinelAddrs:    strings.Split(cfg.Address, ","),
			Password:         cfg.Password,
			DB:               cfg.DB,
			PoolSize:         cfg.PoolSize,
			SentinelUsername: cfg.SentinelUsername,
			SentinelPassword: cfg.SentinelPassword,
			DialTimeout:      cfg.DialTimeout * time.Second,
			ReadTimeout:      cfg.ReadTimeout * time.Second,
			WriteTimeout:     cfg.WriteTimeout * time.Second,
			TLSConfig:        tlsConfig,
		})
	case "cluster":
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        strings.Split(cfg.Address, ","),
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			DialTimeout:  cfg.DialTimeout * time.Second,
			ReadTimeout:  cfg.ReadTimeout * time.Second,
			WriteTimeout: cfg.WriteTimeout * time.Second,
			TLSConfig:    tlsConfig,
		})
	default:
		return nil, fmt.Errorf("unsupported redis mode: %s", cfg.Mode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		log.Errorw("failed to connect redis", "address", cfg.Address, "error", err)
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Address, err)
	}

	log.Infow("redis connected", "mode", cfg.Mode, "address", cfg.Address)
	return client, nil
}
