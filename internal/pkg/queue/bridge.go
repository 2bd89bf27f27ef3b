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
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-arcade/dispatch/internal/pkg/task"
	"github.com/go-arcade/dispatch/pkg/log"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

/**
 * @file: bridge.go
 * @description: 基于 asynq 的跨进程提交入口，handler 调用 Submit 写入分发队列
 */

const (
	// TypeSubmit asynq 任务类型
	TypeSubmit = "dispatch:submit"
	// DefaultIngressQueue 默认的 asynq 队列名
	DefaultIngressQueue = "dispatch"
)

// SubmitPayload 跨进程提交的任务负载
type SubmitPayload struct {
	Kind        string         `json:"kind"`
	Payload     map[string]any `json:"payload"`
	Priority    int            `json:"priority"`
	MaxAttempts int            `json:"max_attempts"`
	Channel     string         `json:"channel,omitempty"`
}

// Submitter 由分发服务实现
type Submitter interface {
	Submit(ctx context.Context, kind task.Kind, payload map[string]any, opts ...task.Option) (string, error)
}

// BridgeConfig asynq 入口配置
type BridgeConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Queue           string `mapstructure:"queue"`
	Concurrency     int    `mapstructure:"concurrency"`
	LogLevel        string `mapstructure:"logLevel"`        // debug, info, warn, error
	ShutdownTimeout int    `mapstructure:"shutdownTimeout"` // 秒
	MaxRetry        int    `mapstructure:"maxRetry"`
}

func (c *BridgeConfig) SetDefaults() {
	if c.Queue == "" {
		c.Queue = DefaultIngressQueue
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = 5
	}
}

// Bridge asynq 客户端与服务端
type Bridge struct {
	client   *asynq.Client
	server   *asynq.Server
	mux      *asynq.ServeMux
	config   BridgeConfig
	redisOpt asynq.RedisConnOpt
}

// NewBridge 创建入口，client 复用已有的 Redis 连接
func NewBridge(redisOpt asynq.RedisConnOpt, cfg BridgeConfig) (*Bridge, error) {
	if redisOpt == nil {
		return nil, fmt.Errorf("redis connection is required")
	}
	cfg.SetDefaults()
	return &Bridge{
		client:   asynq.NewClient(redisOpt),
		mux:      asynq.NewServeMux(),
		config:   cfg,
		redisOpt: redisOpt,
	}, nil
}

// Enqueue 发布一个提交任务
func (b *Bridge) Enqueue(ctx context.Context, p *SubmitPayload) (*asynq.TaskInfo, error) {
	if p == nil || p.Kind == "" {
		return nil, task.ErrInvalidKind
	}
	data, err := sonic.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal submit payload: %w", err)
	}

	info, err := b.client.EnqueueContext(ctx, asynq.NewTask(TypeSubmit, data),
		asynq.Queue(b.config.Queue),
		asynq.MaxRetry(b.config.MaxRetry),
		asynq.Timeout(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue submit task: %w", err)
	}
	log.Infow("submit task enqueued", "kind", p.Kind, "queue", b.config.Queue, "asynq_task_id", info.ID)
	return info, nil
}

// Serve 注册 handler 并启动 asynq 服务端，立即返回
func (b *Bridge) Serve(submitter Submitter) error {
	var logLevel asynq.LogLevel
	if err := logLevel.Set(b.config.LogLevel); err != nil {
		log.Warnw("invalid log level, using default info", "logLevel", b.config.LogLevel, "error", err)
		logLevel = asynq.InfoLevel
	}

	b.server = asynq.NewServer(b.redisOpt, asynq.Config{
		Concurrency:     b.config.Concurrency,
		Queues:          map[string]int{b.config.Queue: 1},
		Logger:          &asynqLoggerAdapter{},
		LogLevel:        logLevel,
		RetryDelayFunc:  asynq.DefaultRetryDelayFunc,
		ShutdownTimeout: time.Duration(b.config.ShutdownTimeout) * time.Second,
	})
	b.mux.HandleFunc(TypeSubmit, SubmitHandler(submitter))

	log.Infow("starting ingress bridge", "queue", b.config.Queue, "concurrency", b.config.Concurrency)
	return b.server.Start(b.mux)
}

// SubmitHandler 把 asynq 任务转为一次 Submit
// 无效类型不会被 asynq 重试
func SubmitHandler(submitter Submitter) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p SubmitPayload
		if err := sonic.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("unmarshal submit payload: %v: %w", err, asynq.SkipRetry)
		}

		opts := []task.Option{task.WithPriority(p.Priority), task.WithChannel(p.Channel)}
		if p.MaxAttempts > 0 {
			opts = append(opts, task.WithMaxAttempts(p.MaxAttempts))
		}
		taskID, err := submitter.Submit(ctx, task.Kind(p.Kind), p.Payload, opts...)
		switch {
		case errors.Is(err, task.ErrInvalidKind):
			log.Warnw("dropping submit with invalid kind", "kind", p.Kind)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		case err != nil:
			return err
		}
		log.Infow("task submitted via ingress", "task_id", taskID, "kind", p.Kind)
		return nil
	}
}

// Inspector 用于队列指标采集
func (b *Bridge) Inspector() *asynq.Inspector {
	return asynq.NewInspector(b.redisOpt)
}

// Shutdown 关闭服务端与客户端
func (b *Bridge) Shutdown() {
	if b.server != nil {
		b.server.Shutdown()
		log.Info("ingress bridge server shut down")
	}
	if err := b.client.Close(); err != nil {
		log.Warnw("error closing asynq client", "error", err)
	}
}

// RedisConnOpt 包装已有的 Redis 客户端
func RedisConnOpt(client redis.UniversalClient) asynq.RedisConnOpt {
	return &redisConnOptWrapper{client: client}
}

// redisConnOptWrapper 包装已有的 Redis 客户端实现 RedisConnOpt 接口
type redisConnOptWrapper struct {
	client redis.UniversalClient
}

func (r *redisConnOptWrapper) MakeRedisClient() any {
	return r.client
}
