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

package http

import (
	"slices"
	"strings"
	"time"
)

/**
 * @file: http.go
 * @description: http server 配置
 */

type Http struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	ContextPath     string `mapstructure:"contextPath"`
	AccessLog       bool   `mapstructure:"accessLog"`
	ExposeMetrics   bool   `mapstructure:"exposeMetrics"`
	ReadTimeout     int    `mapstructure:"readTimeout"`     // 秒
	WriteTimeout    int    `mapstructure:"writeTimeout"`    // 秒，需大于 wait 接口的最长等待时间
	IdleTimeout     int    `mapstructure:"idleTimeout"`     // 秒
	ShutdownTimeout int    `mapstructure:"shutdownTimeout"` // 秒
	BodyLimit       int    `mapstructure:"bodyLimit"`       // 字节
	PProf           bool   `mapstructure:"pprof"`           // 挂载 /debug/pprof
	Cors            Cors   `mapstructure:"cors"`
}

// Cors 跨域配置；AllowOrigins 含 * 时不允许携带凭证
type Cors struct {
	AllowOrigins     []string `mapstructure:"allowOrigins"`
	AllowHeaders     []string `mapstructure:"allowHeaders"`
	ExposeHeaders    []string `mapstructure:"exposeHeaders"`
	AllowCredentials bool     `mapstructure:"allowCredentials"`
	MaxAge           int      `mapstructure:"maxAge"` // 秒
}

func (c *Cors) SetDefaults() {
	if len(c.AllowOrigins) == 0 {
		c.AllowOrigins = []string{"*"}
	}
	if len(c.AllowHeaders) == 0 {
		c.AllowHeaders = []string{"Origin", "X-Requested-With", "X-Request-Id", "Content-Type", "Accept"}
	}
	if len(c.ExposeHeaders) == 0 {
		c.ExposeHeaders = []string{"Content-Length", "X-Request-Id", "Content-Type"}
	}
}

// Wildcard 是否允许任意来源
func (c *Cors) Wildcard() bool {
	return slices.Contains(c.AllowOrigins, "*")
}

func joinHeader(values []string) string {
	return strings.Join(values, ", ")
}

func (c *Cors) Origins() string        { return joinHeader(c.AllowOrigins) }
func (c *Cors) Headers() string        { return joinHeader(c.AllowHeaders) }
func (c *Cors) ExposedHeaders() string { return joinHeader(c.ExposeHeaders) }

// SetDefaults 设置默认值
func (h *Http) SetDefaults() {
	if h.Host == "" {
		h.Host = "0.0.0.0"
	}
	if h.Port == 0 {
		h.Port = 8080
	}
	if h.ContextPath == "" {
		h.ContextPath = "/api/v1"
	}
	if h.ReadTimeout <= 0 {
		h.ReadTimeout = 30
	}
	if h.WriteTimeout <= 0 {
		h.WriteTimeout = 330
	}
	if h.IdleTimeout <= 0 {
		h.IdleTimeout = 60
	}
	if h.ShutdownTimeout <= 0 {
		h.ShutdownTimeout = 30
	}
	if h.BodyLimit <= 0 {
		h.BodyLimit = 8 * 1024 * 1024
	}
	h.Cors.SetDefaults()
}

func (h *Http) ReadTimeoutDuration() time.Duration { return time.Duration(h.ReadTimeout) * time.Second }
func (h *Http) WriteTimeoutDuration() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}
func (h *Http) IdleTimeoutDuration() time.Duration { return time.Duration(h.IdleTimeout) * time.Second }
