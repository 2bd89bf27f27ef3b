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
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-arcade/dispatch/pkg/log"
	"github.com/go-arcade/dispatch/pkg/retry"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

/**
 * @file: generator.go
 * @description: OpenAI 兼容的文本生成客户端，单 key 限流 + 指数退避；
 *               可配置多个 provider，按顺序回退
 */

var ErrGeneratorDisabled = errors.New("generator not configured")

// Generator 文本生成
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type GeneratorConf struct {
	Name              string  `mapstructure:"name"`
	Enabled           bool    `mapstructure:"enabled"`
	BaseURL           string  `mapstructure:"baseURL"`
	APIKey            string  `mapstructure:"apiKey"`
	Model             string  `mapstructure:"model"`
	Temperature       float64 `mapstructure:"temperature"`
	MaxTokens         int     `mapstructure:"maxTokens"`
	Timeout           int     `mapstructure:"timeout"` // 秒，单次请求
	RequestsPerMinute int     `mapstructure:"requestsPerMinute"`
	RequestsPerHour   int     `mapstructure:"requestsPerHour"`
	MaxRetries        int     `mapstructure:"maxRetries"`
	StaticResponse    string  `mapstructure:"staticResponse"` // 未启用时的固定返回，便于离线联调
	// Fallbacks 主 provider 失败后依次尝试，未启用的条目忽略
	Fallbacks []GeneratorConf `mapstructure:"fallbacks"`
}

func (c *GeneratorConf) SetDefaults() {
	if c.Name == "" {
		c.Name = "primary"
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.2
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout <= 0 {
		c.Timeout = 120
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 100
	}
	if c.RequestsPerHour <= 0 {
		c.RequestsPerHour = 3000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// statusError 非 2xx 响应
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("generator returned status %d: %s", e.code, e.body)
}

func retryableGeneratorError(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= http.StatusInternalServerError
	}
	return retry.IsRetryableError(err)
}

// HTTPGenerator 所有 worker 共享一个实例，限流对整个进程生效
type HTTPGenerator struct {
	client *resty.Client
	conf   GeneratorConf
	minute *rate.Limiter
	hour   *rate.Limiter
	policy retry.Policy

	requests atomic.Int64
	retries  atomic.Int64
}

func NewHTTPGenerator(conf GeneratorConf) *HTTPGenerator {
	conf.SetDefaults()

	client := resty.New().
		SetBaseURL(strings.TrimRight(conf.BaseURL, "/")).
		SetTimeout(time.Duration(conf.Timeout)*time.Second).
		SetHeader("Content-Type", "application/json").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)
	if conf.APIKey != "" {
		client.SetAuthToken(conf.APIKey)
	}

	return &HTTPGenerator{
		client: client,
		conf:   conf,
		minute: rate.NewLimiter(rate.Limit(float64(conf.RequestsPerMinute)/60), conf.RequestsPerMinute),
		hour:   rate.NewLimiter(rate.Limit(float64(conf.RequestsPerHour)/3600), conf.RequestsPerHour),
		policy: retry.DefaultPolicy(),
	}
}

// Generate 先等待限流令牌，429 / 5xx 按退避策略重试
func (g *HTTPGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var content string
	err := retry.Do(ctx, func(ctx context.Context) error {
		if err := g.minute.Wait(ctx); err != nil {
			return err
		}
		if err := g.hour.Wait(ctx); err != nil {
			return err
		}
		g.requests.Add(1)

		var out chatResponse
		resp, err := g.client.R().
			SetContext(ctx).
			SetBody(chatRequest{
				Model:       g.conf.Model,
				Messages:    []chatMessage{{Role: "user", Content: prompt}},
				Temperature: g.conf.Temperature,
				MaxTokens:   g.conf.MaxTokens,
			}).
			SetResult(&out).
			Post("/chat/completions")
		if err != nil {
			return err
		}
		if resp.IsError() {
			return &statusError{code: resp.StatusCode(), body: truncate(resp.String(), 256)}
		}
		if len(out.Choices) == 0 {
			return fmt.Errorf("generator returned no choices")
		}
		content = out.Choices[0].Message.Content
		return nil
	},
		retry.WithMaxAttempts(g.conf.MaxRetries),
		retry.WithPolicy(g.policy),
		retry.WithRetryIf(retryableGeneratorError),
		retry.WithOnRetry(func(attempt int, err error, wait time.Duration) {
			g.retries.Add(1)
			log.WithContext(ctx).Warnw("generator request failed, backing off", "attempt", attempt+1, "wait", wait, "error", err)
		}),
	)
	return content, err
}

// RequestStats 已发送请求数与重试次数
func (g *HTTPGenerator) RequestStats() (requests, retries int64) {
	return g.requests.Load(), g.retries.Load()
}

// StaticGenerator 返回固定内容，用于离线运行和测试
type StaticGenerator struct {
	Response string
	Err      error
	calls    atomic.Int64
}

func (g *StaticGenerator) Generate(ctx context.Context, _ string) (string, error) {
	g.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return g.Response, g.Err
}

func (g *StaticGenerator) Calls() int64 { return g.calls.Load() }

// GeneratorFunc 函数适配器
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// NamedGenerator 回退链中的一个 provider
type NamedGenerator struct {
	Name      string
	Generator Generator
}

// FallbackGenerator 按顺序尝试 provider，返回第一个成功的结果
type FallbackGenerator struct {
	providers []NamedGenerator
}

func NewFallbackGenerator(providers ...NamedGenerator) *FallbackGenerator {
	return &FallbackGenerator{providers: providers}
}

func (g *FallbackGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var errs []error
	for i, p := range g.providers {
		out, err := p.Generator.Generate(ctx, prompt)
		if err == nil {
			if i > 0 {
				log.WithContext(ctx).Infow("generator fallback succeeded", "provider", p.Name, "position", i)
			}
			return out, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
		if ctx.Err() != nil {
			break
		}
		log.WithContext(ctx).Warnw("generator provider failed", "provider", p.Name, "error", err)
	}
	if len(errs) == 0 {
		return "", ErrGeneratorDisabled
	}
	return "", errors.Join(errs...)
}

// Providers 回退顺序
func (g *FallbackGenerator) Providers() []string {
	names := make([]string, 0, len(g.providers))
	for _, p := range g.providers {
		names = append(names, p.Name)
	}
	return names
}

// NewGenerator 有多个启用的 provider 时组成回退链；都未启用时返回 StaticGenerator，
// StaticResponse 为空则返回 nil
func NewGenerator(conf GeneratorConf) Generator {
	var chain []NamedGenerator
	for i, c := range append([]GeneratorConf{conf}, conf.Fallbacks...) {
		if !c.Enabled {
			continue
		}
		c.Fallbacks = nil
		if c.Name == "" && i > 0 {
			c.Name = fmt.Sprintf("fallback-%d", i)
		}
		c.SetDefaults()
		chain = append(chain, NamedGenerator{Name: c.Name, Generator: NewHTTPGenerator(c)})
	}
	switch len(chain) {
	case 0:
	case 1:
		return chain[0].Generator
	default:
		return NewFallbackGenerator(chain...)
	}
	if conf.StaticResponse != "" {
		return &StaticGenerator{Response: conf.StaticResponse}
	}
	return nil
}

var codeLanguages = map[string]bool{
	"go": true, "golang": true, "python": true, "javascript": true, "typescript": true,
	"html": true, "css": true, "bash": true, "sh": true, "json": true, "yaml": true,
}

// ExtractCodeBlock 取第一个 ``` 代码块，去掉语言标识；没有代码块时原样返回
func ExtractCodeBlock(s string) string {
	parts := strings.Split(s, "```")
	if len(parts) < 3 {
		return s
	}
	block := strings.TrimSpace(parts[1])
	first, rest, found := strings.Cut(block, "\n")
	if found && codeLanguages[strings.ToLower(strings.TrimSpace(first))] {
		return rest
	}
	return block
}

// ExtractJSON 取 ```json 代码块或第一个以 { 开头的代码块
func ExtractJSON(s string) string {
	if _, after, ok := strings.Cut(s, "```json"); ok {
		body, _, _ := strings.Cut(after, "```")
		return strings.TrimSpace(body)
	}
	parts := strings.Split(s, "```")
	for i := 1; i < len(parts); i += 2 {
		if b := strings.TrimSpace(parts[i]); strings.HasPrefix(b, "{") {
			return b
		}
	}
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
