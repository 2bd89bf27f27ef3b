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
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
)

// envelope 服务端统一响应
type envelope struct {
	Code   int             `json:"code"`
	Msg    string          `json:"msg"`
	Detail json.RawMessage `json:"detail,omitempty"`
}

type errEnvelope struct {
	Code   int    `json:"code"`
	ErrMsg string `json:"errMsg"`
	Path   string `json:"path"`
}

// APIError 服务端返回的业务错误
type APIError struct {
	Status int
	Code   int
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed (http %d, code %d): %s", e.Status, e.Code, e.Msg)
}

// Client dispatch HTTP API 客户端
type Client struct {
	rc *resty.Client
}

func NewClient(server, contextPath string, timeout time.Duration) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(server, "/")+contextPath).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)
	return &Client{rc: rc}
}

// do 发送请求，成功时把 detail 解到 out
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req := c.rc.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}

	if resp.IsError() || (resp.StatusCode() == 202 && isErrorBody(resp.Body())) {
		var e errEnvelope
		if err := sonic.Unmarshal(resp.Body(), &e); err != nil || e.Code == 0 {
			return &APIError{Status: resp.StatusCode(), Msg: strings.TrimSpace(resp.String())}
		}
		return &APIError{Status: resp.StatusCode(), Code: e.Code, Msg: e.ErrMsg}
	}

	if out == nil {
		return nil
	}
	var env envelope
	if err := sonic.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(env.Detail) == 0 {
		return nil
	}
	return sonic.Unmarshal(env.Detail, out)
}

// isErrorBody NotReady 以 202 返回错误体
func isErrorBody(body []byte) bool {
	var fields map[string]any
	if err := sonic.Unmarshal(body, &fields); err != nil {
		return false
	}
	_, ok := fields["errMsg"]
	return ok
}

func (c *Client) Submit(ctx context.Context, kind string, payload map[string]any, priority, maxAttempts int) (string, error) {
	var out struct {
		TaskID string `json:"task_id"`
	}
	body := map[string]any{"kind": kind, "payload": payload, "priority": priority, "max_attempts": maxAttempts}
	if err := c.do(ctx, resty.MethodPost, "/tasks", body, &out); err != nil {
		return "", err
	}
	return out.TaskID, nil
}

func (c *Client) Status(ctx context.Context, id string) (map[string]any, error) {
	var out map[string]any
	return out, c.do(ctx, resty.MethodGet, "/tasks/"+url.PathEscape(id), nil, &out)
}

func (c *Client) Result(ctx context.Context, id string) (map[string]any, error) {
	var out map[string]any
	return out, c.do(ctx, resty.MethodGet, "/tasks/"+url.PathEscape(id)+"/result", nil, &out)
}

func (c *Client) History(ctx context.Context, id string) (map[string]any, error) {
	var out map[string]any
	return out, c.do(ctx, resty.MethodGet, "/tasks/"+url.PathEscape(id)+"/history", nil, &out)
}

func (c *Client) Wait(ctx context.Context, id string, timeout time.Duration) (map[string]any, error) {
	var out map[string]any
	path := "/tasks/" + url.PathEscape(id) + "/wait?timeout=" + url.QueryEscape(timeout.String())
	return out, c.do(ctx, resty.MethodGet, path, nil, &out)
}

func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.do(ctx, resty.MethodDelete, "/tasks/"+url.PathEscape(id), nil, nil)
}

func (c *Client) RunPipeline(ctx context.Context, name string, def any, payload map[string]any) (string, error) {
	var out struct {
		PipelineID string `json:"pipeline_id"`
	}
	body := map[string]any{"payload": payload}
	if def != nil {
		body["definition"] = def
	} else {
		body["name"] = name
	}
	if err := c.do(ctx, resty.MethodPost, "/pipelines", body, &out); err != nil {
		return "", err
	}
	return out.PipelineID, nil
}

func (c *Client) PipelineStatus(ctx context.Context, id string) (map[string]any, error) {
	var out map[string]any
	return out, c.do(ctx, resty.MethodGet, "/pipelines/"+url.PathEscape(id), nil, &out)
}

func (c *Client) Pipelines(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	return out, c.do(ctx, resty.MethodGet, "/pipelines", nil, &out)
}

func (c *Client) QueueDepth(ctx context.Context, channel string) (int, error) {
	var out struct {
		Depth int `json:"depth"`
	}
	if err := c.do(ctx, resty.MethodGet, "/admin/queues/"+url.PathEscape(channel)+"/depth", nil, &out); err != nil {
		return 0, err
	}
	return out.Depth, nil
}

func (c *Client) Requeue(ctx context.Context, id string) error {
	return c.do(ctx, resty.MethodPost, "/admin/tasks/"+url.PathEscape(id)+"/requeue", nil, nil)
}

func (c *Client) Workers(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	return out, c.do(ctx, resty.MethodGet, "/admin/workers", nil, &out)
}

func (c *Client) Schedules(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	return out, c.do(ctx, resty.MethodGet, "/admin/schedules", nil, &out)
}
