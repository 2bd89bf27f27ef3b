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

package router

import (
	"time"

	"github.com/go-arcade/dispatch/internal/pkg/task"
	"github.com/go-arcade/dispatch/pkg/http/middleware"
	"github.com/gofiber/fiber/v2"
)

const (
	defaultWaitTimeout = 30 * time.Second
	maxWaitTimeout     = 5 * time.Minute
)

type SubmitReq struct {
	Kind        string         `json:"kind"`
	Payload     map[string]any `json:"payload"`
	Priority    int            `json:"priority"`
	MaxAttempts int            `json:"max_attempts"`
}

func (rt *Router) taskRouter(r fiber.Router) {
	tasks := r.Group("/tasks")
	{
		tasks.Post("", rt.submitTask)
		tasks.Get("/:id", rt.getTask)
		tasks.Delete("/:id", rt.cancelTask)
		tasks.Get("/:id/result", rt.getResult)
		tasks.Get("/:id/history", rt.getHistory)
		tasks.Get("/:id/wait", rt.waitTask)
	}
}

// submitTask POST /tasks
func (rt *Router) submitTask(c *fiber.Ctx) error {
	var req SubmitReq
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.Kind == "" {
		return badRequest(c, "kind is required")
	}

	opts := []task.Option{task.WithPriority(req.Priority)}
	if req.MaxAttempts > 0 {
		opts = append(opts, task.WithMaxAttempts(req.MaxAttempts))
	}
	id, err := rt.Service.Submit(c.UserContext(), task.Kind(req.Kind), req.Payload, opts...)
	if err != nil {
		return replyErr(c, err)
	}

	c.Status(fiber.StatusAccepted)
	c.Locals(middleware.DETAIL, fiber.Map{"task_id": id})
	return nil
}

// getTask GET /tasks/:id
func (rt *Router) getTask(c *fiber.Ctx) error {
	env, err := rt.Service.Status(c.UserContext(), c.Params("id"))
	if err != nil {
		return replyErr(c, err)
	}
	c.Locals(middleware.DETAIL, env)
	return nil
}

// cancelTask DELETE /tasks/:id
func (rt *Router) cancelTask(c *fiber.Ctx) error {
	if err := rt.Service.Cancel(c.UserContext(), c.Params("id")); err != nil {
		return replyErr(c, err)
	}
	c.Locals(middleware.OPERATION, true)
	return nil
}

// getResult GET /tasks/:id/result
func (rt *Router) getResult(c *fiber.Ctx) error {
	res, err := rt.Service.Result(c.UserContext(), c.Params("id"))
	if err != nil {
		return replyErr(c, err)
	}
	c.Locals(middleware.DETAIL, res)
	return nil
}

// getHistory GET /tasks/:id/history
func (rt *Router) getHistory(c *fiber.Ctx) error {
	history, err := rt.Service.History(c.UserContext(), c.Params("id"))
	if err != nil {
		return replyErr(c, err)
	}
	c.Locals(middleware.DETAIL, fiber.Map{"results": history, "count": len(history)})
	return nil
}

// waitTask GET /tasks/:id/wait?timeout=30s
func (rt *Router) waitTask(c *fiber.Ctx) error {
	timeout := defaultWaitTimeout
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return badRequest(c, "invalid timeout: "+raw)
		}
		timeout = min(d, maxWaitTimeout)
	}

	res, err := rt.Service.Wait(c.UserContext(), c.Params("id"), timeout)
	if err != nil {
		return replyErr(c, err)
	}
	c.Locals(middleware.DETAIL, res)
	return nil
}
