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
	"github.com/go-arcade/dispatch/pkg/http/middleware"
	"github.com/gofiber/fiber/v2"
)

func (rt *Router) adminRouter(r fiber.Router) {
	r.Get("/queues/:channel/depth", rt.queueDepth)
	r.Post("/tasks/:id/requeue", rt.requeueTask)
	r.Get("/workers", rt.workerStats)
	r.Get("/schedules", rt.listSchedules)
	r.Post("/schedules/:name/trigger", rt.triggerSchedule)
}

// queueDepth GET /admin/queues/:channel/depth
func (rt *Router) queueDepth(c *fiber.Ctx) error {
	channel := c.Params("channel")
	depth, err := rt.Service.QueueDepth(c.UserContext(), channel)
	if err != nil {
		return replyErr(c, err)
	}
	c.Locals(middleware.DETAIL, fiber.Map{"channel": channel, "depth": depth})
	return nil
}

// requeueTask POST /admin/tasks/:id/requeue
func (rt *Router) requeueTask(c *fiber.Ctx) error {
	if err := rt.Service.RequeueAbandoned(c.UserContext(), c.Params("id")); err != nil {
		return replyErr(c, err)
	}
	c.Locals(middleware.OPERATION, true)
	return nil
}

// workerStats GET /admin/workers
func (rt *Router) workerStats(c *fiber.Ctx) error {
	c.Locals(middleware.DETAIL, rt.Service.WorkerStats())
	return nil
}

// listSchedules GET /admin/schedules
func (rt *Router) listSchedules(c *fiber.Ctx) error {
	if rt.Scheduler == nil {
		c.Locals(middleware.DETAIL, fiber.Map{"schedules": []any{}})
		return nil
	}
	c.Locals(middleware.DETAIL, fiber.Map{"schedules": rt.Scheduler.List()})
	return nil
}

// triggerSchedule POST /admin/schedules/:name/trigger
func (rt *Router) triggerSchedule(c *fiber.Ctx) error {
	if rt.Scheduler == nil {
		return badRequest(c, "scheduler is not enabled")
	}
	id, err := rt.Scheduler.Trigger(c.UserContext(), c.Params("name"))
	if err != nil {
		return replyErr(c, err)
	}
	c.Locals(middleware.DETAIL, fiber.Map{"id": id})
	return nil
}
