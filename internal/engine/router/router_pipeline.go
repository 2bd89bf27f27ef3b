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
	"github.com/go-arcade/dispatch/internal/pkg/pipeline"
	"github.com/go-arcade/dispatch/pkg/http/middleware"
	"github.com/gofiber/fiber/v2"
)

// RunPipelineReq name 与 definition 二选一
type RunPipelineReq struct {
	Name       string               `json:"name"`
	Definition *pipeline.Definition `json:"definition"`
	Payload    map[string]any       `json:"payload"`
}

func (rt *Router) pipelineRouter(r fiber.Router) {
	pipelines := r.Group("/pipelines")
	{
		pipelines.Get("", rt.listPipelines)
		pipelines.Post("", rt.runPipeline)
		pipelines.Get("/:id", rt.getPipeline)
	}
}

// listPipelines GET /pipelines
func (rt *Router) listPipelines(c *fiber.Ctx) error {
	c.Locals(middleware.DETAIL, fiber.Map{"pipelines": rt.Service.PipelineNames()})
	return nil
}

// runPipeline POST /pipelines
func (rt *Router) runPipeline(c *fiber.Ctx) error {
	var req RunPipelineReq
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.Name == "" && req.Definition == nil {
		return badRequest(c, "name or definition is required")
	}

	id, err := rt.Service.RunPipeline(c.UserContext(), req.Name, req.Definition, req.Payload)
	if err != nil {
		return replyErr(c, err)
	}
	c.Status(fiber.StatusAccepted)
	c.Locals(middleware.DETAIL, fiber.Map{"pipeline_id": id})
	return nil
}

// getPipeline GET /pipelines/:id
func (rt *Router) getPipeline(c *fiber.Ctx) error {
	snap, err := rt.Service.PipelineStatus(c.Params("id"))
	if err != nil {
		return replyErr(c, err)
	}
	c.Locals(middleware.DETAIL, snap)
	return nil
}
