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

package middleware

import (
	"github.com/go-arcade/dispatch/pkg/http"
	"github.com/gofiber/fiber/v2"
)

const (
	// DETAIL handler 将响应数据放入 Locals，由中间件统一包装
	DETAIL = "detail"
	// OPERATION 无数据的成功操作
	OPERATION = "operation"
)

// UnifiedResponseMiddleware 统一响应包装
// handler 自行写出的错误响应（非 2xx）原样返回
func UnifiedResponseMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := c.Next(); err != nil {
			return err
		}

		status := c.Response().StatusCode()
		if status < fiber.StatusOK || status >= fiber.StatusMultipleChoices {
			return nil
		}

		if detail := c.Locals(DETAIL); detail != nil {
			return http.WithRepDetail(c, detail)
		}
		if c.Locals(OPERATION) != nil {
			return http.WithRepNotDetail(c)
		}
		return nil
	}
}
