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
	"github.com/gofiber/fiber/v2/middleware/cors"
)

const allowMethods = "GET, POST, DELETE, OPTIONS"

// CorsMiddleware 跨域中间件，来源与请求头取自 http.cors 配置
func CorsMiddleware(conf http.Cors) fiber.Handler {
	conf.SetDefaults()
	return cors.New(cors.Config{
		AllowOrigins:     conf.Origins(),
		AllowMethods:     allowMethods,
		AllowHeaders:     conf.Headers(),
		ExposeHeaders:    conf.ExposedHeaders(),
		AllowCredentials: conf.AllowCredentials && !conf.Wildcard(),
		MaxAge:           conf.MaxAge,
	})
}
