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

import "github.com/gofiber/fiber/v2"

var (
	Failed                        = failed(500, "Request failed")
	RequestParameterParsingFailed = failed(5001, "Request parameter parsing failed")

	// BadRequest 400
	BadRequest  = failed(4000, "Bad request")
	InvalidKind = failed(4001, "Task kind is not registered")
	NotFound    = failed(4004, "Not found")

	// 任务状态相关
	Timeout            = failed(4080, "Timed out waiting for result")
	NotReady           = failed(4090, "Result not ready")
	Conflict           = failed(4091, "Operation not allowed in current state")
	Shutdown           = failed(5031, "Service is shutting down")
	StorageUnavailable = failed(5030, "Storage unavailable")

	InternalError = failed(5000, "Internal error, please contact the administrator")
)

var (
	Success = success(200, "Request Success")
)

// HTTPStatus 业务码对应的 HTTP 状态码
func HTTPStatus(code int) int {
	switch code {
	case BadRequest.Code, InvalidKind.Code, RequestParameterParsingFailed.Code:
		return fiber.StatusBadRequest
	case NotFound.Code:
		return fiber.StatusNotFound
	case Timeout.Code:
		return fiber.StatusRequestTimeout
	case NotReady.Code:
		return fiber.StatusAccepted
	case Conflict.Code:
		return fiber.StatusConflict
	case StorageUnavailable.Code, Shutdown.Code:
		return fiber.StatusServiceUnavailable
	case Success.Code:
		return fiber.StatusOK
	default:
		return fiber.StatusInternalServerError
	}
}

// failed 构造函数
func failed(code int, msg string) *Response {
	return &Response{Code: code, Msg: msg}
}

// success 构造函数
func success(code int, msg string) *Response {
	return &Response{Code: code, Msg: msg}
}
