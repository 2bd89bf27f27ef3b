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

package id

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/xid"
)

/**
 * @file: id.go
 * @description: 任务、流水线、请求使用的唯一标识
 */

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// TaskID 生成任务 id（ULID），同一毫秒内单调递增
func TaskID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}

// PipelineID 生成流水线运行 id（xid）
func PipelineID() string {
	return xid.New().String()
}

// RequestID 生成请求 id（UUID）
func RequestID() string {
	return uuid.NewString()
}

// RequestIDWithoutDashes 生成不带横线的 UUID
func RequestIDWithoutDashes() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
