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

package task

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageUnavailable 队列存储无法读写
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrInvalidKind 任务类型未注册
	ErrInvalidKind = errors.New("invalid task kind")
	// ErrExecutionFailure worker 执行失败、panic 或超时
	ErrExecutionFailure = errors.New("execution failure")
	// ErrTimeout 仅由 Wait 返回，不代表任务失败
	ErrTimeout = errors.New("timed out waiting for result")

	ErrNotFound          = errors.New("task not found")
	ErrNotReady          = errors.New("result not ready")
	ErrNotPending        = errors.New("task is not pending")
	ErrNotAbandoned      = errors.New("task is not abandoned")
	ErrAlreadyRecorded   = errors.New("result already recorded for attempt")
	ErrShuttingDown      = errors.New("dispatcher is shutting down")
	ErrEmpty             = errors.New("queue is empty")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrCanceled          = errors.New("canceled")
)

// PipelineStageFailure 必需阶段失败，流水线停止
type PipelineStageFailure struct {
	PipelineID string
	StageIndex int
	Stage      string
	Cause      error
}

func (e *PipelineStageFailure) Error() string {
	return fmt.Sprintf("pipeline %s failed at stage %d (%s): %v", e.PipelineID, e.StageIndex, e.Stage, e.Cause)
}

func (e *PipelineStageFailure) Unwrap() error {
	return e.Cause
}
