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

package statemachine

// TaskStatus 任务信封的生命周期状态
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskSucceeded  TaskStatus = "succeeded"
	TaskFailed     TaskStatus = "failed"
	TaskAbandoned  TaskStatus = "abandoned"
	TaskCanceled   TaskStatus = "canceled"
)

// taskRules 只读的状态转移表，所有信封共享
var taskRules = NewTaskRules()

// NewTaskRules 创建任务状态转移表
// pending → in_progress → succeeded | failed
// failed → pending (重试) | abandoned
func NewTaskRules() *StateMachine[TaskStatus] {
	sm := New[TaskStatus]()
	sm.Allow(TaskPending, TaskInProgress, TaskCanceled).
		Allow(TaskInProgress, TaskSucceeded, TaskFailed, TaskCanceled).
		Allow(TaskFailed, TaskPending, TaskAbandoned).
		Allow(TaskAbandoned, TaskPending). // 运维手动重新入队
		Terminal(TaskSucceeded, TaskAbandoned, TaskCanceled)
	return sm
}

// IsTerminal 判断是否为终止状态
func (ts TaskStatus) IsTerminal() bool {
	return taskRules.IsTerminal(ts)
}

// IsValid 判断是否为已知状态
func (ts TaskStatus) IsValid() bool {
	switch ts {
	case TaskPending, TaskInProgress, TaskSucceeded, TaskFailed, TaskAbandoned, TaskCanceled:
		return true
	}
	return false
}

// CanTransitionTo 判断状态转移是否合法
func (ts TaskStatus) CanTransitionTo(to TaskStatus) bool {
	return taskRules.CanTransition(ts, to)
}

// ValidateTransition 非法转移时返回错误
func (ts TaskStatus) ValidateTransition(to TaskStatus) error {
	return taskRules.Validate(ts, to)
}
