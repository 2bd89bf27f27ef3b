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

// PipelineStatus 流水线运行状态
type PipelineStatus string

const (
	PipelinePending   PipelineStatus = "pending"
	PipelineRunning   PipelineStatus = "running"
	PipelineCompleted PipelineStatus = "completed"
	PipelineFailed    PipelineStatus = "failed"
	PipelineCanceled  PipelineStatus = "canceled"
)

// IsTerminal 判断是否为终止状态
func (ps PipelineStatus) IsTerminal() bool {
	return ps == PipelineCompleted || ps == PipelineFailed || ps == PipelineCanceled
}

// NewPipelineStateMachine 创建流水线状态机，每次运行一个实例
func NewPipelineStateMachine() *StateMachine[PipelineStatus] {
	sm := NewWithState(PipelinePending)
	sm.Allow(PipelinePending, PipelineRunning, PipelineCanceled).
		Allow(PipelineRunning, PipelineCompleted, PipelineFailed, PipelineCanceled).
		Terminal(PipelineCompleted, PipelineFailed, PipelineCanceled)
	return sm
}

// StageStatus 流水线阶段状态
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// IsTerminal 判断阶段是否结束
func (ss StageStatus) IsTerminal() bool {
	return ss == StageSucceeded || ss == StageFailed || ss == StageSkipped
}

// NewStageStateMachine 创建阶段状态机
// 条件不满足时阶段可直接从 pending 跳过
func NewStageStateMachine() *StateMachine[StageStatus] {
	sm := NewWithState(StagePending)
	sm.Allow(StagePending, StageRunning, StageSkipped).
		Allow(StageRunning, StageSucceeded, StageFailed, StageSkipped).
		Terminal(StageSucceeded, StageFailed, StageSkipped)
	return sm
}
