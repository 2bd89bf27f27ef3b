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

package pipeline

import (
	"sync"
	"time"

	"github.com/go-arcade/dispatch/internal/pkg/task"
	"github.com/go-arcade/dispatch/pkg/statemachine"
)

type StageSnapshot struct {
	Index      int                      `json:"index"`
	Name       string                   `json:"name"`
	Kind       task.Kind                `json:"kind"`
	Status     statemachine.StageStatus `json:"status"`
	TaskIDs    []string                 `json:"task_ids,omitempty"`
	WinnerID   string                   `json:"winner_id,omitempty"`
	Output     map[string]any           `json:"output,omitempty"`
	Error      string                   `json:"error,omitempty"`
	Warning    string                   `json:"warning,omitempty"`
	StartedAt  time.Time                `json:"started_at,omitzero"`
	FinishedAt time.Time                `json:"finished_at,omitzero"`
}

// RunSnapshot 某次运行的只读快照
type RunSnapshot struct {
	ID          string                      `json:"id"`
	Pipeline    string                      `json:"pipeline"`
	Status      statemachine.PipelineStatus `json:"status"`
	Stages      []StageSnapshot             `json:"stages"`
	FailedStage *int                        `json:"failed_stage,omitempty"`
	Error       string                      `json:"error,omitempty"`
	CreatedAt   time.Time                   `json:"created_at"`
	FinishedAt  time.Time                   `json:"finished_at,omitzero"`
	// Failure 必选阶段失败时的结构化错误
	Failure *task.PipelineStageFailure `json:"-"`
}

func (s *RunSnapshot) Done() bool {
	return s.Status.IsTerminal()
}

// run 只由执行它的 goroutine 修改，读取方通过 snapshot 拿副本
type run struct {
	id   string
	def  *Definition
	done chan struct{}

	mu     sync.RWMutex
	sm     *statemachine.StateMachine[statemachine.PipelineStatus]
	stages []*stageState
	state  RunSnapshot
}

type stageState struct {
	sm   *statemachine.StateMachine[statemachine.StageStatus]
	snap StageSnapshot
}

func newRun(id string, def *Definition) *run {
	r := &run{
		id:   id,
		def:  def,
		done: make(chan struct{}),
		sm:   statemachine.NewPipelineStateMachine(),
		state: RunSnapshot{
			ID:        id,
			Pipeline:  def.Name,
			Status:    statemachine.PipelinePending,
			CreatedAt: time.Now(),
		},
	}
	for i, s := range def.Stages {
		r.stages = append(r.stages, &stageState{
			sm: statemachine.NewStageStateMachine(),
			snap: StageSnapshot{
				Index:  i,
				Name:   s.Name,
				Kind:   s.Kind,
				Status: statemachine.StagePending,
			},
		})
	}
	return r
}

func (r *run) snapshot() *RunSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := r.state
	out.Stages = make([]StageSnapshot, len(r.stages))
	for i, st := range r.stages {
		s := st.snap
		s.TaskIDs = append([]string(nil), s.TaskIDs...)
		s.Output = task.CopyPayload(s.Output)
		out.Stages[i] = s
	}
	if r.state.FailedStage != nil {
		idx := *r.state.FailedStage
		out.FailedStage = &idx
	}
	return &out
}

func (r *run) setStatus(to statemachine.PipelineStatus, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.sm.TransitionTo(to, reason); err != nil {
		return err
	}
	r.state.Status = to
	if to.IsTerminal() {
		r.state.FinishedAt = time.Now()
	}
	return nil
}

// updateStage 推进阶段状态并修改快照
func (r *run) updateStage(idx int, to statemachine.StageStatus, reason string, fn func(s *StageSnapshot)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.stages[idx]
	if st.snap.Status != to {
		if err := st.sm.TransitionTo(to, reason); err != nil {
			return err
		}
		st.snap.Status = to
	}
	now := time.Now()
	switch {
	case to == statemachine.StageRunning && st.snap.StartedAt.IsZero():
		st.snap.StartedAt = now
	case to.IsTerminal():
		st.snap.FinishedAt = now
	}
	if fn != nil {
		fn(&st.snap)
	}
	return nil
}

func (r *run) fail(f *task.PipelineStageFailure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := f.StageIndex
	r.state.FailedStage = &idx
	r.state.Failure = f
	r.state.Error = f.Error()
}
