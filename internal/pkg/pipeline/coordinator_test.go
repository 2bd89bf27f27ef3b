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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-arcade/dispatch/internal/pkg/task"
	"github.com/go-arcade/dispatch/pkg/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runAndWait(t *testing.T, c *Coordinator, def *Definition, payload map[string]any) *RunSnapshot {
	t.Helper()
	runID, err := c.Run(context.Background(), def, payload)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := c.Wait(ctx, runID)
	require.NoError(t, err)
	return snap
}

func reviewBackend(issues bool) *fakeBackend {
	return newFakeBackend().
		handle(task.KindCode, func(_ context.Context, env *task.Envelope, _ int) (map[string]any, error) {
			if env.Payload["mode"] == "apply_fixes" {
				return map[string]any{"code": "package fixed", "mode": "apply_fixes"}, nil
			}
			return map[string]any{"code": "package main", "file_path": env.Payload["file_path"]}, nil
		}).
		handle(task.KindQuality, succeed(map[string]any{
			"score":        80,
			"issues_found": issues,
			"fixes":        []any{map[string]any{"description": "rename", "issue": "naming"}},
		})).
		handle(task.KindMemory, succeed(map[string]any{"action": "index"}))
}

func TestCoordinator_CodeReview(t *testing.T) {
	b := reviewBackend(true)
	c := NewCoordinator(b)

	snap := runAndWait(t, c, CodeReview(), map[string]any{"file_path": "main.go", "task_description": "hello"})
	require.Equal(t, statemachine.PipelineCompleted, snap.Status)
	require.Len(t, snap.Stages, 4)
	for _, st := range snap.Stages {
		assert.Equal(t, statemachine.StageSucceeded, st.Status, st.Name)
		assert.NotEmpty(t, st.WinnerID, st.Name)
	}

	gen := b.envelopes(task.KindCode)
	require.Len(t, gen, 2)
	assert.Equal(t, "edit_file", gen[0].Payload["mode"])
	assert.Equal(t, "hello", gen[0].Payload["task_description"])
	assert.Equal(t, snap.ID, gen[0].PipelineID)
	assert.Equal(t, "generate", gen[0].Stage)
	assert.Equal(t, "apply_fixes", gen[1].Payload["mode"])
	assert.Equal(t, 2, gen[1].StageIndex)
	assert.NotEmpty(t, gen[1].Payload["fixes"])

	review := b.envelopes(task.KindQuality)
	require.Len(t, review, 1)
	assert.Equal(t, "package main", review[0].Payload["code"])

	index := b.envelopes(task.KindMemory)
	require.Len(t, index, 1)
	assert.Equal(t, "package fixed", index[0].Payload["code"])
	assert.Equal(t, snap.ID, index[0].Payload["pipeline_id"])
	assert.Equal(t, "index", index[0].Payload["action"])
}

func TestCoordinator_WhenFalseSkips(t *testing.T) {
	b := reviewBackend(false)
	c := NewCoordinator(b)

	snap := runAndWait(t, c, CodeReview(), map[string]any{"file_path": "main.go"})
	require.Equal(t, statemachine.PipelineCompleted, snap.Status)
	assert.Equal(t, statemachine.StageSkipped, snap.Stages[2].Status)
	assert.Equal(t, "condition not met", snap.Stages[2].Warning)
	assert.Empty(t, snap.Stages[2].TaskIDs)

	assert.Len(t, b.envelopes(task.KindCode), 1)
	index := b.envelopes(task.KindMemory)
	require.Len(t, index, 1)
	assert.Equal(t, "package main", index[0].Payload["code"])
}

func TestCoordinator_OptionalFailureSkips(t *testing.T) {
	b := reviewBackend(true)
	b.handle(task.KindCode, func(_ context.Context, env *task.Envelope, _ int) (map[string]any, error) {
		if env.Payload["mode"] == "apply_fixes" {
			return nil, errors.New("model unavailable")
		}
		return map[string]any{"code": "package main"}, nil
	})
	c := NewCoordinator(b)

	snap := runAndWait(t, c, CodeReview(), map[string]any{"file_path": "main.go"})
	require.Equal(t, statemachine.PipelineCompleted, snap.Status)
	fix := snap.Stages[2]
	assert.Equal(t, statemachine.StageSkipped, fix.Status)
	assert.Contains(t, fix.Warning, "optional stage failed")
	assert.Contains(t, fix.Error, "model unavailable")
	assert.Nil(t, snap.Failure)

	index := b.envelopes(task.KindMemory)
	require.Len(t, index, 1)
	assert.Equal(t, "package main", index[0].Payload["code"])
}

func TestCoordinator_RequiredFailureHalts(t *testing.T) {
	b := reviewBackend(true)
	b.handle(task.KindCode, fail("generator exploded"))
	c := NewCoordinator(b)

	snap := runAndWait(t, c, CodeReview(), map[string]any{"file_path": "main.go"})
	require.Equal(t, statemachine.PipelineFailed, snap.Status)
	require.NotNil(t, snap.FailedStage)
	assert.Equal(t, 0, *snap.FailedStage)
	assert.Contains(t, snap.Error, "generator exploded")

	var failure *task.PipelineStageFailure
	require.ErrorAs(t, snap.Failure, &failure)
	assert.Equal(t, "generate", failure.Stage)
	assert.Equal(t, snap.ID, failure.PipelineID)
	assert.ErrorIs(t, failure, task.ErrExecutionFailure)

	assert.Equal(t, statemachine.StageFailed, snap.Stages[0].Status)
	for _, st := range snap.Stages[1:] {
		assert.Equal(t, statemachine.StagePending, st.Status, st.Name)
	}
	assert.Empty(t, b.envelopes(task.KindQuality))
	assert.Empty(t, b.envelopes(task.KindMemory))
}

func TestCoordinator_StageTimeout(t *testing.T) {
	b := newFakeBackend().handle(task.KindGeneric, func(ctx context.Context, _ *task.Envelope, _ int) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c := NewCoordinator(b, WithStageTimeout(50*time.Millisecond))
	def := &Definition{Name: "slow", Stages: []Stage{{Name: "wait", Kind: task.KindGeneric}}}

	snap := runAndWait(t, c, def, nil)
	require.Equal(t, statemachine.PipelineFailed, snap.Status)
	assert.ErrorIs(t, snap.Failure, task.ErrTimeout)
}

func TestCoordinator_FanoutFirstSuccessWins(t *testing.T) {
	b := newFakeBackend().handle(task.KindGeneric, func(ctx context.Context, env *task.Envelope, call int) (map[string]any, error) {
		if call == 1 {
			time.Sleep(20 * time.Millisecond)
			return map[string]any{"replica": call}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
			return map[string]any{"replica": call}, nil
		}
	})
	c := NewCoordinator(b)
	def := &Definition{Name: "race", Stages: []Stage{{Name: "race", Kind: task.KindGeneric, Fanout: 3}}}

	start := time.Now()
	snap := runAndWait(t, c, def, map[string]any{"x": 1})
	assert.Less(t, time.Since(start), time.Second)
	require.Equal(t, statemachine.PipelineCompleted, snap.Status)

	st := snap.Stages[0]
	require.Len(t, st.TaskIDs, 3)
	assert.Equal(t, "task-2", st.WinnerID)
	assert.Equal(t, 1, st.Output["replica"])
	assert.True(t, b.wasCanceled("task-1"))
	assert.True(t, b.wasCanceled("task-3"))
	assert.False(t, b.wasCanceled("task-2"))
}

func TestCoordinator_FanoutAllFail(t *testing.T) {
	b := newFakeBackend().handle(task.KindGeneric, fail("nope"))
	c := NewCoordinator(b)
	def := &Definition{Name: "race", Stages: []Stage{{Name: "race", Kind: task.KindGeneric, Fanout: 2}}}

	snap := runAndWait(t, c, def, nil)
	require.Equal(t, statemachine.PipelineFailed, snap.Status)
	assert.Len(t, b.envelopes(task.KindGeneric), 2)
	assert.ErrorIs(t, snap.Failure, task.ErrExecutionFailure)
}

func TestCoordinator_TransformAndPrev(t *testing.T) {
	b := newFakeBackend().handle(task.KindGeneric, func(_ context.Context, env *task.Envelope, call int) (map[string]any, error) {
		return map[string]any{"step": call, "seen": env.Payload}, nil
	})
	c := NewCoordinator(b)
	def := &Definition{Name: "chain", Stages: []Stage{
		{Name: "first", Kind: task.KindGeneric},
		{Name: "second", Kind: task.KindGeneric, Transform: func(input, prev map[string]any) map[string]any {
			return map[string]any{"origin": input["origin"], "after": prev["step"]}
		}},
	}}

	snap := runAndWait(t, c, def, map[string]any{"origin": "api"})
	require.Equal(t, statemachine.PipelineCompleted, snap.Status)

	envs := b.envelopes(task.KindGeneric)
	require.Len(t, envs, 2)
	assert.Equal(t, "api", envs[0].Payload["origin"])
	assert.Equal(t, map[string]any{"origin": "api", "after": 0}, envs[1].Payload)
}

func TestCoordinator_RegisterAndLookup(t *testing.T) {
	c := NewCoordinator(newFakeBackend(), WithKindCheck(func(k task.Kind) bool { return k != "unknown" }))

	require.NoError(t, c.Register(CodeReview()))
	assert.Equal(t, []string{CodeReviewPipeline}, c.Definitions())

	def, err := c.Definition(CodeReviewPipeline)
	require.NoError(t, err)
	def.Stages[0].Name = "mutated"
	again, _ := c.Definition(CodeReviewPipeline)
	assert.Equal(t, "generate", again.Stages[0].Name)

	_, err = c.Definition("missing")
	assert.ErrorIs(t, err, ErrPipelineNotFound)
	_, err = c.RunNamed(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrPipelineNotFound)

	err = c.Register(&Definition{Name: "bad", Stages: []Stage{{Name: "x", Kind: "unknown"}}})
	assert.ErrorIs(t, err, task.ErrInvalidKind)
	assert.ErrorIs(t, err, ErrInvalidDefinition)

	_, err = c.Status("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = c.Wait(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestCoordinator_RunNamed(t *testing.T) {
	b := reviewBackend(false)
	c := NewCoordinator(b)
	require.NoError(t, c.Register(CodeReview()))

	runID, err := c.RunNamed(context.Background(), CodeReviewPipeline, map[string]any{"file_path": "a.go"})
	require.NoError(t, err)
	snap, err := c.Wait(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, CodeReviewPipeline, snap.Pipeline)
	assert.True(t, snap.Done())
}

func TestCoordinator_Stop(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	b := newFakeBackend().handle(task.KindGeneric, func(ctx context.Context, _ *task.Envelope, _ int) (map[string]any, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, errors.New("stopped")
	})
	c := NewCoordinator(b)
	def := &Definition{Name: "long", Stages: []Stage{{Name: "block", Kind: task.KindGeneric}}}

	runID, err := c.Run(context.Background(), def, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(b.envelopes(task.KindGeneric)) == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))

	snap, err := c.Status(runID)
	require.NoError(t, err)
	assert.Equal(t, statemachine.PipelineCanceled, snap.Status)
	assert.True(t, b.wasCanceled("task-1"))

	_, err = c.Run(context.Background(), def, nil)
	assert.ErrorIs(t, err, task.ErrShuttingDown)
}

func TestCoordinator_EvictsFinishedRuns(t *testing.T) {
	b := newFakeBackend().handle(task.KindGeneric, succeed(map[string]any{"ok": true}))
	c := NewCoordinator(b, WithMaxRuns(2))
	def := &Definition{Name: "quick", Stages: []Stage{{Name: "only", Kind: task.KindGeneric}}}

	first := runAndWait(t, c, def, nil)
	runAndWait(t, c, def, nil)
	third := runAndWait(t, c, def, nil)

	_, err := c.Status(first.ID)
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = c.Status(third.ID)
	assert.NoError(t, err)
}
