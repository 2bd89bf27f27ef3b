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

package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-arcade/dispatch/internal/pkg/dispatcher"
	"github.com/go-arcade/dispatch/internal/pkg/pipeline"
	"github.com/go-arcade/dispatch/internal/pkg/queue"
	"github.com/go-arcade/dispatch/internal/pkg/task"
	"github.com/go-arcade/dispatch/internal/pkg/tracker"
	"github.com/go-arcade/dispatch/internal/pkg/worker"
	"github.com/go-arcade/dispatch/pkg/retry"
	"github.com/go-arcade/dispatch/pkg/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *queue.MemoryStore
	registry *worker.Registry
	svc      *DispatchService
}

func newFixture(t *testing.T, workers ...worker.Worker) *fixture {
	t.Helper()
	store := queue.NewMemoryStore()
	registry := worker.NewRegistry()
	for _, w := range workers {
		registry.Register(w)
	}
	tr := tracker.NewTracker(tracker.NewMemoryRecords(), tracker.WithPollInterval(10*time.Millisecond))
	d := dispatcher.New(store, registry, tr,
		dispatcher.WithPolicy(retry.Policy{Backoff: retry.Fixed(0)}),
		dispatcher.WithPollInterval(10*time.Millisecond),
	)
	t.Cleanup(d.ForceStop)

	svc, err := ProvideDispatchService(store, registry, d, tr, nil, pipeline.Conf{})
	require.NoError(t, err)
	return &fixture{store: store, registry: registry, svc: svc}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.svc.Start(context.Background()))
}

func echo(kind task.Kind) worker.Worker {
	return worker.NewFunc(kind, func(_ context.Context, payload map[string]any) (map[string]any, error) {
		return map[string]any{"echo": payload["msg"]}, nil
	})
}

func TestSubmitAndWait(t *testing.T) {
	f := newFixture(t, echo(task.KindGeneric))
	f.start(t)
	ctx := context.Background()

	id, err := f.svc.Submit(ctx, task.KindGeneric, map[string]any{"msg": "hi"}, task.WithPriority(3))
	require.NoError(t, err)

	res, err := f.svc.Wait(ctx, id, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, "hi", res.Output["echo"])

	env, err := f.svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusSucceeded, env.Status)
	assert.Equal(t, 3, env.Priority)

	got, err := f.svc.Result(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, res.TaskID, got.TaskID)

	history, err := f.svc.History(ctx, id)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestSubmit_Rejections(t *testing.T) {
	f := newFixture(t, echo(task.KindGeneric))
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, "deploy", nil)
	assert.ErrorIs(t, err, task.ErrInvalidKind)
	depth, err := f.svc.QueueDepth(ctx, string(task.KindGeneric))
	require.NoError(t, err)
	assert.Zero(t, depth)

	require.NoError(t, f.svc.Stop(context.Background()))
	_, err = f.svc.Submit(ctx, task.KindGeneric, nil)
	assert.ErrorIs(t, err, task.ErrShuttingDown)
	_, err = f.svc.RunPipeline(ctx, pipeline.CodeReviewPipeline, nil, nil)
	assert.ErrorIs(t, err, task.ErrShuttingDown)
}

func TestSubmit_UsesBindingDefaults(t *testing.T) {
	f := newFixture(t)
	f.registry.Register(echo(task.KindMemory), worker.WithChannel("shared"), worker.WithMaxAttempts(5))
	ctx := context.Background()

	id, err := f.svc.Submit(ctx, task.KindMemory, nil)
	require.NoError(t, err)
	env, err := f.svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "shared", env.Channel)
	assert.Equal(t, 5, env.MaxAttempts)

	id, err = f.svc.Submit(ctx, task.KindMemory, nil, task.WithMaxAttempts(1))
	require.NoError(t, err)
	env, _ = f.svc.Status(ctx, id)
	assert.Equal(t, 1, env.MaxAttempts)

	depth, err := f.svc.QueueDepth(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
	_, err = f.svc.QueueDepth(ctx, "nowhere")
	assert.ErrorIs(t, err, task.ErrInvalidKind)
}

func TestResult_NotReadyAndNotFound(t *testing.T) {
	f := newFixture(t, echo(task.KindGeneric))
	ctx := context.Background()

	id, err := f.svc.Submit(ctx, task.KindGeneric, nil)
	require.NoError(t, err)

	_, err = f.svc.Result(ctx, id)
	assert.ErrorIs(t, err, task.ErrNotReady)
	history, err := f.svc.History(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = f.svc.Result(ctx, "missing")
	assert.ErrorIs(t, err, task.ErrNotFound)
	_, err = f.svc.Wait(ctx, "missing", time.Second)
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestCancel_Pending(t *testing.T) {
	f := newFixture(t, echo(task.KindGeneric))
	ctx := context.Background()

	id, err := f.svc.Submit(ctx, task.KindGeneric, nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.Cancel(ctx, id))

	env, err := f.svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCanceled, env.Status)

	_, err = f.svc.Wait(ctx, id, time.Second)
	assert.ErrorIs(t, err, task.ErrCanceled)

	assert.ErrorIs(t, f.svc.Cancel(ctx, id), task.ErrNotPending)
	assert.ErrorIs(t, f.svc.Cancel(ctx, "missing"), task.ErrNotFound)
}

func TestCancel_InProgress(t *testing.T) {
	started := make(chan struct{})
	slow := worker.NewFunc(task.KindGeneric, func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		close(started)
		for {
			if err := worker.Checkpoint(ctx); err != nil {
				return nil, err
			}
			time.Sleep(5 * time.Millisecond)
		}
	})
	f := newFixture(t, slow)
	f.start(t)
	ctx := context.Background()

	id, err := f.svc.Submit(ctx, task.KindGeneric, nil)
	require.NoError(t, err)
	<-started
	require.NoError(t, f.svc.Cancel(ctx, id))

	res, err := f.svc.Wait(ctx, id, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, res.Succeeded())

	require.Eventually(t, func() bool {
		env, err := f.svc.Status(ctx, id)
		return err == nil && env.Status == task.StatusCanceled
	}, 2*time.Second, 10*time.Millisecond)
}

type restoreFailStore struct {
	*queue.MemoryStore
}

func (restoreFailStore) Restore(context.Context, string) (*task.Envelope, error) {
	return nil, task.ErrStorageUnavailable
}

func TestRequeueAbandoned_RestoreFailureKeepsResult(t *testing.T) {
	store := restoreFailStore{MemoryStore: queue.NewMemoryStore()}
	registry := worker.NewRegistry()
	registry.Register(worker.NewFunc(task.KindGeneric, func(context.Context, map[string]any) (map[string]any, error) {
		return nil, errors.New("upstream down")
	}))
	tr := tracker.NewTracker(tracker.NewMemoryRecords(), tracker.WithPollInterval(10*time.Millisecond))
	d := dispatcher.New(store, registry, tr,
		dispatcher.WithPolicy(retry.Policy{Backoff: retry.Fixed(0)}),
		dispatcher.WithPollInterval(10*time.Millisecond),
	)
	t.Cleanup(d.ForceStop)
	svc, err := ProvideDispatchService(store, registry, d, tr, nil, pipeline.Conf{})
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	ctx := context.Background()

	id, err := svc.Submit(ctx, task.KindGeneric, nil, task.WithMaxAttempts(1))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		env, err := svc.Status(ctx, id)
		if err != nil || env.Status != task.StatusAbandoned {
			return false
		}
		_, err = svc.Result(ctx, id)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, svc.RequeueAbandoned(ctx, id), task.ErrStorageUnavailable)

	env, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusAbandoned, env.Status)
	res, err := svc.Result(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, res.Status)
}

func TestRequeueAbandoned(t *testing.T) {
	var healthy atomic.Bool
	flaky := worker.NewFunc(task.KindGeneric, func(context.Context, map[string]any) (map[string]any, error) {
		if !healthy.Load() {
			return nil, errors.New("upstream down")
		}
		return map[string]any{"ok": true}, nil
	})
	f := newFixture(t, flaky)
	f.start(t)
	ctx := context.Background()

	id, err := f.svc.Submit(ctx, task.KindGeneric, nil, task.WithMaxAttempts(3))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		env, err := f.svc.Status(ctx, id)
		return err == nil && env.Status == task.StatusAbandoned
	}, 5*time.Second, 10*time.Millisecond)
	res, err := f.svc.Wait(ctx, id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, res.Status)
	assert.Equal(t, 3, res.Attempt)

	healthy.Store(true)
	require.NoError(t, f.svc.RequeueAbandoned(ctx, id))
	assert.ErrorIs(t, f.svc.RequeueAbandoned(ctx, id), task.ErrNotAbandoned)

	require.Eventually(t, func() bool {
		r, err := f.svc.Result(ctx, id)
		return err == nil && r.Succeeded()
	}, 5*time.Second, 10*time.Millisecond)

	history, err := f.svc.History(ctx, id)
	require.NoError(t, err)
	assert.Len(t, history, 4)
	assert.True(t, history[len(history)-1].Succeeded())

	stats := f.svc.WorkerStats()
	require.Contains(t, stats, task.KindGeneric)
	assert.Equal(t, int64(3), stats[task.KindGeneric].Errors)
	assert.Equal(t, int64(1), stats[task.KindGeneric].TasksCompleted)
	assert.Equal(t, string(task.KindGeneric), stats[task.KindGeneric].Channel)
}

func TestPipeline_RequiredStageFailureStopsRun(t *testing.T) {
	var reviews atomic.Int32
	generate := worker.NewFunc(task.KindCode, func(context.Context, map[string]any) (map[string]any, error) {
		return nil, errors.New("generator unavailable")
	})
	review := worker.NewFunc(task.KindQuality, func(context.Context, map[string]any) (map[string]any, error) {
		reviews.Add(1)
		return map[string]any{"score": 100}, nil
	})
	f := newFixture(t, generate, review)
	f.start(t)
	ctx := context.Background()

	def := &pipeline.Definition{Name: "generate-review", Stages: []pipeline.Stage{
		{Name: "generate", Kind: task.KindCode, MaxAttempts: 1},
		{Name: "review", Kind: task.KindQuality},
	}}
	runID, err := f.svc.RunPipeline(ctx, "", def, map[string]any{"file_path": "a.go"})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	snap, err := f.svc.WaitPipeline(waitCtx, runID)
	require.NoError(t, err)

	assert.Equal(t, statemachine.PipelineFailed, snap.Status)
	require.NotNil(t, snap.FailedStage)
	assert.Equal(t, 0, *snap.FailedStage)
	assert.Equal(t, statemachine.StagePending, snap.Stages[1].Status)
	assert.Zero(t, reviews.Load())

	status, err := f.svc.PipelineStatus(runID)
	require.NoError(t, err)
	assert.Equal(t, snap.Status, status.Status)
}

func TestPipeline_CodeReviewEndToEnd(t *testing.T) {
	code := worker.NewFunc(task.KindCode, func(_ context.Context, p map[string]any) (map[string]any, error) {
		if p["mode"] == "apply_fixes" {
			return map[string]any{"code": "package fixed"}, nil
		}
		return map[string]any{"code": "package draft"}, nil
	})
	quality := worker.NewFunc(task.KindQuality, func(_ context.Context, p map[string]any) (map[string]any, error) {
		return map[string]any{"issues_found": p["code"] == "package draft", "fixes": []any{}}, nil
	})
	var indexed atomic.Value
	memory := worker.NewFunc(task.KindMemory, func(_ context.Context, p map[string]any) (map[string]any, error) {
		indexed.Store(p["code"])
		return map[string]any{"action": "index"}, nil
	})
	f := newFixture(t, code, quality, memory)
	f.start(t)
	ctx := context.Background()

	assert.Equal(t, []string{pipeline.CodeReviewPipeline}, f.svc.PipelineNames())
	runID, err := f.svc.RunNamed(ctx, pipeline.CodeReviewPipeline, map[string]any{"file_path": "a.go", "task_description": "x"})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	snap, err := f.svc.WaitPipeline(waitCtx, runID)
	require.NoError(t, err)
	require.Equal(t, statemachine.PipelineCompleted, snap.Status)
	assert.Equal(t, statemachine.StageSucceeded, snap.Stages[2].Status)
	assert.Equal(t, "package fixed", indexed.Load())

	_, err = f.svc.PipelineStatus("missing")
	assert.ErrorIs(t, err, pipeline.ErrRunNotFound)
}
