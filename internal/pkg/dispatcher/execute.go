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

package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-arcade/dispatch/internal/pkg/task"
	"github.com/go-arcade/dispatch/internal/pkg/worker"
	"github.com/go-arcade/dispatch/pkg/log"
	"github.com/go-arcade/dispatch/pkg/safe"
	"github.com/go-arcade/dispatch/pkg/trace"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// execute 执行一次信封，任何结果都会写入结果记录
func (d *Dispatcher) execute(env *task.Envelope, workerID string) {
	ctx, span := trace.Start(d.runCtx, "dispatch.execute",
		attribute.String("task.id", env.ID),
		attribute.String("task.kind", string(env.Kind)),
		attribute.Int("task.attempt", env.Attempt),
	)
	logger := log.WithContext(ctx).With("task_id", env.ID, "kind", env.Kind, "attempt", env.Attempt, "worker_id", workerID)

	ctx = worker.WithInfo(ctx, worker.Info{
		TaskID:   env.ID,
		Kind:     env.Kind,
		Attempt:  env.Attempt,
		WorkerID: workerID,
	})
	ctx, flag := worker.WithCancelFlag(ctx)
	d.track(env.ID, flag)
	defer d.untrack(env.ID)

	start := time.Now()
	output, err := d.run(ctx, env)
	duration := time.Since(start)
	canceled := flag.IsSet()
	flag.Release()

	res := &task.Result{
		TaskID:     env.ID,
		Kind:       env.Kind,
		Attempt:    env.Attempt,
		WorkerID:   workerID,
		Duration:   duration,
		FinishedAt: time.Now(),
	}
	switch {
	case canceled:
		res.Status = task.StatusFailed
		res.Error = task.ErrCanceled.Error()
	case err != nil:
		res.Status = task.StatusFailed
		res.Error = err.Error()
	default:
		res.Status = task.StatusSucceeded
		res.Output = output
	}

	d.finish(env, res, canceled, logger)
	d.stats.Observe(env.Kind, duration, resultErr(res))
	if d.metrics != nil {
		d.metrics.Finished(string(env.Kind), string(res.Status), duration)
	}
	trace.End(span, resultErr(res))
}

// run 在超时内调用 worker，panic 和超时都转换为 ErrExecutionFailure
func (d *Dispatcher) run(ctx context.Context, env *task.Envelope) (map[string]any, error) {
	binding, err := d.registry.Lookup(env.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", task.ErrExecutionFailure, err)
	}

	ctx, cancel := context.WithTimeout(ctx, binding.Timeout)
	defer cancel()

	type outcome struct {
		output map[string]any
		err    error
	}
	// 不读取 ctx 的 worker 超时后仍在运行，其迟到的输出直接丢弃，槽位立即释放
	done := make(chan outcome, 1)
	payload := task.CopyPayload(env.Payload)
	go func() {
		var output map[string]any
		err := safe.Call(func() error {
			out, err := binding.Worker.Execute(ctx, payload)
			output = out
			return err
		})
		done <- outcome{output: output, err: err}
	}()

	select {
	case o := <-done:
		err = o.err
		if err == nil && ctx.Err() == nil {
			return o.output, nil
		}
		if err == nil {
			err = ctx.Err()
		}
	case <-ctx.Done():
		err = ctx.Err()
	}

	var pe *safe.PanicError
	switch {
	case errors.As(err, &pe):
		log.WithContext(ctx).Errorw("worker panicked", "task_id", env.ID, "panic", pe.Value, "stack", string(pe.Stack))
		return nil, fmt.Errorf("%w: %v", task.ErrExecutionFailure, pe)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, fmt.Errorf("%w: timed out after %s", task.ErrExecutionFailure, binding.Timeout)
	default:
		return nil, fmt.Errorf("%w: %v", task.ErrExecutionFailure, err)
	}
}

// finish 记录结果并推进信封状态
func (d *Dispatcher) finish(env *task.Envelope, res *task.Result, canceled bool, logger *zap.SugaredLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	now := time.Now()

	switch {
	case res.Succeeded():
		if err := env.Transition(task.StatusSucceeded); err != nil {
			logger.Errorw("invalid transition", "error", err)
			return
		}
		env.CompletedAt = now
		env.LastError = ""
		if err := d.store.Save(ctx, env); err != nil {
			logger.Errorw("save envelope failed", "error", err)
		}
		d.record(ctx, res, logger)
		logger.Infow("task succeeded", "duration", res.Duration)

	case canceled:
		d.record(ctx, res, logger)
		if err := env.Transition(task.StatusCanceled); err != nil {
			logger.Errorw("invalid transition", "error", err)
			return
		}
		env.CompletedAt = now
		env.LastError = res.Error
		if err := d.store.Save(ctx, env); err != nil {
			logger.Errorw("save envelope failed", "error", err)
		}
		d.markTerminal(ctx, env.ID, logger)
		logger.Infow("task canceled")

	default:
		d.record(ctx, res, logger)
		env.LastError = res.Error
		delay := d.policy.Delay(env.Attempt - 1)
		next, err := d.store.Requeue(ctx, env, delay)
		if err != nil {
			logger.Errorw("requeue failed", "error", err)
			return
		}
		if next.Status == task.StatusAbandoned {
			d.markTerminal(ctx, env.ID, logger)
			logger.Warnw("task abandoned", "error", res.Error, "max_attempts", next.MaxAttempts)
			return
		}
		logger.Warnw("task failed, requeued", "error", res.Error, "delay", delay)
	}
}

func (d *Dispatcher) record(ctx context.Context, res *task.Result, logger *zap.SugaredLogger) {
	if d.tracker == nil {
		return
	}
	if err := d.tracker.Record(ctx, res); err != nil {
		logger.Errorw("record result failed", "error", err)
	}
}

func (d *Dispatcher) markTerminal(ctx context.Context, taskID string, logger *zap.SugaredLogger) {
	if d.tracker == nil {
		return
	}
	if err := d.tracker.MarkTerminal(ctx, taskID); err != nil {
		logger.Errorw("mark terminal failed", "error", err)
	}
}

func resultErr(res *task.Result) error {
	if res.Succeeded() {
		return nil
	}
	return errors.New(res.Error)
}
