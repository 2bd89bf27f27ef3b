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

package worker

import (
	"context"
	"sync/atomic"

	"github.com/go-arcade/dispatch/internal/pkg/task"
)

/**
 * @file: worker.go
 * @description: 按任务类型可插拔的执行器
 */

// Worker 执行某一类任务
// Execute 拿到的 payload 是副本，可以随意修改
type Worker interface {
	Kind() task.Kind
	Execute(ctx context.Context, payload map[string]any) (map[string]any, error)
}

// Func 函数适配器
type Func func(ctx context.Context, payload map[string]any) (map[string]any, error)

type funcWorker struct {
	kind task.Kind
	fn   Func
}

func NewFunc(kind task.Kind, fn Func) Worker {
	return &funcWorker{kind: kind, fn: fn}
}

func (w *funcWorker) Kind() task.Kind { return w.kind }

func (w *funcWorker) Execute(ctx context.Context, payload map[string]any) (map[string]any, error) {
	return w.fn(ctx, payload)
}

// Info 当前执行的信封信息
type Info struct {
	TaskID   string
	Kind     task.Kind
	Attempt  int
	WorkerID string
}

type infoKey struct{}
type cancelKey struct{}

func WithInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, infoKey{}, info)
}

func InfoFrom(ctx context.Context) (Info, bool) {
	info, ok := ctx.Value(infoKey{}).(Info)
	return info, ok
}

// CancelFlag 协作式取消标记，worker 在安全点检查
type CancelFlag struct {
	set    atomic.Bool
	cancel context.CancelFunc
}

// WithCancelFlag 返回的 ctx 在 Cancel 时同时被取消
func WithCancelFlag(ctx context.Context) (context.Context, *CancelFlag) {
	ctx, cancel := context.WithCancel(ctx)
	flag := &CancelFlag{cancel: cancel}
	return context.WithValue(ctx, cancelKey{}, flag), flag
}

func (f *CancelFlag) Cancel() {
	f.set.Store(true)
	f.cancel()
}

func (f *CancelFlag) IsSet() bool {
	return f.set.Load()
}

// Release 释放 ctx 资源，不设置取消标记
func (f *CancelFlag) Release() {
	f.cancel()
}

// Canceled 调用方是否请求了取消
func Canceled(ctx context.Context) bool {
	f, ok := ctx.Value(cancelKey{}).(*CancelFlag)
	return ok && f.IsSet()
}

// Checkpoint 在安全点调用，已取消或 ctx 结束时返回错误
func Checkpoint(ctx context.Context) error {
	if Canceled(ctx) {
		return task.ErrCanceled
	}
	return ctx.Err()
}
