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

import "time"

// Result 一次执行尝试的结果，写入后不再修改
type Result struct {
	TaskID     string         `json:"task_id"`
	Kind       Kind           `json:"kind"`
	Attempt    int            `json:"attempt"`
	Status     Status         `json:"status"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	WorkerID   string         `json:"worker_id"`
	Duration   time.Duration  `json:"duration"`
	FinishedAt time.Time      `json:"finished_at"`
}

func (r *Result) Succeeded() bool {
	return r != nil && r.Status == StatusSucceeded
}

// Clone 返回给调用方的副本，避免外部修改已存储的记录
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	c.Output = CopyPayload(r.Output)
	return &c
}
