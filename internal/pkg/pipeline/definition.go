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
	"errors"
	"fmt"

	"github.com/go-arcade/dispatch/internal/pkg/task"
)

/**
 * @file: definition.go
 * @description: 流水线定义，按顺序串联多个任务类型
 */

// Transform 根据初始输入和上一阶段输出生成本阶段 payload
type Transform func(input, prev map[string]any) map[string]any

// Stage 流水线阶段
type Stage struct {
	Name        string    `json:"name"`
	Kind        task.Kind `json:"kind"`
	Optional    bool      `json:"optional,omitempty"`    // 失败时跳过并告警
	Fanout      int       `json:"fanout,omitempty"`      // 同时提交的副本数，首个成功者胜出
	When        string    `json:"when,omitempty"`        // expr 表达式，为 false 时跳过
	Priority    int       `json:"priority,omitempty"`    // 任务优先级
	MaxAttempts int       `json:"maxAttempts,omitempty"` // 单个任务的最大执行次数
	// Input 目标字段 -> expr 表达式，可引用 input / prev / stages / pipeline_id
	Input map[string]string `json:"input,omitempty"`
	// Set 固定字段
	Set map[string]any `json:"set,omitempty"`
	// Transform 代码定义的流水线使用，优先于 Input
	Transform Transform `json:"-"`
}

func (s *Stage) replicas() int {
	return max(s.Fanout, 1)
}

type Definition struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Stages      []Stage `json:"stages"`
}

var ErrInvalidDefinition = errors.New("invalid pipeline definition")

// Validate 检查阶段名、任务类型和表达式；known 为 nil 时不检查任务类型
func (d *Definition) Validate(known func(task.Kind) bool) error {
	if err := d.validate(known); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}
	return nil
}

func (d *Definition) validate(known func(task.Kind) bool) error {
	if d == nil {
		return errors.New("pipeline definition is nil")
	}
	if d.Name == "" {
		return errors.New("pipeline name is required")
	}
	if len(d.Stages) == 0 {
		return fmt.Errorf("pipeline %s has no stages", d.Name)
	}

	seen := make(map[string]bool, len(d.Stages))
	for i := range d.Stages {
		s := &d.Stages[i]
		if s.Name == "" {
			return fmt.Errorf("pipeline %s: stage %d has no name", d.Name, i)
		}
		if seen[s.Name] {
			return fmt.Errorf("pipeline %s: duplicate stage name %q", d.Name, s.Name)
		}
		seen[s.Name] = true

		if s.Kind == "" {
			return fmt.Errorf("pipeline %s: stage %s: %w: empty kind", d.Name, s.Name, task.ErrInvalidKind)
		}
		if known != nil && !known(s.Kind) {
			return fmt.Errorf("pipeline %s: stage %s: %w: %q", d.Name, s.Name, task.ErrInvalidKind, s.Kind)
		}
		if s.Fanout < 0 {
			return fmt.Errorf("pipeline %s: stage %s: fanout must not be negative", d.Name, s.Name)
		}
		if s.When != "" {
			if _, err := compile(s.When); err != nil {
				return fmt.Errorf("pipeline %s: stage %s: when: %w", d.Name, s.Name, err)
			}
		}
		for field, src := range s.Input {
			if _, err := compile(src); err != nil {
				return fmt.Errorf("pipeline %s: stage %s: input %s: %w", d.Name, s.Name, field, err)
			}
		}
	}
	return nil
}

// Clone 复制定义，Transform 共享
func (d *Definition) Clone() *Definition {
	c := *d
	c.Stages = make([]Stage, len(d.Stages))
	for i, s := range d.Stages {
		if s.Input != nil {
			in := make(map[string]string, len(s.Input))
			for k, v := range s.Input {
				in[k] = v
			}
			s.Input = in
		}
		s.Set = task.CopyPayload(s.Set)
		c.Stages[i] = s
	}
	return &c
}
