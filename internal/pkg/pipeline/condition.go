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
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/go-arcade/dispatch/internal/pkg/task"
)

func compile(source string) (*vm.Program, error) {
	return expr.Compile(strings.TrimSpace(source), expr.AllowUndefinedVariables())
}

// scope 表达式可见的变量
// input 初始 payload，prev 上一个成功阶段的输出，stages 按阶段名索引的输出；
// prev 的字段同时平铺在顶层，便于写 issues_found 这类条件
type scope struct {
	pipelineID string
	input      map[string]any
	prev       map[string]any
	stages     map[string]any
}

func (s *scope) env() map[string]any {
	env := make(map[string]any, len(s.prev)+4)
	for k, v := range s.prev {
		env[k] = v
	}
	env["input"] = s.input
	env["prev"] = s.prev
	env["stages"] = s.stages
	env["pipeline_id"] = s.pipelineID
	return env
}

func (s *scope) eval(source string) (any, error) {
	program, err := compile(source)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", source, err)
	}
	out, err := expr.Run(program, s.env())
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", source, err)
	}
	return out, nil
}

// when 空条件为 true，未定义的变量视为 false
func (s *scope) when(source string) (bool, error) {
	if strings.TrimSpace(source) == "" {
		return true, nil
	}
	out, err := s.eval(source)
	if err != nil {
		return false, err
	}
	switch v := out.(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("condition %q must return bool, got %T", source, out)
	}
}

// payload 生成阶段输入：Transform > 初始输入与上一阶段输出合并，再叠加 Input 和 Set
func (s *scope) payload(st *Stage) (map[string]any, error) {
	if st.Transform != nil {
		return task.CopyPayload(st.Transform(task.CopyPayload(s.input), task.CopyPayload(s.prev))), nil
	}

	var out map[string]any
	if len(st.Input) == 0 {
		out = task.CopyPayload(s.input)
		if out == nil {
			out = make(map[string]any)
		}
		for k, v := range s.prev {
			out[k] = copyValue(v)
		}
	} else {
		out = make(map[string]any, len(st.Input)+len(st.Set))
		for field, src := range st.Input {
			v, err := s.eval(src)
			if err != nil {
				return nil, fmt.Errorf("input %s: %w", field, err)
			}
			if v != nil {
				out[field] = copyValue(v)
			}
		}
	}
	for k, v := range task.CopyPayload(st.Set) {
		out[k] = v
	}
	return out, nil
}

func copyValue(v any) any {
	return task.CopyPayload(map[string]any{"v": v})["v"]
}
