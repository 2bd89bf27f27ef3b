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

import "github.com/go-arcade/dispatch/internal/pkg/task"

const CodeReviewPipeline = "code-review"

// CodeReview 生成代码 -> 质量评审 -> 按需修复 -> 写入记忆
// 输入: file_path, task_description, write
func CodeReview() *Definition {
	return &Definition{
		Name:        CodeReviewPipeline,
		Description: "generate code, review it, apply fixes when issues are found and index the result",
		Stages: []Stage{
			{
				Name: "generate",
				Kind: task.KindCode,
				Set:  map[string]any{"mode": "edit_file"},
				Input: map[string]string{
					"file_path":        "input.file_path",
					"task_description": "input.task_description",
					"write":            "input.write",
				},
			},
			{
				Name: "review",
				Kind: task.KindQuality,
				Input: map[string]string{
					"code":      "stages.generate.code",
					"file_path": "input.file_path",
				},
			},
			{
				Name:     "fix",
				Kind:     task.KindCode,
				Optional: true,
				When:     "issues_found == true",
				Set:      map[string]any{"mode": "apply_fixes"},
				Input: map[string]string{
					"code":      "stages.generate.code",
					"fixes":     "prev.fixes",
					"file_path": "input.file_path",
					"write":     "input.write",
				},
			},
			{
				Name: "index",
				Kind: task.KindMemory,
				Set:  map[string]any{"action": "index"},
				Input: map[string]string{
					"code":             "stages.fix?.code ?? stages.generate.code",
					"file_path":        "input.file_path",
					"task_description": "input.task_description",
					"pipeline_id":      "pipeline_id",
				},
			},
		},
	}
}
