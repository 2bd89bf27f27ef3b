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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-arcade/dispatch/internal/pkg/task"
	"github.com/go-arcade/dispatch/pkg/log"
)

const (
	ActionIndex    = "index"
	ActionSearch   = "search"
	ActionOrganize = "organize"
	ActionRecent   = "recent"
)

// MemoryWorker 代码索引与检索
// payload: action(index|search|organize|recent), file_path, code, task_description, query
type MemoryWorker struct {
	index MemoryIndex
	gen   Generator
}

func NewMemoryWorker(index MemoryIndex, gen Generator) *MemoryWorker {
	return &MemoryWorker{index: index, gen: gen}
}

func (w *MemoryWorker) Kind() task.Kind { return task.KindMemory }

func (w *MemoryWorker) Execute(ctx context.Context, payload map[string]any) (map[string]any, error) {
	action := stringField(payload, "action")
	if action == "" {
		action = stringField(payload, "operation")
	}

	switch action {
	case ActionIndex, "":
		return w.indexFile(ctx, payload)
	case ActionSearch:
		query := stringField(payload, "query")
		results, err := w.index.Search(ctx, query)
		if err != nil {
			return nil, err
		}
		return map[string]any{"action": ActionSearch, "query": query, "results": toMaps(results), "count": len(results)}, nil
	case ActionOrganize:
		n, err := w.index.Count(ctx)
		if err != nil {
			return nil, err
		}
		stats, err := w.index.Stats(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"action": ActionOrganize, "files_organized": n, "global_stats": stats}, nil
	case ActionRecent:
		entries, err := w.index.Recent(ctx, 20)
		if err != nil {
			return nil, err
		}
		return map[string]any{"action": ActionRecent, "changes": toMaps(entries)}, nil
	default:
		return nil, fmt.Errorf("unknown memory action %q", action)
	}
}

func (w *MemoryWorker) indexFile(ctx context.Context, payload map[string]any) (map[string]any, error) {
	filePath := stringField(payload, "file_path")
	if filePath == "" {
		return nil, fmt.Errorf("file_path is required for index")
	}
	code := stringField(payload, "code")
	sum := sha256.Sum256([]byte(code))

	entry := IndexEntry{
		FilePath:        filePath,
		TaskDescription: stringField(payload, "task_description"),
		CodeHash:        hex.EncodeToString(sum[:]),
		LinesOfCode:     countLines(code),
		PipelineID:      stringField(payload, "pipeline_id"),
		Timestamp:       time.Now(),
	}
	if info, ok := InfoFrom(ctx); ok {
		entry.TaskID = info.TaskID
	}
	if err := w.index.Index(ctx, entry); err != nil {
		return nil, err
	}

	// 模式分析失败不影响索引结果
	patterns := 0
	if w.gen != nil && code != "" {
		if p, err := w.analyzePatterns(ctx, entry, code); err != nil {
			log.WithContext(ctx).Warnw("pattern analysis failed", "file_path", filePath, "error", err)
		} else {
			patterns = p
		}
	}

	return map[string]any{
		"action":         ActionIndex,
		"indexed_file":   filePath,
		"code_hash":      entry.CodeHash,
		"lines_of_code":  entry.LinesOfCode,
		"memory_entries": 1,
		"patterns":       patterns,
	}, nil
}

func (w *MemoryWorker) analyzePatterns(ctx context.Context, entry IndexEntry, code string) (int, error) {
	if len(code) > 1000 {
		code = code[:1000] + "..."
	}
	prompt := fmt.Sprintf(`Analyze this code for reusable patterns and knowledge:

File: %s
Task: %s
Code:
%s

Extract key patterns used, technologies/frameworks, common functions/classes and best practices demonstrated.

Respond with JSON:
{"patterns": ["pattern1", "pattern2"], "technologies": ["tech1"], "insights": ["insight1"]}`, entry.FilePath, entry.TaskDescription, code)

	resp, err := w.gen.Generate(ctx, prompt)
	if err != nil {
		return 0, err
	}
	var data map[string]any
	if err := sonic.UnmarshalString(ExtractJSON(resp), &data); err != nil {
		return 0, err
	}
	if err := w.index.SavePatterns(ctx, entry.FilePath, data); err != nil {
		return 0, err
	}
	if p, ok := data["patterns"].([]any); ok {
		return len(p), nil
	}
	return 0, nil
}
