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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-arcade/dispatch/internal/pkg/task"
	"github.com/go-arcade/dispatch/pkg/log"
)

const (
	ModeEditFile   = "edit_file"
	ModeApplyFixes = "apply_fixes"
)

// CodeWorker 生成或修改代码
// payload: file_path, task_description, mode, write, fixes, code
type CodeWorker struct {
	gen  Generator
	root string
}

func NewCodeWorker(gen Generator, workspace string) *CodeWorker {
	return &CodeWorker{gen: gen, root: workspace}
}

func (w *CodeWorker) Kind() task.Kind { return task.KindCode }

func (w *CodeWorker) Execute(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if w.gen == nil {
		return nil, ErrGeneratorDisabled
	}

	filePath := stringField(payload, "file_path")
	write := boolField(payload, "write", filePath != "")

	var target string
	if filePath != "" {
		var err error
		if target, err = w.resolve(filePath); err != nil {
			return nil, err
		}
	}

	mode := stringField(payload, "mode")
	if mode == "" {
		mode = ModeEditFile
	}

	var (
		code string
		out  = map[string]any{"file_path": filePath, "mode": mode}
		err  error
	)
	switch mode {
	case ModeEditFile:
		code, err = w.edit(ctx, target, filePath, stringField(payload, "task_description"))
	case ModeApplyFixes:
		fixes := mapsField(payload, "fixes")
		code, err = w.applyFixes(ctx, target, stringField(payload, "code"), fixes)
		out["fixes_applied"] = len(fixes)
	default:
		return nil, fmt.Errorf("unknown code mode %q", mode)
	}
	if err != nil {
		return nil, err
	}

	if err := Checkpoint(ctx); err != nil {
		return nil, err
	}
	if write && target != "" {
		if err := writeFileAtomic(target, []byte(code)); err != nil {
			return nil, err
		}
		log.WithContext(ctx).Infow("code written", "file_path", filePath, "lines", countLines(code))
	}

	out["code"] = code
	out["lines_written"] = countLines(code)
	out["written"] = write && target != ""
	return out, nil
}

func (w *CodeWorker) edit(ctx context.Context, target, filePath, description string) (string, error) {
	if description == "" {
		return "", errors.New("task_description is required")
	}
	existing, err := readIfExists(target)
	if err != nil {
		return "", err
	}

	prompt := fmt.Sprintf(`Task: %s
File: %s

Existing content:
%s

Please provide the complete updated file content. Be specific and practical.
Focus on clean, maintainable code that follows best practices.`, description, filePath, existing)

	resp, err := w.gen.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return ExtractCodeBlock(resp), nil
}

func (w *CodeWorker) applyFixes(ctx context.Context, target, code string, fixes []map[string]any) (string, error) {
	current := code
	if current == "" {
		var err error
		if current, err = readIfExists(target); err != nil {
			return "", err
		}
	}

	for _, fix := range fixes {
		// 每个修复之间是安全点
		if err := Checkpoint(ctx); err != nil {
			return "", err
		}
		prompt := fmt.Sprintf(`Apply this fix to the code:
Fix: %s
Issue: %s

Current code:
%s

Provide the corrected code:`, stringField(fix, "description"), stringField(fix, "issue"), current)

		resp, err := w.gen.Generate(ctx, prompt)
		if err != nil {
			return "", fmt.Errorf("apply fix: %w", err)
		}
		current = ExtractCodeBlock(resp)
	}
	return current, nil
}

// resolve 限制在工作区目录内
func (w *CodeWorker) resolve(filePath string) (string, error) {
	if w.root == "" {
		return filepath.Clean(filePath), nil
	}
	target := filepath.Join(w.root, filepath.Clean("/"+filePath))
	rel, err := filepath.Rel(w.root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("file path %q escapes workspace", filePath)
	}
	return target, nil
}

func readIfExists(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// writeFileAtomic 先写临时文件再 rename，重试不会留下半个文件
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".dispatch-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
