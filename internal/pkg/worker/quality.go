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
	"fmt"
	"go/parser"
	"go/scanner"
	"go/token"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-arcade/dispatch/internal/pkg/task"
	"github.com/go-arcade/dispatch/pkg/log"
)

const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"

	// 没有生成器时的基础分
	baseScore = 100
	// 生成器返回无法解析时的分数
	unparsedScore = 70
)

var severityPenalty = map[string]int{
	SeverityHigh:   20,
	SeverityMedium: 10,
	SeverityLow:    5,
}

// securityPatterns 命中即记为 medium
var securityPatterns = []struct {
	pattern string
	warning string
}{
	{"eval(", "Dangerous eval() usage"},
	{"exec(", "Dangerous exec() usage"},
	{"os.system(", "Potential command injection"},
	{"subprocess.call(", "Check subprocess security"},
	{"pickle.loads(", "Unsafe pickle deserialization"},
	{"yaml.load(", "Use yaml.safe_load() instead"},
}

type Issue struct {
	Severity string `json:"severity"`
	Line     int    `json:"line"`
	Issue    string `json:"issue"`
	Fix      string `json:"fix"`
}

type Fix struct {
	Description string `json:"description"`
	Issue       string `json:"issue"`
	Priority    string `json:"priority"`
}

type review struct {
	Score       *int     `json:"score"`
	Issues      []Issue  `json:"issues"`
	Fixes       []Fix    `json:"fixes"`
	Suggestions []string `json:"suggestions"`
}

// QualityWorker 代码质量检查
// payload: code, file_path
type QualityWorker struct {
	gen Generator
}

func NewQualityWorker(gen Generator) *QualityWorker {
	return &QualityWorker{gen: gen}
}

func (w *QualityWorker) Kind() task.Kind { return task.KindQuality }

func (w *QualityWorker) Execute(ctx context.Context, payload map[string]any) (map[string]any, error) {
	code := stringField(payload, "code")
	filePath := stringField(payload, "file_path")

	rv := review{}
	score := baseScore
	if w.gen != nil {
		var err error
		if rv, err = w.review(ctx, code, filePath); err != nil {
			return nil, err
		}
		if rv.Score != nil {
			score = *rv.Score
		} else {
			score = unparsedScore
		}
	}

	if err := Checkpoint(ctx); err != nil {
		return nil, err
	}

	automated := AutomatedChecks(code, filePath)
	penalty := 0
	for _, is := range automated {
		p, ok := severityPenalty[is.Severity]
		if !ok {
			p = severityPenalty[SeverityLow]
		}
		penalty += p
		rv.Fixes = append(rv.Fixes, Fix{Description: is.Fix, Issue: is.Issue, Priority: is.Severity})
	}
	score = max(0, score-penalty)
	issues := append(rv.Issues, automated...)

	return map[string]any{
		"file_path":        filePath,
		"score":            score,
		"issues_found":     len(issues) > 0,
		"issue_count":      len(issues),
		"issues":           toMaps(issues),
		"fixes":            toMaps(rv.Fixes),
		"suggestions":      rv.Suggestions,
		"automated_checks": len(automated),
	}, nil
}

func (w *QualityWorker) review(ctx context.Context, code, filePath string) (review, error) {
	prompt := fmt.Sprintf(`Perform a comprehensive code quality analysis on this code:

File: %s
Code:
%s

Check for syntax errors, style issues, security vulnerabilities, performance issues, code organization and documentation.

Respond in JSON format:
{"score": 85, "issues_found": true, "issues": [{"severity": "high/medium/low", "line": 10, "issue": "description", "fix": "suggested fix"}], "fixes": [{"description": "what to fix", "issue": "the problem", "priority": "high/medium/low"}], "suggestions": ["general improvements"]}`, filePath, code)

	resp, err := w.gen.Generate(ctx, prompt)
	if err != nil {
		return review{}, fmt.Errorf("quality review: %w", err)
	}

	var rv review
	if err := sonic.UnmarshalString(ExtractJSON(resp), &rv); err != nil {
		log.WithContext(ctx).Warnw("unparsable quality review, using fallback score", "file_path", filePath, "error", err)
		return review{
			Suggestions: []string{"Code review completed - JSON parsing failed, manual review recommended"},
		}, nil
	}
	return rv, nil
}

// AutomatedChecks 不依赖生成器的静态检查
func AutomatedChecks(code, filePath string) []Issue {
	var issues []Issue

	if strings.HasSuffix(filePath, ".go") && code != "" {
		if _, err := parser.ParseFile(token.NewFileSet(), filePath, code, parser.AllErrors); err != nil {
			line := 0
			if list, ok := err.(scanner.ErrorList); ok && len(list) > 0 {
				line = list[0].Pos.Line
			}
			issues = append(issues, Issue{
				Severity: SeverityHigh,
				Line:     line,
				Issue:    "Syntax error: " + err.Error(),
				Fix:      "Fix syntax error",
			})
		}
	}

	for _, sp := range securityPatterns {
		if strings.Contains(code, sp.pattern) {
			issues = append(issues, Issue{
				Severity: SeverityMedium,
				Issue:    "Security concern: " + sp.warning,
				Fix:      "Review usage of " + sp.pattern,
			})
		}
	}
	return issues
}

// toMaps 输出统一为 map，便于条件表达式和 JSON 往返
func toMaps[T any](items []T) []any {
	out := make([]any, 0, len(items))
	for _, it := range items {
		data, err := sonic.Marshal(it)
		if err != nil {
			continue
		}
		var m map[string]any
		if sonic.Unmarshal(data, &m) == nil {
			out = append(out, m)
		}
	}
	return out
}
