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
	"os"
	"path/filepath"
	"testing"

	"github.com/go-arcade/dispatch/internal/pkg/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func knownKinds(k task.Kind) bool {
	for _, b := range task.BuiltinKinds {
		if b == k {
			return true
		}
	}
	return false
}

func TestDefinition_Validate(t *testing.T) {
	tests := []struct {
		name string
		def  *Definition
		want string
	}{
		{"nil", nil, "nil"},
		{"no name", &Definition{Stages: []Stage{{Name: "a", Kind: task.KindCode}}}, "name is required"},
		{"no stages", &Definition{Name: "p"}, "no stages"},
		{"unnamed stage", &Definition{Name: "p", Stages: []Stage{{Kind: task.KindCode}}}, "has no name"},
		{"duplicate", &Definition{Name: "p", Stages: []Stage{{Name: "a", Kind: task.KindCode}, {Name: "a", Kind: task.KindCode}}}, "duplicate"},
		{"empty kind", &Definition{Name: "p", Stages: []Stage{{Name: "a"}}}, "empty kind"},
		{"unknown kind", &Definition{Name: "p", Stages: []Stage{{Name: "a", Kind: "deploy"}}}, "deploy"},
		{"negative fanout", &Definition{Name: "p", Stages: []Stage{{Name: "a", Kind: task.KindCode, Fanout: -1}}}, "fanout"},
		{"bad when", &Definition{Name: "p", Stages: []Stage{{Name: "a", Kind: task.KindCode, When: "a ==="}}}, "when"},
		{"bad input", &Definition{Name: "p", Stages: []Stage{{Name: "a", Kind: task.KindCode, Input: map[string]string{"x": "(("}}}}, "input x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate(knownKinds)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidDefinition)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	assert.NoError(t, CodeReview().Validate(knownKinds))
}

func TestDefinition_Clone(t *testing.T) {
	def := CodeReview()
	c := def.Clone()
	c.Stages[0].Set["mode"] = "changed"
	c.Stages[0].Input["file_path"] = "other"
	assert.Equal(t, "edit_file", def.Stages[0].Set["mode"])
	assert.Equal(t, "input.file_path", def.Stages[0].Input["file_path"])
}

func TestScope_When(t *testing.T) {
	sc := &scope{prev: map[string]any{"issues_found": true, "score": 40}}

	ok, err := sc.when("")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = sc.when("issues_found")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = sc.when("score >= 50")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = sc.when("missing_flag")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = sc.when("score + 1")
	assert.ErrorContains(t, err, "must return bool")
}

func TestScope_Payload(t *testing.T) {
	sc := &scope{
		pipelineID: "pipeline-1",
		input:      map[string]any{"file_path": "a.go", "tags": []any{"x"}},
		prev:       map[string]any{"code": "package a"},
		stages:     map[string]any{"generate": map[string]any{"code": "package a"}},
	}

	merged, err := sc.payload(&Stage{Set: map[string]any{"mode": "x"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"file_path": "a.go", "tags": []any{"x"}, "code": "package a", "mode": "x"}, merged)

	merged["tags"].([]any)[0] = "y"
	assert.Equal(t, "x", sc.input["tags"].([]any)[0])

	mapped, err := sc.payload(&Stage{Input: map[string]string{
		"code":  "stages.generate.code",
		"fixed": "stages.fix?.code ?? 'none'",
		"id":    "pipeline_id",
		"gone":  "input.nothing",
	}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"code": "package a", "fixed": "none", "id": "pipeline-1"}, mapped)
}

func TestParseDefinitions(t *testing.T) {
	data := []byte(`
pipelines:
  - name: lint
    description: review only
    stages:
      - name: review
        kind: quality
        fanout: 2
        input:
          code: input.code
      - name: note
        kind: memory
        optional: true
        when: score < 50
        set:
          action: index
`)
	defs, err := ParseDefinitions(data, knownKinds)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	def := defs[0]
	assert.Equal(t, "lint", def.Name)
	require.Len(t, def.Stages, 2)
	assert.Equal(t, task.KindQuality, def.Stages[0].Kind)
	assert.Equal(t, 2, def.Stages[0].Fanout)
	assert.Equal(t, "input.code", def.Stages[0].Input["code"])
	assert.True(t, def.Stages[1].Optional)
	assert.Equal(t, "score < 50", def.Stages[1].When)
	assert.Equal(t, "index", def.Stages[1].Set["action"])
}

func TestParseDefinitions_Errors(t *testing.T) {
	_, err := ParseDefinitions([]byte("pipelines:\n  - name: a\n    stages:\n      - name: s\n        kind: deploy\n"), knownKinds)
	assert.ErrorIs(t, err, task.ErrInvalidKind)

	_, err = ParseDefinitions([]byte("pipelines:\n  - name: a\n    bogus: 1\n    stages: []\n"), knownKinds)
	assert.ErrorContains(t, err, "parse pipelines")

	dup := "pipelines:\n  - name: a\n    stages:\n      - {name: s, kind: code}\n  - name: a\n    stages:\n      - {name: s, kind: code}\n"
	_, err = ParseDefinitions([]byte(dup), knownKinds)
	assert.ErrorContains(t, err, "duplicate pipeline")
}

func TestLoadDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipelines.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipelines:\n  - name: one\n    stages:\n      - {name: s, kind: generic}\n"), 0o644))

	defs, err := LoadDefinitions(path, nil)
	require.NoError(t, err)
	assert.Len(t, defs, 1)

	_, err = LoadDefinitions(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}
