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
	"os"

	"github.com/go-arcade/dispatch/internal/pkg/task"
	"sigs.k8s.io/yaml"
)

// File 流水线定义文件
//
//	pipelines:
//	  - name: lint-only
//	    stages:
//	      - name: review
//	        kind: quality
//	        input:
//	          code: input.code
type File struct {
	Pipelines []*Definition `json:"pipelines"`
}

// ParseDefinitions 解析 YAML 并逐个校验
func ParseDefinitions(data []byte, known func(task.Kind) bool) ([]*Definition, error) {
	var f File
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("parse pipelines: %w", err)
	}
	seen := make(map[string]struct{}, len(f.Pipelines))
	for i, def := range f.Pipelines {
		if def == nil {
			return nil, fmt.Errorf("pipeline #%d is empty", i)
		}
		if err := def.Validate(known); err != nil {
			return nil, err
		}
		if _, ok := seen[def.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate pipeline %q", ErrInvalidDefinition, def.Name)
		}
		seen[def.Name] = struct{}{}
	}
	return f.Pipelines, nil
}

func LoadDefinitions(path string, known func(task.Kind) bool) ([]*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseDefinitions(data, known)
}
