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
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/go-arcade/dispatch/internal/pkg/task"
)

var dangerousCommands = []string{"rm -rf /", ":(){ :|:& };:", "mkfs", "dd if=/dev/zero", "> /dev/"}

type GenericConf struct {
	AllowShell bool   `mapstructure:"allowShell"`
	Shell      string `mapstructure:"shell"`
	WorkDir    string `mapstructure:"workDir"`
}

// GenericWorker 执行 payload 中的 commands；未开启 shell 时原样回显 payload
type GenericWorker struct {
	conf GenericConf
}

func NewGenericWorker(conf GenericConf) *GenericWorker {
	if conf.Shell == "" {
		conf.Shell = "/bin/sh"
	}
	return &GenericWorker{conf: conf}
}

func (w *GenericWorker) Kind() task.Kind { return task.KindGeneric }

func (w *GenericWorker) Execute(ctx context.Context, payload map[string]any) (map[string]any, error) {
	commands := stringsField(payload, "commands")
	if len(commands) == 0 {
		commands = stringsField(payload, "command")
	}
	if !w.conf.AllowShell || len(commands) == 0 {
		return map[string]any{"echo": payload}, nil
	}

	workDir := stringField(payload, "workdir")
	if workDir == "" {
		workDir = w.conf.WorkDir
	}

	var output bytes.Buffer
	for i, command := range commands {
		if err := Checkpoint(ctx); err != nil {
			return nil, err
		}
		for _, pattern := range dangerousCommands {
			if strings.Contains(command, pattern) {
				return nil, fmt.Errorf("dangerous operation not allowed: %s", pattern)
			}
		}

		cmd := exec.CommandContext(ctx, w.conf.Shell, "-c", command)
		cmd.Dir = workDir
		cmd.Env = os.Environ()
		for k, v := range envField(payload) {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		cmd.Stdout = &output
		cmd.Stderr = &output

		if err := cmd.Run(); err != nil {
			exitCode := -1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitCode()
			}
			return nil, fmt.Errorf("command %d exited with %d: %w: %s", i, exitCode, err, truncate(output.String(), 512))
		}
	}

	return map[string]any{
		"output":    output.String(),
		"exit_code": 0,
		"commands":  len(commands),
	}, nil
}

func envField(p map[string]any) map[string]string {
	env := make(map[string]string)
	switch v := p["env"].(type) {
	case map[string]string:
		return v
	case map[string]any:
		for k, val := range v {
			env[k] = fmt.Sprint(val)
		}
	}
	return env
}
