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

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-arcade/dispatch/pkg/version"
	"github.com/spf13/cobra"
)

/**
 * @file: main.go
 * @description: dispatch 命令行客户端
 */

type globalOptions struct {
	server      string
	contextPath string
	timeout     time.Duration
}

var opts globalOptions

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dispatchctl",
		Short:         "dispatchctl talks to the dispatch engine",
		Long:          "dispatchctl submits tasks, runs pipelines and inspects queues of a dispatch engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.server, "server", "s", envOr("DISPATCH_SERVER", "http://127.0.0.1:8080"), "dispatch engine address")
	flags.StringVar(&opts.contextPath, "context-path", "/api/v1", "api context path")
	flags.DurationVar(&opts.timeout, "timeout", 60*time.Second, "request timeout")

	root.AddCommand(
		newSubmitCmd(),
		newStatusCmd(),
		newResultCmd(),
		newHistoryCmd(),
		newWaitCmd(),
		newCancelCmd(),
		newPipelineCmd(),
		newQueueCmd(),
		newRequeueCmd(),
		newWorkersCmd(),
		newSchedulesCmd(),
		newEnqueueCmd(),
		version.VersionCmd,
	)
	return root
}

func client() *Client {
	return NewClient(opts.server, opts.contextPath, opts.timeout)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// printJSON 缩进输出
func printJSON(cmd *cobra.Command, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

// parsePayload 解析 --payload 参数，"@file" 从文件读取
func parsePayload(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	data := []byte(raw)
	if raw[0] == '@' {
		b, err := os.ReadFile(raw[1:])
		if err != nil {
			return nil, err
		}
		data = b
	}
	var payload map[string]any
	if err := sonic.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	return payload, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
