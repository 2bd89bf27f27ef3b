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

	"github.com/go-arcade/dispatch/internal/pkg/queue"
	"github.com/spf13/cobra"
)

// newEnqueueCmd 绕过 HTTP，直接写入 asynq 入口队列
func newEnqueueCmd() *cobra.Command {
	var (
		payload     string
		priority    int
		maxAttempts int
		channel     string
		redisAddr   string
		redisPass   string
		redisDB     int
		queueName   string
	)
	cmd := &cobra.Command{
		Use:   "enqueue KIND",
		Short: "Submit a task through the asynq ingress bridge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePayload(payload)
			if err != nil {
				return err
			}
			bridge, err := queue.NewBridge(queue.ClientOpt(redisAddr, redisPass, redisDB), queue.BridgeConfig{Queue: queueName})
			if err != nil {
				return err
			}
			defer bridge.Shutdown()

			info, err := bridge.Enqueue(cmd.Context(), &queue.SubmitPayload{
				Kind:        args[0],
				Payload:     p,
				Priority:    priority,
				MaxAttempts: maxAttempts,
				Channel:     channel,
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s on %s\n", info.ID, info.Queue)
			return err
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&payload, "payload", "p", "", "JSON payload, or @file")
	flags.IntVar(&priority, "priority", 0, "task priority")
	flags.IntVar(&maxAttempts, "max-attempts", 0, "override max attempts")
	flags.StringVar(&channel, "channel", "", "override the worker channel")
	flags.StringVar(&redisAddr, "redis", envOr("DISPATCH_REDIS", "127.0.0.1:6379"), "redis address")
	flags.StringVar(&redisPass, "redis-password", "", "redis password")
	flags.IntVar(&redisDB, "redis-db", 0, "redis db")
	flags.StringVar(&queueName, "queue", queue.DefaultIngressQueue, "ingress queue name")
	return cmd
}
