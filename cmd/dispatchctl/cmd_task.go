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
	"time"

	"github.com/spf13/cobra"
)

func newSubmitCmd() *cobra.Command {
	var (
		payload     string
		priority    int
		maxAttempts int
	)
	cmd := &cobra.Command{
		Use:   "submit KIND",
		Short: "Submit a task",
		Example: `  dispatchctl submit generic --payload '{"command":"echo hi"}'
  dispatchctl submit code --priority 5 --payload @task.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePayload(payload)
			if err != nil {
				return err
			}
			id, err := client().Submit(cmd.Context(), args[0], p, priority, maxAttempts)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	}
	cmd.Flags().StringVarP(&payload, "payload", "p", "", "JSON payload, or @file")
	cmd.Flags().IntVar(&priority, "priority", 0, "task priority, higher runs first")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "override max attempts, 0 keeps the worker default")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status TASK_ID",
		Short: "Show the task envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}

func newResultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "result TASK_ID",
		Short: "Show the latest result of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().Result(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history TASK_ID",
		Short: "Show every recorded attempt of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}

func newWaitCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "wait TASK_ID",
		Short: "Block until the task finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if timeout >= opts.timeout {
				opts.timeout = timeout + 5*time.Second
			}
			out, err := client().Wait(cmd.Context(), args[0], timeout)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().DurationVarP(&timeout, "wait", "w", 30*time.Second, "how long the server waits for the result")
	return cmd
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel TASK_ID",
		Short: "Cancel a pending or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "canceled", args[0])
			return err
		},
	}
}
