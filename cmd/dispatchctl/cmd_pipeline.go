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

	"github.com/go-arcade/dispatch/internal/pkg/pipeline"
	"github.com/spf13/cobra"
)

func newPipelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "pipeline",
		Aliases: []string{"pl"},
		Short:   "Run and inspect pipelines",
	}
	cmd.AddCommand(newPipelineRunCmd(), newPipelineStatusCmd(), newPipelineListCmd())
	return cmd
}

func newPipelineRunCmd() *cobra.Command {
	var (
		payload string
		file    string
	)
	cmd := &cobra.Command{
		Use:   "run [NAME]",
		Short: "Run a registered pipeline, or one defined in a YAML file",
		Example: `  dispatchctl pipeline run code-review --payload '{"task_description":"add retries"}'
  dispatchctl pipeline run --file lint.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePayload(payload)
			if err != nil {
				return err
			}

			var (
				name string
				def  *pipeline.Definition
			)
			if len(args) == 1 {
				name = args[0]
			}
			if file != "" {
				def, err = loadDefinition(file, name)
				if err != nil {
					return err
				}
			}
			if name == "" && def == nil {
				return fmt.Errorf("pipeline name or --file is required")
			}

			id, err := client().RunPipeline(cmd.Context(), name, def, p)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	}
	cmd.Flags().StringVarP(&payload, "payload", "p", "", "JSON input, or @file")
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with pipeline definitions")
	return cmd
}

// loadDefinition 文件中有多个定义时按名字选择
func loadDefinition(path, name string) (*pipeline.Definition, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	defs, err := pipeline.LoadDefinitions(path, nil)
	if err != nil {
		return nil, err
	}
	switch {
	case len(defs) == 0:
		return nil, fmt.Errorf("%s defines no pipelines", path)
	case name == "" && len(defs) == 1:
		return defs[0], nil
	case name == "":
		return nil, fmt.Errorf("%s defines %d pipelines, pass a name", path, len(defs))
	}
	for _, d := range defs {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("pipeline %q not found in %s", name, path)
}

func newPipelineStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status PIPELINE_ID",
		Short: "Show per-stage status of a pipeline run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().PipelineStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}

func newPipelineListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered pipelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().Pipelines(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}
