package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/taskmaster/internal/orchestrator"
)

func newCommandCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "command <json|->",
		Short: "Run one command against the local store",
		Long: `Run one command payload against the local store and print the response,
exactly as the MCP tool would. Useful for scripting and for recovering a session
without an assistant attached.

  taskmaster command '{"action":"get_status","session_id":"..."}'
  echo '{"action":"end_session"}' | taskmaster command -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output, outputJSON, outputYAML); err != nil {
				return err
			}

			payload := []byte(args[0])
			if args[0] == "-" {
				var err error
				payload, err = io.ReadAll(io.LimitReader(os.Stdin, maxTasklistSize))
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
			}

			return withApp(cmd, func(ctx context.Context, a *app) error {
				resp := runCommand(ctx, a.dispatcher, payload)
				if err := write(cmd.OutOrStdout(), output, resp); err != nil {
					return err
				}
				return rejected(resp)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputJSON, "output format: json or yaml")
	return cmd
}

func runCommand(ctx context.Context, d *orchestrator.Dispatcher, payload []byte) *orchestrator.Response {
	f, err := orchestrator.DecodeFlat(payload)
	if err != nil {
		return orchestrator.Rejected("", err)
	}
	return d.HandleFlat(ctx, f)
}
