// Package main implements the taskmaster CLI: the supervisor server and
// offline commands over the session store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// version information, set by ldflags.
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"

	// configPath overrides the default config file location.
	configPath string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "taskmaster",
		Short: "Supervise an AI coding assistant through a declared task list",
		Long: `taskmaster walks an assistant through planning, execution and validation
for every task in a session, persisting each step.

Serve it to an MCP client over stdio, or over HTTP:

  taskmaster serve
  taskmaster serve --transport http

Inspect and repair stored sessions offline:

  taskmaster session list
  taskmaster session show <id> -o yaml
  taskmaster session restore <id> <seq>`,
		Version:      version,
		SilenceUsage: true,
	}
	root.SetVersionTemplate(versionString() + "\n")
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/taskmaster/config.yaml)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newSessionCmd())
	root.AddCommand(newCommandCmd())
	root.AddCommand(newVersionCmd())

	// Errors go to stderr; stdout may be carrying MCP frames.
	root.SetErr(os.Stderr)
	return root
}

func versionString() string {
	return fmt.Sprintf("taskmaster %s (commit %s, built %s)", version, gitCommit, buildDate)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
		},
	}
}
