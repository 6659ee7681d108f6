package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/taskmaster/internal/orchestrator"
	"github.com/fyrsmithlabs/taskmaster/internal/session"
	"github.com/fyrsmithlabs/taskmaster/internal/store"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "session",
		Aliases: []string{"sessions"},
		Short:   "Inspect and repair stored sessions",
	}
	cmd.AddCommand(
		newSessionListCmd(),
		newSessionShowCmd(),
		newSessionSnapshotsCmd(),
		newSessionRestoreCmd(),
		newSessionDeleteCmd(),
		newSessionImportCmd(),
		newSessionWatchCmd(),
	)
	return cmd
}

// withApp runs fn against a quiet offline app.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, appOptions{stderrLogs: true, quiet: true})
	if err != nil {
		return err
	}
	defer a.Close(ctx)
	return fn(ctx, a)
}

func newSessionListCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkOutput(output, outputTable, outputJSON, outputYAML); err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				list, err := a.store.List(ctx)
				if err != nil {
					return err
				}
				if list == nil {
					list = []store.Summary{}
				}
				if output != outputTable {
					return write(cmd.OutOrStdout(), output, list)
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tTASKS\tVERSION\tUPDATED")
				for _, s := range list {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%s\n",
						s.ID, s.Name, s.Status, s.Completed, s.Tasks, s.Version,
						s.UpdatedAt.Local().Format(time.DateTime))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format: table, json or yaml")
	return cmd
}

func newSessionShowCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a session document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output, outputJSON, outputYAML); err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := store.ValidateID(args[0]); err != nil {
					return err
				}
				s, err := a.store.Load(ctx, args[0])
				if err != nil {
					return err
				}
				return write(cmd.OutOrStdout(), output, s)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputJSON, "output format: json or yaml")
	return cmd
}

func newSessionSnapshotsCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "snapshots <id>",
		Short: "List the retained prior versions of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output, outputTable, outputJSON, outputYAML); err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := store.ValidateID(args[0]); err != nil {
					return err
				}
				snaps, err := a.store.Snapshots().List(ctx, args[0])
				if err != nil {
					return err
				}
				if snaps == nil {
					snaps = []store.Snapshot{}
				}
				if output != outputTable {
					return write(cmd.OutOrStdout(), output, snaps)
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SEQ\tVERSION\tSIZE\tCREATED")
				for _, s := range snaps {
					fmt.Fprintf(tw, "%d\t%d\t%d\t%s\n", s.Seq, s.Version, s.Size, s.CreatedAt.Local().Format(time.DateTime))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format: table, json or yaml")
	return cmd
}

func newSessionRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <id> <seq>",
		Short: "Replace a session with one of its snapshots",
		Long: `Replace a session with one of its snapshots. The current document is kept
as a new snapshot, so a restore can itself be undone.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid snapshot sequence %q", args[1])
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := store.ValidateID(args[0]); err != nil {
					return err
				}
				s, err := a.store.Restore(ctx, args[0], seq)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "restored session %s from snapshot %d (now version %d)\n", s.ID, seq, s.Version)
				return nil
			})
		},
	}
}

func newSessionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session and its snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := store.ValidateID(args[0]); err != nil {
					return err
				}
				if err := a.store.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted session %s\n", args[0])
				return nil
			})
		},
	}
}

func newSessionImportCmd() *cobra.Command {
	var sessionID, output string
	cmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Create a session from a YAML tasklist",
		Long: `Create a session from a YAML tasklist, declaring its capabilities and tasks.
With --session the tasks are added to an existing session instead.

  name: release 1.2
  capabilities:
    builtin_tools: [Read, Edit, Bash]
  tasks:
    - bump the version
    - description: tag the release
      validation_criteria: [command_succeeded]`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output, outputJSON, outputYAML); err != nil {
				return err
			}
			tl, err := readTasklist(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				resp, err := importTasklist(ctx, a.dispatcher, tl, sessionID)
				if err != nil {
					return err
				}
				return write(cmd.OutOrStdout(), output, resp)
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "add to this session instead of creating one")
	cmd.Flags().StringVarP(&output, "output", "o", outputJSON, "output format: json or yaml")
	return cmd
}

// importTasklist replays tl as create_session, declare_capabilities and
// create_tasklist commands and returns the final response.
func importTasklist(ctx context.Context, d *orchestrator.Dispatcher, tl *tasklistFile, sessionID string) (*orchestrator.Response, error) {
	if sessionID == "" {
		resp := d.HandleFlat(ctx, orchestrator.FlatRequest{
			Action:      string(orchestrator.ActionCreateSession),
			SessionName: tl.Name,
		})
		if err := rejected(resp); err != nil {
			return nil, err
		}
		sessionID = resp.SessionID
	}

	if tl.hasCapabilities() {
		resp := d.HandleFlat(ctx, orchestrator.FlatRequest{
			Action:        string(orchestrator.ActionDeclareCapabilities),
			SessionID:     sessionID,
			BuiltinTools:  tl.Capabilities.BuiltinTools,
			MCPTools:      tl.Capabilities.MCPTools,
			UserResources: tl.Capabilities.UserResources,
		})
		if err := rejected(resp); err != nil {
			return nil, err
		}
	}

	resp := d.HandleFlat(ctx, orchestrator.FlatRequest{
		Action:    string(orchestrator.ActionCreateTasklist),
		SessionID: sessionID,
		Tasklist:  tl.Tasks,
	})
	if err := rejected(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func rejected(resp *orchestrator.Response) error {
	if resp.OK() {
		return nil
	}
	if resp.Error == nil {
		return fmt.Errorf("%s rejected", resp.Action)
	}
	if resp.Action == "" {
		return fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
	}
	return fmt.Errorf("%s %s: %s", resp.Action, resp.Error.Code, resp.Error.Message)
}

func newSessionWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print a line whenever a session changes",
		Long: `Print a line whenever a session document is written or removed, including
commits made by a running server. Requires the file storage backend.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				fs, ok := a.store.(*store.FileStore)
				if !ok {
					return fmt.Errorf("watch requires the %q storage backend", "file")
				}
				w, err := fs.Watch()
				if err != nil {
					return err
				}
				if err := w.Start(ctx); err != nil {
					return err
				}
				defer w.Stop()

				out := cmd.OutOrStdout()
				for ch := range w.Changes() {
					if ch.Removed {
						fmt.Fprintf(out, "%s\t%s\tremoved\n", ch.At.Local().Format(time.TimeOnly), ch.SessionID)
						continue
					}
					s, err := a.store.Load(ctx, ch.SessionID)
					if err != nil {
						fmt.Fprintf(out, "%s\t%s\tunreadable: %v\n", ch.At.Local().Format(time.TimeOnly), ch.SessionID, err)
						continue
					}
					fmt.Fprintf(out, "%s\t%s\tv%d\t%s\t%d/%d tasks\n",
						ch.At.Local().Format(time.TimeOnly), s.ID, s.Version, s.Status,
						s.CountStatus(session.TaskCompleted), len(s.Tasks))
				}
				return nil
			})
		},
	}
}
