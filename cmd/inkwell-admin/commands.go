package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/target/inkwell/internal/adapters/reaper"
	"github.com/target/inkwell/internal/adapters/trigger"
	"github.com/target/inkwell/internal/data"
	"github.com/target/inkwell/internal/domain/model"
	"github.com/target/inkwell/internal/migrate"
	"github.com/target/inkwell/internal/service"
)

func parseJobType(arg string) (model.JobType, error) {
	var jt model.JobType
	if err := jt.UnmarshalText([]byte(arg)); err != nil {
		return "", fmt.Errorf("job type must be %q or %q", model.JobTypeGenerate, model.JobTypeSend)
	}
	return jt, nil
}

func newMigrateCmd(l loaders) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	withDB := func(fn func(cmd *cobra.Command, db *sql.DB) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			db, err := l.DB(cmd.Context())
			if err != nil {
				return err
			}
			return errors.Join(fn(cmd, db), db.Close())
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, db *sql.DB) error {
				if err := migrate.Run(cmd.Context(), db); err != nil {
					return err
				}
				return printVersion(cmd, db)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, db *sql.DB) error {
				if err := migrate.Down(cmd.Context(), db); err != nil {
					return err
				}
				return printVersion(cmd, db)
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE:  withDB(printVersion),
		},
		&cobra.Command{
			Use:   "files",
			Short: "List the embedded migration files",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				files, err := migrate.Files()
				if err != nil {
					return err
				}
				for _, f := range files {
					fmt.Fprintln(cmd.OutOrStdout(), f)
				}
				return nil
			},
		},
	)
	return cmd
}

func printVersion(cmd *cobra.Command, db *sql.DB) error {
	v, err := migrate.Version(cmd.Context(), db)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version: %d\n", v)
	return nil
}

func newDispatchCmd(l loaders) *cobra.Command {
	return &cobra.Command{
		Use:       "dispatch generate|send",
		Short:     "Run one dispatch pass and enqueue jobs for due work",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(model.JobTypeGenerate), string(model.JobTypeSend)},
		RunE: func(cmd *cobra.Command, args []string) error {
			jt, err := parseJobType(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, l, func(ctx context.Context, app *adminApp) error {
				var res service.DispatchResult
				if jt == model.JobTypeGenerate {
					res, err = app.Services.Dispatcher.DispatchGeneration(ctx)
				} else {
					res, err = app.Services.Dispatcher.DispatchSend(ctx)
				}
				if err != nil {
					return err
				}
				printDispatch(cmd.OutOrStdout(), jt, res)
				return nil
			})
		},
	}
}

func printDispatch(w io.Writer, jt model.JobType, res service.DispatchResult) {
	fmt.Fprintf(w, "%s: queued=%d failures=%d", jt, res.Queued, res.Failures)
	if res.Skipped {
		fmt.Fprint(w, " (skipped: another dispatch holds the lock)")
	}
	fmt.Fprintln(w)
}

func newTickCmd(l loaders) *cobra.Command {
	var drain int
	cmd := &cobra.Command{
		Use:   "tick generate|send",
		Short: "Dispatch and then drain the matching worker, like one trigger firing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jt, err := parseJobType(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, l, func(ctx context.Context, app *adminApp) error {
				tcfg := app.Config.Trigger
				if cmd.Flags().Changed("drain") {
					tcfg.DrainLimit = max(drain, 0)
				}
				runner, err := trigger.NewRunner(trigger.RunnerOptions{
					Dispatcher: app.Services.Dispatcher,
					Generation: app.Services.Generation,
					Send:       app.Services.Send,
					Config:     tcfg,
				})
				if err != nil {
					return err
				}
				res, err := runner.Tick(ctx, jt)
				printDispatch(cmd.OutOrStdout(), jt, res.Dispatch)
				fmt.Fprintf(cmd.OutOrStdout(), "%s: processed=%d\n", jt, res.Processed)
				return err
			})
		},
	}
	cmd.Flags().IntVar(&drain, "drain", 0, "maximum jobs to process after dispatch (default: TRIGGER_DRAIN_LIMIT)")
	return cmd
}

func newReapCmd(l loaders) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Recover jobs whose processing claim went stale",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, l, func(ctx context.Context, app *adminApp) error {
				runner, err := reaper.NewRunner(reaper.RunnerOptions{
					Repo:         app.Services.Repos.Reaper,
					TimeProvider: app.Services.Clock,
					Config:       app.Config.Reaper,
					Metrics:      app.Services.Metrics,
				})
				if err != nil {
					return err
				}
				res, err := runner.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "requeued=%d failed=%d\n", res.Requeued, res.Failed)
				return nil
			})
		},
	}
}

func newStatsCmd(l loaders) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print job counts by type and status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, l, func(ctx context.Context, app *adminApp) error {
				stats, err := app.Services.Jobs.Stats(ctx)
				if err != nil {
					return err
				}
				table := tablewriter.NewWriter(cmd.OutOrStdout())
				table.Header("Type", "Status", "Count")
				types := make([]string, 0, len(stats.Counts))
				for jt := range stats.Counts {
					types = append(types, string(jt))
				}
				sort.Strings(types)
				for _, jt := range types {
					byStatus := stats.Counts[model.JobType(jt)]
					statuses := make([]string, 0, len(byStatus))
					for st := range byStatus {
						statuses = append(statuses, string(st))
					}
					sort.Strings(statuses)
					for _, st := range statuses {
						if err := table.Append(jt, st, strconv.Itoa(byStatus[model.JobStatus(st)])); err != nil {
							return err
						}
					}
				}
				return table.Render()
			})
		},
	}
}

func newJobCmd(l loaders) *cobra.Command {
	return &cobra.Command{
		Use:   "job <id>",
		Short: "Print one job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, l, func(ctx context.Context, app *adminApp) error {
				job, err := app.Services.Jobs.GetByID(ctx, args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(job)
			})
		},
	}
}

type preferencesFlags struct {
	user       string
	cadence    int
	topics     []string
	tone       string
	length     string
	include    []string
	avoid      []string
	cta        string
	senderName string
	replyTo    string
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return model.StringPtr(strings.TrimSpace(s))
}

func newPreferencesCmd(l loaders) *cobra.Command {
	var f preferencesFlags
	set := &cobra.Command{
		Use:   "set",
		Short: "Create or replace a user's content preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(f.user) == "" {
				return errors.New("--user is required")
			}
			return withApp(cmd, l, func(ctx context.Context, app *adminApp) error {
				prefs, err := app.Preferences.Upsert(ctx, data.UpsertPreferencesRequest{
					UserID: f.user,
					Prefs: model.Preferences{
						Cadence:     f.cadence,
						Topics:      f.topics,
						Tone:        optional(f.tone),
						Length:      optional(f.length),
						MustInclude: f.include,
						Avoid:       f.avoid,
						CTA:         optional(f.cta),
						SenderName:  optional(f.senderName),
						ReplyTo:     optional(f.replyTo),
					},
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "preferences saved for %s (%d topics)\n", prefs.UserID, len(prefs.Topics))
				return nil
			})
		},
	}
	set.Flags().StringVar(&f.user, "user", "", "user id")
	set.Flags().IntVar(&f.cadence, "cadence", 7, "days between issues")
	set.Flags().StringSliceVar(&f.topics, "topics", nil, "comma separated topics")
	set.Flags().StringVar(&f.tone, "tone", "", "tone, e.g. professional or casual")
	set.Flags().StringVar(&f.length, "length", "", "short, medium or long")
	set.Flags().StringSliceVar(&f.include, "must-include", nil, "items every issue must cover")
	set.Flags().StringSliceVar(&f.avoid, "avoid", nil, "items to leave out")
	set.Flags().StringVar(&f.cta, "cta", "", "call to action")
	set.Flags().StringVar(&f.senderName, "sender-name", "", "From display name override")
	set.Flags().StringVar(&f.replyTo, "reply-to", "", "Reply-To address")

	cmd := &cobra.Command{Use: "preferences", Short: "Manage user preferences"}
	cmd.AddCommand(set)
	return cmd
}

func newFirstIssueCmd(l loaders) *cobra.Command {
	var user, to string
	cmd := &cobra.Command{
		Use:   "first-issue",
		Short: "Generate a user's first issue and queue its delivery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, l, func(ctx context.Context, app *adminApp) error {
				created, err := app.Services.Editor.CreateFirstIssue(ctx, user, to)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "issue=%s delivery=%s job=%s\n",
					created.Issue.ID, created.Delivery.ID, created.Job.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&to, "to", "", "recipient address")
	return cmd
}
