package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"wfsched/internal/app"
	"wfsched/internal/errs"
	"wfsched/internal/task/scheduler"
	"wfsched/internal/task/trigger"
)

// Edits go straight to the job store. Use them while no serve process owns
// the store; a running daemon is managed through the HTTP API.

var addFlags struct {
	name     string
	kind     string
	schedule string
	pool     string
	grace    int
	maxInst  int
	coalesce bool
}

func init() {
	f := jobsAddCmd.Flags()
	f.StringVar(&addFlags.name, "name", "", "display name")
	f.StringVar(&addFlags.kind, "kind", "workflow", "job kind (workflow, shell, file_check, date_check, systemd_unit)")
	f.StringVarP(&addFlags.schedule, "schedule", "s", "", `schedule, e.g. "interval:15", "cron:mon-fri 02:30", "date:2030-01-01 10:00:00"`)
	f.StringVar(&addFlags.pool, "pool", "", "executor pool (default or isolated)")
	f.IntVar(&addFlags.grace, "misfire-grace", 0, "misfire grace time in seconds (0 uses the configured default)")
	f.IntVar(&addFlags.maxInst, "max-instances", 0, "concurrent instances (0 uses the configured default)")
	f.BoolVar(&addFlags.coalesce, "coalesce", false, "collapse a missed backlog into one run")
	_ = jobsAddCmd.MarkFlagRequired("schedule")

	jobsCmd.AddCommand(jobsAddCmd, jobsRemoveCmd, jobsPauseCmd, jobsResumeCmd)
}

var jobsAddCmd = &cobra.Command{
	Use:   "add <id> [args...]",
	Short: "Add a job to the job store",
	Example: `  wfsched jobs add nightly -s "cron:mon-fri 02:30" nightly-etl
  wfsched jobs add feed --kind file_check -s interval:15 --coalesce /data/feed.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := trigger.ParseShorthand(addFlags.schedule)
		if err != nil {
			return errs.Validation("--schedule: %v", err)
		}
		def := scheduler.JobDef{
			ID:               args[0],
			Name:             addFlags.name,
			Kind:             addFlags.kind,
			Args:             args[1:],
			Trigger:          spec,
			MisfireGraceTime: addFlags.grace,
			MaxInstances:     addFlags.maxInst,
			Pool:             addFlags.pool,
		}
		if cmd.Flags().Changed("coalesce") {
			def.Coalesce = &addFlags.coalesce
		}
		return withApp(cmd.Context(), func(a *app.App) error {
			j, err := a.Scheduler().AddJob(cmd.Context(), def)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(j)
			}
			next := "-"
			if j.NextRunTime != nil {
				next = j.NextRunTime.In(a.Scheduler().Location()).Format("2006-01-02 15:04:05 MST")
			}
			fmt.Printf("added %s (next run %s)\n", j.ID, next)
			return nil
		})
	},
}

// idCommand builds a single-id store edit such as remove or pause.
func idCommand(use, short, done string, op func(*app.App, *cobra.Command, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				if err := op(a, cmd, args[0]); err != nil {
					return err
				}
				fmt.Printf("%s %s\n", done, args[0])
				return nil
			})
		},
	}
}

var (
	jobsRemoveCmd = idCommand("remove", "Remove a job", "removed", func(a *app.App, cmd *cobra.Command, id string) error {
		return a.Scheduler().RemoveJob(cmd.Context(), id)
	})
	jobsPauseCmd = idCommand("pause", "Pause a job", "paused", func(a *app.App, cmd *cobra.Command, id string) error {
		return a.Scheduler().PauseJob(cmd.Context(), id)
	})
	jobsResumeCmd = idCommand("resume", "Resume a paused job", "resumed", func(a *app.App, cmd *cobra.Command, id string) error {
		return a.Scheduler().ResumeJob(cmd.Context(), id)
	})
)
