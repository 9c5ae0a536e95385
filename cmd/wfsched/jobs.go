package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"wfsched/internal/app"
	"wfsched/internal/errs"
	"wfsched/internal/task/trigger"
)

var asJSON bool

func init() {
	jobsCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	workflowsCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	workflowCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print the run result as JSON")

	jobsCmd.AddCommand(jobsListCmd)
	workflowsCmd.AddCommand(workflowsListCmd)
	workflowCmd.AddCommand(workflowRunCmd)
	rootCmd.AddCommand(jobsCmd, workflowsCmd, workflowCmd)
}

// withApp builds an unstarted app for offline commands. The scheduler loop
// is not running, so listing reads the store directly.
func withApp(ctx context.Context, fn func(*app.App) error) error {
	a, err := app.NewApp(ctx, cfgPath, app.WithVersion(version))
	if err != nil {
		return err
	}
	defer func() { _ = a.Stop(context.Background(), app.StopAppStop) }()
	return fn(a)
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect scheduled jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs in the job store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			jobs, err := a.Scheduler().ListJobs(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(jobs)
			}
			if len(jobs) == 0 {
				fmt.Println("no jobs")
				return nil
			}
			loc := a.Scheduler().Location()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tARGS\tTRIGGER\tNEXT RUN\tPAUSED")
			for _, j := range jobs {
				next := "-"
				if j.NextRunTime != nil {
					next = j.NextRunTime.In(loc).Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n",
					j.ID, j.Kind, strings.Join(j.Args, " "), describeTrigger(j.Trigger, loc), next, j.Paused)
			}
			return w.Flush()
		})
	},
}

func describeTrigger(s trigger.Spec, loc *time.Location) string {
	t, err := trigger.Parse(s, loc)
	if err != nil {
		return string(s.Type) + " (invalid)"
	}
	return t.String()
}

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "Inspect registered workflows",
}

var workflowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflows and their tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			wfs, err := a.Workflows().ListWorkflows(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(wfs)
			}
			if len(wfs) == 0 {
				fmt.Println("no workflows")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTASKS")
			for _, wf := range wfs {
				ids := make([]string, 0, len(wf.Tasks))
				for _, t := range wf.Tasks {
					ids = append(ids, t.ID)
				}
				fmt.Fprintf(w, "%s\t%s\n", wf.ID, strings.Join(ids, " -> "))
			}
			return w.Flush()
		})
	},
}

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Operate on a single workflow",
}

var workflowRunCmd = &cobra.Command{
	Use:   "run <workflow-id>",
	Short: "Run a workflow once in the foreground",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			res, err := a.Runner().ExecuteWorkflow(cmd.Context(), args[0])
			if asJSON {
				if perr := printJSON(res); perr != nil {
					return perr
				}
				return err
			}
			if res.WorkflowID != "" {
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TASK\tRESULT\tATTEMPTS\tEXIT")
				for _, t := range res.Tasks {
					result := "passed"
					if !t.Passed {
						result = "failed"
					}
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", t.TaskID, result, t.Attempts, t.ExitCode)
				}
				_ = w.Flush()
				fmt.Printf("workflow %s finished in %s\n", res.WorkflowID, res.Duration.Round(time.Millisecond))
			}
			return err
		})
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitCode maps failures to distinct codes: 2 for bad input, 3 for failed
// workflow runs, 1 otherwise.
func exitCode(err error) int {
	switch errs.Kind(err) {
	case errs.ErrValidation, errs.ErrNotFound:
		return 2
	case errs.ErrExecution, errs.ErrFileReadiness, errs.ErrTimeout:
		return 3
	default:
		return 1
	}
}
