package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"dubforge/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the job queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueCancelCommand(ctx))
	queueCmd.AddCommand(newQueuePurgeCommand(ctx))
	queueCmd.AddCommand(newQueueLogsCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := make([]queue.Status, 0, len(listStatuses))
			for _, value := range listStatuses {
				status, ok := queue.ParseStatus(value)
				if !ok {
					return fmt.Errorf("unknown status %q", value)
				}
				statuses = append(statuses, status)
			}
			return ctx.withRuntime(func(rt *runtime) error {
				jobs, err := rt.store.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, jobViews(jobs))
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Source", "Status", "Stage", "Batch", "Updated"},
					buildJobRows(jobs),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by status (queued, running, succeeded, failed, cancelled)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show queue totals, or one job with its stage progress",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *runtime) error {
				out := cmd.OutOrStdout()
				if len(args) == 0 {
					stats, err := rt.store.Stats(cmd.Context())
					if err != nil {
						return err
					}
					if asJSON {
						return writeJSON(cmd, stats)
					}
					rows := buildStatusRows(stats)
					if len(rows) == 0 {
						fmt.Fprintln(out, "Queue is empty")
						return nil
					}
					fmt.Fprint(out, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
					return nil
				}

				id, err := parseJobID(args[0])
				if err != nil {
					return err
				}
				job, err := rt.job(cmd, id)
				if err != nil {
					return err
				}
				stages := rt.manifests.Stages(cmd.Context(), id)
				if asJSON {
					return writeJSON(cmd, struct {
						Job    jobView     `json:"job"`
						Stages []stageView `json:"stages"`
					}{newJobView(job), stageViews(stages)})
				}
				printJob(out, job)
				fmt.Fprintln(out)
				fmt.Fprint(out, renderStages(stages))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [job-id...]",
		Short: "Requeue failed or cancelled jobs (all failed jobs when no IDs are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseJobIDs(args)
			if err != nil {
				return err
			}
			return ctx.withRuntime(func(rt *runtime) error {
				n, err := rt.store.RetryFailed(cmd.Context(), ids...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d job(s)\n", n)
				return nil
			})
		},
	}
}

func newQueueCancelCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "cancel [job-id...]",
		Short: "Cancel queued jobs or ask running jobs to stop at the next boundary",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseJobIDs(args)
			if err != nil {
				return err
			}
			if len(ids) == 0 && !all {
				return errors.New("specify job IDs or --all")
			}
			return ctx.withRuntime(func(rt *runtime) error {
				mgr := rt.manager()
				out := cmd.OutOrStdout()
				if all {
					n, err := mgr.CancelAll(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Cancel requested for %d job(s)\n", n)
					return nil
				}
				for _, id := range ids {
					status, err := mgr.Cancel(cmd.Context(), id)
					if err != nil {
						return err
					}
					switch status {
					case queue.StatusCancelled:
						fmt.Fprintf(out, "Job %d cancelled\n", id)
					case queue.StatusRunning:
						fmt.Fprintf(out, "Job %d will stop at its next stage or segment boundary\n", id)
					default:
						fmt.Fprintf(out, "Job %d is already %s\n", id, status)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Cancel every queued and running job")
	return cmd
}

func newQueuePurgeCommand(ctx *commandContext) *cobra.Command {
	var terminal bool

	cmd := &cobra.Command{
		Use:   "purge [job-id...]",
		Short: "Delete jobs with their review state, manifests and work files",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseJobIDs(args)
			if err != nil {
				return err
			}
			if len(ids) == 0 && !terminal {
				return errors.New("specify job IDs or --terminal")
			}
			return ctx.withRuntime(func(rt *runtime) error {
				c := cmd.Context()
				if terminal {
					ids, err = rt.store.ClearTerminal(c)
					if err != nil {
						return err
					}
				} else {
					for _, id := range ids {
						job, err := rt.job(cmd, id)
						if err != nil {
							return err
						}
						if job.Status == queue.StatusRunning {
							return fmt.Errorf("job %d is running; cancel it first", id)
						}
					}
					if _, err := rt.store.Remove(c, ids...); err != nil {
						return err
					}
				}
				for _, id := range ids {
					if err := rt.ledger.Purge(c, id); err != nil {
						return fmt.Errorf("purge review state for job %d: %w", id, err)
					}
					if err := rt.manifests.Purge(c, id); err != nil {
						return fmt.Errorf("purge manifests for job %d: %w", id, err)
					}
					if err := os.RemoveAll(rt.cfg.JobWorkDir(id)); err != nil {
						return fmt.Errorf("remove work dir for job %d: %w", id, err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d job(s)\n", len(ids))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&terminal, "terminal", false, "Purge every succeeded, failed and cancelled job")
	return cmd
}

func parseJobID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", value)
	}
	return id, nil
}

func parseJobIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := parseJobID(arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
