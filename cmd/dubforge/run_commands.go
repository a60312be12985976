package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"dubforge/internal/daemon"
	"dubforge/internal/queue"
	"dubforge/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run <source>",
		Short: "Dub one media file, resuming any earlier progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *runtime) error {
				return drainJobs(cmd, rt, func(mgr *workflow.Manager) ([]*queue.Job, string, error) {
					job, err := mgr.Enqueue(cmd.Context(), args[0], "")
					if err != nil {
						return nil, "", err
					}
					return []*queue.Job{job}, "", nil
				})
			})
		},
	}
}

func newBatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "batch <dir|glob>",
		Short: "Dub every media file under a directory or matching a glob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *runtime) error {
				return drainJobs(cmd, rt, func(mgr *workflow.Manager) ([]*queue.Job, string, error) {
					label, jobs, err := mgr.SubmitBatch(cmd.Context(), args[0])
					return jobs, label, err
				})
			})
		},
	}
}

type submitFunc func(mgr *workflow.Manager) ([]*queue.Job, string, error)

func drainJobs(cmd *cobra.Command, rt *runtime, submit submitFunc) error {
	lock, err := daemon.AcquireLock(rt.cfg.LockPath())
	if err != nil {
		return err
	}
	defer lock.Release()

	mgr := rt.manager()
	jobs, label, err := submit(mgr)
	if err != nil {
		return err
	}
	ids := make([]int64, len(jobs))
	for i, job := range jobs {
		ids[i] = job.ID
	}

	report, err := mgr.Drain(cmd.Context(), ids)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	printReport(cmd.OutOrStdout(), report)
	if label != "" {
		mgr.NotifyBatch(context.WithoutCancel(cmd.Context()), label, report)
	}
	if code := report.ExitCode(); code != workflow.ExitSuccess {
		return &exitError{code: code}
	}
	return nil
}

func printReport(out io.Writer, report workflow.BatchReport) {
	rows := make([][]string, 0, len(report.Items))
	for _, item := range report.Items {
		detail := item.Output
		if item.Status != queue.StatusSucceeded {
			detail = item.Message
		}
		rows = append(rows, []string{
			strconv.FormatInt(item.JobID, 10),
			filepath.Base(item.Source),
			string(item.Status),
			item.Stage,
			detail,
		})
	}
	fmt.Fprint(out, renderTable(
		[]string{"ID", "Source", "Status", "Stage", "Result"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
	))
	fmt.Fprintf(out, "\n%d succeeded, %d failed, %d cancelled in %s\n",
		report.Succeeded, report.Failed, report.Cancelled, report.Duration.Round(1e6))
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Process the queue until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *runtime) error {
				d, err := daemon.New(rt.cfg, rt.manager(), rt.logger)
				if err != nil {
					return err
				}
				if err := d.Start(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Serving queue %s (lock %s)\n", rt.cfg.QueueDBPath(), rt.cfg.LockPath())
				<-cmd.Context().Done()
				d.Stop()
				return nil
			})
		},
	}
}
