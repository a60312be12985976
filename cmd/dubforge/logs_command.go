package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dubforge/internal/logs"
	"dubforge/internal/workflow"
)

func newQueueLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var raw bool

	cmd := &cobra.Command{
		Use:   "logs <job-id>",
		Short: "Print a job's log, optionally following it until the job ends",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withRuntime(func(rt *runtime) error {
				job, err := rt.job(cmd, id)
				if err != nil {
					return err
				}
				path := workflow.NewJobLogs(rt.cfg).Path(job)
				out := cmd.OutOrStdout()
				emit := func(line string) {
					if !raw {
						line = logs.Format(line)
					}
					fmt.Fprintln(out, line)
				}

				tail, offset, err := logs.Last(path, lines)
				if err != nil {
					return err
				}
				for _, line := range tail {
					emit(line)
				}
				if !follow || job.Status.IsTerminal() {
					return nil
				}

				finished := func() bool {
					current, err := rt.store.GetByID(context.WithoutCancel(cmd.Context()), id)
					return err != nil || current == nil || current.Status.IsTerminal()
				}
				_, err = logs.Follow(cmd.Context(), path, offset, 500*time.Millisecond, finished, emit)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until the job finishes")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print JSON lines unformatted")
	return cmd
}
