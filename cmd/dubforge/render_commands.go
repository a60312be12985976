package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newRenderCommand(ctx *commandContext) *cobra.Command {
	renderCmd := &cobra.Command{
		Use:   "render",
		Short: "Render audio for review",
	}
	renderCmd.AddCommand(newRenderReviewCommand(ctx))
	return renderCmd
}

func newRenderReviewCommand(ctx *commandContext) *cobra.Command {
	var dest string

	cmd := &cobra.Command{
		Use:   "review <job-id> <segment>",
		Short: "Render a segment with surrounding context to a WAV file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, index, err := parseSegmentRef(args)
			if err != nil {
				return err
			}
			return ctx.withRuntime(func(rt *runtime) error {
				target := dest
				if target == "" {
					target = filepath.Join(rt.cfg.JobWorkDir(job), "review", fmt.Sprintf("segment-%03d.wav", index))
				}
				review, err := rt.exec.Composer().RenderReview(cmd.Context(), job, index, target)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Wrote %s (%s-%s s, %s s)\n", review.Path,
					formatSeconds(review.Start), formatSeconds(review.End), formatSeconds(review.Duration))
				if len(review.Missing) > 0 {
					fmt.Fprintf(out, "Silent segments without audio: %s\n", joinInts(review.Missing))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&dest, "output", "o", "", "Destination WAV path")
	return cmd
}
