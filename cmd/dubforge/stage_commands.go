package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dubforge/internal/manifest"
)

func newStagesCommand(ctx *commandContext) *cobra.Command {
	stagesCmd := &cobra.Command{
		Use:   "stages",
		Short: "Inspect and invalidate stage manifests",
	}
	stagesCmd.AddCommand(newStagesListCommand(ctx))
	stagesCmd.AddCommand(newStagesInvalidateCommand(ctx))
	return stagesCmd
}

func newStagesListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list <job-id>",
		Short: "Show each stage's manifest for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withRuntime(func(rt *runtime) error {
				stages := rt.manifests.Stages(cmd.Context(), job)
				if asJSON {
					return writeJSON(cmd, stageViews(stages))
				}
				fmt.Fprint(cmd.OutOrStdout(), renderStages(stages))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newStagesInvalidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <job-id> <stage>",
		Short: "Force a stage and everything after it to rerun on the next run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			stage, ok := manifest.ParseStage(strings.ToLower(strings.TrimSpace(args[1])))
			if !ok {
				names := make([]string, 0, len(manifest.Order()))
				for _, st := range manifest.Order() {
					names = append(names, string(st))
				}
				return fmt.Errorf("unknown stage %q (expected one of %s)", args[1], strings.Join(names, ", "))
			}
			return ctx.withRuntime(func(rt *runtime) error {
				marked, err := rt.manifests.Invalidate(cmd.Context(), job, stage)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(marked) == 0 {
					fmt.Fprintf(out, "No manifests recorded from %s onward\n", stage)
					return nil
				}
				names := make([]string, len(marked))
				for i, st := range marked {
					names[i] = string(st)
				}
				fmt.Fprintf(out, "Marked stale: %s\n", strings.Join(names, ", "))
				return nil
			})
		},
	}
}
