package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dubforge/internal/daemon"
	"dubforge/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var notify bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check binaries, directories and remote services",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *runtime) error {
				results := preflight.RunAll(cmd.Context(), rt.cfg)
				rows := make([][]string, 0, len(results))
				for _, r := range results {
					status := "ok"
					if !r.Passed {
						status = "FAIL"
					}
					rows = append(rows, []string{r.Name, status, r.Detail})
				}
				out := cmd.OutOrStdout()
				fmt.Fprint(out, renderTable([]string{"Check", "Status", "Detail"}, rows, nil))

				if notify {
					d, err := daemon.New(rt.cfg, rt.manager(), rt.logger)
					if err != nil {
						return err
					}
					_, message, err := d.TestNotification(cmd.Context())
					fmt.Fprintf(out, "Notifications: %s\n", message)
					if err != nil {
						return err
					}
				}
				if err := preflight.Failures(results); err != nil {
					return &exitError{code: 1, err: err}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&notify, "notify", false, "Also send a test notification")
	return cmd
}
