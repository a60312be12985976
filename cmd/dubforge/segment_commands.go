package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"dubforge/internal/ledger"
)

func newSegmentsCommand(ctx *commandContext) *cobra.Command {
	segCmd := &cobra.Command{
		Use:     "segments",
		Aliases: []string{"seg"},
		Short:   "Review, edit, regenerate and lock dialogue segments",
	}

	segCmd.AddCommand(newSegmentsListCommand(ctx))
	segCmd.AddCommand(newSegmentsShowCommand(ctx))
	segCmd.AddCommand(newSegmentsEditCommand(ctx))
	segCmd.AddCommand(newSegmentsRegenCommand(ctx))
	segCmd.AddCommand(newSegmentsLockCommand(ctx))
	segCmd.AddCommand(newSegmentsUnlockCommand(ctx))

	return segCmd
}

type segmentView struct {
	Index      int     `json:"index"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Speaker    string  `json:"speaker,omitempty"`
	SourceText string  `json:"source_text,omitempty"`
	Text       string  `json:"text,omitempty"`
	Version    int     `json:"version"`
	Locked     bool    `json:"locked"`
	Audio      bool    `json:"audio"`
	Stretch    float64 `json:"stretch,omitempty"`
	Drift      bool    `json:"drift"`
}

type versionView struct {
	Number    int      `json:"number"`
	Text      string   `json:"text"`
	Audio     string   `json:"audio,omitempty"`
	Actions   []string `json:"actions,omitempty"`
	Stretch   float64  `json:"stretch,omitempty"`
	Drift     bool     `json:"drift"`
	CreatedBy string   `json:"created_by"`
	CreatedAt string   `json:"created_at"`
}

func newSegmentView(seg ledger.Segment, v ledger.Version) segmentView {
	return segmentView{
		Index:      seg.Index,
		Start:      seg.Start,
		End:        seg.End,
		Speaker:    seg.Speaker,
		SourceText: seg.SourceText,
		Text:       v.Text,
		Version:    seg.CurrentVersion,
		Locked:     seg.Locked,
		Audio:      v.HasAudio(),
		Stretch:    v.Stretch,
		Drift:      v.Drift,
	}
}

func newVersionView(v ledger.Version) versionView {
	return versionView{
		Number:    v.Number,
		Text:      v.Text,
		Audio:     v.AudioPath,
		Actions:   v.Actions,
		Stretch:   v.Stretch,
		Drift:     v.Drift,
		CreatedBy: v.CreatedBy,
		CreatedAt: formatDisplayTime(v.CreatedAt),
	}
}

func newSegmentsListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list <job-id>",
		Short: "List a job's segments with their current version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withRuntime(func(rt *runtime) error {
				segs, err := rt.ledger.Segments(cmd.Context(), job)
				if err != nil {
					return err
				}
				views := make([]segmentView, 0, len(segs))
				for _, seg := range segs {
					_, v, err := rt.ledger.Current(cmd.Context(), job, seg.Index)
					if err != nil {
						return err
					}
					views = append(views, newSegmentView(seg, v))
				}
				if asJSON {
					return writeJSON(cmd, views)
				}
				if len(views) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Job %d has no segments yet\n", job)
					return nil
				}
				rows := make([][]string, 0, len(views))
				for _, v := range views {
					rows = append(rows, []string{
						strconv.Itoa(v.Index),
						formatSeconds(v.Start) + "-" + formatSeconds(v.End),
						v.Speaker,
						strconv.Itoa(v.Version),
						yesNo(v.Locked),
						segmentFlags(v),
						truncate(v.Text, 48),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"#", "Window", "Speaker", "Ver", "Locked", "Flags", "Text"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func segmentFlags(v segmentView) string {
	var flags []string
	if v.Drift {
		flags = append(flags, "drift")
	}
	if v.Stretch != 0 && v.Stretch != 1 {
		flags = append(flags, "x"+strconv.FormatFloat(v.Stretch, 'f', 2, 64))
	}
	if v.Version > 0 && !v.Audio {
		flags = append(flags, "no-audio")
	}
	return strings.Join(flags, " ")
}

func newSegmentsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <job-id> <segment>",
		Short: "Show a segment and its version history",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, index, err := parseSegmentRef(args)
			if err != nil {
				return err
			}
			return ctx.withRuntime(func(rt *runtime) error {
				seg, current, err := rt.ledger.Current(cmd.Context(), job, index)
				if err != nil {
					return err
				}
				history, err := rt.ledger.History(cmd.Context(), job, index)
				if err != nil {
					return err
				}
				versions := make([]versionView, 0, len(history))
				for _, v := range history {
					versions = append(versions, newVersionView(v))
				}
				if asJSON {
					return writeJSON(cmd, struct {
						Segment  segmentView   `json:"segment"`
						Versions []versionView `json:"versions"`
					}{newSegmentView(seg, current), versions})
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Segment %d of job %d (%s-%s s", index, job, formatSeconds(seg.Start), formatSeconds(seg.End))
				if seg.Speaker != "" {
					fmt.Fprintf(out, ", %s", seg.Speaker)
				}
				fmt.Fprintln(out, ")")
				fmt.Fprintf(out, "Source:  %s\n", seg.SourceText)
				fmt.Fprintf(out, "Current: v%d locked=%s\n\n", seg.CurrentVersion, yesNo(seg.Locked))
				rows := make([][]string, 0, len(versions))
				for _, v := range versions {
					rows = append(rows, []string{
						strconv.Itoa(v.Number),
						v.CreatedBy,
						v.CreatedAt,
						strings.Join(v.Actions, ","),
						yesNo(v.Audio != ""),
						truncate(v.Text, 56),
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"Ver", "By", "Created", "Actions", "Audio", "Text"},
					rows,
					[]columnAlignment{alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newSegmentsEditCommand(ctx *commandContext) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "edit <job-id> <segment> <text>",
		Short: "Replace a segment's target text; the next run resynthesizes it",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, index, err := parseSegmentRef(args[:2])
			if err != nil {
				return err
			}
			text := strings.Join(args[2:], " ")
			return ctx.withRuntime(func(rt *runtime) error {
				v, err := rt.ledger.Edit(cmd.Context(), job, index, text, actor)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Segment %d is now at version %d\n", index, v.Number)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", ledger.ActorOperator, "Name recorded on the new version")
	return cmd
}

func newSegmentsRegenCommand(ctx *commandContext) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "regen <job-id> <segment>",
		Short: "Resynthesize a segment from its current text now",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, index, err := parseSegmentRef(args)
			if err != nil {
				return err
			}
			return ctx.withRuntime(func(rt *runtime) error {
				if _, err := rt.job(cmd, job); err != nil {
					return err
				}
				v, err := rt.ledger.Regen(cmd.Context(), job, index, actor, rt.exec.RegenFunc(job))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Segment %d regenerated as version %d\n", index, v.Number)
				if v.Drift {
					fmt.Fprintln(out, "Warning: audio still overruns the segment window")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", ledger.ActorOperator, "Name recorded on the new version")
	return cmd
}

func newSegmentsLockCommand(ctx *commandContext) *cobra.Command {
	var version int

	cmd := &cobra.Command{
		Use:   "lock <job-id> <segment>",
		Short: "Freeze a segment at its current version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, index, err := parseSegmentRef(args)
			if err != nil {
				return err
			}
			return ctx.withRuntime(func(rt *runtime) error {
				target := version
				if target == 0 {
					if target, err = rt.ledger.CurrentVersion(cmd.Context(), job, index); err != nil {
						return err
					}
				}
				if err := rt.ledger.Lock(cmd.Context(), job, index, target); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Segment %d locked at version %d\n", index, target)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "Version to lock; must be current (default: current)")
	return cmd
}

func newSegmentsUnlockCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <job-id> <segment>",
		Short: "Allow reruns to replace a segment again",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, index, err := parseSegmentRef(args)
			if err != nil {
				return err
			}
			return ctx.withRuntime(func(rt *runtime) error {
				if err := rt.ledger.Unlock(cmd.Context(), job, index); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Segment %d unlocked\n", index)
				return nil
			})
		},
	}
}

func parseSegmentRef(args []string) (int64, int, error) {
	job, err := parseJobID(args[0])
	if err != nil {
		return 0, 0, err
	}
	index, err := strconv.Atoi(strings.TrimSpace(args[1]))
	if err != nil || index < 0 {
		return 0, 0, fmt.Errorf("invalid segment index %q", args[1])
	}
	return job, index, nil
}
