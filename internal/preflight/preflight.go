package preflight

import (
	"context"
	"fmt"
	"strings"

	"dubforge/internal/config"
	"dubforge/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunLocal checks what must hold on this machine before any job runs:
// writable state directories and the external binaries.
func RunLocal(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
	}
	for _, s := range deps.CheckBinaries(deps.Requirements(cfg)) {
		r := Result{Name: s.Name, Passed: s.Available, Detail: s.Path}
		if !s.Available {
			r.Detail = s.Detail
			if s.Optional {
				r.Passed = true
				r.Detail += " (optional)"
			}
		}
		results = append(results, r)
	}
	return results
}

// RunAll runs the local checks plus reachability of the translation LLM and
// the synthesis endpoint.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := RunLocal(cfg)
	results = append(results, CheckLLM(ctx, "Translation LLM", cfg.LLM))
	results = append(results, CheckSynthesis(ctx, cfg.Synthesis))
	return results
}

// Failures joins the failed results into one message, or returns nil.
func Failures(results []Result) error {
	var failed []string
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, fmt.Sprintf("%s: %s", r.Name, r.Detail))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("preflight checks failed: %s", strings.Join(failed, "; "))
}
