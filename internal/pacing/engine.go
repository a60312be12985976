package pacing

import (
	"context"
	"log/slog"
	"math"
	"time"

	"golang.org/x/text/language"

	"dubforge/internal/config"
	"dubforge/internal/logging"
	"dubforge/internal/textutil"
)

// Actions recorded on plans and versions.
const (
	ActionRewriteHeuristic    = "rewrite_heuristic"
	ActionRewriteProvider     = "rewrite_provider"
	ActionRewriteAggressive   = "rewrite_aggressive"
	ActionProviderRejected    = "provider_rejected"
	ActionProviderUnavailable = "provider_unavailable"
	ActionStretch             = "stretch"
	ActionStretchClamped      = "stretch_clamped"
	ActionPad                 = "pad"
	ActionTrim                = "trim"
	ActionAlignmentDrift      = "alignment_drift"
)

// Rewriter shortens text toward a target spoken duration.
type Rewriter interface {
	Rewrite(ctx context.Context, text string, targetSeconds float64) (string, error)
}

// Options configures the engine.
type Options struct {
	WordsPerSecond   float64
	Tolerance        float64
	MinStretch       float64
	MaxStretch       float64
	Strictness       string
	RewriteTimeout   time.Duration
	SilenceThreshold float64
	Language         language.Tag
}

// OptionsFromConfig maps the [pacing] section and target language.
func OptionsFromConfig(cfg *config.Config) Options {
	tag, err := language.Parse(cfg.Languages.Target)
	if err != nil {
		tag = language.Und
	}
	return Options{
		WordsPerSecond:   cfg.Pacing.WordsPerSecond,
		Tolerance:        cfg.Pacing.Tolerance,
		MinStretch:       cfg.Pacing.MinStretch,
		MaxStretch:       cfg.Pacing.MaxStretch,
		Strictness:       cfg.Pacing.RewriteStrictness,
		RewriteTimeout:   time.Duration(cfg.Pacing.RewriteTimeoutSeconds) * time.Second,
		SilenceThreshold: cfg.Pacing.SilenceThreshold,
		Language:         tag,
	}
}

// Engine applies the pacing model.
type Engine struct {
	opts     Options
	rewriter Rewriter
	folder   *folder
	logger   *slog.Logger
}

// New builds an engine. rewriter may be nil; strict mode then falls back to
// the aggressive heuristic.
func New(opts Options, rewriter Rewriter, logger *slog.Logger) *Engine {
	if opts.WordsPerSecond <= 0 {
		opts.WordsPerSecond = 2.5
	}
	if opts.MinStretch <= 0 {
		opts.MinStretch = 1
	}
	if opts.MaxStretch < opts.MinStretch {
		opts.MaxStretch = opts.MinStretch
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		opts:     opts,
		rewriter: rewriter,
		folder:   newFolder(opts.Language),
		logger:   logging.NewComponentLogger(logger, "pacing"),
	}
}

// Options returns the effective options.
func (e *Engine) Options() Options { return e.opts }

// Estimate returns the predicted spoken duration of text in seconds.
func (e *Engine) Estimate(text string) float64 {
	return textutil.WordCount(text) / e.opts.WordsPerSecond
}

// Plan is the text decision for one segment.
type Plan struct {
	Window       float64
	OriginalText string
	Text         string
	Estimate     float64
	// Stretch is the predicted tempo factor clamped to the stretch range.
	Stretch   float64
	Deviation bool
	Actions   []string
}

// Budget returns the longest duration accepted without shortening.
func (p Plan) Budget(tolerance float64) float64 {
	return p.Window * (1 + tolerance)
}

// Plan shortens text when its estimate overruns window beyond tolerance.
// A cancelled ctx only stops the provider call; the heuristics still apply.
func (e *Engine) Plan(ctx context.Context, window float64, text string) Plan {
	plan := Plan{Window: window, OriginalText: text, Text: text, Estimate: e.Estimate(text), Stretch: 1}
	if window <= 0 {
		return plan
	}
	budget := plan.Budget(e.opts.Tolerance)
	if plan.Estimate > budget {
		switch e.opts.Strictness {
		case config.StrictnessConservative:
			e.applyHeuristic(&plan, false)
		case config.StrictnessStrict:
			e.applyHeuristic(&plan, false)
			if plan.Estimate > budget {
				e.applyProvider(ctx, &plan)
			}
		}
	}
	factor, clamped := e.clamp(plan.Estimate / window)
	if plan.Estimate > budget || plan.Estimate < window*(1-e.opts.Tolerance) {
		plan.Stretch = factor
		plan.Deviation = clamped
	}
	return plan
}

func (e *Engine) applyHeuristic(plan *Plan, aggressive bool) {
	shorter := e.folder.shorten(plan.Text, aggressive)
	if shorter == plan.Text {
		return
	}
	plan.Text = shorter
	plan.Estimate = e.Estimate(shorter)
	if aggressive {
		plan.Actions = append(plan.Actions, ActionRewriteAggressive)
	} else {
		plan.Actions = append(plan.Actions, ActionRewriteHeuristic)
	}
}

func (e *Engine) applyProvider(ctx context.Context, plan *Plan) {
	if e.rewriter == nil {
		plan.Actions = append(plan.Actions, ActionProviderUnavailable)
		e.applyHeuristic(plan, true)
		return
	}
	callCtx := ctx
	if e.opts.RewriteTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.opts.RewriteTimeout)
		defer cancel()
	}
	out, err := e.rewriter.Rewrite(callCtx, plan.Text, plan.Window)
	if err != nil {
		e.logger.Debug("rewrite provider failed; using heuristic",
			logging.Error(err),
			logging.Float64("window_seconds", plan.Window))
		plan.Actions = append(plan.Actions, ActionProviderUnavailable)
		e.applyHeuristic(plan, true)
		return
	}
	if reason := e.rejectRewrite(plan.Text, out); reason != "" {
		e.logger.Debug("rewrite provider output rejected",
			logging.String("reason", reason),
			logging.Float64("window_seconds", plan.Window))
		plan.Actions = append(plan.Actions, ActionProviderRejected)
		e.applyHeuristic(plan, true)
		return
	}
	plan.Text = out
	plan.Estimate = e.Estimate(out)
	plan.Actions = append(plan.Actions, ActionRewriteProvider)
}

func (e *Engine) clamp(factor float64) (float64, bool) {
	switch {
	case factor > e.opts.MaxStretch:
		return e.opts.MaxStretch, true
	case factor < e.opts.MinStretch:
		return e.opts.MinStretch, true
	default:
		return factor, false
	}
}

// Fit is the tempo decision for measured synthesized audio.
type Fit struct {
	// Factor is the tempo multiplier (>1 speeds up). 1 means no stretch.
	Factor float64
	// Raw is measured/window before clamping.
	Raw       float64
	Deviation bool
	// Expected is the duration after applying Factor.
	Expected float64
}

// NeedsStretch reports whether Factor differs from 1.
func (f Fit) NeedsStretch() bool {
	return math.Abs(f.Factor-1) > 1e-6
}

// Fit computes the tempo factor for audio of measured seconds. Durations
// already inside window*(1±tolerance) are left untouched.
func (e *Engine) Fit(plan Plan, measured float64) Fit {
	fit := Fit{Factor: 1, Raw: 1, Expected: measured}
	if plan.Window <= 0 || measured <= 0 {
		return fit
	}
	fit.Raw = measured / plan.Window
	if math.Abs(measured-plan.Window) <= plan.Window*e.opts.Tolerance {
		return fit
	}
	fit.Factor, fit.Deviation = e.clamp(fit.Raw)
	fit.Expected = measured / fit.Factor
	return fit
}

// WithinBounds reports whether duration lies inside window*(1±tolerance).
func (e *Engine) WithinBounds(window, duration float64) bool {
	return math.Abs(duration-window) <= window*e.opts.Tolerance+1e-9
}
