package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"dubforge/internal/config"
	"dubforge/internal/logging"
	"dubforge/internal/services"
)

// Capability names what a provider needs from the request.
type Capability string

const (
	CapabilityVoiceClone Capability = "voice_clone"
	CapabilityPreset     Capability = "preset"
	CapabilityGeneric    Capability = "generic"
)

// Outcome tags the result of one provider attempt.
type Outcome string

const (
	OutcomeOK                   Outcome = "ok"
	OutcomeReferenceUnavailable Outcome = "reference_unavailable"
	OutcomeFailed               Outcome = "failed"
)

// Request is one segment to synthesize.
type Request struct {
	Text     string
	Language string
	Speaker  string
	// Reference is a WAV clip of the original speaker, used for cloning.
	Reference string
	// Hints carries expressive hints (e.g. "emotion") passed through verbatim.
	Hints map[string]string
	// Dest is where the synthesized WAV is written.
	Dest string
}

// Attempt is the tagged result of one provider call.
type Attempt struct {
	Provider   string
	Capability Capability
	Outcome    Outcome
	Err        error
}

// Provider synthesizes speech with one capability.
type Provider interface {
	Name() string
	Capability() Capability
	Synthesize(ctx context.Context, req Request) Attempt
}

// Result describes a completed chain run.
type Result struct {
	Path     string
	Provider string
	Attempts []Attempt
}

// Chain tries providers in order.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

// NewChain builds a chain over providers in fallback order.
func NewChain(logger *slog.Logger, providers ...Provider) *Chain {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Chain{providers: providers, logger: logging.NewComponentLogger(logger, "tts")}
}

// NewChainFromConfig wires the configured providers: voice-clone when
// enabled, preset when any voices are mapped, and always generic.
func NewChainFromConfig(cfg *config.Config, logger *slog.Logger) *Chain {
	client := NewHTTPClient(cfg.Synthesis)
	var providers []Provider
	if cfg.Synthesis.VoiceClone {
		providers = append(providers, NewCloneProvider(client))
	}
	if len(cfg.Synthesis.PresetVoices) > 0 {
		providers = append(providers, NewPresetProvider(client, cfg.Synthesis.PresetVoices))
	}
	providers = append(providers, NewGenericProvider(client, cfg.Synthesis.GenericVoice))
	return NewChain(logger, providers...)
}

// Providers returns the provider names in fallback order.
func (c *Chain) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// Synthesize runs the chain. The returned error is ErrFatalInput when no
// provider could serve the request and ErrTransient when one failed.
func (c *Chain) Synthesize(ctx context.Context, req Request) (Result, error) {
	var result Result
	if strings.TrimSpace(req.Text) == "" {
		return result, services.Wrap(services.ErrFatalInput, "synthesize", "tts", "empty text", nil)
	}
	if len(c.providers) == 0 {
		return result, services.Wrap(services.ErrConfiguration, "synthesize", "tts", "no providers configured", nil)
	}
	logger := logging.WithContext(ctx, c.logger)
	for _, provider := range c.providers {
		attempt := provider.Synthesize(ctx, req)
		result.Attempts = append(result.Attempts, attempt)
		switch attempt.Outcome {
		case OutcomeOK:
			result.Path = req.Dest
			result.Provider = provider.Name()
			if len(result.Attempts) > 1 {
				logger.Info("synthesis fell back",
					logging.String("provider", provider.Name()),
					logging.String("speaker", req.Speaker),
					logging.Int("attempts", len(result.Attempts)))
			}
			return result, nil
		case OutcomeReferenceUnavailable:
			logger.Debug("provider cannot serve speaker",
				logging.String("provider", provider.Name()),
				logging.String("speaker", req.Speaker),
				logging.Error(attempt.Err))
			continue
		default:
			err := attempt.Err
			if err == nil {
				err = errors.New("provider failed")
			}
			if ctx.Err() != nil {
				return result, fmt.Errorf("tts %s: %w", provider.Name(), ctx.Err())
			}
			return result, services.Wrap(services.ErrTransient, "synthesize", provider.Name(), "", err)
		}
	}
	return result, services.Wrap(services.ErrFatalInput, "synthesize", "tts",
		fmt.Sprintf("no provider available for speaker %q", req.Speaker), nil)
}
