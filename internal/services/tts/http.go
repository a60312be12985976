package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"dubforge/internal/config"
	"dubforge/internal/fileutil"
	"dubforge/internal/language"
)

const (
	synthesizePath        = "/v1/synthesize"
	defaultRequestTimeout = 120 * time.Second
	errorReferenceCode    = "reference_unavailable"
)

// HTTPClient posts synthesis requests to the configured endpoint.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	sampleRate int
	httpClient *http.Client
}

// NewHTTPClient builds a client from the synthesis configuration.
func NewHTTPClient(cfg config.Synthesis) *HTTPClient {
	timeout := defaultRequestTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &HTTPClient{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		sampleRate: cfg.SampleRate,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type synthesizeRequest struct {
	Text           string            `json:"text"`
	Language       string            `json:"language"`
	Mode           Capability        `json:"mode"`
	Voice          string            `json:"voice,omitempty"`
	ReferenceAudio string            `json:"reference_audio,omitempty"`
	SampleRate     int               `json:"sample_rate"`
	Hints          map[string]string `json:"hints,omitempty"`
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// errReferenceUnavailable is returned by post when the service cannot use the
// supplied reference or voice.
var errReferenceUnavailable = errors.New("reference unavailable")

func (c *HTTPClient) post(ctx context.Context, payload synthesizeRequest, dest string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+synthesizePath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		var parsed errorPayload
		_ = json.Unmarshal(data, &parsed)
		if resp.StatusCode == http.StatusUnprocessableEntity && parsed.Error.Code == errorReferenceCode {
			return fmt.Errorf("%w: %s", errReferenceUnavailable, parsed.Error.Message)
		}
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if len(data) == 0 {
		return errors.New("empty audio response")
	}
	return fileutil.WriteFileAtomic(dest, data, 0o644)
}

func attemptFrom(name string, capability Capability, err error) Attempt {
	attempt := Attempt{Provider: name, Capability: capability, Outcome: OutcomeOK}
	switch {
	case err == nil:
	case errors.Is(err, errReferenceUnavailable):
		attempt.Outcome = OutcomeReferenceUnavailable
		attempt.Err = err
	default:
		attempt.Outcome = OutcomeFailed
		attempt.Err = err
	}
	return attempt
}

func (c *HTTPClient) basePayload(req Request, mode Capability) synthesizeRequest {
	lang := language.ToISO2(req.Language)
	if lang == "" {
		lang = req.Language
	}
	return synthesizeRequest{
		Text:       req.Text,
		Language:   lang,
		Mode:       mode,
		SampleRate: c.sampleRate,
		Hints:      req.Hints,
	}
}

// CloneProvider clones the original speaker's voice from a reference clip.
type CloneProvider struct {
	client *HTTPClient
}

func NewCloneProvider(client *HTTPClient) *CloneProvider { return &CloneProvider{client: client} }

func (p *CloneProvider) Name() string           { return "voice-clone" }
func (p *CloneProvider) Capability() Capability { return CapabilityVoiceClone }

func (p *CloneProvider) Synthesize(ctx context.Context, req Request) Attempt {
	if strings.TrimSpace(req.Reference) == "" {
		return attemptFrom(p.Name(), p.Capability(), fmt.Errorf("%w: no reference clip", errReferenceUnavailable))
	}
	ref, err := os.ReadFile(req.Reference)
	if err != nil {
		return attemptFrom(p.Name(), p.Capability(), fmt.Errorf("%w: %v", errReferenceUnavailable, err))
	}
	payload := p.client.basePayload(req, CapabilityVoiceClone)
	payload.ReferenceAudio = base64.StdEncoding.EncodeToString(ref)
	return attemptFrom(p.Name(), p.Capability(), p.client.post(ctx, payload, req.Dest))
}

// PresetProvider maps speakers to named voices. The "default" entry serves
// unmapped speakers.
type PresetProvider struct {
	client *HTTPClient
	voices map[string]string
}

func NewPresetProvider(client *HTTPClient, voices map[string]string) *PresetProvider {
	return &PresetProvider{client: client, voices: voices}
}

func (p *PresetProvider) Name() string           { return "preset" }
func (p *PresetProvider) Capability() Capability { return CapabilityPreset }

func (p *PresetProvider) Synthesize(ctx context.Context, req Request) Attempt {
	voice, ok := p.voices[req.Speaker]
	if !ok {
		voice, ok = p.voices["default"]
	}
	if !ok || voice == "" {
		return attemptFrom(p.Name(), p.Capability(), fmt.Errorf("%w: no preset for %s", errReferenceUnavailable, req.Speaker))
	}
	payload := p.client.basePayload(req, CapabilityPreset)
	payload.Voice = voice
	return attemptFrom(p.Name(), p.Capability(), p.client.post(ctx, payload, req.Dest))
}

// GenericProvider uses one voice for everyone.
type GenericProvider struct {
	client *HTTPClient
	voice  string
}

func NewGenericProvider(client *HTTPClient, voice string) *GenericProvider {
	return &GenericProvider{client: client, voice: voice}
}

func (p *GenericProvider) Name() string           { return "generic" }
func (p *GenericProvider) Capability() Capability { return CapabilityGeneric }

func (p *GenericProvider) Synthesize(ctx context.Context, req Request) Attempt {
	payload := p.client.basePayload(req, CapabilityGeneric)
	payload.Voice = p.voice
	return attemptFrom(p.Name(), p.Capability(), p.client.post(ctx, payload, req.Dest))
}
