package tts_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"dubforge/internal/config"
	"dubforge/internal/services"
	"dubforge/internal/services/tts"
)

type synthServer struct {
	mu    sync.Mutex
	modes []string
	// reject maps a mode to the status and error code returned for it.
	reject map[string]int
}

func (s *synthServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/synthesize" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		mode, _ := body["mode"].(string)
		s.mu.Lock()
		s.modes = append(s.modes, mode)
		s.mu.Unlock()
		switch s.reject[mode] {
		case http.StatusUnprocessableEntity:
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":{"code":"reference_unavailable","message":"speaker too short"}}`))
			return
		case http.StatusInternalServerError:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`boom`))
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFF-fake-wav"))
	}
}

func newChain(t *testing.T, srv *synthServer, presets map[string]string) *tts.Chain {
	t.Helper()
	server := httptest.NewServer(srv.handler(t))
	t.Cleanup(server.Close)
	cfg := config.Default()
	cfg.Synthesis.Endpoint = server.URL
	cfg.Synthesis.VoiceClone = true
	cfg.Synthesis.PresetVoices = presets
	return tts.NewChainFromConfig(&cfg, nil)
}

func writeReference(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ref.wav")
	if err := os.WriteFile(path, []byte("RIFF-ref"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestChainFallbackOrder(t *testing.T) {
	tests := []struct {
		name         string
		reference    bool
		presets      map[string]string
		reject       map[string]int
		wantProvider string
		wantCalls    []string
		wantOutcomes []tts.Outcome
	}{
		{
			name:         "clone succeeds",
			reference:    true,
			wantProvider: "voice-clone",
			wantCalls:    []string{"voice_clone"},
			wantOutcomes: []tts.Outcome{tts.OutcomeOK},
		},
		{
			name:         "missing reference falls to preset without a call",
			presets:      map[string]string{"SPEAKER_01": "narrator"},
			wantProvider: "preset",
			wantCalls:    []string{"preset"},
			wantOutcomes: []tts.Outcome{tts.OutcomeReferenceUnavailable, tts.OutcomeOK},
		},
		{
			name:         "service rejects reference then unmapped speaker reaches generic",
			reference:    true,
			presets:      map[string]string{"SPEAKER_09": "other"},
			reject:       map[string]int{"voice_clone": http.StatusUnprocessableEntity},
			wantProvider: "generic",
			wantCalls:    []string{"voice_clone", "generic"},
			wantOutcomes: []tts.Outcome{tts.OutcomeReferenceUnavailable, tts.OutcomeReferenceUnavailable, tts.OutcomeOK},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := &synthServer{reject: tc.reject}
			chain := newChain(t, srv, tc.presets)
			req := tts.Request{
				Text:     "Deberíamos irnos.",
				Language: "es",
				Speaker:  "SPEAKER_01",
				Dest:     filepath.Join(t.TempDir(), "seg.wav"),
			}
			if tc.reference {
				req.Reference = writeReference(t)
			}
			result, err := chain.Synthesize(context.Background(), req)
			if err != nil {
				t.Fatalf("Synthesize: %v", err)
			}
			if result.Provider != tc.wantProvider {
				t.Fatalf("provider = %s, want %s", result.Provider, tc.wantProvider)
			}
			if !slices.Equal(srv.modes, tc.wantCalls) {
				t.Fatalf("calls = %v, want %v", srv.modes, tc.wantCalls)
			}
			var outcomes []tts.Outcome
			for _, a := range result.Attempts {
				outcomes = append(outcomes, a.Outcome)
			}
			if !slices.Equal(outcomes, tc.wantOutcomes) {
				t.Fatalf("outcomes = %v, want %v", outcomes, tc.wantOutcomes)
			}
			if _, err := os.Stat(result.Path); err != nil {
				t.Fatalf("expected audio at %s: %v", result.Path, err)
			}
		})
	}
}

func TestChainStopsOnFailure(t *testing.T) {
	srv := &synthServer{reject: map[string]int{"voice_clone": http.StatusInternalServerError}}
	chain := newChain(t, srv, nil)
	_, err := chain.Synthesize(context.Background(), tts.Request{
		Text:      "hola",
		Speaker:   "SPEAKER_00",
		Reference: writeReference(t),
		Dest:      filepath.Join(t.TempDir(), "seg.wav"),
	})
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if len(srv.modes) != 1 {
		t.Fatalf("failure must not fall back, calls = %v", srv.modes)
	}
}

func TestChainRejectsEmptyText(t *testing.T) {
	chain := newChain(t, &synthServer{}, nil)
	_, err := chain.Synthesize(context.Background(), tts.Request{Text: " ", Dest: filepath.Join(t.TempDir(), "x.wav")})
	if services.Classify(err) != services.KindFatal {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestChainProviders(t *testing.T) {
	chain := newChain(t, &synthServer{}, map[string]string{"default": "narrator"})
	want := []string{"voice-clone", "preset", "generic"}
	if got := chain.Providers(); !slices.Equal(got, want) {
		t.Fatalf("providers = %v, want %v", got, want)
	}
}
