package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"dubforge/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "mux", "ffmpeg", "failed", base)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"mux", "ffmpeg", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want services.ErrorKind
	}{
		{"nil", nil, services.KindNone},
		{"transient", services.Wrap(services.ErrTransient, "translate", "call", "rate limited", nil), services.KindTransient},
		{"fatal input", services.Wrap(services.ErrFatalInput, "extract", "probe", "unreadable", nil), services.KindFatal},
		{"corruption", fmt.Errorf("load: %w", services.ErrManifestCorruption), services.KindFatal},
		{"cancelled", services.ErrCancelled, services.KindCancelled},
		{"untagged", errors.New("mystery"), services.KindTransient},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.Classify(tc.err); got != tc.want {
				t.Fatalf("Classify() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDetailsCarriesStageAndSegment(t *testing.T) {
	inner := services.Wrap(services.ErrFatalInput, "synthesize", "voice", "unsupported language", nil)
	err := services.NewStageError("synthesize", 7, inner)
	details := services.Details(err)
	if details.Stage != "synthesize" || details.Segment != 7 {
		t.Fatalf("unexpected details: %+v", details)
	}
	if details.Kind != services.KindFatal || details.Retryable {
		t.Fatalf("expected fatal non-retryable, got %+v", details)
	}
	if again := services.NewStageError("mix", -1, err); again != err {
		t.Fatal("expected existing stage error to be preserved")
	}
}

func TestSummaryNamesStageAndKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "transient",
			err:  services.NewStageError("translate", -1, services.Wrap(services.ErrTransient, "translate", "chat", "rate limited", nil)),
			want: "stage translate failed (retryable): transient dependency failure: translate: chat: rate limited",
		},
		{
			name: "fatal segment",
			err:  services.NewStageError("synthesize", 4, services.ErrFatalInput),
			want: "stage synthesize segment 4 failed (fatal): fatal input error",
		},
		{
			name: "cancelled",
			err:  services.NewStageError("mix", -1, services.ErrCancelled),
			want: "stage mix cancelled",
		},
		{
			name: "untagged",
			err:  errors.New("boom"),
			want: "job failed (retryable): boom",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.Summary(tc.err); got != tc.want {
				t.Fatalf("Summary = %q, want %q", got, tc.want)
			}
		})
	}
}
