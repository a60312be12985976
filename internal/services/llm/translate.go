package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"dubforge/internal/language"
)

// TranslationPrompt instructs the model to translate one dubbing segment.
const TranslationPrompt = `You translate dialogue for film dubbing.
Translate the "text" field from source_language to target_language.
Keep the meaning, register and any numbers exactly. Do not add explanations.
Respond with JSON only: {"translation": "<translated text>"}`

// RewritePrompt instructs the model to shorten a line to fit a time budget.
const RewritePrompt = `You shorten dubbing lines so they can be spoken within a time budget.
Rewrite the "text" field so it is shorter and can be spoken in about target_seconds,
using at most max_words words. Keep every number and every negation. Keep names.
Keep the language of the input. Do not add explanations.
Respond with JSON only: {"text": "<shortened text>"}`

type translationRequest struct {
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	Text           string `json:"text"`
}

type rewriteRequest struct {
	Text          string  `json:"text"`
	TargetSeconds float64 `json:"target_seconds"`
	MaxWords      int     `json:"max_words"`
}

// Translator translates segment text with a fixed language pair per call.
type Translator struct {
	client *Client
}

// NewTranslator wraps client for segment translation.
func NewTranslator(client *Client) *Translator {
	return &Translator{client: client}
}

// Translate returns text rendered in tgt. Empty input translates to empty output
// without a request.
func (t *Translator) Translate(ctx context.Context, text, src, tgt string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}
	payload, err := json.Marshal(translationRequest{
		SourceLanguage: language.DisplayName(src),
		TargetLanguage: language.DisplayName(tgt),
		Text:           text,
	})
	if err != nil {
		return "", fmt.Errorf("llm translate: encode request: %w", err)
	}
	content, err := t.client.CompleteJSON(ctx, TranslationPrompt, string(payload))
	if err != nil {
		return "", err
	}
	var parsed struct {
		Translation string `json:"translation"`
	}
	if err := DecodeLLMJSON(content, &parsed); err != nil {
		return "", classify("llm translate", fmt.Errorf("parse payload: %w", err))
	}
	translation := strings.TrimSpace(parsed.Translation)
	if translation == "" {
		return "", classify("llm translate", errors.New("empty translation"))
	}
	return translation, nil
}

// Rewriter shortens text toward a spoken duration.
type Rewriter struct {
	client         *Client
	wordsPerSecond float64
}

// NewRewriter wraps client for pacing rewrites. wordsPerSecond converts the
// target duration into a word budget for the prompt.
func NewRewriter(client *Client, wordsPerSecond float64) *Rewriter {
	if wordsPerSecond <= 0 {
		wordsPerSecond = 2.5
	}
	return &Rewriter{client: client, wordsPerSecond: wordsPerSecond}
}

// Rewrite asks the model for a shorter version of text. Validation of the
// result belongs to the caller.
func (r *Rewriter) Rewrite(ctx context.Context, text string, targetSeconds float64) (string, error) {
	payload, err := json.Marshal(rewriteRequest{
		Text:          strings.TrimSpace(text),
		TargetSeconds: math.Round(targetSeconds*100) / 100,
		MaxWords:      max(1, int(math.Floor(targetSeconds*r.wordsPerSecond))),
	})
	if err != nil {
		return "", fmt.Errorf("llm rewrite: encode request: %w", err)
	}
	content, err := r.client.CompleteJSON(ctx, RewritePrompt, string(payload))
	if err != nil {
		return "", err
	}
	var parsed struct {
		Text string `json:"text"`
	}
	if err := DecodeLLMJSON(content, &parsed); err != nil {
		return "", classify("llm rewrite", fmt.Errorf("parse payload: %w", err))
	}
	return strings.TrimSpace(parsed.Text), nil
}
