package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ProbeResult is the subset of ffprobe JSON output the pipeline uses.
type ProbeResult struct {
	Streams []Stream    `json:"streams"`
	Format  ProbeFormat `json:"format"`
}

// Stream describes a single stream in the container.
type Stream struct {
	Index      int               `json:"index"`
	CodecName  string            `json:"codec_name"`
	CodecType  string            `json:"codec_type"`
	SampleRate string            `json:"sample_rate"`
	Channels   int               `json:"channels"`
	Tags       map[string]string `json:"tags"`
}

// ProbeFormat captures container-level metadata.
type ProbeFormat struct {
	Filename   string `json:"filename"`
	Duration   string `json:"duration"`
	FormatName string `json:"format_name"`
}

// StreamCount returns the number of streams of codecType.
func (r ProbeResult) StreamCount(codecType string) int {
	count := 0
	for _, s := range r.Streams {
		if strings.EqualFold(s.CodecType, codecType) {
			count++
		}
	}
	return count
}

// DurationSeconds returns the container duration, or 0 when unavailable.
func (r ProbeResult) DurationSeconds() float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(r.Format.Duration), 64)
	if err != nil || math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

// Probe inspects path with ffprobe.
func (t *Toolkit) Probe(ctx context.Context, path string) (ProbeResult, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return ProbeResult{}, errors.New("ffprobe: empty path")
	}
	output, err := t.exec(ctx, t.ffprobe, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	if err != nil {
		return ProbeResult{}, err
	}
	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result, nil
}
