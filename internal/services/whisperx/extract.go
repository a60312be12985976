package whisperx

import (
	"fmt"
	"strconv"
)

// buildWindowArgs returns ffmpeg arguments that cut [start, start+duration)
// out of source as 16kHz mono PCM.
func buildWindowArgs(source string, start, duration float64, dest string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-ss", formatSeconds(start),
		"-t", formatSeconds(duration),
		"-i", source,
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", SampleRate,
		"-c:a", "pcm_s16le",
		dest,
	}
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func windowName(index int) string {
	return fmt.Sprintf("segment-%04d", index)
}
