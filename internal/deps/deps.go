package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"dubforge/internal/config"
	"dubforge/internal/services/whisperx"
)

// Requirement defines an external binary dubforge shells out to.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Requirement
	Path      string
	Available bool
	Detail    string
}

// Requirements lists the binaries the pipeline needs under cfg.
func Requirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{Name: "FFmpeg", Command: cfg.FFmpegBinary(), Description: "audio extraction, time stretch, mix and mux"},
		{Name: "FFprobe", Command: cfg.FFprobeBinary(), Description: "source stream inspection", Optional: true},
		{Name: "uvx", Command: whisperx.UVXCommand, Description: "runs WhisperX for diarization and transcription"},
	}
}

// CheckBinaries resolves every requirement on PATH.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		req.Command = strings.TrimSpace(req.Command)
		req.Description = strings.TrimSpace(req.Description)
		status := Status{Requirement: req}
		switch path, err := exec.LookPath(req.Command); {
		case req.Command == "":
			status.Detail = "command not configured"
		case err != nil:
			status.Detail = fmt.Sprintf("binary %q not found", req.Command)
		default:
			status.Path = path
			status.Available = true
		}
		results = append(results, status)
	}
	return results
}

// Missing returns the unavailable required dependencies.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			out = append(out, s)
		}
	}
	return out
}
