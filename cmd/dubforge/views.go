package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"dubforge/internal/manifest"
	"dubforge/internal/queue"
)

type jobView struct {
	ID           int64  `json:"id"`
	Source       string `json:"source"`
	Batch        string `json:"batch,omitempty"`
	Status       string `json:"status"`
	Stage        string `json:"stage,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Output       string `json:"output,omitempty"`
	Attempts     int    `json:"attempts"`
	UpdatedAt    string `json:"updated_at"`
}

func newJobView(job *queue.Job) jobView {
	return jobView{
		ID:           job.ID,
		Source:       job.SourcePath,
		Batch:        job.BatchLabel,
		Status:       string(job.Status),
		Stage:        job.CurrentStage,
		ErrorKind:    job.ErrorKind,
		ErrorMessage: job.ErrorMessage,
		Output:       job.OutputPath,
		Attempts:     job.Attempts,
		UpdatedAt:    job.UpdatedAt.Format(time.RFC3339),
	}
}

func jobViews(jobs []*queue.Job) []jobView {
	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, newJobView(job))
	}
	return views
}

func buildJobRows(jobs []*queue.Job) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			strconv.FormatInt(job.ID, 10),
			job.DisplayName(),
			string(job.Status),
			job.CurrentStage,
			job.BatchLabel,
			formatDisplayTime(job.UpdatedAt),
		})
	}
	return rows
}

func buildStatusRows(stats map[queue.Status]int) [][]string {
	rows := make([][]string, 0, len(stats))
	for _, status := range queue.AllStatuses() {
		if n := stats[status]; n > 0 {
			rows = append(rows, []string{string(status), strconv.Itoa(n)})
		}
	}
	return rows
}

func printJob(out io.Writer, job *queue.Job) {
	fmt.Fprintf(out, "Job %d: %s\n", job.ID, job.SourcePath)
	fmt.Fprintf(out, "Status:   %s\n", job.Status)
	if job.CurrentStage != "" {
		fmt.Fprintf(out, "Stage:    %s\n", job.CurrentStage)
	}
	if job.BatchLabel != "" {
		fmt.Fprintf(out, "Batch:    %s\n", job.BatchLabel)
	}
	fmt.Fprintf(out, "Attempts: %d\n", job.Attempts)
	if job.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:    %s (%s)\n", job.ErrorMessage, job.ErrorKind)
	}
	if job.OutputPath != "" {
		fmt.Fprintf(out, "Output:   %s\n", job.OutputPath)
	}
}

type stageView struct {
	Stage       string `json:"stage"`
	Status      string `json:"status"`
	Fingerprint string `json:"fingerprint,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	StaleReason string `json:"stale_reason,omitempty"`
	Segments    int    `json:"segments,omitempty"`
	Pinned      []int  `json:"pinned,omitempty"`
	Error       string `json:"error,omitempty"`
}

func newStageView(st manifest.StageStatus) stageView {
	view := stageView{Stage: string(st.Stage), Status: "pending"}
	if st.Err != nil {
		view.Status = "corrupt"
		view.Error = st.Err.Error()
		return view
	}
	m := st.Manifest
	if m == nil {
		return view
	}
	view.Status = string(m.Status)
	view.Fingerprint = m.Fingerprint
	view.CompletedAt = m.CompletedAt.Format(time.RFC3339)
	view.StaleReason = m.StaleReason
	view.Segments = len(m.Segments)
	for idx := range m.Pinned {
		view.Pinned = append(view.Pinned, idx)
	}
	slices.Sort(view.Pinned)
	return view
}

func stageViews(stages []manifest.StageStatus) []stageView {
	views := make([]stageView, 0, len(stages))
	for _, st := range stages {
		views = append(views, newStageView(st))
	}
	return views
}

func renderStages(stages []manifest.StageStatus) string {
	rows := make([][]string, 0, len(stages))
	for _, view := range stageViews(stages) {
		status := view.Status
		if view.StaleReason != "" {
			status += " (" + view.StaleReason + ")"
		}
		detail := view.Error
		if detail == "" && len(view.Pinned) > 0 {
			detail = "locked: " + joinInts(view.Pinned)
		}
		rows = append(rows, []string{view.Stage, status, shortFingerprint(view.Fingerprint), detail})
	}
	return renderTable([]string{"Stage", "Status", "Fingerprint", "Detail"}, rows, nil)
}

func shortFingerprint(value string) string {
	if len(value) > 12 {
		return value[:12]
	}
	return value
}

func formatDisplayTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatSeconds(value float64) string {
	return strconv.FormatFloat(value, 'f', 2, 64)
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func truncate(text string, limit int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit-1]) + "…"
}
