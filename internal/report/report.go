// Package report summarizes a stitching run for people and for machines.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"panostitch/internal/stitch"
)

// Report is the outcome of one run.
type Report struct {
	RunID         string        `json:"run_id"`
	InputDir      string        `json:"input_dir"`
	Engine        string        `json:"engine"`
	MaxSkip       int           `json:"max_skip"`
	Status        stitch.Status `json:"status"`
	StatusName    string        `json:"status_name"`
	StatusMessage string        `json:"status_message"`
	Used          []string      `json:"used"`
	Skipped       []string      `json:"skipped"`
	UsedNames     []string      `json:"used_names"`
	SkippedNames  []string      `json:"skipped_names"`
	Attempts      int           `json:"attempts"`
	OutputFile    string        `json:"output_file,omitempty"`
	Cropped       bool          `json:"cropped"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	DurationMS    int64         `json:"duration_ms"`
	Error         string        `json:"error,omitempty"`
}

// FromResult builds a report from a controller result.
func FromResult(runID, inputDir, engine string, maxSkip int, res stitch.Result) *Report {
	r := &Report{
		RunID:    runID,
		InputDir: inputDir,
		Engine:   engine,
		MaxSkip:  maxSkip,
		Status:   res.Status,
		Used:     append([]string(nil), res.Used...),
		Skipped:  append([]string(nil), res.Skipped...),
		Attempts: res.Attempts,
	}
	if res.Err != nil {
		r.Error = res.Err.Error()
	}
	return r
}

// OK reports whether the run produced a panorama.
func (r *Report) OK() bool { return r.Status.OK() }

// Complete reports whether the run produced a panorama and finished without
// error. A cancelled run or a failed save is OK but not complete.
func (r *Report) Complete() bool { return r.OK() && r.Error == "" }

// Finalize fills the derived fields. It is safe to call more than once.
func (r *Report) Finalize() {
	if r.Used == nil {
		r.Used = []string{}
	}
	if r.Skipped == nil {
		r.Skipped = []string{}
	}
	r.UsedNames = baseNames(r.Used)
	r.SkippedNames = baseNames(r.Skipped)
	r.StatusName = r.Status.String()
	r.StatusMessage = r.Status.Message()
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now()
	}
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	if !r.StartedAt.IsZero() {
		r.DurationMS = r.FinishedAt.Sub(r.StartedAt).Milliseconds()
	}
}

// Duration is the wall-clock time of the run.
func (r *Report) Duration() time.Duration {
	return time.Duration(r.DurationMS) * time.Millisecond
}

// WriteJSON writes the report to path as indented JSON.
func (r *Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Meta returns the summary stored alongside a run in the database.
func (r *Report) Meta() map[string]any {
	return map[string]any{
		"status":        int(r.Status),
		"status_name":   r.StatusName,
		"used":          r.UsedNames,
		"skipped":       r.SkippedNames,
		"attempts":      r.Attempts,
		"output_file":   r.OutputFile,
		"cropped":       r.Cropped,
		"duration_ms":   r.DurationMS,
		"engine":        r.Engine,
		"max_skip":      r.MaxSkip,
		"error_message": r.Error,
	}
}

func baseNames(paths []string) []string {
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	return names
}
