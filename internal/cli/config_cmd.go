package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"panostitch/internal/stitch"
)

const version = "v1.0.0-dev"

func (r *Root) configShow(w io.Writer) error {
	fmt.Fprintf(w, "Current configuration:\n")
	cfgPath := os.Getenv("PANOSTITCH_CONFIG")
	if cfgPath == "" {
		cfgPath = "(default) ~/.config/panostitch/config.json"
	}
	fmt.Fprintf(w, "Config file: %s\n", cfgPath)
	fmt.Fprintf(w, "\nStitching:\n")
	fmt.Fprintf(w, "  Max skip: %d\n", r.cfg.Stitching.MaxSkip)
	fmt.Fprintf(w, "  Engine: %s\n", orAuto(r.cfg.Stitching.Engine))
	fmt.Fprintf(w, "  Crop: %t\n", r.cfg.Stitching.Crop)
	fmt.Fprintf(w, "  Mode: %s\n", r.cfg.Stitching.Mode)
	fmt.Fprintf(w, "  Settle: %ds\n", r.cfg.Stitching.SettleSeconds)
	fmt.Fprintf(w, "\nEngines:\n")
	fmt.Fprintf(w, "  Preferred: %s\n", r.cfg.Engines.Preferred)
	fmt.Fprintf(w, "  Fallbacks: %s\n", strings.Join(r.cfg.Engines.Fallbacks, ", "))
	fmt.Fprintf(w, "  Hugin projection: %s\n", r.cfg.Engines.Hugin.Projection)
	fmt.Fprintf(w, "  Hugin blending: %s\n", r.cfg.Engines.Hugin.Blending)
	fmt.Fprintf(w, "\nOutput:\n")
	fmt.Fprintf(w, "  Default output: %s\n", r.cfg.Output.DefaultOutput)
	fmt.Fprintf(w, "  JPEG quality: %d\n", r.cfg.Output.JPEGQuality)
	fmt.Fprintf(w, "\nStorage:\n")
	fmt.Fprintf(w, "  Driver: %s\n", r.cfg.Storage.Driver)
	fmt.Fprintf(w, "  Database path: %s\n", r.cfg.Paths.DatabasePath)
	fmt.Fprintf(w, "  Temp directory: %s\n", r.cfg.Paths.TempDir)
	fmt.Fprintf(w, "\nLogging:\n")
	fmt.Fprintf(w, "  Level: %s\n", r.cfg.Logging.Level)
	fmt.Fprintf(w, "  Format: %s\n", r.cfg.Logging.Format)
	if r.cfg.Logging.FileOutput {
		fmt.Fprintf(w, "  Log directory: %s\n", r.cfg.Logging.LogDir)
	}
	return nil
}

func orAuto(s string) string {
	if s == "" {
		return "auto"
	}
	return s
}

func (r *Root) cmdEngines(w io.Writer) error {
	statuses := r.engineStatus()
	if len(statuses) == 0 {
		fmt.Fprintf(w, "❌ No stitching engines registered\n")
		return nil
	}
	fmt.Fprintf(w, "Stitching engines (in selection order):\n")
	for _, st := range statuses {
		if st.Available {
			fmt.Fprintf(w, "  ✅ %-12s %s\n", st.Name, st.Detail)
			continue
		}
		reason := st.Detail
		if st.Error != nil {
			reason = st.Error.Error()
		}
		fmt.Fprintf(w, "  ❌ %-12s %s\n", st.Name, reason)
	}
	return nil
}

func (r *Root) cmdHistory(w io.Writer, limit int) error {
	if r.store == nil {
		return errors.New("run history is unavailable: no database")
	}
	runs, err := r.store.RecentRuns(limit)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintf(w, "No runs recorded yet\n")
		return nil
	}
	for _, run := range runs {
		status := "-"
		if run.StitchStatus != nil {
			status = stitch.Status(*run.StitchStatus).String()
		}
		fmt.Fprintf(w, "%s  %-9s %-28s used=%d skipped=%d attempts=%d  %s\n",
			run.ID, run.Status, status, run.Used, run.Skipped, run.Attempts, filepath.Base(run.InputDir))
		if run.Error != "" {
			fmt.Fprintf(w, "    error: %s\n", run.Error)
		}
	}
	return nil
}

func (r *Root) cmdVersion(w io.Writer) {
	fmt.Fprintf(w, "panostitch %s\n", version)
	fmt.Fprintf(w, "Built with Go %s\n", runtime.Version())
	fmt.Fprintf(w, "Engines:\n")
	for _, st := range r.engineStatus() {
		status := "❌ unavailable"
		if st.Available {
			status = "✅ available"
		}
		fmt.Fprintf(w, "  %s: %s\n", st.Name, status)
	}
}
