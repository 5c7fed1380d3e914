package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"panostitch/internal/config"
	"panostitch/internal/crop"
	"panostitch/internal/engine"
	"panostitch/internal/fsutil"
	"panostitch/internal/imageio"
	"panostitch/internal/logging"
	"panostitch/internal/report"
	"panostitch/internal/stitch"
	"panostitch/internal/storage"
)

const (
	defaultOutputName = "panorama.jpg"
	// reasonBaseUnreadable marks images dropped because the first image
	// could not be loaded.
	reasonBaseUnreadable = "base_unreadable"
)

// EngineSelector picks the stitch backend for a run.
type EngineSelector interface {
	Select(name string) (engine.Engine, error)
}

// Runner carries out one adaptive stitching run per job.
type Runner struct {
	log           *slog.Logger
	store         *storage.Store
	engines       EngineSelector
	defaultOutput string
	jpegQuality   int

	settle  func(ctx context.Context, dir string, quiet time.Duration) error
	list    func(dir string) ([]string, error)
	listRAW func(dir string) ([]string, error)
	cropFn  func(img image.Image) (image.Image, error)
	encode  func(path string, img image.Image, quality int) error
	now     func() time.Time
}

// NewRunner returns a Runner writing panoramas according to out.
func NewRunner(logger *slog.Logger, store *storage.Store, engines EngineSelector, out config.Output) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	quality := out.JPEGQuality
	if quality <= 0 {
		quality = imageio.DefaultJPEGQuality
	}
	return &Runner{
		log:           logger,
		store:         store,
		engines:       engines,
		defaultOutput: out.DefaultOutput,
		jpegQuality:   quality,
		settle:        fsutil.WaitForQuiet,
		list:          fsutil.ListImages,
		listRAW:       fsutil.ListRAW,
		cropFn:        crop.Largest,
		encode:        imageio.Encode,
		now:           time.Now,
	}
}

// Process runs the adaptive controller over the images of job.InputDir and
// saves the panorama when one was produced. The returned Result always
// carries a report, also for runs that failed before stitching started.
func (r *Runner) Process(ctx context.Context, job Job, obs stitch.Observer) Result {
	start := r.now()
	rep := &report.Report{
		RunID:     job.ID,
		InputDir:  job.InputDir,
		MaxSkip:   job.Options.MaxSkip,
		Status:    stitch.StatusFailed,
		StartedAt: start,
	}

	paths, err := r.inputs(ctx, job)
	if err != nil {
		rep.Skipped = paths
		return r.finish(job, rep, err)
	}

	eng, err := r.engines.Select(job.Options.Engine)
	if err != nil {
		rep.Skipped = paths
		return r.finish(job, rep, fmt.Errorf("select engine: %w", err))
	}

	output := r.outputPath(job)
	logging.LogRunStart(r.log, job.ID, job.InputDir, output, len(paths), map[string]any{
		"engine":   eng.Name(),
		"max_skip": job.Options.MaxSkip,
		"crop":     job.Options.Crop,
	})

	reasons := newReasonRecorder()
	ctrl := stitch.New(eng, eng,
		stitch.WithMaxSkip(job.Options.MaxSkip),
		stitch.WithObserver(stitch.MultiObserver(obs, reasons)),
	)
	res := ctrl.Run(ctx, paths)
	r.recordImages(job.ID, paths, res, reasons)

	rep = report.FromResult(job.ID, job.InputDir, eng.Name(), ctrl.MaxSkip(), res)
	rep.StartedAt = start
	if !res.OK() {
		return r.finish(job, rep, res.Err)
	}
	defer res.Panorama.Close()

	cropped, err := r.save(eng, res.Panorama, output, job.Options.Crop)
	if err != nil {
		return r.finish(job, rep, fmt.Errorf("save panorama: %w", err))
	}
	rep.OutputFile = output
	rep.Cropped = cropped
	// A cancelled run that still merged images keeps its partial panorama.
	return r.finish(job, rep, res.Err)
}

// inputs settles and lists the input directory and applies the start/count
// selection.
func (r *Runner) inputs(ctx context.Context, job Job) ([]string, error) {
	if job.Options.Settle > 0 {
		r.log.Info("waiting for input directory to settle", "dir", job.InputDir, "quiet", job.Options.Settle)
		if err := r.settle(ctx, job.InputDir, job.Options.Settle); err != nil {
			return nil, fmt.Errorf("wait for %s: %w", job.InputDir, err)
		}
	}

	all, err := r.list(job.InputDir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", job.InputDir, err)
	}
	if raw, err := r.listRAW(job.InputDir); err == nil && len(raw) > 0 {
		r.log.Warn("ignoring RAW files, convert them to stitch", "run", job.ID, "count", len(raw), "first", filepath.Base(raw[0]))
	}
	paths, err := fsutil.SelectSequence(all, job.Options.Start, job.Options.Count)
	if err != nil {
		return nil, err
	}
	if len(paths) < 2 {
		return paths, fmt.Errorf("%w, found %d in %s", stitch.ErrInsufficientInput, len(paths), job.InputDir)
	}
	return paths, nil
}

// outputPath resolves the file the panorama is written to. An empty output
// falls back to the configured default; a directory gets panorama.jpg.
func (r *Runner) outputPath(job Job) string {
	out := job.Output
	if out == "" {
		out = r.defaultOutput
	}
	if out == "" {
		return filepath.Join(job.InputDir, defaultOutputName)
	}
	if fsutil.IsDir(out) || strings.HasSuffix(out, string(os.PathSeparator)) || filepath.Ext(out) == "" {
		return filepath.Join(out, defaultOutputName)
	}
	return out
}

// save exports the panorama from the engine, optionally crops it and
// encodes it to output. It reports whether the written image was cropped.
func (r *Runner) save(eng engine.Engine, pano stitch.Image, output string, wantCrop bool) (bool, error) {
	img, err := eng.Export(pano)
	if err != nil {
		return false, fmt.Errorf("export from %s: %w", eng.Name(), err)
	}

	cropped := false
	if wantCrop {
		c, err := r.cropFn(img)
		switch {
		case err == nil:
			r.log.Info("cropped panorama", "from", img.Bounds().Size(), "to", c.Bounds().Size())
			img, cropped = c, true
		case errors.Is(err, crop.ErrNothingToCrop):
			r.log.Warn("crop found no content, keeping uncropped panorama")
		default:
			return false, fmt.Errorf("crop: %w", err)
		}
	}

	if err := r.encode(output, img, r.jpegQuality); err != nil {
		return false, err
	}
	r.log.Info("output image saved", "path", output)
	return cropped, nil
}

func (r *Runner) finish(job Job, rep *report.Report, err error) Result {
	if err != nil {
		rep.Error = err.Error()
	}
	rep.FinishedAt = r.now()
	rep.Finalize()

	if job.Options.Report != "" {
		if werr := rep.WriteJSON(job.Options.Report); werr != nil {
			r.log.Warn("failed to write report", "path", job.Options.Report, "error", werr)
		}
	}
	return Result{Job: job, Report: rep, Error: err, Meta: rep.Meta()}
}

// recordImages stores the classification of every input position. Positions
// the controller never reached are stored as unvisited.
func (r *Runner) recordImages(runID string, paths []string, res stitch.Result, reasons *reasonRecorder) {
	used := make(map[string]bool, len(res.Used))
	for _, p := range res.Used {
		used[p] = true
	}
	skipped := make(map[string]bool, len(res.Skipped))
	for _, p := range res.Skipped {
		skipped[p] = true
	}

	for i, p := range paths {
		rec := storage.ImageRecord{Position: i, Path: p, Outcome: storage.OutcomeUnvisited}
		switch {
		case used[p]:
			rec.Outcome = storage.OutcomeUsed
		case skipped[p]:
			rec.Outcome = storage.OutcomeSkipped
			rec.Reason = reasons.reason(i)
			if rec.Reason == "" && errors.Is(res.Err, stitch.ErrBaseUnreadable) {
				rec.Reason = reasonBaseUnreadable
				if i == 0 {
					rec.Reason = string(stitch.ReasonLoadFailed)
				}
			}
		}
		if err := r.store.RecordImageOutcome(runID, rec); err != nil {
			r.log.Warn("failed to record image outcome", "run", runID, "image", p, "error", err)
			return
		}
	}
}

// reasonRecorder remembers why each position was skipped.
type reasonRecorder struct {
	byIndex map[int]stitch.SkipReason
}

func newReasonRecorder() *reasonRecorder {
	return &reasonRecorder{byIndex: map[int]stitch.SkipReason{}}
}

func (rr *reasonRecorder) OnEvent(ev stitch.Event) {
	if ev.Kind == stitch.EventSkipped {
		rr.byIndex[ev.Index] = ev.Reason
	}
}

func (rr *reasonRecorder) reason(i int) string {
	return string(rr.byIndex[i])
}
