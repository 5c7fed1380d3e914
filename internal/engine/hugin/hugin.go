// Package hugin provides the stitch primitive through the Hugin command line
// tools: pto_gen, cpfind, cpclean, autooptimiser, pano_modify, nona and enblend.
package hugin

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sync"

	"panostitch/internal/engine"
	"panostitch/internal/imageio"
	"panostitch/internal/stitch"
)

// Name is the engine name used in configuration.
const Name = "hugin"

// requiredTools must all be present for the engine to be available.
var requiredTools = []string{"pto_gen", "cpfind", "autooptimiser", "nona"}

// tools lists the binaries this configuration runs. enblend is only needed
// when blending is enabled.
func (e *Engine) tools() []string {
	if e.opts.Blending == "none" {
		return requiredTools
	}
	return append(slices.Clone(requiredTools), "enblend")
}

// Options configures the Hugin chain.
type Options struct {
	ToolsPath  string // directory holding the Hugin binaries, empty = $PATH
	TempDir    string
	Projection string // cylindrical, spherical, planar, ...
	Blending   string // enblend, none
	Quality    string // fast, normal, high
	Aggression string // low, moderate, high
	ExtraArgs  []string
}

// runFunc executes an external tool and returns its combined output.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Engine stitches image files pairwise with Hugin.
type Engine struct {
	opts     Options
	run      runFunc
	lookPath func(string) (string, error)
	log      *slog.Logger
}

// New returns a Hugin engine.
func New(opts Options) *Engine {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	return &Engine{opts: opts, run: execRun, lookPath: exec.LookPath, log: slog.Default()}
}

// frame is an image file on disk. Panoramas produced by Stitch are owned by
// the frame and removed on Close; input files are never touched.
type frame struct {
	path  string
	owned bool
	once  sync.Once
}

func (f *frame) Close() error {
	var err error
	f.once.Do(func() {
		if f.owned {
			err = os.Remove(f.path)
		}
	})
	return err
}

func (e *Engine) Name() string { return Name }

func (e *Engine) tool(name string) string {
	if e.opts.ToolsPath == "" {
		return name
	}
	return filepath.Join(e.opts.ToolsPath, name)
}

// Check verifies that the required Hugin tools are installed.
func (e *Engine) Check() engine.Status {
	var first string
	for _, t := range e.tools() {
		path, err := e.lookPath(e.tool(t))
		if err != nil {
			return engine.Status{Available: false, Error: fmt.Errorf("missing hugin tool: %s", t)}
		}
		if first == "" {
			first = path
		}
	}
	return engine.Status{Available: true, Detail: filepath.Dir(first)}
}

// Load verifies that ref is a decodable image. Pixels stay on disk.
func (e *Engine) Load(_ context.Context, ref string) (stitch.Image, error) {
	if _, _, err := imageio.DecodeConfig(ref); err != nil {
		return nil, err
	}
	return &frame{path: ref}, nil
}

// Export decodes the panorama file.
func (e *Engine) Export(img stitch.Image) (image.Image, error) {
	f, ok := img.(*frame)
	if !ok {
		return nil, engine.ErrForeignImage
	}
	return imageio.Decode(f.path)
}

func (e *Engine) Close() error { return nil }

// Stitch merges the given images. Missing overlap maps to
// StatusHomographyEstimationFailed and a failed optimisation to
// StatusCameraParameterAdjustmentFailed; any other tool failure is returned
// as an error.
func (e *Engine) Stitch(ctx context.Context, images []stitch.Image) (stitch.Status, stitch.Image, error) {
	if len(images) < 2 {
		return stitch.StatusNeedMoreImages, nil, nil
	}
	paths := make([]string, 0, len(images))
	for _, img := range images {
		f, ok := img.(*frame)
		if !ok {
			return stitch.StatusFailed, nil, engine.ErrForeignImage
		}
		paths = append(paths, f.path)
	}

	if err := os.MkdirAll(e.opts.TempDir, 0o755); err != nil {
		return stitch.StatusFailed, nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	workDir, err := os.MkdirTemp(e.opts.TempDir, "hugin-")
	if err != nil {
		return stitch.StatusFailed, nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	status, result, err := e.chain(ctx, workDir, paths)
	if err != nil || !status.OK() {
		return status, nil, err
	}

	out, err := os.CreateTemp(e.opts.TempDir, "pano-*.tif")
	if err != nil {
		return stitch.StatusFailed, nil, err
	}
	out.Close()
	if err := os.Rename(result, out.Name()); err != nil {
		os.Remove(out.Name())
		return stitch.StatusFailed, nil, fmt.Errorf("failed to keep panorama: %w", err)
	}
	return stitch.StatusOK, &frame{path: out.Name(), owned: true}, nil
}

// chain runs the Hugin tools in workDir and returns the path of the
// rendered panorama.
func (e *Engine) chain(ctx context.Context, workDir string, paths []string) (stitch.Status, string, error) {
	logger := e.log

	// Step 1: project file
	ptoFile := filepath.Join(workDir, "project.pto")
	args := append([]string{"-o", ptoFile}, paths...)
	if out, err := e.run(ctx, e.tool("pto_gen"), args...); err != nil {
		return stitch.StatusFailed, "", fmt.Errorf("pto_gen failed: %w, output: %s", err, out)
	}

	// Step 2: control points
	cpFile := filepath.Join(workDir, "project_cp.pto")
	args = append([]string{"--multirow", "-o", cpFile}, e.opts.ExtraArgs...)
	args = append(args, ptoFile)
	if out, err := e.run(ctx, e.tool("cpfind"), args...); err != nil {
		logger.Debug("cpfind failed", "error", err, "output", string(out))
		return stitch.StatusHomographyEstimationFailed, "", nil
	}
	if readStats(cpFile).ControlPoints == 0 {
		logger.Debug("no control points found, images may not overlap", "images", len(paths))
		return stitch.StatusHomographyEstimationFailed, "", nil
	}

	// Step 3: prune control points
	cleanedFile := filepath.Join(workDir, "project_cleaned.pto")
	if out, err := e.run(ctx, e.tool("cpclean"), "--max-distance", e.cleanThreshold(), "-o", cleanedFile, cpFile); err != nil {
		logger.Debug("cpclean failed, using uncleaned control points", "error", err, "output", string(out))
		cleanedFile = cpFile
	}
	if readStats(cleanedFile).ControlPoints == 0 {
		return stitch.StatusHomographyEstimationFailed, "", nil
	}

	// Step 4: optimise positions, then positions only
	optimizedPto := filepath.Join(workDir, "optimized.pto")
	if out, err := e.run(ctx, e.tool("autooptimiser"), "-a", "-m", "-l", "-s", "-o", optimizedPto, cleanedFile); err != nil {
		logger.Debug("full autooptimiser failed, trying position-only optimization", "error", err, "output", string(out))
		if out, err := e.run(ctx, e.tool("autooptimiser"), "-a", "-s", "-o", optimizedPto, cleanedFile); err != nil {
			logger.Debug("position-only autooptimiser failed", "error", err, "output", string(out))
			return stitch.StatusCameraParameterAdjustmentFailed, "", nil
		}
	}

	// Step 5: projection and canvas
	if err := setProjection(optimizedPto, e.opts.Projection); err != nil {
		logger.Debug("failed to update projection, using default", "error", err)
	}
	finalPto := filepath.Join(workDir, "final.pto")
	if out, err := e.run(ctx, e.tool("pano_modify"), "--canvas=AUTO", "--crop=AUTO", "-o", finalPto, optimizedPto); err != nil {
		logger.Debug("pano_modify failed, using project without canvas optimization", "error", err, "output", string(out))
		finalPto = optimizedPto
	}

	// Step 6: render and blend
	prefix := filepath.Join(workDir, "pano")
	if e.opts.Blending == "none" {
		args = append([]string{"-o", prefix, "-m", "TIFF"}, e.interpolation()...)
		if out, err := e.run(ctx, e.tool("nona"), append(args, finalPto)...); err != nil {
			return stitch.StatusFailed, "", fmt.Errorf("nona failed: %w, output: %s", err, out)
		}
		return existing(prefix + ".tif")
	}

	args = append([]string{"-o", prefix, "-m", "TIFF_m"}, e.interpolation()...)
	if out, err := e.run(ctx, e.tool("nona"), append(args, finalPto)...); err != nil {
		return stitch.StatusFailed, "", fmt.Errorf("nona failed: %w, output: %s", err, out)
	}
	layers, _ := filepath.Glob(prefix + "[0-9]*.tif")
	if len(layers) == 0 {
		return stitch.StatusFailed, "", errors.New("no output files found from nona")
	}

	blended := filepath.Join(workDir, "blended.tif")
	args = append([]string{"-o", blended}, layers...)
	if out, err := e.run(ctx, e.tool("enblend"), args...); err != nil {
		return stitch.StatusFailed, "", fmt.Errorf("enblend failed: %w, output: %s", err, out)
	}
	return existing(blended)
}

func (e *Engine) interpolation() []string {
	switch e.opts.Quality {
	case "fast":
		return []string{"-i", "0"}
	case "high":
		return []string{"-i", "2"}
	default:
		return []string{"-i", "1"}
	}
}

func (e *Engine) cleanThreshold() string {
	switch e.opts.Aggression {
	case "low":
		return "4"
	case "high":
		return "2"
	default:
		return "3"
	}
}

func existing(path string) (stitch.Status, string, error) {
	if _, err := os.Stat(path); err != nil {
		return stitch.StatusFailed, "", fmt.Errorf("expected rendered panorama: %w", err)
	}
	return stitch.StatusOK, path, nil
}
