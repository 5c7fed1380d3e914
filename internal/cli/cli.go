package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"panostitch/internal/config"
	"panostitch/internal/engine"
	"panostitch/internal/engine/hugin"
	"panostitch/internal/engine/magick"
	"panostitch/internal/engine/opencv"
	"panostitch/internal/logging"
	"panostitch/internal/pipeline"
	"panostitch/internal/report"
	"panostitch/internal/server"
	"panostitch/internal/storage"
)

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
	SubscribeEvents() (<-chan pipeline.EventMessage, func())
}

type engineManager interface {
	Select(name string) (engine.Engine, error)
	Status() []engine.Status
}

type serverFunc func(ctx context.Context, addr string, store *storage.Store, pipe pipelineClient, defaults pipeline.Options, log *slog.Logger) error

func defaultServe(ctx context.Context, addr string, store *storage.Store, pipe pipelineClient, defaults pipeline.Options, log *slog.Logger) error {
	return server.NewServer(addr, store, pipe, defaults, log).Start(ctx)
}

// Root wires CLI commands to the pipeline.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	engines  engineManager
	serveFn  serverFunc
}

// NewRoot constructs the CLI root.
func NewRoot(pl *pipeline.Pipeline, cfg *config.Config, logger *slog.Logger, store *storage.Store, engines *engine.Manager) *Root {
	return &Root{
		pipeline: pl,
		cfg:      cfg,
		log:      logger,
		store:    store,
		engines:  engines,
		serveFn:  defaultServe,
	}
}

// NewEngineManager registers every stitching backend with the preference
// order from cfg.
func NewEngineManager(cfg *config.Config) *engine.Manager {
	m := engine.NewManager(cfg.Engines.Preferred, cfg.Engines.Fallbacks)
	m.Register(opencv.New(cfg.Stitching.Mode))
	m.Register(hugin.New(hugin.Options{
		ToolsPath:  cfg.Engines.Hugin.ToolsPath,
		TempDir:    cfg.Paths.TempDir,
		Projection: cfg.Engines.Hugin.Projection,
		Blending:   cfg.Engines.Hugin.Blending,
		Quality:    cfg.Engines.Hugin.Quality,
		Aggression: cfg.Engines.Hugin.Aggression,
		ExtraArgs:  cfg.Engines.Hugin.ExtraArgs,
	}))
	m.Register(magick.New())
	return m
}

// defaultOptions are the run options implied by the configuration.
func (r *Root) defaultOptions() pipeline.Options {
	return pipeline.Options{
		MaxSkip: r.cfg.Stitching.MaxSkip,
		Engine:  r.cfg.Stitching.Engine,
		Crop:    r.cfg.Stitching.Crop,
		Settle:  secondsDuration(r.cfg.Stitching.SettleSeconds),
	}
}

// stitch runs job to completion and prints its report to w. It returns the
// run error, so a failed run exits non-zero.
func (r *Root) stitch(ctx context.Context, w io.Writer, job pipeline.Job) error {
	res, err := r.enqueueAndWait(ctx, job)
	if err != nil {
		return err
	}
	if res.Report != nil {
		if err := report.Render(w, res.Report); err != nil {
			r.log.Warn("failed to render report", "error", err)
		}
	}
	return res.Error
}

func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return pipeline.Result{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return pipeline.Result{}, ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return pipeline.Result{}, fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				return res, nil
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.pipeline.Submit(job); err != nil {
		return err
	}

	r.log.Debug("run queued", "id", job.ID, "input", job.InputDir)
	return nil
}

// engineStatus reports every engine and logs what was detected.
func (r *Root) engineStatus() []engine.Status {
	statuses := r.engines.Status()
	for _, st := range statuses {
		detail := st.Detail
		if st.Error != nil {
			detail = st.Error.Error()
		}
		logging.LogEngineStatus(r.log, st.Name, st.Available, detail)
	}
	return statuses
}
