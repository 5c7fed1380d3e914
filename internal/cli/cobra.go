package cli

import (
	"fmt"
	"log/slog"
	"time"

	"panostitch/internal/config"
	"panostitch/internal/engine"
	"panostitch/internal/pipeline"
	"panostitch/internal/storage"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline, engines *engine.Manager) *cobra.Command {
	return NewRoot(pipe, cfg, log, store, engines).command()
}

func (r *Root) command() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "panostitch",
		Short: "Adaptive panorama stitching",
		Long: `panostitch merges an ordered directory of overlapping photos into a single
panorama. Images that will not stitch are skipped and reported instead of
aborting the whole run.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newStitchCmd(r))
	rootCmd.AddCommand(newEnginesCmd(r))
	rootCmd.AddCommand(newHistoryCmd(r))
	rootCmd.AddCommand(newServeCmd(r))
	rootCmd.AddCommand(newConfigCmd(r))
	rootCmd.AddCommand(newVersionCmd(r))

	return rootCmd
}

func secondsDuration(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func newStitchCmd(root *Root) *cobra.Command {
	defaults := root.defaultOptions()
	var (
		output     string
		crop       bool
		skip       int
		engineName string
		start      string
		count      int
		settle     time.Duration
		reportPath string
	)

	cmd := &cobra.Command{
		Use:   "stitch <images_dir> [output]",
		Short: "Stitch a directory of images, skipping the ones that do not fit",
		Long: `Stitch the images of a directory in name order. When an image fails to
merge, up to --skip following images are tried in its place; images that
cannot be merged are reported as skipped.

Examples:
  panostitch stitch ./shots
  panostitch stitch ./shots pano.jpg --crop --skip 5
  panostitch stitch ./shots -o out/ --engine hugin --start IMG_0040.JPG --count 12`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if skip < 0 {
				return fmt.Errorf("--skip must be >= 0, got %d", skip)
			}
			out := output
			if out == "" && len(args) > 1 {
				out = args[1]
			}

			job := pipeline.Job{
				ID:       pipeline.NewID("pano"),
				InputDir: args[0],
				Output:   out,
				Options: pipeline.Options{
					MaxSkip: skip,
					Engine:  engineName,
					Crop:    crop,
					Start:   start,
					Count:   count,
					Settle:  settle,
					Report:  reportPath,
				},
			}
			return root.stitch(cmd.Context(), cmd.OutOrStdout(), job)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output image path or directory (default from config)")
	cmd.Flags().BoolVarP(&crop, "crop", "c", defaults.Crop, "crop the panorama to its largest filled rectangle")
	cmd.Flags().IntVarP(&skip, "skip", "s", defaults.MaxSkip, "maximum number of images to try after a failed merge")
	cmd.Flags().StringVar(&engineName, "engine", defaults.Engine, "stitching engine (opencv|hugin|imagemagick), auto-detect if empty")
	cmd.Flags().StringVar(&start, "start", "", "file name of the first image to use")
	cmd.Flags().IntVar(&count, "count", 0, "number of images to use from --start (0 = all)")
	cmd.Flags().DurationVar(&settle, "settle", defaults.Settle, "wait until the directory has been quiet this long")
	cmd.Flags().StringVar(&reportPath, "report", "", "write a JSON run report to this path")

	return cmd
}

func newEnginesCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "engines",
		Short: "Show which stitching engines are available",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdEngines(cmd.OutOrStdout())
		},
	}
}

func newHistoryCmd(root *Root) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent stitching runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdHistory(cmd.OutOrStdout(), limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start an HTTP server that accepts stitching runs and reports their history.

Endpoints:
  GET  /healthz      liveness
  GET  /runs         recent runs
  GET  /runs/{id}    one run with its per-image outcomes
  GET  /runs/{id}/preview?width=800
                     JPEG thumbnail of a finished panorama
  POST /runs         queue a run: {"input_dir": "...", "max_skip": 3, "crop": true}
  GET  /stream       finished runs as server-sent events
  GET  /ws           controller events and results over websocket

Examples:
  panostitch serve --addr :8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root.log.Info("starting server", "addr", addr)
			return root.serveFn(cmd.Context(), addr, root.store, root.pipeline, root.defaultOptions(), root.log)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", root.cfg.Server.Addr, "server address (host:port)")

	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long:  "Show or validate panostitch configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configShow(cmd.OutOrStdout())
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration:\n%w", err)
			}
			root.log.Info("configuration validation", "status", "valid")
			fmt.Fprintln(cmd.OutOrStdout(), "✅ Configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			root.cmdVersion(cmd.OutOrStdout())
		},
	}
}
