package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath = "~/.config/panostitch/config.json"
	defaultMaxSkip    = 3
)

// Config holds user-editable settings for panostitch.
type Config struct {
	Stitching Stitching `json:"stitching" yaml:"stitching"`
	Engines   Engines   `json:"engines" yaml:"engines"`
	Output    Output    `json:"output" yaml:"output"`
	Logging   Logging   `json:"logging" yaml:"logging"`
	Paths     Paths     `json:"paths" yaml:"paths"`
	Storage   Storage   `json:"storage" yaml:"storage"`
	Server    Server    `json:"server" yaml:"server"`
}

// Stitching controls the adaptive controller.
type Stitching struct {
	MaxSkip int    `json:"max_skip" yaml:"max_skip"`
	Engine  string `json:"engine" yaml:"engine"` // empty selects preferred, then fallbacks
	Crop    bool   `json:"crop" yaml:"crop"`
	Mode    string `json:"mode" yaml:"mode"` // panorama, scans
	// SettleSeconds waits for the input directory to stop changing before a run.
	SettleSeconds int `json:"settle_seconds" yaml:"settle_seconds"`
}

// Engines defines which stitch backends to try and how to drive them.
type Engines struct {
	Preferred string      `json:"preferred" yaml:"preferred"` // "opencv", "hugin", "imagemagick"
	Fallbacks []string    `json:"fallbacks" yaml:"fallbacks"`
	Hugin     HuginConfig `json:"hugin" yaml:"hugin"`
}

type HuginConfig struct {
	ToolsPath  string   `json:"tools_path" yaml:"tools_path"`
	Projection string   `json:"projection" yaml:"projection"` // cylindrical, spherical, planar, ...
	Blending   string   `json:"blending" yaml:"blending"`     // "enblend", "none"
	Quality    string   `json:"quality" yaml:"quality"`       // "fast", "normal", "high"
	Aggression string   `json:"aggression" yaml:"aggression"` // cpclean strictness: "low", "moderate", "high"
	ExtraArgs  []string `json:"extra_args" yaml:"extra_args"` // appended to cpfind
}

// Output configures where and how panoramas are written.
type Output struct {
	DefaultOutput string `json:"default_output" yaml:"default_output"`
	JPEGQuality   int    `json:"jpeg_quality" yaml:"jpeg_quality"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level" yaml:"level"`             // debug, info, warn, error
	Format     string `json:"format" yaml:"format"`           // text, json
	FileOutput bool   `json:"file_output" yaml:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir" yaml:"log_dir"`         // Directory for log files
}

// Paths configures scratch and database locations.
type Paths struct {
	TempDir      string `json:"temp_dir" yaml:"temp_dir"`
	DatabasePath string `json:"database_path" yaml:"database_path"`
}

// Storage selects the SQLite driver for run history.
type Storage struct {
	Driver string `json:"driver" yaml:"driver"` // "sqlite" (pure Go), "sqlite3" (cgo)
}

// Server configures the HTTP API.
type Server struct {
	Addr        string `json:"addr" yaml:"addr"`
	Concurrency int    `json:"concurrency" yaml:"concurrency"`
	QueueSize   int    `json:"queue_size" yaml:"queue_size"`
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	configPath := os.Getenv("PANOSTITCH_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	return LoadFile(configPath)
}

// LoadFile reads the configuration at path over the defaults. A missing file
// yields the defaults. Files ending in .yaml or .yml are decoded as YAML,
// anything else as JSON.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	expanded, err := expandUser(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(expanded)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", expanded, err)
	}

	cfg.Paths.DatabasePath, err = expandUser(cfg.Paths.DatabasePath)
	if err != nil {
		return nil, err
	}
	cfg.Output.DefaultOutput, err = expandUser(cfg.Output.DefaultOutput)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings that cannot be used.
func (c *Config) Validate() error {
	var errs []error
	if c.Stitching.MaxSkip < 0 {
		errs = append(errs, fmt.Errorf("stitching.max_skip must be >= 0, got %d", c.Stitching.MaxSkip))
	}
	switch c.Stitching.Mode {
	case "", "panorama", "scans":
	default:
		errs = append(errs, fmt.Errorf("stitching.mode must be panorama or scans, got %q", c.Stitching.Mode))
	}
	switch c.Storage.Driver {
	case "", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be sqlite or sqlite3, got %q", c.Storage.Driver))
	}
	if c.Server.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("server.concurrency must be >= 1, got %d", c.Server.Concurrency))
	}
	if q := c.Output.JPEGQuality; q < 1 || q > 100 {
		errs = append(errs, fmt.Errorf("output.jpeg_quality must be within 1..100, got %d", q))
	}
	return errors.Join(errs...)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Stitching: Stitching{
			MaxSkip: defaultMaxSkip,
			Mode:    "panorama",
		},
		Engines: Engines{
			Preferred: "opencv",
			Fallbacks: []string{"hugin", "imagemagick"},
			Hugin: HuginConfig{
				Projection: "cylindrical",
				Blending:   "enblend",
				Quality:    "normal",
				Aggression: "moderate",
			},
		},
		Output: Output{
			DefaultOutput: "./output/panorama.jpg",
			JPEGQuality:   95,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			TempDir:      filepath.Join(os.TempDir(), "panostitch"),
			DatabasePath: filepath.Join(os.TempDir(), "panostitch.db"),
		},
		Storage: Storage{
			Driver: "sqlite",
		},
		Server: Server{
			Addr:        ":8080",
			Concurrency: 1,
			QueueSize:   16,
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
