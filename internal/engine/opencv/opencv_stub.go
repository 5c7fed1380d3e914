//go:build !gocv
// +build !gocv

package opencv

import (
	"context"
	"image"

	"panostitch/internal/engine"
	"panostitch/internal/stitch"
)

// Engine is a placeholder used when the binary is built without OpenCV.
type Engine struct{}

// New returns an engine that always reports itself unavailable.
func New(mode string) *Engine {
	_ = mode
	return &Engine{}
}

func (e *Engine) Name() string { return Name }

func (e *Engine) Check() engine.Status {
	return engine.Status{Available: false, Error: ErrNotBuilt}
}

func (e *Engine) Load(context.Context, string) (stitch.Image, error) {
	return nil, ErrNotBuilt
}

func (e *Engine) Stitch(context.Context, []stitch.Image) (stitch.Status, stitch.Image, error) {
	return stitch.StatusFailed, nil, ErrNotBuilt
}

func (e *Engine) Export(stitch.Image) (image.Image, error) {
	return nil, ErrNotBuilt
}

func (e *Engine) Close() error { return nil }
