// Package magick provides a naive stitch primitive on ImageMagick: images
// are appended left to right without registration or blending.
package magick

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"gopkg.in/gographics/imagick.v3/imagick"

	"panostitch/internal/engine"
	"panostitch/internal/stitch"
)

// Name is the engine name used in configuration.
const Name = "imagemagick"

// Engine appends images with MagickWand.
type Engine struct {
	initOnce sync.Once
	mu       sync.Mutex
	started  bool
}

// New returns an ImageMagick engine. The library is initialised on first use.
func New() *Engine {
	return &Engine{}
}

func (e *Engine) init() {
	e.initOnce.Do(func() {
		imagick.Initialize()
		e.mu.Lock()
		e.started = true
		e.mu.Unlock()
	})
}

// wand is a decoded image held by a MagickWand.
type wand struct {
	mw   *imagick.MagickWand
	once sync.Once
}

func (w *wand) Close() error {
	w.once.Do(w.mw.Destroy)
	return nil
}

func (e *Engine) Name() string { return Name }

// Check reports the linked ImageMagick version.
func (e *Engine) Check() engine.Status {
	version, _ := imagick.GetVersion()
	return engine.Status{Available: true, Detail: version}
}

// Load decodes ref into a wand.
func (e *Engine) Load(_ context.Context, ref string) (stitch.Image, error) {
	e.init()
	mw := imagick.NewMagickWand()
	if err := mw.ReadImage(ref); err != nil {
		mw.Destroy()
		return nil, fmt.Errorf("failed to read %s: %w", ref, err)
	}
	if mw.GetImageWidth() == 0 || mw.GetImageHeight() == 0 {
		mw.Destroy()
		return nil, fmt.Errorf("failed to read %s: empty image", ref)
	}
	return &wand{mw: mw}, nil
}

// Stitch appends the images horizontally in order.
func (e *Engine) Stitch(_ context.Context, images []stitch.Image) (stitch.Status, stitch.Image, error) {
	if len(images) < 2 {
		return stitch.StatusNeedMoreImages, nil, nil
	}
	e.init()

	strip := imagick.NewMagickWand()
	defer strip.Destroy()
	for _, img := range images {
		w, ok := img.(*wand)
		if !ok {
			return stitch.StatusFailed, nil, engine.ErrForeignImage
		}
		if err := strip.AddImage(w.mw); err != nil {
			return stitch.StatusFailed, nil, fmt.Errorf("failed to add image: %w", err)
		}
	}

	strip.ResetIterator()
	out := strip.AppendImages(false)
	if out == nil {
		return stitch.StatusFailed, nil, errors.New("append produced no image")
	}
	return stitch.StatusOK, &wand{mw: out}, nil
}

// Export copies the wand pixels into an NRGBA image.
func (e *Engine) Export(img stitch.Image) (image.Image, error) {
	w, ok := img.(*wand)
	if !ok {
		return nil, engine.ErrForeignImage
	}
	width := w.mw.GetImageWidth()
	height := w.mw.GetImageHeight()
	pixels, err := w.mw.ExportImagePixels(0, 0, width, height, "RGBA", imagick.PIXEL_CHAR)
	if err != nil {
		return nil, fmt.Errorf("failed to export pixels: %w", err)
	}
	pix, ok := pixels.([]byte)
	if !ok || len(pix) != int(width*height*4) {
		return nil, fmt.Errorf("unexpected pixel buffer %T", pixels)
	}
	return &image.NRGBA{
		Pix:    pix,
		Stride: int(width) * 4,
		Rect:   image.Rect(0, 0, int(width), int(height)),
	}, nil
}

// Close terminates the ImageMagick environment if it was started.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		imagick.Terminate()
		e.started = false
	}
	return nil
}
