// Package stitch implements adaptive panorama assembly on top of an opaque
// stitching primitive.
//
// The Controller walks an ordered list of image references, merging each one
// into a running panorama. When a merge fails it tries a bounded look-ahead
// window for the next image that does merge, and records which references
// ended up used and which were skipped. Image decoding and the stitching
// itself are supplied by the caller through Loader and Stitcher.
package stitch

import (
	"context"
	"errors"
)

var (
	// ErrInsufficientInput is reported when fewer than two references are supplied.
	ErrInsufficientInput = errors.New("need at least 2 images to stitch")
	// ErrBaseUnreadable is reported when the first reference cannot be decoded.
	ErrBaseUnreadable = errors.New("could not load first image")
	// ErrNoPanorama is reported when no image could be merged onto the base.
	ErrNoPanorama = errors.New("adaptive stitching failed - could not create panorama")
)

// Image is a decoded image owned by the controller while a merge is attempted.
type Image interface {
	Close() error
}

// Loader decodes the image behind a reference.
type Loader interface {
	Load(ctx context.Context, ref string) (Image, error)
}

// Stitcher merges two or more decoded images. A non-OK status is an ordinary
// failure; a non-nil error is an unexpected fault of the primitive. On
// success the returned Image must be a new value, not one of the inputs.
type Stitcher interface {
	Stitch(ctx context.Context, images []Image) (Status, Image, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, ref string) (Image, error)

func (f LoaderFunc) Load(ctx context.Context, ref string) (Image, error) { return f(ctx, ref) }

// StitcherFunc adapts a function to Stitcher.
type StitcherFunc func(ctx context.Context, images []Image) (Status, Image, error)

func (f StitcherFunc) Stitch(ctx context.Context, images []Image) (Status, Image, error) {
	return f(ctx, images)
}

// Result is the aggregate outcome of a run.
type Result struct {
	Status   Status
	Panorama Image
	Used     []string
	Skipped  []string
	Attempts int
	Err      error
}

// OK reports whether a panorama was produced.
func (r Result) OK() bool { return r.Status.OK() }
