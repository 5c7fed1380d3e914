// Package opencv provides the stitch primitive through OpenCV's high-level
// Stitcher, with images held as gocv matrices.
//
// The real implementation needs OpenCV with its stitching module and is only
// compiled with the gocv build tag:
//
//	go build -tags gocv ./cmd/panostitch
//
// Without the tag the engine reports itself unavailable and the manager
// falls back to the next configured engine.
package opencv

import "errors"

// Name is the engine name used in configuration.
const Name = "opencv"

// ErrNotBuilt is returned by every operation of a binary built without gocv.
var ErrNotBuilt = errors.New("gocv build tag is not enabled")
