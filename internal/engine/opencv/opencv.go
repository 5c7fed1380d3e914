//go:build gocv
// +build gocv

package opencv

/*
#cgo !windows pkg-config: opencv4
#cgo CXXFLAGS: --std=c++11
#include "stitcher.h"
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"
	"unsafe"

	"gocv.io/x/gocv"

	"panostitch/internal/engine"
	"panostitch/internal/stitch"
)

// gocv has no Stitcher binding; stitcher.cpp calls cv::Stitcher directly on
// the cv::Mat pointers behind gocv.Mat.

// cv::Stitcher::Mode values.
const (
	modePanorama = 0
	modeScans    = 1
)

// errException is returned when OpenCV throws inside the stitcher.
var errException = errors.New("opencv stitcher raised an exception")

// Engine wraps the OpenCV high-level Stitcher.
type Engine struct {
	mode int
}

// New returns an OpenCV engine. mode is "panorama" (default) or "scans".
func New(mode string) *Engine {
	return &Engine{mode: parseMode(mode)}
}

func parseMode(mode string) int {
	if mode == "scans" {
		return modeScans
	}
	return modePanorama
}

// mat is a decoded OpenCV matrix.
type mat struct {
	m    gocv.Mat
	once sync.Once
}

func (m *mat) Close() error {
	var err error
	m.once.Do(func() { err = m.m.Close() })
	return err
}

func (e *Engine) Name() string { return Name }

func (e *Engine) Check() engine.Status {
	return engine.Status{Available: true, Detail: "OpenCV " + gocv.OpenCVVersion()}
}

// Load reads ref with IMRead. An empty matrix means the file could not be decoded.
func (e *Engine) Load(_ context.Context, ref string) (stitch.Image, error) {
	m := gocv.IMRead(ref, gocv.IMReadColor)
	if m.Empty() {
		m.Close()
		return nil, fmt.Errorf("could not load image %s", ref)
	}
	return &mat{m: m}, nil
}

// Stitch runs a fresh Stitcher over the inputs. The OpenCV status codes map
// one to one onto stitch.Status.
func (e *Engine) Stitch(_ context.Context, images []stitch.Image) (stitch.Status, stitch.Image, error) {
	if len(images) == 0 {
		return stitch.StatusNeedMoreImages, nil, nil
	}
	mats := make([]*mat, 0, len(images))
	ptrs := make([]unsafe.Pointer, 0, len(images))
	for _, img := range images {
		m, ok := img.(*mat)
		if !ok {
			return stitch.StatusFailed, nil, engine.ErrForeignImage
		}
		mats = append(mats, m)
		ptrs = append(ptrs, unsafe.Pointer(m.m.Ptr()))
	}

	pano := gocv.NewMat()
	code := int(C.Stitcher_Stitch(C.int(e.mode), &ptrs[0], C.int(len(ptrs)), unsafe.Pointer(pano.Ptr())))
	runtime.KeepAlive(mats)
	if code < 0 {
		pano.Close()
		return stitch.StatusFailed, nil, errException
	}
	if status := stitch.Status(code); !status.OK() {
		pano.Close()
		return status, nil, nil
	}
	if pano.Empty() {
		pano.Close()
		return stitch.StatusFailed, nil, errors.New("stitcher returned an empty panorama")
	}
	return stitch.StatusOK, &mat{m: pano}, nil
}

func (e *Engine) Export(img stitch.Image) (image.Image, error) {
	m, ok := img.(*mat)
	if !ok {
		return nil, engine.ErrForeignImage
	}
	return m.m.ToImage()
}

func (e *Engine) Close() error { return nil }
