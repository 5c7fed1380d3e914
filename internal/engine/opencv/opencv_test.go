//go:build gocv
// +build gocv

package opencv

import (
	"context"
	"image"
	"path/filepath"
	"testing"

	"panostitch/internal/engine"
	"panostitch/internal/imageio"
	"panostitch/internal/stitch"
)

var _ engine.Engine = (*Engine)(nil)

func TestParseMode(t *testing.T) {
	if parseMode("scans") != modeScans || parseMode("panorama") != modePanorama || parseMode("") != modePanorama {
		t.Fatalf("unexpected stitcher mode mapping")
	}
}

func TestStitchWithoutImagesNeedsMore(t *testing.T) {
	status, pano, err := New("panorama").Stitch(context.Background(), nil)
	if err != nil || pano != nil || status != stitch.StatusNeedMoreImages {
		t.Fatalf("expected need-more-images status, got %v %v %v", status, pano, err)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	e := New("panorama")
	if _, err := e.Load(context.Background(), filepath.Join(t.TempDir(), "missing.jpg")); err == nil {
		t.Fatalf("expected load error")
	}
}

func TestStitchFlatImagesFails(t *testing.T) {
	e := New("panorama")
	dir := t.TempDir()
	var imgs []stitch.Image
	for _, name := range []string{"a.png", "b.png"} {
		p := filepath.Join(dir, name)
		if err := imageio.Encode(p, image.NewRGBA(image.Rect(0, 0, 64, 48)), 0); err != nil {
			t.Fatal(err)
		}
		img, err := e.Load(context.Background(), p)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		defer img.Close()
		imgs = append(imgs, img)
	}

	// Featureless images cannot be registered.
	status, pano, err := e.Stitch(context.Background(), imgs)
	if err != nil {
		t.Fatalf("expected status, got error %v", err)
	}
	if status.OK() || pano != nil {
		t.Fatalf("expected failure status, got %v", status)
	}
}
