package magick

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"panostitch/internal/imageio"
	"panostitch/internal/stitch"
)

func writeSolid(t *testing.T, dir, name string, w, h int, c color.RGBA) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	path := filepath.Join(dir, name)
	if err := imageio.Encode(path, img, 0); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAppendLeftToRight(t *testing.T) {
	e := New()
	defer e.Close()
	dir := t.TempDir()
	red := writeSolid(t, dir, "a.png", 4, 3, color.RGBA{R: 255, A: 255})
	blue := writeSolid(t, dir, "b.png", 6, 3, color.RGBA{B: 255, A: 255})

	var imgs []stitch.Image
	for _, p := range []string{red, blue} {
		img, err := e.Load(context.Background(), p)
		if err != nil {
			t.Fatalf("load %s: %v", p, err)
		}
		defer img.Close()
		imgs = append(imgs, img)
	}

	status, pano, err := e.Stitch(context.Background(), imgs)
	if err != nil || !status.OK() {
		t.Fatalf("expected ok, got %v %v", status, err)
	}
	defer pano.Close()

	out, err := e.Export(pano)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if out.Bounds().Dx() != 10 || out.Bounds().Dy() != 3 {
		t.Fatalf("expected 10x3, got %v", out.Bounds())
	}
	if r, _, _, _ := out.At(0, 0).RGBA(); r>>8 != 255 {
		t.Fatalf("expected red on the left")
	}
	if _, _, b, _ := out.At(9, 0).RGBA(); b>>8 != 255 {
		t.Fatalf("expected blue on the right")
	}
}

func TestLoadMissingFile(t *testing.T) {
	e := New()
	defer e.Close()
	if _, err := e.Load(context.Background(), filepath.Join(t.TempDir(), "nope.jpg")); err == nil {
		t.Fatalf("expected load error")
	}
}

func TestStitchNeedsTwoImages(t *testing.T) {
	e := New()
	defer e.Close()
	status, _, err := e.Stitch(context.Background(), nil)
	if err != nil || status != stitch.StatusNeedMoreImages {
		t.Fatalf("expected need more images, got %v %v", status, err)
	}
}
