package imageio

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

func checker(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
			}
		}
	}
	return img
}

func TestEncodeDecodeFormats(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.png", "b.tiff", "c.bmp", "nested/d.jpg"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := Encode(path, checker(8, 6), 90); err != nil {
				t.Fatalf("expected nil error, got %v", err)
			}
			cfg, _, err := DecodeConfig(path)
			if err != nil {
				t.Fatalf("expected header, got %v", err)
			}
			if cfg.Width != 8 || cfg.Height != 6 {
				t.Fatalf("expected 8x6, got %dx%d", cfg.Width, cfg.Height)
			}
			img, err := Decode(path)
			if err != nil {
				t.Fatalf("expected decode, got %v", err)
			}
			if img.Bounds().Dx() != 8 {
				t.Fatalf("expected width 8, got %d", img.Bounds().Dx())
			}
		})
	}
}

func TestEncodeRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xyz")
	if err := Encode(path, checker(2, 2), 0); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jpg")
	if err := os.WriteFile(path, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(path); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, _, err := DecodeConfig(path); err == nil {
		t.Fatalf("expected header error")
	}
}

func TestThumbnail(t *testing.T) {
	out := Thumbnail(checker(100, 50), 20)
	if out.Bounds().Dx() != 20 || out.Bounds().Dy() != 10 {
		t.Fatalf("expected 20x10, got %v", out.Bounds())
	}
	small := checker(10, 10)
	if Thumbnail(small, 20) != image.Image(small) {
		t.Fatalf("expected small image returned unchanged")
	}
}
