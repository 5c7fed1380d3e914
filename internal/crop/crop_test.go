package crop

import (
	"errors"
	"image"
	"image/color"
	"testing"
)

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

func fill(img *image.RGBA, r image.Rectangle) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.Set(x, y, white)
		}
	}
}

func TestLargestTrimsBlackMargin(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	fill(img, image.Rect(5, 4, 35, 26))

	out, err := Largest(img)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if out.Bounds() != image.Rect(5, 4, 35, 26) {
		t.Fatalf("expected covered rectangle, got %v", out.Bounds())
	}
}

func TestLargestShrinksPastIrregularEdges(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	fill(img, image.Rect(5, 5, 35, 25))
	// A notch in the top-left corner.
	for y := 5; y < 8; y++ {
		for x := 5; x < 8; x++ {
			img.Set(x, y, color.RGBA{A: 255})
		}
	}

	out, err := Largest(img)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	b := out.Bounds()
	if b != image.Rect(8, 8, 32, 22) {
		t.Fatalf("expected rectangle shrunk by 3 per side, got %v", b)
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.RGBAAt(x, y) != white {
				t.Fatalf("expected only covered pixels, found black at %d,%d", x, y)
			}
		}
	}
}

func TestLargestIgnoresSmallerIslands(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 60, 30))
	fill(img, image.Rect(2, 2, 6, 6))
	fill(img, image.Rect(20, 5, 55, 25))

	out, err := Largest(img)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if out.Bounds() != image.Rect(20, 5, 55, 25) {
		t.Fatalf("expected largest island, got %v", out.Bounds())
	}
}

func TestLargestHandlesOffsetBounds(t *testing.T) {
	base := image.NewRGBA(image.Rect(0, 0, 50, 50))
	fill(base, image.Rect(10, 10, 40, 40))
	sub := base.SubImage(image.Rect(5, 5, 45, 45))

	out, err := Largest(sub)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if out.Bounds() != image.Rect(10, 10, 40, 40) {
		t.Fatalf("expected bounds in source coordinates, got %v", out.Bounds())
	}
}

func TestLargestAllBlack(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	if _, err := Largest(img); !errors.Is(err, ErrNothingToCrop) {
		t.Fatalf("expected ErrNothingToCrop, got %v", err)
	}
}

func TestLargestJoinsDiagonalNeighbours(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	fill(img, image.Rect(2, 2, 12, 12))
	fill(img, image.Rect(12, 12, 20, 20))
	fill(img, image.Rect(25, 2, 36, 13))

	out, err := Largest(img)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	// The two diagonal squares form one component larger than the 11x11
	// island; its box shrinks until it excludes the empty corners.
	b := out.Bounds()
	if !b.In(image.Rect(2, 2, 20, 20)) || b.Empty() {
		t.Fatalf("expected region inside the joined squares, got %v", b)
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.RGBAAt(x, y) != white {
				t.Fatalf("expected only covered pixels, found black at %d,%d", x, y)
			}
		}
	}
}

func TestLargestAcceptsGrayImages(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 30, 20))
	for y := 3; y < 17; y++ {
		for x := 4; x < 26; x++ {
			img.SetGray(x, y, color.Gray{Y: 1})
		}
	}
	out, err := Largest(img)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if out.Bounds() != image.Rect(4, 3, 26, 17) {
		t.Fatalf("expected covered rectangle, got %v", out.Bounds())
	}
}

func TestLargestNotchOnLongEdge(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 50, 30))
	fill(img, image.Rect(5, 5, 45, 25))
	img.Set(25, 6, color.RGBA{A: 255})

	out, err := Largest(img)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if out.Bounds() != image.Rect(7, 7, 43, 23) {
		t.Fatalf("expected rectangle shrunk by 2 per side, got %v", out.Bounds())
	}
}
