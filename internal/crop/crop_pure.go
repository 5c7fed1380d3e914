//go:build !gocv
// +build !gocv

package crop

import (
	"image"
)

// Mask pixel states.
const (
	background uint8 = iota
	foreground
	visited
)

// Largest returns the region of img inside the largest connected non-black
// area, shrunk evenly until it contains no black pixel.
func Largest(img image.Image) (image.Image, error) {
	m := newMask(img)

	box, ok := m.largestComponent()
	if !ok {
		return nil, ErrNothingToCrop
	}
	box = box.Inset(m.inset(box))
	if box.Empty() {
		return nil, ErrNothingToCrop
	}
	return region(img, box)
}

// mask holds one state byte per pixel of the image. The black border is
// implicit: nothing outside the mask is foreground.
type mask struct {
	w, h int
	px   []uint8
}

func newMask(img image.Image) *mask {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	m := &mask{w: w, h: h, px: make([]uint8, w*h)}

	if rgba, ok := img.(*image.RGBA); ok {
		for y := 0; y < h; y++ {
			src := rgba.Pix[rgba.PixOffset(b.Min.X, b.Min.Y+y):]
			row := m.px[y*w : (y+1)*w]
			for x := range row {
				p := src[4*x : 4*x+3]
				if lit(uint32(p[0])*0x101, uint32(p[1])*0x101, uint32(p[2])*0x101) {
					row[x] = foreground
				}
			}
		}
		return m
	}

	for y := 0; y < h; y++ {
		row := m.px[y*w : (y+1)*w]
		for x := range row {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			if lit(r, g, bl) {
				row[x] = foreground
			}
		}
	}
	return m
}

// lit reports whether the 16-bit colour has non-zero 8-bit luma, using the
// weights of color.GrayModel.
func lit(r, g, b uint32) bool {
	return (19595*r+38470*g+7471*b+1<<15)>>24 > 0
}

// largestComponent returns the bounding box of the largest 8-connected
// foreground component.
func (m *mask) largestComponent() (image.Rectangle, bool) {
	var best image.Rectangle
	bestArea := 0
	var stack []image.Point

	for i, v := range m.px {
		if v != foreground {
			continue
		}
		area, box := m.fill(image.Pt(i%m.w, i/m.w), &stack)
		if area > bestArea {
			bestArea, best = area, box
		}
	}
	return best, bestArea > 0
}

// fill marks the component containing seed as visited one horizontal span at
// a time and returns its pixel count and bounding box.
func (m *mask) fill(seed image.Point, stack *[]image.Point) (int, image.Rectangle) {
	s := append((*stack)[:0], seed)
	area := 0
	box := image.Rectangle{Min: seed, Max: seed.Add(image.Pt(1, 1))}

	for len(s) > 0 {
		p := s[len(s)-1]
		s = s[:len(s)-1]
		row := m.px[p.Y*m.w : (p.Y+1)*m.w]
		if row[p.X] != foreground {
			continue
		}

		l, r := p.X, p.X
		for l > 0 && row[l-1] == foreground {
			l--
		}
		for r < m.w-1 && row[r+1] == foreground {
			r++
		}
		for x := l; x <= r; x++ {
			row[x] = visited
		}
		area += r - l + 1
		box = box.Union(image.Rect(l, p.Y, r+1, p.Y+1))

		// Diagonal neighbours count, so look one pixel past each end.
		lo, hi := max(l-1, 0), min(r+1, m.w-1)
		for _, ny := range [2]int{p.Y - 1, p.Y + 1} {
			if ny < 0 || ny >= m.h {
				continue
			}
			next := m.px[ny*m.w : (ny+1)*m.w]
			for x := lo; x <= hi; x++ {
				if next[x] == foreground && (x == lo || next[x-1] != foreground) {
					s = append(s, image.Pt(x, ny))
				}
			}
		}
	}

	*stack = s
	return area, box
}

// inset returns how far box has to shrink on every side to leave out all
// background pixels inside it. This is the number of 3x3 erosions of box
// needed before it lies entirely on the foreground.
func (m *mask) inset(box image.Rectangle) int {
	n := 0
	for y := box.Min.Y; y < box.Max.Y; y++ {
		dy := min(y-box.Min.Y, box.Max.Y-1-y)
		if dy < n {
			continue
		}
		row := m.px[y*m.w : (y+1)*m.w]
		for x := box.Min.X; x < box.Max.X; x++ {
			if row[x] == background {
				n = max(n, min(dy, x-box.Min.X, box.Max.X-1-x)+1)
			}
		}
	}
	return n
}
