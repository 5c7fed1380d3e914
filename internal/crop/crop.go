// Package crop trims the black, irregular margin left around a stitched
// panorama down to the largest fully covered rectangle.
//
// Built with the gocv tag the search runs on OpenCV contours and erosion;
// otherwise a pure Go mask gives the same rectangle.
package crop

import (
	"errors"
	"image"

	xdraw "golang.org/x/image/draw"
)

// Border is the black padding added before searching for the panorama outline.
const Border = 10

// ErrNothingToCrop is returned when the image has no covered region.
var ErrNothingToCrop = errors.New("no croppable region found")

// region returns box of img, where box is relative to the top-left corner
// of img. The result shares pixels with img when img supports SubImage.
func region(img image.Image, box image.Rectangle) (image.Image, error) {
	b := img.Bounds()
	r := box.Add(b.Min).Intersect(b)
	if r.Empty() {
		return nil, ErrNothingToCrop
	}
	if s, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	}); ok {
		return s.SubImage(r), nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	xdraw.Copy(dst, image.Point{}, img, r, xdraw.Src, nil)
	return dst, nil
}
