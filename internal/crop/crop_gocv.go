//go:build gocv
// +build gocv

package crop

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
	xdraw "golang.org/x/image/draw"
)

// Largest returns the region of img inside the largest external contour,
// shrunk by erosion until it contains no black pixel.
func Largest(img image.Image) (image.Image, error) {
	rgba := toRGBA(img)
	src, err := gocv.NewMatFromBytes(rgba.Rect.Dy(), rgba.Rect.Dx(), gocv.MatTypeCV8UC4, rgba.Pix)
	if err != nil {
		return nil, fmt.Errorf("convert panorama: %w", err)
	}
	defer src.Close()

	bordered := gocv.NewMat()
	defer bordered.Close()
	gocv.CopyMakeBorder(src, &bordered, Border, Border, Border, Border, gocv.BorderConstant, color.RGBA{})

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(bordered, &gray, gocv.ColorRGBAToGray)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(gray, &thresh, 0, 255, gocv.ThresholdBinary)

	outline, ok := largestContour(thresh)
	if !ok {
		return nil, ErrNothingToCrop
	}

	minRect := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), thresh.Rows(), thresh.Cols(), gocv.MatTypeCV8U)
	defer minRect.Close()
	// Rectangle corners are inclusive.
	gocv.Rectangle(&minRect, image.Rectangle{Min: outline.Min, Max: outline.Max.Sub(image.Pt(1, 1))}, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()

	sub := gocv.NewMat()
	defer sub.Close()
	for {
		gocv.Subtract(minRect, thresh, &sub)
		if gocv.CountNonZero(sub) == 0 {
			break
		}
		gocv.Erode(minRect, &minRect, kernel)
	}

	box, ok := largestContour(minRect)
	if !ok {
		return nil, ErrNothingToCrop
	}
	return region(img, box.Sub(image.Pt(Border, Border)))
}

// largestContour returns the bounding rectangle of the external contour with
// the largest area.
func largestContour(m gocv.Mat) (image.Rectangle, bool) {
	contours := gocv.FindContours(m, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	best, bestArea := -1, -1.0
	for i := 0; i < contours.Size(); i++ {
		if area := gocv.ContourArea(contours.At(i)); area > bestArea {
			best, bestArea = i, area
		}
	}
	if best < 0 {
		return image.Rectangle{}, false
	}
	return gocv.BoundingRect(contours.At(best)), true
}

// toRGBA returns img as a tightly packed *image.RGBA with its origin at (0, 0).
func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) && rgba.Stride == 4*b.Dx() {
		return rgba
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Copy(dst, image.Point{}, img, b, xdraw.Src, nil)
	return dst
}
