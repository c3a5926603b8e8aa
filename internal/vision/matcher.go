// File: internal/vision/matcher.go
// Grayscale template matching over raw rasters. Similarity is the normalized
// per-pixel squared difference mapped onto [0, 1], where 1.0 is an exact
// pixel-for-pixel match. Matching is a pure function of its inputs; no device
// state is touched here.
package vision

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
)

// ErrInvalidImage signals unusable matcher input: a nil or zero-size raster,
// or a template larger than the screenshot it is searched in. This is a
// programming or asset error, not a normal miss.
var ErrInvalidImage = errors.New("invalid image")

// maxSq is the largest possible squared difference of two 8-bit gray pixels.
const maxSq = 255 * 255

// MatchResult reports the outcome of one template search.
type MatchResult struct {
	Found      bool
	Confidence float64
	Bounds     image.Rectangle
}

// Center returns the midpoint of the bounding box, which is where the caller
// taps.
func (r MatchResult) Center() image.Point {
	return image.Point{
		X: r.Bounds.Min.X + r.Bounds.Dx()/2,
		Y: r.Bounds.Min.Y + r.Bounds.Dy()/2,
	}
}

// Match searches for the best-scoring position of tmpl within screenshot.
// Found is true only when the best confidence reaches threshold; the best
// location and its confidence are reported either way.
func Match(screenshot image.Image, tmpl Template, threshold float64) (MatchResult, error) {
	sg, tg, err := matchInputs(screenshot, tmpl)
	if err != nil {
		return MatchResult{}, err
	}

	tw, th := tg.Rect.Dx(), tg.Rect.Dy()
	budget := int64(tw*th) * maxSq

	// Track the true minimum; the running best doubles as the early-exit cap
	// for every later offset.
	best := budget
	bestPt := image.Point{}
	for y := 0; y <= sg.Rect.Dy()-th; y++ {
		for x := 0; x <= sg.Rect.Dx()-tw; x++ {
			d := diffAt(sg, tg, x, y, best)
			if d < best {
				best = d
				bestPt = image.Point{X: x, Y: y}
			}
		}
	}

	confidence := 1.0 - float64(best)/float64(budget)
	return MatchResult{
		Found:      confidence >= threshold,
		Confidence: confidence,
		Bounds:     image.Rect(bestPt.X, bestPt.Y, bestPt.X+tw, bestPt.Y+th),
	}, nil
}

// matchInputs validates the pair and returns both rasters as zero-origin
// grayscale images.
func matchInputs(screenshot image.Image, tmpl Template) (*image.Gray, *image.Gray, error) {
	if screenshot == nil || screenshot.Bounds().Empty() {
		return nil, nil, fmt.Errorf("%w: zero-size screenshot", ErrInvalidImage)
	}
	if tmpl.Gray == nil || tmpl.Gray.Bounds().Empty() {
		return nil, nil, fmt.Errorf("%w: zero-size template %q", ErrInvalidImage, tmpl.Name)
	}

	sg := grayClone(screenshot)
	tg := tmpl.Gray
	if tg.Rect.Dx() > sg.Rect.Dx() || tg.Rect.Dy() > sg.Rect.Dy() {
		return nil, nil, fmt.Errorf("%w: template %q larger than screenshot", ErrInvalidImage, tmpl.Name)
	}
	return sg, tg, nil
}

// diffAt accumulates the squared gray difference of tg laid over sg at
// (offX, offY), bailing out as soon as the sum exceeds limit.
func diffAt(sg, tg *image.Gray, offX, offY int, limit int64) int64 {
	var diff int64
	tw, th := tg.Rect.Dx(), tg.Rect.Dy()

	for y := 0; y < th; y++ {
		srow := sg.Pix[(offY+y)*sg.Stride+offX:]
		trow := tg.Pix[y*tg.Stride:]
		for x := 0; x < tw; x++ {
			d := int64(srow[x]) - int64(trow[x])
			diff += d * d
		}
		if diff > limit {
			return diff
		}
	}
	return diff
}

// grayClone converts any raster to a zero-origin grayscale copy so pixel
// indexing never has to care about sub-image offsets.
func grayClone(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Rect, img, b.Min, draw.Src)
	return dst
}
