// File: internal/vision/matcher_test.go
package vision

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fillGray builds a uniform grayscale image.
func fillGray(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

// stamp copies src into dst at (x, y).
func stamp(dst *image.Gray, src *image.Gray, x, y int) {
	for sy := 0; sy < src.Rect.Dy(); sy++ {
		for sx := 0; sx < src.Rect.Dx(); sx++ {
			dst.SetGray(x+sx, y+sy, src.GrayAt(sx, sy))
		}
	}
}

// pattern builds a non-uniform raster so matches are unambiguous.
func pattern(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x*31 + y*17) % 256)})
		}
	}
	return img
}

func TestMatchExactCopy(t *testing.T) {
	screen := fillGray(64, 48, 10)
	tmpl := pattern(8, 8)
	stamp(screen, tmpl, 20, 12)

	res, err := Match(screen, NewTemplate("probe", tmpl), 0.8)
	require.NoError(t, err)

	assert.True(t, res.Found)
	assert.Equal(t, 1.0, res.Confidence, "an exact pixel copy must score a perfect confidence")
	assert.Equal(t, image.Rect(20, 12, 28, 20), res.Bounds)
	assert.Equal(t, image.Point{X: 24, Y: 16}, res.Center())
}

func TestMatchBelowThreshold(t *testing.T) {
	screen := fillGray(64, 48, 0)
	tmpl := fillGray(8, 8, 255)

	res, err := Match(screen, NewTemplate("absent", tmpl), 0.8)
	require.NoError(t, err)

	assert.False(t, res.Found)
	assert.Less(t, res.Confidence, 0.8)
}

func TestMatchNearCopyStillFound(t *testing.T) {
	screen := fillGray(64, 48, 10)
	tmpl := pattern(8, 8)
	stamp(screen, tmpl, 5, 5)

	// Perturb a single pixel of the on-screen instance.
	screen.SetGray(6, 6, color.Gray{Y: screen.GrayAt(6, 6).Y ^ 0x20})

	res, err := Match(screen, NewTemplate("probe", tmpl), 0.8)
	require.NoError(t, err)

	assert.True(t, res.Found)
	assert.Less(t, res.Confidence, 1.0)
	assert.Equal(t, image.Rect(5, 5, 13, 13), res.Bounds)
}

func TestMatchPicksBestOfMultiple(t *testing.T) {
	screen := fillGray(100, 60, 128)
	tmpl := pattern(10, 10)

	// One exact instance and one noisy instance.
	stamp(screen, tmpl, 70, 30)
	noisy := pattern(10, 10)
	for i := range noisy.Pix {
		noisy.Pix[i] ^= 0x08
	}
	stamp(screen, noisy, 10, 10)

	res, err := Match(screen, NewTemplate("probe", tmpl), 0.8)
	require.NoError(t, err)

	require.True(t, res.Found)
	assert.Equal(t, image.Point{X: 75, Y: 35}, res.Center(), "the exact instance must win over the noisy one")
}

func TestMatchInvalidInputs(t *testing.T) {
	valid := NewTemplate("ok", pattern(4, 4))

	tests := []struct {
		name   string
		screen image.Image
		tmpl   Template
	}{
		{"nil screenshot", nil, valid},
		{"empty screenshot", image.NewGray(image.Rect(0, 0, 0, 0)), valid},
		{"nil template raster", fillGray(16, 16, 0), Template{Name: "broken"}},
		{"template larger than screenshot", fillGray(4, 4, 0), NewTemplate("big", pattern(8, 8))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Match(tc.screen, tc.tmpl, 0.8)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidImage)
		})
	}
}

func TestMatchSubImageOrigin(t *testing.T) {
	// A screenshot whose bounds do not start at the origin must match the
	// same way a zero-origin raster does.
	big := fillGray(80, 80, 10)
	tmpl := pattern(8, 8)
	stamp(big, tmpl, 30, 30)

	sub, ok := big.SubImage(image.Rect(10, 10, 70, 70)).(*image.Gray)
	require.True(t, ok)

	res, err := Match(sub, NewTemplate("probe", tmpl), 0.8)
	require.NoError(t, err)
	require.True(t, res.Found)
	// Coordinates are relative to the clone origin.
	assert.Equal(t, image.Rect(20, 20, 28, 28), res.Bounds)
}
