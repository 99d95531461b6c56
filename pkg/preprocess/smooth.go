// Package preprocess implements the optional intensity preprocessing applied
// to a stack before decomposition: Gaussian smoothing and histogram matching
// against a reference image.
package preprocess

import (
	"lowrankdecomp/internal/models"
)

// Smooth applies a separable Gaussian blur with standard deviation sigma,
// expressed in pixels. A non-positive sigma returns an unmodified copy.
func Smooth(img models.PixelArray, sigma float64) models.PixelArray {
	out := img.Clone()
	if sigma <= 0 || img.Width == 0 || img.Height == 0 {
		return out
	}

	// Rows
	rows := newLineFilter(img.Width, sigma)
	for y := 0; y < img.Height; y++ {
		rows.apply(out.Data[y*img.Width : (y+1)*img.Width])
	}

	// Columns
	cols := newLineFilter(img.Height, sigma)
	column := make([]float64, img.Height)
	for x := 0; x < img.Width; x++ {
		for y := 0; y < img.Height; y++ {
			column[y] = out.Data[y*img.Width+x]
		}
		cols.apply(column)
		for y := 0; y < img.Height; y++ {
			out.Data[y*img.Width+x] = column[y]
		}
	}
	return out
}
