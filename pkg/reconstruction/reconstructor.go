// Package reconstruction turns the columns of a low-rank plus sparse
// decomposition back into per-observation images.
package reconstruction

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"lowrankdecomp/internal/models"
	"lowrankdecomp/pkg/stack"
)

// PixelType selects the sample type of reconstructed images.
type PixelType int

const (
	// Uint8 produces *image.Gray images with samples in 0..255.
	Uint8 PixelType = iota

	// Uint16 produces *image.Gray16 images with samples in 0..65535.
	Uint16
)

// ParsePixelType maps a configuration string ("uint8", "uint16") to a PixelType.
// An empty string selects Uint8.
func ParsePixelType(s string) (PixelType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "uint8", "u8":
		return Uint8, nil
	case "uint16", "u16":
		return Uint16, nil
	default:
		return Uint8, fmt.Errorf("unknown pixel type %q", s)
	}
}

// String returns the configuration name of the pixel type.
func (p PixelType) String() string {
	if p == Uint16 {
		return "uint16"
	}
	return "uint8"
}

// Max returns the largest sample value of the pixel type.
func (p PixelType) Max() float64 {
	if p == Uint16 {
		return math.MaxUint16
	}
	return math.MaxUint8
}

// Saturate rounds v to the nearest integer and clamps it into [0, limit].
// Out-of-range values saturate at the bounds, they never wrap around.
func Saturate(v, limit float64) float64 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= limit {
		return limit
	}
	return math.Round(v)
}

// Reconstruct converts every column of l and s into an image of the given
// shape. The two returned slices hold one image per observation, in column
// order: low[j] and sparse[j] are the components of input image j.
func Reconstruct(l, s mat.Matrix, shape models.Shape, pt PixelType) (low, sparse []image.Image, err error) {
	lr, lc := l.Dims()
	sr, sc := s.Dims()
	if lr != sr || lc != sc {
		return nil, nil, fmt.Errorf("low-rank is %dx%d, sparse is %dx%d: %w", lr, lc, sr, sc, stack.ErrShapeMismatch)
	}

	low, err = ToImages(l, shape, pt)
	if err != nil {
		return nil, nil, fmt.Errorf("low-rank component: %w", err)
	}
	sparse, err = ToImages(s, shape, pt)
	if err != nil {
		return nil, nil, fmt.Errorf("sparse component: %w", err)
	}
	return low, sparse, nil
}

// ToImages converts every column of m into a saturated image.
func ToImages(m mat.Matrix, shape models.Shape, pt PixelType) ([]image.Image, error) {
	arrays, err := ToPixelArrays(m, shape)
	if err != nil {
		return nil, err
	}
	images := make([]image.Image, len(arrays))
	for j, arr := range arrays {
		images[j] = FloatToImage(arr.Data, shape.Width, shape.Height, pt)
	}
	return images, nil
}

// ToPixelArrays returns the raw, unclamped columns of m as pixel arrays.
func ToPixelArrays(m mat.Matrix, shape models.Shape) ([]models.PixelArray, error) {
	rows, cols := m.Dims()
	if rows != shape.Pixels() {
		return nil, &stack.ShapeMismatchError{
			Expected: shape,
			Got:      models.Shape{Width: rows, Height: 1},
		}
	}

	arrays := make([]models.PixelArray, cols)
	for j := 0; j < cols; j++ {
		arr, err := stack.Column(m, j, shape, models.Depth16)
		if err != nil {
			return nil, err
		}
		arrays[j] = arr
	}
	return arrays, nil
}

// FloatToImage converts a row-major float array into a grey image of the
// requested pixel type, saturating samples outside the type range.
func FloatToImage(data []float64, width, height int, pt PixelType) image.Image {
	rect := image.Rect(0, 0, width, height)

	if pt == Uint16 {
		img := image.NewGray16(rect)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				idx := y*width + x
				if idx < len(data) {
					img.SetGray16(x, y, color.Gray16{Y: uint16(Saturate(data[idx], math.MaxUint16))})
				}
			}
		}
		return img
	}

	img := image.NewGray(rect)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			idx := y*width + x
			if idx < len(data) {
				img.SetGray(x, y, color.Gray{Y: uint8(Saturate(data[idx], math.MaxUint8))})
			}
		}
	}
	return img
}
