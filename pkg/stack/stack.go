// Package stack turns an ordered collection of equal-size images into the
// observation matrix consumed by the low-rank plus sparse decomposition.
// Each image becomes one column; rows are corresponding pixel positions.
package stack

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"lowrankdecomp/internal/models"
)

var (
	// ErrShapeMismatch is matched by every ShapeMismatchError.
	ErrShapeMismatch = errors.New("stack: image shape mismatch")

	// ErrEmptyStack is returned when no images are supplied.
	ErrEmptyStack = errors.New("stack: no images")

	// ErrNonFinite is returned when a sample is NaN or ±Inf.
	ErrNonFinite = errors.New("stack: NaN or Inf sample")
)

// ShapeMismatchError reports the first image whose grid differs from image 0.
type ShapeMismatchError struct {
	Index    int
	Name     string
	Expected models.Shape
	Got      models.Shape
}

func (e *ShapeMismatchError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("stack: image %d (%s) is %s, expected %s", e.Index, e.Name, e.Got, e.Expected)
	}
	return fmt.Sprintf("stack: image %d is %s, expected %s", e.Index, e.Got, e.Expected)
}

// Is lets errors.Is match ErrShapeMismatch.
func (e *ShapeMismatchError) Is(target error) bool {
	return target == ErrShapeMismatch
}

// Build stacks images column-wise into a (pixels x images) matrix.
// All images must share the shape of the first one; nothing is allocated
// before every input has been checked.
func Build(images []models.PixelArray) (*mat.Dense, models.Shape, error) {
	if len(images) == 0 {
		return nil, models.Shape{}, ErrEmptyStack
	}

	shape := images[0].Shape()
	if shape.Pixels() == 0 {
		return nil, models.Shape{}, fmt.Errorf("stack: image 0 has no pixels: %w", ErrEmptyStack)
	}
	for i, img := range images {
		got := img.Shape()
		if got != shape || len(img.Data) != shape.Pixels() {
			return nil, models.Shape{}, &ShapeMismatchError{Index: i, Name: img.Name, Expected: shape, Got: got}
		}
		for _, v := range img.Data {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, models.Shape{}, fmt.Errorf("image %d: %w", i, ErrNonFinite)
			}
		}
	}

	rows, cols := shape.Pixels(), len(images)
	x := mat.NewDense(rows, cols, nil)
	for j, img := range images {
		x.SetCol(j, img.Data)
	}
	return x, shape, nil
}

// Column extracts observation j of x as a pixel array with the given shape.
func Column(x mat.Matrix, j int, shape models.Shape, depth models.BitDepth) (models.PixelArray, error) {
	rows, cols := x.Dims()
	if rows != shape.Pixels() {
		return models.PixelArray{}, &ShapeMismatchError{
			Index:    j,
			Expected: shape,
			Got:      models.Shape{Width: rows, Height: 1},
		}
	}
	if j < 0 || j >= cols {
		return models.PixelArray{}, fmt.Errorf("stack: column %d out of range [0,%d)", j, cols)
	}
	out := models.NewPixelArray("", shape.Width, shape.Height, depth)
	mat.Col(out.Data, j, x)
	return out, nil
}
