package stack

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"lowrankdecomp/internal/models"
)

func ramp(name string, w, h int, offset float64) models.PixelArray {
	img := models.NewPixelArray(name, w, h, models.Depth8)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, float64(y*w+x)+offset)
		}
	}
	return img
}

func TestBuildStacksColumns(t *testing.T) {
	images := []models.PixelArray{ramp("a", 3, 2, 0), ramp("b", 3, 2, 10), ramp("c", 3, 2, 20)}

	x, shape, err := Build(images)
	require.NoError(t, err)
	require.Equal(t, models.Shape{Width: 3, Height: 2}, shape)

	rows, cols := x.Dims()
	require.Equal(t, 6, rows)
	require.Equal(t, 3, cols)

	// pixel (x=2, y=1) is row 5
	require.Equal(t, 5.0, x.At(5, 0))
	require.Equal(t, 15.0, x.At(5, 1))
	require.Equal(t, 20.0, x.At(0, 2))
}

func TestBuildDoesNotAliasInput(t *testing.T) {
	images := []models.PixelArray{ramp("a", 2, 2, 0)}
	x, _, err := Build(images)
	require.NoError(t, err)

	images[0].Data[0] = 99
	require.Equal(t, 0.0, x.At(0, 0))
}

func TestBuildShapeMismatch(t *testing.T) {
	images := []models.PixelArray{ramp("a", 4, 4, 0), ramp("b", 4, 4, 0), ramp("c", 4, 3, 0)}

	_, _, err := Build(images)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrShapeMismatch))

	var mismatch *ShapeMismatchError
	require.True(t, errors.As(err, &mismatch))
	require.Equal(t, 2, mismatch.Index)
	require.Equal(t, "c", mismatch.Name)
	require.Equal(t, models.Shape{Width: 4, Height: 3}, mismatch.Got)
}

func TestBuildSamePixelCountDifferentGrid(t *testing.T) {
	images := []models.PixelArray{ramp("a", 2, 6, 0), ramp("b", 3, 4, 0)}

	_, _, err := Build(images)
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestBuildEmpty(t *testing.T) {
	_, _, err := Build(nil)
	require.ErrorIs(t, err, ErrEmptyStack)
}

func TestBuildRejectsNonFinite(t *testing.T) {
	img := ramp("a", 2, 2, 0)
	img.Data[3] = math.NaN()

	_, _, err := Build([]models.PixelArray{ramp("ok", 2, 2, 0), img})
	require.ErrorIs(t, err, ErrNonFinite)
}

func TestColumnRoundTrip(t *testing.T) {
	images := []models.PixelArray{ramp("a", 3, 3, 0), ramp("b", 3, 3, 5)}
	x, shape, err := Build(images)
	require.NoError(t, err)

	col, err := Column(x, 1, shape, models.Depth8)
	require.NoError(t, err)
	require.Equal(t, images[1].Data, col.Data)

	_, err = Column(x, 2, shape, models.Depth8)
	require.Error(t, err)

	_, err = Column(x, 0, models.Shape{Width: 2, Height: 2}, models.Depth8)
	require.ErrorIs(t, err, ErrShapeMismatch)
}
