package imageio

import (
	"image"

	"golang.org/x/image/draw"

	"lowrankdecomp/internal/models"
)

// Resample rescales arr onto a width x height grid with bilinear
// interpolation. The bit depth and name are preserved.
func Resample(arr models.PixelArray, width, height int) models.PixelArray {
	if arr.Width == width && arr.Height == height {
		return arr.Clone()
	}

	src := ToImage(arr)
	rect := image.Rect(0, 0, width, height)

	var dst draw.Image
	if arr.Depth == models.Depth16 {
		dst = image.NewGray16(rect)
	} else {
		dst = image.NewGray(rect)
	}
	draw.ApproxBiLinear.Scale(dst, rect, src, src.Bounds(), draw.Src, nil)

	out := FromImage(dst)
	out.Name = arr.Name
	out.Depth = arr.Depth
	return out
}
