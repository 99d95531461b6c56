package models

import "fmt"

// BitDepth is the sample depth of a source image
type BitDepth int

const (
	// Depth8 marks images whose samples lie in 0..255
	Depth8 BitDepth = 8

	// Depth16 marks images whose samples lie in 0..65535
	Depth16 BitDepth = 16
)

// MaxValue returns the largest sample value representable at this depth
func (d BitDepth) MaxValue() float64 {
	if d == Depth16 {
		return 65535
	}
	return 255
}

// Shape describes the pixel grid shared by every image of a stack
type Shape struct {
	// Width is the number of columns of each image
	Width int

	// Height is the number of rows of each image
	Height int
}

// Pixels returns the number of pixels of one image with this shape
func (s Shape) Pixels() int {
	return s.Width * s.Height
}

// String formats the shape as WxH
func (s Shape) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// PixelArray is a single grey-level image flattened in row-major order.
// Samples keep the native scale of the source (0..255 for 8-bit images,
// 0..65535 for 16-bit images) so that a decomposition can be written back
// without rescaling.
type PixelArray struct {
	// Name identifies the image, usually the base name of its file
	Name string

	// Width is the number of columns
	Width int

	// Height is the number of rows
	Height int

	// Depth is the bit depth of the source image
	Depth BitDepth

	// Data holds Width*Height samples, index y*Width+x
	Data []float64
}

// NewPixelArray allocates a zeroed array of the given dimensions
func NewPixelArray(name string, width, height int, depth BitDepth) PixelArray {
	return PixelArray{
		Name:   name,
		Width:  width,
		Height: height,
		Depth:  depth,
		Data:   make([]float64, width*height),
	}
}

// Shape returns the pixel grid of the array
func (p PixelArray) Shape() Shape {
	return Shape{Width: p.Width, Height: p.Height}
}

// At returns the sample at column x and row y
func (p PixelArray) At(x, y int) float64 {
	return p.Data[y*p.Width+x]
}

// Set stores a sample at column x and row y
func (p PixelArray) Set(x, y int, v float64) {
	p.Data[y*p.Width+x] = v
}

// Clone returns a deep copy of the array
func (p PixelArray) Clone() PixelArray {
	out := p
	out.Data = make([]float64, len(p.Data))
	copy(out.Data, p.Data)
	return out
}

// Component names one half of a low-rank plus sparse decomposition
type Component string

const (
	// LowRank is the shared, redundant structure of the stack
	LowRank Component = "LowRank"

	// Sparse holds localized deviations from the shared structure
	Sparse Component = "Sparse"
)
