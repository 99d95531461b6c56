// Package visualization renders decomposition results as side-by-side
// montage panels: the observed image, its low-rank part and its sparse part.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/mat"

	"lowrankdecomp/internal/models"
)

// Panel names accepted by ExtractPanel.
const (
	PanelInput   = "Input"
	PanelLowRank = string(models.LowRank)
	PanelSparse  = string(models.Sparse)
)

// panelGap is the number of black pixels between montage panels.
const panelGap = 2

// Viewer renders columns of the observation, low-rank and sparse matrices.
type Viewer struct {
	// observed, lowRank and sparse share the shape pixels x images
	observed mat.Matrix
	lowRank  mat.Matrix
	sparse   mat.Matrix

	shape models.Shape

	// intensity window shared by the input and low-rank panels
	lo, hi float64

	// largest absolute sparse value, used to scale the sparse panel
	sparseMax float64
}

// NewViewer creates a viewer over one decomposition. The input and low-rank
// panels share the intensity window of x; the sparse panel shows |S| scaled to
// its largest magnitude.
func NewViewer(x, l, s mat.Matrix, shape models.Shape) (*Viewer, error) {
	rows, cols := x.Dims()
	if rows != shape.Pixels() {
		return nil, fmt.Errorf("visualization: %d rows do not match shape %s", rows, shape)
	}
	for name, m := range map[string]mat.Matrix{PanelLowRank: l, PanelSparse: s} {
		if r, c := m.Dims(); r != rows || c != cols {
			return nil, fmt.Errorf("visualization: %s is %dx%d, expected %dx%d", name, r, c, rows, cols)
		}
	}

	v := &Viewer{observed: x, lowRank: l, sparse: s, shape: shape}
	v.lo, v.hi = mat.Min(x), mat.Max(x)
	v.sparseMax = math.Max(math.Abs(mat.Min(s)), math.Abs(mat.Max(s)))
	return v, nil
}

// Count returns the number of observations.
func (v *Viewer) Count() int {
	_, c := v.observed.Dims()
	return c
}

// ExtractPanel renders one component of observation index as an 8-bit image.
func (v *Viewer) ExtractPanel(panel string, index int) (*image.Gray, error) {
	if index < 0 || index >= v.Count() {
		return nil, fmt.Errorf("index %d outside [0, %d)", index, v.Count())
	}

	var (
		src   mat.Matrix
		scale func(float64) float64
	)
	window := func(val float64) float64 {
		if v.hi <= v.lo {
			return 0
		}
		return (val - v.lo) / (v.hi - v.lo)
	}

	switch panel {
	case PanelInput:
		src, scale = v.observed, window
	case PanelLowRank:
		src, scale = v.lowRank, window
	case PanelSparse:
		src = v.sparse
		scale = func(val float64) float64 {
			if v.sparseMax == 0 {
				return 0
			}
			return math.Abs(val) / v.sparseMax
		}
	default:
		return nil, fmt.Errorf("invalid panel: %s (must be %s, %s or %s)", panel, PanelInput, PanelLowRank, PanelSparse)
	}

	w, h := v.shape.Width, v.shape.Height
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			val := scale(src.At(y*w+x, index))
			img.SetGray(x, y, color.Gray{Y: uint8(math.Round(math.Max(0, math.Min(1, val)) * 255))})
		}
	}
	return img, nil
}

// Montage places the input, low-rank and sparse panels of one observation
// side by side, each scaled by factor with nearest-neighbour sampling.
func (v *Viewer) Montage(index, factor int) (*image.Gray, error) {
	if factor < 1 {
		factor = 1
	}
	pw, ph := v.shape.Width*factor, v.shape.Height*factor
	out := image.NewGray(image.Rect(0, 0, 3*pw+2*panelGap, ph))

	for i, panel := range []string{PanelInput, PanelLowRank, PanelSparse} {
		img, err := v.ExtractPanel(panel, index)
		if err != nil {
			return nil, err
		}
		x0 := i * (pw + panelGap)
		draw.NearestNeighbor.Scale(out, image.Rect(x0, 0, x0+pw, ph), img, img.Bounds(), draw.Src, nil)
	}
	return out, nil
}

// SaveMontage saves a montage as a PNG image
func (v *Viewer) SaveMontage(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// SaveMontageSequence writes <name>_Montage.png for every observation and
// returns the written paths in order.
func (v *Viewer) SaveMontageSequence(names []string, factor int, outputDir string) ([]string, error) {
	if len(names) != v.Count() {
		return nil, fmt.Errorf("got %d names for %d observations", len(names), v.Count())
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(names))
	for i, name := range names {
		img, err := v.Montage(i, factor)
		if err != nil {
			return paths, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("%s_Montage.png", name))
		if err := v.SaveMontage(img, filename); err != nil {
			return paths, err
		}
		paths = append(paths, filename)
	}
	return paths, nil
}
