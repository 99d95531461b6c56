package preprocess

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// lineFilter convolves 1D lines of a fixed length with a Gaussian kernel.
// Filtering happens in the frequency domain: each line is edge-replicated by
// the kernel radius on both sides so that the circular convolution computed
// by the FFT never wraps image content around.
type lineFilter struct {
	n      int
	pad    int
	fft    *fourier.FFT
	kernel []complex128

	// scratch buffers reused across lines
	buf   []float64
	coeff []complex128
}

// newLineFilter prepares a filter for lines of length n.
func newLineFilter(n int, sigma float64) *lineFilter {
	radius := int(math.Ceil(3 * sigma))
	if radius < 1 {
		radius = 1
	}
	size := n + 2*radius
	fft := fourier.NewFFT(size)

	// Kernel centred on index 0, negative taps wrapped to the end
	taps := make([]float64, size)
	var sum float64
	for i := -radius; i <= radius; i++ {
		w := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		taps[(i+size)%size] = w
		sum += w
	}
	for i := range taps {
		taps[i] /= sum
	}

	return &lineFilter{
		n:      n,
		pad:    radius,
		fft:    fft,
		kernel: fft.Coefficients(nil, taps),
		buf:    make([]float64, size),
		coeff:  make([]complex128, size/2+1),
	}
}

// apply filters line in place.
func (f *lineFilter) apply(line []float64) {
	size := len(f.buf)
	for i := 0; i < size; i++ {
		src := i - f.pad
		if src < 0 {
			src = 0
		} else if src >= f.n {
			src = f.n - 1
		}
		f.buf[i] = line[src]
	}

	f.coeff = f.fft.Coefficients(f.coeff, f.buf)
	for i := range f.coeff {
		f.coeff[i] *= f.kernel[i]
	}
	// Sequence is unnormalized: divide by the transform length
	f.fft.Sequence(f.buf, f.coeff)

	scale := 1 / float64(size)
	for i := 0; i < f.n; i++ {
		line[i] = f.buf[i+f.pad] * scale
	}
}
