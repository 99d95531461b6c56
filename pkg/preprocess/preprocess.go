package preprocess

import (
	"lowrankdecomp/internal/models"
)

// Options selects the preprocessing steps applied by Apply.
type Options struct {
	// Sigma is the Gaussian smoothing width in pixels; 0 disables smoothing.
	Sigma float64

	// HistogramMatching maps every image onto the reference histogram.
	HistogramMatching bool

	// MatchPoints is the number of quantile intervals for histogram matching.
	MatchPoints int
}

// Enabled reports whether Apply would change anything.
func (o Options) Enabled() bool {
	return o.Sigma > 0 || o.HistogramMatching
}

// Apply runs histogram matching (against ref) and then smoothing on every
// image, returning new arrays. Inputs are left untouched.
func Apply(images []models.PixelArray, ref models.PixelArray, opts Options) []models.PixelArray {
	out := make([]models.PixelArray, len(images))
	for i, img := range images {
		cur := img
		if opts.HistogramMatching {
			cur = MatchHistogram(cur, ref, opts.MatchPoints)
		}
		if opts.Sigma > 0 {
			cur = Smooth(cur, opts.Sigma)
		}
		if !opts.Enabled() {
			cur = cur.Clone()
		}
		out[i] = cur
	}
	return out
}
