package preprocess

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"lowrankdecomp/internal/models"
)

// DefaultMatchPoints is the number of quantile intervals used by MatchHistogram.
const DefaultMatchPoints = 128

// MatchHistogram remaps the intensities of img so that its distribution
// follows ref. Quantiles of both images are matched at points+1 evenly
// spaced probabilities and intensities in between are mapped piecewise
// linearly. Values outside the source range map to the reference extremes.
func MatchHistogram(img, ref models.PixelArray, points int) models.PixelArray {
	out := img.Clone()
	if len(img.Data) == 0 || len(ref.Data) == 0 {
		return out
	}
	if points < 1 {
		points = DefaultMatchPoints
	}

	srcQ := quantiles(img.Data, points)
	refQ := quantiles(ref.Data, points)

	for i, v := range img.Data {
		out.Data[i] = mapIntensity(v, srcQ, refQ)
	}
	return out
}

func quantiles(data []float64, points int) []float64 {
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	q := make([]float64, points+1)
	q[0] = sorted[0]
	q[points] = sorted[len(sorted)-1]
	for k := 1; k < points; k++ {
		q[k] = stat.Quantile(float64(k)/float64(points), stat.Empirical, sorted, nil)
	}
	return q
}

func mapIntensity(v float64, srcQ, refQ []float64) float64 {
	last := len(srcQ) - 1
	if v <= srcQ[0] {
		return refQ[0]
	}
	if v >= srcQ[last] {
		return refQ[last]
	}
	// first quantile >= v; srcQ[i-1] < v <= srcQ[i]
	i := sort.SearchFloat64s(srcQ, v)
	lo, hi := srcQ[i-1], srcQ[i]
	if hi == lo {
		return refQ[i]
	}
	t := (v - lo) / (hi - lo)
	return refQ[i-1] + t*(refQ[i]-refQ[i-1])
}
