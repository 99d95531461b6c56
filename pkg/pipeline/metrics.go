package pipeline

import (
	"fmt"
	"math"
	"os"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"lowrankdecomp/pkg/decomposition"
)

// ImageMetrics compares one observation with its low-rank component.
type ImageMetrics struct {
	Name string `yaml:"name"`

	// RMSE is the root mean square of the sparse component, i.e. the error of
	// L against the observation.
	RMSE float64 `yaml:"rmse"`

	// SSIM is the global structural similarity of the observation and L.
	SSIM float64 `yaml:"ssim"`

	// MI is the Gaussian mutual information estimate of observation and L.
	MI float64 `yaml:"mi"`

	// EntropyDiff is the absolute difference of 256-bin Shannon entropies.
	EntropyDiff float64 `yaml:"entropy_diff"`

	// SparseEnergy is ||S_j||_2 / ||X_j||_2 for this column.
	SparseEnergy float64 `yaml:"sparse_energy"`
}

// Metrics holds the run summary written to metrics.yaml.
type Metrics struct {
	RunID      string  `yaml:"run_id,omitempty"`
	Algorithm  string  `yaml:"algorithm"`
	Images     int     `yaml:"images"`
	Width      int     `yaml:"width"`
	Height     int     `yaml:"height"`
	Lambda     float64 `yaml:"lambda"`
	Iterations int     `yaml:"iterations"`
	Residual   float64 `yaml:"residual"`
	Converged  bool    `yaml:"converged"`
	Rank       int     `yaml:"rank"`
	Sparsity   float64 `yaml:"sparsity"`
	Mu         float64 `yaml:"mu"`

	PerImage []ImageMetrics `yaml:"per_image"`
}

// computeMetrics fills the per-image comparison of x against res.L.
func computeMetrics(x mat.Matrix, res *decomposition.Result, names []string) []ImageMetrics {
	_, n := x.Dims()
	out := make([]ImageMetrics, n)
	for j := 0; j < n; j++ {
		orig := mat.Col(nil, j, x)
		low := mat.Col(nil, j, res.L)
		sparse := mat.Col(nil, j, res.S)

		m := ImageMetrics{
			RMSE:        calculateRMSE(orig, low),
			SSIM:        calculateSSIM(orig, low),
			MI:          calculateMutualInformation(orig, low),
			EntropyDiff: calculateEntropyDifference(orig, low),
		}
		if j < len(names) {
			m.Name = names[j]
		}
		if norm := floatsNorm(orig); norm > 0 {
			m.SparseEnergy = floatsNorm(sparse) / norm
		}
		out[j] = m
	}
	return out
}

// WriteMetrics saves metrics as YAML.
func WriteMetrics(m *Metrics, path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("error marshaling metrics: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing metrics: %w", err)
	}
	return nil
}

// ReadMetrics loads a metrics.yaml file.
func ReadMetrics(path string) (*Metrics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Metrics
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("error parsing metrics: %w", err)
	}
	return &m, nil
}

func floatsNorm(v []float64) float64 {
	return mat.Norm(mat.NewVecDense(len(v), v), 2)
}

// calculateRMSE computes the root mean square error
func calculateRMSE(original, reconstructed []float64) float64 {
	n := len(original)
	if n != len(reconstructed) || n == 0 {
		return 0
	}

	mse := 0.0
	for i := 0; i < n; i++ {
		diff := original[i] - reconstructed[i]
		mse += diff * diff
	}
	return math.Sqrt(mse / float64(n))
}

// calculateSSIM computes the Structural Similarity Index over the whole
// image, with the dynamic range taken from the original samples
func calculateSSIM(original, reconstructed []float64) float64 {
	const k1 = 0.01
	const k2 = 0.03

	n := len(original)
	if n != len(reconstructed) || n == 0 {
		return 0
	}

	lo, hi := findMinMax(original)
	dynamicRange := hi - lo
	if dynamicRange == 0 {
		dynamicRange = 1
	}
	c1 := (k1 * dynamicRange) * (k1 * dynamicRange)
	c2 := (k2 * dynamicRange) * (k2 * dynamicRange)

	muX := stat.Mean(original, nil)
	muY := stat.Mean(reconstructed, nil)
	sigmaX := stat.Variance(original, nil)
	sigmaY := stat.Variance(reconstructed, nil)
	sigmaXY := stat.Covariance(original, reconstructed, nil)

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	if den > 0 {
		return num / den
	}
	return 0
}

// calculateMutualInformation computes the mutual information of two
// jointly Gaussian variables with the sample covariance of the inputs
func calculateMutualInformation(original, reconstructed []float64) float64 {
	n := len(original)
	if n != len(reconstructed) || n < 2 {
		return 0
	}

	varOrig := stat.Variance(original, nil)
	varRecon := stat.Variance(reconstructed, nil)
	covar := stat.Covariance(original, reconstructed, nil)

	// MI = 0.5 * log(var(X) var(Y) / (var(X) var(Y) - cov(X,Y)^2))
	if varOrig > 0 && varRecon > 0 {
		determinant := varOrig*varRecon - covar*covar
		if determinant > 0 {
			return 0.5 * math.Log(varOrig*varRecon/determinant)
		}
		return math.Inf(1)
	}
	return 0
}

// calculateEntropyDifference computes the entropy difference
func calculateEntropyDifference(original, reconstructed []float64) float64 {
	if len(original) != len(reconstructed) || len(original) == 0 {
		return 0
	}
	return math.Abs(calculateEntropy(original) - calculateEntropy(reconstructed))
}

// calculateEntropy computes the Shannon entropy of data over 256 bins
func calculateEntropy(data []float64) float64 {
	n := len(data)
	if n == 0 {
		return 0
	}

	lo, hi := findMinMax(data)
	if hi <= lo {
		return 0
	}

	const numBins = 256
	dividers := make([]float64, numBins+1)
	binWidth := (hi - lo) / numBins
	for i := range dividers {
		dividers[i] = lo + float64(i)*binWidth
	}
	// stat.Histogram requires the last divider to exceed every value
	dividers[numBins] = math.Nextafter(hi, math.Inf(1))

	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	hist := stat.Histogram(nil, dividers, sorted, nil)

	entropy := 0.0
	for _, count := range hist {
		if count > 0 {
			p := count / float64(n)
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}

// findMinMax returns the minimum and maximum values in a slice
func findMinMax(data []float64) (lo, hi float64) {
	if len(data) == 0 {
		return 0, 0
	}
	lo, hi = data[0], data[0]
	for _, v := range data[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}
