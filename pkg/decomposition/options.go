package decomposition

import "math"

const (
	// DefaultTolerance is the relative residual at which the solver stops.
	DefaultTolerance = 1e-7

	// DefaultMaxIterations caps the number of ALM iterations.
	DefaultMaxIterations = 1000

	// DefaultRho is the growth factor applied to the penalty each iteration.
	DefaultRho = 1.5

	// muGrowthCap bounds the penalty at muGrowthCap times its initial value.
	muGrowthCap = 1e7
)

// Iteration is the convergence state reported to an Observer.
type Iteration struct {
	Index    int
	Residual float64
	Rank     int
	Mu       float64
}

// Options controls a Recover call.
type Options struct {
	// Lambda weights the l1 norm of the sparse component. Must be > 0.
	Lambda float64

	// Tolerance is the stopping threshold on ||X-L-S||_F / ||X||_F.
	Tolerance float64

	// MaxIterations is the iteration cap.
	MaxIterations int

	// Rho is the penalty growth factor, must be > 1.
	Rho float64

	// Observer, when set, is called after every iteration.
	Observer func(Iteration)
}

// DefaultOptions returns the usual parameters for an m x n observation
// matrix, with lambda = 1/sqrt(max(m, n)).
func DefaultOptions(m, n int) Options {
	return Options{
		Lambda:        DefaultLambda(m, n),
		Tolerance:     DefaultTolerance,
		MaxIterations: DefaultMaxIterations,
		Rho:           DefaultRho,
	}
}

// DefaultLambda is the standard Robust PCA weight 1/sqrt(max(m, n)).
func DefaultLambda(m, n int) float64 {
	return 1 / math.Sqrt(float64(max(m, n)))
}

// ScaledLambda maps a configured lamda onto the solver weight the way the
// atlas tooling does: lamda * sqrt(n / m) for m pixels and n images.
func ScaledLambda(lamda float64, m, n int) float64 {
	if m <= 0 {
		return lamda
	}
	return lamda * math.Sqrt(float64(n)/float64(m))
}

func (o Options) validate() error {
	if !(o.Lambda > 0) || math.IsInf(o.Lambda, 0) {
		return invalid("lambda", o.Lambda)
	}
	if !(o.Tolerance > 0) {
		return invalid("tolerance", o.Tolerance)
	}
	if o.MaxIterations <= 0 {
		return invalid("max_iterations", o.MaxIterations)
	}
	if !(o.Rho > 1) {
		return invalid("rho", o.Rho)
	}
	return nil
}
