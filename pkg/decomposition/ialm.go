// Package decomposition splits an observation matrix X into a low-rank part L
// and a sparse part S by solving
//
//	min ||L||_* + lambda ||S||_1  subject to  X = L + S
//
// with the inexact Augmented Lagrangian Multiplier method (IALM) of
// Lin, Chen and Ma, "The Augmented Lagrange Multiplier Method for Exact
// Recovery of Corrupted Low-Rank Matrices" (2010).
//
// The solver is synchronous and holds no state between calls: every Recover
// owns its L, S and multiplier buffers.
package decomposition

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Result is the output of Recover.
type Result struct {
	// L is the low-rank component.
	L *mat.Dense

	// S is the sparse component.
	S *mat.Dense

	// Iterations is the number of ALM iterations performed.
	Iterations int

	// Residual is ||X-L-S||_F / ||X||_F after the last iteration.
	Residual float64

	// Rank is the number of singular values kept by the last thresholding.
	Rank int

	// Cardinality is the number of non-zero entries of S.
	Cardinality int

	// Mu is the final penalty parameter.
	Mu float64

	// Converged reports whether Residual fell below the tolerance.
	Converged bool
}

// Sparsity returns the fraction of non-zero entries in S.
func (r *Result) Sparsity() float64 {
	m, n := r.S.Dims()
	if m*n == 0 {
		return 0
	}
	return float64(r.Cardinality) / float64(m*n)
}

// Recover decomposes x into low-rank and sparse components.
//
// When the iteration cap is reached first, Recover returns the current
// estimate together with a *NonConvergenceError; the result is best effort.
// Any other error leaves the result nil.
func Recover(x mat.Matrix, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	d := mat.DenseCopyOf(x)
	m, n := d.Dims()

	normFro := mat.Norm(d, 2)
	if normFro == 0 {
		return &Result{
			L:         mat.NewDense(m, n, nil),
			S:         mat.NewDense(m, n, nil),
			Converged: true,
		}, nil
	}

	// A single observation has no shared structure to separate.
	if n == 1 {
		return &Result{
			L:         d,
			S:         mat.NewDense(m, n, nil),
			Rank:      1,
			Converged: true,
		}, nil
	}

	normTwo, err := spectralNorm(d)
	if err != nil {
		return nil, err
	}
	dualNorm := math.Max(normTwo, maxAbs(d)/opts.Lambda)

	y := mat.NewDense(m, n, nil)
	y.Scale(1/dualNorm, d)

	mu := 1.25 / normTwo
	muMax := mu * muGrowthCap

	l := mat.NewDense(m, n, nil)
	s := mat.NewDense(m, n, nil)
	work := mat.NewDense(m, n, nil)
	z := mat.NewDense(m, n, nil)

	res := &Result{L: l, S: s}
	for iter := 1; iter <= opts.MaxIterations; iter++ {
		invMu := 1 / mu

		combineTo(work, d, l, y, invMu)
		shrinkTo(s, work, opts.Lambda*invMu)

		combineTo(work, d, s, y, invMu)
		rank, err := svtTo(l, work, invMu)
		if err != nil {
			return nil, err
		}

		z.Sub(d, l)
		z.Sub(z, s)
		y.Apply(func(i, j int, v float64) float64 {
			return v + mu*z.At(i, j)
		}, y)

		res.Iterations = iter
		res.Rank = rank
		res.Residual = mat.Norm(z, 2) / normFro
		res.Mu = mu

		mu = math.Min(mu*opts.Rho, muMax)

		if opts.Observer != nil {
			opts.Observer(Iteration{Index: iter, Residual: res.Residual, Rank: rank, Mu: res.Mu})
		}
		if res.Residual < opts.Tolerance {
			res.Converged = true
			break
		}
	}

	res.Cardinality = countNonZero(s)
	if !res.Converged {
		return res, &NonConvergenceError{
			Iterations: res.Iterations,
			Residual:   res.Residual,
			Tolerance:  opts.Tolerance,
		}
	}
	return res, nil
}
