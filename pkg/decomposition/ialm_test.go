package decomposition

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func residual(x, l, s mat.Matrix) float64 {
	var z mat.Dense
	z.Sub(x, l)
	z.Sub(&z, s)
	return mat.Norm(&z, 2) / mat.Norm(x, 2)
}

func TestShrink(t *testing.T) {
	assert.Equal(t, 2.0, shrink(3, 1))
	assert.Equal(t, -2.0, shrink(-3, 1))
	assert.Equal(t, 0.0, shrink(0.5, 1))
	assert.Equal(t, 0.0, shrink(-1, 1))
}

func TestSVTDropsSmallSingularValues(t *testing.T) {
	// diag(5, 2, 0.5) thresholded at 1 keeps two values shrunk by 1
	src := mat.NewDense(3, 3, []float64{5, 0, 0, 0, 2, 0, 0, 0, 0.5})
	dst := mat.NewDense(3, 3, nil)

	rank, err := svtTo(dst, src, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, rank)

	want := mat.NewDense(3, 3, []float64{4, 0, 0, 0, 1, 0, 0, 0, 0})
	assert.True(t, mat.EqualApprox(dst, want, 1e-12))
}

func TestRecoverInvalidParameters(t *testing.T) {
	x := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	base := DefaultOptions(2, 2)

	cases := map[string]func(*Options){
		"lambda":     func(o *Options) { o.Lambda = 0 },
		"negative":   func(o *Options) { o.Lambda = -1 },
		"nan lambda": func(o *Options) { o.Lambda = math.NaN() },
		"tolerance":  func(o *Options) { o.Tolerance = 0 },
		"iterations": func(o *Options) { o.MaxIterations = -5 },
		"rho":        func(o *Options) { o.Rho = 1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			opts := base
			mutate(&opts)
			res, err := Recover(x, opts)
			require.ErrorIs(t, err, ErrInvalidParameter)
			assert.Nil(t, res)
		})
	}
}

func TestRecoverZeroMatrix(t *testing.T) {
	x := mat.NewDense(4, 3, nil)
	res, err := Recover(x, DefaultOptions(4, 3))
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, 0.0, mat.Norm(res.L, 2))
	assert.Equal(t, 0.0, mat.Norm(res.S, 2))
}

func TestRecoverSingleColumn(t *testing.T) {
	x := mat.NewDense(5, 1, []float64{1, 200, 3, 4, 5})
	res, err := Recover(x, DefaultOptions(5, 1))
	require.NoError(t, err)

	assert.True(t, res.Converged)
	assert.True(t, mat.Equal(res.L, x))
	assert.Equal(t, 0.0, mat.Norm(res.S, 2))
	assert.Equal(t, 0, res.Cardinality)
}

func TestRecoverDoesNotModifyInput(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5, 6}
	x := mat.NewDense(3, 2, data)
	before := mat.DenseCopyOf(x)

	_, err := Recover(x, DefaultOptions(3, 2))
	require.NoError(t, err)
	assert.True(t, mat.Equal(before, x))
}

func TestRecoverIdenticalColumns(t *testing.T) {
	const m, n = 30, 5
	x := mat.NewDense(m, n, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			x.Set(i, j, 10+float64(i%7))
		}
	}

	res, err := Recover(x, DefaultOptions(m, n))
	require.NoError(t, err)
	require.True(t, res.Converged)

	assert.Less(t, maxAbs(res.S), 1e-3)
	assert.True(t, mat.EqualApprox(res.L, x, 1e-3))
	assert.Equal(t, 1, res.Rank)
}

func TestRecoverUniformMatrixWithOutlier(t *testing.T) {
	x := mat.NewDense(3, 3, []float64{
		1, 1, 1,
		1, 1, 100,
		1, 1, 1,
	})

	res, err := Recover(x, DefaultOptions(3, 3))
	require.NoError(t, err)
	require.True(t, res.Converged)

	assert.InDelta(t, 99, res.S.At(1, 2), 0.5)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if i == 1 && j == 2 {
				continue
			}
			assert.InDelta(t, 0, res.S.At(i, j), 0.5, "S[%d][%d]", i, j)
			assert.InDelta(t, 1, res.L.At(i, j), 0.5, "L[%d][%d]", i, j)
		}
	}
	assert.LessOrEqual(t, res.Rank, 2)
}

func TestRecoverSparseOutliers(t *testing.T) {
	const m, n = 40, 8
	low := mat.NewDense(m, n, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			low.Set(i, j, (1+0.5*float64(i%5))*(1+0.1*float64(j)))
		}
	}
	outliers := map[[2]int]float64{
		{3, 1}:  20,
		{17, 4}: -15,
		{29, 6}: 25,
		{36, 2}: 18,
	}
	x := mat.DenseCopyOf(low)
	for pos, v := range outliers {
		x.Set(pos[0], pos[1], x.At(pos[0], pos[1])+v)
	}

	res, err := Recover(x, DefaultOptions(m, n))
	require.NoError(t, err)
	require.True(t, res.Converged)

	for pos, v := range outliers {
		assert.InDelta(t, v, res.S.At(pos[0], pos[1]), 2, "outlier at %v", pos)
	}
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			if _, ok := outliers[[2]int{i, j}]; ok {
				continue
			}
			assert.InDelta(t, 0, res.S.At(i, j), 0.5, "S[%d][%d]", i, j)
		}
	}

	var diff mat.Dense
	diff.Sub(res.L, low)
	assert.Less(t, mat.Norm(&diff, 2)/mat.Norm(low, 2), 0.05)
}

func TestRecoverReconstructsWithinTolerance(t *testing.T) {
	const m, n = 25, 6
	x := mat.NewDense(m, n, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			x.Set(i, j, math.Sin(float64(i))*float64(j+1)+math.Cos(float64(i*j)))
		}
	}
	opts := DefaultOptions(m, n)

	res, err := Recover(x, opts)
	require.NoError(t, err)
	require.True(t, res.Converged)
	assert.Less(t, residual(x, res.L, res.S), opts.Tolerance)
	assert.InDelta(t, res.Residual, residual(x, res.L, res.S), 1e-12)
}

func TestRecoverIsDeterministic(t *testing.T) {
	const m, n = 20, 4
	x := mat.NewDense(m, n, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			x.Set(i, j, float64((i*7+j*3)%11))
		}
	}

	a, err := Recover(x, DefaultOptions(m, n))
	require.NoError(t, err)
	b, err := Recover(x, DefaultOptions(m, n))
	require.NoError(t, err)

	assert.Equal(t, a.Iterations, b.Iterations)
	assert.True(t, mat.EqualApprox(a.L, b.L, 1e-12))
	assert.True(t, mat.EqualApprox(a.S, b.S, 1e-12))
}

func TestRecoverIterationCap(t *testing.T) {
	x := mat.NewDense(3, 3, []float64{1, 1, 1, 1, 1, 100, 1, 1, 1})
	opts := DefaultOptions(3, 3)
	opts.MaxIterations = 1

	res, err := Recover(x, opts)
	require.ErrorIs(t, err, ErrNotConverged)
	require.NotNil(t, res)

	var nc *NonConvergenceError
	require.ErrorAs(t, err, &nc)
	assert.Equal(t, 1, nc.Iterations)
	assert.False(t, res.Converged)
	assert.Equal(t, 1, res.Iterations)
	assert.Greater(t, res.Residual, opts.Tolerance)
}

func TestRecoverObserver(t *testing.T) {
	x := mat.NewDense(4, 2, []float64{1, 2, 2, 4, 3, 6, 4, 9})
	var seen []Iteration
	opts := DefaultOptions(4, 2)
	opts.Observer = func(it Iteration) { seen = append(seen, it) }

	res, err := Recover(x, opts)
	require.NoError(t, err)
	require.Len(t, seen, res.Iterations)
	assert.Equal(t, 1, seen[0].Index)
	assert.Equal(t, res.Residual, seen[len(seen)-1].Residual)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i].Mu, seen[i-1].Mu)
	}
}

func TestLambdaHelpers(t *testing.T) {
	assert.InDelta(t, 0.1, DefaultLambda(100, 10), 1e-12)
	assert.InDelta(t, 0.1, DefaultLambda(10, 100), 1e-12)
	assert.InDelta(t, 2*math.Sqrt(0.1), ScaledLambda(2, 100, 10), 1e-12)
}
