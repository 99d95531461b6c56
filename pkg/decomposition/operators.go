package decomposition

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// shrink is the soft-thresholding operator sign(v) * max(|v|-tau, 0).
func shrink(v, tau float64) float64 {
	switch {
	case v > tau:
		return v - tau
	case v < -tau:
		return v + tau
	default:
		return 0
	}
}

// shrinkTo writes the element-wise soft threshold of src into dst.
func shrinkTo(dst, src *mat.Dense, tau float64) {
	d, s := dst.RawMatrix().Data, src.RawMatrix().Data
	for i, v := range s {
		d[i] = shrink(v, tau)
	}
}

// svtTo replaces dst with the singular value thresholding of src at tau and
// returns the number of singular values that survived.
func svtTo(dst, src *mat.Dense, tau float64) (int, error) {
	var svd mat.SVD
	if ok := svd.Factorize(src, mat.SVDThin); !ok {
		return 0, ErrSVDFailed
	}
	values := svd.Values(nil)

	rank := 0
	for _, s := range values {
		if s > tau {
			rank++
		}
	}
	if rank == 0 {
		dst.Zero()
		return 0, nil
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	m, n := src.Dims()
	us := mat.NewDense(m, rank, nil)
	for i := 0; i < m; i++ {
		for k := 0; k < rank; k++ {
			us.Set(i, k, u.At(i, k)*(values[k]-tau))
		}
	}
	dst.Mul(us, v.Slice(0, n, 0, rank).T())
	return rank, nil
}

// spectralNorm returns the largest singular value of a.
func spectralNorm(a mat.Matrix) (float64, error) {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDNone); !ok {
		return 0, ErrSVDFailed
	}
	values := svd.Values(nil)
	if len(values) == 0 {
		return 0, nil
	}
	return values[0], nil
}

// maxAbs returns the largest absolute entry of a.
func maxAbs(a *mat.Dense) float64 {
	return math.Max(math.Abs(mat.Max(a)), math.Abs(mat.Min(a)))
}

// combineTo computes dst = x - other + y*invMu element-wise.
func combineTo(dst, x, other, y *mat.Dense, invMu float64) {
	d := dst.RawMatrix().Data
	xd, od, yd := x.RawMatrix().Data, other.RawMatrix().Data, y.RawMatrix().Data
	for i := range d {
		d[i] = xd[i] - od[i] + yd[i]*invMu
	}
}

// countNonZero returns the number of entries of a that are not exactly zero.
func countNonZero(a *mat.Dense) int {
	n := 0
	for _, v := range a.RawMatrix().Data {
		if v != 0 {
			n++
		}
	}
	return n
}
