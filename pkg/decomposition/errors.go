package decomposition

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameter is returned when lambda, tolerance, the iteration
	// cap or the penalty growth factor is out of range.
	ErrInvalidParameter = errors.New("decomposition: invalid parameter")

	// ErrNotConverged is matched by NonConvergenceError.
	ErrNotConverged = errors.New("decomposition: iteration cap reached before tolerance")

	// ErrSVDFailed signals that the singular value decomposition did not
	// converge. The solver does not retry.
	ErrSVDFailed = errors.New("decomposition: SVD failed")
)

// NonConvergenceError is returned together with a best-effort Result when
// the iteration cap is hit. Callers decide whether to keep the result.
type NonConvergenceError struct {
	Iterations int
	Residual   float64
	Tolerance  float64
}

func (e *NonConvergenceError) Error() string {
	return fmt.Sprintf("decomposition: not converged after %d iterations (residual %.3g, tolerance %.3g)",
		e.Iterations, e.Residual, e.Tolerance)
}

// Is lets errors.Is match ErrNotConverged.
func (e *NonConvergenceError) Is(target error) bool {
	return target == ErrNotConverged
}

func invalid(field string, value any) error {
	return fmt.Errorf("%w: %s = %v", ErrInvalidParameter, field, value)
}
