package errors

import (
	"fmt"
	"math"
)

// CheckFinite returns a ValueError when any value is NaN or Inf.
// The message names the first offending position so that a missing feature
// row can be traced back to its entity.
func CheckFinite(operation string, values []float64) error {
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return NewValueError(operation, fmt.Sprintf("input contains NaN or Inf at index %d (%v)", i, v))
		}
	}
	return nil
}

// CheckMatrix checks all values in a matrix and reports the first non-finite cell.
func CheckMatrix(operation string, matrix interface{ At(int, int) float64 }, rows, cols int) error {
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := matrix.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return NewValueError(operation, fmt.Sprintf("input contains NaN or Inf at row %d, column %d (%v)", i, j, v))
			}
		}
	}
	return nil
}
