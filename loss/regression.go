package loss

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// MeanSquaredError is the L2 regression loss.
type MeanSquaredError struct {
	core
}

// NewMeanSquaredError creates a mean squared error loss.
func NewMeanSquaredError() *MeanSquaredError {
	return &MeanSquaredError{}
}

// Name returns the checkpoint registry name.
func (l *MeanSquaredError) Name() string { return "mean_squared_error" }

// Calculate computes the per-sample mean of squared errors over the outputs.
func (l *MeanSquaredError) Calculate(output, y *mat.Dense, regularize, accumulate bool) (float64, float64) {
	rows, cols := output.Dims()

	sampleLosses := make([]float64, rows)
	for i := 0; i < rows; i++ {
		var sum float64
		for j := 0; j < cols; j++ {
			d := y.At(i, j) - output.At(i, j)
			sum += d * d
		}
		sampleLosses[i] = sum / float64(cols)
	}
	return l.finish(sampleLosses, regularize, accumulate)
}

// Backward records -2(y - output), normalized by output count and batch size.
func (l *MeanSquaredError) Backward(output, y *mat.Dense) {
	rows, cols := output.Dims()

	dx := mat.NewDense(rows, cols, nil)
	scale := 2 / (float64(cols) * float64(rows))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dx.Set(i, j, -(y.At(i, j)-output.At(i, j))*scale)
		}
	}
	l.dinputs = dx
}

// MeanAbsoluteError is the L1 regression loss.
type MeanAbsoluteError struct {
	core
}

// NewMeanAbsoluteError creates a mean absolute error loss.
func NewMeanAbsoluteError() *MeanAbsoluteError {
	return &MeanAbsoluteError{}
}

// Name returns the checkpoint registry name.
func (l *MeanAbsoluteError) Name() string { return "mean_absolute_error" }

// Calculate computes the per-sample mean of absolute errors over the outputs.
func (l *MeanAbsoluteError) Calculate(output, y *mat.Dense, regularize, accumulate bool) (float64, float64) {
	rows, cols := output.Dims()

	sampleLosses := make([]float64, rows)
	for i := 0; i < rows; i++ {
		var sum float64
		for j := 0; j < cols; j++ {
			sum += math.Abs(y.At(i, j) - output.At(i, j))
		}
		sampleLosses[i] = sum / float64(cols)
	}
	return l.finish(sampleLosses, regularize, accumulate)
}

// Backward records -sign(y - output), normalized by output count and batch
// size.
func (l *MeanAbsoluteError) Backward(output, y *mat.Dense) {
	rows, cols := output.Dims()

	dx := mat.NewDense(rows, cols, nil)
	scale := 1 / (float64(cols) * float64(rows))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			d := y.At(i, j) - output.At(i, j)
			switch {
			case d > 0:
				dx.Set(i, j, -scale)
			case d < 0:
				dx.Set(i, j, scale)
			}
		}
	}
	l.dinputs = dx
}
