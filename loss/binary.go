package loss

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// BinaryCrossEntropy is the loss for one or more independent binary outputs
// produced by a sigmoid activation. Targets share the output's shape.
type BinaryCrossEntropy struct {
	core
}

// NewBinaryCrossEntropy creates a binary cross-entropy loss.
func NewBinaryCrossEntropy() *BinaryCrossEntropy {
	return &BinaryCrossEntropy{}
}

// Name returns the checkpoint registry name.
func (l *BinaryCrossEntropy) Name() string { return "binary_cross_entropy" }

// Calculate computes the per-sample mean of the per-output binary
// cross-entropies.
func (l *BinaryCrossEntropy) Calculate(output, y *mat.Dense, regularize, accumulate bool) (float64, float64) {
	rows, cols := output.Dims()

	sampleLosses := make([]float64, rows)
	for i := 0; i < rows; i++ {
		var sum float64
		for j := 0; j < cols; j++ {
			p := clip(output.At(i, j))
			t := y.At(i, j)
			sum += -(t*math.Log(p) + (1-t)*math.Log(1-p))
		}
		sampleLosses[i] = sum / float64(cols)
	}
	return l.finish(sampleLosses, regularize, accumulate)
}

// Backward records the gradient with respect to the predictions, normalized
// by both output count and batch size.
func (l *BinaryCrossEntropy) Backward(output, y *mat.Dense) {
	rows, cols := output.Dims()

	dx := mat.NewDense(rows, cols, nil)
	scale := 1 / (float64(cols) * float64(rows))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			p := clip(output.At(i, j))
			t := y.At(i, j)
			dx.Set(i, j, -(t/p-(1-t)/(1-p))*scale)
		}
	}
	l.dinputs = dx
}
