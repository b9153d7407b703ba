package loss

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// CategoricalCrossEntropy is the loss for multi-class classification over
// softmax outputs. Targets may be sparse class indices (a single column) or
// one-hot rows.
type CategoricalCrossEntropy struct {
	core
}

// NewCategoricalCrossEntropy creates a categorical cross-entropy loss.
func NewCategoricalCrossEntropy() *CategoricalCrossEntropy {
	return &CategoricalCrossEntropy{}
}

// Name returns the checkpoint registry name.
func (l *CategoricalCrossEntropy) Name() string { return "categorical_cross_entropy" }

// Calculate computes -log of the confidence assigned to each sample's true
// class.
func (l *CategoricalCrossEntropy) Calculate(output, y *mat.Dense, regularize, accumulate bool) (float64, float64) {
	rows, cols := output.Dims()
	_, yCols := y.Dims()

	sampleLosses := make([]float64, rows)
	for i := 0; i < rows; i++ {
		var confidence float64
		if yCols == 1 {
			confidence = output.At(i, int(y.At(i, 0)))
		} else {
			for j := 0; j < cols; j++ {
				confidence += output.At(i, j) * y.At(i, j)
			}
		}
		sampleLosses[i] = -math.Log(clip(confidence))
	}
	return l.finish(sampleLosses, regularize, accumulate)
}

// Backward records dL/doutput = -y_true/output, normalized by batch size.
func (l *CategoricalCrossEntropy) Backward(output, y *mat.Dense) {
	rows, cols := output.Dims()
	_, yCols := y.Dims()

	dx := mat.NewDense(rows, cols, nil)
	n := float64(rows)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			var truth float64
			if yCols == 1 {
				if int(y.At(i, 0)) == j {
					truth = 1
				}
			} else {
				truth = y.At(i, j)
			}
			if truth != 0 {
				dx.Set(i, j, -truth/output.At(i, j)/n)
			}
		}
	}
	l.dinputs = dx
}

// SoftmaxCrossEntropy is the fused gradient of softmax activation followed by
// categorical cross-entropy loss. Its Backward computes the gradient with
// respect to the softmax pre-activations directly, which is both cheaper and
// numerically better conditioned than composing the two separate backward
// passes. It carries no loss state of its own.
type SoftmaxCrossEntropy struct {
	dinputs *mat.Dense
}

// NewSoftmaxCrossEntropy creates the fused softmax/cross-entropy gradient.
func NewSoftmaxCrossEntropy() *SoftmaxCrossEntropy {
	return &SoftmaxCrossEntropy{}
}

// Backward records (softmax_output - y_onehot) / batch_size, the combined
// gradient with respect to the final layer's pre-activation inputs.
func (sc *SoftmaxCrossEntropy) Backward(output, y *mat.Dense) {
	rows, cols := output.Dims()
	_, yCols := y.Dims()

	dx := mat.DenseCopyOf(output)
	n := float64(rows)
	for i := 0; i < rows; i++ {
		truth := 0
		if yCols == 1 {
			truth = int(y.At(i, 0))
		} else {
			bestVal := y.At(i, 0)
			for j := 1; j < cols; j++ {
				if v := y.At(i, j); v > bestVal {
					bestVal = v
					truth = j
				}
			}
		}
		dx.Set(i, truth, dx.At(i, truth)-1)
	}
	dx.Scale(1/n, dx)
	sc.dinputs = dx
}

// DInputs returns the gradient recorded by the last Backward call.
func (sc *SoftmaxCrossEntropy) DInputs() *mat.Dense {
	return sc.dinputs
}

// Discard drops the recorded gradient, releasing the batch-scoped cache.
func (sc *SoftmaxCrossEntropy) Discard() {
	sc.dinputs = nil
}
