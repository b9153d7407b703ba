package layers

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Softmax normalizes each row of its input into a probability distribution.
// When it terminates a model trained with categorical cross-entropy, the
// model substitutes the fused softmax/cross-entropy gradient and assigns it
// via SetDInputs instead of calling Backward.
type Softmax struct {
	output  *mat.Dense
	dinputs *mat.Dense
}

// NewSoftmax creates a softmax activation layer.
func NewSoftmax() *Softmax {
	return &Softmax{}
}

// Forward computes a numerically stable row-wise softmax.
func (s *Softmax) Forward(input *mat.Dense, training bool) {
	rows, cols := input.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		maxVal := input.At(i, 0)
		for j := 1; j < cols; j++ {
			if v := input.At(i, j); v > maxVal {
				maxVal = v
			}
		}
		var sum float64
		for j := 0; j < cols; j++ {
			e := math.Exp(input.At(i, j) - maxVal)
			out.Set(i, j, e)
			sum += e
		}
		for j := 0; j < cols; j++ {
			out.Set(i, j, out.At(i, j)/sum)
		}
	}
	s.output = out
}

// Backward computes the input gradient through the per-row softmax Jacobian:
// dx_i = (diag(s) - s s^T) dy_i for each sample row.
func (s *Softmax) Backward(dvalues *mat.Dense) {
	rows, cols := dvalues.Dims()
	dx := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		var dot float64
		for j := 0; j < cols; j++ {
			dot += s.output.At(i, j) * dvalues.At(i, j)
		}
		for j := 0; j < cols; j++ {
			sj := s.output.At(i, j)
			dx.Set(i, j, sj*(dvalues.At(i, j)-dot))
		}
	}
	s.dinputs = dx
}

// SetDInputs records an externally computed input gradient. Used by the fused
// softmax/cross-entropy shortcut, which bypasses this layer's own Backward.
func (s *Softmax) SetDInputs(dinputs *mat.Dense) {
	s.dinputs = dinputs
}

func (s *Softmax) Output() *mat.Dense  { return s.output }
func (s *Softmax) DInputs() *mat.Dense { return s.dinputs }

// Predict returns the argmax class index of each row as an Nx1 matrix.
func (s *Softmax) Predict(output *mat.Dense) *mat.Dense {
	rows, cols := output.Dims()
	pred := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		best := 0
		bestVal := output.At(i, 0)
		for j := 1; j < cols; j++ {
			if v := output.At(i, j); v > bestVal {
				bestVal = v
				best = j
			}
		}
		pred.Set(i, 0, float64(best))
	}
	return pred
}

func (s *Softmax) Spec() LayerSpec { return LayerSpec{Type: SoftmaxLayer} }
