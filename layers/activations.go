package layers

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// ReLU is the rectified linear activation.
type ReLU struct {
	inputs  *mat.Dense
	output  *mat.Dense
	dinputs *mat.Dense
}

// NewReLU creates a ReLU activation layer.
func NewReLU() *ReLU {
	return &ReLU{}
}

func (r *ReLU) Forward(input *mat.Dense, training bool) {
	rows, cols := input.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Apply(func(i, j int, v float64) float64 {
		return math.Max(0, v)
	}, input)
	r.inputs = input
	r.output = out
}

func (r *ReLU) Backward(dvalues *mat.Dense) {
	rows, cols := dvalues.Dims()
	dx := mat.NewDense(rows, cols, nil)
	dx.Apply(func(i, j int, v float64) float64 {
		if r.inputs.At(i, j) <= 0 {
			return 0
		}
		return v
	}, dvalues)
	r.dinputs = dx
}

func (r *ReLU) Output() *mat.Dense  { return r.output }
func (r *ReLU) DInputs() *mat.Dense { return r.dinputs }

// Predict returns the raw output; ReLU is rarely terminal but satisfies
// Predictor for completeness.
func (r *ReLU) Predict(output *mat.Dense) *mat.Dense { return output }

func (r *ReLU) Spec() LayerSpec { return LayerSpec{Type: ReLULayer} }

// Sigmoid is the logistic activation, used for binary classification outputs.
type Sigmoid struct {
	output  *mat.Dense
	dinputs *mat.Dense
}

// NewSigmoid creates a sigmoid activation layer.
func NewSigmoid() *Sigmoid {
	return &Sigmoid{}
}

func (s *Sigmoid) Forward(input *mat.Dense, training bool) {
	rows, cols := input.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Apply(func(i, j int, v float64) float64 {
		return 1 / (1 + math.Exp(-v))
	}, input)
	s.output = out
}

func (s *Sigmoid) Backward(dvalues *mat.Dense) {
	rows, cols := dvalues.Dims()
	dx := mat.NewDense(rows, cols, nil)
	dx.Apply(func(i, j int, v float64) float64 {
		o := s.output.At(i, j)
		return v * o * (1 - o)
	}, dvalues)
	s.dinputs = dx
}

func (s *Sigmoid) Output() *mat.Dense  { return s.output }
func (s *Sigmoid) DInputs() *mat.Dense { return s.dinputs }

// Predict thresholds the sigmoid output at 0.5.
func (s *Sigmoid) Predict(output *mat.Dense) *mat.Dense {
	rows, cols := output.Dims()
	pred := mat.NewDense(rows, cols, nil)
	pred.Apply(func(i, j int, v float64) float64 {
		if v > 0.5 {
			return 1
		}
		return 0
	}, output)
	return pred
}

func (s *Sigmoid) Spec() LayerSpec { return LayerSpec{Type: SigmoidLayer} }

// Linear is the identity activation, used for regression outputs.
type Linear struct {
	output  *mat.Dense
	dinputs *mat.Dense
}

// NewLinear creates a linear (identity) activation layer.
func NewLinear() *Linear {
	return &Linear{}
}

func (l *Linear) Forward(input *mat.Dense, training bool) {
	l.output = mat.DenseCopyOf(input)
}

func (l *Linear) Backward(dvalues *mat.Dense) {
	l.dinputs = mat.DenseCopyOf(dvalues)
}

func (l *Linear) Output() *mat.Dense  { return l.output }
func (l *Linear) DInputs() *mat.Dense { return l.dinputs }

// Predict returns the output unchanged.
func (l *Linear) Predict(output *mat.Dense) *mat.Dense { return output }

func (l *Linear) Spec() LayerSpec { return LayerSpec{Type: LinearLayer} }
