package layers

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Layer is the contract every network layer fulfils. Forward records the
// layer's output for the current batch; Backward records the gradient with
// respect to the layer's input. Both recorded values are batch-scoped caches
// that are overwritten on the next call.
type Layer interface {
	// Forward computes the layer output for a batch of inputs.
	// The training flag switches behavior for layers such as Dropout.
	Forward(input *mat.Dense, training bool)

	// Backward computes the gradient with respect to the layer input,
	// given the gradient flowing back from the following layer.
	Backward(dvalues *mat.Dense)

	// Output returns the output recorded by the last Forward call.
	Output() *mat.Dense

	// DInputs returns the input gradient recorded by the last Backward call.
	DInputs() *mat.Dense

	// Spec returns the serializable configuration of this layer.
	Spec() LayerSpec
}

// Predictor converts raw layer output into predictions suitable for an
// accuracy metric (argmax class indices for Softmax, thresholded values for
// Sigmoid, the output itself for Linear). The terminal layer of a model must
// implement Predictor.
type Predictor interface {
	Predict(output *mat.Dense) *mat.Dense
}

// Trainable is implemented by layers that hold parameters updated by an
// optimizer. Weights and Biases return the live parameter matrices;
// WeightGradients and BiasGradients return the gradients recorded by the
// last Backward call.
type Trainable interface {
	Layer

	Weights() *mat.Dense
	Biases() *mat.Dense
	WeightGradients() *mat.Dense
	BiasGradients() *mat.Dense

	// Parameters returns a deep copy of the layer parameters.
	Parameters() Parameters

	// SetParameters replaces the layer parameters with a copy of p.
	SetParameters(p Parameters) error

	// Regularizer returns the L1/L2 penalty coefficients of this layer.
	Regularizer() Regularizer
}

// Parameters is a snapshot of a trainable layer's parameter values.
type Parameters struct {
	Weights *mat.Dense
	Biases  *mat.Dense
}

// Clone returns a deep copy of the snapshot.
func (p Parameters) Clone() Parameters {
	out := Parameters{}
	if p.Weights != nil {
		out.Weights = mat.DenseCopyOf(p.Weights)
	}
	if p.Biases != nil {
		out.Biases = mat.DenseCopyOf(p.Biases)
	}
	return out
}

// Regularizer holds L1 and L2 penalty coefficients applied to a trainable
// layer's weights and biases. Zero values disable the corresponding term.
type Regularizer struct {
	WeightL1 float64 `json:"weight_l1,omitempty"`
	WeightL2 float64 `json:"weight_l2,omitempty"`
	BiasL1   float64 `json:"bias_l1,omitempty"`
	BiasL2   float64 `json:"bias_l2,omitempty"`
}

// zero reports whether no penalty term is configured.
func (r Regularizer) zero() bool {
	return r.WeightL1 == 0 && r.WeightL2 == 0 && r.BiasL1 == 0 && r.BiasL2 == 0
}

// colSums returns the per-column sums of m as a 1xC matrix.
func colSums(m *mat.Dense) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(1, cols, nil)
	for j := 0; j < cols; j++ {
		var sum float64
		for i := 0; i < rows; i++ {
			sum += m.At(i, j)
		}
		out.Set(0, j, sum)
	}
	return out
}

// checkShape verifies that got matches the expected dimensions.
func checkShape(name string, got *mat.Dense, rows, cols int) error {
	r, c := got.Dims()
	if r != rows || c != cols {
		return fmt.Errorf("%s shape mismatch: expected %dx%d, got %dx%d", name, rows, cols, r, c)
	}
	return nil
}
