package layers

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Dense is a fully connected layer computing output = input*W + b.
// Weights are stored inputs-by-outputs so a batch flows through as
// (samples x inputs) * (inputs x outputs).
type Dense struct {
	inputSize  int
	outputSize int

	weights *mat.Dense // inputs x outputs
	biases  *mat.Dense // 1 x outputs
	reg     Regularizer

	// batch-scoped caches
	inputs   *mat.Dense
	output   *mat.Dense
	dinputs  *mat.Dense
	dweights *mat.Dense
	dbiases  *mat.Dense
}

// weightScale is the standard deviation multiplier for initial weights.
const weightScale = 0.01

// NewDense creates a fully connected layer with small Gaussian-initialized
// weights and zero biases.
func NewDense(inputs, outputs int) *Dense {
	return NewDenseRegularized(inputs, outputs, Regularizer{})
}

// NewDenseRegularized creates a fully connected layer carrying L1/L2 penalty
// coefficients consumed by the loss and by the layer's own backward pass.
func NewDenseRegularized(inputs, outputs int, reg Regularizer) *Dense {
	w := mat.NewDense(inputs, outputs, nil)
	for i := 0; i < inputs; i++ {
		for j := 0; j < outputs; j++ {
			w.Set(i, j, weightScale*rand.NormFloat64())
		}
	}
	return &Dense{
		inputSize:  inputs,
		outputSize: outputs,
		weights:    w,
		biases:     mat.NewDense(1, outputs, nil),
		reg:        reg,
	}
}

// Forward computes input*W + b and records both the input and the output.
func (d *Dense) Forward(input *mat.Dense, training bool) {
	rows, _ := input.Dims()
	out := mat.NewDense(rows, d.outputSize, nil)
	out.Mul(input, d.weights)
	for i := 0; i < rows; i++ {
		for j := 0; j < d.outputSize; j++ {
			out.Set(i, j, out.At(i, j)+d.biases.At(0, j))
		}
	}
	d.inputs = input
	d.output = out
}

// Backward computes parameter gradients and the gradient with respect to the
// layer input. Regularization penalty gradients are folded into dweights and
// dbiases here so the optimizer sees a single gradient per parameter.
func (d *Dense) Backward(dvalues *mat.Dense) {
	dw := mat.NewDense(d.inputSize, d.outputSize, nil)
	dw.Mul(d.inputs.T(), dvalues)

	db := colSums(dvalues)

	if d.reg.WeightL1 > 0 {
		dw.Apply(func(i, j int, v float64) float64 {
			return v + d.reg.WeightL1*sign(d.weights.At(i, j))
		}, dw)
	}
	if d.reg.WeightL2 > 0 {
		dw.Apply(func(i, j int, v float64) float64 {
			return v + 2*d.reg.WeightL2*d.weights.At(i, j)
		}, dw)
	}
	if d.reg.BiasL1 > 0 {
		db.Apply(func(i, j int, v float64) float64 {
			return v + d.reg.BiasL1*sign(d.biases.At(i, j))
		}, db)
	}
	if d.reg.BiasL2 > 0 {
		db.Apply(func(i, j int, v float64) float64 {
			return v + 2*d.reg.BiasL2*d.biases.At(i, j)
		}, db)
	}

	rows, _ := dvalues.Dims()
	dx := mat.NewDense(rows, d.inputSize, nil)
	dx.Mul(dvalues, d.weights.T())

	d.dweights = dw
	d.dbiases = db
	d.dinputs = dx
}

func (d *Dense) Output() *mat.Dense  { return d.output }
func (d *Dense) DInputs() *mat.Dense { return d.dinputs }

func (d *Dense) Weights() *mat.Dense         { return d.weights }
func (d *Dense) Biases() *mat.Dense          { return d.biases }
func (d *Dense) WeightGradients() *mat.Dense { return d.dweights }
func (d *Dense) BiasGradients() *mat.Dense   { return d.dbiases }

// Regularizer returns the layer's penalty coefficients.
func (d *Dense) Regularizer() Regularizer { return d.reg }

// Parameters returns a deep copy of the current weights and biases.
func (d *Dense) Parameters() Parameters {
	return Parameters{Weights: d.weights, Biases: d.biases}.Clone()
}

// SetParameters replaces the layer parameters with a copy of p.
func (d *Dense) SetParameters(p Parameters) error {
	if p.Weights == nil || p.Biases == nil {
		return fmt.Errorf("dense parameters: weights and biases are required")
	}
	if err := checkShape("weights", p.Weights, d.inputSize, d.outputSize); err != nil {
		return err
	}
	if err := checkShape("biases", p.Biases, 1, d.outputSize); err != nil {
		return err
	}
	d.weights = mat.DenseCopyOf(p.Weights)
	d.biases = mat.DenseCopyOf(p.Biases)
	return nil
}

// Spec returns the serializable configuration of the layer.
func (d *Dense) Spec() LayerSpec {
	params := map[string]float64{
		"inputs":  float64(d.inputSize),
		"outputs": float64(d.outputSize),
	}
	if !d.reg.zero() {
		params["weight_l1"] = d.reg.WeightL1
		params["weight_l2"] = d.reg.WeightL2
		params["bias_l1"] = d.reg.BiasL1
		params["bias_l2"] = d.reg.BiasL2
	}
	return LayerSpec{Type: DenseLayer, Parameters: params}
}

func sign(v float64) float64 {
	if v == 0 {
		return 0
	}
	return math.Copysign(1, v)
}
