package layers

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Dropout randomly zeroes a fraction of its inputs during training and
// rescales the survivors so the expected activation magnitude is unchanged
// (inverted dropout). During inference it is a pass-through.
type Dropout struct {
	rate float64 // fraction of units dropped

	mask    *mat.Dense
	output  *mat.Dense
	dinputs *mat.Dense
}

// NewDropout creates a dropout layer. rate is the fraction of units to drop,
// in [0, 1).
func NewDropout(rate float64) *Dropout {
	return &Dropout{rate: rate}
}

// Rate returns the configured drop fraction.
func (dr *Dropout) Rate() float64 { return dr.rate }

// Forward applies a fresh scaled binary mask in training mode and passes the
// input through unchanged otherwise.
func (dr *Dropout) Forward(input *mat.Dense, training bool) {
	if !training || dr.rate == 0 {
		dr.mask = nil
		dr.output = mat.DenseCopyOf(input)
		return
	}

	keep := 1 - dr.rate
	rows, cols := input.Dims()
	mask := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if rand.Float64() < keep {
				mask.Set(i, j, 1/keep)
			}
		}
	}

	out := mat.NewDense(rows, cols, nil)
	out.MulElem(input, mask)
	dr.mask = mask
	dr.output = out
}

// Backward routes gradients through the mask recorded by the last training
// forward pass.
func (dr *Dropout) Backward(dvalues *mat.Dense) {
	if dr.mask == nil {
		dr.dinputs = mat.DenseCopyOf(dvalues)
		return
	}
	rows, cols := dvalues.Dims()
	dx := mat.NewDense(rows, cols, nil)
	dx.MulElem(dvalues, dr.mask)
	dr.dinputs = dx
}

func (dr *Dropout) Output() *mat.Dense  { return dr.output }
func (dr *Dropout) DInputs() *mat.Dense { return dr.dinputs }

// Spec returns the serializable configuration of the layer.
func (dr *Dropout) Spec() LayerSpec {
	return LayerSpec{Type: DropoutLayer, Parameters: map[string]float64{"rate": dr.rate}}
}
