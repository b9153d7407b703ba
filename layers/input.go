package layers

import "gonum.org/v1/gonum/mat"

// Input is the sentinel head of the layer chain. Its forward pass records the
// raw batch so the first real layer can source its input the same way every
// other layer does. It has no backward pass and is never part of the layer
// list itself.
type Input struct {
	output *mat.Dense
}

// NewInput creates a fresh input sentinel.
func NewInput() *Input {
	return &Input{}
}

// Forward records the raw batch as the sentinel's output.
func (in *Input) Forward(input *mat.Dense, training bool) {
	in.output = input
}

// Output returns the batch recorded by the last Forward call.
func (in *Input) Output() *mat.Dense {
	return in.output
}
