// Package model implements the training orchestrator: it assembles an
// ordered list of layers into a computation chain, drives forward inference
// and gradient backpropagation through it, and runs the epoch/batch training,
// evaluation, and prediction loops.
package model

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-grad/layers"
	"github.com/tsawler/go-grad/loss"
	"github.com/tsawler/go-grad/metrics"
	"github.com/tsawler/go-grad/optimizer"
)

// ErrNotFinalized is returned when forward, backward, or a loop is invoked
// before Finalize has built the graph.
var ErrNotFinalized = errors.New("model: Finalize must be called before use")

// Model owns the graph topology: the ordered layer list, the input sentinel,
// the trainable subset, the fused-gradient shortcut, and the loss, optimizer,
// and accuracy collaborators. Layers never own each other; each one sources
// its input from its predecessor's recorded output by position.
type Model struct {
	layerList []layers.Layer

	lossFn   loss.Loss
	opt      optimizer.Optimizer
	accuracy metrics.Accuracy

	// derived by Finalize
	input      *layers.Input
	trainable  []layers.Trainable
	activation layers.Predictor
	softmaxOut *layers.Softmax
	fused      *loss.SoftmaxCrossEntropy
	finalized  bool
}

// New creates an empty model.
func New() *Model {
	return &Model{}
}

// Add appends a layer to the network. Layers must be added in forward order
// before Finalize.
func (m *Model) Add(layer layers.Layer) {
	m.layerList = append(m.layerList, layer)
	m.finalized = false
}

// Set assigns the loss, optimizer, and accuracy collaborators. A nil argument
// leaves the corresponding collaborator unchanged.
func (m *Model) Set(l loss.Loss, o optimizer.Optimizer, a metrics.Accuracy) {
	if l != nil {
		m.lossFn = l
	}
	if o != nil {
		m.opt = o
	}
	if a != nil {
		m.accuracy = a
	}
	m.finalized = false
}

// Finalize builds the computation graph: it creates a fresh input sentinel,
// records the terminal activation layer, collects the trainable layers in
// list order, hands them to the loss for regularization, and decides once
// whether the fused softmax/cross-entropy gradient applies. Calling Finalize
// again rebuilds all derived state from scratch.
func (m *Model) Finalize() error {
	if len(m.layerList) == 0 {
		return fmt.Errorf("model: cannot finalize with no layers")
	}
	if m.lossFn == nil {
		return fmt.Errorf("model: a loss is required before finalize")
	}
	if m.opt == nil {
		return fmt.Errorf("model: an optimizer is required before finalize")
	}
	if m.accuracy == nil {
		return fmt.Errorf("model: an accuracy metric is required before finalize")
	}

	// Clear derived state so finalize is safe to repeat.
	m.input = layers.NewInput()
	m.trainable = nil
	m.activation = nil
	m.softmaxOut = nil
	m.fused = nil

	last := m.layerList[len(m.layerList)-1]
	predictor, ok := last.(layers.Predictor)
	if !ok {
		return fmt.Errorf("model: terminal layer %s cannot produce predictions", last.Spec().Type)
	}
	m.activation = predictor

	for _, layer := range m.layerList {
		if t, ok := layer.(layers.Trainable); ok {
			m.trainable = append(m.trainable, t)
		}
	}
	m.lossFn.StoreTrainableLayers(m.trainable)

	// The fused gradient applies only to a softmax output trained with
	// categorical cross-entropy. Decided here, once, never per batch.
	if softmax, ok := last.(*layers.Softmax); ok {
		if _, ok := m.lossFn.(*loss.CategoricalCrossEntropy); ok {
			m.softmaxOut = softmax
			m.fused = loss.NewSoftmaxCrossEntropy()
		}
	}

	m.finalized = true
	return nil
}

// Forward pushes a batch through the chain in layer-list order and returns
// the terminal layer's recorded output. Every layer's output is overwritten.
func (m *Model) Forward(input *mat.Dense, training bool) (*mat.Dense, error) {
	if !m.finalized {
		return nil, ErrNotFinalized
	}

	m.input.Forward(input, training)
	prev := m.input.Output()
	for _, layer := range m.layerList {
		layer.Forward(prev, training)
		prev = layer.Output()
	}
	return prev, nil
}

// Backward propagates gradients from the loss back to every layer. In fused
// mode the combined softmax/cross-entropy gradient is assigned directly to
// the terminal layer and its own Backward is skipped; in decomposed mode the
// loss gradient seeds the terminal layer's Backward. The mode is fixed at
// Finalize time.
func (m *Model) Backward(output, targets *mat.Dense) error {
	if !m.finalized {
		return ErrNotFinalized
	}

	last := len(m.layerList) - 1
	if m.fused != nil {
		m.fused.Backward(output, targets)
		m.softmaxOut.SetDInputs(m.fused.DInputs())
	} else {
		m.lossFn.Backward(output, targets)
		m.layerList[last].Backward(m.lossFn.DInputs())
	}

	for i := last - 1; i >= 0; i-- {
		m.layerList[i].Backward(m.layerList[i+1].DInputs())
	}
	return nil
}

// GetParameters returns a deep-copied parameter snapshot of each trainable
// layer, in layer-list order.
func (m *Model) GetParameters() []layers.Parameters {
	params := make([]layers.Parameters, 0, len(m.trainable))
	for _, t := range m.trainable {
		params = append(params, t.Parameters())
	}
	return params
}

// SetParameters loads parameter snapshots into the trainable layers,
// positionally. The snapshot count must match the trainable layer count.
func (m *Model) SetParameters(params []layers.Parameters) error {
	if len(params) != len(m.trainable) {
		return fmt.Errorf("model: parameter count mismatch: %d snapshots for %d trainable layers",
			len(params), len(m.trainable))
	}
	for i, t := range m.trainable {
		if err := t.SetParameters(params[i]); err != nil {
			return fmt.Errorf("model: trainable layer %d: %v", i, err)
		}
	}
	return nil
}

// Layers returns the ordered layer list.
func (m *Model) Layers() []layers.Layer { return m.layerList }

// TrainableLayers returns the trainable subset built by Finalize, in layer
// order.
func (m *Model) TrainableLayers() []layers.Trainable { return m.trainable }

// Loss returns the loss collaborator.
func (m *Model) Loss() loss.Loss { return m.lossFn }

// Optimizer returns the optimizer collaborator.
func (m *Model) Optimizer() optimizer.Optimizer { return m.opt }

// Accuracy returns the accuracy collaborator.
func (m *Model) Accuracy() metrics.Accuracy { return m.accuracy }

// Finalized reports whether the graph has been built.
func (m *Model) Finalized() bool { return m.finalized }

// FusedGradient reports whether backward runs in fused softmax/cross-entropy
// mode.
func (m *Model) FusedGradient() bool { return m.fused != nil }
