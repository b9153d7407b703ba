package optimizer

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-grad/layers"
)

// SGDConfig holds configuration for the SGD optimizer.
type SGDConfig struct {
	LearningRate float64
	Decay        float64
	Momentum     float64
}

// DefaultSGDConfig returns the default SGD configuration.
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{LearningRate: 1.0}
}

// SGD is stochastic gradient descent with optional momentum and inverse-time
// learning-rate decay.
type SGD struct {
	schedule
	momentum float64

	velocities map[layers.Trainable]*momentumState
}

type momentumState struct {
	weights *mat.Dense
	biases  *mat.Dense
}

// NewSGD creates an SGD optimizer.
func NewSGD(cfg SGDConfig) (*SGD, error) {
	if err := validateCommon(cfg.LearningRate, cfg.Decay); err != nil {
		return nil, err
	}
	if cfg.Momentum < 0 || cfg.Momentum >= 1 {
		return nil, fmt.Errorf("momentum must be in [0, 1): %f", cfg.Momentum)
	}
	return &SGD{
		schedule:   newSchedule(cfg.LearningRate, cfg.Decay),
		momentum:   cfg.Momentum,
		velocities: make(map[layers.Trainable]*momentumState),
	}, nil
}

// Update applies one SGD step to the layer's weights and biases.
func (o *SGD) Update(layer layers.Trainable) error {
	dw, db := layer.WeightGradients(), layer.BiasGradients()
	if dw == nil || db == nil {
		return fmt.Errorf("sgd update: layer has no recorded gradients")
	}

	if o.momentum > 0 {
		state, ok := o.velocities[layer]
		if !ok {
			state = &momentumState{
				weights: zerosLike(layer.Weights()),
				biases:  zerosLike(layer.Biases()),
			}
			o.velocities[layer] = state
		}
		applyMomentum(layer.Weights(), dw, state.weights, o.momentum, o.currentLR)
		applyMomentum(layer.Biases(), db, state.biases, o.momentum, o.currentLR)
		return nil
	}

	applyVanilla(layer.Weights(), dw, o.currentLR)
	applyVanilla(layer.Biases(), db, o.currentLR)
	return nil
}

// Config returns the serializable configuration of the optimizer.
func (o *SGD) Config() Config {
	return Config{
		Type: "sgd",
		Parameters: map[string]float64{
			"learning_rate": o.learningRate,
			"decay":         o.decay,
			"momentum":      o.momentum,
		},
		Iterations: o.iterations,
	}
}

// applyVanilla performs param -= lr * grad in place.
func applyVanilla(param, grad *mat.Dense, lr float64) {
	rows, cols := param.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			param.Set(i, j, param.At(i, j)-lr*grad.At(i, j))
		}
	}
}

// applyMomentum performs v = momentum*v - lr*grad; param += v in place.
func applyMomentum(param, grad, velocity *mat.Dense, momentum, lr float64) {
	rows, cols := param.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := momentum*velocity.At(i, j) - lr*grad.At(i, j)
			velocity.Set(i, j, v)
			param.Set(i, j, param.At(i, j)+v)
		}
	}
}
