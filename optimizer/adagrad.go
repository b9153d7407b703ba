package optimizer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-grad/layers"
)

// AdaGradConfig holds configuration for the AdaGrad optimizer.
type AdaGradConfig struct {
	LearningRate float64
	Decay        float64
	Epsilon      float64
}

// DefaultAdaGradConfig returns the default AdaGrad configuration.
func DefaultAdaGradConfig() AdaGradConfig {
	return AdaGradConfig{LearningRate: 1.0, Epsilon: 1e-7}
}

// AdaGrad scales each parameter's step by the inverse square root of its
// accumulated squared gradients.
type AdaGrad struct {
	schedule
	epsilon float64

	caches map[layers.Trainable]*cacheState
}

type cacheState struct {
	weights *mat.Dense
	biases  *mat.Dense
}

// NewAdaGrad creates an AdaGrad optimizer.
func NewAdaGrad(cfg AdaGradConfig) (*AdaGrad, error) {
	if err := validateCommon(cfg.LearningRate, cfg.Decay); err != nil {
		return nil, err
	}
	if cfg.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %g", cfg.Epsilon)
	}
	return &AdaGrad{
		schedule: newSchedule(cfg.LearningRate, cfg.Decay),
		epsilon:  cfg.Epsilon,
		caches:   make(map[layers.Trainable]*cacheState),
	}, nil
}

// Update applies one AdaGrad step to the layer's weights and biases.
func (o *AdaGrad) Update(layer layers.Trainable) error {
	dw, db := layer.WeightGradients(), layer.BiasGradients()
	if dw == nil || db == nil {
		return fmt.Errorf("adagrad update: layer has no recorded gradients")
	}

	state, ok := o.caches[layer]
	if !ok {
		state = &cacheState{
			weights: zerosLike(layer.Weights()),
			biases:  zerosLike(layer.Biases()),
		}
		o.caches[layer] = state
	}

	o.apply(layer.Weights(), dw, state.weights)
	o.apply(layer.Biases(), db, state.biases)
	return nil
}

func (o *AdaGrad) apply(param, grad, cache *mat.Dense) {
	rows, cols := param.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			g := grad.At(i, j)
			c := cache.At(i, j) + g*g
			cache.Set(i, j, c)
			param.Set(i, j, param.At(i, j)-o.currentLR*g/(math.Sqrt(c)+o.epsilon))
		}
	}
}

// Config returns the serializable configuration of the optimizer.
func (o *AdaGrad) Config() Config {
	return Config{
		Type: "adagrad",
		Parameters: map[string]float64{
			"learning_rate": o.learningRate,
			"decay":         o.decay,
			"epsilon":       o.epsilon,
		},
		Iterations: o.iterations,
	}
}
