package optimizer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-grad/layers"
)

// RMSPropConfig holds configuration for the RMSProp optimizer.
type RMSPropConfig struct {
	LearningRate float64
	Decay        float64
	Epsilon      float64
	Rho          float64
}

// DefaultRMSPropConfig returns the default RMSProp configuration.
func DefaultRMSPropConfig() RMSPropConfig {
	return RMSPropConfig{LearningRate: 0.001, Epsilon: 1e-7, Rho: 0.9}
}

// RMSProp keeps an exponentially decaying average of squared gradients and
// scales each parameter's step by its inverse square root.
type RMSProp struct {
	schedule
	epsilon float64
	rho     float64

	caches map[layers.Trainable]*cacheState
}

// NewRMSProp creates an RMSProp optimizer.
func NewRMSProp(cfg RMSPropConfig) (*RMSProp, error) {
	if err := validateCommon(cfg.LearningRate, cfg.Decay); err != nil {
		return nil, err
	}
	if cfg.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %g", cfg.Epsilon)
	}
	if cfg.Rho <= 0 || cfg.Rho >= 1 {
		return nil, fmt.Errorf("rho must be in (0, 1): %f", cfg.Rho)
	}
	return &RMSProp{
		schedule: newSchedule(cfg.LearningRate, cfg.Decay),
		epsilon:  cfg.Epsilon,
		rho:      cfg.Rho,
		caches:   make(map[layers.Trainable]*cacheState),
	}, nil
}

// Update applies one RMSProp step to the layer's weights and biases.
func (o *RMSProp) Update(layer layers.Trainable) error {
	dw, db := layer.WeightGradients(), layer.BiasGradients()
	if dw == nil || db == nil {
		return fmt.Errorf("rmsprop update: layer has no recorded gradients")
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

func (o *RMSProp) apply(param, grad, cache *mat.Dense) {
	rows, cols := param.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			g := grad.At(i, j)
			c := o.rho*cache.At(i, j) + (1-o.rho)*g*g
			cache.Set(i, j, c)
			param.Set(i, j, param.At(i, j)-o.currentLR*g/(math.Sqrt(c)+o.epsilon))
		}
	}
}

// Config returns the serializable configuration of the optimizer.
func (o *RMSProp) Config() Config {
	return Config{
		Type: "rmsprop",
		Parameters: map[string]float64{
			"learning_rate": o.learningRate,
			"decay":         o.decay,
			"epsilon":       o.epsilon,
			"rho":           o.rho,
		},
		Iterations: o.iterations,
	}
}
