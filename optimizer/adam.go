package optimizer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-grad/layers"
)

// AdamConfig holds configuration for the Adam optimizer.
type AdamConfig struct {
	LearningRate float64
	Decay        float64
	Epsilon      float64
	Beta1        float64
	Beta2        float64
}

// DefaultAdamConfig returns the default Adam configuration.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Epsilon:      1e-7,
		Beta1:        0.9,
		Beta2:        0.999,
	}
}

// Adam combines momentum and per-parameter adaptive learning rates with
// bias-corrected moment estimates.
type Adam struct {
	schedule
	epsilon float64
	beta1   float64
	beta2   float64

	states map[layers.Trainable]*adamState
}

type adamState struct {
	weightMomentums *mat.Dense
	weightCaches    *mat.Dense
	biasMomentums   *mat.Dense
	biasCaches      *mat.Dense
}

// NewAdam creates an Adam optimizer.
func NewAdam(cfg AdamConfig) (*Adam, error) {
	if err := validateCommon(cfg.LearningRate, cfg.Decay); err != nil {
		return nil, err
	}
	if cfg.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %g", cfg.Epsilon)
	}
	if cfg.Beta1 <= 0 || cfg.Beta1 >= 1 {
		return nil, fmt.Errorf("beta_1 must be in (0, 1): %f", cfg.Beta1)
	}
	if cfg.Beta2 <= 0 || cfg.Beta2 >= 1 {
		return nil, fmt.Errorf("beta_2 must be in (0, 1): %f", cfg.Beta2)
	}
	return &Adam{
		schedule: newSchedule(cfg.LearningRate, cfg.Decay),
		epsilon:  cfg.Epsilon,
		beta1:    cfg.Beta1,
		beta2:    cfg.Beta2,
		states:   make(map[layers.Trainable]*adamState),
	}, nil
}

// Update applies one Adam step to the layer's weights and biases.
func (o *Adam) Update(layer layers.Trainable) error {
	dw, db := layer.WeightGradients(), layer.BiasGradients()
	if dw == nil || db == nil {
		return fmt.Errorf("adam update: layer has no recorded gradients")
	}

	state, ok := o.states[layer]
	if !ok {
		state = &adamState{
			weightMomentums: zerosLike(layer.Weights()),
			weightCaches:    zerosLike(layer.Weights()),
			biasMomentums:   zerosLike(layer.Biases()),
			biasCaches:      zerosLike(layer.Biases()),
		}
		o.states[layer] = state
	}

	o.apply(layer.Weights(), dw, state.weightMomentums, state.weightCaches)
	o.apply(layer.Biases(), db, state.biasMomentums, state.biasCaches)
	return nil
}

func (o *Adam) apply(param, grad, momentum, cache *mat.Dense) {
	// Bias correction uses the 1-based step number.
	step := float64(o.iterations + 1)
	mCorrection := 1 - math.Pow(o.beta1, step)
	cCorrection := 1 - math.Pow(o.beta2, step)

	rows, cols := param.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			g := grad.At(i, j)

			m := o.beta1*momentum.At(i, j) + (1-o.beta1)*g
			momentum.Set(i, j, m)

			c := o.beta2*cache.At(i, j) + (1-o.beta2)*g*g
			cache.Set(i, j, c)

			mHat := m / mCorrection
			cHat := c / cCorrection
			param.Set(i, j, param.At(i, j)-o.currentLR*mHat/(math.Sqrt(cHat)+o.epsilon))
		}
	}
}

// Config returns the serializable configuration of the optimizer.
func (o *Adam) Config() Config {
	return Config{
		Type: "adam",
		Parameters: map[string]float64{
			"learning_rate": o.learningRate,
			"decay":         o.decay,
			"epsilon":       o.epsilon,
			"beta_1":        o.beta1,
			"beta_2":        o.beta2,
		},
		Iterations: o.iterations,
	}
}
