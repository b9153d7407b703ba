// Package optimizer provides the gradient-descent optimizers consumed by the
// model orchestrator. Every optimizer follows the same per-batch contract:
// PreUpdate (learning-rate decay), Update per trainable layer, PostUpdate
// (step counter). Per-layer state such as momenta is held inside the
// optimizer, keyed by the layer.
package optimizer

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-grad/layers"
)

// Optimizer is the contract between the model orchestrator and an optimizer.
type Optimizer interface {
	// PreUpdate recomputes the effective learning rate before a batch of
	// layer updates.
	PreUpdate()

	// Update applies one gradient step to a trainable layer using the
	// gradients recorded by its last Backward call.
	Update(layer layers.Trainable) error

	// PostUpdate advances the step counter after all layers are updated.
	PostUpdate()

	// CurrentLearningRate returns the effective learning rate, for
	// reporting.
	CurrentLearningRate() float64

	// SetLearningRate replaces the base learning rate. Used by schedulers.
	SetLearningRate(lr float64)

	// Config returns the serializable configuration of this optimizer.
	Config() Config
}

// Config is the serializable state of an optimizer: its registry type, its
// hyperparameters, and the step counter. Per-layer moment caches are
// rebuilt from zero on resume.
type Config struct {
	Type       string             `json:"type"`
	Parameters map[string]float64 `json:"parameters"`
	Iterations int                `json:"iterations"`
}

// FromConfig reconstructs an optimizer from its serialized configuration.
func FromConfig(cfg Config) (Optimizer, error) {
	p := func(key string, def float64) float64 {
		if v, ok := cfg.Parameters[key]; ok {
			return v
		}
		return def
	}

	var (
		opt Optimizer
		err error
	)
	switch cfg.Type {
	case "sgd":
		opt, err = NewSGD(SGDConfig{
			LearningRate: p("learning_rate", 1.0),
			Decay:        p("decay", 0),
			Momentum:     p("momentum", 0),
		})
	case "adagrad":
		opt, err = NewAdaGrad(AdaGradConfig{
			LearningRate: p("learning_rate", 1.0),
			Decay:        p("decay", 0),
			Epsilon:      p("epsilon", 1e-7),
		})
	case "rmsprop":
		opt, err = NewRMSProp(RMSPropConfig{
			LearningRate: p("learning_rate", 0.001),
			Decay:        p("decay", 0),
			Epsilon:      p("epsilon", 1e-7),
			Rho:          p("rho", 0.9),
		})
	case "adam":
		opt, err = NewAdam(AdamConfig{
			LearningRate: p("learning_rate", 0.001),
			Decay:        p("decay", 0),
			Epsilon:      p("epsilon", 1e-7),
			Beta1:        p("beta_1", 0.9),
			Beta2:        p("beta_2", 0.999),
		})
	default:
		return nil, fmt.Errorf("unsupported optimizer type: %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	opt.(interface{ setIterations(int) }).setIterations(cfg.Iterations)
	return opt, nil
}

// schedule carries the learning-rate decay state shared by every optimizer.
type schedule struct {
	learningRate float64
	currentLR    float64
	decay        float64
	iterations   int
}

func newSchedule(lr, decay float64) schedule {
	return schedule{learningRate: lr, currentLR: lr, decay: decay}
}

// PreUpdate applies inverse-time decay: lr / (1 + decay*iterations).
func (s *schedule) PreUpdate() {
	if s.decay > 0 {
		s.currentLR = s.learningRate / (1 + s.decay*float64(s.iterations))
	} else {
		s.currentLR = s.learningRate
	}
}

// PostUpdate advances the step counter.
func (s *schedule) PostUpdate() {
	s.iterations++
}

// CurrentLearningRate returns the effective learning rate.
func (s *schedule) CurrentLearningRate() float64 { return s.currentLR }

// SetLearningRate replaces the base learning rate.
func (s *schedule) SetLearningRate(lr float64) {
	s.learningRate = lr
	s.currentLR = lr
}

// Iterations returns the number of completed optimization steps.
func (s *schedule) Iterations() int { return s.iterations }

func (s *schedule) setIterations(n int) { s.iterations = n }

// validateCommon rejects hyperparameters no optimizer accepts.
func validateCommon(lr, decay float64) error {
	if lr <= 0 {
		return fmt.Errorf("learning rate must be positive: %f", lr)
	}
	if decay < 0 {
		return fmt.Errorf("decay cannot be negative: %f", decay)
	}
	return nil
}

// zerosLike returns a zero matrix with m's dimensions.
func zerosLike(m *mat.Dense) *mat.Dense {
	rows, cols := m.Dims()
	return mat.NewDense(rows, cols, nil)
}
