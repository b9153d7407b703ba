package optimizer

import "math"

// LRScheduler computes an epoch-level learning rate from a base rate. The
// model's training loop applies the result through SetLearningRate before
// each epoch; per-step inverse-time decay inside the optimizer then operates
// on the scheduled rate. Schedulers are stateless pure functions.
type LRScheduler interface {
	// GetLR returns the learning rate for the given zero-based epoch.
	GetLR(epoch int, baseLR float64) float64

	// GetName returns the scheduler name for logging.
	GetName() string
}

// StepLR reduces the learning rate by a factor every StepSize epochs.
type StepLR struct {
	StepSize int     // epochs between reductions
	Gamma    float64 // multiplicative decay factor
}

// NewStepLR creates a step learning-rate scheduler.
func NewStepLR(stepSize int, gamma float64) *StepLR {
	if stepSize <= 0 {
		stepSize = 30
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepLR{StepSize: stepSize, Gamma: gamma}
}

func (s *StepLR) GetLR(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch/s.StepSize))
}

func (s *StepLR) GetName() string { return "StepLR" }

// ExponentialLR decays the learning rate by a constant factor per epoch.
type ExponentialLR struct {
	Gamma float64
}

// NewExponentialLR creates an exponential learning-rate scheduler.
func NewExponentialLR(gamma float64) *ExponentialLR {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.95
	}
	return &ExponentialLR{Gamma: gamma}
}

func (s *ExponentialLR) GetLR(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch))
}

func (s *ExponentialLR) GetName() string { return "ExponentialLR" }

// CosineAnnealingLR anneals the learning rate along a cosine curve from the
// base rate down to EtaMin over TMax epochs.
type CosineAnnealingLR struct {
	TMax   int
	EtaMin float64
}

// NewCosineAnnealingLR creates a cosine annealing scheduler.
func NewCosineAnnealingLR(tMax int, etaMin float64) *CosineAnnealingLR {
	if tMax <= 0 {
		tMax = 100
	}
	if etaMin < 0 {
		etaMin = 0
	}
	return &CosineAnnealingLR{TMax: tMax, EtaMin: etaMin}
}

func (s *CosineAnnealingLR) GetLR(epoch int, baseLR float64) float64 {
	if epoch >= s.TMax {
		return s.EtaMin
	}
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLR) GetName() string { return "CosineAnnealingLR" }
