// Package loss provides the loss collaborators consumed by the model
// orchestrator: per-batch loss computation with sample-weighted accumulation,
// gradients with respect to predictions, and regularization penalties sourced
// from the model's trainable layers.
package loss

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-grad/layers"
)

// Loss is the contract between the model orchestrator and a loss function.
type Loss interface {
	// Calculate returns the mean per-sample data loss for the batch and,
	// when regularize is set, the regularization penalty contributed by the
	// stored trainable layers. When accumulate is set the per-sample losses
	// are folded into the epoch accumulator.
	Calculate(output, y *mat.Dense, regularize, accumulate bool) (dataLoss, regLoss float64)

	// Backward records the gradient of the loss with respect to the
	// predictions.
	Backward(output, y *mat.Dense)

	// DInputs returns the gradient recorded by the last Backward call.
	DInputs() *mat.Dense

	// Reset clears the epoch accumulator.
	Reset()

	// Accumulated returns the sample-weighted mean loss accumulated since
	// the last Reset, plus the current regularization penalty when
	// regularize is set.
	Accumulated(regularize bool) (dataLoss, regLoss float64)

	// StoreTrainableLayers gives the loss access to the model's trainable
	// layers for regularization penalties.
	StoreTrainableLayers(trainable []layers.Trainable)

	// Name returns the registry name used by checkpoints.
	Name() string
}

// core carries the state shared by every loss implementation: the trainable
// layer set for regularization and the sample-weighted epoch accumulator.
type core struct {
	trainable        []layers.Trainable
	accumulatedSum   float64
	accumulatedCount int
	dinputs          *mat.Dense
}

// finish folds per-sample losses into the batch mean, optionally accumulating
// them, and computes the regularization term when requested.
func (c *core) finish(sampleLosses []float64, regularize, accumulate bool) (float64, float64) {
	sum := floats.Sum(sampleLosses)
	dataLoss := sum / float64(len(sampleLosses))

	if accumulate {
		c.accumulatedSum += sum
		c.accumulatedCount += len(sampleLosses)
	}

	var regLoss float64
	if regularize {
		regLoss = c.regularizationLoss()
	}
	return dataLoss, regLoss
}

// Accumulated returns the sample-weighted mean of every loss folded into the
// accumulator since the last Reset. Short final batches therefore contribute
// proportionally, not as a full batch.
func (c *core) Accumulated(regularize bool) (float64, float64) {
	var dataLoss float64
	if c.accumulatedCount > 0 {
		dataLoss = c.accumulatedSum / float64(c.accumulatedCount)
	}
	var regLoss float64
	if regularize {
		regLoss = c.regularizationLoss()
	}
	return dataLoss, regLoss
}

// Reset clears the epoch accumulator.
func (c *core) Reset() {
	c.accumulatedSum = 0
	c.accumulatedCount = 0
}

// DInputs returns the gradient recorded by the last Backward call.
func (c *core) DInputs() *mat.Dense {
	return c.dinputs
}

// StoreTrainableLayers records the layers whose parameters contribute
// regularization penalties.
func (c *core) StoreTrainableLayers(trainable []layers.Trainable) {
	c.trainable = trainable
}

// regularizationLoss sums the L1/L2 penalties over the stored trainable
// layers.
func (c *core) regularizationLoss() float64 {
	var total float64
	for _, t := range c.trainable {
		reg := t.Regularizer()
		if reg.WeightL1 > 0 {
			total += reg.WeightL1 * sumAbs(t.Weights())
		}
		if reg.WeightL2 > 0 {
			total += reg.WeightL2 * sumSquares(t.Weights())
		}
		if reg.BiasL1 > 0 {
			total += reg.BiasL1 * sumAbs(t.Biases())
		}
		if reg.BiasL2 > 0 {
			total += reg.BiasL2 * sumSquares(t.Biases())
		}
	}
	return total
}

func sumAbs(m *mat.Dense) float64 {
	var sum float64
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := m.At(i, j)
			if v < 0 {
				v = -v
			}
			sum += v
		}
	}
	return sum
}

func sumSquares(m *mat.Dense) float64 {
	var sum float64
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := m.At(i, j)
			sum += v * v
		}
	}
	return sum
}

// clip bounds v away from 0 and 1 to keep logarithms finite.
func clip(v float64) float64 {
	const eps = 1e-7
	if v < eps {
		return eps
	}
	if v > 1-eps {
		return 1 - eps
	}
	return v
}
