// Package metrics provides the accuracy collaborators consumed by the model
// orchestrator, with sample-weighted accumulation across uneven batches.
package metrics

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Accuracy is the contract between the model orchestrator and an accuracy
// metric.
type Accuracy interface {
	// Init derives metric parameters from the full training targets before
	// the first epoch. Most metrics need nothing here.
	Init(y *mat.Dense)

	// Calculate returns the batch accuracy and, when accumulate is set,
	// folds the comparison counts into the epoch accumulator.
	Calculate(predictions, y *mat.Dense, accumulate bool) float64

	// Reset clears the epoch accumulator.
	Reset()

	// Accumulated returns the sample-weighted accuracy accumulated since
	// the last Reset.
	Accumulated() float64

	// Name returns the registry name used by checkpoints.
	Name() string
}

// accumulator is the sample-weighted running total shared by the metrics.
type accumulator struct {
	sum   float64
	count int
}

func (a *accumulator) add(matches, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(matches) / float64(total)
}

func (a *accumulator) accumulate(matches, total int) {
	a.sum += float64(matches)
	a.count += total
}

// Reset clears the accumulator.
func (a *accumulator) Reset() {
	a.sum = 0
	a.count = 0
}

// Accumulated returns the accuracy over every comparison folded in since the
// last Reset.
func (a *accumulator) Accumulated() float64 {
	if a.count == 0 {
		return 0
	}
	return a.sum / float64(a.count)
}

// CategoricalAccuracy measures classification accuracy. For multi-class
// models predictions are Nx1 class indices and targets are sparse indices or
// one-hot rows. In binary mode predictions and targets are same-shaped 0/1
// matrices compared element-wise.
type CategoricalAccuracy struct {
	accumulator
	binary bool
}

// NewCategoricalAccuracy creates a multi-class accuracy metric.
func NewCategoricalAccuracy() *CategoricalAccuracy {
	return &CategoricalAccuracy{}
}

// NewBinaryAccuracy creates an element-wise accuracy metric for sigmoid
// outputs.
func NewBinaryAccuracy() *CategoricalAccuracy {
	return &CategoricalAccuracy{binary: true}
}

// Name returns the checkpoint registry name.
func (c *CategoricalAccuracy) Name() string {
	if c.binary {
		return "binary_accuracy"
	}
	return "categorical_accuracy"
}

// Init is a no-op for classification.
func (c *CategoricalAccuracy) Init(y *mat.Dense) {}

// Calculate compares predictions against targets and returns the fraction
// that match.
func (c *CategoricalAccuracy) Calculate(predictions, y *mat.Dense, accumulate bool) float64 {
	rows, cols := predictions.Dims()
	_, yCols := y.Dims()

	matches, total := 0, 0
	if c.binary {
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				if predictions.At(i, j) == y.At(i, j) {
					matches++
				}
				total++
			}
		}
	} else {
		for i := 0; i < rows; i++ {
			truth := 0
			if yCols == 1 {
				truth = int(y.At(i, 0))
			} else {
				bestVal := y.At(i, 0)
				for j := 1; j < yCols; j++ {
					if v := y.At(i, j); v > bestVal {
						bestVal = v
						truth = j
					}
				}
			}
			if int(predictions.At(i, 0)) == truth {
				matches++
			}
			total++
		}
	}

	if accumulate {
		c.accumulate(matches, total)
	}
	return c.add(matches, total)
}

// RegressionAccuracy counts a regression prediction as correct when it falls
// within a precision band derived from the spread of the training targets.
type RegressionAccuracy struct {
	accumulator

	// Divisor scales the target standard deviation into the precision band.
	Divisor float64

	precision float64
}

// defaultPrecisionDivisor is the stddev fraction used when none is set.
const defaultPrecisionDivisor = 250

// NewRegressionAccuracy creates a regression accuracy metric with the default
// precision divisor.
func NewRegressionAccuracy() *RegressionAccuracy {
	return &RegressionAccuracy{Divisor: defaultPrecisionDivisor}
}

// Name returns the checkpoint registry name.
func (r *RegressionAccuracy) Name() string { return "regression_accuracy" }

// Init derives the precision band from the standard deviation of the full
// training targets.
func (r *RegressionAccuracy) Init(y *mat.Dense) {
	rows, cols := y.Dims()
	flat := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		flat = append(flat, y.RawRowView(i)...)
	}
	div := r.Divisor
	if div == 0 {
		div = defaultPrecisionDivisor
	}
	r.precision = stat.StdDev(flat, nil) / div
}

// Precision returns the band computed by Init.
func (r *RegressionAccuracy) Precision() float64 { return r.precision }

// Calculate returns the fraction of predictions within the precision band of
// their targets.
func (r *RegressionAccuracy) Calculate(predictions, y *mat.Dense, accumulate bool) float64 {
	rows, cols := predictions.Dims()

	matches, total := 0, 0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			d := predictions.At(i, j) - y.At(i, j)
			if d < 0 {
				d = -d
			}
			if d < r.precision {
				matches++
			}
			total++
		}
	}

	if accumulate {
		r.accumulate(matches, total)
	}
	return r.add(matches, total)
}
