package model

import (
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-grad/optimizer"
)

// TrainConfig controls a training run.
type TrainConfig struct {
	// Epochs is the number of passes over the training data. Defaults to 1.
	Epochs int

	// BatchSize splits each epoch into ceil(N/BatchSize) steps; the final
	// batch may be short and is still processed. Zero means one step per
	// epoch over the whole dataset.
	BatchSize int

	// ReportEvery reports every Nth step (step 0 always reports, as does
	// the final step of an epoch). Defaults to 1.
	ReportEvery int

	// ValidationX/ValidationY, when set, run an evaluation pass after every
	// epoch.
	ValidationX *mat.Dense
	ValidationY *mat.Dense

	// Scheduler, when set, adjusts the optimizer's base learning rate at
	// the start of each epoch.
	Scheduler optimizer.LRScheduler

	// Callback observes progress. Defaults to a ConsoleLogger on stdout.
	Callback TrainingCallback
}

// stepCount returns ceil(samples/batchSize), or 1 when batching is disabled.
func stepCount(samples, batchSize int) int {
	if batchSize == 0 {
		return 1
	}
	steps := samples / batchSize
	if steps*batchSize < samples {
		steps++
	}
	return steps
}

// sliceBatch returns rows [step*batchSize, min((step+1)*batchSize, N)) of m,
// or m itself when batching is disabled.
func sliceBatch(m *mat.Dense, step, batchSize int) *mat.Dense {
	if batchSize == 0 {
		return m
	}
	rows, cols := m.Dims()
	start := step * batchSize
	end := start + batchSize
	if end > rows {
		end = rows
	}
	return m.Slice(start, end, 0, cols).(*mat.Dense)
}

// validateLoopInput checks the shared preconditions of the train, evaluate,
// and predict loops.
func (m *Model) validateLoopInput(x *mat.Dense, batchSize int) error {
	if !m.finalized {
		return ErrNotFinalized
	}
	if batchSize < 0 {
		return fmt.Errorf("model: batch size cannot be negative: %d", batchSize)
	}
	rows, _ := x.Dims()
	if rows == 0 {
		return fmt.Errorf("model: dataset is empty")
	}
	return nil
}

// Train runs the epoch/batch training loop: forward, loss, accuracy,
// backward, then the optimizer's pre-update/update/post-update sequence, in
// that fixed order for every step. Collaborator failures abort the run at the
// offending batch.
func (m *Model) Train(x, y *mat.Dense, cfg TrainConfig) error {
	if err := m.validateLoopInput(x, cfg.BatchSize); err != nil {
		return err
	}
	xRows, _ := x.Dims()
	yRows, _ := y.Dims()
	if xRows != yRows {
		return fmt.Errorf("model: sample count mismatch: %d inputs, %d targets", xRows, yRows)
	}

	epochs := cfg.Epochs
	if epochs <= 0 {
		epochs = 1
	}
	reportEvery := cfg.ReportEvery
	if reportEvery <= 0 {
		reportEvery = 1
	}
	callback := cfg.Callback
	if callback == nil {
		callback = NewConsoleLogger(os.Stdout)
	}

	m.accuracy.Init(y)
	baseLR := m.opt.CurrentLearningRate()
	steps := stepCount(xRows, cfg.BatchSize)

	for epoch := 1; epoch <= epochs; epoch++ {
		callback.OnEpochStart(epoch, epochs)

		if cfg.Scheduler != nil {
			m.opt.SetLearningRate(cfg.Scheduler.GetLR(epoch-1, baseLR))
		}

		m.lossFn.Reset()
		m.accuracy.Reset()

		for step := 0; step < steps; step++ {
			xBatch := sliceBatch(x, step, cfg.BatchSize)
			yBatch := sliceBatch(y, step, cfg.BatchSize)

			output, err := m.Forward(xBatch, true)
			if err != nil {
				return err
			}

			dataLoss, regLoss := m.lossFn.Calculate(output, yBatch, true, true)
			predictions := m.activation.Predict(output)
			accuracy := m.accuracy.Calculate(predictions, yBatch, true)

			if err := m.Backward(output, yBatch); err != nil {
				return err
			}

			m.opt.PreUpdate()
			for _, t := range m.trainable {
				if err := m.opt.Update(t); err != nil {
					return fmt.Errorf("model: epoch %d step %d: %v", epoch, step, err)
				}
			}
			m.opt.PostUpdate()

			if step%reportEvery == 0 || step == steps-1 {
				callback.OnTrainStep(epoch, StepMetrics{
					Step:         step,
					Steps:        steps,
					Accuracy:     accuracy,
					Loss:         dataLoss + regLoss,
					DataLoss:     dataLoss,
					RegLoss:      regLoss,
					LearningRate: m.opt.CurrentLearningRate(),
				})
			}
		}

		dataLoss, regLoss := m.lossFn.Accumulated(true)
		callback.OnEpochEnd(epoch, EpochMetrics{
			Accuracy:     m.accuracy.Accumulated(),
			Loss:         dataLoss + regLoss,
			DataLoss:     dataLoss,
			RegLoss:      regLoss,
			LearningRate: m.opt.CurrentLearningRate(),
		})

		if cfg.ValidationX != nil && cfg.ValidationY != nil {
			result, err := m.Evaluate(cfg.ValidationX, cfg.ValidationY, cfg.BatchSize)
			if err != nil {
				return fmt.Errorf("model: validation after epoch %d: %v", epoch, err)
			}
			callback.OnValidation(result)
		}
	}

	return nil
}

// Evaluate runs a forward-only pass over the dataset with the same batch
// slicing and accumulation as training. It never mutates parameters.
func (m *Model) Evaluate(x, y *mat.Dense, batchSize int) (Result, error) {
	if err := m.validateLoopInput(x, batchSize); err != nil {
		return Result{}, err
	}
	xRows, _ := x.Dims()
	yRows, _ := y.Dims()
	if xRows != yRows {
		return Result{}, fmt.Errorf("model: sample count mismatch: %d inputs, %d targets", xRows, yRows)
	}

	m.lossFn.Reset()
	m.accuracy.Reset()

	steps := stepCount(xRows, batchSize)
	for step := 0; step < steps; step++ {
		xBatch := sliceBatch(x, step, batchSize)
		yBatch := sliceBatch(y, step, batchSize)

		output, err := m.Forward(xBatch, false)
		if err != nil {
			return Result{}, err
		}

		m.lossFn.Calculate(output, yBatch, false, true)
		predictions := m.activation.Predict(output)
		m.accuracy.Calculate(predictions, yBatch, true)
	}

	dataLoss, _ := m.lossFn.Accumulated(false)
	return Result{Loss: dataLoss, Accuracy: m.accuracy.Accumulated()}, nil
}

// Predict runs forward-only inference over the dataset and concatenates the
// per-batch outputs in batch order, preserving input row order.
func (m *Model) Predict(x *mat.Dense, batchSize int) (*mat.Dense, error) {
	if err := m.validateLoopInput(x, batchSize); err != nil {
		return nil, err
	}

	xRows, _ := x.Dims()
	steps := stepCount(xRows, batchSize)

	var out *mat.Dense
	next := 0
	for step := 0; step < steps; step++ {
		batch := sliceBatch(x, step, batchSize)

		output, err := m.Forward(batch, false)
		if err != nil {
			return nil, err
		}

		rows, cols := output.Dims()
		if out == nil {
			out = mat.NewDense(xRows, cols, nil)
		}
		for i := 0; i < rows; i++ {
			out.SetRow(next, output.RawRowView(i))
			next++
		}
	}
	return out, nil
}
