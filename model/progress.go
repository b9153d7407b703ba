package model

import (
	"fmt"
	"io"
)

// StepMetrics is the per-step snapshot handed to a TrainingCallback.
type StepMetrics struct {
	Step         int
	Steps        int
	Accuracy     float64
	Loss         float64
	DataLoss     float64
	RegLoss      float64
	LearningRate float64
}

// EpochMetrics is the accumulated epoch-level snapshot handed to a
// TrainingCallback.
type EpochMetrics struct {
	Accuracy     float64
	Loss         float64
	DataLoss     float64
	RegLoss      float64
	LearningRate float64
}

// Result holds the accumulated metrics of an evaluation pass.
type Result struct {
	Loss     float64
	Accuracy float64
}

// TrainingCallback observes training progress. The loop invokes it at the
// configured reporting cadence; callbacks are observational only and never
// influence control flow.
type TrainingCallback interface {
	OnEpochStart(epoch, epochs int)
	OnTrainStep(epoch int, m StepMetrics)
	OnEpochEnd(epoch int, m EpochMetrics)
	OnValidation(r Result)
}

// ConsoleLogger is the default TrainingCallback. It writes one line per
// reported step and per epoch summary.
type ConsoleLogger struct {
	w io.Writer
}

// NewConsoleLogger creates a console logger writing to w.
func NewConsoleLogger(w io.Writer) *ConsoleLogger {
	return &ConsoleLogger{w: w}
}

func (c *ConsoleLogger) OnEpochStart(epoch, epochs int) {
	fmt.Fprintf(c.w, "epoch: %d\n", epoch)
}

func (c *ConsoleLogger) OnTrainStep(epoch int, m StepMetrics) {
	fmt.Fprintf(c.w, "step: %d, accuracy: %.3f, loss: %.3f, data_loss: %.3f, regularization_loss: %.3f, lr: %g\n",
		m.Step, m.Accuracy, m.Loss, m.DataLoss, m.RegLoss, m.LearningRate)
}

func (c *ConsoleLogger) OnEpochEnd(epoch int, m EpochMetrics) {
	fmt.Fprintf(c.w, "training, accuracy: %.3f, loss: %.3f, data_loss: %.3f, regularization_loss: %.3f, lr: %g\n",
		m.Accuracy, m.Loss, m.DataLoss, m.RegLoss, m.LearningRate)
}

func (c *ConsoleLogger) OnValidation(r Result) {
	fmt.Fprintf(c.w, "validation, accuracy: %.3f, loss: %.3f\n", r.Accuracy, r.Loss)
}
