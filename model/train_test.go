package model

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-grad/layers"
	"github.com/tsawler/go-grad/loss"
	"github.com/tsawler/go-grad/metrics"
	"github.com/tsawler/go-grad/optimizer"
)

// recorder captures every callback invocation for inspection.
type recorder struct {
	epochStarts int
	steps       []StepMetrics
	epochs      []EpochMetrics
	validations []Result
}

func (r *recorder) OnEpochStart(epoch, epochs int)       { r.epochStarts++ }
func (r *recorder) OnTrainStep(epoch int, m StepMetrics) { r.steps = append(r.steps, m) }
func (r *recorder) OnEpochEnd(epoch int, m EpochMetrics) { r.epochs = append(r.epochs, m) }
func (r *recorder) OnValidation(res Result)              { r.validations = append(r.validations, res) }

// blobs builds a linearly separable two-class dataset.
func blobs(samples int) (*mat.Dense, *mat.Dense) {
	x := mat.NewDense(samples, 2, nil)
	y := mat.NewDense(samples, 1, nil)
	for i := 0; i < samples; i++ {
		class := i % 2
		offset := -1.0
		if class == 1 {
			offset = 1.0
		}
		jitter := 0.1 * float64(i%5)
		x.Set(i, 0, offset+jitter)
		x.Set(i, 1, offset-jitter)
		y.Set(i, 0, float64(class))
	}
	return x, y
}

func TestStepCount(t *testing.T) {
	cases := []struct {
		samples, batchSize, want int
	}{
		{8, 3, 3},
		{6, 3, 2},
		{1, 3, 1},
		{5, 5, 1},
		{7, 0, 1},
	}
	for _, tc := range cases {
		if got := stepCount(tc.samples, tc.batchSize); got != tc.want {
			t.Errorf("stepCount(%d, %d) = %d, want %d", tc.samples, tc.batchSize, got, tc.want)
		}
	}
}

func TestTrainBatching(t *testing.T) {
	x, y := blobs(8)
	m := classifier(t)
	rec := &recorder{}

	err := m.Train(x, y, TrainConfig{Epochs: 1, BatchSize: 3, Callback: rec})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	if len(rec.steps) != 3 {
		t.Fatalf("reported steps = %d, want 3", len(rec.steps))
	}
	for i, s := range rec.steps {
		if s.Step != i || s.Steps != 3 {
			t.Errorf("step %d reported as %d of %d", i, s.Step, s.Steps)
		}
	}
	if rec.epochStarts != 1 || len(rec.epochs) != 1 {
		t.Errorf("epoch callbacks = %d starts, %d ends; want 1 and 1", rec.epochStarts, len(rec.epochs))
	}
}

func TestReportCadence(t *testing.T) {
	// 15 samples at batch size 3 gives 5 steps; reporting every 2 must hit
	// steps 0, 2, 4, with the final step always included.
	x, y := blobs(15)
	m := classifier(t)
	rec := &recorder{}

	err := m.Train(x, y, TrainConfig{Epochs: 1, BatchSize: 3, ReportEvery: 2, Callback: rec})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	want := []int{0, 2, 4}
	if len(rec.steps) != len(want) {
		t.Fatalf("reported steps = %d, want %d", len(rec.steps), len(want))
	}
	for i, s := range rec.steps {
		if s.Step != want[i] {
			t.Errorf("report %d at step %d, want %d", i, s.Step, want[i])
		}
	}

	t.Run("final step reports even off-cadence", func(t *testing.T) {
		rec := &recorder{}
		m := classifier(t)
		if err := m.Train(x, y, TrainConfig{Epochs: 1, BatchSize: 4, ReportEvery: 3, Callback: rec}); err != nil {
			t.Fatalf("Train failed: %v", err)
		}
		// 4 steps, cadence 3: steps 0, 3 — and 3 is also the final step.
		want := []int{0, 3}
		if len(rec.steps) != len(want) {
			t.Fatalf("reported steps = %d, want %d", len(rec.steps), len(want))
		}
		for i, s := range rec.steps {
			if s.Step != want[i] {
				t.Errorf("report %d at step %d, want %d", i, s.Step, want[i])
			}
		}
	})
}

func TestTrainReducesLoss(t *testing.T) {
	x, y := blobs(32)
	m := classifier(t)

	before, err := m.Evaluate(x, y, 0)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	err = m.Train(x, y, TrainConfig{Epochs: 50, Callback: &recorder{}})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	after, err := m.Evaluate(x, y, 0)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if after.Loss >= before.Loss {
		t.Errorf("loss did not decrease: before %f, after %f", before.Loss, after.Loss)
	}
	if after.Accuracy < before.Accuracy {
		t.Errorf("accuracy regressed: before %f, after %f", before.Accuracy, after.Accuracy)
	}
}

func TestTrainValidation(t *testing.T) {
	x, y := blobs(16)
	vx, vy := blobs(8)
	m := classifier(t)
	rec := &recorder{}

	err := m.Train(x, y, TrainConfig{
		Epochs:      3,
		ValidationX: vx,
		ValidationY: vy,
		Callback:    rec,
	})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if len(rec.validations) != 3 {
		t.Errorf("validation runs = %d, want 3", len(rec.validations))
	}
}

func TestTrainScheduler(t *testing.T) {
	x, y := blobs(8)
	m := New()
	m.Add(layers.NewDense(2, 3))
	m.Add(layers.NewSoftmax())
	m.Set(loss.NewCategoricalCrossEntropy(), newSGD(t, 1.0), metrics.NewCategoricalAccuracy())
	if err := m.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	rec := &recorder{}
	err := m.Train(x, y, TrainConfig{
		Epochs:    2,
		Scheduler: optimizer.NewStepLR(1, 0.5),
		Callback:  rec,
	})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	if len(rec.steps) != 2 {
		t.Fatalf("reported steps = %d, want 2", len(rec.steps))
	}
	if math.Abs(rec.steps[0].LearningRate-1.0) > tolerance {
		t.Errorf("epoch 1 lr = %f, want 1.0", rec.steps[0].LearningRate)
	}
	if math.Abs(rec.steps[1].LearningRate-0.5) > tolerance {
		t.Errorf("epoch 2 lr = %f, want 0.5", rec.steps[1].LearningRate)
	}
}

func TestTrainInputValidation(t *testing.T) {
	m := classifier(t)
	x, y := blobs(4)

	if err := m.Train(x, y, TrainConfig{BatchSize: -1}); err == nil {
		t.Error("expected error for negative batch size")
	}
	if err := m.Train(x, mat.NewDense(3, 1, nil), TrainConfig{}); err == nil {
		t.Error("expected error for sample count mismatch")
	}
	if _, err := m.Evaluate(x, mat.NewDense(3, 1, nil), 0); err == nil {
		t.Error("expected error for evaluation sample count mismatch")
	}
}

func TestEvaluateDoesNotMutate(t *testing.T) {
	x, y := blobs(8)
	m := classifier(t)
	before := m.GetParameters()

	if _, err := m.Evaluate(x, y, 3); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	after := m.GetParameters()
	for i := range before {
		if !mat.EqualApprox(before[i].Weights, after[i].Weights, 0) {
			t.Errorf("evaluation mutated weights of trainable layer %d", i)
		}
		if !mat.EqualApprox(before[i].Biases, after[i].Biases, 0) {
			t.Errorf("evaluation mutated biases of trainable layer %d", i)
		}
	}
}

func TestEvaluateMatchesAccumulation(t *testing.T) {
	// Evaluation over uneven batches must equal a single full-batch pass.
	x, y := blobs(10)
	m := classifier(t)

	batched, err := m.Evaluate(x, y, 3)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	full, err := m.Evaluate(x, y, 0)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if math.Abs(batched.Loss-full.Loss) > tolerance {
		t.Errorf("batched loss %f != full-batch loss %f", batched.Loss, full.Loss)
	}
	if math.Abs(batched.Accuracy-full.Accuracy) > tolerance {
		t.Errorf("batched accuracy %f != full-batch accuracy %f", batched.Accuracy, full.Accuracy)
	}
}

func TestPredict(t *testing.T) {
	m := New()
	m.Add(layers.NewDense(2, 3))
	m.Add(layers.NewSoftmax())
	m.Set(loss.NewCategoricalCrossEntropy(), newSGD(t, 1.0), metrics.NewCategoricalAccuracy())
	if err := m.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	x, _ := blobs(10)

	full, err := m.Predict(x, 0)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	rows, cols := full.Dims()
	if rows != 10 || cols != 3 {
		t.Fatalf("prediction shape = %dx%d, want 10x3", rows, cols)
	}

	t.Run("batched output preserves row order", func(t *testing.T) {
		batched, err := m.Predict(x, 4)
		if err != nil {
			t.Fatalf("Predict failed: %v", err)
		}
		if !mat.EqualApprox(full, batched, tolerance) {
			t.Error("batched predictions differ from full-batch predictions")
		}
	})

	t.Run("rows match per-sample forward passes", func(t *testing.T) {
		for _, i := range []int{0, 7, 9} {
			single, err := m.Predict(x.Slice(i, i+1, 0, 2).(*mat.Dense), 0)
			if err != nil {
				t.Fatalf("Predict failed: %v", err)
			}
			for j := 0; j < 3; j++ {
				if math.Abs(single.At(0, j)-full.At(i, j)) > tolerance {
					t.Errorf("row %d col %d: single %f, batched %f", i, j, single.At(0, j), full.At(i, j))
				}
			}
		}
	})
}
