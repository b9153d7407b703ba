package model

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-grad/layers"
	"github.com/tsawler/go-grad/loss"
	"github.com/tsawler/go-grad/metrics"
	"github.com/tsawler/go-grad/optimizer"
)

const tolerance = 1e-6

func newSGD(t *testing.T, lr float64) optimizer.Optimizer {
	t.Helper()
	o, err := optimizer.NewSGD(optimizer.SGDConfig{LearningRate: lr})
	if err != nil {
		t.Fatalf("NewSGD failed: %v", err)
	}
	return o
}

// classifier builds a finalized 2-16-3 softmax classifier.
func classifier(t *testing.T) *Model {
	t.Helper()
	m := New()
	m.Add(layers.NewDense(2, 16))
	m.Add(layers.NewReLU())
	m.Add(layers.NewDense(16, 3))
	m.Add(layers.NewSoftmax())
	m.Set(loss.NewCategoricalCrossEntropy(), newSGD(t, 1.0), metrics.NewCategoricalAccuracy())
	if err := m.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	return m
}

func TestFinalizeValidation(t *testing.T) {
	t.Run("rejects empty models", func(t *testing.T) {
		m := New()
		m.Set(loss.NewMeanSquaredError(), newSGD(t, 1.0), metrics.NewRegressionAccuracy())
		if err := m.Finalize(); err == nil {
			t.Error("expected error for model without layers")
		}
	})

	t.Run("rejects missing collaborators", func(t *testing.T) {
		m := New()
		m.Add(layers.NewLinear())
		if err := m.Finalize(); err == nil {
			t.Error("expected error for model without collaborators")
		}

		m.Set(loss.NewMeanSquaredError(), nil, nil)
		if err := m.Finalize(); err == nil {
			t.Error("expected error for model without optimizer")
		}

		m.Set(nil, newSGD(t, 1.0), nil)
		if err := m.Finalize(); err == nil {
			t.Error("expected error for model without accuracy metric")
		}

		m.Set(nil, nil, metrics.NewRegressionAccuracy())
		if err := m.Finalize(); err != nil {
			t.Errorf("Finalize failed with all collaborators set: %v", err)
		}
	})

	t.Run("rejects a terminal layer that cannot predict", func(t *testing.T) {
		m := New()
		m.Add(layers.NewDense(2, 2))
		m.Set(loss.NewMeanSquaredError(), newSGD(t, 1.0), metrics.NewRegressionAccuracy())
		if err := m.Finalize(); err == nil {
			t.Error("expected error for dense terminal layer")
		}
	})
}

func TestUseBeforeFinalize(t *testing.T) {
	m := New()
	m.Add(layers.NewLinear())
	m.Set(loss.NewMeanSquaredError(), newSGD(t, 1.0), metrics.NewRegressionAccuracy())

	x := mat.NewDense(1, 1, []float64{1})

	if _, err := m.Forward(x, false); !errors.Is(err, ErrNotFinalized) {
		t.Errorf("Forward error = %v, want ErrNotFinalized", err)
	}
	if err := m.Backward(x, x); !errors.Is(err, ErrNotFinalized) {
		t.Errorf("Backward error = %v, want ErrNotFinalized", err)
	}
	if err := m.Train(x, x, TrainConfig{}); !errors.Is(err, ErrNotFinalized) {
		t.Errorf("Train error = %v, want ErrNotFinalized", err)
	}
	if _, err := m.Evaluate(x, x, 0); !errors.Is(err, ErrNotFinalized) {
		t.Errorf("Evaluate error = %v, want ErrNotFinalized", err)
	}
	if _, err := m.Predict(x, 0); !errors.Is(err, ErrNotFinalized) {
		t.Errorf("Predict error = %v, want ErrNotFinalized", err)
	}
}

func TestFusedGradientDetection(t *testing.T) {
	t.Run("softmax with categorical cross-entropy fuses", func(t *testing.T) {
		if m := classifier(t); !m.FusedGradient() {
			t.Error("expected fused gradient mode")
		}
	})

	t.Run("softmax with another loss stays decomposed", func(t *testing.T) {
		m := New()
		m.Add(layers.NewDense(2, 3))
		m.Add(layers.NewSoftmax())
		m.Set(loss.NewMeanSquaredError(), newSGD(t, 1.0), metrics.NewCategoricalAccuracy())
		if err := m.Finalize(); err != nil {
			t.Fatalf("Finalize failed: %v", err)
		}
		if m.FusedGradient() {
			t.Error("expected decomposed gradient mode")
		}
	})

	t.Run("categorical cross-entropy without softmax stays decomposed", func(t *testing.T) {
		m := New()
		m.Add(layers.NewDense(2, 3))
		m.Add(layers.NewSigmoid())
		m.Set(loss.NewCategoricalCrossEntropy(), newSGD(t, 1.0), metrics.NewCategoricalAccuracy())
		if err := m.Finalize(); err != nil {
			t.Fatalf("Finalize failed: %v", err)
		}
		if m.FusedGradient() {
			t.Error("expected decomposed gradient mode")
		}
	})
}

func TestRefinalize(t *testing.T) {
	m := classifier(t)
	if got := len(m.TrainableLayers()); got != 2 {
		t.Fatalf("trainable layers = %d, want 2", got)
	}

	m.Add(layers.NewDense(3, 3))
	m.Add(layers.NewLinear())

	if m.Finalized() {
		t.Error("Add left the model finalized")
	}
	if err := m.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if got := len(m.TrainableLayers()); got != 3 {
		t.Errorf("trainable layers after refinalize = %d, want 3", got)
	}
	if m.FusedGradient() {
		t.Error("fused mode survived a refinalize with a linear terminal layer")
	}
}

func TestForward(t *testing.T) {
	m := classifier(t)
	x := mat.NewDense(4, 2, []float64{0.1, 0.2, -0.3, 0.4, 0.5, -0.6, 0.7, 0.8})

	output, err := m.Forward(x, false)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	layerList := m.Layers()
	if output != layerList[len(layerList)-1].Output() {
		t.Error("Forward did not return the terminal layer's recorded output")
	}

	rows, cols := output.Dims()
	if rows != 4 || cols != 3 {
		t.Fatalf("output shape = %dx%d, want 4x3", rows, cols)
	}
	for i := 0; i < rows; i++ {
		var sum float64
		for j := 0; j < cols; j++ {
			sum += output.At(i, j)
		}
		if math.Abs(sum-1) > tolerance {
			t.Errorf("output row %d sums to %f, want 1", i, sum)
		}
	}
}

func TestBackward(t *testing.T) {
	x := mat.NewDense(4, 2, []float64{0.1, 0.2, -0.3, 0.4, 0.5, -0.6, 0.7, 0.8})
	y := mat.NewDense(4, 1, []float64{0, 1, 2, 1})

	t.Run("fused mode assigns the combined gradient to the terminal layer", func(t *testing.T) {
		m := classifier(t)
		output, err := m.Forward(x, true)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if err := m.Backward(output, y); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}

		// The fused gradient at the softmax layer is (p - onehot)/n.
		terminal := m.Layers()[len(m.Layers())-1]
		dx := terminal.DInputs()
		for i := 0; i < 4; i++ {
			for j := 0; j < 3; j++ {
				want := output.At(i, j) / 4
				if j == int(y.At(i, 0)) {
					want = (output.At(i, j) - 1) / 4
				}
				if math.Abs(dx.At(i, j)-want) > tolerance {
					t.Errorf("terminal dinputs[%d,%d] = %f, want %f", i, j, dx.At(i, j), want)
				}
			}
		}

		for i, layer := range m.Layers() {
			if layer.DInputs() == nil {
				t.Errorf("layer %d has no recorded input gradient", i)
			}
		}
	})

	t.Run("decomposed and fused modes agree on layer gradients", func(t *testing.T) {
		seed := classifier(t)
		params := seed.GetParameters()

		fused := classifier(t)
		if err := fused.SetParameters(params); err != nil {
			t.Fatalf("SetParameters failed: %v", err)
		}

		decomposed := New()
		decomposed.Add(layers.NewDense(2, 16))
		decomposed.Add(layers.NewReLU())
		decomposed.Add(layers.NewDense(16, 3))
		decomposed.Add(layers.NewSoftmax())
		decomposed.Set(loss.NewMeanSquaredError(), newSGD(t, 1.0), metrics.NewCategoricalAccuracy())
		if err := decomposed.Finalize(); err != nil {
			t.Fatalf("Finalize failed: %v", err)
		}
		if err := decomposed.SetParameters(params); err != nil {
			t.Fatalf("SetParameters failed: %v", err)
		}

		// Seed the decomposed model's backward with the categorical loss so
		// both paths compute the same overall gradient.
		fusedOut, _ := fused.Forward(x, true)
		_ = fused.Backward(fusedOut, y)

		decompOut, _ := decomposed.Forward(x, true)
		cce := loss.NewCategoricalCrossEntropy()
		cce.Backward(decompOut, y)
		last := len(decomposed.Layers()) - 1
		decomposed.Layers()[last].Backward(cce.DInputs())
		for i := last - 1; i >= 0; i-- {
			decomposed.Layers()[i].Backward(decomposed.Layers()[i+1].DInputs())
		}

		fdw := fused.TrainableLayers()[0].WeightGradients()
		ddw := decomposed.TrainableLayers()[0].WeightGradients()
		rows, cols := fdw.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				if math.Abs(fdw.At(i, j)-ddw.At(i, j)) > tolerance {
					t.Errorf("first-layer dweights[%d,%d]: fused %f, decomposed %f",
						i, j, fdw.At(i, j), ddw.At(i, j))
				}
			}
		}
	})
}

func TestParameterLifecycle(t *testing.T) {
	m := classifier(t)
	x := mat.NewDense(2, 2, []float64{0.3, -0.1, 0.8, 0.5})

	t.Run("set of own snapshot is a no-op", func(t *testing.T) {
		before, err := m.Forward(x, false)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		beforeCopy := mat.DenseCopyOf(before)

		if err := m.SetParameters(m.GetParameters()); err != nil {
			t.Fatalf("SetParameters failed: %v", err)
		}

		after, err := m.Forward(x, false)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if !mat.EqualApprox(beforeCopy, after, tolerance) {
			t.Error("round-tripping parameters changed the model output")
		}
	})

	t.Run("rejects a mismatched snapshot count", func(t *testing.T) {
		params := m.GetParameters()
		if err := m.SetParameters(params[:1]); err == nil {
			t.Error("expected error for snapshot count mismatch")
		}
	})

	t.Run("snapshots are insulated from the live model", func(t *testing.T) {
		before, _ := m.Forward(x, false)
		beforeCopy := mat.DenseCopyOf(before)

		params := m.GetParameters()
		params[0].Weights.Set(0, 0, 1e6)

		after, _ := m.Forward(x, false)
		if !mat.EqualApprox(beforeCopy, after, tolerance) {
			t.Error("mutating a snapshot changed the live model")
		}
	})
}
