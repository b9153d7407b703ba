package metrics

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const tolerance = 1e-6

func TestCategoricalAccuracy(t *testing.T) {
	a := NewCategoricalAccuracy()
	predictions := mat.NewDense(4, 1, []float64{0, 1, 2, 1})

	t.Run("sparse targets", func(t *testing.T) {
		y := mat.NewDense(4, 1, []float64{0, 1, 1, 1})
		got := a.Calculate(predictions, y, false)
		if math.Abs(got-0.75) > tolerance {
			t.Errorf("accuracy = %f, want 0.75", got)
		}
	})

	t.Run("one-hot targets", func(t *testing.T) {
		y := mat.NewDense(4, 3, []float64{
			1, 0, 0,
			0, 1, 0,
			0, 1, 0,
			0, 0, 1,
		})
		got := a.Calculate(predictions, y, false)
		if math.Abs(got-0.5) > tolerance {
			t.Errorf("accuracy = %f, want 0.5", got)
		}
	})
}

func TestBinaryAccuracy(t *testing.T) {
	a := NewBinaryAccuracy()
	if a.Name() != "binary_accuracy" {
		t.Errorf("Name() = %q, want binary_accuracy", a.Name())
	}

	predictions := mat.NewDense(2, 2, []float64{1, 0, 1, 1})
	y := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	got := a.Calculate(predictions, y, false)
	if math.Abs(got-0.75) > tolerance {
		t.Errorf("accuracy = %f, want 0.75", got)
	}
}

func TestAccuracyAccumulation(t *testing.T) {
	a := NewCategoricalAccuracy()
	y := mat.NewDense(5, 1, []float64{0, 0, 0, 0, 0})

	// Batch of 4 with 2 matches, then a short batch of 1 with 1 match:
	// the accumulated accuracy weights by sample count, not by batch.
	a.Calculate(mat.NewDense(4, 1, []float64{0, 0, 1, 1}), y.Slice(0, 4, 0, 1).(*mat.Dense), true)
	a.Calculate(mat.NewDense(1, 1, []float64{0}), y.Slice(4, 5, 0, 1).(*mat.Dense), true)

	if got := a.Accumulated(); math.Abs(got-0.6) > tolerance {
		t.Errorf("accumulated accuracy = %f, want 0.6", got)
	}

	a.Reset()
	if got := a.Accumulated(); got != 0 {
		t.Errorf("accumulated accuracy after reset = %f, want 0", got)
	}
}

func TestRegressionAccuracy(t *testing.T) {
	y := mat.NewDense(4, 1, []float64{1, 2, 3, 4})

	t.Run("precision derives from target spread", func(t *testing.T) {
		r := NewRegressionAccuracy()
		r.Init(y)
		want := stat.StdDev([]float64{1, 2, 3, 4}, nil) / 250
		if math.Abs(r.Precision()-want) > tolerance {
			t.Errorf("precision = %f, want %f", r.Precision(), want)
		}
	})

	t.Run("custom divisor widens the band", func(t *testing.T) {
		r := &RegressionAccuracy{Divisor: 2}
		r.Init(y)
		want := stat.StdDev([]float64{1, 2, 3, 4}, nil) / 2
		if math.Abs(r.Precision()-want) > tolerance {
			t.Errorf("precision = %f, want %f", r.Precision(), want)
		}
	})

	t.Run("counts predictions inside the band", func(t *testing.T) {
		r := &RegressionAccuracy{Divisor: 2}
		r.Init(y)

		band := r.Precision()
		predictions := mat.NewDense(4, 1, []float64{
			1 + band/2,  // inside
			2 - band/2,  // inside
			3 + 2*band,  // outside
			4 - 10*band, // outside
		})
		got := r.Calculate(predictions, y, false)
		if math.Abs(got-0.5) > tolerance {
			t.Errorf("accuracy = %f, want 0.5", got)
		}
	})
}

func TestMetricNames(t *testing.T) {
	cases := []struct {
		m    Accuracy
		want string
	}{
		{NewCategoricalAccuracy(), "categorical_accuracy"},
		{NewBinaryAccuracy(), "binary_accuracy"},
		{NewRegressionAccuracy(), "regression_accuracy"},
	}
	for _, tc := range cases {
		if got := tc.m.Name(); got != tc.want {
			t.Errorf("Name() = %q, want %q", got, tc.want)
		}
	}
}
