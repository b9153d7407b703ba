// Package checkpoints serializes models to durable snapshots. A Checkpoint
// is built from a live model by copying only durable fields (architecture,
// parameter values, collaborator configuration); batch-scoped caches such as
// stored inputs, outputs, and gradients are never part of a snapshot, so a
// restored model is independent of the batch size last used. JSON and ONNX
// formats are supported, plus a lighter parameter-only snapshot loadable into
// any model with an identical trainable-layer sequence.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-grad/layers"
	"github.com/tsawler/go-grad/loss"
	"github.com/tsawler/go-grad/metrics"
	"github.com/tsawler/go-grad/model"
	"github.com/tsawler/go-grad/optimizer"
)

// Format defines the serialization format.
type Format int

const (
	FormatJSON Format = iota
	FormatONNX
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "JSON"
	case FormatONNX:
		return "ONNX"
	default:
		return "Unknown"
	}
}

// ModelConfig is the durable architecture description: layer specs plus the
// registry names and configuration of the collaborators.
type ModelConfig struct {
	Layers    []layers.LayerSpec `json:"layers"`
	Loss      string             `json:"loss"`
	Accuracy  string             `json:"accuracy"`
	Optimizer optimizer.Config   `json:"optimizer"`
}

// WeightTensor is one parameter tensor with its data.
type WeightTensor struct {
	Name  string    `json:"name"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"` // "weight" or "bias"
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// Metadata describes a checkpoint.
type Metadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// Checkpoint is a complete durable model snapshot.
type Checkpoint struct {
	Model    ModelConfig    `json:"model"`
	Weights  []WeightTensor `json:"weights"`
	Metadata Metadata       `json:"metadata"`
}

const (
	frameworkName    = "go-grad"
	frameworkVersion = "1.0.0"
)

// FromModel builds a checkpoint from a live, finalized model by copying its
// durable fields.
func FromModel(m *model.Model, description string) (*Checkpoint, error) {
	if !m.Finalized() {
		return nil, fmt.Errorf("checkpoint: model must be finalized")
	}

	cfg := ModelConfig{
		Loss:      m.Loss().Name(),
		Accuracy:  m.Accuracy().Name(),
		Optimizer: m.Optimizer().Config(),
	}

	var weights []WeightTensor
	for i, layer := range m.Layers() {
		spec := layer.Spec()
		spec.Name = fmt.Sprintf("%s_%d", strings.ToLower(spec.Type.String()), i)
		cfg.Layers = append(cfg.Layers, spec)

		t, ok := layer.(layers.Trainable)
		if !ok {
			continue
		}
		params := t.Parameters()
		weights = append(weights,
			tensorFrom(spec.Name, "weight", params.Weights),
			tensorFrom(spec.Name, "bias", params.Biases),
		)
	}

	return &Checkpoint{
		Model:   cfg,
		Weights: weights,
		Metadata: Metadata{
			Version:     frameworkVersion,
			Framework:   frameworkName,
			CreatedAt:   time.Now(),
			Description: description,
		},
	}, nil
}

// Restore reconstructs a finalized model from the checkpoint and loads its
// parameter values.
func (c *Checkpoint) Restore() (*model.Model, error) {
	m := model.New()
	for _, spec := range c.Model.Layers {
		layer, err := layers.FromSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: %v", err)
		}
		m.Add(layer)
	}

	lossFn, err := lossFromName(c.Model.Loss)
	if err != nil {
		return nil, err
	}
	acc, err := accuracyFromName(c.Model.Accuracy)
	if err != nil {
		return nil, err
	}
	opt, err := optimizer.FromConfig(c.Model.Optimizer)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %v", err)
	}
	m.Set(lossFn, opt, acc)

	if err := m.Finalize(); err != nil {
		return nil, fmt.Errorf("checkpoint: %v", err)
	}

	params, err := pairWeights(c.Weights)
	if err != nil {
		return nil, err
	}
	if err := m.SetParameters(params); err != nil {
		return nil, fmt.Errorf("checkpoint: %v", err)
	}
	return m, nil
}

// Saver saves and loads checkpoints in a chosen format.
type Saver struct {
	format Format
}

// NewSaver creates a checkpoint saver for the given format.
func NewSaver(format Format) *Saver {
	return &Saver{format: format}
}

// Save writes the checkpoint to path.
func (s *Saver) Save(c *Checkpoint, path string) error {
	switch s.format {
	case FormatJSON:
		return saveJSON(c, path)
	case FormatONNX:
		return exportONNX(c, path)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", s.format)
	}
}

// Load reads a checkpoint from path.
func (s *Saver) Load(path string) (*Checkpoint, error) {
	switch s.format {
	case FormatJSON:
		return loadJSON(path)
	case FormatONNX:
		return importONNX(path)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", s.format)
	}
}

func saveJSON(c *Checkpoint, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %v", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}
	return nil
}

func loadJSON(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}
	defer file.Close()

	var c Checkpoint
	if err := json.NewDecoder(file).Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}
	return &c, nil
}

// parameterFile is the parameter-only snapshot layout: one weight/bias pair
// per trainable layer, in trainable order.
type parameterFile struct {
	Framework  string         `json:"framework"`
	Version    string         `json:"version"`
	Parameters []WeightTensor `json:"parameters"`
}

// SaveParameters writes only the trainable layers' parameter values, in
// trainable order.
func SaveParameters(m *model.Model, path string) error {
	if !m.Finalized() {
		return fmt.Errorf("checkpoint: model must be finalized")
	}

	pf := parameterFile{Framework: frameworkName, Version: frameworkVersion}
	for i, params := range m.GetParameters() {
		name := fmt.Sprintf("trainable_%d", i)
		pf.Parameters = append(pf.Parameters,
			tensorFrom(name, "weight", params.Weights),
			tensorFrom(name, "bias", params.Biases),
		)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create parameter file: %v", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(pf); err != nil {
		return fmt.Errorf("failed to encode parameters: %v", err)
	}
	return nil
}

// LoadParameters loads a parameter-only snapshot into a finalized model with
// an identical trainable-layer sequence.
func LoadParameters(m *model.Model, path string) error {
	if !m.Finalized() {
		return fmt.Errorf("checkpoint: model must be finalized")
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open parameter file: %v", err)
	}
	defer file.Close()

	var pf parameterFile
	if err := json.NewDecoder(file).Decode(&pf); err != nil {
		return fmt.Errorf("failed to decode parameters: %v", err)
	}

	params, err := pairWeights(pf.Parameters)
	if err != nil {
		return err
	}
	return m.SetParameters(params)
}

// tensorFrom copies a parameter matrix into a WeightTensor.
func tensorFrom(layerName, kind string, m *mat.Dense) WeightTensor {
	rows, cols := m.Dims()
	data := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		data = append(data, m.RawRowView(i)...)
	}
	return WeightTensor{
		Name:  fmt.Sprintf("%s.%s", layerName, kind),
		Layer: layerName,
		Type:  kind,
		Shape: []int{rows, cols},
		Data:  data,
	}
}

// pairWeights groups a flat weight/bias tensor sequence into per-layer
// parameter snapshots.
func pairWeights(tensors []WeightTensor) ([]layers.Parameters, error) {
	if len(tensors)%2 != 0 {
		return nil, fmt.Errorf("checkpoint: weight tensor count %d is not an even weight/bias sequence", len(tensors))
	}

	params := make([]layers.Parameters, 0, len(tensors)/2)
	for i := 0; i < len(tensors); i += 2 {
		w, b := tensors[i], tensors[i+1]
		if w.Type != "weight" || b.Type != "bias" {
			return nil, fmt.Errorf("checkpoint: unexpected tensor order at %d: %s, %s", i, w.Type, b.Type)
		}
		wm, err := denseFrom(w)
		if err != nil {
			return nil, err
		}
		bm, err := denseFrom(b)
		if err != nil {
			return nil, err
		}
		params = append(params, layers.Parameters{Weights: wm, Biases: bm})
	}
	return params, nil
}

func denseFrom(t WeightTensor) (*mat.Dense, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("checkpoint: tensor %s must be 2D, got shape %v", t.Name, t.Shape)
	}
	if t.Shape[0]*t.Shape[1] != len(t.Data) {
		return nil, fmt.Errorf("checkpoint: tensor %s data length %d does not match shape %v",
			t.Name, len(t.Data), t.Shape)
	}
	return mat.NewDense(t.Shape[0], t.Shape[1], t.Data), nil
}

func lossFromName(name string) (loss.Loss, error) {
	switch name {
	case "categorical_cross_entropy":
		return loss.NewCategoricalCrossEntropy(), nil
	case "binary_cross_entropy":
		return loss.NewBinaryCrossEntropy(), nil
	case "mean_squared_error":
		return loss.NewMeanSquaredError(), nil
	case "mean_absolute_error":
		return loss.NewMeanAbsoluteError(), nil
	default:
		return nil, fmt.Errorf("checkpoint: unsupported loss: %q", name)
	}
}

func accuracyFromName(name string) (metrics.Accuracy, error) {
	switch name {
	case "categorical_accuracy":
		return metrics.NewCategoricalAccuracy(), nil
	case "binary_accuracy":
		return metrics.NewBinaryAccuracy(), nil
	case "regression_accuracy":
		return metrics.NewRegressionAccuracy(), nil
	default:
		return nil, fmt.Errorf("checkpoint: unsupported accuracy metric: %q", name)
	}
}
