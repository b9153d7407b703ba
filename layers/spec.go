package layers

import "fmt"

// LayerType identifies the kind of a layer in a serialized model.
type LayerType int

const (
	DenseLayer LayerType = iota
	DropoutLayer
	ReLULayer
	SigmoidLayer
	LinearLayer
	SoftmaxLayer
)

func (lt LayerType) String() string {
	switch lt {
	case DenseLayer:
		return "Dense"
	case DropoutLayer:
		return "Dropout"
	case ReLULayer:
		return "ReLU"
	case SigmoidLayer:
		return "Sigmoid"
	case LinearLayer:
		return "Linear"
	case SoftmaxLayer:
		return "Softmax"
	default:
		return fmt.Sprintf("Unknown(%d)", int(lt))
	}
}

// LayerSpec is the serializable configuration of a layer: type plus the
// numeric parameters needed to reconstruct it. Parameter values (weights,
// biases) are stored separately by the checkpoint layer.
type LayerSpec struct {
	Type       LayerType          `json:"type"`
	Name       string             `json:"name,omitempty"`
	Parameters map[string]float64 `json:"parameters,omitempty"`
}

// param reads a named parameter from the spec, falling back to def.
func (s LayerSpec) param(key string, def float64) float64 {
	if v, ok := s.Parameters[key]; ok {
		return v
	}
	return def
}

// FromSpec constructs a fresh layer from its serialized configuration.
// Dense layers come back with newly initialized parameters; callers restoring
// a checkpoint load the saved parameter values afterwards.
func FromSpec(spec LayerSpec) (Layer, error) {
	switch spec.Type {
	case DenseLayer:
		inputs := int(spec.param("inputs", 0))
		outputs := int(spec.param("outputs", 0))
		if inputs <= 0 || outputs <= 0 {
			return nil, fmt.Errorf("dense spec %q: invalid dimensions %dx%d", spec.Name, inputs, outputs)
		}
		reg := Regularizer{
			WeightL1: spec.param("weight_l1", 0),
			WeightL2: spec.param("weight_l2", 0),
			BiasL1:   spec.param("bias_l1", 0),
			BiasL2:   spec.param("bias_l2", 0),
		}
		return NewDenseRegularized(inputs, outputs, reg), nil
	case DropoutLayer:
		rate := spec.param("rate", 0)
		if rate < 0 || rate >= 1 {
			return nil, fmt.Errorf("dropout spec %q: invalid rate %f", spec.Name, rate)
		}
		return NewDropout(rate), nil
	case ReLULayer:
		return NewReLU(), nil
	case SigmoidLayer:
		return NewSigmoid(), nil
	case LinearLayer:
		return NewLinear(), nil
	case SoftmaxLayer:
		return NewSoftmax(), nil
	default:
		return nil, fmt.Errorf("unsupported layer type: %s", spec.Type)
	}
}
