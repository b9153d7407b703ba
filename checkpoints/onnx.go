package checkpoints

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tsawler/go-grad/layers"
)

// ONNX wire-format field numbers, per onnx/onnx.proto.
const (
	fieldModelIRVersion       = 1
	fieldModelProducerName    = 2
	fieldModelProducerVersion = 3
	fieldModelDomain          = 4
	fieldModelVersion         = 5
	fieldModelGraph           = 7
	fieldModelOpsetImport     = 8
	fieldModelMetadataProps   = 14

	fieldGraphNode        = 1
	fieldGraphName        = 2
	fieldGraphInitializer = 5
	fieldGraphInput       = 11
	fieldGraphOutput      = 12

	fieldNodeInput     = 1
	fieldNodeOutput    = 2
	fieldNodeName      = 3
	fieldNodeOpType    = 4
	fieldNodeAttribute = 5

	fieldAttrName  = 1
	fieldAttrFloat = 2
	fieldAttrType  = 20

	fieldTensorDims       = 1
	fieldTensorDataType   = 2
	fieldTensorFloatData  = 4
	fieldTensorName       = 8
	fieldTensorDoubleData = 10

	fieldValueInfoName = 1
	fieldValueInfoType = 2

	fieldTypeTensorType = 1
	fieldTensorTypeElem = 1
	fieldTensorTypeDims = 2

	fieldShapeDim     = 1
	fieldDimValue     = 1
	fieldDimParam     = 2
	fieldOpsetDomain  = 1
	fieldOpsetVersion = 2

	fieldStringEntryKey   = 1
	fieldStringEntryValue = 2
)

const (
	attrTypeFloat = 1

	onnxDataTypeFloat  = 1
	onnxDataTypeDouble = 11

	onnxIRVersion    = 8
	onnxOpsetVersion = 13
)

// configMetadataKey is the metadata_props entry carrying the full model
// configuration so an exported model round-trips losslessly.
const configMetadataKey = "go_grad_config"

// exportONNX writes the checkpoint as an ONNX ModelProto. Layers become
// standard ONNX nodes (Gemm, Relu, Sigmoid, Softmax, Dropout, Identity) and
// parameters become DOUBLE initializers; the collaborator configuration rides
// along in metadata_props.
func exportONNX(c *Checkpoint, path string) error {
	graph, err := buildGraph(c)
	if err != nil {
		return err
	}

	cfgJSON, err := json.Marshal(c.Model)
	if err != nil {
		return fmt.Errorf("failed to encode model config: %v", err)
	}

	var buf []byte
	buf = appendVarintField(buf, fieldModelIRVersion, onnxIRVersion)
	buf = appendStringField(buf, fieldModelProducerName, frameworkName)
	buf = appendStringField(buf, fieldModelProducerVersion, frameworkVersion)
	buf = appendVarintField(buf, fieldModelVersion, 1)
	buf = appendBytesField(buf, fieldModelGraph, graph)
	buf = appendBytesField(buf, fieldModelOpsetImport, buildOpset())
	buf = appendBytesField(buf, fieldModelMetadataProps, buildStringEntry(configMetadataKey, string(cfgJSON)))

	if err := os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("failed to write ONNX file: %v", err)
	}
	return nil
}

func buildOpset() []byte {
	var buf []byte
	buf = appendStringField(buf, fieldOpsetDomain, "")
	buf = appendVarintField(buf, fieldOpsetVersion, onnxOpsetVersion)
	return buf
}

func buildGraph(c *Checkpoint) ([]byte, error) {
	tensors := make(map[string]WeightTensor, len(c.Weights))
	for _, w := range c.Weights {
		tensors[w.Name] = w
	}

	var buf []byte
	var inputFeatures int
	prev := "input"

	var nodes [][]byte
	var initializers [][]byte
	for _, spec := range c.Model.Layers {
		out := spec.Name + "_out"
		node, err := buildNode(spec, prev, out, tensors, &initializers)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)

		if spec.Type == layers.DenseLayer && inputFeatures == 0 {
			inputFeatures = int(spec.Parameters["inputs"])
		}
		prev = out
	}

	buf = appendStringField(buf, fieldGraphName, frameworkName+"_model")
	for _, n := range nodes {
		buf = appendBytesField(buf, fieldGraphNode, n)
	}
	for _, init := range initializers {
		buf = appendBytesField(buf, fieldGraphInitializer, init)
	}
	buf = appendBytesField(buf, fieldGraphInput, buildValueInfo("input", inputFeatures))
	buf = appendBytesField(buf, fieldGraphOutput, buildValueInfo(prev, 0))
	return buf, nil
}

func buildNode(spec layers.LayerSpec, in, out string, tensors map[string]WeightTensor, initializers *[][]byte) ([]byte, error) {
	var buf []byte
	inputs := []string{in}
	var opType string
	var attrs [][]byte

	switch spec.Type {
	case layers.DenseLayer:
		opType = "Gemm"
		wName, bName := spec.Name+".weight", spec.Name+".bias"
		w, ok := tensors[wName]
		if !ok {
			return nil, fmt.Errorf("checkpoint: missing weight tensor for layer %s", spec.Name)
		}
		b, ok := tensors[bName]
		if !ok {
			return nil, fmt.Errorf("checkpoint: missing bias tensor for layer %s", spec.Name)
		}
		inputs = append(inputs, wName, bName)
		*initializers = append(*initializers, buildTensor(w), buildTensor(b))
	case layers.ReLULayer:
		opType = "Relu"
	case layers.SigmoidLayer:
		opType = "Sigmoid"
	case layers.SoftmaxLayer:
		opType = "Softmax"
	case layers.DropoutLayer:
		opType = "Dropout"
		attrs = append(attrs, buildFloatAttr("ratio", spec.Parameters["rate"]))
	case layers.LinearLayer:
		opType = "Identity"
	default:
		return nil, fmt.Errorf("checkpoint: layer type %s has no ONNX mapping", spec.Type)
	}

	for _, input := range inputs {
		buf = appendStringField(buf, fieldNodeInput, input)
	}
	buf = appendStringField(buf, fieldNodeOutput, out)
	buf = appendStringField(buf, fieldNodeName, spec.Name)
	buf = appendStringField(buf, fieldNodeOpType, opType)
	for _, a := range attrs {
		buf = appendBytesField(buf, fieldNodeAttribute, a)
	}
	return buf, nil
}

func buildFloatAttr(name string, v float64) []byte {
	var buf []byte
	buf = appendStringField(buf, fieldAttrName, name)
	buf = protowire.AppendTag(buf, fieldAttrFloat, protowire.Fixed32Type)
	buf = protowire.AppendFixed32(buf, math.Float32bits(float32(v)))
	buf = appendVarintField(buf, fieldAttrType, attrTypeFloat)
	return buf
}

func buildTensor(t WeightTensor) []byte {
	var dims []byte
	for _, d := range t.Shape {
		dims = protowire.AppendVarint(dims, uint64(d))
	}
	var data []byte
	for _, v := range t.Data {
		data = protowire.AppendFixed64(data, math.Float64bits(v))
	}

	var buf []byte
	buf = appendBytesField(buf, fieldTensorDims, dims)
	buf = appendVarintField(buf, fieldTensorDataType, onnxDataTypeDouble)
	buf = appendStringField(buf, fieldTensorName, t.Name)
	buf = appendBytesField(buf, fieldTensorDoubleData, data)
	return buf
}

// buildValueInfo emits a DOUBLE tensor value info with a symbolic batch
// dimension. features of 0 leaves the feature dimension symbolic too.
func buildValueInfo(name string, features int) []byte {
	var batchDim []byte
	batchDim = appendStringField(batchDim, fieldDimParam, "N")

	var shape []byte
	shape = appendBytesField(shape, fieldShapeDim, batchDim)
	if features > 0 {
		var featDim []byte
		featDim = appendVarintField(featDim, fieldDimValue, uint64(features))
		shape = appendBytesField(shape, fieldShapeDim, featDim)
	}

	var tensorType []byte
	tensorType = appendVarintField(tensorType, fieldTensorTypeElem, onnxDataTypeDouble)
	tensorType = appendBytesField(tensorType, fieldTensorTypeDims, shape)

	var typeProto []byte
	typeProto = appendBytesField(typeProto, fieldTypeTensorType, tensorType)

	var buf []byte
	buf = appendStringField(buf, fieldValueInfoName, name)
	buf = appendBytesField(buf, fieldValueInfoType, typeProto)
	return buf
}

func buildStringEntry(key, value string) []byte {
	var buf []byte
	buf = appendStringField(buf, fieldStringEntryKey, key)
	buf = appendStringField(buf, fieldStringEntryValue, value)
	return buf
}

// importONNX reads a model exported by exportONNX. The configuration
// metadata entry is required; initializer order supplies the weight/bias
// sequence.
func importONNX(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ONNX file: %v", err)
	}

	var graphData, cfgJSON []byte
	var producer, version string
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("failed to parse ONNX model: %v", protowire.ParseError(n))
		}
		data = data[n:]

		if typ == protowire.BytesType {
			v, vn := protowire.ConsumeBytes(data)
			if vn < 0 {
				return nil, fmt.Errorf("failed to parse ONNX model: %v", protowire.ParseError(vn))
			}
			data = data[vn:]
			switch num {
			case fieldModelGraph:
				graphData = v
			case fieldModelProducerName:
				producer = string(v)
			case fieldModelProducerVersion:
				version = string(v)
			case fieldModelMetadataProps:
				key, value, err := parseStringEntry(v)
				if err != nil {
					return nil, err
				}
				if key == configMetadataKey {
					cfgJSON = value
				}
			}
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, fmt.Errorf("failed to parse ONNX model: %v", protowire.ParseError(n))
		}
		data = data[n:]
	}

	if graphData == nil {
		return nil, fmt.Errorf("checkpoint: ONNX model has no graph")
	}
	if cfgJSON == nil {
		return nil, fmt.Errorf("checkpoint: ONNX model is missing the %s metadata entry", configMetadataKey)
	}

	var cfg ModelConfig
	if err := json.Unmarshal(cfgJSON, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode model config: %v", err)
	}

	weights, err := parseGraphInitializers(graphData)
	if err != nil {
		return nil, err
	}

	return &Checkpoint{
		Model:   cfg,
		Weights: weights,
		Metadata: Metadata{
			Version:   version,
			Framework: producer,
		},
	}, nil
}

func parseStringEntry(data []byte) (string, []byte, error) {
	var key string
	var value []byte
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", nil, fmt.Errorf("failed to parse metadata entry: %v", protowire.ParseError(n))
		}
		data = data[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return "", nil, fmt.Errorf("failed to parse metadata entry: %v", protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		v, vn := protowire.ConsumeBytes(data)
		if vn < 0 {
			return "", nil, fmt.Errorf("failed to parse metadata entry: %v", protowire.ParseError(vn))
		}
		data = data[vn:]
		switch num {
		case fieldStringEntryKey:
			key = string(v)
		case fieldStringEntryValue:
			value = v
		}
	}
	return key, value, nil
}

func parseGraphInitializers(data []byte) ([]WeightTensor, error) {
	var weights []WeightTensor
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("failed to parse ONNX graph: %v", protowire.ParseError(n))
		}
		data = data[n:]

		if num == fieldGraphInitializer && typ == protowire.BytesType {
			v, vn := protowire.ConsumeBytes(data)
			if vn < 0 {
				return nil, fmt.Errorf("failed to parse ONNX graph: %v", protowire.ParseError(vn))
			}
			data = data[vn:]
			t, err := parseTensor(v)
			if err != nil {
				return nil, err
			}
			weights = append(weights, t)
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, fmt.Errorf("failed to parse ONNX graph: %v", protowire.ParseError(n))
		}
		data = data[n:]
	}
	return weights, nil
}

func parseTensor(data []byte) (WeightTensor, error) {
	var t WeightTensor
	dataType := uint64(onnxDataTypeDouble)

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return t, fmt.Errorf("failed to parse ONNX tensor: %v", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldTensorDims && typ == protowire.BytesType:
			v, vn := protowire.ConsumeBytes(data)
			if vn < 0 {
				return t, fmt.Errorf("failed to parse ONNX tensor: %v", protowire.ParseError(vn))
			}
			data = data[vn:]
			for len(v) > 0 {
				d, dn := protowire.ConsumeVarint(v)
				if dn < 0 {
					return t, fmt.Errorf("failed to parse tensor dims: %v", protowire.ParseError(dn))
				}
				v = v[dn:]
				t.Shape = append(t.Shape, int(d))
			}
		case num == fieldTensorDims && typ == protowire.VarintType:
			d, dn := protowire.ConsumeVarint(data)
			if dn < 0 {
				return t, fmt.Errorf("failed to parse tensor dims: %v", protowire.ParseError(dn))
			}
			data = data[dn:]
			t.Shape = append(t.Shape, int(d))
		case num == fieldTensorDataType && typ == protowire.VarintType:
			v, vn := protowire.ConsumeVarint(data)
			if vn < 0 {
				return t, fmt.Errorf("failed to parse ONNX tensor: %v", protowire.ParseError(vn))
			}
			data = data[vn:]
			dataType = v
		case num == fieldTensorName && typ == protowire.BytesType:
			v, vn := protowire.ConsumeBytes(data)
			if vn < 0 {
				return t, fmt.Errorf("failed to parse ONNX tensor: %v", protowire.ParseError(vn))
			}
			data = data[vn:]
			t.Name = string(v)
		case num == fieldTensorDoubleData && typ == protowire.BytesType:
			v, vn := protowire.ConsumeBytes(data)
			if vn < 0 {
				return t, fmt.Errorf("failed to parse ONNX tensor: %v", protowire.ParseError(vn))
			}
			data = data[vn:]
			for len(v) > 0 {
				bits, bn := protowire.ConsumeFixed64(v)
				if bn < 0 {
					return t, fmt.Errorf("failed to parse tensor data: %v", protowire.ParseError(bn))
				}
				v = v[bn:]
				t.Data = append(t.Data, math.Float64frombits(bits))
			}
		case num == fieldTensorFloatData && typ == protowire.BytesType:
			v, vn := protowire.ConsumeBytes(data)
			if vn < 0 {
				return t, fmt.Errorf("failed to parse ONNX tensor: %v", protowire.ParseError(vn))
			}
			data = data[vn:]
			for len(v) > 0 {
				bits, bn := protowire.ConsumeFixed32(v)
				if bn < 0 {
					return t, fmt.Errorf("failed to parse tensor data: %v", protowire.ParseError(bn))
				}
				v = v[bn:]
				t.Data = append(t.Data, float64(math.Float32frombits(bits)))
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return t, fmt.Errorf("failed to parse ONNX tensor: %v", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	if dataType != onnxDataTypeDouble && dataType != onnxDataTypeFloat {
		return t, fmt.Errorf("checkpoint: unsupported tensor data type %d for %s", dataType, t.Name)
	}
	if i := strings.LastIndex(t.Name, "."); i >= 0 {
		t.Layer = t.Name[:i]
		t.Type = t.Name[i+1:]
	}
	return t, nil
}

func appendVarintField(buf []byte, num protowire.Number, v uint64) []byte {
	buf = protowire.AppendTag(buf, num, protowire.VarintType)
	return protowire.AppendVarint(buf, v)
}

func appendBytesField(buf []byte, num protowire.Number, v []byte) []byte {
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendBytes(buf, v)
}

func appendStringField(buf []byte, num protowire.Number, v string) []byte {
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendString(buf, v)
}
