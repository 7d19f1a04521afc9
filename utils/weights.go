package utils

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"hemnist/tensor"
)

// ErrWeightShape is returned when a weights file does not describe the
// network the caller expects.
var ErrWeightShape = errors.New("weight shape mismatch")

// Layer names used in weight files.
const (
	LayerConv = "conv1"
	LayerFC1  = "fc1"
	LayerFC2  = "fc2"
)

// WeightData represents serializable weight data for a layer
type WeightData struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// ModelWeights represents all weights in a model
type ModelWeights struct {
	Version string                 `json:"version"`
	Layers  map[string]LayerWeight `json:"layers"`
}

// LayerWeight contains weights and bias for a layer
type LayerWeight struct {
	Weight *WeightData `json:"weight,omitempty"`
	Bias   *WeightData `json:"bias,omitempty"`
}

// SaveWeights saves model weights to a JSON file
func SaveWeights(filepath string, weights *ModelWeights) error {
	data, err := json.MarshalIndent(weights, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}
	return os.WriteFile(filepath, data, 0644)
}

// LoadWeights loads model weights from a JSON file
func LoadWeights(filepath string) (*ModelWeights, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights file: %w", err)
	}
	var weights ModelWeights
	if err := json.Unmarshal(data, &weights); err != nil {
		return nil, fmt.Errorf("failed to unmarshal weights: %w", err)
	}
	return &weights, nil
}

// Tensors returns the weight and bias of layer name, checking that they
// have the expected shapes.
func (m *ModelWeights) Tensors(name string, weightShape, biasShape []int) (w, b *tensor.Tensor, err error) {
	lw, ok := m.Layers[name]
	if !ok || lw.Weight == nil || lw.Bias == nil {
		return nil, nil, fmt.Errorf("%w: layer %q missing weight or bias", ErrWeightShape, name)
	}
	if w, err = WeightDataToTensor(lw.Weight); err != nil {
		return nil, nil, fmt.Errorf("layer %q weight: %w", name, err)
	}
	if b, err = WeightDataToTensor(lw.Bias); err != nil {
		return nil, nil, fmt.Errorf("layer %q bias: %w", name, err)
	}
	if !equalShape(w.Shape, weightShape) || !equalShape(b.Shape, biasShape) {
		return nil, nil, fmt.Errorf("%w: layer %q has %v/%v, want %v/%v", ErrWeightShape, name, w.Shape, b.Shape, weightShape, biasShape)
	}
	return w, b, nil
}

// TensorToWeightData converts a tensor to serializable weight data
func TensorToWeightData(name string, t *tensor.Tensor) *WeightData {
	return &WeightData{
		Name:  name,
		Shape: t.Shape,
		Data:  append([]float64{}, t.Data...), // copy
	}
}

// WeightDataToTensor converts weight data back to a tensor
func WeightDataToTensor(wd *WeightData) (*tensor.Tensor, error) {
	// the product is bounded by len(Data) so it cannot overflow
	total := 1
	for _, d := range wd.Shape {
		if d <= 0 {
			return nil, fmt.Errorf("%w: %s has dimension %d in shape %v", ErrWeightShape, wd.Name, d, wd.Shape)
		}
		if total > len(wd.Data)/d {
			return nil, fmt.Errorf("%w: %s has %d values for shape %v", ErrWeightShape, wd.Name, len(wd.Data), wd.Shape)
		}
		total *= d
	}
	if len(wd.Shape) == 0 || total != len(wd.Data) {
		return nil, fmt.Errorf("%w: %s has %d values for shape %v", ErrWeightShape, wd.Name, len(wd.Data), wd.Shape)
	}
	t := tensor.New(wd.Shape...)
	copy(t.Data, wd.Data)
	return t, nil
}

// DemoWeights draws a weight set for the reference network with the given
// number of convolution channels and hidden units. Weights are uniform in
// +-scale/sqrt(fan_in), biases are small. The same seed gives the same
// weights.
func DemoWeights(channels, hidden int, scale float64, seed uint64) *ModelWeights {
	src := rand.NewSource(seed)
	draw := func(name string, fanIn int, shape ...int) *WeightData {
		t := tensor.New(shape...)
		dist := distuv.Uniform{Min: -scale / math.Sqrt(float64(fanIn)), Max: scale / math.Sqrt(float64(fanIn)), Src: src}
		for i := range t.Data {
			t.Data[i] = dist.Rand()
		}
		return TensorToWeightData(name, t)
	}
	bias := func(name string, n int) *WeightData {
		t := tensor.New(n)
		dist := distuv.Normal{Mu: 0, Sigma: 0.01, Src: src}
		for i := range t.Data {
			t.Data[i] = dist.Rand()
		}
		return TensorToWeightData(name, t)
	}
	features := channels * 10 * 10
	return &ModelWeights{
		Version: "1",
		Layers: map[string]LayerWeight{
			LayerConv: {Weight: draw("conv1.weight", 49, channels, 1, 7, 7), Bias: bias("conv1.bias", channels)},
			LayerFC1:  {Weight: draw("fc1.weight", features, hidden, features), Bias: bias("fc1.bias", hidden)},
			LayerFC2:  {Weight: draw("fc2.weight", hidden, 10, hidden), Bias: bias("fc2.bias", 10)},
		},
	}
}

// EncodeBytes encodes raw bytes to base64 string
func EncodeBytes(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBytes decodes base64 string to raw bytes
func DecodeBytes(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
