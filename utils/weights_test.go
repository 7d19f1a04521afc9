package utils

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"hemnist/tensor"
)

func TestTensorToWeightData(t *testing.T) {
	ten := tensor.New(2, 3)
	for i := range ten.Data {
		ten.Data[i] = float64(i) * 0.5
	}

	wd := TensorToWeightData("test_weight", ten)

	if wd.Name != "test_weight" {
		t.Errorf("Name = %s, want test_weight", wd.Name)
	}
	if len(wd.Shape) != 2 || wd.Shape[0] != 2 || wd.Shape[1] != 3 {
		t.Errorf("Shape = %v, want [2, 3]", wd.Shape)
	}
	ten.Data[0] = 42
	if wd.Data[0] != 0 {
		t.Errorf("weight data aliases the tensor")
	}
}

func TestWeightDataToTensor(t *testing.T) {
	wd := &WeightData{
		Name:  "test",
		Shape: []int{3, 4},
		Data:  make([]float64, 12),
	}
	for i := range wd.Data {
		wd.Data[i] = float64(i)
	}

	ten, err := WeightDataToTensor(wd)
	if err != nil {
		t.Fatalf("WeightDataToTensor failed: %v", err)
	}
	if len(ten.Shape) != 2 || ten.Shape[0] != 3 || ten.Shape[1] != 4 {
		t.Errorf("Shape = %v, want [3, 4]", ten.Shape)
	}
	for i, v := range ten.Data {
		if v != float64(i) {
			t.Errorf("Data[%d] = %f, want %f", i, v, float64(i))
		}
	}

	wd.Data = wd.Data[:5]
	if _, err := WeightDataToTensor(wd); !errors.Is(err, ErrWeightShape) {
		t.Errorf("short data: got %v, want ErrWeightShape", err)
	}
}

func TestWeightDataToTensorBadShape(t *testing.T) {
	shapes := map[string][]int{
		"negative": {-2, -6},
		"zero":     {0, 12},
		"overflow": {math.MaxInt / 2, 4},
		"empty":    nil,
	}
	for name, shape := range shapes {
		t.Run(name, func(t *testing.T) {
			wd := &WeightData{Name: "bad", Shape: shape, Data: make([]float64, 12)}
			_, err := WeightDataToTensor(wd)
			require.ErrorIs(t, err, ErrWeightShape)
		})
	}
}

func TestSaveLoadDemoWeights(t *testing.T) {
	tmpDir := t.TempDir()
	weightsFile := filepath.Join(tmpDir, "weights.json")

	weights := DemoWeights(4, 32, 1, 7)
	if err := SaveWeights(weightsFile, weights); err != nil {
		t.Fatalf("SaveWeights failed: %v", err)
	}
	loaded, err := LoadWeights(weightsFile)
	if err != nil {
		t.Fatalf("LoadWeights failed: %v", err)
	}
	if len(loaded.Layers) != 3 {
		t.Fatalf("Layers count = %d, want 3", len(loaded.Layers))
	}

	w, b, err := loaded.Tensors(LayerFC1, []int{32, 400}, []int{32})
	if err != nil {
		t.Fatalf("Tensors failed: %v", err)
	}
	if w.Data[5] != weights.Layers[LayerFC1].Weight.Data[5] || len(b.Data) != 32 {
		t.Errorf("fc1 did not survive the round trip")
	}
	limit := 1 / 20.0 // scale / sqrt(400)
	for i, v := range w.Data {
		if v < -limit || v > limit {
			t.Fatalf("fc1 weight %d = %f outside +-%f", i, v, limit)
		}
	}

	if _, _, err := loaded.Tensors(LayerFC2, []int{10, 16}, []int{10}); !errors.Is(err, ErrWeightShape) {
		t.Errorf("wrong shape: got %v, want ErrWeightShape", err)
	}
	if _, _, err := loaded.Tensors("conv9", nil, nil); !errors.Is(err, ErrWeightShape) {
		t.Errorf("missing layer: got %v, want ErrWeightShape", err)
	}
}

func TestDemoWeightsDeterministic(t *testing.T) {
	a := DemoWeights(2, 8, 1, 99)
	b := DemoWeights(2, 8, 1, 99)
	c := DemoWeights(2, 8, 1, 100)
	fa, _ := WeightsFingerprint(a)
	fb, _ := WeightsFingerprint(b)
	fc, _ := WeightsFingerprint(c)
	if fa != fb {
		t.Errorf("same seed gave different weights")
	}
	if fa == fc {
		t.Errorf("different seeds gave identical weights")
	}
}

func TestEncodeDecodeBytes(t *testing.T) {
	original := []byte("test binary data with special chars: \x00\x01\x02")

	encoded := EncodeBytes(original)
	decoded, err := DecodeBytes(encoded)
	if err != nil {
		t.Fatalf("DecodeBytes failed: %v", err)
	}

	if string(decoded) != string(original) {
		t.Errorf("Round-trip failed: got %v, want %v", decoded, original)
	}
}

func TestLoadWeightsNotFound(t *testing.T) {
	_, err := LoadWeights("/nonexistent/path/weights.json")
	if err == nil {
		t.Error("Expected error for nonexistent file")
	}
}

func TestLoadWeightsInvalidJSON(t *testing.T) {
	badFile := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(badFile, []byte("not valid json"), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	if _, err := LoadWeights(badFile); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}
