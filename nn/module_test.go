package nn

import (
	"errors"
	"testing"

	"hemnist/core/scheme"
	"hemnist/nn/layers"
	"hemnist/tensor"
)

// dummy layer: adds a constant, optionally claiming depth
type addLayer struct {
	c      float64
	levels int
	rots   []int
	calls  int
}

func (l *addLayer) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	out := tensor.New(x.Shape...)
	for i, v := range x.Data {
		out.Data[i] = v + l.c
	}
	return out, nil
}
func (l *addLayer) ForwardHE(ev scheme.Evaluator, in *layers.Packed) (*layers.Packed, error) {
	l.calls++
	return in, nil
}
func (l *addLayer) Plan(in layers.Layout, slots int) (layers.Layout, []int, error) {
	return in, l.rots, nil
}
func (l *addLayer) Levels() int   { return l.levels }
func (l *addLayer) Rescales() int { return 1 }
func (l *addLayer) Tag() string   { return "add" }

// dummy layer: error on forward
type errLayer struct{}

func (l *errLayer) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	return nil, errors.New("fail")
}
func (l *errLayer) ForwardHE(ev scheme.Evaluator, in *layers.Packed) (*layers.Packed, error) {
	return nil, errors.New("fail")
}
func (l *errLayer) Plan(in layers.Layout, slots int) (layers.Layout, []int, error) {
	return nil, nil, errors.New("fail")
}
func (l *errLayer) Levels() int   { return 0 }
func (l *errLayer) Rescales() int { return 0 }
func (l *errLayer) Tag() string   { return "err" }

func TestSequentialForwardPlain(t *testing.T) {
	seq := &Sequential{Layers: []Module{&addLayer{c: 1}, &addLayer{c: 2}}}
	x := tensor.NewWithData([]float64{1, 2})
	out, err := seq.ForwardPlain(x)
	if err != nil {
		t.Fatalf("ForwardPlain error: %v", err)
	}
	if out.Data[0] != 4 || out.Data[1] != 5 {
		t.Errorf("got %v, want [4 5]", out.Data)
	}

	seq.Layers = append(seq.Layers, &errLayer{})
	if _, err := seq.ForwardPlain(x); err == nil {
		t.Errorf("expected the failing layer's error")
	}
}

func TestSequentialLevels(t *testing.T) {
	seq := &Sequential{Layers: []Module{&addLayer{levels: 1}, &addLayer{}, &addLayer{levels: 2}}}
	if seq.Levels() != 3 {
		t.Errorf("Levels = %d, want 3", seq.Levels())
	}
	if seq.Rescales() != 3 {
		t.Errorf("Rescales = %d, want 3", seq.Rescales())
	}
}

func TestSequentialForwardHEChecksBudgetFirst(t *testing.T) {
	first := &addLayer{levels: 1}
	second := &addLayer{levels: 1}
	seq := &Sequential{Layers: []Module{first, &addLayer{}, second}}
	in := &layers.Packed{Layout: layers.DenseLayout{N: 1}}

	budget := NewBudget(1)
	_, err := seq.ForwardHE(nil, in, budget)
	if !errors.Is(err, ErrDepthBudgetExceeded) {
		t.Fatalf("got %v, want ErrDepthBudgetExceeded", err)
	}
	if first.calls != 1 || second.calls != 0 {
		t.Errorf("calls = %d/%d, the second product must not run", first.calls, second.calls)
	}
	if budget.Used() != 1 || budget.Remaining() != 0 {
		t.Errorf("budget used %d remaining %d", budget.Used(), budget.Remaining())
	}

	budget = NewBudget(2)
	if _, err := seq.ForwardHE(nil, in, budget); err != nil {
		t.Fatalf("depth 2 should be enough: %v", err)
	}
}

func TestSequentialPlanDeduplicatesRotations(t *testing.T) {
	seq := &Sequential{Layers: []Module{&addLayer{rots: []int{1, 2}}, &addLayer{rots: []int{2, -3}}}}
	_, rots, err := seq.Plan(layers.DenseLayout{N: 1}, 16)
	if err != nil {
		t.Fatal(err)
	}
	want := []int{1, 2, -3}
	if len(rots) != len(want) {
		t.Fatalf("rotations %v, want %v", rots, want)
	}
	for i := range want {
		if rots[i] != want[i] {
			t.Fatalf("rotations %v, want %v", rots, want)
		}
	}

	seq.Layers = append(seq.Layers, &errLayer{})
	if _, _, err := seq.Plan(layers.DenseLayout{N: 1}, 16); err == nil {
		t.Errorf("expected plan error")
	}
}
