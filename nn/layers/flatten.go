package layers

import (
	"fmt"

	"hemnist/core/scheme"
	"hemnist/tensor"
)

// Flatten layer: reshapes tensor to 1D (plain), no-op for HE. The grid
// layout already defines the flattened index c*H*W + i*W + j through
// GridLayout.FeatureSlot.
type Flatten struct{}

func NewFlatten() *Flatten { return &Flatten{} }

func (f *Flatten) Tag() string   { return "Flatten" }
func (f *Flatten) Levels() int   { return 0 }
func (f *Flatten) Rescales() int { return 0 }

func (f *Flatten) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.NewWithData(x.Data), nil
}

func (f *Flatten) Plan(in Layout, slots int) (Layout, []int, error) {
	if _, ok := in.(GridLayout); !ok {
		return nil, nil, fmt.Errorf("Flatten: %w: want grid layout, got %s", ErrLayout, in)
	}
	return in, nil, nil
}

func (f *Flatten) ForwardHE(ev scheme.Evaluator, in *Packed) (*Packed, error) {
	if err := checkPacked(f.Tag(), in); err != nil {
		return nil, err
	}
	if _, _, err := f.Plan(in.Layout, ev.Slots()); err != nil {
		return nil, err
	}
	return in, nil
}
