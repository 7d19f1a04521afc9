package nn

import (
	"fmt"

	"hemnist/core/scheme"
	"hemnist/nn/layers"
	"hemnist/tensor"
)

// Module defines a single layer/unit in the network.
type Module interface {
	ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error)
	ForwardHE(ev scheme.Evaluator, in *layers.Packed) (*layers.Packed, error)
	// Plan maps an input layout to the output layout and lists the
	// rotations ForwardHE performs, without touching ciphertexts.
	Plan(in layers.Layout, slots int) (layers.Layout, []int, error)
	// Levels is the number of ciphertext-ciphertext products, the unit of
	// the depth budget.
	Levels() int
	// Rescales is the number of modulus levels the CKKS backend spends.
	Rescales() int
	Tag() string
}

// Sequential chains multiple Modules in order.
type Sequential struct {
	Layers []Module
}

// ForwardPlain applies each layer in sequence on float64 tensors.
func (s *Sequential) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	out := x
	for _, layer := range s.Layers {
		out, err = layer.ForwardPlain(out)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", layer.Tag(), err)
		}
	}
	return out, nil
}

// ForwardHE applies each layer on the packed ciphertexts. Layers that
// multiply ciphertexts reserve their depth from budget first, so an
// exhausted budget fails before the product is attempted.
func (s *Sequential) ForwardHE(ev scheme.Evaluator, in *layers.Packed, budget *Budget) (*layers.Packed, error) {
	var err error
	out := in
	for _, layer := range s.Layers {
		if n := layer.Levels(); n > 0 {
			if err := budget.Require(n, layer.Tag()); err != nil {
				return nil, err
			}
		}
		out, err = layer.ForwardHE(ev, out)
		if err != nil {
			return nil, err
		}
		budget.Consume(layer.Levels())
	}
	return out, nil
}

// Plan threads a layout through all layers and returns the final layout
// and the union of rotations, in first-use order.
func (s *Sequential) Plan(in layers.Layout, slots int) (layers.Layout, []int, error) {
	var all []int
	seen := map[int]bool{}
	cur := in
	for _, layer := range s.Layers {
		next, rots, err := layer.Plan(cur, slots)
		if err != nil {
			return nil, nil, err
		}
		for _, r := range rots {
			if !seen[r] {
				seen[r] = true
				all = append(all, r)
			}
		}
		cur = next
	}
	return cur, all, nil
}

// Levels sums Levels() of all layers.
func (s *Sequential) Levels() int {
	sum := 0
	for _, layer := range s.Layers {
		sum += layer.Levels()
	}
	return sum
}

// Rescales sums Rescales() of all layers.
func (s *Sequential) Rescales() int {
	sum := 0
	for _, layer := range s.Layers {
		sum += layer.Rescales()
	}
	return sum
}
