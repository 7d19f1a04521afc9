package layers

import (
	"fmt"

	"hemnist/core/scheme"
	"hemnist/tensor"
)

// Poly holds the definition of a polynomial activation
// Coeffs[0] + Coeffs[1]*x + Coeffs[2]*x^2 + ...
type Poly struct {
	Name   string
	Coeffs []float64
	Degree int
	Levels int // ciphertext products consumed by the HE evaluation
}

// SupportedPolynomials contains the activations the encrypted path can
// evaluate. Comparisons are not available under CKKS, so ReLU and friends
// have no entry.
var SupportedPolynomials = map[string]Poly{
	"Square": {
		Name:   "Square",
		Coeffs: []float64{0, 0, 1},
		Degree: 2,
		Levels: 1,
	},
}

// Activation is a layer that applies a polynomial function.
type Activation struct {
	poly Poly
}

// NewActivation creates a new activation layer.
func NewActivation(polyName string) (*Activation, error) {
	poly, ok := SupportedPolynomials[polyName]
	if !ok {
		return nil, fmt.Errorf("unsupported polynomial: %s", polyName)
	}
	// slots past a layout's support must stay zero, so no constant term
	if poly.Degree != 2 || len(poly.Coeffs) != 3 || poly.Coeffs[0] != 0 || poly.Coeffs[1] != 0 {
		return nil, fmt.Errorf("polynomial %s: only c*x^2 is evaluated homomorphically", polyName)
	}
	return &Activation{poly: poly}, nil
}

func (a *Activation) Poly() Poly    { return a.poly }
func (a *Activation) Tag() string   { return "Activation(" + a.poly.Name + ")" }
func (a *Activation) Levels() int   { return a.poly.Levels }
func (a *Activation) Rescales() int { return 1 }

func (a *Activation) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	c2 := a.poly.Coeffs[2]
	out := tensor.SquarePlain(x)
	for i := range out.Data {
		out.Data[i] *= c2
	}
	return out, nil
}

func (a *Activation) Plan(in Layout, slots int) (Layout, []int, error) {
	if in == nil || in.Ciphertexts() != 1 {
		return nil, nil, fmt.Errorf("%s: %w: want a single ciphertext", a.Tag(), ErrLayout)
	}
	return in, nil, nil
}

// ForwardHE squares the ciphertext with one relinearized product and one
// rescale. Slots outside the layout are squared along and stay garbage.
func (a *Activation) ForwardHE(ev scheme.Evaluator, in *Packed) (*Packed, error) {
	if err := checkPacked(a.Tag(), in); err != nil {
		return nil, err
	}
	if _, _, err := a.Plan(in.Layout, ev.Slots()); err != nil {
		return nil, err
	}
	x := in.Cts[0]
	sq, err := ev.Mul(x, x)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.Tag(), err)
	}
	if sq, err = ev.Rescale(sq); err != nil {
		return nil, fmt.Errorf("%s: %w", a.Tag(), err)
	}
	if c2 := a.poly.Coeffs[2]; c2 != 1 {
		if sq, err = ev.MulScalar(sq, c2); err != nil {
			return nil, err
		}
	}
	return &Packed{Cts: []scheme.Ciphertext{sq}, Layout: in.Layout}, nil
}
