package layers

import (
	"fmt"

	"hemnist/core/scheme"
	"hemnist/tensor"
)

// AvgPool2D averages p x p windows with stride 1. Under encryption the
// window sum is a sum of right rotations of the grid, so every output lands
// at the slot of the window's bottom-right input; the layout offset tracks
// that shift instead of moving data back.
type AvgPool2D struct {
	poolSize int
}

func NewAvgPool2D(p int) (*AvgPool2D, error) {
	if p <= 0 {
		return nil, fmt.Errorf("AvgPool2D: pool size must be positive, got %d", p)
	}
	return &AvgPool2D{poolSize: p}, nil
}

func (a *AvgPool2D) Tag() string   { return "AvgPool2D" }
func (a *AvgPool2D) Levels() int   { return 0 }
func (a *AvgPool2D) Rescales() int { return 0 }

func (a *AvgPool2D) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 3 {
		return nil, fmt.Errorf("AvgPool2D: want [C H W], got %v", x.Shape)
	}
	C, H, W, p := x.Shape[0], x.Shape[1], x.Shape[2], a.poolSize
	if H < p || W < p {
		return nil, fmt.Errorf("AvgPool2D: %dx%d input smaller than pool %d", H, W, p)
	}
	outH, outW := H-p+1, W-p+1
	out := tensor.New(C, outH, outW)
	inv := 1.0 / float64(p*p)
	for c := 0; c < C; c++ {
		for i := 0; i < outH; i++ {
			for j := 0; j < outW; j++ {
				sum := 0.0
				for di := 0; di < p; di++ {
					for dj := 0; dj < p; dj++ {
						sum += x.Data[(c*H+i+di)*W+j+dj]
					}
				}
				out.Data[(c*outH+i)*outW+j] = sum * inv
			}
		}
	}
	return out, nil
}

func (a *AvgPool2D) shifts(l GridLayout) []int {
	var out []int
	for di := 0; di < a.poolSize; di++ {
		for dj := 0; dj < a.poolSize; dj++ {
			if s := di*l.RowPitch + dj; s > 0 {
				out = append(out, -s)
			}
		}
	}
	return out
}

func (a *AvgPool2D) Plan(in Layout, slots int) (Layout, []int, error) {
	g, ok := in.(GridLayout)
	if !ok {
		return nil, nil, fmt.Errorf("AvgPool2D: %w: want grid layout, got %s", ErrLayout, in)
	}
	p := a.poolSize
	if g.Height < p || g.Width < p {
		return nil, nil, fmt.Errorf("AvgPool2D: %w: %s smaller than pool %d", ErrLayout, g, p)
	}
	shift := (p-1)*g.RowPitch + (p - 1)
	out := g
	out.Height, out.Width = g.Height-p+1, g.Width-p+1
	out.Offset += shift
	out.Support += shift
	if out.Support > slots {
		return nil, nil, fmt.Errorf("AvgPool2D: support %d exceeds %d slots", out.Support, slots)
	}
	return out, a.shifts(g), nil
}

// ForwardHE sums the p*p shifted copies of the grid and scales by
// 1/(p*p).
func (a *AvgPool2D) ForwardHE(ev scheme.Evaluator, in *Packed) (*Packed, error) {
	if err := checkPacked(a.Tag(), in); err != nil {
		return nil, err
	}
	outLayout, shifts, err := a.Plan(in.Layout, ev.Slots())
	if err != nil {
		return nil, err
	}
	y := in.Cts[0]
	z := y
	if len(shifts) > 0 {
		rotated, err := ev.RotateMany(y, shifts)
		if err != nil {
			return nil, fmt.Errorf("AvgPool2D: %w", err)
		}
		for _, s := range shifts {
			if z, err = ev.Add(z, rotated[s]); err != nil {
				return nil, err
			}
		}
	}
	z, err = ev.MulScalar(z, 1/float64(a.poolSize*a.poolSize))
	if err != nil {
		return nil, err
	}
	return &Packed{Cts: []scheme.Ciphertext{z}, Layout: outLayout}, nil
}
