package layers

import (
	"fmt"

	"hemnist/core/scheme"
	"hemnist/tensor"
)

// Linear is a fully-connected layer with plaintext weights. Under
// encryption it consumes either a grid (first dense layer after the
// feature extractor) or a block layout (any following dense layer):
//
//   - grid -> blocks: the feature span is replicated into every block of
//     the ciphertext, each block is multiplied by one weight row and
//     folded into its first slot;
//   - blocks -> dense: every block value is rotated onto the output slots
//     it contributes to, weighted, and the blocks are folded together.
type Linear struct {
	W *tensor.Tensor // [out, in]
	B *tensor.Tensor // [out]
}

// NewLinear wraps weights of shape [out, in] and bias [out].
func NewLinear(w, b *tensor.Tensor) (*Linear, error) {
	if w == nil || b == nil || len(w.Shape) != 2 {
		return nil, fmt.Errorf("Linear: weight must be 2-D")
	}
	if len(b.Shape) != 1 || b.Shape[0] != w.Shape[0] {
		return nil, fmt.Errorf("Linear: bias shape %v does not match %d outputs", b.Shape, w.Shape[0])
	}
	return &Linear{W: w, B: b}, nil
}

func (l *Linear) Tag() string   { return fmt.Sprintf("Linear(%d->%d)", l.In(), l.Out()) }
func (l *Linear) Levels() int   { return 0 }
func (l *Linear) Rescales() int { return 1 }
func (l *Linear) In() int       { return l.W.Shape[1] }
func (l *Linear) Out() int      { return l.W.Shape[0] }

func (l *Linear) weight(o, i int) float64 { return l.W.Data[o*l.In()+i] }

// ForwardPlain computes W x + b.
func (l *Linear) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Data) != l.In() {
		return nil, fmt.Errorf("%s: input has %d values", l.Tag(), len(x.Data))
	}
	col := &tensor.Tensor{Data: x.Data, Shape: []int{l.In(), 1}}
	y, err := tensor.MatMul(l.W, col)
	if err != nil {
		return nil, err
	}
	for o := range y.Data {
		y.Data[o] += l.B.Data[o]
	}
	return y.Reshape(l.Out())
}

func (l *Linear) Plan(in Layout, slots int) (Layout, []int, error) {
	switch in := in.(type) {
	case GridLayout:
		if in.Features() != l.In() {
			return nil, nil, fmt.Errorf("%s: %w: %s carries %d features", l.Tag(), ErrLayout, in, in.Features())
		}
		block := nextPow2(in.Support)
		if block > slots {
			return nil, nil, fmt.Errorf("%s: feature span %d exceeds %d slots", l.Tag(), block, slots)
		}
		perCt := slots / block
		rots := append(foldRotations(-block, perCt), foldRotations(1, block)...)
		return BlockLayout{N: l.Out(), Block: block, PerCt: perCt}, rots, nil

	case BlockLayout:
		if in.N != l.In() {
			return nil, nil, fmt.Errorf("%s: %w: %s carries %d values", l.Tag(), ErrLayout, in, in.N)
		}
		if l.Out() > in.Block || in.Block*in.PerCt > slots {
			return nil, nil, fmt.Errorf("%s: %w: %d outputs do not fit %s", l.Tag(), ErrLayout, l.Out(), in)
		}
		var rots []int
		for k := 1; k < l.Out(); k++ {
			rots = append(rots, -k)
		}
		rots = append(rots, foldRotations(in.Block, in.PerCt)...)
		return DenseLayout{N: l.Out()}, rots, nil
	}
	return nil, nil, fmt.Errorf("%s: %w: cannot consume %s", l.Tag(), ErrLayout, in)
}

func (l *Linear) ForwardHE(ev scheme.Evaluator, in *Packed) (*Packed, error) {
	if err := checkPacked(l.Tag(), in); err != nil {
		return nil, err
	}
	out, _, err := l.Plan(in.Layout, ev.Slots())
	if err != nil {
		return nil, err
	}
	switch src := in.Layout.(type) {
	case GridLayout:
		return l.gridToBlocks(ev, in.Cts[0], src, out.(BlockLayout))
	case BlockLayout:
		return l.blocksToDense(ev, in.Cts, src, out.(DenseLayout))
	}
	return nil, fmt.Errorf("%s: %w", l.Tag(), ErrLayout)
}

func (l *Linear) gridToBlocks(ev scheme.Evaluator, x scheme.Ciphertext, g GridLayout, out BlockLayout) (*Packed, error) {
	D, perCt := out.Block, out.PerCt

	// copy [0, D) into every block; slots past the support are zero
	rep := x
	for s := 1; s < perCt; s *= 2 {
		r, err := ev.Rotate(rep, -s*D)
		if err != nil {
			return nil, fmt.Errorf("%s: replicate: %w", l.Tag(), err)
		}
		if rep, err = ev.Add(rep, r); err != nil {
			return nil, err
		}
	}

	slots := ev.Slots()
	cts := make([]scheme.Ciphertext, out.Ciphertexts())
	for grp := range cts {
		rows := make([]float64, slots)
		bias := make([]float64, slots)
		for h := 0; h < perCt; h++ {
			o := grp*perCt + h
			if o >= l.Out() {
				break
			}
			for f := 0; f < l.In(); f++ {
				rows[h*D+g.FeatureSlot(f)] = l.weight(o, f)
			}
			bias[h*D] = l.B.Data[o]
		}
		t, err := ev.MulPlain(rep, rows)
		if err != nil {
			return nil, fmt.Errorf("%s: group %d: %w", l.Tag(), grp, err)
		}
		if t, err = ev.Rescale(t); err != nil {
			return nil, fmt.Errorf("%s: group %d: %w", l.Tag(), grp, err)
		}
		if t, err = rotateSum(ev, t, 1, D); err != nil {
			return nil, err
		}
		if cts[grp], err = ev.AddPlain(t, bias); err != nil {
			return nil, err
		}
	}
	return &Packed{Cts: cts, Layout: out}, nil
}

func (l *Linear) blocksToDense(ev scheme.Evaluator, in []scheme.Ciphertext, b BlockLayout, out DenseLayout) (*Packed, error) {
	D, perCt := b.Block, b.PerCt
	slots := ev.Slots()

	shifts := make([]int, 0, l.Out()-1)
	for k := 1; k < l.Out(); k++ {
		shifts = append(shifts, -k)
	}

	var acc scheme.Ciphertext
	for grp, ct := range in {
		rotated := map[int]scheme.Ciphertext{0: ct}
		if len(shifts) > 0 {
			hoisted, err := ev.RotateMany(ct, shifts)
			if err != nil {
				return nil, fmt.Errorf("%s: group %d: %w", l.Tag(), grp, err)
			}
			for k, v := range hoisted {
				rotated[k] = v
			}
		}
		for k := 0; k < l.Out(); k++ {
			mask := make([]float64, slots)
			for h := 0; h < perCt; h++ {
				if i := grp*perCt + h; i < l.In() {
					mask[h*D+k] = l.weight(k, i)
				}
			}
			t, err := ev.MulPlain(rotated[-k], mask)
			if err != nil {
				return nil, fmt.Errorf("%s: output %d: %w", l.Tag(), k, err)
			}
			if acc == nil {
				acc = t
			} else if acc, err = ev.Add(acc, t); err != nil {
				return nil, err
			}
		}
	}

	q, err := ev.Rescale(acc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.Tag(), err)
	}
	if q, err = rotateSum(ev, q, D, perCt); err != nil {
		return nil, err
	}
	if q, err = ev.AddPlain(q, l.B.Data); err != nil {
		return nil, err
	}
	return &Packed{Cts: []scheme.Ciphertext{q}, Layout: out}, nil
}
