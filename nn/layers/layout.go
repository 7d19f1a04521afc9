// Package layers implements the network stages twice: once over float64
// tensors and once over packed ciphertexts through a scheme.Evaluator.
package layers

import (
	"errors"
	"fmt"

	"hemnist/core/scheme"
)

// ErrLayout is returned when a layer receives a packing it cannot consume.
var ErrLayout = errors.New("unexpected ciphertext layout")

// Layout describes where the logical values of a tensor live inside a
// group of ciphertexts.
type Layout interface {
	// Ciphertexts is the number of ciphertexts carrying the tensor.
	Ciphertexts() int
	String() string
}

// Packed is an encrypted tensor together with its slot layout.
type Packed struct {
	Cts    []scheme.Ciphertext
	Layout Layout
}

// Level is the lowest level across the packed ciphertexts.
func (p *Packed) Level() int {
	if len(p.Cts) == 0 {
		return 0
	}
	lvl := p.Cts[0].Level()
	for _, ct := range p.Cts[1:] {
		lvl = min(lvl, ct.Level())
	}
	return lvl
}

// ImageLayout is the im2col vector split into chunks of whole kernel-offset
// blocks: chunk j, block b holds kernel offset j*BlocksPerChunk+b.
type ImageLayout struct {
	Windows        int
	Offsets        int // kernel area
	BlocksPerChunk int
}

func (l ImageLayout) Ciphertexts() int {
	return (l.Offsets + l.BlocksPerChunk - 1) / l.BlocksPerChunk
}

func (l ImageLayout) String() string {
	return fmt.Sprintf("image(%d offsets x %d windows, %d per ct)", l.Offsets, l.Windows, l.BlocksPerChunk)
}

// GridLayout is a C x H x W feature map in a single ciphertext. Element
// (c, i, j) sits at Offset + c*ChannelPitch + i*RowPitch + j. Slots in
// [0, Support) that are not elements hold garbage, slots past Support are
// zero.
type GridLayout struct {
	Channels, Height, Width int
	ChannelPitch, RowPitch  int
	Offset                  int
	Support                 int
}

func (l GridLayout) Ciphertexts() int { return 1 }

func (l GridLayout) String() string {
	return fmt.Sprintf("grid(%dx%dx%d, pitch %d/%d, offset %d, support %d)",
		l.Channels, l.Height, l.Width, l.ChannelPitch, l.RowPitch, l.Offset, l.Support)
}

// Slot returns the slot of element (c, i, j).
func (l GridLayout) Slot(c, i, j int) int {
	return l.Offset + c*l.ChannelPitch + i*l.RowPitch + j
}

// Features is the flattened size C*H*W.
func (l GridLayout) Features() int { return l.Channels * l.Height * l.Width }

// FeatureSlot maps a flattened feature index f = c*H*W + i*W + j to its slot.
func (l GridLayout) FeatureSlot(f int) int {
	hw := l.Height * l.Width
	c, r := f/hw, f%hw
	return l.Slot(c, r/l.Width, r%l.Width)
}

// BlockLayout holds a vector of N values spread over ciphertexts of PerCt
// blocks of Block slots each: value n lives in ciphertext n/PerCt at slot
// (n%PerCt)*Block.
type BlockLayout struct {
	N     int
	Block int
	PerCt int
}

func (l BlockLayout) Ciphertexts() int { return (l.N + l.PerCt - 1) / l.PerCt }

func (l BlockLayout) String() string {
	return fmt.Sprintf("blocks(%d values, %d per ct, block %d)", l.N, l.PerCt, l.Block)
}

// DenseLayout holds N values in slots [0, N) of one ciphertext.
type DenseLayout struct {
	N int
}

func (l DenseLayout) Ciphertexts() int { return 1 }
func (l DenseLayout) String() string   { return fmt.Sprintf("dense(%d)", l.N) }

func checkPacked(tag string, in *Packed) error {
	if in == nil || in.Layout == nil {
		return fmt.Errorf("%s: %w: no input", tag, ErrLayout)
	}
	if len(in.Cts) != in.Layout.Ciphertexts() {
		return fmt.Errorf("%s: %w: %s needs %d ciphertexts, got %d", tag, ErrLayout, in.Layout, in.Layout.Ciphertexts(), len(in.Cts))
	}
	return nil
}

// rotateSum returns ct + rot(ct, s) + rot(ct, 2s) + ... folding log2(n)
// times, so slot i collects slots i, i+s, ..., i+(n-1)s. n must be a power
// of two.
func rotateSum(ev scheme.Evaluator, ct scheme.Ciphertext, step, n int) (scheme.Ciphertext, error) {
	for s := 1; s < n; s *= 2 {
		r, err := ev.Rotate(ct, s*step)
		if err != nil {
			return nil, err
		}
		if ct, err = ev.Add(ct, r); err != nil {
			return nil, err
		}
	}
	return ct, nil
}

func foldRotations(step, n int) []int {
	var out []int
	for s := 1; s < n; s *= 2 {
		out = append(out, s*step)
	}
	return out
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
