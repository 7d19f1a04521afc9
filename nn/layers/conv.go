package layers

import (
	"fmt"

	"hemnist/core/scheme"
	"hemnist/encoding"
	"hemnist/tensor"
)

// Conv2D is the single-input-channel 7x7 stride 2 convolution evaluated on
// the im2col layout. Output channel c at window w is
//
//	sum_k x[k*121+w] * W[c][k] + B[c]
//
// which under encryption is one plaintext product per kernel offset and
// channel. No ciphertext product is involved.
type Conv2D struct {
	W *tensor.Tensor // [C, 1, K, K]
	B *tensor.Tensor // [C]

	outChan, kernel int
	side            int // output grid side, 11
}

// NewConv2D wraps conv weights of shape [C,1,7,7] and bias [C].
func NewConv2D(w, b *tensor.Tensor) (*Conv2D, error) {
	if w == nil || b == nil || len(w.Shape) != 4 || w.Shape[1] != 1 ||
		w.Shape[2] != encoding.KernelSize || w.Shape[3] != encoding.KernelSize {
		return nil, fmt.Errorf("Conv2D: weight shape must be [C 1 %d %d]", encoding.KernelSize, encoding.KernelSize)
	}
	if len(b.Shape) != 1 || b.Shape[0] != w.Shape[0] {
		return nil, fmt.Errorf("Conv2D: bias shape %v does not match %d channels", b.Shape, w.Shape[0])
	}
	side := (encoding.ImageSize-encoding.KernelSize)/encoding.Stride + 1
	return &Conv2D{W: w, B: b, outChan: w.Shape[0], kernel: encoding.KernelSize, side: side}, nil
}

func (c *Conv2D) Tag() string   { return "Conv2D" }
func (c *Conv2D) Levels() int   { return 0 }
func (c *Conv2D) Rescales() int { return 1 }

// OutChannels is the number of feature maps produced.
func (c *Conv2D) OutChannels() int { return c.outChan }

func (c *Conv2D) weight(ch, k int) float64 {
	return c.W.Data[ch*c.kernel*c.kernel+k]
}

// ForwardPlain convolves a [28 28] image into [C 11 11] via the same im2col
// layout the client encrypts.
func (c *Conv2D) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	img := x
	if len(x.Shape) == 3 && x.Shape[0] == 1 {
		img = &tensor.Tensor{Data: x.Data, Shape: x.Shape[1:]}
	}
	enc, err := encoding.Encode(img)
	if err != nil {
		return nil, err
	}
	kk := c.kernel * c.kernel
	cols := &tensor.Tensor{Data: enc.Values, Shape: []int{kk, enc.Windows}}
	wm := &tensor.Tensor{Data: c.W.Data, Shape: []int{c.outChan, kk}}
	y, err := tensor.MatMul(wm, cols)
	if err != nil {
		return nil, err
	}
	for ch := 0; ch < c.outChan; ch++ {
		for w := 0; w < enc.Windows; w++ {
			y.Data[ch*enc.Windows+w] += c.B.Data[ch]
		}
	}
	return y.Reshape(c.outChan, c.side, c.side)
}

// Plan checks the input packing and returns the output grid and the
// rotations the encrypted pass performs.
func (c *Conv2D) Plan(in Layout, slots int) (Layout, []int, error) {
	img, ok := in.(ImageLayout)
	if !ok {
		return nil, nil, fmt.Errorf("Conv2D: %w: want image layout, got %s", ErrLayout, in)
	}
	if img.Windows != c.side*c.side || img.Offsets != c.kernel*c.kernel || img.BlocksPerChunk <= 0 {
		return nil, nil, fmt.Errorf("Conv2D: %w: %s", ErrLayout, img)
	}
	if img.BlocksPerChunk*img.Windows > slots || c.outChan*img.Windows > slots {
		return nil, nil, fmt.Errorf("Conv2D: %d channels of %d windows do not fit %d slots", c.outChan, img.Windows, slots)
	}
	var rots []int
	for b := 1; b < min(img.BlocksPerChunk, img.Offsets); b++ {
		rots = append(rots, b*img.Windows)
	}
	for ch := 1; ch < c.outChan; ch++ {
		rots = append(rots, -ch*img.Windows)
	}
	out := GridLayout{
		Channels: c.outChan, Height: c.side, Width: c.side,
		ChannelPitch: img.Windows, RowPitch: c.side,
		Support: c.outChan * img.Windows,
	}
	return out, rots, nil
}

// ForwardHE evaluates the convolution on the encrypted chunks.
func (c *Conv2D) ForwardHE(ev scheme.Evaluator, in *Packed) (*Packed, error) {
	if err := checkPacked(c.Tag(), in); err != nil {
		return nil, err
	}
	outLayout, _, err := c.Plan(in.Layout, ev.Slots())
	if err != nil {
		return nil, err
	}
	img := in.Layout.(ImageLayout)
	nw := img.Windows

	acc := make([]scheme.Ciphertext, c.outChan)
	mask := make([]float64, nw)
	for j, ct := range in.Cts {
		first := j * img.BlocksPerChunk
		nb := min(img.BlocksPerChunk, img.Offsets-first)
		steps := make([]int, 0, nb-1)
		for b := 1; b < nb; b++ {
			steps = append(steps, b*nw)
		}
		rotated := map[int]scheme.Ciphertext{0: ct}
		if len(steps) > 0 {
			hoisted, err := ev.RotateMany(ct, steps)
			if err != nil {
				return nil, fmt.Errorf("Conv2D: rotating chunk %d: %w", j, err)
			}
			for k, v := range hoisted {
				rotated[k] = v
			}
		}
		for ch := 0; ch < c.outChan; ch++ {
			for b := 0; b < nb; b++ {
				w := c.weight(ch, first+b)
				for i := range mask {
					mask[i] = w
				}
				term, err := ev.MulPlain(rotated[b*nw], mask)
				if err != nil {
					return nil, fmt.Errorf("Conv2D: channel %d offset %d: %w", ch, first+b, err)
				}
				if acc[ch] == nil {
					acc[ch] = term
				} else if acc[ch], err = ev.Add(acc[ch], term); err != nil {
					return nil, err
				}
			}
		}
	}

	var y scheme.Ciphertext
	bias := make([]float64, c.outChan*nw)
	for ch := 0; ch < c.outChan; ch++ {
		yc, err := ev.Rescale(acc[ch])
		if err != nil {
			return nil, fmt.Errorf("Conv2D: rescale channel %d: %w", ch, err)
		}
		if ch > 0 {
			if yc, err = ev.Rotate(yc, -ch*nw); err != nil {
				return nil, err
			}
		}
		if y == nil {
			y = yc
		} else if y, err = ev.Add(y, yc); err != nil {
			return nil, err
		}
		for i := 0; i < nw; i++ {
			bias[ch*nw+i] = c.B.Data[ch]
		}
	}
	y, err = ev.AddPlain(y, bias)
	if err != nil {
		return nil, err
	}
	return &Packed{Cts: []scheme.Ciphertext{y}, Layout: outLayout}, nil
}
