// Package encoding turns a 28x28 grid into the im2col vector the encrypted
// convolution consumes.
package encoding

import (
	"errors"
	"fmt"

	"hemnist/tensor"
)

const (
	ImageSize  = 28
	KernelSize = 7
	Stride     = 2
	// Windows is the number of kernel placements on a 28x28 grid with a
	// 7x7 kernel and stride 2: 11 per axis.
	Windows = 121
)

var (
	// ErrInvalidInputShape is returned for anything but a 28x28 grid.
	ErrInvalidInputShape = errors.New("invalid input shape")
	// ErrWindowCountMismatch is returned when the kernel geometry does not
	// produce the window count the network was built for.
	ErrWindowCountMismatch = errors.New("window count mismatch")
)

// EncodedVector is the kernel-major im2col layout of one image:
// Values[k*Windows+w] holds pixel k (row-major inside the kernel) of window
// w (row-major over the output grid).
type EncodedVector struct {
	Values     []float64
	Windows    int
	KernelSize int
	Stride     int
}

// Encode lays out img with the network's 7x7 kernel and stride 2.
func Encode(img *tensor.Tensor) (*EncodedVector, error) {
	return EncodeWith(img, KernelSize, Stride)
}

// EncodeWith lays out img for an arbitrary kernel and stride. The result is
// only accepted when it yields exactly Windows windows.
func EncodeWith(img *tensor.Tensor, kernel, stride int) (*EncodedVector, error) {
	if img == nil || len(img.Shape) != 2 || img.Shape[0] != ImageSize || img.Shape[1] != ImageSize {
		var shape []int
		if img != nil {
			shape = img.Shape
		}
		return nil, fmt.Errorf("%w: want [%d %d], got %v", ErrInvalidInputShape, ImageSize, ImageSize, shape)
	}
	if len(img.Data) != ImageSize*ImageSize {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrInvalidInputShape, len(img.Data), img.Shape)
	}
	if kernel <= 0 || stride <= 0 || kernel > ImageSize {
		return nil, fmt.Errorf("%w: kernel %d stride %d", ErrWindowCountMismatch, kernel, stride)
	}
	side := (ImageSize-kernel)/stride + 1
	if side*side != Windows {
		return nil, fmt.Errorf("%w: kernel %d stride %d gives %d windows, want %d", ErrWindowCountMismatch, kernel, stride, side*side, Windows)
	}

	kk := kernel * kernel
	values := make([]float64, kk*Windows)
	for ku := 0; ku < kernel; ku++ {
		for kv := 0; kv < kernel; kv++ {
			k := ku*kernel + kv
			for wi := 0; wi < side; wi++ {
				row := (wi*stride + ku) * ImageSize
				for wj := 0; wj < side; wj++ {
					values[k*Windows+wi*side+wj] = img.Data[row+wj*stride+kv]
				}
			}
		}
	}
	return &EncodedVector{Values: values, Windows: Windows, KernelSize: kernel, Stride: stride}, nil
}

// BlocksPerChunk is how many kernel offsets (blocks of Windows slots) fit in
// one ciphertext of the given slot count, capped at the kernel area.
func BlocksPerChunk(slots int) int {
	return min(slots/Windows, KernelSize*KernelSize)
}

// Chunks splits the vector on block boundaries so every chunk fits in
// slots. Chunk j holds kernel offsets [j*B, (j+1)*B) with B =
// BlocksPerChunk(slots).
func (v *EncodedVector) Chunks(slots int) ([][]float64, error) {
	b := min(slots/v.Windows, v.KernelSize*v.KernelSize)
	if b == 0 {
		return nil, fmt.Errorf("%d slots cannot hold a block of %d windows", slots, v.Windows)
	}
	span := b * v.Windows
	var out [][]float64
	for start := 0; start < len(v.Values); start += span {
		end := min(start+span, len(v.Values))
		out = append(out, append([]float64(nil), v.Values[start:end]...))
	}
	return out, nil
}

// FromRows builds a 2-D tensor from nested rows. Ragged input is rejected.
func FromRows(rows [][]float64) (*tensor.Tensor, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidInputShape)
	}
	w := len(rows[0])
	t := tensor.New(len(rows), w)
	for i, r := range rows {
		if len(r) != w {
			return nil, fmt.Errorf("%w: row %d has %d values, row 0 has %d", ErrInvalidInputShape, i, len(r), w)
		}
		copy(t.Data[i*w:], r)
	}
	return t, nil
}
