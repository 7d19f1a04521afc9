package nn

import (
	"fmt"

	"hemnist/core/scheme"
	"hemnist/encoding"
	"hemnist/nn/layers"
	"hemnist/tensor"
	"hemnist/utils"
)

const (
	// Classes is the number of digit classes scored by the network.
	Classes = 10
	// PoolSize is the side of the stride-1 average pooling window.
	PoolSize = 2
)

// Model is the fixed inference network
//
//	Conv2D(7x7, stride 2) -> AvgPool2D(2x2, stride 1) -> Square -> Flatten -> Linear -> Linear
//
// built from frozen weights. Its weights are never modified, so one Model
// can serve concurrent evaluations.
type Model struct {
	Net      *Sequential
	Channels int
	Hidden   int
}

// NewModel checks the weight shapes against the architecture and builds
// the layer sequence. The channel and hidden counts are taken from the
// weights themselves.
func NewModel(w *utils.ModelWeights) (*Model, error) {
	if w == nil {
		return nil, fmt.Errorf("%w: no weights", utils.ErrWeightShape)
	}
	C, err := leadingDim(w, utils.LayerConv)
	if err != nil {
		return nil, err
	}
	H, err := leadingDim(w, utils.LayerFC1)
	if err != nil {
		return nil, err
	}
	k := encoding.KernelSize
	side := (encoding.ImageSize-k)/encoding.Stride + 1 - PoolSize + 1
	features := C * side * side

	convW, convB, err := w.Tensors(utils.LayerConv, []int{C, 1, k, k}, []int{C})
	if err != nil {
		return nil, err
	}
	fc1W, fc1B, err := w.Tensors(utils.LayerFC1, []int{H, features}, []int{H})
	if err != nil {
		return nil, err
	}
	fc2W, fc2B, err := w.Tensors(utils.LayerFC2, []int{Classes, H}, []int{Classes})
	if err != nil {
		return nil, err
	}

	conv, err := layers.NewConv2D(convW, convB)
	if err != nil {
		return nil, err
	}
	pool, err := layers.NewAvgPool2D(PoolSize)
	if err != nil {
		return nil, err
	}
	act, err := layers.NewActivation("Square")
	if err != nil {
		return nil, err
	}
	fc1, err := layers.NewLinear(fc1W, fc1B)
	if err != nil {
		return nil, err
	}
	fc2, err := layers.NewLinear(fc2W, fc2B)
	if err != nil {
		return nil, err
	}
	net := &Sequential{Layers: []Module{conv, pool, act, layers.NewFlatten(), fc1, fc2}}
	return &Model{Net: net, Channels: C, Hidden: H}, nil
}

func leadingDim(w *utils.ModelWeights, name string) (int, error) {
	lw, ok := w.Layers[name]
	if !ok || lw.Weight == nil || len(lw.Weight.Shape) == 0 {
		return 0, fmt.Errorf("%w: layer %q missing", utils.ErrWeightShape, name)
	}
	return lw.Weight.Shape[0], nil
}

// InputLayout is the packing EncryptImage produces for slots.
func InputLayout(slots int) layers.ImageLayout {
	return layers.ImageLayout{
		Windows:        encoding.Windows,
		Offsets:        encoding.KernelSize * encoding.KernelSize,
		BlocksPerChunk: encoding.BlocksPerChunk(slots),
	}
}

// RequiredRotations lists the Galois rotations an evaluation over slots
// performs. Key generation must cover all of them.
func (m *Model) RequiredRotations(slots int) ([]int, error) {
	_, rots, err := m.plan(slots)
	return rots, err
}

func (m *Model) plan(slots int) (layers.Layout, []int, error) {
	out, rots, err := m.Net.Plan(InputLayout(slots), slots)
	if err != nil {
		return nil, nil, err
	}
	if d, ok := out.(layers.DenseLayout); !ok || d.N != Classes {
		return nil, nil, fmt.Errorf("%w: network ends in %s", layers.ErrLayout, out)
	}
	return out, rots, nil
}

// ForwardPlain runs the identical layer sequence in float64.
func (m *Model) ForwardPlain(img *tensor.Tensor) (ClassScores, error) {
	out, err := m.Net.ForwardPlain(img)
	if err != nil {
		return nil, err
	}
	return ClassScores(out.Data), nil
}

// Evaluate runs the network on an encrypted image with a fresh evaluator
// from ctx and a depth budget taken from the context's profile. A public
// view is sufficient.
func (m *Model) Evaluate(ctx scheme.Context, in []scheme.Ciphertext) (scheme.Ciphertext, error) {
	return m.EvaluateWith(ctx.Evaluator(), in, NewBudget(ctx.Profile().DepthBudget()))
}

// EvaluateWith runs the network with a caller-provided evaluator and
// budget. A nil budget allows no ciphertext products. The returned
// ciphertext holds the class scores in slots [0, Classes).
func (m *Model) EvaluateWith(ev scheme.Evaluator, in []scheme.Ciphertext, budget *Budget) (scheme.Ciphertext, error) {
	if budget == nil {
		budget = NewBudget(0)
	}
	if _, _, err := m.plan(ev.Slots()); err != nil {
		return nil, err
	}
	out, err := m.Net.ForwardHE(ev, &layers.Packed{Cts: in, Layout: InputLayout(ev.Slots())}, budget)
	if err != nil {
		return nil, err
	}
	return out.Cts[0], nil
}

// EncryptImage encodes a 28x28 image and encrypts it chunk by chunk.
func EncryptImage(ctx scheme.Context, img *tensor.Tensor) ([]scheme.Ciphertext, error) {
	enc, err := encoding.Encode(img)
	if err != nil {
		return nil, err
	}
	chunks, err := enc.Chunks(ctx.Slots())
	if err != nil {
		return nil, err
	}
	return scheme.EncryptAll(ctx, chunks)
}
