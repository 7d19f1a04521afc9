package ckkswrapper

import (
	"fmt"
	"math"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/hefloat"

	"hemnist/core/scheme"
	"hemnist/utils"
)

// WrappedEvaluator adapts a hefloat.Evaluator to scheme.Evaluator and counts
// the operations it performs.
type WrappedEvaluator struct {
	params  hefloat.Parameters
	eval    *hefloat.Evaluator
	encoder *hefloat.Encoder

	// Operation counters
	RotateCount  int
	MulCount     int
	RelinCount   int
	RescaleCount int
	AddCount     int
}

// ResetCounters resets all operation counters to zero
func (w *WrappedEvaluator) ResetCounters() {
	w.RotateCount = 0
	w.MulCount = 0
	w.RelinCount = 0
	w.RescaleCount = 0
	w.AddCount = 0
}

// PrintCounters prints the current operation counts.
// Respects utils.Verbose flag - does nothing if Verbose is false.
func (w *WrappedEvaluator) PrintCounters(phaseName string) {
	if !utils.Verbose {
		return
	}
	fmt.Fprintf(utils.Output, "=== Phase: %s ===\n", phaseName)
	fmt.Fprintf(utils.Output, "Rotates: %d, Muls: %d, Relins: %d, Rescales: %d, Adds: %d\n",
		w.RotateCount, w.MulCount, w.RelinCount, w.RescaleCount, w.AddCount)
}

func (w *WrappedEvaluator) Slots() int { return w.params.MaxSlots() }

func (w *WrappedEvaluator) Add(a, b scheme.Ciphertext) (scheme.Ciphertext, error) {
	x, err := ciphertextOf(a)
	if err != nil {
		return nil, err
	}
	y, err := ciphertextOf(b)
	if err != nil {
		return nil, err
	}
	w.AddCount++
	return w.eval.AddNew(x, y)
}

// AddPlain adds values encoded at the ciphertext's own scale and level.
func (w *WrappedEvaluator) AddPlain(a scheme.Ciphertext, values []float64) (scheme.Ciphertext, error) {
	x, err := ciphertextOf(a)
	if err != nil {
		return nil, err
	}
	w.AddCount++
	return w.eval.AddNew(x, values)
}

// MulPlain multiplies by values encoded at q_level * DefaultScale / ct.Scale,
// so that the following Rescale lands back on the default scale whatever
// scalar factors were folded into ct.Scale earlier.
func (w *WrappedEvaluator) MulPlain(a scheme.Ciphertext, values []float64) (scheme.Ciphertext, error) {
	x, err := ciphertextOf(a)
	if err != nil {
		return nil, err
	}
	level := x.Level()
	target := rlwe.NewScale(w.params.Q()[level]).Mul(w.params.DefaultScale()).Div(x.Scale)

	pt := hefloat.NewPlaintext(w.params, level)
	pt.Scale = rlwe.NewScale(math.Round(target.Float64()))
	if err := w.encoder.Encode(values, pt); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	w.MulCount++
	return w.eval.MulNew(x, pt)
}

// MulScalar multiplies by c without consuming a level: the factor is folded
// into the ciphertext scale, only its sign touches the coefficients.
func (w *WrappedEvaluator) MulScalar(a scheme.Ciphertext, c float64) (scheme.Ciphertext, error) {
	x, err := ciphertextOf(a)
	if err != nil {
		return nil, err
	}
	if c == 0 {
		w.MulCount++
		return w.eval.MulNew(x, 0)
	}
	var out *rlwe.Ciphertext
	if c < 0 {
		w.MulCount++
		if out, err = w.eval.MulNew(x, -1); err != nil {
			return nil, err
		}
		c = -c
	} else {
		out = x.CopyNew()
	}
	out.Scale = out.Scale.Div(rlwe.NewScale(c))
	return out, nil
}

// Mul is the relinearized product of two ciphertexts.
func (w *WrappedEvaluator) Mul(a, b scheme.Ciphertext) (scheme.Ciphertext, error) {
	x, err := ciphertextOf(a)
	if err != nil {
		return nil, err
	}
	y, err := ciphertextOf(b)
	if err != nil {
		return nil, err
	}
	w.MulCount++
	w.RelinCount++
	return w.eval.MulRelinNew(x, y)
}

func (w *WrappedEvaluator) Rescale(a scheme.Ciphertext) (scheme.Ciphertext, error) {
	x, err := ciphertextOf(a)
	if err != nil {
		return nil, err
	}
	if x.Level() == 0 {
		return nil, fmt.Errorf("%w: rescale at level 0", scheme.ErrLevelExhausted)
	}
	out := hefloat.NewCiphertext(w.params, x.Degree(), x.Level())
	w.RescaleCount++
	if err := w.eval.Rescale(x, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (w *WrappedEvaluator) Rotate(a scheme.Ciphertext, k int) (scheme.Ciphertext, error) {
	x, err := ciphertextOf(a)
	if err != nil {
		return nil, err
	}
	if k%w.Slots() == 0 {
		return x.CopyNew(), nil
	}
	w.RotateCount++
	return w.eval.RotateNew(x, k)
}

// RotateMany uses hoisted rotations: the key-switching decomposition of a is
// computed once for all ks.
func (w *WrappedEvaluator) RotateMany(a scheme.Ciphertext, ks []int) (map[int]scheme.Ciphertext, error) {
	x, err := ciphertextOf(a)
	if err != nil {
		return nil, err
	}
	out := make(map[int]scheme.Ciphertext, len(ks))
	var hoisted []int
	for _, k := range ks {
		if k%w.Slots() == 0 {
			out[k] = x.CopyNew()
		} else if _, seen := out[k]; !seen {
			out[k] = nil
			hoisted = append(hoisted, k)
		}
	}
	if len(hoisted) == 0 {
		return out, nil
	}
	rotated, err := w.eval.RotateHoistedNew(x, hoisted)
	if err != nil {
		return nil, err
	}
	w.RotateCount += len(hoisted)
	for k, ct := range rotated {
		out[k] = ct
	}
	return out, nil
}
