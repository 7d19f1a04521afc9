package advisor

import (
	"fmt"

	"hemnist/core/params"
	"hemnist/core/scheme"
	"hemnist/nn"
)

// OpCounts tallies the homomorphic operations of one evaluation.
type OpCounts struct {
	Adds      int
	PlainAdds int
	PlainMuls int
	Scalars   int
	Muls      int
	Rescales  int
	Rotations int
}

func (c OpCounts) String() string {
	return fmt.Sprintf("add=%d addp=%d mulp=%d muls=%d mul=%d rescale=%d rot=%d",
		c.Adds, c.PlainAdds, c.PlainMuls, c.Scalars, c.Muls, c.Rescales, c.Rotations)
}

// countingEvaluator forwards to an inner evaluator and counts every call.
// A RotateMany over k offsets counts k rotations.
type countingEvaluator struct {
	scheme.Evaluator
	n OpCounts
}

func (c *countingEvaluator) Add(a, b scheme.Ciphertext) (scheme.Ciphertext, error) {
	c.n.Adds++
	return c.Evaluator.Add(a, b)
}

func (c *countingEvaluator) AddPlain(a scheme.Ciphertext, v []float64) (scheme.Ciphertext, error) {
	c.n.PlainAdds++
	return c.Evaluator.AddPlain(a, v)
}

func (c *countingEvaluator) MulPlain(a scheme.Ciphertext, v []float64) (scheme.Ciphertext, error) {
	c.n.PlainMuls++
	return c.Evaluator.MulPlain(a, v)
}

func (c *countingEvaluator) MulScalar(a scheme.Ciphertext, s float64) (scheme.Ciphertext, error) {
	c.n.Scalars++
	return c.Evaluator.MulScalar(a, s)
}

func (c *countingEvaluator) Mul(a, b scheme.Ciphertext) (scheme.Ciphertext, error) {
	c.n.Muls++
	return c.Evaluator.Mul(a, b)
}

func (c *countingEvaluator) Rescale(a scheme.Ciphertext) (scheme.Ciphertext, error) {
	c.n.Rescales++
	return c.Evaluator.Rescale(a)
}

func (c *countingEvaluator) Rotate(a scheme.Ciphertext, k int) (scheme.Ciphertext, error) {
	c.n.Rotations++
	return c.Evaluator.Rotate(a, k)
}

func (c *countingEvaluator) RotateMany(a scheme.Ciphertext, ks []int) (map[int]scheme.Ciphertext, error) {
	for _, k := range ks {
		if k != 0 {
			c.n.Rotations++
		}
	}
	return c.Evaluator.RotateMany(a, ks)
}

// CountOperations runs m once on the float64 reference backend at p's slot
// count and returns the operations a CKKS evaluation would perform. The
// budget is sized to the network so that profiles too shallow for it are
// still counted.
func CountOperations(m *nn.Model, p params.Profile) (OpCounts, error) {
	ctx, err := scheme.NewPlainContext(p)
	if err != nil {
		return OpCounts{}, err
	}
	in, err := nn.EncryptImage(ctx, blankImage())
	if err != nil {
		return OpCounts{}, err
	}
	ev := &countingEvaluator{Evaluator: ctx.Evaluator()}
	if _, err := m.EvaluateWith(ev, in, nn.NewBudget(m.Net.Levels())); err != nil {
		return OpCounts{}, fmt.Errorf("%s: %w", p.Name, err)
	}
	return ev.n, nil
}
