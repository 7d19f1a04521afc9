package nn

import (
	"errors"
	"fmt"
)

// ErrDepthBudgetExceeded is returned before a ciphertext product that the
// remaining depth budget cannot pay for.
var ErrDepthBudgetExceeded = errors.New("depth budget exceeded")

// Budget counts ciphertext-ciphertext multiplications along one evaluation
// path. It is not safe for concurrent use; every evaluation owns its own.
type Budget struct {
	total int
	used  int
}

// NewBudget starts a budget of depth multiplications.
func NewBudget(depth int) *Budget {
	return &Budget{total: depth}
}

// Require fails with ErrDepthBudgetExceeded unless n more multiplications
// fit.
func (b *Budget) Require(n int, step string) error {
	if b.Remaining() < n {
		return fmt.Errorf("%w: %s needs %d, %d of %d left", ErrDepthBudgetExceeded, step, n, b.Remaining(), b.total)
	}
	return nil
}

// Consume records n multiplications.
func (b *Budget) Consume(n int) { b.used += n }

func (b *Budget) Remaining() int { return b.total - b.used }
func (b *Budget) Used() int      { return b.used }
