package scheme

import (
	"fmt"

	"hemnist/core/params"
)

// PlainContext is the in-process reference backend. Values are kept in the
// clear and every operation is exact, so the layers can be checked against
// a float64 forward pass without lattice noise. The level counter models
// the profile's depth budget: only ciphertext products consume it.
type PlainContext struct {
	profile params.Profile
	secret  bool
}

// NewPlainContext returns a reference context that can decrypt.
func NewPlainContext(p params.Profile) (*PlainContext, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &PlainContext{profile: p, secret: true}, nil
}

// PlainCiphertext is the reference backend's ciphertext.
type PlainCiphertext struct {
	Values []float64
	level  int
}

// Level implements Ciphertext.
func (c *PlainCiphertext) Level() int { return c.level }

func (c *PlainContext) Profile() params.Profile { return c.profile }
func (c *PlainContext) Slots() int              { return c.profile.Slots() }
func (c *PlainContext) HasSecretKey() bool      { return c.secret }

// PublicView returns a copy of the context without decryption rights.
func (c *PlainContext) PublicView() Context {
	return &PlainContext{profile: c.profile}
}

func (c *PlainContext) Encrypt(values []float64) (Ciphertext, error) {
	if len(values) > c.Slots() {
		return nil, fmt.Errorf("cannot encrypt %d values into %d slots", len(values), c.Slots())
	}
	v := make([]float64, c.Slots())
	copy(v, values)
	return &PlainCiphertext{Values: v, level: c.profile.DepthBudget()}, nil
}

func (c *PlainContext) Decrypt(ct Ciphertext) ([]float64, error) {
	if !c.secret {
		return nil, ErrMissingSecretKey
	}
	p, err := plainOf(ct)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), p.Values...), nil
}

func (c *PlainContext) Evaluator() Evaluator {
	return &PlainEvaluator{slots: c.Slots()}
}

// PlainEvaluator implements Evaluator over PlainCiphertext.
type PlainEvaluator struct {
	slots int
}

func (e *PlainEvaluator) Slots() int { return e.slots }

func (e *PlainEvaluator) Add(a, b Ciphertext) (Ciphertext, error) {
	x, y, err := plainPair(a, b)
	if err != nil {
		return nil, err
	}
	out := e.alloc(min(x.level, y.level))
	for i := range out.Values {
		out.Values[i] = x.Values[i] + y.Values[i]
	}
	return out, nil
}

func (e *PlainEvaluator) AddPlain(a Ciphertext, values []float64) (Ciphertext, error) {
	x, err := plainOf(a)
	if err != nil {
		return nil, err
	}
	if len(values) > e.slots {
		return nil, fmt.Errorf("plaintext has %d values, only %d slots", len(values), e.slots)
	}
	out := e.alloc(x.level)
	copy(out.Values, x.Values)
	for i, v := range values {
		out.Values[i] += v
	}
	return out, nil
}

func (e *PlainEvaluator) MulPlain(a Ciphertext, values []float64) (Ciphertext, error) {
	x, err := plainOf(a)
	if err != nil {
		return nil, err
	}
	if len(values) > e.slots {
		return nil, fmt.Errorf("plaintext has %d values, only %d slots", len(values), e.slots)
	}
	out := e.alloc(x.level)
	for i, v := range values {
		out.Values[i] = x.Values[i] * v
	}
	return out, nil
}

func (e *PlainEvaluator) MulScalar(a Ciphertext, c float64) (Ciphertext, error) {
	x, err := plainOf(a)
	if err != nil {
		return nil, err
	}
	out := e.alloc(x.level)
	for i, v := range x.Values {
		out.Values[i] = v * c
	}
	return out, nil
}

func (e *PlainEvaluator) Mul(a, b Ciphertext) (Ciphertext, error) {
	x, y, err := plainPair(a, b)
	if err != nil {
		return nil, err
	}
	level := min(x.level, y.level)
	if level == 0 {
		return nil, fmt.Errorf("%w: cannot multiply at level 0", ErrLevelExhausted)
	}
	out := e.alloc(level - 1)
	for i := range out.Values {
		out.Values[i] = x.Values[i] * y.Values[i]
	}
	return out, nil
}

// Rescale is the identity: the reference backend has no scale to manage.
func (e *PlainEvaluator) Rescale(a Ciphertext) (Ciphertext, error) {
	if _, err := plainOf(a); err != nil {
		return nil, err
	}
	return a, nil
}

func (e *PlainEvaluator) Rotate(a Ciphertext, k int) (Ciphertext, error) {
	x, err := plainOf(a)
	if err != nil {
		return nil, err
	}
	out := e.alloc(x.level)
	n := e.slots
	shift := ((k % n) + n) % n
	for i := range out.Values {
		out.Values[i] = x.Values[(i+shift)%n]
	}
	return out, nil
}

func (e *PlainEvaluator) RotateMany(a Ciphertext, ks []int) (map[int]Ciphertext, error) {
	out := make(map[int]Ciphertext, len(ks))
	for _, k := range ks {
		r, err := e.Rotate(a, k)
		if err != nil {
			return nil, err
		}
		out[k] = r
	}
	return out, nil
}

func (e *PlainEvaluator) alloc(level int) *PlainCiphertext {
	return &PlainCiphertext{Values: make([]float64, e.slots), level: level}
}

func plainOf(ct Ciphertext) (*PlainCiphertext, error) {
	p, ok := ct.(*PlainCiphertext)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrForeignCiphertext, ct)
	}
	return p, nil
}

func plainPair(a, b Ciphertext) (*PlainCiphertext, *PlainCiphertext, error) {
	x, err := plainOf(a)
	if err != nil {
		return nil, nil, err
	}
	y, err := plainOf(b)
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}
