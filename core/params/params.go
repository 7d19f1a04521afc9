// Package params holds the named CKKS parameter profiles the inference
// pipeline can run under.
package params

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strings"

	"github.com/tuneinsight/lattigo/v5/he/hefloat"
)

// ErrInvalidProfile is returned when a modulus chain or ring dimension breaks
// the profile invariants.
var ErrInvalidProfile = errors.New("invalid parameter profile")

// ProfileID names one of the predefined profiles.
type ProfileID string

const (
	// HighDepth leaves the most room for multiplications. It is the default.
	HighDepth ProfileID = "HIGH_DEPTH"
	// BalancedPrecision trades depth for smaller ciphertexts.
	BalancedPrecision ProfileID = "BALANCED_PRECISION"
	// HighPrecision uses wide primes, shallow chain.
	HighPrecision ProfileID = "HIGH_PRECISION"
	// Lightweight is the fastest and least precise profile.
	Lightweight ProfileID = "LIGHTWEIGHT"
)

// Profile is a validated CKKS parameter set: the polynomial ring dimension
// and the bit widths of the coefficient modulus chain.
type Profile struct {
	Name          ProfileID
	RingDimension int
	ModulusChain  []int
}

var table = []Profile{
	{HighDepth, 16384, []int{31, 26, 26, 26, 26, 26, 26, 31}},
	{BalancedPrecision, 8192, []int{31, 25, 25, 25, 25, 31}},
	{HighPrecision, 8192, []int{60, 40, 40, 60}},
	{Lightweight, 4096, []int{30, 20, 20, 30}},
}

// New builds a profile and checks it: the ring dimension must be a power of
// two, the chain needs at least its two boundary primes, the boundary
// widths must match and every interior width must be the same.
func New(name ProfileID, ringDimension int, chain []int) (Profile, error) {
	p := Profile{Name: name, RingDimension: ringDimension, ModulusChain: append([]int(nil), chain...)}
	return p, p.Validate()
}

// Validate reports whether p satisfies the profile invariants.
func (p Profile) Validate() error {
	if p.RingDimension < 2 || bits.OnesCount(uint(p.RingDimension)) != 1 {
		return fmt.Errorf("%w: %s: ring dimension %d is not a power of two", ErrInvalidProfile, p.Name, p.RingDimension)
	}
	n := len(p.ModulusChain)
	if n < 2 {
		return fmt.Errorf("%w: %s: modulus chain needs at least 2 primes, got %d", ErrInvalidProfile, p.Name, n)
	}
	for i, b := range p.ModulusChain {
		if b <= 0 || b > 61 {
			return fmt.Errorf("%w: %s: prime %d has %d bits", ErrInvalidProfile, p.Name, i, b)
		}
	}
	if p.ModulusChain[0] != p.ModulusChain[n-1] {
		return fmt.Errorf("%w: %s: boundary primes differ (%d != %d)", ErrInvalidProfile, p.Name, p.ModulusChain[0], p.ModulusChain[n-1])
	}
	for _, b := range p.ModulusChain[1 : n-1] {
		if b != p.ModulusChain[1] {
			return fmt.Errorf("%w: %s: interior primes are not uniform %v", ErrInvalidProfile, p.Name, p.ModulusChain)
		}
	}
	return nil
}

// DepthBudget is the number of interior primes, i.e. the number of
// ciphertext-ciphertext multiplications the chain can absorb.
func (p Profile) DepthBudget() int {
	return len(p.ModulusChain) - 2
}

// LogScale is the bit width of the encoding scale. A chain without interior
// primes falls back to the boundary width.
func (p Profile) LogScale() int {
	if len(p.ModulusChain) > 2 {
		return p.ModulusChain[1]
	}
	return p.ModulusChain[0]
}

// Scale returns 2^LogScale.
func (p Profile) Scale() float64 {
	return math.Exp2(float64(p.LogScale()))
}

// Slots is the number of real values a single ciphertext carries.
func (p Profile) Slots() int {
	return p.RingDimension / 2
}

// LogN returns log2 of the ring dimension.
func (p Profile) LogN() int {
	return bits.TrailingZeros(uint(p.RingDimension))
}

// Literal maps the profile onto lattigo parameters. The last prime of the
// chain becomes the key-switching modulus P, the others form Q.
func (p Profile) Literal() hefloat.ParametersLiteral {
	n := len(p.ModulusChain)
	return hefloat.ParametersLiteral{
		LogN:            p.LogN(),
		LogQ:            append([]int(nil), p.ModulusChain[:n-1]...),
		LogP:            []int{p.ModulusChain[n-1]},
		LogDefaultScale: p.LogScale(),
	}
}

// Parameters instantiates the lattigo parameters of the profile.
func (p Profile) Parameters() (hefloat.Parameters, error) {
	if err := p.Validate(); err != nil {
		return hefloat.Parameters{}, err
	}
	prm, err := hefloat.NewParametersFromLiteral(p.Literal())
	if err != nil {
		return prm, fmt.Errorf("failed to create %s parameters: %w", p.Name, err)
	}
	return prm, nil
}

func (p Profile) String() string {
	return fmt.Sprintf("%s(N=%d, chain=%v)", p.Name, p.RingDimension, p.ModulusChain)
}

// Get returns a copy of the predefined profile with the given identifier.
func Get(id ProfileID) (Profile, error) {
	for _, p := range table {
		if p.Name == id {
			return clone(p), nil
		}
	}
	return Profile{}, fmt.Errorf("%w: unknown profile %q", ErrInvalidProfile, id)
}

// Default returns the profile used when none is requested.
func Default() Profile {
	return clone(table[0])
}

// Select resolves a user supplied name, case-insensitive. The empty name
// selects Default().
func Select(name string) (Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Default(), nil
	}
	return Get(ProfileID(strings.ToUpper(name)))
}

// All lists the predefined profiles in table order.
func All() []Profile {
	out := make([]Profile, len(table))
	for i, p := range table {
		out[i] = clone(p)
	}
	return out
}

func clone(p Profile) Profile {
	p.ModulusChain = append([]int(nil), p.ModulusChain...)
	return p
}
