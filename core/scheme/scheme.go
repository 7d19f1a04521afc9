// Package scheme describes the homomorphic capabilities the inference layers
// rely on. Backends implement Context and Evaluator; the layers never touch
// scheme internals directly.
package scheme

import (
	"errors"

	"hemnist/core/params"
)

var (
	// ErrMissingSecretKey is returned by Decrypt on a context that only holds
	// public material.
	ErrMissingSecretKey = errors.New("context has no secret key")
	// ErrLevelExhausted is returned when a rescale is requested on a
	// ciphertext that already sits at the bottom of the modulus chain.
	ErrLevelExhausted = errors.New("modulus chain exhausted")
	// ErrForeignCiphertext is returned when a ciphertext produced by one
	// backend is handed to another.
	ErrForeignCiphertext = errors.New("ciphertext belongs to another backend")
)

// Ciphertext is an opaque encrypted vector.
type Ciphertext interface {
	// Level is the number of rescales the ciphertext can still undergo.
	Level() int
}

// Evaluator performs slot-wise arithmetic on ciphertexts. Rotations follow
// the CKKS convention: Rotate(ct, k) moves slot i+k to slot i, negative k
// rotates right.
//
// MulPlain leaves the result one rescale away from the input scale; callers
// pair it with Rescale. Mul is a relinearized ciphertext product with the
// same contract.
type Evaluator interface {
	Slots() int
	Add(a, b Ciphertext) (Ciphertext, error)
	AddPlain(a Ciphertext, values []float64) (Ciphertext, error)
	MulPlain(a Ciphertext, values []float64) (Ciphertext, error)
	MulScalar(a Ciphertext, c float64) (Ciphertext, error)
	Mul(a, b Ciphertext) (Ciphertext, error)
	Rescale(a Ciphertext) (Ciphertext, error)
	Rotate(a Ciphertext, k int) (Ciphertext, error)
	// RotateMany returns every requested rotation of a, sharing the
	// decomposition of a where the backend supports it.
	RotateMany(a Ciphertext, ks []int) (map[int]Ciphertext, error)
}

// Context is the EncryptionContext: parameters plus keys. Client contexts
// carry the secret key; PublicView strips it for the evaluating party.
type Context interface {
	Profile() params.Profile
	Slots() int
	HasSecretKey() bool
	Encrypt(values []float64) (Ciphertext, error)
	Decrypt(ct Ciphertext) ([]float64, error)
	// Evaluator returns an evaluator owned by the caller. Evaluators are
	// not safe for concurrent use; contexts are.
	Evaluator() Evaluator
	PublicView() Context
}

// EncryptAll encrypts every chunk with ctx.
func EncryptAll(ctx Context, chunks [][]float64) ([]Ciphertext, error) {
	out := make([]Ciphertext, len(chunks))
	for i, c := range chunks {
		ct, err := ctx.Encrypt(c)
		if err != nil {
			return nil, err
		}
		out[i] = ct
	}
	return out, nil
}
