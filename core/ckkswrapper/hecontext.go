// Package ckkswrapper backs scheme.Context with lattigo's CKKS implementation.
package ckkswrapper

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/hefloat"
	"golang.org/x/exp/slices"

	"hemnist/core/params"
	"hemnist/core/scheme"
)

// ErrNoRotations is returned when a key set would carry no Galois keys.
var ErrNoRotations = errors.New("no rotations to generate keys for")

// HeContext holds the CKKS parameters and keys of one client. A context
// built by NewHeContext owns the secret key; PublicView and UnmarshalPublic
// produce contexts that can only encrypt and evaluate.
type HeContext struct {
	profile params.Profile
	Params  hefloat.Parameters

	Encoder   *hefloat.Encoder
	Encryptor *rlwe.Encryptor
	Decryptor *rlwe.Decryptor // nil without secret key

	sk  *rlwe.SecretKey
	pk  *rlwe.PublicKey
	rlk *rlwe.RelinearizationKey
	gks []*rlwe.GaloisKey

	rotations []int
	eval      *hefloat.Evaluator

	// guards Encoder, Encryptor and Decryptor, which keep scratch buffers
	mu sync.Mutex
}

// NewHeContext generates a fresh key set for profile p with Galois keys for
// exactly the given rotations. At least one non-identity rotation is
// required.
func NewHeContext(p params.Profile, rotations []int) (*HeContext, error) {
	prm, err := p.Parameters()
	if err != nil {
		return nil, err
	}
	rots := normalizeRotations(rotations, prm.MaxSlots())
	if len(rots) == 0 {
		return nil, fmt.Errorf("%s: %w", p.Name, ErrNoRotations)
	}

	kgen := hefloat.NewKeyGenerator(prm)
	sk := kgen.GenSecretKeyNew()
	pk := kgen.GenPublicKeyNew(sk)
	rlk := kgen.GenRelinearizationKeyNew(sk)

	galEls := make([]uint64, len(rots))
	for i, r := range rots {
		galEls[i] = prm.GaloisElement(r)
	}
	gks := kgen.GenGaloisKeysNew(galEls, sk)

	h := &HeContext{
		profile:   p,
		Params:    prm,
		Encoder:   hefloat.NewEncoder(prm),
		Encryptor: hefloat.NewEncryptor(prm, pk),
		Decryptor: hefloat.NewDecryptor(prm, sk),
		sk:        sk,
		pk:        pk,
		rlk:       rlk,
		gks:       gks,
		rotations: rots,
	}
	h.eval = hefloat.NewEvaluator(prm, rlwe.NewMemEvaluationKeySet(rlk, gks...))
	return h, nil
}

// normalizeRotations maps rotations into [1, slots), drops the identity and
// duplicates, and sorts the result.
func normalizeRotations(rotations []int, slots int) []int {
	out := make([]int, 0, len(rotations))
	for _, r := range rotations {
		r = ((r % slots) + slots) % slots
		if r != 0 {
			out = append(out, r)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (h *HeContext) Profile() params.Profile { return h.profile }
func (h *HeContext) Slots() int              { return h.Params.MaxSlots() }
func (h *HeContext) HasSecretKey() bool      { return h.sk != nil }

// Rotations lists the rotations the Galois keys cover.
func (h *HeContext) Rotations() []int { return append([]int(nil), h.rotations...) }

// PublicView returns the same context without the secret key.
func (h *HeContext) PublicView() scheme.Context {
	return h.publicView()
}

func (h *HeContext) publicView() *HeContext {
	return &HeContext{
		profile:   h.profile,
		Params:    h.Params,
		Encoder:   h.Encoder.ShallowCopy(),
		Encryptor: hefloat.NewEncryptor(h.Params, h.pk),
		pk:        h.pk,
		rlk:       h.rlk,
		gks:       h.gks,
		rotations: h.rotations,
		eval:      h.eval,
	}
}

// Encrypt encodes values at the top level and default scale and encrypts
// them under the public key.
func (h *HeContext) Encrypt(values []float64) (scheme.Ciphertext, error) {
	if len(values) > h.Slots() {
		return nil, fmt.Errorf("cannot encrypt %d values into %d slots", len(values), h.Slots())
	}
	pt := hefloat.NewPlaintext(h.Params, h.Params.MaxLevel())

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.Encoder.Encode(values, pt); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	ct, err := h.Encryptor.EncryptNew(pt)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	return ct, nil
}

// Decrypt returns the real parts of all slots of ct.
func (h *HeContext) Decrypt(ct scheme.Ciphertext) ([]float64, error) {
	if h.sk == nil || h.Decryptor == nil {
		return nil, scheme.ErrMissingSecretKey
	}
	c, err := ciphertextOf(ct)
	if err != nil {
		return nil, err
	}
	values := make([]float64, h.Slots())

	h.mu.Lock()
	defer h.mu.Unlock()
	pt := h.Decryptor.DecryptNew(c)
	if err := h.Encoder.Decode(pt, values); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return values, nil
}

// Evaluator returns a counting evaluator backed by a shallow copy of the
// context's lattigo evaluator.
func (h *HeContext) Evaluator() scheme.Evaluator {
	return h.NewWrappedEvaluator()
}

// NewWrappedEvaluator is Evaluator with the concrete type exposed, so
// callers can read the operation counters.
func (h *HeContext) NewWrappedEvaluator() *WrappedEvaluator {
	return &WrappedEvaluator{
		params:  h.Params,
		eval:    h.eval.ShallowCopy(),
		encoder: h.Encoder.ShallowCopy(),
	}
}

func ciphertextOf(ct scheme.Ciphertext) (*rlwe.Ciphertext, error) {
	c, ok := ct.(*rlwe.Ciphertext)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", scheme.ErrForeignCiphertext, ct)
	}
	return c, nil
}
