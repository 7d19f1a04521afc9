package ckkswrapper

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/hefloat"

	"hemnist/core/params"
	"hemnist/core/scheme"
)

// ErrIncompatibleCiphertext is returned for a ciphertext that was not
// produced under the parameters of the context checking it.
var ErrIncompatibleCiphertext = errors.New("ciphertext does not match the context parameters")

// publicBundle is the wire form of a public view. Each lattigo object is
// kept in its own binary encoding.
type publicBundle struct {
	Profile       string
	RingDimension int
	ModulusChain  []int
	Params        []byte
	PublicKey     []byte
	RelinKey      []byte
	GaloisKeys    [][]byte
	Rotations     []int
}

// MarshalPublic serializes everything the evaluating party needs: the
// parameters, the public key, the relinearization key and the Galois keys.
// The secret key is never included.
func (h *HeContext) MarshalPublic() ([]byte, error) {
	b := publicBundle{
		Profile:       string(h.profile.Name),
		RingDimension: h.profile.RingDimension,
		ModulusChain:  h.profile.ModulusChain,
		Rotations:     h.rotations,
	}
	var err error
	if b.Params, err = h.Params.MarshalBinary(); err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}
	if b.PublicKey, err = h.pk.MarshalBinary(); err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	if b.RelinKey, err = h.rlk.MarshalBinary(); err != nil {
		return nil, fmt.Errorf("marshal relinearization key: %w", err)
	}
	b.GaloisKeys = make([][]byte, len(h.gks))
	for i, gk := range h.gks {
		if b.GaloisKeys[i], err = gk.MarshalBinary(); err != nil {
			return nil, fmt.Errorf("marshal galois key %d: %w", i, err)
		}
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalPublic rebuilds a public view from MarshalPublic output.
func UnmarshalPublic(data []byte) (*HeContext, error) {
	var b publicBundle
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode public context: %w", err)
	}
	profile, err := params.New(params.ProfileID(b.Profile), b.RingDimension, b.ModulusChain)
	if err != nil {
		return nil, err
	}

	var prm hefloat.Parameters
	if err := prm.UnmarshalBinary(b.Params); err != nil {
		return nil, fmt.Errorf("unmarshal parameters: %w", err)
	}
	if prm.LogN() != profile.LogN() || prm.MaxLevel() != profile.DepthBudget() {
		return nil, fmt.Errorf("parameters (logN=%d, levels=%d) do not match profile %s", prm.LogN(), prm.MaxLevel(), profile)
	}

	pk := new(rlwe.PublicKey)
	if err := pk.UnmarshalBinary(b.PublicKey); err != nil {
		return nil, fmt.Errorf("unmarshal public key: %w", err)
	}
	rlk := new(rlwe.RelinearizationKey)
	if err := rlk.UnmarshalBinary(b.RelinKey); err != nil {
		return nil, fmt.Errorf("unmarshal relinearization key: %w", err)
	}
	gks := make([]*rlwe.GaloisKey, len(b.GaloisKeys))
	for i, raw := range b.GaloisKeys {
		gks[i] = new(rlwe.GaloisKey)
		if err := gks[i].UnmarshalBinary(raw); err != nil {
			return nil, fmt.Errorf("unmarshal galois key %d: %w", i, err)
		}
	}

	return &HeContext{
		profile:   profile,
		Params:    prm,
		Encoder:   hefloat.NewEncoder(prm),
		Encryptor: hefloat.NewEncryptor(prm, pk),
		pk:        pk,
		rlk:       rlk,
		gks:       gks,
		rotations: b.Rotations,
		eval:      hefloat.NewEvaluator(prm, rlwe.NewMemEvaluationKeySet(rlk, gks...)),
	}, nil
}

// MarshalCiphertext returns the binary encoding of a lattigo ciphertext.
func MarshalCiphertext(ct scheme.Ciphertext) ([]byte, error) {
	c, err := ciphertextOf(ct)
	if err != nil {
		return nil, err
	}
	return c.MarshalBinary()
}

// UnmarshalCiphertext is the inverse of MarshalCiphertext.
func UnmarshalCiphertext(data []byte) (scheme.Ciphertext, error) {
	ct := new(rlwe.Ciphertext)
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("unmarshal ciphertext: %w", err)
	}
	return ct, nil
}

// UnmarshalCiphertexts decodes a batch of ciphertexts.
func UnmarshalCiphertexts(data [][]byte) ([]scheme.Ciphertext, error) {
	out := make([]scheme.Ciphertext, len(data))
	for i, raw := range data {
		ct, err := UnmarshalCiphertext(raw)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		out[i] = ct
	}
	return out, nil
}

// CheckCiphertext verifies that ct is a degree-1 ciphertext over the ring of
// h with a level the modulus chain has. Lattigo panics on such mismatches,
// so anything received from a peer goes through here before evaluation.
func (h *HeContext) CheckCiphertext(ct scheme.Ciphertext) error {
	c, err := ciphertextOf(ct)
	if err != nil {
		return err
	}
	if len(c.Value) != 2 {
		return fmt.Errorf("%w: degree %d", ErrIncompatibleCiphertext, len(c.Value)-1)
	}
	for i := range c.Value {
		coeffs := c.Value[i].Coeffs
		if len(coeffs) == 0 || len(coeffs) > h.Params.MaxLevel()+1 {
			return fmt.Errorf("%w: level %d, context has %d", ErrIncompatibleCiphertext, len(coeffs)-1, h.Params.MaxLevel())
		}
		if len(coeffs) != len(c.Value[0].Coeffs) {
			return fmt.Errorf("%w: components at different levels", ErrIncompatibleCiphertext)
		}
		for _, row := range coeffs {
			if len(row) != h.Params.N() {
				return fmt.Errorf("%w: ring degree %d, context has %d", ErrIncompatibleCiphertext, len(row), h.Params.N())
			}
		}
	}
	if c.MetaData == nil || c.LogDimensions != h.Params.LogMaxDimensions() {
		return fmt.Errorf("%w: slot layout", ErrIncompatibleCiphertext)
	}
	return nil
}
