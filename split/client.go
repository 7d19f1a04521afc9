package split

import (
	"fmt"

	"hemnist/core/ckkswrapper"
	"hemnist/nn"
	"hemnist/tensor"
	"hemnist/utils"
)

// Session is the client end of the protocol. It owns the secret key and
// only ever ships the public part of its context.
type Session struct {
	ctx    *ckkswrapper.HeContext
	public []byte
	digest string
	next   int
}

// NewSession serializes the public material of ctx once for all requests.
func NewSession(ctx *ckkswrapper.HeContext) (*Session, error) {
	if !ctx.HasSecretKey() {
		return nil, fmt.Errorf("client session needs a context with a secret key")
	}
	public, err := ctx.MarshalPublic()
	if err != nil {
		return nil, err
	}
	return &Session{ctx: ctx, public: public, digest: utils.Fingerprint(public)}, nil
}

// PublicSize is the size in bytes of the serialized public context.
func (s *Session) PublicSize() int { return len(s.public) }

// Request encodes and encrypts img into a new request.
func (s *Session) Request(img *tensor.Tensor) (*InferenceRequest, error) {
	cts, err := nn.EncryptImage(s.ctx, img)
	if err != nil {
		return nil, err
	}
	chunks := make([][]byte, len(cts))
	for i, ct := range cts {
		if chunks[i], err = ckkswrapper.MarshalCiphertext(ct); err != nil {
			return nil, err
		}
	}
	s.next++
	return &InferenceRequest{RequestID: s.next, Context: s.public, Chunks: chunks}, nil
}

// Scores decrypts a response. Responses computed under another context are
// rejected.
func (s *Session) Scores(resp *InferenceResponse) (nn.ClassScores, error) {
	if resp.Digest != s.digest {
		return nil, fmt.Errorf("response %d was computed under context %q, want %q", resp.RequestID, resp.Digest, s.digest)
	}
	ct, err := ckkswrapper.UnmarshalCiphertext(resp.Scores)
	if err != nil {
		return nil, err
	}
	return nn.Decode(s.ctx, ct)
}
