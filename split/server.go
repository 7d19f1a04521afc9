package split

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"hemnist/core/ckkswrapper"
	"hemnist/nn"
	"hemnist/utils"
)

// DefaultCacheSize is the number of public contexts a Server keeps.
const DefaultCacheSize = 8

// Server evaluates inference requests with a fixed model. Public contexts
// are deserialized once and cached by fingerprint, since a client sends the
// same keys with every request of a session.
type Server struct {
	Model *nn.Model
	// Logf receives progress lines; nil disables logging.
	Logf func(format string, args ...interface{})

	sem chan struct{}

	mu        sync.Mutex
	contexts  map[string]*ckkswrapper.HeContext
	order     []string
	cacheSize int
}

// NewServer returns a server that runs at most workers evaluations at a
// time.
func NewServer(m *nn.Model, workers int) *Server {
	if workers <= 0 {
		workers = 1
	}
	return &Server{
		Model:     m,
		sem:       make(chan struct{}, workers),
		contexts:  make(map[string]*ckkswrapper.HeContext),
		cacheSize: DefaultCacheSize,
	}
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.Logf != nil {
		s.Logf(format, args...)
	}
}

// context returns the public context for blob, deserializing it on a cache
// miss.
func (s *Server) context(blob []byte) (*ckkswrapper.HeContext, string, error) {
	digest := utils.Fingerprint(blob)

	s.mu.Lock()
	ctx, ok := s.contexts[digest]
	s.mu.Unlock()
	if ok {
		return ctx, digest, nil
	}

	ctx, err := ckkswrapper.UnmarshalPublic(blob)
	if err != nil {
		return nil, "", fmt.Errorf("public context: %w", err)
	}
	s.logf("Loaded public context %s (%s, %d rotations)", digest[:12], ctx.Profile(), len(ctx.Rotations()))

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.contexts[digest]; ok {
		return cached, digest, nil
	}
	if len(s.order) >= s.cacheSize {
		delete(s.contexts, s.order[0])
		s.order = s.order[1:]
	}
	s.contexts[digest] = ctx
	s.order = append(s.order, digest)
	return ctx, digest, nil
}

// CachedContexts is the number of public contexts currently held.
func (s *Server) CachedContexts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contexts)
}

// Handle evaluates one request. It never sees a secret key: the context is
// rebuilt from public material only.
func (s *Server) Handle(req *InferenceRequest) (*InferenceResponse, error) {
	if req == nil || len(req.Context) == 0 || len(req.Chunks) == 0 {
		return nil, errors.New("empty inference request")
	}
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	ctx, digest, err := s.context(req.Context)
	if err != nil {
		return nil, err
	}
	cts, err := ckkswrapper.UnmarshalCiphertexts(req.Chunks)
	if err != nil {
		return nil, fmt.Errorf("request %d: %w", req.RequestID, err)
	}
	for i, ct := range cts {
		if err := ctx.CheckCiphertext(ct); err != nil {
			return nil, fmt.Errorf("request %d: chunk %d: %w", req.RequestID, i, err)
		}
	}

	start := time.Now()
	ev := ctx.NewWrappedEvaluator()
	out, err := s.Model.EvaluateWith(ev, cts, nn.NewBudget(ctx.Profile().DepthBudget()))
	if err != nil {
		return nil, fmt.Errorf("request %d: %w", req.RequestID, err)
	}
	ev.PrintCounters(fmt.Sprintf("request %d", req.RequestID))
	s.logf("Request %d evaluated in %v, output level %d", req.RequestID, time.Since(start), out.Level())

	scores, err := ckkswrapper.MarshalCiphertext(out)
	if err != nil {
		return nil, err
	}
	return &InferenceResponse{RequestID: req.RequestID, Scores: scores, Level: out.Level(), Digest: digest}, nil
}

// Serve answers requests on p until the peer sends MsgDone or the stream
// ends. Evaluation failures are reported to the peer and do not stop the
// loop.
func (s *Server) Serve(p *Protocol) error {
	for {
		req, err := p.ReceiveRequest()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		s.logf("Received request %d with %d chunks", req.RequestID, len(req.Chunks))
		resp, err := s.Handle(req)
		if err != nil {
			s.logf("Request %d failed: %v", req.RequestID, err)
			if err := p.SendError(err); err != nil {
				return err
			}
			continue
		}
		if err := p.SendResponse(resp); err != nil {
			return err
		}
	}
}
