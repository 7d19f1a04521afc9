package split

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"hemnist/core/ckkswrapper"
	"hemnist/core/params"
	"hemnist/encoding"
	"hemnist/nn"
	"hemnist/tensor"
	"hemnist/utils"
)

func testModel(t *testing.T) *nn.Model {
	t.Helper()
	m, err := nn.NewModel(utils.DemoWeights(4, 32, 3, 42))
	require.NoError(t, err)
	return m
}

func testImage() *tensor.Tensor {
	img := tensor.New(encoding.ImageSize, encoding.ImageSize)
	for i := 6; i < 22; i++ {
		img.Set(1, i, 8)
		img.Set(1, i, 19)
		img.Set(1, 6, i)
		img.Set(1, 21, i)
	}
	return img
}

func TestJSONConversion(t *testing.T) {
	req := &InferenceRequest{RequestID: 7, Context: []byte{0, 1, 2}, Chunks: [][]byte{{3}, {4, 5}}}
	back, err := req.ToJSON().Request()
	require.NoError(t, err)
	if diff := cmp.Diff(req, back); diff != "" {
		t.Errorf("request changed (-want +got):\n%s", diff)
	}

	resp := &InferenceResponse{RequestID: 7, Scores: []byte("ct"), Level: 1, Digest: "d"}
	gotResp, err := resp.ToJSON().Response()
	require.NoError(t, err)
	if diff := cmp.Diff(resp, gotResp); diff != "" {
		t.Errorf("response changed (-want +got):\n%s", diff)
	}

	_, err = (&JSONResponse{RequestID: 7, Error: "boom"}).Response()
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	require.Equal(t, "boom", remote.Message)

	_, err = (&JSONRequest{Context: "%%%"}).Request()
	require.Error(t, err)
}

func TestHealthEndpoint(t *testing.T) {
	srv := httptest.NewServer(NewServer(testModel(t), 1).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `"status":"healthy"`)

	// wrong method is not routed
	resp2, err := http.Post(srv.URL+"/health", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp2.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}

func TestInferenceEndpointFailures(t *testing.T) {
	srv := httptest.NewServer(NewServer(testModel(t), 1).Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/inference", "application/json", strings.NewReader("not json"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// undecodable keys: the server answers with null predictions
	req := &InferenceRequest{RequestID: 3, Context: []byte("garbage"), Chunks: [][]byte{[]byte("x")}}
	_, err = PostInference(srv.Client(), srv.URL, req)
	var remote *RemoteError
	require.True(t, errors.As(err, &remote), "got %v", err)
	require.Contains(t, remote.Message, "public context")
}

func TestHandleRejectsEmptyRequest(t *testing.T) {
	s := NewServer(testModel(t), 0)
	_, err := s.Handle(&InferenceRequest{})
	require.Error(t, err)
	_, err = s.Handle(nil)
	require.Error(t, err)
}

// chunks encrypted under other parameters than the public context must come
// back as errors, not crash the evaluation
func TestHandleRejectsMismatchedChunks(t *testing.T) {
	heContext := func(id params.ProfileID) *ckkswrapper.HeContext {
		p, err := params.Get(id)
		require.NoError(t, err)
		h, err := ckkswrapper.NewHeContext(p, []int{1})
		require.NoError(t, err)
		return h
	}
	public, err := heContext(params.HighPrecision).MarshalPublic()
	require.NoError(t, err)

	s := NewServer(testModel(t), 0)
	// same ring with more levels, then a smaller ring
	for _, id := range []params.ProfileID{params.BalancedPrecision, params.Lightweight} {
		ct, err := heContext(id).Encrypt([]float64{1, 2, 3})
		require.NoError(t, err)
		raw, err := ckkswrapper.MarshalCiphertext(ct)
		require.NoError(t, err)

		req := &InferenceRequest{RequestID: 1, Context: public, Chunks: [][]byte{raw, raw}}
		require.NotPanics(t, func() { _, err = s.Handle(req) }, id)
		require.ErrorIs(t, err, ckkswrapper.ErrIncompatibleCiphertext, id)
	}
}

func TestSessionNeedsSecretKey(t *testing.T) {
	p, err := params.Get(params.Lightweight)
	require.NoError(t, err)
	h, err := ckkswrapper.NewHeContext(p, []int{1})
	require.NoError(t, err)
	_, err = NewSession(h.PublicView().(*ckkswrapper.HeContext))
	require.Error(t, err)
}

// End to end over the gob stream: the client keeps its secret key, the
// server only sees MarshalPublic output.
func TestStdioEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("key generation is slow")
	}
	m := testModel(t)
	p, err := params.Get(params.BalancedPrecision)
	require.NoError(t, err)
	rots, err := m.RequiredRotations(p.Slots())
	require.NoError(t, err)
	client, err := ckkswrapper.NewHeContext(p, rots)
	require.NoError(t, err)
	session, err := NewSession(client)
	require.NoError(t, err)

	toServer, fromClient := io.Pipe()
	toClient, fromServer := io.Pipe()
	server := NewServer(m, 2)
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(NewProtocol(toServer, fromServer))
		fromServer.Close()
	}()
	proto := NewProtocol(toClient, fromClient)

	img := testImage()
	want, err := m.ForwardPlain(img)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		req, err := session.Request(img)
		require.NoError(t, err)
		require.NoError(t, proto.SendRequest(req))
		resp, err := proto.ReceiveResponse()
		require.NoError(t, err)
		require.Equal(t, req.RequestID, resp.RequestID)

		got, err := session.Scores(resp)
		require.NoError(t, err)
		r, err := nn.CompareScores(want, got)
		require.NoError(t, err)
		require.Less(t, r.MaxAbs, 1e-2*maxAbs(want), r.String())
	}
	require.Equal(t, 1, server.CachedContexts())

	// a broken request is answered with an error and the loop goes on
	require.NoError(t, proto.SendRequest(&InferenceRequest{RequestID: 9, Context: []byte("x"), Chunks: [][]byte{{1}}}))
	_, err = proto.ReceiveResponse()
	var remote *RemoteError
	require.True(t, errors.As(err, &remote), "got %v", err)

	require.NoError(t, proto.SendDone())
	fromClient.Close()
	require.NoError(t, <-done)
}

func maxAbs(v []float64) float64 {
	m := 0.0
	for _, x := range v {
		if x < 0 {
			x = -x
		}
		m = max(m, x)
	}
	return m
}
