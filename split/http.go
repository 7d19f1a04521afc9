package split

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"hemnist/utils"
)

// JSONRequest is the HTTP form of InferenceRequest, blobs base64 encoded.
type JSONRequest struct {
	RequestID int      `json:"request_id"`
	Context   string   `json:"context"`
	Chunks    []string `json:"chunks"`
}

// JSONResponse is the HTTP form of InferenceResponse. Preds is null when
// the evaluation failed.
type JSONResponse struct {
	RequestID int     `json:"request_id"`
	Preds     *string `json:"preds"`
	Level     int     `json:"level,omitempty"`
	Digest    string  `json:"digest,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// ToJSON converts the request for the HTTP transport.
func (r *InferenceRequest) ToJSON() *JSONRequest {
	j := &JSONRequest{RequestID: r.RequestID, Context: utils.EncodeBytes(r.Context)}
	for _, c := range r.Chunks {
		j.Chunks = append(j.Chunks, utils.EncodeBytes(c))
	}
	return j
}

// Request decodes the base64 blobs.
func (j *JSONRequest) Request() (*InferenceRequest, error) {
	ctx, err := utils.DecodeBytes(j.Context)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	req := &InferenceRequest{RequestID: j.RequestID, Context: ctx, Chunks: make([][]byte, len(j.Chunks))}
	for i, c := range j.Chunks {
		if req.Chunks[i], err = utils.DecodeBytes(c); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
	}
	return req, nil
}

// ToJSON converts the response for the HTTP transport.
func (r *InferenceResponse) ToJSON() *JSONResponse {
	preds := utils.EncodeBytes(r.Scores)
	return &JSONResponse{RequestID: r.RequestID, Preds: &preds, Level: r.Level, Digest: r.Digest}
}

// Response decodes the response, turning a null prediction into a
// RemoteError.
func (j *JSONResponse) Response() (*InferenceResponse, error) {
	if j.Preds == nil {
		return nil, &RemoteError{Message: j.Error}
	}
	scores, err := utils.DecodeBytes(*j.Preds)
	if err != nil {
		return nil, fmt.Errorf("preds: %w", err)
	}
	return &InferenceResponse{RequestID: j.RequestID, Scores: scores, Level: j.Level, Digest: j.Digest}, nil
}

// Router exposes the server over HTTP:
//
//	POST /inference  JSONRequest -> JSONResponse
//	GET  /health
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	router.HandleFunc("/inference", s.inferenceHandler).Methods(http.MethodPost)
	return router
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"contexts":  s.CachedContexts(),
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) inferenceHandler(w http.ResponseWriter, r *http.Request) {
	var j JSONRequest
	if err := json.NewDecoder(r.Body).Decode(&j); err != nil {
		writeJSON(w, http.StatusBadRequest, &JSONResponse{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	req, err := j.Request()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, &JSONResponse{RequestID: j.RequestID, Error: err.Error()})
		return
	}
	s.logf("Received request %d with %d chunks over HTTP", req.RequestID, len(req.Chunks))
	resp, err := s.Handle(req)
	if err != nil {
		s.logf("Request %d failed: %v", req.RequestID, err)
		writeJSON(w, http.StatusOK, &JSONResponse{RequestID: req.RequestID, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp.ToJSON())
}

// PostInference sends req to a server's /inference endpoint.
func PostInference(client *http.Client, baseURL string, req *InferenceRequest) (*InferenceResponse, error) {
	body, err := json.Marshal(req.ToJSON())
	if err != nil {
		return nil, err
	}
	httpResp, err := client.Post(baseURL+"/inference", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var j JSONResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&j); err != nil {
		return nil, fmt.Errorf("decode response (%s): %w", httpResp.Status, err)
	}
	return j.Response()
}
