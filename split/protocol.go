// Package split carries encrypted inference requests between the client,
// which holds the secret key, and the evaluating server.
package split

import (
	"encoding/gob"
	"fmt"
	"io"
)

func init() {
	// Register types for gob encoding
	gob.Register(InferenceRequest{})
	gob.Register(InferenceResponse{})
}

// MessageType defines message types of the inference protocol
type MessageType int

const (
	MsgInferenceRequest MessageType = iota
	MsgInferenceResponse
	MsgDone
	MsgError
)

// Message represents a message in the inference protocol
type Message struct {
	Type    MessageType
	Payload interface{}
}

// InferenceRequest carries the client's public context and the encrypted
// image chunks, both as opaque lattigo encodings.
type InferenceRequest struct {
	RequestID int
	Context   []byte // MarshalPublic output
	Chunks    [][]byte
}

// InferenceResponse carries the encrypted class scores.
type InferenceResponse struct {
	RequestID int
	Scores    []byte
	Level     int
	Digest    string // fingerprint of the public context the server used
}

// Protocol handles inference communication
type Protocol struct {
	encoder *gob.Encoder
	decoder *gob.Decoder
}

// NewProtocol creates a new protocol handler
func NewProtocol(r io.Reader, w io.Writer) *Protocol {
	p := &Protocol{}
	if w != nil {
		p.encoder = gob.NewEncoder(w)
	}
	if r != nil {
		p.decoder = gob.NewDecoder(r)
	}
	return p
}

// Send sends a message
func (p *Protocol) Send(msg *Message) error {
	if p.encoder == nil {
		return fmt.Errorf("protocol has no writer")
	}
	return p.encoder.Encode(msg)
}

// Receive receives a message
func (p *Protocol) Receive() (*Message, error) {
	if p.decoder == nil {
		return nil, fmt.Errorf("protocol has no reader")
	}
	var msg Message
	if err := p.decoder.Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendRequest sends an inference request
func (p *Protocol) SendRequest(req *InferenceRequest) error {
	return p.Send(&Message{Type: MsgInferenceRequest, Payload: *req})
}

// SendResponse sends an inference response
func (p *Protocol) SendResponse(resp *InferenceResponse) error {
	return p.Send(&Message{Type: MsgInferenceResponse, Payload: *resp})
}

// SendDone signals completion
func (p *Protocol) SendDone() error {
	return p.Send(&Message{Type: MsgDone})
}

// SendError sends an error message
func (p *Protocol) SendError(err error) error {
	return p.Send(&Message{
		Type:    MsgError,
		Payload: err.Error(),
	})
}

// RemoteError is an error reported by the peer.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return "remote error: " + e.Message }

func (p *Protocol) receive(want MessageType) (interface{}, error) {
	msg, err := p.Receive()
	if err != nil {
		return nil, err
	}
	switch msg.Type {
	case MsgError:
		return nil, &RemoteError{Message: fmt.Sprint(msg.Payload)}
	case MsgDone:
		return nil, io.EOF
	case want:
		return msg.Payload, nil
	}
	return nil, fmt.Errorf("expected message %d, got %d", want, msg.Type)
}

// ReceiveRequest receives an inference request. It returns io.EOF once the
// peer sent MsgDone.
func (p *Protocol) ReceiveRequest() (*InferenceRequest, error) {
	payload, err := p.receive(MsgInferenceRequest)
	if err != nil {
		return nil, err
	}
	req, ok := payload.(InferenceRequest)
	if !ok {
		return nil, fmt.Errorf("invalid request payload type %T", payload)
	}
	return &req, nil
}

// ReceiveResponse receives an inference response
func (p *Protocol) ReceiveResponse() (*InferenceResponse, error) {
	payload, err := p.receive(MsgInferenceResponse)
	if err != nil {
		return nil, err
	}
	resp, ok := payload.(InferenceResponse)
	if !ok {
		return nil, fmt.Errorf("invalid response payload type %T", payload)
	}
	return &resp, nil
}
