package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	pkgerrors "gephgui/pkg/errors"
)

// Version is the protocol tag carried by every envelope.
const Version = "2.0"

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
)

// Request is a JSON-RPC request with positional parameters.
type Request struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Response carries either Result or Error for the request with the same ID.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// NewRequest encodes params and tags the request with a fresh id.
func NewRequest(method string, params ...any) (*Request, error) {
	raw := make([]json.RawMessage, 0, len(params))
	for i, p := range params {
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode param %d of %s: %w", i, method, err)
		}
		raw = append(raw, data)
	}
	id, _ := json.Marshal(uuid.NewString())
	return &Request{JSONRPC: Version, Method: method, Params: raw, ID: id}, nil
}

// ResultResponse builds a successful response.
func ResultResponse(id json.RawMessage, result any) (*Response, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return &Response{JSONRPC: Version, Result: data, ID: id}, nil
}

// ErrorResponse builds an error response.
func ErrorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{JSONRPC: Version, Error: &Error{Code: code, Message: message}, ID: id}
}

// Err converts an error response into a *RemoteError.
func (r *Response) Err() error {
	if r.Error == nil {
		return nil
	}
	return &pkgerrors.RemoteError{Code: r.Error.Code, Message: r.Error.Message}
}

// ParseResponse decodes one response line and checks it answers id.
func ParseResponse(line []byte, id json.RawMessage) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrMalformedResponse, err)
	}
	if resp.Error == nil && resp.Result == nil {
		return nil, fmt.Errorf("%w: neither result nor error", pkgerrors.ErrMalformedResponse)
	}
	if !sameID(resp.ID, id) {
		return nil, fmt.Errorf("%w: id %s does not match request %s", pkgerrors.ErrMalformedResponse, resp.ID, id)
	}
	return &resp, nil
}

func sameID(a, b json.RawMessage) bool {
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return false
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}
