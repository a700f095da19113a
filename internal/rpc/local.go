package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	pkgerrors "gephgui/pkg/errors"
)

// CannotStopLocalMessage is the message returned for "stop" on the in-process instance.
const CannotStopLocalMessage = "cannot stop a non-externally-managed instance"

// Handler serves one method of the local service.
type Handler func(ctx context.Context, params []json.RawMessage) (any, error)

// LocalService answers daemon RPCs in-process when no daemon is reachable.
type LocalService struct {
	mu      sync.RWMutex
	methods map[string]Handler
}

// NewLocalService creates a service with the built-in methods registered.
func NewLocalService() *LocalService {
	s := &LocalService{methods: make(map[string]Handler)}
	s.Register("is_connected", func(context.Context, []json.RawMessage) (any, error) {
		return false, nil
	})
	s.Register("echo", func(_ context.Context, params []json.RawMessage) (any, error) {
		if len(params) == 0 {
			return nil, nil
		}
		return params[0], nil
	})
	s.Register("stop", func(context.Context, []json.RawMessage) (any, error) {
		return nil, &pkgerrors.RemoteError{Code: CodeServerError, Message: CannotStopLocalMessage}
	})
	return s
}

// Register adds or replaces a method.
func (s *LocalService) Register(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[method] = h
}

// Methods lists the registered method names.
func (s *LocalService) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Serve runs req and always returns a response.
func (s *LocalService) Serve(ctx context.Context, req *Request) *Response {
	s.mu.RLock()
	h, ok := s.methods[req.Method]
	s.mu.RUnlock()
	if !ok {
		return ErrorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}

	result, err := h(ctx, req.Params)
	if err != nil {
		var remote *pkgerrors.RemoteError
		if errors.As(err, &remote) {
			return ErrorResponse(req.ID, remote.Code, remote.Message)
		}
		return ErrorResponse(req.ID, CodeServerError, err.Error())
	}

	resp, err := ResultResponse(req.ID, result)
	if err != nil {
		return ErrorResponse(req.ID, CodeInternalError, err.Error())
	}
	return resp
}
