package client

import (
	"context"
	"fmt"

	language "github.com/hanpama/querystore/internal/language"
)

// Request is a GraphQL-over-HTTP request body.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

// Response is a decoded GraphQL response. HasData is false when the "data"
// member was absent or null.
type Response struct {
	Data    any
	HasData bool
	Errors  language.ErrorList
}

// Transport executes a single GraphQL request. Errors returned from Execute
// are network-level failures; GraphQL errors travel in Response.Errors.
type Transport interface {
	Execute(ctx context.Context, req Request) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req Request) (*Response, error)

func (f TransportFunc) Execute(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// NetworkError is a failed round trip. StatusCode is 0 when no HTTP
// response was received.
type NetworkError struct {
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("network error (HTTP %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
