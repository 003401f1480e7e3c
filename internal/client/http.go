package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	eventbus "github.com/hanpama/querystore/internal/eventbus"
	events "github.com/hanpama/querystore/internal/events"
	language "github.com/hanpama/querystore/internal/language"
)

// HTTPTransport posts GraphQL requests as JSON to a single endpoint.
type HTTPTransport struct {
	url string
	opt HTTPOptions
}

type HTTPOptions struct {
	// Client performs the round trips. Defaults to a client with a 30s timeout.
	Client *http.Client

	// Header is added to every request.
	Header http.Header

	// MaxBodyBytes limits the size of a response body. 0 means unlimited.
	MaxBodyBytes int64

	// Bus receives HTTPFetchStart/HTTPFetchFinish events.
	Bus *eventbus.Bus
}

type HTTPOption func(*HTTPOptions)

func WithHTTPClient(c *http.Client) HTTPOption    { return func(o *HTTPOptions) { o.Client = c } }
func WithMaxBodyBytes(n int64) HTTPOption         { return func(o *HTTPOptions) { o.MaxBodyBytes = n } }
func WithTransportBus(b *eventbus.Bus) HTTPOption { return func(o *HTTPOptions) { o.Bus = b } }
func WithHeader(name, value string) HTTPOption {
	return func(o *HTTPOptions) { o.Header.Add(name, value) }
}

func NewHTTPTransport(url string, opts ...HTTPOption) *HTTPTransport {
	op := HTTPOptions{Client: &http.Client{Timeout: 30 * time.Second}, Header: http.Header{}}
	for _, f := range opts {
		f(&op)
	}
	return &HTTPTransport{url: url, opt: op}
}

type wireResponse struct {
	Data   json.RawMessage    `json:"data"`
	Errors language.ErrorList `json:"errors"`
}

func (t *HTTPTransport) Execute(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range t.opt.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/graphql-response+json, application/json")

	status := 0
	start := time.Now()
	eventbus.Publish(ctx, t.opt.Bus, events.HTTPFetchStart{URL: t.url, OperationName: req.OperationName})
	defer func() {
		eventbus.Publish(ctx, t.opt.Bus, events.HTTPFetchFinish{
			URL:           t.url,
			OperationName: req.OperationName,
			Status:        status,
			Err:           err,
			Duration:      time.Since(start),
		})
	}()

	resp, err := t.opt.Client.Do(httpReq)
	if err != nil {
		err = &NetworkError{Err: err}
		return nil, err
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	reader := io.Reader(resp.Body)
	if t.opt.MaxBodyBytes > 0 {
		reader = io.LimitReader(resp.Body, t.opt.MaxBodyBytes+1)
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		err = &NetworkError{StatusCode: status, Err: fmt.Errorf("read body: %w", err)}
		return nil, err
	}
	if t.opt.MaxBodyBytes > 0 && int64(len(raw)) > t.opt.MaxBodyBytes {
		err = &NetworkError{StatusCode: status, Err: fmt.Errorf("body too large")}
		return nil, err
	}

	var wire wireResponse
	if jerr := json.Unmarshal(raw, &wire); jerr != nil || (len(wire.Data) == 0 && len(wire.Errors) == 0) {
		if status < 200 || status > 299 {
			err = &NetworkError{StatusCode: status, Err: fmt.Errorf("unexpected status %s", http.StatusText(status))}
		} else if jerr != nil {
			err = &NetworkError{StatusCode: status, Err: fmt.Errorf("decode response: %w", jerr)}
		} else {
			err = &NetworkError{StatusCode: status, Err: fmt.Errorf("response has neither data nor errors")}
		}
		return nil, err
	}

	out := &Response{Errors: wire.Errors}
	if len(wire.Data) > 0 && !bytes.Equal(wire.Data, []byte("null")) {
		if err = json.Unmarshal(wire.Data, &out.Data); err != nil {
			err = &NetworkError{StatusCode: status, Err: fmt.Errorf("decode data: %w", err)}
			return nil, err
		}
		out.HasData = true
	}
	return out, nil
}
