package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	eventbus "github.com/hanpama/querystore/internal/eventbus"
	events "github.com/hanpama/querystore/internal/events"
)

func newGraphQLServer(t *testing.T, status int, body string, capture *Request) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			b, err := io.ReadAll(r.Body)
			if err != nil {
				t.Errorf("read body: %v", err)
			}
			if err := json.Unmarshal(b, capture); err != nil {
				t.Errorf("decode request: %v", err)
			}
			if got := r.Header.Get("X-Test"); got != "" {
				capture.Extensions = map[string]any{"x-test": got}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPTransportSuccess(t *testing.T) {
	var got Request
	srv := newGraphQLServer(t, http.StatusOK, `{"data":{"hello":"world"}}`, &got)
	tr := NewHTTPTransport(srv.URL, WithHeader("X-Test", "abc"))

	resp, err := tr.Execute(context.Background(), Request{
		Query:         "query Hello { hello }",
		OperationName: "Hello",
		Variables:     map[string]any{"x": 1.0},
	})
	require.NoError(t, err)
	require.True(t, resp.HasData)
	require.Equal(t, map[string]any{"hello": "world"}, resp.Data)
	require.Empty(t, resp.Errors)

	require.Equal(t, "query Hello { hello }", got.Query)
	require.Equal(t, "Hello", got.OperationName)
	require.Equal(t, map[string]any{"x": 1.0}, got.Variables)
	require.Equal(t, "abc", got.Extensions["x-test"])
}

func TestHTTPTransportPartialErrors(t *testing.T) {
	srv := newGraphQLServer(t, http.StatusOK,
		`{"data":{"user":null},"errors":[{"message":"not found","path":["user"]}]}`, nil)
	resp, err := NewHTTPTransport(srv.URL).Execute(context.Background(), Request{Query: "{ user { id } }"})
	require.NoError(t, err)
	require.True(t, resp.HasData)
	require.Len(t, resp.Errors, 1)
	require.Equal(t, "not found", resp.Errors[0].Message)
}

func TestHTTPTransportNullData(t *testing.T) {
	srv := newGraphQLServer(t, http.StatusBadRequest, `{"data":null,"errors":[{"message":"bad"}]}`, nil)
	resp, err := NewHTTPTransport(srv.URL).Execute(context.Background(), Request{Query: "{ x }"})
	require.NoError(t, err)
	require.False(t, resp.HasData)
	require.Len(t, resp.Errors, 1)
}

func TestHTTPTransportStatusWithoutBody(t *testing.T) {
	srv := newGraphQLServer(t, http.StatusBadGateway, `upstream down`, nil)
	_, err := NewHTTPTransport(srv.URL).Execute(context.Background(), Request{Query: "{ x }"})
	var ne *NetworkError
	require.ErrorAs(t, err, &ne)
	require.Equal(t, http.StatusBadGateway, ne.StatusCode)
}

func TestHTTPTransportInvalidJSON(t *testing.T) {
	srv := newGraphQLServer(t, http.StatusOK, `{"data":`, nil)
	_, err := NewHTTPTransport(srv.URL).Execute(context.Background(), Request{Query: "{ x }"})
	var ne *NetworkError
	require.ErrorAs(t, err, &ne)
	require.Equal(t, http.StatusOK, ne.StatusCode)
}

func TestHTTPTransportBodyLimit(t *testing.T) {
	srv := newGraphQLServer(t, http.StatusOK, `{"data":{"big":"xxxxxxxxxxxxxxxxxxxxxxxx"}}`, nil)
	_, err := NewHTTPTransport(srv.URL, WithMaxBodyBytes(8)).Execute(context.Background(), Request{Query: "{ big }"})
	var ne *NetworkError
	require.ErrorAs(t, err, &ne)
}

func TestHTTPTransportConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	bus := eventbus.New()
	var finish events.HTTPFetchFinish
	starts := 0
	eventbus.Subscribe(bus, func(context.Context, events.HTTPFetchStart) { starts++ })
	eventbus.Subscribe(bus, func(_ context.Context, e events.HTTPFetchFinish) { finish = e })

	_, err := NewHTTPTransport(url, WithTransportBus(bus)).Execute(context.Background(), Request{Query: "{ x }"})
	var ne *NetworkError
	require.ErrorAs(t, err, &ne)
	require.Zero(t, ne.StatusCode)
	require.Equal(t, 1, starts)
	require.Zero(t, finish.Status)
	require.True(t, errors.As(finish.Err, &ne))
}

func TestHTTPTransportPublishesStatus(t *testing.T) {
	srv := newGraphQLServer(t, http.StatusOK, `{"data":{}}`, nil)
	bus := eventbus.New()
	var finish events.HTTPFetchFinish
	eventbus.Subscribe(bus, func(_ context.Context, e events.HTTPFetchFinish) { finish = e })

	_, err := NewHTTPTransport(srv.URL, WithTransportBus(bus)).Execute(context.Background(), Request{Query: "{ x }", OperationName: "X"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, finish.Status)
	require.Equal(t, "X", finish.OperationName)
	require.NoError(t, finish.Err)
}
