package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/querystore/internal/eventbus"
	"github.com/hanpama/querystore/internal/language"
	"github.com/hanpama/querystore/internal/querystore"
)

func newEndpoint(t *testing.T, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestHelp(t *testing.T) {
	require.NoError(t, cmdHelp(nil))
	require.NoError(t, cmdHelp([]string{"fetch"}))
	require.NoError(t, cmdHelp([]string{"watch"}))
	require.Error(t, cmdHelp([]string{"nope"}))
}

func TestRunUnknownCommand(t *testing.T) {
	require.ErrorContains(t, run([]string{"frobnicate"}), "unknown command")
	require.ErrorContains(t, run(nil), "missing command")
}

func TestVarsFlag(t *testing.T) {
	var v varsFlag
	require.NoError(t, v.Set("n=3"))
	require.NoError(t, v.Set("s=hello"))
	require.NoError(t, v.Set(`o={"a":[1,2]}`))
	require.Error(t, v.Set("novalue"))
	require.Error(t, v.Set("=x"))
	require.Equal(t, map[string]any{
		"n": 3.0,
		"s": "hello",
		"o": map[string]any{"a": []any{1.0, 2.0}},
	}, v.m)
}

func TestFetchRequiresEndpointAndQuery(t *testing.T) {
	var out bytes.Buffer
	require.ErrorContains(t, cmdFetch([]string{"-query.text", "{ a }"}, &out), "-endpoint")
	require.ErrorContains(t, cmdFetch([]string{"-endpoint", "http://x"}, &out), "-query")
}

func TestFetchPrintsData(t *testing.T) {
	srv, hits := newEndpoint(t, `{"data":{"hello":"world"},"errors":[{"message":"partial"}]}`)
	var out bytes.Buffer
	err := cmdFetch([]string{"-endpoint", srv.URL, "-query.text", "{ hello }", "-var", "x=1"}, &out)
	require.NoError(t, err)
	require.Equal(t, int32(1), hits.Load())
	require.Contains(t, out.String(), `"hello": "world"`)
	require.Contains(t, out.String(), "error: partial")
}

func TestFetchJSONEnvelopeFromFile(t *testing.T) {
	srv, _ := newEndpoint(t, `{"data":{"hello":"world"}}`)
	path := filepath.Join(t.TempDir(), "q.graphql")
	require.NoError(t, os.WriteFile(path, []byte("query Hello { hello }"), 0o644))

	var out bytes.Buffer
	require.NoError(t, cmdFetch([]string{"-endpoint", srv.URL, "-query", path, "-json", "-ids.uuid"}, &out))
	var env struct {
		Data          map[string]any `json:"data"`
		NetworkStatus int            `json:"networkStatus"`
		Loading       bool           `json:"loading"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &env))
	require.Equal(t, "world", env.Data["hello"])
	require.Equal(t, int(querystore.Ready), env.NetworkStatus)
	require.False(t, env.Loading)
}

func TestFetchNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	var out bytes.Buffer
	err := cmdFetch([]string{"-endpoint", srv.URL, "-query.text", "{ hello }"}, &out)
	require.ErrorContains(t, err, "failed")
}

func TestFetchInvalidHeader(t *testing.T) {
	var out bytes.Buffer
	err := cmdFetch([]string{"-endpoint", "http://x", "-query.text", "{ a }", "-header", "bad"}, &out)
	require.ErrorContains(t, err, "invalid header")
}

func TestWatchPollsAndRendersTable(t *testing.T) {
	srv, hits := newEndpoint(t, `{"data":{"n":1}}`)
	var out bytes.Buffer
	err := cmdWatch([]string{
		"-endpoint", srv.URL,
		"-query.text", "query N($k: Int) { n(k: $k) }",
		"-var", "k=2",
		"-poll.interval", "5ms",
		"-poll.count", "2",
	}, &out)
	require.NoError(t, err)
	require.Equal(t, int32(3), hits.Load())
	require.Equal(t, 3, strings.Count(out.String(), "STATUS"))
	require.Contains(t, out.String(), "ready")
	require.Contains(t, out.String(), `{"k":2}`)
}

func TestRenderRecords(t *testing.T) {
	got := renderRecords(map[querystore.ID]querystore.Record{
		"2": {Status: querystore.Error, NetworkError: errors.New("boom")},
		"1": {Status: querystore.Ready, GraphQLErrors: language.ErrorList{language.NewError("x")}},
	})
	require.Less(t, strings.Index(got, "ready"), strings.Index(got, "boom"))
	require.Contains(t, got, "ID")
}

func TestLogEvents(t *testing.T) {
	var buf bytes.Buffer
	bus := eventbus.New()
	logEvents(bus, log.New(&buf, "", 0))
	s := querystore.New(querystore.WithBus(bus))
	require.NoError(t, s.Init(querystore.InitParams{ID: "q1", SourceText: "{ a }"}))
	s.MarkResult("q1", nil, false, "")
	s.Stop("q1")
	require.Equal(t, "query q1 init status=loading\nquery q1 result status=ready errors=0\nquery q1 stop\n", buf.String())
}
