package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hanpama/querystore/internal/client"
	"github.com/hanpama/querystore/internal/eventbus"
	"github.com/hanpama/querystore/internal/events"
	"github.com/hanpama/querystore/internal/metrics"
	"github.com/hanpama/querystore/internal/otel"
	"github.com/hanpama/querystore/internal/querystore"
	"github.com/hanpama/querystore/internal/reqid"
)

const rootUsage = `querytrack — run GraphQL queries and watch their lifecycle

USAGE:
  querytrack <command> [flags]

COMMANDS:
  fetch            Run a query once and print the result
  watch            Run a query, poll it, and print the status table after each tick
  help             Show help for any command
`

const commonFlags = `  -endpoint <url>                 GraphQL HTTP endpoint (required)
  -query <file>                   Read the query from file ("-" for stdin)
  -query.text <query>             Query text; overrides -query
  -var <name=json>                Variable; value parsed as JSON, else taken as string. Repeatable
  -header <name=value>            HTTP header sent with every request. Repeatable
  -timeout <duration>             Per-request timeout (default: 30s)
  -ids.uuid                       Use random UUIDs as query ids
  -otel.endpoint <addr>           OTLP collector endpoint
  -otel.service <name>            OpenTelemetry service name (default: querytrack)
  -metrics.addr <addr>            Serve Prometheus metrics on addr
  -log.events                     Log every lifecycle event
`

const fetchUsage = "fetch FLAGS:\n" + commonFlags + `  -json                           Print the full result envelope as JSON
`

const watchUsage = "watch FLAGS:\n" + commonFlags + `  -poll.interval <duration>       Poll interval (default: 5s)
  -poll.count <n>                 Stop after n polls; 0 polls until interrupted (default: 0)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("querytrack", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "fetch":
		return cmdFetch(cmdArgs, os.Stdout)
	case "watch":
		return cmdWatch(cmdArgs, os.Stdout)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "fetch":
		fmt.Print(fetchUsage)
	case "watch":
		fmt.Print(watchUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return "" }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

type varsFlag struct {
	m map[string]any
}

func (v *varsFlag) String() string { return "" }

func (v *varsFlag) Set(s string) error {
	name, raw, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("invalid variable %q", s)
	}
	if v.m == nil {
		v.m = map[string]any{}
	}
	var val any
	if err := json.Unmarshal([]byte(raw), &val); err != nil {
		val = raw
	}
	v.m[name] = val
	return nil
}

// commonConfig holds the flags shared by fetch and watch.
type commonConfig struct {
	endpoint     string
	queryFile    string
	queryText    string
	vars         varsFlag
	headers      stringListFlag
	timeout      time.Duration
	uuidIDs      bool
	otelEndpoint string
	otelService  string
	metricsAddr  string
	logEvents    bool
}

func (c *commonConfig) bind(fs *flag.FlagSet) {
	c.timeout = 30 * time.Second
	c.otelService = "querytrack"
	fs.StringVar(&c.endpoint, "endpoint", c.endpoint, "GraphQL HTTP endpoint")
	fs.StringVar(&c.queryFile, "query", c.queryFile, "Query file")
	fs.StringVar(&c.queryText, "query.text", c.queryText, "Query text")
	fs.Var(&c.vars, "var", "Variable name=json")
	fs.Var(&c.headers, "header", "HTTP header name=value")
	fs.DurationVar(&c.timeout, "timeout", c.timeout, "Per-request timeout")
	fs.BoolVar(&c.uuidIDs, "ids.uuid", c.uuidIDs, "Use UUID query ids")
	fs.StringVar(&c.otelEndpoint, "otel.endpoint", c.otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&c.otelService, "otel.service", c.otelService, "OpenTelemetry service name")
	fs.StringVar(&c.metricsAddr, "metrics.addr", c.metricsAddr, "Prometheus metrics address")
	fs.BoolVar(&c.logEvents, "log.events", c.logEvents, "Log lifecycle events")
}

func (c *commonConfig) validate() error {
	if c.endpoint == "" {
		return fmt.Errorf("-endpoint is required")
	}
	if c.queryText == "" && c.queryFile == "" {
		return fmt.Errorf("-query or -query.text is required")
	}
	return nil
}

func (c *commonConfig) query(stdin io.Reader) (string, error) {
	if c.queryText != "" {
		return c.queryText, nil
	}
	var b []byte
	var err error
	if c.queryFile == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(c.queryFile)
	}
	if err != nil {
		return "", fmt.Errorf("read query: %w", err)
	}
	return string(b), nil
}

// session is the wired client stack for one command invocation.
type session struct {
	manager  *client.Manager
	shutdown []func(context.Context) error
}

func (s *session) close() {
	s.manager.Close()
	for i := len(s.shutdown) - 1; i >= 0; i-- {
		_ = s.shutdown[i](context.Background())
	}
}

func newSession(c *commonConfig) (*session, error) {
	trOpts := []client.HTTPOption{client.WithHTTPClient(&http.Client{Timeout: c.timeout})}
	for _, h := range c.headers {
		name, value, ok := strings.Cut(h, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q", h)
		}
		trOpts = append(trOpts, client.WithHeader(strings.TrimSpace(name), value))
	}

	bus := eventbus.New()
	s := &session{}

	shutdown, err := otel.Setup(bus, c.otelEndpoint, c.otelService)
	if err != nil {
		return nil, fmt.Errorf("otel setup: %w", err)
	}
	s.shutdown = append(s.shutdown, shutdown)

	if c.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics.New(reg).Register(bus)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: c.metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("metrics server: %v", err)
			}
		}()
		log.Printf("metrics listening on %s", c.metricsAddr)
		s.shutdown = append(s.shutdown, srv.Shutdown)
	}

	if c.logEvents {
		logEvents(bus, log.Default())
	}

	trOpts = append(trOpts, client.WithTransportBus(bus))
	transport := client.NewHTTPTransport(c.endpoint, trOpts...)

	var idOpts []reqid.Option
	if c.uuidIDs {
		idOpts = append(idOpts, reqid.WithUUID())
	}
	s.manager = client.NewManager(transport,
		client.WithBus(bus),
		client.WithAllocator(reqid.NewAllocator(idOpts...)),
	)
	return s, nil
}

// logEvents prints one line per lifecycle event.
func logEvents(bus *eventbus.Bus, l *log.Logger) {
	eventbus.Subscribe(bus, func(_ context.Context, e events.QueryInit) {
		if e.LinkedID != "" {
			l.Printf("query %s init status=%s fetchMoreFor=%s", e.ID, e.Status, e.LinkedID)
			return
		}
		l.Printf("query %s init status=%s", e.ID, e.Status)
	})
	eventbus.Subscribe(bus, func(_ context.Context, e events.QueryResult) {
		l.Printf("query %s result status=%s errors=%d", e.ID, e.Status, e.ErrorCount)
	})
	eventbus.Subscribe(bus, func(_ context.Context, e events.QueryError) {
		l.Printf("query %s error status=error err=%v", e.ID, e.Err)
	})
	eventbus.Subscribe(bus, func(_ context.Context, e events.QueryResolvedLocally) {
		l.Printf("query %s local status=%s", e.ID, e.Status)
	})
	eventbus.Subscribe(bus, func(_ context.Context, e events.QueryStop) {
		l.Printf("query %s stop", e.ID)
	})
	eventbus.Subscribe(bus, func(_ context.Context, e events.HTTPFetchFinish) {
		l.Printf("http %s status=%d duration=%s", e.URL, e.Status, e.Duration)
	})
}

func cmdFetch(args []string, out io.Writer) error {
	var c commonConfig
	asJSON := false
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	c.bind(fs)
	fs.BoolVar(&asJSON, "json", asJSON, "Print the result envelope as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, fetchUsage)
		return err
	}
	if err := c.validate(); err != nil {
		fmt.Fprint(os.Stderr, fetchUsage)
		return err
	}
	query, err := c.query(os.Stdin)
	if err != nil {
		return err
	}

	s, err := newSession(&c)
	if err != nil {
		return err
	}
	defer s.close()

	id, res, err := s.manager.Watch(context.Background(), query, c.vars.m)
	if err != nil {
		return err
	}
	defer s.manager.Stop(id)

	var v any = res.Data
	if asJSON {
		v = res
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	if !asJSON {
		for _, e := range res.Errors {
			fmt.Fprintf(out, "error: %s\n", e.Message)
		}
	}
	if res.NetworkStatus == querystore.Error {
		return fmt.Errorf("query %s failed: %w", id, res.Err())
	}
	return nil
}

func cmdWatch(args []string, out io.Writer) error {
	var c commonConfig
	interval := 5 * time.Second
	count := 0
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	c.bind(fs)
	fs.DurationVar(&interval, "poll.interval", interval, "Poll interval")
	fs.IntVar(&count, "poll.count", count, "Number of polls")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, watchUsage)
		return err
	}
	if err := c.validate(); err != nil {
		fmt.Fprint(os.Stderr, watchUsage)
		return err
	}
	if interval <= 0 {
		return fmt.Errorf("-poll.interval must be positive")
	}
	query, err := c.query(os.Stdin)
	if err != nil {
		return err
	}

	s, err := newSession(&c)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	id, _, err := s.manager.Watch(ctx, query, c.vars.m)
	if err != nil {
		return err
	}
	defer s.manager.Stop(id)
	fmt.Fprintln(out, renderRecords(s.manager.Snapshot()))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for n := 0; count == 0 || n < count; n++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if _, err := s.manager.Poll(ctx, id); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Fprintln(out, renderRecords(s.manager.Snapshot()))
	}
	return nil
}
