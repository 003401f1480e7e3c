package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	eventbus "github.com/hanpama/querystore/internal/eventbus"
	language "github.com/hanpama/querystore/internal/language"
	querystore "github.com/hanpama/querystore/internal/querystore"
	reqid "github.com/hanpama/querystore/internal/reqid"
	result "github.com/hanpama/querystore/internal/result"
)

// ErrUnknownQuery is returned for operations on an id the manager does not
// watch.
var ErrUnknownQuery = errors.New("client: unknown query")

// MergeFunc combines the data of a base query with the data returned by a
// fetchMore extension.
type MergeFunc func(prev, next any) any

// Manager runs queries through a Transport and records their lifecycle in a
// querystore.Store. All store access is serialized by the manager; network
// round trips happen outside the lock.
type Manager struct {
	transport Transport
	opt       ManagerOptions

	mu      sync.Mutex
	queries map[querystore.ID]*watched
	pollers map[querystore.ID]context.CancelFunc
	wg      sync.WaitGroup
}

type watched struct {
	request  int
	data     any
	hasData  bool
	dataVars querystore.Variables
}

type ManagerOptions struct {
	// Store holds the lifecycle records. Defaults to a new store publishing
	// on Bus.
	Store *querystore.Store

	// IDs mints query ids. Defaults to a counter allocator.
	IDs *reqid.Allocator

	// Bus is used by the default store.
	Bus *eventbus.Bus
}

type ManagerOption func(*ManagerOptions)

func WithStore(s *querystore.Store) ManagerOption     { return func(o *ManagerOptions) { o.Store = s } }
func WithAllocator(a *reqid.Allocator) ManagerOption { return func(o *ManagerOptions) { o.IDs = a } }
func WithBus(b *eventbus.Bus) ManagerOption           { return func(o *ManagerOptions) { o.Bus = b } }

func NewManager(transport Transport, opts ...ManagerOption) *Manager {
	var op ManagerOptions
	for _, f := range opts {
		f(&op)
	}
	if op.Store == nil {
		op.Store = querystore.New(querystore.WithBus(op.Bus))
	}
	if op.IDs == nil {
		op.IDs = reqid.NewAllocator()
	}
	return &Manager{
		transport: transport,
		opt:       op,
		queries:   make(map[querystore.ID]*watched),
		pollers:   make(map[querystore.ID]context.CancelFunc),
	}
}

// WatchOption configures a single Watch call.
type WatchOption func(*querystore.InitParams)

// WithMetadata attaches opaque data to the query record.
func WithMetadata(v any) WatchOption { return func(p *querystore.InitParams) { p.Metadata = v } }

// Watch starts tracking query under a fresh id and performs its first fetch.
// Network and GraphQL failures are reported in the returned Result; the error
// is non-nil only when the query cannot be parsed or tracked.
func (m *Manager) Watch(ctx context.Context, query string, vars querystore.Variables, opts ...WatchOption) (querystore.ID, result.Result, error) {
	doc, source, err := language.Normalize(query)
	if err != nil {
		return "", result.Result{}, fmt.Errorf("parse query: %w", err)
	}
	id := querystore.ID(m.opt.IDs.Next())
	p := querystore.InitParams{ID: id, SourceText: source, Document: doc, Variables: vars}
	for _, f := range opts {
		f(&p)
	}

	m.mu.Lock()
	m.queries[id] = &watched{}
	m.mu.Unlock()

	res, err := m.fetch(ctx, p)
	if err != nil {
		m.forget(id)
		return "", result.Result{}, err
	}
	return id, res, nil
}

// Refetch fetches id again. A non-nil vars replaces the variables; when they
// differ from the current ones the record enters setVariables.
func (m *Manager) Refetch(ctx context.Context, id querystore.ID, vars querystore.Variables) (result.Result, error) {
	p, err := m.nextParams(id)
	if err != nil {
		return result.Result{}, err
	}
	p.IsRefetch = true
	if vars != nil {
		p.Variables = vars
		p.StorePreviousVariables = true
	}
	return m.fetch(ctx, p)
}

// SetVariables fetches id with vars. When vars equal the current variables
// of a settled query the current result is returned without a fetch.
func (m *Manager) SetVariables(ctx context.Context, id querystore.ID, vars querystore.Variables) (result.Result, error) {
	p, err := m.nextParams(id)
	if err != nil {
		return result.Result{}, err
	}
	if cmp.Equal(p.Variables, vars, cmpopts.EquateEmpty()) {
		if res, ok := m.Result(id); ok && !res.Loading {
			return res, nil
		}
	}
	p.Variables = vars
	p.StorePreviousVariables = true
	return m.fetch(ctx, p)
}

// Poll performs one poll tick for id.
func (m *Manager) Poll(ctx context.Context, id querystore.ID) (result.Result, error) {
	p, err := m.nextParams(id)
	if err != nil {
		return result.Result{}, err
	}
	p.IsPoll = true
	return m.fetch(ctx, p)
}

// StartPolling polls id every interval until the returned function is
// called, the query is stopped, or the manager is closed. Starting a new
// poller for id replaces the previous one.
func (m *Manager) StartPolling(id querystore.ID, interval time.Duration) (stop func(), err error) {
	if interval <= 0 {
		return nil, fmt.Errorf("client: poll interval must be positive, got %s", interval)
	}
	m.mu.Lock()
	if _, ok := m.queries[id]; !ok {
		m.mu.Unlock()
		return nil, ErrUnknownQuery
	}
	if cancel, ok := m.pollers[id]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.pollers[id] = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// stop may race the tick.
				if ctx.Err() != nil {
					return
				}
				if _, err := m.Poll(ctx, id); errors.Is(err, ErrUnknownQuery) {
					return
				}
			}
		}
	}()
	return cancel, nil
}

// FetchMore extends id with an extra page. query defaults to the base
// query's text; vars are layered over the base variables. On success merge
// folds the page into the base data. The extension runs under its own id,
// which is stopped once it settles. The returned result is the base query's.
func (m *Manager) FetchMore(ctx context.Context, id querystore.ID, query string, vars querystore.Variables, merge MergeFunc) (result.Result, error) {
	base, err := m.nextParams(id)
	if err != nil {
		return result.Result{}, err
	}
	doc, source := base.Document, base.SourceText
	if query != "" {
		if doc, source, err = language.Normalize(query); err != nil {
			return result.Result{}, fmt.Errorf("parse query: %w", err)
		}
	}
	combined := make(querystore.Variables, len(base.Variables)+len(vars))
	for k, v := range base.Variables {
		combined[k] = v
	}
	for k, v := range vars {
		combined[k] = v
	}

	more := querystore.ID(m.opt.IDs.Next())
	m.mu.Lock()
	m.queries[more] = &watched{}
	settled, baseRequest := m.settledLocked(id)
	m.mu.Unlock()
	defer m.forget(more)

	p := querystore.InitParams{
		ID:             more,
		SourceText:     source,
		Document:       doc,
		Variables:      combined,
		FetchMoreForID: id,
	}
	res, err := m.fetch(ctx, p)
	if err != nil {
		if ctx.Err() != nil {
			m.restoreBase(id, settled, baseRequest)
		}
		return result.Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.queries[id]
	if !ok {
		return res, nil
	}
	if res.NetworkStatus == querystore.Ready && res.Data != nil {
		if merge != nil && w.hasData {
			w.data = merge(w.data, res.Data)
		} else {
			w.data = res.Data
		}
		w.hasData = true
	}
	out, _ := m.resultLocked(id)
	return out, nil
}

// ResolveLocally records data for id that was produced without a network
// round trip. complete reports whether the data is final.
func (m *Manager) ResolveLocally(id querystore.ID, data any, complete bool) (result.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.queries[id]
	if !ok {
		return result.Result{}, ErrUnknownQuery
	}
	rec, ok := m.opt.Store.Get(id)
	if !ok {
		return result.Result{}, ErrUnknownQuery
	}
	// Supersede any fetch still in flight.
	w.request++
	m.opt.Store.MarkResolvedLocally(id, complete)
	w.data, w.hasData, w.dataVars = data, true, rec.Variables
	res, _ := m.resultLocked(id)
	return res, nil
}

// Result returns the current envelope for id.
func (m *Manager) Result(id querystore.ID) (result.Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resultLocked(id)
}

// Stop stops polling id and forgets it.
func (m *Manager) Stop(id querystore.ID) {
	m.forget(id)
}

// ResetStore moves every watched query back to loading and fetches each one
// again. Fetch failures are joined into the returned error.
func (m *Manager) ResetStore(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]querystore.ID, 0, len(m.queries))
	for _, id := range m.opt.Store.IDs() {
		if _, ok := m.queries[id]; ok {
			ids = append(ids, id)
		}
	}
	m.opt.Store.Reset(ids)
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		p, err := m.nextParams(id)
		if err != nil {
			continue
		}
		res, err := m.fetch(ctx, p)
		if err == nil {
			err = res.Err()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("refetch %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Store exposes the underlying store. Callers must not mutate it while the
// manager is in use.
func (m *Manager) Store() *querystore.Store { return m.opt.Store }

// Snapshot copies every record under the manager's lock.
func (m *Manager) Snapshot() map[querystore.ID]querystore.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opt.Store.Snapshot()
}

// Close stops all pollers and waits for them to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	for id, cancel := range m.pollers {
		cancel()
		delete(m.pollers, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// nextParams builds init params for a further fetch of id from its record.
func (m *Manager) nextParams(id querystore.ID) (querystore.InitParams, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.opt.Store.Get(id)
	if _, watching := m.queries[id]; !ok || !watching {
		return querystore.InitParams{}, ErrUnknownQuery
	}
	return querystore.InitParams{
		ID:         id,
		SourceText: rec.SourceText,
		Document:   rec.Document,
		Variables:  rec.Variables,
		Metadata:   rec.Metadata,
	}, nil
}

func (m *Manager) fetch(ctx context.Context, p querystore.InitParams) (result.Result, error) {
	m.mu.Lock()
	w, ok := m.queries[p.ID]
	if !ok {
		m.mu.Unlock()
		return result.Result{}, ErrUnknownQuery
	}
	if err := m.opt.Store.Init(p); err != nil {
		m.mu.Unlock()
		return result.Result{}, err
	}
	w.request++
	request := w.request
	m.mu.Unlock()

	resp, err := m.transport.Execute(reqid.NewContext(ctx, string(p.ID)), Request{
		Query:         p.SourceText,
		OperationName: language.OperationName(p.Document),
		Variables:     p.Variables,
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok = m.queries[p.ID]
	if !ok {
		return result.Result{}, ErrUnknownQuery
	}
	// A cancelled caller abandons the fetch; the record stays in flight.
	if err != nil && ctx.Err() != nil {
		return result.Result{}, ctx.Err()
	}
	// A newer fetch owns the record; drop this response.
	if w.request != request {
		res, _ := m.resultLocked(p.ID)
		return res, nil
	}

	switch {
	case err != nil:
		m.opt.Store.MarkError(p.ID, err, p.FetchMoreForID)
	case !resp.HasData && len(resp.Errors) > 0:
		m.opt.Store.MarkError(p.ID, resp.Errors, p.FetchMoreForID)
	default:
		m.opt.Store.MarkResult(p.ID, resp.Errors, len(resp.Errors) > 0, p.FetchMoreForID)
		w.data, w.hasData, w.dataVars = resp.Data, resp.HasData, p.Variables
	}
	res, _ := m.resultLocked(p.ID)
	return res, nil
}

// settledLocked returns the record of id when it is not in flight, along
// with the request number of its last fetch.
func (m *Manager) settledLocked(id querystore.ID) (*querystore.Record, int) {
	w, ok := m.queries[id]
	if !ok {
		return nil, 0
	}
	rec, ok := m.opt.Store.Get(id)
	if !ok || querystore.InFlight(rec.Status) {
		return nil, w.request
	}
	return rec, w.request
}

// restoreBase puts id back to the settled record prev after an abandoned
// fetchMore. Nothing else would settle it once the extension id is gone. A
// base that was in flight, or has been fetched again since, is left alone.
func (m *Manager) restoreBase(id querystore.ID, prev *querystore.Record, request int) {
	if prev == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.queries[id]
	if !ok || w.request != request {
		return
	}
	rec, ok := m.opt.Store.Get(id)
	if !ok || rec.Status != querystore.FetchMore {
		return
	}
	switch prev.Status {
	case querystore.Error:
		m.opt.Store.MarkError(id, prev.NetworkError, "")
	default:
		m.opt.Store.MarkResult(id, prev.GraphQLErrors, len(prev.GraphQLErrors) > 0, "")
	}
}

func (m *Manager) resultLocked(id querystore.ID) (result.Result, bool) {
	w, ok := m.queries[id]
	if !ok {
		return result.Result{}, false
	}
	rec, ok := m.opt.Store.Get(id)
	if !ok {
		return result.Result{}, false
	}
	stale := w.hasData && (rec.Status == querystore.Error ||
		!cmp.Equal(w.dataVars, rec.Variables, cmpopts.EquateEmpty()))
	return result.FromRecord(rec, w.data, stale), true
}

func (m *Manager) forget(id querystore.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.pollers[id]; ok {
		cancel()
		delete(m.pollers, id)
	}
	delete(m.queries, id)
	m.opt.Store.Stop(id)
}
