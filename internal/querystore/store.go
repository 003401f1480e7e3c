package querystore

import (
	"context"
	"maps"
	"slices"
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	eventbus "github.com/hanpama/querystore/internal/eventbus"
	events "github.com/hanpama/querystore/internal/events"
	language "github.com/hanpama/querystore/internal/language"
	reqid "github.com/hanpama/querystore/internal/reqid"
)

// ID names one logical query. It survives refetches, polls and variable
// changes, and is gone after Stop.
type ID string

// Variables is the parameter set of a fetch. Values are expected to be
// JSON-like: maps, slices, strings, numbers, booleans and nil.
type Variables = map[string]any

// Record is the tracked state of one query.
type Record struct {
	SourceText string
	Document   *language.QueryDocument
	Variables  Variables
	// PreviousVariables holds the variables in effect before the current
	// fetch. It is only set while Status is SetVariables.
	PreviousVariables Variables
	Status            NetworkStatus
	NetworkError      error
	GraphQLErrors     language.ErrorList
	Metadata          any
}

// InitParams describes a fetch that is about to start.
type InitParams struct {
	ID                     ID
	SourceText             string
	Document               *language.QueryDocument
	StorePreviousVariables bool
	Variables              Variables
	IsPoll                 bool
	IsRefetch              bool
	Metadata               any
	// FetchMoreForID names the base query extended by this fetch. The base
	// record is moved to FetchMore when it is tracked.
	FetchMoreForID ID
}

type Options struct {
	// Bus receives a lifecycle event after every mutation. Nil disables
	// publishing.
	Bus *eventbus.Bus
}

type Option func(*Options)

func WithBus(b *eventbus.Bus) Option { return func(o *Options) { o.Bus = b } }

// Store tracks the network status of queries by ID.
//
// Store does no locking. Callers must serialize access; for a given ID the
// state always reflects the last call applied.
type Store struct {
	queries map[ID]*Record
	opt     Options
}

func New(opts ...Option) *Store {
	var op Options
	for _, f := range opts {
		f(&op)
	}
	return &Store{queries: make(map[ID]*Record), opt: op}
}

// Get returns a copy of the record for id.
func (s *Store) Get(id ID) (*Record, bool) {
	rec, ok := s.queries[id]
	if !ok {
		return nil, false
	}
	cp := rec.clone()
	return &cp, true
}

// Init records the start of a fetch for p.ID, replacing any previous record.
// It fails without touching any state when the id is already tracked with a
// different source text, or when the fetch is both a poll and a refetch.
func (s *Store) Init(p InitParams) error {
	prev, exists := s.queries[p.ID]
	if exists && prev.SourceText != p.SourceText {
		return &ConsistencyError{ID: p.ID, Existing: prev.SourceText, Incoming: p.SourceText}
	}

	var previousVariables Variables
	changed := false
	// Variables of a record that is still loading never became a baseline.
	if p.StorePreviousVariables && exists && prev.Status != Loading {
		if !variablesEqual(prev.Variables, p.Variables) {
			changed = true
			previousVariables = prev.Variables
		}
	}

	status, err := SelectStatus(changed, p.IsPoll, p.IsRefetch)
	if err != nil {
		return err
	}

	s.queries[p.ID] = &Record{
		SourceText:        p.SourceText,
		Document:          p.Document,
		Variables:         maps.Clone(p.Variables),
		PreviousVariables: previousVariables,
		Status:            status,
		Metadata:          p.Metadata,
	}

	linked := s.setLinkedStatus(p.FetchMoreForID, FetchMore)
	publish(s, p.ID, events.QueryInit{
		ID:        string(p.ID),
		Status:    status.String(),
		Variables: p.Variables,
		LinkedID:  linked,
	})
	return nil
}

// MarkResult settles the fetch for id with a result. errs are kept only when
// hasErrors is true. A tracked fetchMoreForID is moved back to Ready.
func (s *Store) MarkResult(id ID, errs language.ErrorList, hasErrors bool, fetchMoreForID ID) {
	rec, ok := s.queries[id]
	if !ok {
		return
	}
	rec.NetworkError = nil
	rec.GraphQLErrors = nil
	if hasErrors {
		rec.GraphQLErrors = errs
	}
	rec.PreviousVariables = nil
	rec.Status = Ready

	linked := s.setLinkedStatus(fetchMoreForID, Ready)
	publish(s, id, events.QueryResult{
		ID:         string(id),
		Status:     rec.Status.String(),
		ErrorCount: len(rec.GraphQLErrors),
		LinkedID:   linked,
	})
}

// MarkError settles the fetch for id with a network error. The error is
// mirrored onto a tracked fetchMoreForID.
func (s *Store) MarkError(id ID, err error, fetchMoreForID ID) {
	rec, ok := s.queries[id]
	if !ok {
		return
	}
	rec.NetworkError = err
	rec.PreviousVariables = nil
	rec.Status = Error

	linked := s.setLinkedStatus(fetchMoreForID, Error)
	if linked != "" {
		s.queries[fetchMoreForID].NetworkError = err
	}
	publish(s, id, events.QueryError{ID: string(id), Err: err, LinkedID: linked})
}

// MarkResolvedLocally records a result produced without a network round
// trip. complete reports whether more data is still pending.
func (s *Store) MarkResolvedLocally(id ID, complete bool) {
	rec, ok := s.queries[id]
	if !ok {
		return
	}
	rec.NetworkError = nil
	rec.PreviousVariables = nil
	if complete {
		rec.Status = Ready
	} else {
		rec.Status = Loading
	}
	publish(s, id, events.QueryResolvedLocally{ID: string(id), Status: rec.Status.String(), Complete: complete})
}

// Stop forgets id. Stopping an unknown id is a no-op.
func (s *Store) Stop(id ID) {
	if _, ok := s.queries[id]; !ok {
		return
	}
	delete(s.queries, id)
	publish(s, id, events.QueryStop{ID: string(id)})
}

// Reset moves every tracked id listed in active back to Loading. Other
// fields and untracked or unlisted ids are left alone.
func (s *Store) Reset(active []ID) {
	var moved []string
	for _, id := range active {
		rec, ok := s.queries[id]
		if !ok {
			continue
		}
		rec.Status = Loading
		moved = append(moved, string(id))
	}
	eventbus.Publish(context.Background(), s.opt.Bus, events.StoreReset{IDs: moved})
}

// IDs returns the tracked ids in ascending order.
func (s *Store) IDs() []ID {
	ids := make([]ID, 0, len(s.queries))
	for id := range s.queries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Store) Len() int { return len(s.queries) }

// Snapshot copies every record.
func (s *Store) Snapshot() map[ID]Record {
	out := make(map[ID]Record, len(s.queries))
	for id, rec := range s.queries {
		out[id] = rec.clone()
	}
	return out
}

// clone copies rec along with its variable maps and error list. Values
// inside the maps are shared.
func (rec *Record) clone() Record {
	cp := *rec
	cp.Variables = maps.Clone(rec.Variables)
	cp.PreviousVariables = maps.Clone(rec.PreviousVariables)
	cp.GraphQLErrors = slices.Clone(rec.GraphQLErrors)
	return cp
}

// setLinkedStatus forces status on the record for id when it is tracked and
// returns the id that was updated, or "".
func (s *Store) setLinkedStatus(id ID, status NetworkStatus) string {
	if id == "" {
		return ""
	}
	rec, ok := s.queries[id]
	if !ok {
		return ""
	}
	rec.Status = status
	return string(id)
}

func publish[T any](s *Store, id ID, e T) {
	if s.opt.Bus == nil {
		return
	}
	eventbus.Publish(reqid.NewContext(context.Background(), string(id)), s.opt.Bus, e)
}

// variablesEqual compares two parameter sets deeply. Map key order never
// matters and a nil set equals an empty one.
func variablesEqual(a, b Variables) bool {
	return cmp.Equal(a, b, cmpopts.EquateEmpty())
}
