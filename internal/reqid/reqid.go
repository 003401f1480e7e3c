package reqid

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// key is the context key for the operation ID.
type key struct{}

// NewContext returns a copy of parent carrying the operation id.
func NewContext(parent context.Context, id string) context.Context {
	return context.WithValue(parent, key{}, id)
}

// FromContext extracts the operation ID from ctx.
// It returns the ID and whether it was present.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(key{}).(string)
	return id, ok
}

// Allocator mints operation identifiers that are unique for its lifetime.
// It is safe for concurrent use.
type Allocator struct {
	prefix  string
	random  bool
	counter atomic.Uint64
}

type Option func(*Allocator)

// WithPrefix prepends p to counter-based ids.
func WithPrefix(p string) Option { return func(a *Allocator) { a.prefix = p } }

// WithUUID switches the allocator to random version 4 UUIDs.
func WithUUID() Option { return func(a *Allocator) { a.random = true } }

// NewAllocator returns an allocator producing "1", "2", ... by default.
func NewAllocator(opts ...Option) *Allocator {
	a := &Allocator{}
	for _, f := range opts {
		f(a)
	}
	return a
}

// Next returns a fresh identifier.
func (a *Allocator) Next() string {
	if a.random {
		return a.prefix + uuid.NewString()
	}
	return a.prefix + strconv.FormatUint(a.counter.Add(1), 10)
}
