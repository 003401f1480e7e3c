package eventbus

import (
	"context"
	"reflect"
	"sync"
)

// Handler processes events of type T.
type Handler[T any] func(context.Context, T)

type entry struct {
	id uint64
	fn func(context.Context, any)
}

// Bus is a simple in-process event dispatcher. A nil *Bus drops every event.
type Bus struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[reflect.Type][]entry
}

// New creates a new Bus.
func New() *Bus { return &Bus{handlers: make(map[reflect.Type][]entry)} }

func (b *Bus) subscribe(t reflect.Type, fn func(context.Context, any)) (unsubscribe func()) {
	b.mu.Lock()
	b.next++
	id := b.next
	b.handlers[t] = append(b.handlers[t], entry{id: id, fn: fn})
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		hs := b.handlers[t]
		for i, e := range hs {
			if e.id == id {
				hs = append(hs[:i:i], hs[i+1:]...)
				break
			}
		}
		if len(hs) == 0 {
			delete(b.handlers, t)
		} else {
			b.handlers[t] = hs
		}
	}
}

// emit dispatches e to all handlers of its dynamic type.
func (b *Bus) emit(ctx context.Context, t reflect.Type, e any) {
	b.mu.RLock()
	hs := b.handlers[t]
	if len(hs) == 0 {
		b.mu.RUnlock()
		return
	}
	copied := append([]entry(nil), hs...)
	b.mu.RUnlock()
	for _, h := range copied {
		h.fn(ctx, e)
	}
}

// Subscribe registers h with b. Subscribing to a nil bus is a no-op.
func Subscribe[T any](b *Bus, h Handler[T]) (unsubscribe func()) {
	if b == nil {
		return func() {}
	}
	t := reflect.TypeOf((*T)(nil)).Elem()
	wrapped := func(ctx context.Context, v any) { h(ctx, v.(T)) }
	return b.subscribe(t, wrapped)
}

// Publish sends e through b.
func Publish[T any](ctx context.Context, b *Bus, e T) {
	if b == nil {
		return
	}
	b.emit(ctx, reflect.TypeOf((*T)(nil)).Elem(), e)
}
