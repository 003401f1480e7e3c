package reqid

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := NewContext(context.Background(), "q1")
	got, ok := FromContext(ctx)
	if !ok || got != "q1" {
		t.Fatalf("expected q1 from context, got %q ok=%v", got, ok)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("unexpected id in empty context")
	}
}

func TestCounterAllocator(t *testing.T) {
	a := NewAllocator(WithPrefix("q"))
	require.Equal(t, "q1", a.Next())
	require.Equal(t, "q2", a.Next())
}

func TestUUIDAllocator(t *testing.T) {
	a := NewAllocator(WithUUID())
	id := a.Next()
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	require.NotEqual(t, id, a.Next())
}

func TestAllocatorConcurrentUnique(t *testing.T) {
	a := NewAllocator()
	const n = 64
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- a.Next()
		}()
	}
	wg.Wait()
	close(ids)
	seen := map[string]bool{}
	for id := range ids {
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	require.Len(t, seen, n)
}
