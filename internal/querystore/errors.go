package querystore

import (
	"errors"
	"fmt"
)

// ErrSourceMismatch is the sentinel matched by a ConsistencyError.
var ErrSourceMismatch = errors.New("querystore: query text changed for an existing id")

// ConsistencyError reports an attempt to reuse an id for a different query.
// It always indicates a programming error in the caller.
type ConsistencyError struct {
	ID       ID
	Existing string
	Incoming string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("querystore: query %q re-initialized with different source text", string(e.ID))
}

func (e *ConsistencyError) Unwrap() error { return ErrSourceMismatch }
