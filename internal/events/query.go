package events

// QueryInit is emitted after a query record is (re)initialized for a fetch.
// Status is the name of the status the record entered. LinkedID names the
// base query that was moved to fetchMore, if any.
type QueryInit struct {
	ID        string
	Status    string
	Variables map[string]any
	LinkedID  string
}

// QueryResult is emitted when a fetch settles with a result.
type QueryResult struct {
	ID         string
	Status     string
	ErrorCount int
	LinkedID   string
}

// QueryError is emitted when a fetch settles with a network error.
type QueryError struct {
	ID       string
	Err      error
	LinkedID string
}

// QueryResolvedLocally is emitted when a result is produced without a
// network round trip.
type QueryResolvedLocally struct {
	ID       string
	Status   string
	Complete bool
}

// QueryStop is emitted when a record is removed.
type QueryStop struct {
	ID string
}

// StoreReset is emitted after a bulk reset. IDs lists the records that
// were actually moved back to loading.
type StoreReset struct {
	IDs []string
}
