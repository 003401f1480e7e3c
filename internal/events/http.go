package events

import "time"

// HTTPFetchStart is emitted before a GraphQL request is sent over HTTP.
type HTTPFetchStart struct {
	URL           string
	OperationName string
}

// HTTPFetchFinish is emitted after the HTTP round trip completes.
// Status is 0 when no response was received.
type HTTPFetchFinish struct {
	URL           string
	OperationName string
	Status        int
	Err           error
	Duration      time.Duration
}
