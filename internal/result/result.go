package result

import (
	language "github.com/hanpama/querystore/internal/language"
	querystore "github.com/hanpama/querystore/internal/querystore"
)

// Result is the envelope handed to query consumers.
type Result struct {
	Data          any                      `json:"data"`
	Errors        language.ErrorList       `json:"errors,omitempty"`
	Loading       bool                     `json:"loading"`
	NetworkStatus querystore.NetworkStatus `json:"networkStatus"`
	// Stale is set when Data belongs to an earlier fetch than the one the
	// record currently describes.
	Stale bool `json:"stale"`
}

// FromRecord derives the envelope for rec with the payload data. A record in
// the error status reports its network error as the only GraphQL error.
func FromRecord(rec *querystore.Record, data any, stale bool) Result {
	res := Result{
		Data:          data,
		Loading:       querystore.InFlight(rec.Status),
		NetworkStatus: rec.Status,
		Stale:         stale,
	}
	switch {
	case rec.Status == querystore.Error && rec.NetworkError != nil:
		res.Errors = language.ErrorList{language.NewError(rec.NetworkError.Error())}
	case len(rec.GraphQLErrors) > 0:
		res.Errors = append(language.ErrorList(nil), rec.GraphQLErrors...)
	}
	return res
}

// Err returns the first error carried by r, or nil.
func (r Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}
