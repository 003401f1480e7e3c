// Package querystore tracks the network status of GraphQL queries.
//
// A Store maps query ids to a Record holding the query text, its parsed
// document, the variables of the current or last fetch, the status, and the
// error state of the last attempt. The store never executes queries and
// never stores result payloads.
//
// # Statuses
//
// Loading, SetVariables, Poll, Refetch and FetchMore mean a request is in
// flight; Ready and Error are settled. Init picks the in-flight status of a
// fresh fetch, first match wins:
//
//  1. SetVariables, when the caller asked to remember previous variables,
//     the id is tracked, its record is not Loading, and the variables differ.
//  2. Poll, for poll ticks.
//  3. Refetch, for caller-requested refetches.
//  4. Loading otherwise.
//
// FetchMore is never chosen by Init for its own id. It is forced onto the
// base query named by InitParams.FetchMoreForID, and MarkResult/MarkError
// settle that base query together with the extension.
//
// # Errors
//
// Re-initializing a tracked id with different source text returns a
// *ConsistencyError and changes nothing. Marking an untracked id is a no-op,
// so late responses after Stop are harmless. Network failures are stored on
// the record, not returned.
//
// # Concurrency
//
// Store methods never block and do no locking. Callers serialize access, as
// client.Manager does with a single mutex.
package querystore
