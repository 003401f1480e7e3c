package querystore

import (
	"errors"
	"fmt"
)

// NetworkStatus is the phase of a query's lifecycle. The numeric values are
// stable and may be surfaced to clients as-is.
type NetworkStatus int

const (
	// Loading is the first fetch of a query, or a fetch after a reset.
	Loading NetworkStatus = 1
	// SetVariables is a fetch started because the variables changed.
	SetVariables NetworkStatus = 2
	// FetchMore marks a base query while a pagination extension is in flight.
	FetchMore NetworkStatus = 3
	// Refetch is a caller-requested refetch with unchanged variables.
	Refetch NetworkStatus = 4
	// Poll is a fetch triggered by a poll tick.
	Poll NetworkStatus = 6
	// Ready means the last fetch produced a result.
	Ready NetworkStatus = 7
	// Error means the last fetch failed.
	Error NetworkStatus = 8
)

func (s NetworkStatus) String() string {
	switch s {
	case Loading:
		return "loading"
	case SetVariables:
		return "setVariables"
	case FetchMore:
		return "fetchMore"
	case Refetch:
		return "refetch"
	case Poll:
		return "poll"
	case Ready:
		return "ready"
	case Error:
		return "error"
	}
	return fmt.Sprintf("NetworkStatus(%d)", int(s))
}

// InFlight reports whether s is one of the transient statuses, i.e. a
// network request is outstanding.
func InFlight(s NetworkStatus) bool {
	return s > 0 && s < Ready
}

// ErrConflictingFetchKind is returned when a fetch is declared as both a
// poll and a refetch.
var ErrConflictingFetchKind = errors.New("querystore: fetch cannot be both poll and refetch")

type statusRule struct {
	matches func(variablesChanged, isPoll, isRefetch bool) bool
	status  NetworkStatus
}

// statusRules is evaluated top to bottom; the first match wins.
var statusRules = []statusRule{
	{func(changed, _, _ bool) bool { return changed }, SetVariables},
	{func(_, poll, _ bool) bool { return poll }, Poll},
	{func(_, _, refetch bool) bool { return refetch }, Refetch},
	{func(_, _, _ bool) bool { return true }, Loading},
}

// SelectStatus picks the status a freshly initialized record enters.
// isPoll and isRefetch are mutually exclusive.
func SelectStatus(variablesChanged, isPoll, isRefetch bool) (NetworkStatus, error) {
	if isPoll && isRefetch {
		return 0, ErrConflictingFetchKind
	}
	for _, r := range statusRules {
		if r.matches(variablesChanged, isPoll, isRefetch) {
			return r.status, nil
		}
	}
	return Loading, nil
}
