package result

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	language "github.com/hanpama/querystore/internal/language"
	querystore "github.com/hanpama/querystore/internal/querystore"
)

func TestFromRecordInFlight(t *testing.T) {
	for _, s := range []querystore.NetworkStatus{querystore.Loading, querystore.SetVariables, querystore.Poll} {
		res := FromRecord(&querystore.Record{Status: s}, nil, false)
		require.True(t, res.Loading, s.String())
		require.Equal(t, s, res.NetworkStatus)
		require.NoError(t, res.Err())
	}
}

func TestFromRecordReadyWithPartialErrors(t *testing.T) {
	rec := &querystore.Record{
		Status:        querystore.Ready,
		GraphQLErrors: language.ErrorList{language.NewError("field failed")},
	}
	res := FromRecord(rec, map[string]any{"user": nil}, false)
	require.False(t, res.Loading)
	require.Len(t, res.Errors, 1)
	require.Error(t, res.Err())
	require.Equal(t, "field failed", res.Errors[0].Message)
}

func TestFromRecordNetworkError(t *testing.T) {
	rec := &querystore.Record{Status: querystore.Error, NetworkError: errors.New("connection refused")}
	res := FromRecord(rec, map[string]any{"old": true}, true)
	require.False(t, res.Loading)
	require.True(t, res.Stale)
	require.Len(t, res.Errors, 1)
	require.Equal(t, "connection refused", res.Errors[0].Message)
}

func TestResultJSON(t *testing.T) {
	res := FromRecord(&querystore.Record{Status: querystore.Ready}, map[string]any{"a": 1}, false)
	b, err := json.Marshal(res)
	require.NoError(t, err)
	require.JSONEq(t, `{"data":{"a":1},"loading":false,"networkStatus":7,"stale":false}`, string(b))
}
