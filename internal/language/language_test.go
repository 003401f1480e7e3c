package language

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeIgnoresWhitespaceAndComments(t *testing.T) {
	_, a, err := Normalize("query Q($x: Int) { user(id: $x) { name } }")
	require.NoError(t, err)
	_, b, err := Normalize(`
		# fetch a user
		query Q($x: Int) {
			user(id: $x) {
				name
			}
		}`)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestNormalizeKeepsStructuralDifferences(t *testing.T) {
	_, a, err := Normalize("{ user { name } }")
	require.NoError(t, err)
	_, b, err := Normalize("{ user { name email } }")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestParseQueryError(t *testing.T) {
	_, err := ParseQuery("{ user { ")
	require.Error(t, err)
}

func TestOperationInfo(t *testing.T) {
	doc, err := ParseQuery("mutation Rename($id: ID!) { rename(id: $id) }")
	require.NoError(t, err)
	require.Equal(t, "Rename", OperationName(doc))
	require.Equal(t, Mutation, OperationType(doc))

	doc, err = ParseQuery("{ me { id } }")
	require.NoError(t, err)
	require.Equal(t, Query, OperationType(doc))
	require.Equal(t, "", OperationName(doc))

	doc, err = ParseQuery("fragment F on User { name }")
	require.NoError(t, err)
	require.Nil(t, MainOperation(doc))
	require.Equal(t, "", OperationName(doc))
	require.Equal(t, "", Print(nil))
}
