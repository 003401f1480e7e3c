package language

import (
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

type (
	QueryDocument       = ast.QueryDocument
	OperationDefinition = ast.OperationDefinition
)

type Operation = ast.Operation

const (
	Query    Operation = ast.Query
	Mutation Operation = ast.Mutation
)

// Error is a single GraphQL error as returned in a response "errors" entry.
type Error = gqlerror.Error

// ErrorList is the ordered "errors" array of a GraphQL response.
type ErrorList = gqlerror.List
