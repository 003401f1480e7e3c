package language

import (
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"
)

func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Print renders doc in gqlparser's canonical layout. Two sources that differ
// only in whitespace or comments print identically.
func Print(doc *QueryDocument) string {
	if doc == nil {
		return ""
	}
	var sb strings.Builder
	formatter.NewFormatter(&sb).FormatQueryDocument(doc)
	return sb.String()
}

// Normalize parses source and returns the document together with its
// printed form.
func Normalize(source string) (*QueryDocument, string, error) {
	doc, err := ParseQuery(source)
	if err != nil {
		return nil, "", err
	}
	return doc, Print(doc), nil
}

// MainOperation returns the only operation of doc, or the first one when the
// document holds several. It returns nil for fragment-only documents.
func MainOperation(doc *QueryDocument) *OperationDefinition {
	if doc == nil || len(doc.Operations) == 0 {
		return nil
	}
	return doc.Operations[0]
}

func OperationName(doc *QueryDocument) string {
	if op := MainOperation(doc); op != nil {
		return op.Name
	}
	return ""
}

func OperationType(doc *QueryDocument) Operation {
	if op := MainOperation(doc); op != nil {
		return op.Operation
	}
	return ""
}

// NewError builds a located-less GraphQL error carrying message.
func NewError(message string) *Error {
	return &Error{Message: message}
}
