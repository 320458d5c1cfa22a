package requestbody

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

var (
	errTrailingData = errors.New("trailing data after JSON value")
	errNotEnvelope  = errors.New("not a GraphQL envelope")
)

// Envelope fields. They are matched exactly; an upstream may not
// fold case, so a body is only GraphQL if it means the same thing there.
const (
	fieldQuery         = "query"
	fieldOperationName = "operationName"
	fieldVariables     = "variables"
	fieldExtensions    = "extensions"
)

var envelopeFields = []string{fieldQuery, fieldOperationName, fieldVariables, fieldExtensions}

// envelope is the JSON wrapper GraphQL clients POST.
type envelope struct {
	Query         string
	OperationName *string
	Variables     json.RawMessage
	Extensions    json.RawMessage
}

// decodeEnvelope reads the top-level object of a GraphQL request.
// A duplicate envelope field, or one spelled with different case,
// makes the body ambiguous and it is rejected.
func decodeEnvelope(content string) (envelope, error) {
	var env envelope
	dec := json.NewDecoder(strings.NewReader(content))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return env, errNotEnvelope
	}
	fields := make(map[string]json.RawMessage)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return env, err
		}
		name, _ := tok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return env, err
		}
		for _, field := range envelopeFields {
			if !strings.EqualFold(name, field) {
				continue
			}
			if name != field {
				return env, fmt.Errorf("%w: field %q", errNotEnvelope, name)
			}
			if _, seen := fields[name]; seen {
				return env, fmt.Errorf("%w: duplicate field %q", errNotEnvelope, name)
			}
			fields[name] = value
		}
	}
	if _, err := dec.Token(); err != nil {
		return env, err
	}
	if rest := strings.TrimSpace(content[dec.InputOffset():]); rest != "" {
		return env, errTrailingData
	}

	query, ok := fields[fieldQuery]
	if !ok {
		return env, errNotEnvelope
	}
	if err := json.Unmarshal(query, &env.Query); err != nil || string(query) == "null" {
		return env, errNotEnvelope
	}
	if opName, ok := fields[fieldOperationName]; ok && string(opName) != "null" {
		env.OperationName = new(string)
		if err := json.Unmarshal(opName, env.OperationName); err != nil {
			return env, errNotEnvelope
		}
	}
	env.Variables = fields[fieldVariables]
	env.Extensions = fields[fieldExtensions]
	return env, nil
}

// Classify determines the shape of a request body.
// It returns false only when no body was supplied at all;
// a present but empty body is Text.
// GraphQL detection takes precedence over plain JSON, since every envelope is also valid JSON.
func Classify(raw *string) (Body, bool) {
	if raw == nil {
		return nil, false
	}
	content := *raw
	if content == "" {
		return Text{Raw: content}, true
	}
	if gql, ok := ClassifyGraphQL(content); ok {
		return gql, true
	}
	if v, err := decodeJSON(content); err == nil {
		return JSON{Value: v}, true
	}
	return Text{Raw: content}, true
}

// ClassifyGraphQL decodes a GraphQL envelope and parses its query.
// Only the first definition of the document decides the operation kind:
// a query (including the anonymous shorthand) or a mutation is accepted,
// anything else (subscription, fragment) is not treated as GraphQL.
func ClassifyGraphQL(content string) (GraphQL, bool) {
	env, err := decodeEnvelope(content)
	if err != nil {
		return GraphQL{}, false
	}
	doc, err := parser.ParseQuery(&ast.Source{Input: env.Query})
	if err != nil {
		return GraphQL{}, false
	}
	op := firstOperation(doc)
	if op == nil {
		return GraphQL{}, false
	}
	var kind OperationKind
	switch op.Operation {
	case ast.Query:
		kind = Query
	case ast.Mutation:
		kind = Mutation
	default:
		return GraphQL{}, false
	}
	return GraphQL{
		Query:         env.Query,
		OperationName: env.OperationName,
		Variables:     env.Variables,
		Extensions:    env.Extensions,
		Kind:          kind,
	}, true
}

// firstOperation returns the operation that appears first in the source.
// It returns nil if the document is empty or starts with a fragment.
// The parser splits operations and fragments into separate lists,
// so source offsets are used to restore the original order.
func firstOperation(doc *ast.QueryDocument) *ast.OperationDefinition {
	var first *ast.OperationDefinition
	firstStart := -1
	for _, op := range doc.Operations {
		start := startOf(op.Position)
		if first == nil || start < firstStart {
			first, firstStart = op, start
		}
	}
	if first == nil {
		return nil
	}
	for _, frag := range doc.Fragments {
		if startOf(frag.Position) < firstStart {
			return nil
		}
	}
	return first
}

func startOf(pos *ast.Position) int {
	if pos == nil {
		return 0
	}
	return pos.Start
}
