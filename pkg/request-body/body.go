package requestbody

import (
	"bytes"
	"encoding/json"
	"strings"
)

// OperationKind tells a read-only GraphQL query apart from a side-effecting mutation.
type OperationKind int

const (
	Query OperationKind = iota
	Mutation
)

func (k OperationKind) String() string {
	if k == Mutation {
		return "mutation"
	}
	return "query"
}

// Body is the classified shape of a request body.
// The set of variants is closed: Unknown, Text, JSON and GraphQL.
type Body interface {
	isBody()
}

// Unknown is a request without a body.
type Unknown struct{}

// Text is a body that is neither GraphQL nor JSON.
// Raw holds the body exactly as received.
type Text struct {
	Raw string
}

// JSON is a body that decoded as JSON but is not a GraphQL envelope.
// Numbers are kept as json.Number.
type JSON struct {
	Value any
}

// GraphQL is a decoded GraphQL envelope whose query parsed as a query or a mutation.
type GraphQL struct {
	Query         string
	OperationName *string
	// Variables and Extensions are kept undecoded. Nil when absent from the envelope.
	Variables  json.RawMessage
	Extensions json.RawMessage
	Kind       OperationKind
}

func (Unknown) isBody() {}
func (Text) isBody()    {}
func (JSON) isBody()    {}
func (GraphQL) isBody() {}

// CanonicalVariables returns the variables in canonical JSON form
// (object keys sorted, no insignificant whitespace). Absent variables are "null".
func (g GraphQL) CanonicalVariables() string {
	return canonicalRaw(g.Variables)
}

// CanonicalExtensions is the canonical JSON form of the envelope extensions.
func (g GraphQL) CanonicalExtensions() string {
	return canonicalRaw(g.Extensions)
}

// Canonical returns the canonical JSON text of the value.
func (j JSON) Canonical() string {
	s, err := Canonical(j.Value)
	if err != nil {
		// values produced by decode always encode
		return ""
	}
	return s
}

// Name is a short label for the variant, used in logs and metrics.
func Name(b Body) string {
	switch b := b.(type) {
	case Text:
		return "text"
	case JSON:
		return "json"
	case GraphQL:
		return "graphql-" + b.Kind.String()
	default:
		return "unknown"
	}
}

// Canonical encodes v as JSON with sorted object keys and without HTML escaping.
func Canonical(v any) (string, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func canonicalRaw(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	v, err := decodeJSON(string(raw))
	if err != nil {
		return string(raw)
	}
	s, err := Canonical(v)
	if err != nil {
		return string(raw)
	}
	return s
}

// decodeJSON decodes exactly one JSON value, keeping numbers as json.Number.
func decodeJSON(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	// trailing data means this was not a single JSON document
	if rest := strings.TrimSpace(s[dec.InputOffset():]); rest != "" {
		return nil, errTrailingData
	}
	return v, nil
}
