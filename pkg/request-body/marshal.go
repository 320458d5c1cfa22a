package requestbody

import "encoding/json"

// wireEnvelope is the envelope sent upstream for GraphQL bodies.
type wireEnvelope struct {
	Query         string          `json:"query"`
	OperationName *string         `json:"operationName,omitempty"`
	Variables     json.RawMessage `json:"variables,omitempty"`
	Extensions    json.RawMessage `json:"extensions,omitempty"`
}

// Marshal serializes a body to the form it is sent upstream in.
// GraphQL variables and extensions are sent in the canonical form the cache key is built from.
// The boolean is false for Unknown, which has no body.
func Marshal(b Body) ([]byte, bool, error) {
	switch b := b.(type) {
	case GraphQL:
		bts, err := json.Marshal(wireEnvelope{
			Query:         b.Query,
			OperationName: b.OperationName,
			Variables:     canonicalOrEmpty(b.Variables),
			Extensions:    canonicalOrEmpty(b.Extensions),
		})
		return bts, true, err
	case JSON:
		s, err := Canonical(b.Value)
		return []byte(s), true, err
	case Text:
		return []byte(b.Raw), true, nil
	default:
		return nil, false, nil
	}
}

func canonicalOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	return json.RawMessage(canonicalRaw(raw))
}
