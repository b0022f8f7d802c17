package squery

import (
	"fmt"
)

// Serializer is implemented by query builders that can render themselves to a
// SQL string. The Database facade accepts either a plain string or any
// Serializer wherever a query is expected.
type Serializer interface {
	Serialize() string
}

func serializeQuery(query any) (string, error) {
	switch q := query.(type) {
	case string:
		return q, nil
	case Serializer:
		return q.Serialize(), nil
	default:
		return "", fmt.Errorf("%w, got %T", ErrBadQuery, query)
	}
}
