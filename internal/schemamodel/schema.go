// Package schemamodel defines the opaque value types that flow through the
// migration worker: Schema snapshots and the logical steps that transform
// one schema into the next. Neither type is ever mutated after construction.
package schemamodel

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Schema is an immutable snapshot of a logical database schema. Equality is
// structural: two schemas built from the same logical document compare
// equal regardless of how their source JSON was formatted or key-ordered.
type Schema struct {
	normalized  []byte
	fingerprint uint64
}

// NewSchema parses a JSON document describing a schema and normalizes it
// (stable key ordering) so structural equality reduces to a byte compare.
func NewSchema(doc []byte) (Schema, error) {
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return Schema{}, err
	}
	normalized, err := canonicalJSON(v)
	if err != nil {
		return Schema{}, err
	}
	return Schema{
		normalized:  normalized,
		fingerprint: xxhash.Sum64(normalized),
	}, nil
}

// Equal reports whether two schemas are structurally identical. The
// fingerprint comparison is the fast path; a full byte compare guards
// against the (astronomically unlikely) xxhash collision.
func (s Schema) Equal(other Schema) bool {
	if s.fingerprint != other.fingerprint {
		return false
	}
	return bytes.Equal(s.normalized, other.normalized)
}

// Fingerprint returns the cached structural hash, useful for logging and
// for persistence keys that want a short, stable identifier for a schema.
func (s Schema) Fingerprint() uint64 {
	return s.fingerprint
}

// Bytes returns the normalized JSON document backing this schema.
func (s Schema) Bytes() []byte {
	return s.normalized
}

// IsZero reports whether this is the unset Schema value.
func (s Schema) IsZero() bool {
	return s.normalized == nil
}

// MarshalJSON lets Schema participate directly in persisted records.
func (s Schema) MarshalJSON() ([]byte, error) {
	if s.normalized == nil {
		return []byte("null"), nil
	}
	return s.normalized, nil
}

// UnmarshalJSON rebuilds a Schema (and its fingerprint) from a stored document.
func (s *Schema) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = Schema{}
		return nil
	}
	rebuilt, err := NewSchema(data)
	if err != nil {
		return err
	}
	*s = rebuilt
	return nil
}

func canonicalJSON(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := canonicalJSON(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			ib, err := canonicalJSON(item)
			if err != nil {
				return nil, err
			}
			buf.Write(ib)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	default:
		return json.Marshal(val)
	}
}
