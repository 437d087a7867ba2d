package schemamodel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSchemaEqual_IgnoresKeyOrderAndWhitespace(t *testing.T) {
	a, err := NewSchema([]byte(`{"models":["Post"],"version":1}`))
	require.NoError(t, err)

	b, err := NewSchema([]byte(`{  "version": 1, "models": [ "Post" ] }`))
	require.NoError(t, err)

	require.True(t, a.Equal(b))
	require.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestSchemaEqual_DetectsStructuralDifference(t *testing.T) {
	a, err := NewSchema([]byte(`{"models":["Post"]}`))
	require.NoError(t, err)

	b, err := NewSchema([]byte(`{"models":["Comment"]}`))
	require.NoError(t, err)

	require.False(t, a.Equal(b))
}

func TestSchemaMarshalRoundTrip(t *testing.T) {
	original, err := NewSchema([]byte(`{"b":2,"a":1}`))
	require.NoError(t, err)

	encoded, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Schema
	require.NoError(t, json.Unmarshal(encoded, &decoded))

	require.True(t, original.Equal(decoded))
	require.Equal(t, original.Fingerprint(), decoded.Fingerprint())
}

func TestSchemaIsZero(t *testing.T) {
	var zero Schema
	require.True(t, zero.IsZero())

	set, err := NewSchema([]byte(`{}`))
	require.NoError(t, err)
	require.False(t, set.IsZero())
}
