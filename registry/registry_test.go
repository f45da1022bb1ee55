package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sharedCtx struct {
	Tag string
}

func init() {
	RegisterType([]*sharedCtx{})
}

func TestEncodeDecodeContextRoundTrip(t *testing.T) {
	original := map[string]any{"a": "one", "b": 2}

	encoded, err := EncodeContext(original)
	require.NoError(t, err)
	assert.NotEmpty(t, encoded)

	decoded, err := DecodeContext(encoded)
	require.NoError(t, err)
	assert.NotNil(t, decoded)
}

func TestEncodeDecodeNilContext(t *testing.T) {
	encoded, err := EncodeContext(nil)
	require.NoError(t, err)
	assert.Empty(t, encoded)

	decoded, err := DecodeContext("")
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestEncodeContextPreservesSharedIdentity(t *testing.T) {
	shared := &sharedCtx{Tag: "shared"}
	pair := []*sharedCtx{shared, shared}

	encoded, err := EncodeContext(pair)
	require.NoError(t, err)

	decodedAny, err := DecodeContext(encoded)
	require.NoError(t, err)

	decoded, ok := decodedAny.([]*sharedCtx)
	require.True(t, ok)
	require.Len(t, decoded, 2)
	assert.Same(t, decoded[0], decoded[1])
}

func TestNamedRegisterLookupAndRoundTrip(t *testing.T) {
	n := NewNamed()
	n.Register("double", func(ctx any) (any, error) {
		v := ctx.(int)
		return v * 2, nil
	})

	fn, ok := n.Lookup("double")
	require.True(t, ok)
	result, err := fn(21)
	require.NoError(t, err)
	assert.Equal(t, 42, result)

	callback, context, err := n.SerializeNamed("double", 21)
	require.NoError(t, err)
	assert.Equal(t, "double", callback)

	deserializedFn, ctx, err := n.Deserialize(callback, context)
	require.NoError(t, err)
	result, err = deserializedFn(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestSerializeNamedUnregisteredFails(t *testing.T) {
	n := NewNamed()
	_, _, err := n.SerializeNamed("missing", nil)
	assert.Error(t, err)
}

func TestDeserializeUnregisteredFails(t *testing.T) {
	n := NewNamed()
	_, _, err := n.Deserialize("missing", "")
	assert.Error(t, err)
}

func TestSerializeDirectsCallersToSerializeNamed(t *testing.T) {
	n := NewNamed()
	_, _, err := n.Serialize(func(ctx any) (any, error) { return nil, nil }, nil)
	assert.Error(t, err)
}
