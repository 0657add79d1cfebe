package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Method string            `cbor:"method"`
	Params []string          `cbor:"params"`
	Ctx    map[string]string `cbor:"context"`
}

func TestMarshalIsDeterministic(t *testing.T) {
	v := sample{Method: "system.health", Params: []string{"a"}, Ctx: map[string]string{"z": "1", "a": "2", "m": "3"}}

	first, err := Marshal(v)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Marshal(v)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestUnmarshalIgnoresFieldOrderAndUnknownFields(t *testing.T) {
	data, err := Marshal(map[string]any{
		"extra":   true,
		"params":  []string{"x", "y"},
		"method":  "plugin.run",
		"context": map[string]string{"cwd": "/tmp"},
	})
	require.NoError(t, err)

	var got sample
	require.NoError(t, Unmarshal(data, &got))
	assert.Equal(t, "plugin.run", got.Method)
	assert.Equal(t, []string{"x", "y"}, got.Params)
	assert.Equal(t, "/tmp", got.Ctx["cwd"])
}

func TestUntypedMapsDecodeWithStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"nested": map[string]any{"k": "v"}})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, Unmarshal(data, &got))
	nested, ok := got["nested"].(map[string]any)
	require.True(t, ok, "nested map type = %T", got["nested"])
	assert.Equal(t, "v", nested["k"])
}
