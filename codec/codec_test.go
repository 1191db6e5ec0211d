package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByName(t *testing.T) {
	c, ok := ByName("json")
	require.True(t, ok)
	assert.Equal(t, "json", c.Name())

	c, ok = ByName("go-json")
	require.True(t, ok)
	assert.Equal(t, "go-json", c.Name())

	_, ok = ByName("msgpack")
	assert.False(t, ok)
}

func TestCodecs_DeterministicMapKeys(t *testing.T) {
	v := map[string]any{
		"n":  uint64(4),
		"sw": map[string]any{"n": uint64(4)},
		"ne": map[string]any{"n": uint64(1)},
	}

	std, err := JSON{}.Marshal(v)
	require.NoError(t, err)
	fast, err := GoJSON{}.Marshal(v)
	require.NoError(t, err)

	// Both codecs sort map keys, so query responses are byte-stable across
	// codecs and runs.
	assert.Equal(t, string(std), string(fast))

	var out map[string]any
	require.NoError(t, GoJSON{}.Unmarshal(std, &out))
	assert.Equal(t, float64(4), out["n"])
}
