package codec

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeProducesKPlusMFragments(t *testing.T) {
	c, err := New(DefaultConfig)
	require.NoError(t, err)

	data := make([]byte, 2_097_152)
	_, err = rand.Read(data)
	require.NoError(t, err)

	fragments, err := c.Encode("v1-chunk-000", data)
	require.NoError(t, err)
	require.Len(t, fragments, 5)

	for i, f := range fragments {
		assert.Equal(t, i, f.FragmentIndex)
		assert.True(t, VerifyFragment(f))
	}
	// S4: fragments are padded to equal size, 699_051 or 699_052 bytes.
	size := len(fragments[0].Data)
	assert.Contains(t, []int{699051, 699052}, size)
	for _, f := range fragments {
		assert.Equal(t, size, len(f.Data))
	}
}

func TestDecodeRoundTripDroppingFragments(t *testing.T) {
	c, err := New(DefaultConfig)
	require.NoError(t, err)

	data := make([]byte, 2_097_152)
	_, err = rand.Read(data)
	require.NoError(t, err)

	fragments, err := c.Encode("v1-chunk-000", data)
	require.NoError(t, err)

	// S4: drop fragments {1, 3}; decode from {0, 2, 4}.
	surviving := []Fragment{fragments[0], fragments[2], fragments[4]}
	decoded, err := c.Decode(surviving, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestDecodeWithAllDataFragmentsSkipsReconstruction(t *testing.T) {
	c, err := New(DefaultConfig)
	require.NoError(t, err)

	data := []byte("small payload that needs padding")
	fragments, err := c.Encode("v1-chunk-001", data)
	require.NoError(t, err)

	decoded, err := c.Decode(fragments[:3], len(data))
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestDecodeInsufficientFragments(t *testing.T) {
	c, err := New(DefaultConfig)
	require.NoError(t, err)

	data := make([]byte, 1024)
	fragments, err := c.Encode("v1-chunk-002", data)
	require.NoError(t, err)

	_, err = c.Decode(fragments[:2], len(data))
	assert.ErrorIs(t, err, ErrInsufficientFragments)
}

func TestStorageEfficiency(t *testing.T) {
	eff := DefaultConfig.StorageEfficiency(3)
	assert.InDelta(t, (3.0-5.0/3.0)/3.0, eff, 1e-9)
}
