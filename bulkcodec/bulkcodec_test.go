package bulkcodec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoneRoundTrip(t *testing.T) {
	b := NewBridge()
	src := []byte("uncompressed update payload")
	out, err := b.Compress(TypeNone, src)
	require.NoError(t, err)
	assert.Equal(t, src, out)

	back, err := b.Decompress(TypeNone, out)
	require.NoError(t, err)
	assert.Equal(t, src, back)
}

func TestBrotliRoundTrip(t *testing.T) {
	b := NewBridge()
	src := []byte("the quick brown fox jumps over the lazy dog, repeated, the quick brown fox jumps over the lazy dog")

	compressed, err := b.Compress(TypeBrotli, src)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(src))

	decompressed, err := b.Decompress(TypeBrotli, compressed)
	require.NoError(t, err)
	assert.Equal(t, src, decompressed)
}

func TestUnknownBackendIsCodecFailure(t *testing.T) {
	b := NewBridge()
	_, err := b.Decompress(0x0F, []byte("x"))
	assert.True(t, errors.Is(err, ErrCodecFailure))
}

func TestMaxOutputSize(t *testing.T) {
	b := NewBridge()
	n, err := b.MaxOutputSize(TypeNone, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	n, err = b.MaxOutputSize(TypeBrotli, 100)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 100)
}
