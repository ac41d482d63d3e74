package bytecursor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWriteRoundTrip(t *testing.T) {
	c := New(16)
	require.NoError(t, c.WriteU8(0xAB))
	require.NoError(t, c.WriteU16LE(0x1234))
	require.NoError(t, c.WriteU16BE(0x1234))
	require.NoError(t, c.WriteU32LE(0xDEADBEEF))
	require.NoError(t, c.WriteI16LE(-5))
	c.SealLength()

	c.SetPosition(0)
	u8, err := c.ReadU8()
	require.NoError(t, err)
	assert.Equal(t, uint8(0xAB), u8)

	u16le, err := c.ReadU16LE()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), u16le)

	u16be, err := c.ReadU16BE()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), u16be)

	u32, err := c.ReadU32LE()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), u32)

	i16, err := c.ReadI16LE()
	require.NoError(t, err)
	assert.Equal(t, int16(-5), i16)
}

func TestShortReadAndWrite(t *testing.T) {
	c := New(1)
	require.NoError(t, c.WriteU8(1))
	c.SealLength()
	c.SetPosition(0)

	_, err := c.ReadU8()
	require.NoError(t, err)
	_, err = c.ReadU8()
	assert.True(t, errors.Is(err, ErrShortRead))

	small := New(1)
	err = small.WriteU16LE(1)
	assert.True(t, errors.Is(err, ErrShortWrite))
}

func TestSafeSeekDoesNotFail(t *testing.T) {
	c := New(4)
	require.NoError(t, c.WriteU16LE(1))
	c.SealLength()
	c.SetPosition(0)

	n := c.SafeSeek(10)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, c.RemainingLength())
}

func TestEnsureCapacityAndAppend(t *testing.T) {
	c := New(2)
	c.Append([]byte{1, 2, 3, 4, 5})
	assert.Equal(t, 5, c.Length())
	assert.GreaterOrEqual(t, c.Capacity(), 5)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, c.Bytes())
}

func TestResetReusesBuffer(t *testing.T) {
	c := New(8)
	c.Append([]byte{1, 2, 3})
	cap1 := c.Capacity()
	c.Reset()
	assert.Equal(t, 0, c.Length())
	c.Append([]byte{9})
	assert.Equal(t, cap1, c.Capacity())
}
