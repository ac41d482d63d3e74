package session

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iKun10001/FreeRDP/crypto"
)

func testKeys() Config {
	return Config{
		MacKey:  []byte("mac-key-0123456"),
		SaltKey: []byte("salt-key-012345"),
		FipsKey: []byte("012345678901234567890123"),
		FipsIV:  []byte("01234567"),
		RC4Key:  []byte("rc4-key-0123456"),
	}
}

func TestNewUnencryptedSessionHasNoEnvelope(t *testing.T) {
	var buf bytes.Buffer
	s, err := New(Config{}, &buf)
	require.NoError(t, err)
	assert.Nil(t, s.Envelope())
	assert.Equal(t, uint8(0), s.SecFlags())
}

func TestNewEncryptedSessionBuildsEnvelope(t *testing.T) {
	cfg := testKeys()
	cfg.Encrypting = true
	cfg.SecureChecksum = true

	var buf bytes.Buffer
	s, err := New(cfg, &buf)
	require.NoError(t, err)
	require.NotNil(t, s.Envelope())
	assert.Equal(t, uint8(crypto.FlagEncrypted|crypto.FlagSecureChecksum), s.SecFlags())
}

func TestSessionTraceIDsAreDistinct(t *testing.T) {
	var buf bytes.Buffer
	s1, err := New(Config{}, &buf)
	require.NoError(t, err)
	s2, err := New(Config{}, &buf)
	require.NoError(t, err)
	assert.NotEqual(t, s1.TraceID, s2.TraceID)
}

func TestWritePDUWritesToTransport(t *testing.T) {
	var buf bytes.Buffer
	s, err := New(Config{}, &buf)
	require.NoError(t, err)

	require.NoError(t, s.WritePDU([]byte{1, 2, 3}))
	assert.Equal(t, []byte{1, 2, 3}, buf.Bytes())
}

func TestNewInputBuilderRoundTripsThroughSessionEnvelope(t *testing.T) {
	cfg := testKeys()
	cfg.Encrypting = true

	var buf bytes.Buffer
	s, err := New(cfg, &buf)
	require.NoError(t, err)

	b := s.NewInputBuilder()
	require.NoError(t, b.AppendScancode(0, 0x20))
	raw, err := b.Finalize()
	require.NoError(t, err)

	readSession, err := New(cfg, &buf)
	require.NoError(t, err)
	var gotKey uint8
	readSession.InputIn.Scancode = func(eventFlags uint8, keyCode uint8) { gotKey = keyCode }
	require.NoError(t, readSession.InputIn.DispatchPDU(raw))
	assert.Equal(t, uint8(0x20), gotKey)
}
