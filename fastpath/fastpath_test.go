package fastpath

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iKun10001/FreeRDP/bulkcodec"
	"github.com/iKun10001/FreeRDP/bytecursor"
	"github.com/iKun10001/FreeRDP/crypto"
)

func newTestEnvelope(t *testing.T, fips bool) *crypto.Envelope {
	t.Helper()
	prims, err := crypto.NewStdPrimitives(
		[]byte("mac-key-0123456"),
		[]byte("salt-key-012345"),
		[]byte("012345678901234567890123"),
		[]byte("01234567"),
		[]byte("rc4-key-0123456"),
	)
	require.NoError(t, err)
	var mu sync.Mutex
	return crypto.NewEnvelope(prims, fips, &mu)
}

func passthroughParser(c *bytecursor.Cursor) (any, error) {
	return c.ReadBytes(c.RemainingLength())
}

// S1 — round-trip SINGLE bitmap update, no crypto, no compression.
func TestScenarioS1SingleBitmap(t *testing.T) {
	header := []byte{0x00, 0x80, 0x0B}
	hc := bytecursor.NewFromBytes(header)
	h, err := DecodeOutputHeader(hc, false)
	require.NoError(t, err)
	assert.Equal(t, 11, h.Length)
	assert.False(t, h.HasSignature)

	// code=1 (Bitmap), frag=SINGLE, comp=0, size=5, payload aa bb cc dd ee.
	record := []byte{0x01, 0x05, 0x00, 0xaa, 0xbb, 0xcc, 0xdd, 0xee}
	c := bytecursor.NewFromBytes(record)

	reasm := NewReassembler(bulkcodec.NewBridge(), 1<<20)
	payload, code, complete, err := reasm.ReceiveFragment(c)
	require.NoError(t, err)
	require.True(t, complete)
	assert.Equal(t, uint8(UpdateBitmap), code)
	assert.Equal(t, []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee}, payload)

	var got any
	d := NewDispatcher(reasm)
	d.Parsers.Bitmap = passthroughParser
	d.Handlers.BitmapUpdate = func(v any) error {
		got = v
		return nil
	}
	require.NoError(t, d.Dispatch(code, payload))
	assert.Equal(t, []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee}, got)
}

// S2 — two-fragment orders update.
func TestScenarioS2TwoFragmentOrders(t *testing.T) {
	frag1 := []byte{0x20, 0x04, 0x00, 0x01, 0x02, 0x03, 0x04} // code=0, FIRST, size=4
	frag2 := []byte{0x10, 0x03, 0x00, 0x05, 0x06, 0x07}       // code=0, LAST, size=3

	reasm := NewReassembler(bulkcodec.NewBridge(), 1<<20)

	_, _, complete, err := reasm.ReceiveFragment(bytecursor.NewFromBytes(frag1))
	require.NoError(t, err)
	assert.False(t, complete)

	payload, code, complete, err := reasm.ReceiveFragment(bytecursor.NewFromBytes(frag2))
	require.NoError(t, err)
	require.True(t, complete)
	assert.Equal(t, uint8(UpdateOrders), code)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}, payload)
}

// S3 — illegal NEXT without FIRST.
func TestScenarioS3IllegalNext(t *testing.T) {
	frag := []byte{0x31, 0x01, 0x00, 0xff} // code=1, frag=NEXT(3), comp=0, size=1

	reasm := NewReassembler(bulkcodec.NewBridge(), 1<<20)
	_, _, complete, err := reasm.ReceiveFragment(bytecursor.NewFromBytes(frag))
	assert.False(t, complete)
	assert.True(t, errors.Is(err, ErrProtocolViolation))

	// reassembler must be back to Idle: a fresh SINGLE now succeeds.
	single := []byte{0x01, 0x01, 0x00, 0x2a}
	_, _, complete, err = reasm.ReceiveFragment(bytecursor.NewFromBytes(single))
	require.NoError(t, err)
	assert.True(t, complete)
}

// S4 — server 2008 synchronize tolerance.
func TestScenarioS4SynchronizeTolerance(t *testing.T) {
	reasm := NewReassembler(bulkcodec.NewBridge(), 1<<20)
	d := NewDispatcher(reasm)

	called := false
	d.Handlers.Synchronize = func() error {
		called = true
		return nil
	}

	err := d.Dispatch(UpdateSynchronize, nil)
	require.NoError(t, err)
	assert.True(t, called)
}

func TestSynchronizeMissingHandlerNeverFails(t *testing.T) {
	reasm := NewReassembler(bulkcodec.NewBridge(), 1<<20)
	d := NewDispatcher(reasm)
	// no Synchronize handler registered, DeactivateClientDecoding left false
	assert.NoError(t, d.Dispatch(UpdateSynchronize, nil))
}

func TestUnknownUpdateCodeSkippedSilently(t *testing.T) {
	reasm := NewReassembler(bulkcodec.NewBridge(), 1<<20)
	d := NewDispatcher(reasm)
	assert.NoError(t, d.Dispatch(0x7, []byte{1, 2, 3}))
}

func TestMissingHandlerFailsUnlessDeactivated(t *testing.T) {
	reasm := NewReassembler(bulkcodec.NewBridge(), 1<<20)
	d := NewDispatcher(reasm)
	d.Parsers.Palette = passthroughParser

	err := d.Dispatch(UpdatePalette, []byte{1, 2})
	assert.True(t, errors.Is(err, ErrCallbackDeclined))

	d.DeactivateClientDecoding = true
	assert.NoError(t, d.Dispatch(UpdatePalette, []byte{1, 2}))
}

// DeactivateClientDecoding only supplies the default return for a
// missing handler; a registered handler's own declined result is
// never coerced to success, matching IFCALLRESULT's defaultReturn
// substituting only when cb == NULL.
func TestCallbackDeclinedErrorPropagatesEvenWhenDeactivated(t *testing.T) {
	reasm := NewReassembler(bulkcodec.NewBridge(), 1<<20)
	d := NewDispatcher(reasm)
	d.Parsers.Bitmap = passthroughParser
	d.Handlers.BitmapUpdate = func(any) error { return errors.New("consumer refused") }

	err := d.Dispatch(UpdateBitmap, []byte{1})
	assert.True(t, errors.Is(err, ErrCallbackDeclined))

	d.DeactivateClientDecoding = true
	err = d.Dispatch(UpdateBitmap, []byte{1})
	assert.True(t, errors.Is(err, ErrCallbackDeclined))
}

// Invariant 1/2/3: encode/decode output headers round-trip and the
// length field always matches the total byte count, both with and
// without FIPS.
func TestOutputHeaderRoundTripNonFips(t *testing.T) {
	payload := []byte("twelve bytes")
	total := headerRegionSize(0, false) + len(payload)

	c := bytecursor.New(total)
	h := OutputHeader{SecFlags: 0, Length: total}
	require.NoError(t, EncodeOutputHeader(c, h))
	require.NoError(t, c.WriteBytes(payload))

	raw := c.Bytes()
	assert.Equal(t, total, len(raw))
	assert.Equal(t, byte(0x80), raw[1]&0x80, "top bit of length byte 0 must be set")

	rc := bytecursor.NewFromBytes(raw)
	decoded, err := DecodeOutputHeader(rc, false)
	require.NoError(t, err)
	assert.Equal(t, total, decoded.Length)
	assert.False(t, decoded.HasSignature)
}

func TestOutputHeaderRoundTripFips(t *testing.T) {
	env := newTestEnvelope(t, true)
	payload := make([]byte, 13, 13+7)
	copy(payload, "0123456789abc")

	encoded, err := AssembleOutputPDU(env, crypto.FlagEncrypted, true, payload)
	require.NoError(t, err)

	openEnv := newTestEnvelope(t, true)
	decoded, err := DisassembleOutputPDU(encoded, openEnv, true)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789abc"), decoded)
}

// Invariant 8: an encrypted PDU carries exactly 8 (or 12 under FIPS)
// envelope bytes between the 3-byte prefix and the payload.
func TestEncryptedPduEnvelopeWidth(t *testing.T) {
	env := newTestEnvelope(t, false)
	encoded, err := AssembleOutputPDU(env, crypto.FlagEncrypted, false, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 3+8+len("hello"), len(encoded))

	fipsEnv := newTestEnvelope(t, true)
	payload := make([]byte, 5, 5+7)
	copy(payload, "hello")
	encodedFips, err := AssembleOutputPDU(fipsEnv, crypto.FlagEncrypted, true, payload)
	require.NoError(t, err)
	pad := (8 - (5 % 8)) % 8
	assert.Equal(t, 3+4+8+5+pad, len(encodedFips))
}

func TestFragmenterSplitsOversizedPayload(t *testing.T) {
	codec := bulkcodec.NewBridge()
	f := NewFragmenter(codec, 4, false, bulkcodec.TypeNone)

	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	records, err := f.Split(UpdateBitmap, payload)
	require.NoError(t, err)

	reasm := NewReassembler(codec, 1<<20)
	c := bytecursor.NewFromBytes(records)

	var out []byte
	var code uint8
	for c.RemainingLength() > 0 {
		p, cc, complete, err := reasm.ReceiveFragment(c)
		require.NoError(t, err)
		if complete {
			out = p
			code = cc
		}
	}
	assert.Equal(t, uint8(UpdateBitmap), code)
	assert.Equal(t, payload, out)
}

func TestDriveLoopBracketsBeginEndPaint(t *testing.T) {
	reasm := NewReassembler(bulkcodec.NewBridge(), 1<<20)
	d := NewDispatcher(reasm)
	d.Parsers.Bitmap = passthroughParser
	d.Handlers.BitmapUpdate = func(any) error { return nil }

	var begins, ends int
	d.BeginPaint = func() { begins++ }
	d.EndPaint = func() { ends++ }

	record := []byte{0x01, 0x01, 0x00, 0x2a}
	err := d.DriveLoop(bytecursor.NewFromBytes(record))
	require.NoError(t, err)
	assert.Equal(t, 1, begins)
	assert.Equal(t, 1, ends)
}

func TestDriveLoopEndPaintRunsOnFailure(t *testing.T) {
	reasm := NewReassembler(bulkcodec.NewBridge(), 1<<20)
	d := NewDispatcher(reasm)

	var ends int
	d.EndPaint = func() { ends++ }

	badFrag := []byte{0x31, 0x01, 0x00, 0xff} // illegal NEXT without FIRST
	err := d.DriveLoop(bytecursor.NewFromBytes(badFrag))
	assert.True(t, errors.Is(err, ErrProtocolViolation))
	assert.Equal(t, 1, ends)
}
