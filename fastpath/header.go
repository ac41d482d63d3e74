// Package fastpath implements the Fast-Path PDU framing codec, the
// fragmentation reassembler, and the update dispatcher, plus the
// header-byte and length helpers the input package reuses. It is grounded on fpv-sender/protocol/
// protocol.go's struct-based Marshal/Unmarshal pattern for the wire
// types, and on the original FreeRDP fastpath.c source for the exact
// bit layouts, in particular that the header byte shape is shared
// verbatim between the output and input directions.
package fastpath

import (
	"errors"
	"fmt"

	"github.com/iKun10001/FreeRDP/bytecursor"
)

// Error kinds specific to this package. ShortRead/ShortWrite are not
// redeclared here; bytecursor already owns those sentinels and
// fastpath callers see them wrapped through errors.Is.
var (
	ErrProtocolViolation = errors.New("fastpath: protocol violation")
	ErrCallbackDeclined  = errors.New("fastpath: callback declined")
	ErrNeedMore          = errors.New("fastpath: need more data")
)

// Action values for the shared header byte.
const (
	ActionFastPath = 0
	ActionX224     = 3
)

// Secure/encryption flag bits, the 2-bit field at h0 bits 6-7.
const (
	SecFlagSecureChecksum = 0x1
	SecFlagEncrypted      = 0x2
)

// Fragmentation codes, the 2-bit field in the update header.
const (
	FragSingle = 0
	FragLast   = 1
	FragFirst  = 2
	FragNext   = 3
)

// Compression codes, the 2-bit field in the update header.
const (
	CompressionNone = 0
	CompressionUsed = 2
)

// Update codes dispatched by Dispatcher.Dispatch.
const (
	UpdateOrders        = 0x0
	UpdateBitmap        = 0x1
	UpdatePalette       = 0x2
	UpdateSynchronize   = 0x3
	UpdateSurfcmds      = 0x4
	UpdatePtrNull       = 0x5
	UpdatePtrDefault    = 0x6
	UpdatePtrPosition   = 0x8
	UpdateColorPointer  = 0x9
	UpdateCachedPointer = 0xA
	UpdateNewPointer    = 0xB
	UpdateLargePointer  = 0xC
)

// MaxPacketSize is the per-fragment payload cap: 16384 minus 20 bytes
// of worst-case header/envelope overhead.
const MaxPacketSize = 16384 - 20

// Header is the shared h0 byte layout used by both the fast-path
// output-PDU header (server -> client) and the fast-path input-PDU
// header (client -> server): action in bits 0-1, a 4-bit count field
// in bits 2-5 (number of events on input, unused/zero on output),
// and a 2-bit flags field in bits 6-7 (the encryption/secure flags,
// in both directions).
type Header struct {
	Action       uint8
	Count        uint8 // number_events (input) / unused (output)
	SecFlags     uint8 // secure_flags (output) / encryption flags (input)
	Length       int
	Consumed     int // header bytes consumed decoding length, for remaining-bytes math
}

// DecodeHeaderByte splits h0 into its three packed fields; the
// original source applies the same formula identically to input
// PDUs.
func DecodeHeaderByte(h0 byte) (action, count, secFlags uint8) {
	secFlags = (h0 >> 6) & 0x3
	count = (h0 >> 2) & 0xF
	action = h0 & 0x3
	return
}

// EncodeHeaderByte packs action, count and secFlags into one byte.
func EncodeHeaderByte(action, count, secFlags uint8) byte {
	return (secFlags&0x3)<<6 | (count&0xF)<<2 | (action & 0x3)
}

// ReadLength reads the Fast-Path variable-length field: one byte, or
// two when the top bit of the first is set. It returns the decoded
// length and how many bytes were consumed.
func ReadLength(c *bytecursor.Cursor) (length int, consumed int, err error) {
	b0, err := c.ReadU8()
	if err != nil {
		return 0, 0, fmt.Errorf("fastpath: read length byte 0: %w", err)
	}
	if b0&0x80 != 0 {
		b1, err := c.ReadU8()
		if err != nil {
			return 0, 0, fmt.Errorf("fastpath: read length byte 1: %w", err)
		}
		return (int(b0&0x7F) << 8) | int(b1), 2, nil
	}
	return int(b0), 1, nil
}

// WriteLength always emits the two-byte form: emission never takes
// the one-byte shortcut, because the header is written after the
// payload is known and a fixed-size field avoids a late shift of
// everything behind it.
func WriteLength(c *bytecursor.Cursor, length int) error {
	if length < 0 || length > 0x3FFF {
		return fmt.Errorf("fastpath: length %d out of range: %w", length, ErrProtocolViolation)
	}
	if err := c.WriteU8(0x80 | byte(length>>8)); err != nil {
		return fmt.Errorf("fastpath: write length byte 0: %w", err)
	}
	if err := c.WriteU8(byte(length & 0xFF)); err != nil {
		return fmt.Errorf("fastpath: write length byte 1: %w", err)
	}
	return nil
}

// OutputHeader is the fast-path output-PDU header:
// Action/SecFlags packed in h0, a two-byte Length, and an optional
// envelope region present according to SecFlags and the session's
// FIPS setting.
type OutputHeader struct {
	SecFlags        uint8
	Length          int
	FipsInformation [4]byte
	DataSignature   [8]byte
	HasFips         bool
	HasSignature    bool
}

// DecodeOutputHeader parses h0, the length field, and the envelope
// region if present. fips tells the decoder whether to expect the
// 4-byte fips_information block; this cannot be inferred from
// SecFlags alone, since SecFlags only distinguishes ENCRYPTED from
// SECURE_CHECKSUM, not FIPS from non-FIPS encryption.
func DecodeOutputHeader(c *bytecursor.Cursor, fips bool) (OutputHeader, error) {
	var h OutputHeader

	h0, err := c.ReadU8()
	if err != nil {
		return h, fmt.Errorf("fastpath: read output header byte: %w", err)
	}
	action, _, secFlags := DecodeHeaderByte(h0)
	if action != ActionFastPath {
		return h, fmt.Errorf("fastpath: unexpected action %d in output header: %w", action, ErrProtocolViolation)
	}
	h.SecFlags = secFlags

	length, consumed, err := ReadLength(c)
	if err != nil {
		return h, err
	}
	h.Length = length

	if h.SecFlags != 0 {
		h.HasSignature = true
		if fips {
			h.HasFips = true
			b, err := c.ReadBytes(4)
			if err != nil {
				return h, fmt.Errorf("fastpath: read fips_information: %w", err)
			}
			copy(h.FipsInformation[:], b)
		}
		b, err := c.ReadBytes(8)
		if err != nil {
			return h, fmt.Errorf("fastpath: read data_signature: %w", err)
		}
		copy(h.DataSignature[:], b)
	}

	_ = consumed
	return h, nil
}

// EncodeOutputHeader writes h0 and the two-byte length, plus the
// envelope region when SecFlags is non-zero. The envelope fields
// themselves (FipsInformation, DataSignature) must already be
// populated by the caller via crypto.Envelope.Seal before this is
// called, matching the reserve-then-backpatch discipline of the
// header region.
func EncodeOutputHeader(c *bytecursor.Cursor, h OutputHeader) error {
	h0 := EncodeHeaderByte(ActionFastPath, 0, h.SecFlags)
	if err := c.WriteU8(h0); err != nil {
		return fmt.Errorf("fastpath: write output header byte: %w", err)
	}
	if err := WriteLength(c, h.Length); err != nil {
		return err
	}
	if h.SecFlags != 0 {
		if h.HasFips {
			if err := c.WriteBytes(h.FipsInformation[:]); err != nil {
				return fmt.Errorf("fastpath: write fips_information: %w", err)
			}
		}
		if err := c.WriteBytes(h.DataSignature[:]); err != nil {
			return fmt.Errorf("fastpath: write data_signature: %w", err)
		}
	}
	return nil
}

// UpdateHeader is the per-fragment header preceding each update
// record: a packed byte (code/fragmentation/compression), an
// optional compression_flags byte, and a little-endian Size.
type UpdateHeader struct {
	UpdateCode       uint8
	Fragmentation    uint8
	Compression      uint8
	CompressionFlags uint8
	Size             uint16
}

// DecodeUpdateHeader reads the packed byte, optional
// compression_flags, and Size: code occupies the low nibble,
// fragmentation the next two bits, compression the top two bits
// (confirmed against fastpath_read_update_header in the original
// source).
func DecodeUpdateHeader(c *bytecursor.Cursor) (UpdateHeader, error) {
	var h UpdateHeader
	b, err := c.ReadU8()
	if err != nil {
		return h, fmt.Errorf("fastpath: read update header byte: %w", err)
	}
	h.UpdateCode = b & 0x0F
	h.Fragmentation = (b >> 4) & 0x3
	h.Compression = (b >> 6) & 0x3

	if h.Compression == CompressionUsed {
		flags, err := c.ReadU8()
		if err != nil {
			return h, fmt.Errorf("fastpath: read compression_flags: %w", err)
		}
		h.CompressionFlags = flags
	}

	size, err := c.ReadU16LE()
	if err != nil {
		return h, fmt.Errorf("fastpath: read update size: %w", err)
	}
	h.Size = size
	return h, nil
}

// EncodeUpdateHeader is the write-side mirror of DecodeUpdateHeader.
func EncodeUpdateHeader(c *bytecursor.Cursor, h UpdateHeader) error {
	b := (h.Compression&0x3)<<6 | (h.Fragmentation&0x3)<<4 | (h.UpdateCode & 0x0F)
	if err := c.WriteU8(b); err != nil {
		return fmt.Errorf("fastpath: write update header byte: %w", err)
	}
	if h.Compression == CompressionUsed {
		if err := c.WriteU8(h.CompressionFlags); err != nil {
			return fmt.Errorf("fastpath: write compression_flags: %w", err)
		}
	}
	if err := c.WriteU16LE(h.Size); err != nil {
		return fmt.Errorf("fastpath: write update size: %w", err)
	}
	return nil
}
