// Package bytecursor implements a bounded, growable byte cursor used
// throughout the fast-path codec to read and write wire structures
// without ever indexing a slice out of bounds.
package bytecursor

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Errors returned by Cursor operations. Every bounds violation is one
// of these two, matching the spec's ShortRead/ShortWrite error kinds.
var (
	ErrShortRead  = errors.New("bytecursor: short read")
	ErrShortWrite = errors.New("bytecursor: short write")
)

// Cursor is a position/length/capacity-tracked view over a growable
// byte buffer. The zero value is not usable; use New or NewFromBytes.
//
// Cursor mirrors the read/write discipline in
// fpv-sender/protocol.go's Marshal/Unmarshal pairs (bounds-check
// first, then use encoding/binary), generalized into a single
// stateful cursor instead of one-shot functions.
type Cursor struct {
	buf    []byte
	pos    int
	length int // logical length, <= len(buf)
}

// New creates a Cursor over a fresh buffer with the given capacity.
func New(capacity int) *Cursor {
	return &Cursor{buf: make([]byte, capacity)}
}

// NewFromBytes creates a Cursor over existing bytes, positioned at 0
// with logical length equal to len(b). The cursor takes ownership of
// b; callers must not mutate it concurrently.
func NewFromBytes(b []byte) *Cursor {
	return &Cursor{buf: b, length: len(b)}
}

// Bytes returns the logical contents of the cursor, from 0 to Length.
func (c *Cursor) Bytes() []byte {
	return c.buf[:c.length]
}

// Position returns the current read/write offset.
func (c *Cursor) Position() int {
	return c.pos
}

// SetPosition sets the read/write offset directly. Used by header
// back-patching (reserve, write payload, seek to 0, overwrite header).
func (c *Cursor) SetPosition(pos int) error {
	if pos < 0 || pos > c.length {
		return fmt.Errorf("bytecursor: set position %d out of [0,%d]: %w", pos, c.length, ErrShortRead)
	}
	c.pos = pos
	return nil
}

// Length returns the logical length of the cursor's contents.
func (c *Cursor) Length() int {
	return c.length
}

// Capacity returns the size of the backing buffer.
func (c *Cursor) Capacity() int {
	return len(c.buf)
}

// RemainingLength returns the number of unread bytes between the
// current position and the logical length.
func (c *Cursor) RemainingLength() int {
	return c.length - c.pos
}

// EnsureCapacity grows the backing buffer so that at least n more
// bytes can be written/appended starting at the current logical
// length, without reallocating on every call (grows geometrically).
func (c *Cursor) EnsureCapacity(n int) {
	need := c.length + n
	if need <= len(c.buf) {
		return
	}
	grown := len(c.buf) * 2
	if grown < need {
		grown = need
	}
	newBuf := make([]byte, grown)
	copy(newBuf, c.buf[:c.length])
	c.buf = newBuf
}

// SealLength sets the logical length to the current position. Used
// once a cursor has been filled by sequential writes.
func (c *Cursor) SealLength() {
	c.length = c.pos
}

// SeekForward advances the position by n bytes. It fails with
// ErrShortRead if that would move past the logical length.
func (c *Cursor) SeekForward(n int) error {
	if n < 0 || c.pos+n > c.length {
		return fmt.Errorf("bytecursor: seek forward %d from %d past length %d: %w", n, c.pos, c.length, ErrShortRead)
	}
	c.pos += n
	return nil
}

// SafeSeek advances the position by min(n, remaining) and never
// fails. It is used for optional/tolerated padding fields such as the
// Synchronize update's must-be-zero bytes.
func (c *Cursor) SafeSeek(n int) int {
	remaining := c.RemainingLength()
	if n > remaining {
		n = remaining
	}
	c.pos += n
	return n
}

func (c *Cursor) requireRead(n int) error {
	if c.RemainingLength() < n {
		return fmt.Errorf("bytecursor: need %d bytes, have %d: %w", n, c.RemainingLength(), ErrShortRead)
	}
	return nil
}

// ReadU8 reads one byte.
func (c *Cursor) ReadU8() (uint8, error) {
	if err := c.requireRead(1); err != nil {
		return 0, err
	}
	v := c.buf[c.pos]
	c.pos++
	return v, nil
}

// ReadU16LE reads a little-endian uint16.
func (c *Cursor) ReadU16LE() (uint16, error) {
	if err := c.requireRead(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(c.buf[c.pos:])
	c.pos += 2
	return v, nil
}

// ReadU16BE reads a big-endian uint16.
func (c *Cursor) ReadU16BE() (uint16, error) {
	if err := c.requireRead(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(c.buf[c.pos:])
	c.pos += 2
	return v, nil
}

// ReadU32LE reads a little-endian uint32.
func (c *Cursor) ReadU32LE() (uint32, error) {
	if err := c.requireRead(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, nil
}

// ReadI16LE reads a little-endian signed int16.
func (c *Cursor) ReadI16LE() (int16, error) {
	v, err := c.ReadU16LE()
	if err != nil {
		return 0, err
	}
	return int16(v), nil
}

// ReadBytes reads n raw bytes, returning a slice that aliases the
// cursor's backing buffer. Callers that need to retain the result
// past the next mutation must copy it.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if err := c.requireRead(n); err != nil {
		return nil, err
	}
	v := c.buf[c.pos : c.pos+n]
	c.pos += n
	return v, nil
}

func (c *Cursor) requireWrite(n int) error {
	if c.pos+n > len(c.buf) {
		return fmt.Errorf("bytecursor: need %d bytes of capacity at %d, have %d: %w", n, c.pos, len(c.buf)-c.pos, ErrShortWrite)
	}
	return nil
}

// WriteU8 writes one byte, extending the logical length if needed.
func (c *Cursor) WriteU8(v uint8) error {
	if err := c.requireWrite(1); err != nil {
		return err
	}
	c.buf[c.pos] = v
	c.pos++
	c.growLength()
	return nil
}

// WriteU16LE writes a little-endian uint16.
func (c *Cursor) WriteU16LE(v uint16) error {
	if err := c.requireWrite(2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(c.buf[c.pos:], v)
	c.pos += 2
	c.growLength()
	return nil
}

// WriteU16BE writes a big-endian uint16.
func (c *Cursor) WriteU16BE(v uint16) error {
	if err := c.requireWrite(2); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(c.buf[c.pos:], v)
	c.pos += 2
	c.growLength()
	return nil
}

// WriteU32LE writes a little-endian uint32.
func (c *Cursor) WriteU32LE(v uint32) error {
	if err := c.requireWrite(4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(c.buf[c.pos:], v)
	c.pos += 4
	c.growLength()
	return nil
}

// WriteI16LE writes a little-endian signed int16.
func (c *Cursor) WriteI16LE(v int16) error {
	return c.WriteU16LE(uint16(v))
}

// WriteBytes copies b into the cursor at the current position.
func (c *Cursor) WriteBytes(b []byte) error {
	if err := c.requireWrite(len(b)); err != nil {
		return err
	}
	copy(c.buf[c.pos:], b)
	c.pos += len(b)
	c.growLength()
	return nil
}

// Append grows the cursor's capacity as needed and writes b at the
// current logical length, advancing both position and length. Used by
// the reassembler to accumulate decompressed fragments.
func (c *Cursor) Append(b []byte) {
	c.EnsureCapacity(len(b))
	copy(c.buf[c.length:], b)
	c.length += len(b)
	c.pos = c.length
}

// Reset clears the cursor back to an empty, zero-position state
// without releasing the backing buffer, so repeated reassembly cycles
// do not reallocate on every update.
func (c *Cursor) Reset() {
	c.pos = 0
	c.length = 0
}

func (c *Cursor) growLength() {
	if c.pos > c.length {
		c.length = c.pos
	}
}
