// Package input implements the fast-path input PDU builder (outgoing,
// client to server) and dispatcher (incoming, server-side parse), the
// mirror image of the fastpath package's output-side codec. Both
// directions reuse fastpath's shared header byte layout and the
// crypto envelope.
package input

import (
	"errors"
	"fmt"

	"github.com/iKun10001/FreeRDP/bytecursor"
	"github.com/iKun10001/FreeRDP/crypto"
	"github.com/iKun10001/FreeRDP/fastpath"
)

// ErrProtocolViolation covers the input-side fatal conditions: the
// 15-event cap, the 16384-byte PDU size ceiling, and a feature-gated
// event arriving without its gate enabled.
var ErrProtocolViolation = errors.New("input: protocol violation")

// MaxEventsPerPDU is the 15-event cap named by MS-RDPBCGR 2.2.8.1.2
// when the optional numEvents overflow byte is not used.
const MaxEventsPerPDU = 15

// MaxPduLength is the fast-path size ceiling; a finalized PDU at or
// above this length cannot be sent.
const MaxPduLength = 1 << 14

// Event codes, the 3-bit field in the per-event header byte.
const (
	EventScancode      = 0
	EventMouse         = 1
	EventExtendedMouse = 2
	EventSync          = 3
	EventUnicode       = 4
	EventRelativeMouse = 5
	EventQoE           = 6
)

// Scancode event_flags bits.
const (
	ScancodeRelease   = 0x1
	ScancodeExtended  = 0x2
	ScancodeExtended1 = 0x4
)

// Builder assembles one outgoing fast-path input PDU: up to 15
// events, envelope applied at Finalize.
type Builder struct {
	env        *crypto.Envelope
	secFlags   uint8
	fips       bool
	regionSize int
	buf        []byte
	count      int
}

// NewBuilder opens a Builder, reserving the 3-byte header prefix plus
// the envelope region implied by secFlags/fips. env may be nil when
// secFlags is 0.
func NewBuilder(env *crypto.Envelope, secFlags uint8, fips bool) *Builder {
	regionSize := fastpath.EnvelopeRegionSize(secFlags, fips)
	return &Builder{
		env:        env,
		secFlags:   secFlags,
		fips:       fips,
		regionSize: regionSize,
		buf:        make([]byte, regionSize, regionSize+7),
	}
}

// appendEvent writes the per-event header byte and body, enforcing
// the 15-event cap.
func (b *Builder) appendEvent(eventFlags uint8, eventCode uint8, body []byte) error {
	if b.count >= MaxEventsPerPDU {
		return fmt.Errorf("input: more than %d events in one PDU: %w", MaxEventsPerPDU, ErrProtocolViolation)
	}
	header := (eventFlags & 0x1F) | ((eventCode & 0x7) << 5)
	b.buf = append(b.buf, header)
	b.buf = append(b.buf, body...)
	b.count++
	return nil
}

// AppendScancode appends a Scancode event (spec table §4.H code 0).
func (b *Builder) AppendScancode(eventFlags uint8, keyCode uint8) error {
	return b.appendEvent(eventFlags, EventScancode, []byte{keyCode})
}

// AppendMouse appends a Mouse event.
func (b *Builder) AppendMouse(flags uint16, x, y uint16) error {
	body := make([]byte, 6)
	body[0], body[1] = byte(flags), byte(flags>>8)
	body[2], body[3] = byte(x), byte(x>>8)
	body[4], body[5] = byte(y), byte(y>>8)
	return b.appendEvent(0, EventMouse, body)
}

// AppendExtendedMouse appends an ExtendedMouse event. Callers must
// not call this unless the peer negotiated HasExtendedMouseEvent.
func (b *Builder) AppendExtendedMouse(flags uint16, x, y uint16) error {
	body := make([]byte, 6)
	body[0], body[1] = byte(flags), byte(flags>>8)
	body[2], body[3] = byte(x), byte(x>>8)
	body[4], body[5] = byte(y), byte(y>>8)
	return b.appendEvent(0, EventExtendedMouse, body)
}

// AppendSync appends a Sync event, which carries its state entirely
// in eventFlags and has no body.
func (b *Builder) AppendSync(eventFlags uint8) error {
	return b.appendEvent(eventFlags, EventSync, nil)
}

// AppendUnicode appends a Unicode keyboard event.
func (b *Builder) AppendUnicode(eventFlags uint8, code uint16) error {
	return b.appendEvent(eventFlags, EventUnicode, []byte{byte(code), byte(code >> 8)})
}

// AppendRelativeMouse appends a RelativeMouse event. Callers must not
// call this unless the peer negotiated HasRelativeMouseEvent.
func (b *Builder) AppendRelativeMouse(flags uint16, dx, dy int16) error {
	body := make([]byte, 6)
	body[0], body[1] = byte(flags), byte(flags>>8)
	udx, udy := uint16(dx), uint16(dy)
	body[2], body[3] = byte(udx), byte(udx>>8)
	body[4], body[5] = byte(udy), byte(udy>>8)
	return b.appendEvent(0, EventRelativeMouse, body)
}

// AppendQoE appends a QoE timestamp event. Callers must not call this
// unless the peer negotiated HasQoeEvent.
func (b *Builder) AppendQoE(timestampMs uint32) error {
	body := make([]byte, 4)
	body[0], body[1] = byte(timestampMs), byte(timestampMs>>8)
	body[2], body[3] = byte(timestampMs>>16), byte(timestampMs>>24)
	return b.appendEvent(0, EventQoE, body)
}

// Count returns the number of events appended so far.
func (b *Builder) Count() int {
	return b.count
}

// Finalize closes the PDU: applies the crypto envelope if configured,
// back-patches the 3-byte header prefix with the final header byte
// and length, and returns the complete PDU bytes. At least one event
// must have been appended; an input PDU with zero events is
// indistinguishable from the numEvents-overflow sentinel and is
// rejected here rather than emitted.
func (b *Builder) Finalize() ([]byte, error) {
	if b.count == 0 {
		return nil, fmt.Errorf("input: cannot finalize a PDU with no events: %w", ErrProtocolViolation)
	}
	if b.count > MaxEventsPerPDU {
		return nil, fmt.Errorf("input: more than %d events in one PDU: %w", MaxEventsPerPDU, ErrProtocolViolation)
	}
	if len(b.buf) >= MaxPduLength {
		return nil, fmt.Errorf("input: pre-envelope pdu length %d exceeds %d: %w", len(b.buf), MaxPduLength, ErrProtocolViolation)
	}

	payload := b.buf[b.regionSize:]
	var fipsInfo [4]byte
	var signature [8]byte

	if b.secFlags != 0 {
		if b.env == nil {
			return nil, fmt.Errorf("input: secFlags %#x set but no envelope supplied: %w", b.secFlags, ErrProtocolViolation)
		}
		if b.fips && cap(payload) < len(payload)+7 {
			grown := make([]byte, len(payload), len(payload)+7)
			copy(grown, payload)
			payload = grown
		}
		sealed, err := b.env.Seal(payload, b.secFlags)
		if err != nil {
			return nil, err
		}
		payload = sealed.Payload
		fipsInfo = sealed.FipsInformation
		signature = sealed.DataSignature
	}

	total := b.regionSize + len(payload)
	if total >= MaxPduLength {
		return nil, fmt.Errorf("input: pdu length %d exceeds %d: %w", total, MaxPduLength, ErrProtocolViolation)
	}

	c := bytecursor.New(total)
	h0 := fastpath.EncodeHeaderByte(fastpath.ActionFastPath, uint8(b.count), b.secFlags)
	if err := c.WriteU8(h0); err != nil {
		return nil, fmt.Errorf("input: write header byte: %w", err)
	}
	if err := fastpath.WriteLength(c, total); err != nil {
		return nil, err
	}
	if b.secFlags != 0 {
		if b.fips {
			if err := c.WriteBytes(fipsInfo[:]); err != nil {
				return nil, fmt.Errorf("input: write fips_information: %w", err)
			}
		}
		if err := c.WriteBytes(signature[:]); err != nil {
			return nil, fmt.Errorf("input: write data_signature: %w", err)
		}
	}
	if err := c.WriteBytes(payload); err != nil {
		return nil, fmt.Errorf("input: write event payload: %w", err)
	}
	return c.Bytes(), nil
}
