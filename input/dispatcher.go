package input

import (
	"fmt"
	"log"

	"github.com/iKun10001/FreeRDP/bytecursor"
	"github.com/iKun10001/FreeRDP/crypto"
	"github.com/iKun10001/FreeRDP/fastpath"
)

// FeatureGates records which optional event types the current
// session has negotiated. An event arriving for a gate that is false
// fails the whole PDU as a protocol violation, mirroring how the
// original source only installs an event's handler once the matching
// capability has been exchanged.
type FeatureGates struct {
	HasExtendedMouseEvent bool
	HasRelativeMouseEvent bool
	HasQoeEvent           bool
}

// Handlers are the server-side callbacks invoked as each event in an
// input PDU is parsed. Nil fields are simply skipped, the same
// nilable-callback shape fastpath.Handlers uses on the output side.
type Handlers struct {
	Scancode      func(eventFlags uint8, keyCode uint8)
	Mouse         func(flags uint16, x, y uint16)
	ExtendedMouse func(flags uint16, x, y uint16)
	Sync          func(eventFlags uint8)
	Unicode       func(eventFlags uint8, code uint16)
	RelativeMouse func(flags uint16, dx, dy int16)
	QoE           func(timestampMs uint32)
}

// Dispatcher parses incoming fast-path input PDUs and drives Handlers
// for each event they carry.
type Dispatcher struct {
	Handlers
	FeatureGates
	env  *crypto.Envelope
	fips bool
}

// NewDispatcher builds a Dispatcher. env may be nil if the session
// never uses encrypted input PDUs.
func NewDispatcher(env *crypto.Envelope, fips bool) *Dispatcher {
	return &Dispatcher{env: env, fips: fips}
}

// DispatchPDU parses one complete fast-path input PDU (header through
// final event) and invokes the registered Handlers for each event in
// order.
func (d *Dispatcher) DispatchPDU(raw []byte) error {
	c := bytecursor.NewFromBytes(raw)

	h0, err := c.ReadU8()
	if err != nil {
		return fmt.Errorf("input: read header byte: %w", err)
	}
	action, numEvents, secFlags := fastpath.DecodeHeaderByte(h0)
	if action != fastpath.ActionFastPath {
		return fmt.Errorf("input: unexpected action %d in input header: %w", action, ErrProtocolViolation)
	}

	if _, _, err := fastpath.ReadLength(c); err != nil {
		return err
	}

	var fipsInfo [4]byte
	var signature [8]byte
	hasSignature := secFlags != 0
	if hasSignature {
		if d.fips {
			b, err := c.ReadBytes(4)
			if err != nil {
				return fmt.Errorf("input: read fips_information: %w", err)
			}
			copy(fipsInfo[:], b)
		}
		b, err := c.ReadBytes(8)
		if err != nil {
			return fmt.Errorf("input: read data_signature: %w", err)
		}
		copy(signature[:], b)
	}

	payload, err := c.ReadBytes(c.RemainingLength())
	if err != nil {
		return fmt.Errorf("input: read event payload: %w", err)
	}
	if hasSignature {
		if d.env == nil {
			return fmt.Errorf("input: header carries an envelope but no envelope supplied: %w", ErrProtocolViolation)
		}
		payload, err = d.env.Open(payload, fipsInfo, signature, secFlags)
		if err != nil {
			return err
		}
	}

	events := int(numEvents)
	pc := bytecursor.NewFromBytes(payload)
	if events == 0 {
		// numEvents == 0 signals the count overflowed the 4-bit field;
		// the real count is an extra leading byte (MS-RDPBCGR
		// 2.2.8.1.2), not used by Builder, which never emits more than
		// the 15-event cap, but required here for a conformant parser.
		extra, err := pc.ReadU8()
		if err != nil {
			return fmt.Errorf("input: read numEvents overflow byte: %w", err)
		}
		events = int(extra)
	}

	for i := 0; i < events; i++ {
		if err := d.dispatchOne(pc); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) dispatchOne(c *bytecursor.Cursor) error {
	header, err := c.ReadU8()
	if err != nil {
		return fmt.Errorf("input: read event header byte: %w", err)
	}
	eventFlags := header & 0x1F
	eventCode := (header >> 5) & 0x7

	switch eventCode {
	case EventScancode:
		keyCode, err := c.ReadU8()
		if err != nil {
			return fmt.Errorf("input: read scancode keyCode: %w", err)
		}
		if d.Scancode != nil {
			d.Scancode(eventFlags, keyCode)
		}

	case EventMouse:
		flags, x, y, err := readMouseBody(c)
		if err != nil {
			return err
		}
		if d.Mouse != nil {
			d.Mouse(flags, x, y)
		}

	case EventExtendedMouse:
		if !d.HasExtendedMouseEvent {
			return fmt.Errorf("input: ExtendedMouse event without negotiated support: %w", ErrProtocolViolation)
		}
		flags, x, y, err := readMouseBody(c)
		if err != nil {
			return err
		}
		if d.ExtendedMouse != nil {
			d.ExtendedMouse(flags, x, y)
		}

	case EventSync:
		if d.Sync != nil {
			d.Sync(eventFlags)
		}

	case EventUnicode:
		code, err := c.ReadU16LE()
		if err != nil {
			return fmt.Errorf("input: read unicode code: %w", err)
		}
		if d.Unicode != nil {
			d.Unicode(eventFlags, code)
		}

	case EventRelativeMouse:
		if !d.HasRelativeMouseEvent {
			return fmt.Errorf("input: RelativeMouse event without negotiated support: %w", ErrProtocolViolation)
		}
		flagsU, dxU, dyU, err := readMouseBody(c)
		if err != nil {
			return err
		}
		if d.RelativeMouse != nil {
			d.RelativeMouse(flagsU, int16(dxU), int16(dyU))
		}

	case EventQoE:
		if !d.HasQoeEvent {
			return fmt.Errorf("input: QoE event without negotiated support: %w", ErrProtocolViolation)
		}
		timestampMs, err := c.ReadU32LE()
		if err != nil {
			return fmt.Errorf("input: read qoe timestamp: %w", err)
		}
		if d.QoE != nil {
			d.QoE(timestampMs)
		}

	default:
		// Unknown event codes are logged and skipped, not fatal,
		// mirroring the output side's tolerance of unknown update
		// codes and the original dispatcher's WLog_ERR-then-continue
		// handling of an unrecognized eventCode.
		log.Printf("[input] unrecognized event code %d", eventCode)
	}

	return nil
}

func readMouseBody(c *bytecursor.Cursor) (flags uint16, x, y uint16, err error) {
	flags, err = c.ReadU16LE()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("input: read mouse flags: %w", err)
	}
	x, err = c.ReadU16LE()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("input: read mouse x: %w", err)
	}
	y, err = c.ReadU16LE()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("input: read mouse y: %w", err)
	}
	return flags, x, y, nil
}
