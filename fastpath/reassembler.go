package fastpath

import (
	"fmt"

	"github.com/iKun10001/FreeRDP/bulkcodec"
	"github.com/iKun10001/FreeRDP/bytecursor"
)

// fragState is the reassembler's fragmentation_state.
type fragState int

const (
	stateIdle fragState = iota
	stateInProgress
)

// Reassembler accumulates fast-path update fragments
// (SINGLE/FIRST/NEXT/LAST) into one complete update payload and
// enforces the fragmentation state machine. It is
// grounded on fpv-sender/sender.go's Packetizer, which runs the
// inverse operation (splitting one payload into fragments under a
// size cap); the accumulation side here mirrors that cap discipline
// back onto receive.
type Reassembler struct {
	codec *bulkcodec.Bridge
	buf   *bytecursor.Cursor

	state          fragState
	inProgressCode uint8

	maxSize int
}

// NewReassembler builds a Reassembler that decompresses fragments
// through codec and enforces maxSize as the multifrag_max_request_size
// ceiling.
func NewReassembler(codec *bulkcodec.Bridge, maxSize int) *Reassembler {
	return &Reassembler{
		codec:   codec,
		buf:     bytecursor.New(4096),
		state:   stateIdle,
		maxSize: maxSize,
	}
}

// reset clears the accumulated buffer and returns the reassembler to
// Idle, both after a LAST or SINGLE dispatch and after an illegal
// transition.
func (r *Reassembler) reset() {
	r.buf.Reset()
	r.state = stateIdle
	r.inProgressCode = 0
}

func (r *Reassembler) checkTransition(frag uint8, code uint8) error {
	switch frag {
	case FragSingle, FragFirst:
		if r.state != stateIdle {
			return fmt.Errorf("fastpath: fragmentation code %d while InProgress: %w", frag, ErrProtocolViolation)
		}
	case FragNext, FragLast:
		if r.state != stateInProgress {
			return fmt.Errorf("fastpath: fragmentation code %d while Idle: %w", frag, ErrProtocolViolation)
		}
		if code != r.inProgressCode {
			return fmt.Errorf("fastpath: update code %d does not match in-progress code %d: %w", code, r.inProgressCode, ErrProtocolViolation)
		}
	default:
		return fmt.Errorf("fastpath: unknown fragmentation code %d: %w", frag, ErrProtocolViolation)
	}
	return nil
}

// ReceiveFragment runs the receive-fragment algorithm for one update
// record read from c. On SINGLE or LAST it
// returns the complete reassembled payload and its update code with
// complete=true; the caller is then responsible for dispatch and the
// reassembler has already reset itself for the next cycle.
func (r *Reassembler) ReceiveFragment(c *bytecursor.Cursor) (payload []byte, updateCode uint8, complete bool, err error) {
	h, err := DecodeUpdateHeader(c)
	if err != nil {
		return nil, 0, false, err
	}

	if err := r.checkTransition(h.Fragmentation, h.UpdateCode); err != nil {
		r.reset()
		return nil, 0, false, err
	}

	if c.RemainingLength() < int(h.Size) {
		r.reset()
		return nil, 0, false, fmt.Errorf("fastpath: update record wants %d bytes, %d remain: %w", h.Size, c.RemainingLength(), bytecursor.ErrShortRead)
	}
	raw, err := c.ReadBytes(int(h.Size))
	if err != nil {
		r.reset()
		return nil, 0, false, err
	}

	decompressed, err := r.codec.Decompress(h.CompressionFlags, raw)
	if err != nil {
		// fatal to the current update record only: reset the
		// reassembler, session survives.
		r.reset()
		return nil, 0, false, err
	}

	if r.buf.Length()+len(decompressed) > r.maxSize {
		r.reset()
		return nil, 0, false, fmt.Errorf("fastpath: reassembled size would exceed multifrag_max_request_size %d: %w", r.maxSize, ErrProtocolViolation)
	}
	r.buf.Append(decompressed)

	switch h.Fragmentation {
	case FragSingle:
		out := append([]byte(nil), r.buf.Bytes()...)
		code := h.UpdateCode
		r.reset()
		return out, code, true, nil
	case FragFirst:
		r.state = stateInProgress
		r.inProgressCode = h.UpdateCode
		return nil, 0, false, nil
	case FragNext:
		return nil, 0, false, nil
	case FragLast:
		out := append([]byte(nil), r.buf.Bytes()...)
		code := h.UpdateCode
		r.reset()
		return out, code, true, nil
	}
	// unreachable, checkTransition already rejected other values
	return nil, 0, false, nil
}
