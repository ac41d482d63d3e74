package fastpath

import (
	"fmt"

	"github.com/iKun10001/FreeRDP/bytecursor"
)

// Parsers holds the external wire-parser functions for update
// payloads: concrete parsers for bitmap, palette, pointer,
// surface-command and order payloads, consumed as functions that take
// a byte cursor and produce a typed value. Each field is
// a collaborator this package never implements; a nil field means
// the caller has not wired a parser for that update code, and any
// record needing it fails as a protocol violation rather than being
// silently skipped (unlike an unrecognised update code).
type Parsers struct {
	Order           func(c *bytecursor.Cursor) (any, error)
	Bitmap          func(c *bytecursor.Cursor) (any, error)
	Palette         func(c *bytecursor.Cursor) (any, error)
	Surfcmds        func(c *bytecursor.Cursor) error
	PointerPosition func(c *bytecursor.Cursor) (any, error)
	PointerColor    func(c *bytecursor.Cursor, bpp int) (any, error)
	PointerCached   func(c *bytecursor.Cursor) (any, error)
	PointerNew      func(c *bytecursor.Cursor) (any, error)
	PointerLarge    func(c *bytecursor.Cursor) (any, error)
}

// PointerSystemKind distinguishes the two no-payload pointer update
// codes.
type PointerSystemKind int

const (
	PointerSystemNull PointerSystemKind = iota
	PointerSystemDefault
)

// Handlers is the table of consumer callbacks a session registers
// with a Dispatcher, one nilable function field per update code.
// Modeled as a struct of optional functions rather than an interface
// requiring every method, so a consumer only wires the codes it
// cares about.
type Handlers struct {
	Order           func(order any) error
	BitmapUpdate    func(update any) error
	Palette         func(p any) error
	Synchronize     func() error
	PointerSystem   func(kind PointerSystemKind) error
	PointerPosition func(p any) error
	PointerColor    func(p any) error
	PointerCached   func(p any) error
	PointerNew      func(p any) error
	PointerLarge    func(p any) error
}

// Dispatcher maps an update code to its parser and consumer callback,
// and drives the fragmentation reassembler over one PDU's worth of
// update records.
type Dispatcher struct {
	Parsers  Parsers
	Handlers Handlers

	// DeactivateClientDecoding mirrors the session option consulted
	// by invoke: a missing callback is coerced to success when this
	// is true. A registered callback's error still fails the dispatch,
	// except for Synchronize (see invokeSynchronize).
	DeactivateClientDecoding bool

	// BeginPaint/EndPaint bracket one drive-loop cycle. Either may
	// be nil.
	BeginPaint func()
	EndPaint   func()

	reassembler *Reassembler
}

// NewDispatcher builds a Dispatcher driving reassembler r.
func NewDispatcher(r *Reassembler) *Dispatcher {
	return &Dispatcher{reassembler: r}
}

// invoke applies the dispatch policy: DeactivateClientDecoding only
// supplies the default return for a missing handler (present == false),
// mirroring IFCALLRESULT(defaultReturn, cb, ...) in the original
// source, where the default substitutes only when cb == NULL. A
// present handler's own error is never overridden by the flag.
func (d *Dispatcher) invoke(present bool, err error) error {
	if !present {
		if d.DeactivateClientDecoding {
			return nil
		}
		return fmt.Errorf("fastpath: consumer declined: %w", ErrCallbackDeclined)
	}
	if err != nil {
		return fmt.Errorf("fastpath: consumer declined: %w", ErrCallbackDeclined)
	}
	return nil
}

// invokeSynchronize is a narrow exception to invoke's general policy:
// the original source always passes TRUE as the default return for
// the Synchronize callback regardless of DeactivateClientDecoding, so
// a missing Synchronize handler never fails the PDU.
func (d *Dispatcher) invokeSynchronize(present bool, err error) error {
	if !present {
		return nil
	}
	if err == nil {
		return nil
	}
	if d.DeactivateClientDecoding {
		return nil
	}
	return fmt.Errorf("fastpath: synchronize declined: %w", ErrCallbackDeclined)
}

// Dispatch parses the reassembled payload for updateCode and invokes
// the matching consumer callback, per the update-code dispatch table.
// Unknown update codes are silently skipped.
func (d *Dispatcher) Dispatch(updateCode uint8, payload []byte) error {
	c := bytecursor.NewFromBytes(payload)

	switch updateCode {
	case UpdateOrders:
		return d.dispatchOrders(c)
	case UpdateBitmap:
		if d.Parsers.Bitmap == nil {
			return fmt.Errorf("fastpath: no bitmap parser registered: %w", ErrProtocolViolation)
		}
		v, err := d.Parsers.Bitmap(c)
		if err != nil {
			return err
		}
		present := d.Handlers.BitmapUpdate != nil
		var cbErr error
		if present {
			cbErr = d.Handlers.BitmapUpdate(v)
		}
		return d.invoke(present, cbErr)
	case UpdatePalette:
		if d.Parsers.Palette == nil {
			return fmt.Errorf("fastpath: no palette parser registered: %w", ErrProtocolViolation)
		}
		v, err := d.Parsers.Palette(c)
		if err != nil {
			return err
		}
		present := d.Handlers.Palette != nil
		var cbErr error
		if present {
			cbErr = d.Handlers.Palette(v)
		}
		return d.invoke(present, cbErr)
	case UpdateSynchronize:
		// Tolerate the absent 2-byte must-be-zero pad; some servers omit it.
		c.SafeSeek(2)
		present := d.Handlers.Synchronize != nil
		var cbErr error
		if present {
			cbErr = d.Handlers.Synchronize()
		}
		return d.invokeSynchronize(present, cbErr)
	case UpdateSurfcmds:
		if d.Parsers.Surfcmds == nil {
			return fmt.Errorf("fastpath: no surfcmds parser registered: %w", ErrProtocolViolation)
		}
		return d.Parsers.Surfcmds(c)
	case UpdatePtrNull:
		return d.dispatchPointerSystem(PointerSystemNull)
	case UpdatePtrDefault:
		return d.dispatchPointerSystem(PointerSystemDefault)
	case UpdatePtrPosition:
		if d.Parsers.PointerPosition == nil {
			return fmt.Errorf("fastpath: no pointer-position parser registered: %w", ErrProtocolViolation)
		}
		v, err := d.Parsers.PointerPosition(c)
		if err != nil {
			return err
		}
		present := d.Handlers.PointerPosition != nil
		var cbErr error
		if present {
			cbErr = d.Handlers.PointerPosition(v)
		}
		return d.invoke(present, cbErr)
	case UpdateColorPointer:
		if d.Parsers.PointerColor == nil {
			return fmt.Errorf("fastpath: no pointer-color parser registered: %w", ErrProtocolViolation)
		}
		v, err := d.Parsers.PointerColor(c, 24)
		if err != nil {
			return err
		}
		present := d.Handlers.PointerColor != nil
		var cbErr error
		if present {
			cbErr = d.Handlers.PointerColor(v)
		}
		return d.invoke(present, cbErr)
	case UpdateCachedPointer:
		if d.Parsers.PointerCached == nil {
			return fmt.Errorf("fastpath: no pointer-cached parser registered: %w", ErrProtocolViolation)
		}
		v, err := d.Parsers.PointerCached(c)
		if err != nil {
			return err
		}
		present := d.Handlers.PointerCached != nil
		var cbErr error
		if present {
			cbErr = d.Handlers.PointerCached(v)
		}
		return d.invoke(present, cbErr)
	case UpdateNewPointer:
		if d.Parsers.PointerNew == nil {
			return fmt.Errorf("fastpath: no pointer-new parser registered: %w", ErrProtocolViolation)
		}
		v, err := d.Parsers.PointerNew(c)
		if err != nil {
			return err
		}
		present := d.Handlers.PointerNew != nil
		var cbErr error
		if present {
			cbErr = d.Handlers.PointerNew(v)
		}
		return d.invoke(present, cbErr)
	case UpdateLargePointer:
		if d.Parsers.PointerLarge == nil {
			return fmt.Errorf("fastpath: no pointer-large parser registered: %w", ErrProtocolViolation)
		}
		v, err := d.Parsers.PointerLarge(c)
		if err != nil {
			return err
		}
		present := d.Handlers.PointerLarge != nil
		var cbErr error
		if present {
			cbErr = d.Handlers.PointerLarge(v)
		}
		return d.invoke(present, cbErr)
	default:
		return nil
	}
}

func (d *Dispatcher) dispatchOrders(c *bytecursor.Cursor) error {
	if d.Parsers.Order == nil {
		return fmt.Errorf("fastpath: no order parser registered: %w", ErrProtocolViolation)
	}
	numberOrders, err := c.ReadU16LE()
	if err != nil {
		return fmt.Errorf("fastpath: read number_orders: %w", err)
	}
	for i := uint16(0); i < numberOrders; i++ {
		order, err := d.Parsers.Order(c)
		if err != nil {
			return err
		}
		present := d.Handlers.Order != nil
		var cbErr error
		if present {
			cbErr = d.Handlers.Order(order)
		}
		if err := d.invoke(present, cbErr); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) dispatchPointerSystem(kind PointerSystemKind) error {
	present := d.Handlers.PointerSystem != nil
	var cbErr error
	if present {
		cbErr = d.Handlers.PointerSystem(kind)
	}
	return d.invoke(present, cbErr)
}

// DriveLoop runs the reassembler over one PDU: while the outer
// PDU has at least 3 bytes remaining (the minimum update-header plus
// size), accumulate and dispatch fragments, bracketed by
// BeginPaint/EndPaint so multiple fragments atomically contribute to
// one repaint. A failure within a cycle still triggers EndPaint.
func (d *Dispatcher) DriveLoop(c *bytecursor.Cursor) error {
	if d.BeginPaint != nil {
		d.BeginPaint()
	}
	var loopErr error
	for c.RemainingLength() >= 3 {
		payload, code, complete, err := d.reassembler.ReceiveFragment(c)
		if err != nil {
			loopErr = err
			break
		}
		if !complete {
			continue
		}
		if err := d.Dispatch(code, payload); err != nil {
			loopErr = err
			break
		}
	}
	if d.EndPaint != nil {
		d.EndPaint()
	}
	return loopErr
}
