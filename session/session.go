// Package session wires together the byte cursor, crypto envelope,
// bulk codec bridge, fast-path framing, and input dispatch into one
// per-connection object, the first-class type the other packages
// leave implicit. Logging follows fpv-sender's bracket-tag
// convention ([TIMING], [IDR]) over the standard library log package ([fastpath],
// [crypto], [codec]), and the session trace id uses
// github.com/google/uuid the way marmos91-dittofs tags its
// request-scoped log lines.
package session

import (
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/iKun10001/FreeRDP/bulkcodec"
	"github.com/iKun10001/FreeRDP/crypto"
	"github.com/iKun10001/FreeRDP/fastpath"
	"github.com/iKun10001/FreeRDP/input"
)

// Config holds the caller-supplied, per-connection parameters: feature
// flags negotiated during the (out of scope) connection sequence,
// encryption mode and keys, and the logger. The transport is passed
// to New separately. No flag/env parsing
// lives here; cmd/fastpathsim's flags are translated into a Config by
// the caller, not parsed by this package.
type Config struct {
	Encrypting              bool
	SecureChecksum          bool
	Fips                    bool
	SupportsRelativeMouse   bool
	SupportsQoe             bool
	SupportsExtendedMouse   bool
	FastPathOutputEnabled   bool
	CompressionEnabled      bool
	MultifragMaxRequestSize int

	MacKey, SaltKey, FipsKey, FipsIV, RC4Key []byte

	Logger *log.Logger
}

// Session owns one connection's framing state: the crypto envelope,
// the bulk codec bridge, a Reassembler/Dispatcher pair for inbound
// updates, an input.Dispatcher for inbound events, and the transport
// stream. It is built once at activation and torn down via Close; it
// is not safe for concurrent use beyond what the crypto envelope's own
// internal lock already serializes.
type Session struct {
	Config

	TraceID uuid.UUID

	mu       sync.Mutex
	envelope *crypto.Envelope
	codec    *bulkcodec.Bridge

	Reassembler *fastpath.Reassembler
	Dispatcher  *fastpath.Dispatcher
	InputIn     *input.Dispatcher

	transport io.ReadWriter
	log       *log.Logger
}

// New builds a Session from cfg, wiring a StdPrimitives-backed
// envelope (keys taken from cfg), a full bulkcodec.Bridge (null +
// brotli backends), a Reassembler bounded by
// MultifragMaxRequestSize, and empty fastpath/input Dispatchers ready
// for the caller to populate with Parsers/Handlers.
func New(cfg Config, transport io.ReadWriter) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	s := &Session{
		Config:    cfg,
		TraceID:   uuid.New(),
		transport: transport,
		log:       logger,
		codec:     bulkcodec.NewBridge(),
	}

	if cfg.Encrypting {
		prims, err := crypto.NewStdPrimitives(cfg.MacKey, cfg.SaltKey, cfg.FipsKey, cfg.FipsIV, cfg.RC4Key)
		if err != nil {
			return nil, fmt.Errorf("session: build crypto primitives: %w", err)
		}
		s.envelope = crypto.NewEnvelope(prims, cfg.Fips, &s.mu)
	}

	maxSize := cfg.MultifragMaxRequestSize
	if maxSize <= 0 {
		maxSize = fastpath.MaxPacketSize
	}
	s.Reassembler = fastpath.NewReassembler(s.codec, maxSize)
	s.Dispatcher = fastpath.NewDispatcher(s.Reassembler)
	s.InputIn = input.NewDispatcher(s.envelope, cfg.Fips)
	s.InputIn.HasExtendedMouseEvent = cfg.SupportsExtendedMouse
	s.InputIn.HasRelativeMouseEvent = cfg.SupportsRelativeMouse
	s.InputIn.HasQoeEvent = cfg.SupportsQoe

	s.log.Printf("[session] %s opened (encrypting=%v fips=%v compression=%v)",
		s.TraceID, cfg.Encrypting, cfg.Fips, cfg.CompressionEnabled)
	return s, nil
}

// Envelope returns the session's crypto envelope, or nil if
// Config.Encrypting is false.
func (s *Session) Envelope() *crypto.Envelope {
	return s.envelope
}

// Codec returns the session's bulk codec bridge.
func (s *Session) Codec() *bulkcodec.Bridge {
	return s.codec
}

// SecFlags computes the output-PDU secure_flags byte implied by the
// session's negotiated encryption mode.
func (s *Session) SecFlags() uint8 {
	if !s.Encrypting {
		return 0
	}
	flags := uint8(crypto.FlagEncrypted)
	if s.SecureChecksum {
		flags |= crypto.FlagSecureChecksum
	}
	return flags
}

// NewInputBuilder opens an input.Builder configured with this
// session's envelope and FIPS setting.
func (s *Session) NewInputBuilder() *input.Builder {
	return input.NewBuilder(s.envelope, s.SecFlags(), s.Fips)
}

// NewFragmenter opens a fastpath.Fragmenter configured with this
// session's codec and compression setting.
func (s *Session) NewFragmenter(maxFragmentSize int, compressionFlags uint8) *fastpath.Fragmenter {
	return fastpath.NewFragmenter(s.codec, maxFragmentSize, s.CompressionEnabled, compressionFlags)
}

// WritePDU writes raw bytes to the session's transport, logging at
// the [fastpath] tag on failure.
func (s *Session) WritePDU(raw []byte) error {
	if _, err := s.transport.Write(raw); err != nil {
		s.log.Printf("[fastpath] %s write failed: %v", s.TraceID, err)
		return fmt.Errorf("session: write pdu: %w", err)
	}
	return nil
}

// Close tears down the session. It does not close the underlying
// transport; ownership of that lifetime remains with the caller.
func (s *Session) Close() error {
	s.log.Printf("[session] %s closed", s.TraceID)
	return nil
}
