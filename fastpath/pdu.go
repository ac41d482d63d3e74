package fastpath

import (
	"fmt"

	"github.com/iKun10001/FreeRDP/bulkcodec"
	"github.com/iKun10001/FreeRDP/bytecursor"
	"github.com/iKun10001/FreeRDP/crypto"
)

// EnvelopeRegionSize returns the number of bytes before the encrypted
// payload region: the fixed 3-byte h0+length prefix, plus the
// envelope fields when secFlags is non-zero. Shared by both the
// output-PDU assembler here and the input-PDU builder, which reserve
// the same prefix shape.
func EnvelopeRegionSize(secFlags uint8, fips bool) int {
	n := 3
	if secFlags != 0 {
		if fips {
			n += crypto.FipsInformationSize
		}
		n += crypto.DataSignatureSize
	}
	return n
}

func headerRegionSize(secFlags uint8, fips bool) int {
	return EnvelopeRegionSize(secFlags, fips)
}

// AssembleOutputPDU builds one complete fast-path output PDU from a
// caller-supplied update-record payload, following the
// reserve-header-then-backpatch discipline: the envelope is sealed
// first (which may grow payload under FIPS padding), then the
// fixed-size header is written ahead of it with the now-known total
// Length.
//
// payload must be built with up to 7 bytes of spare capacity
// (cap(payload) >= len(payload)+7) when env is non-nil and FIPS is
// enabled, matching crypto.Envelope.Seal's own requirement.
func AssembleOutputPDU(env *crypto.Envelope, secFlags uint8, fips bool, payload []byte) ([]byte, error) {
	var fipsInfo [4]byte
	var signature [8]byte

	if secFlags != 0 {
		if env == nil {
			return nil, fmt.Errorf("fastpath: secFlags %#x set but no envelope supplied: %w", secFlags, ErrProtocolViolation)
		}
		sealed, err := env.Seal(payload, secFlags)
		if err != nil {
			return nil, err
		}
		payload = sealed.Payload
		fipsInfo = sealed.FipsInformation
		signature = sealed.DataSignature
	}

	total := headerRegionSize(secFlags, fips) + len(payload)
	c := bytecursor.New(total)
	h := OutputHeader{
		SecFlags:        secFlags,
		Length:          total,
		FipsInformation: fipsInfo,
		DataSignature:   signature,
		HasFips:         fips && secFlags != 0,
		HasSignature:    secFlags != 0,
	}
	if err := EncodeOutputHeader(c, h); err != nil {
		return nil, err
	}
	if err := c.WriteBytes(payload); err != nil {
		return nil, fmt.Errorf("fastpath: write output pdu payload: %w", err)
	}
	return c.Bytes(), nil
}

// DisassembleOutputPDU decodes one fast-path output PDU's header and
// returns its decrypted, verified payload, ready to be driven through
// a Dispatcher via DriveLoop. fips tells the decoder whether to
// expect the 4-byte fips_information block (see DecodeOutputHeader).
func DisassembleOutputPDU(raw []byte, env *crypto.Envelope, fips bool) ([]byte, error) {
	c := bytecursor.NewFromBytes(raw)
	h, err := DecodeOutputHeader(c, fips)
	if err != nil {
		return nil, err
	}

	payload, err := c.ReadBytes(c.RemainingLength())
	if err != nil {
		return nil, fmt.Errorf("fastpath: read output pdu payload: %w", err)
	}

	if !h.HasSignature {
		return payload, nil
	}
	if env == nil {
		return nil, fmt.Errorf("fastpath: header carries an envelope but no envelope supplied: %w", ErrProtocolViolation)
	}
	return env.Open(payload, h.FipsInformation, h.DataSignature, h.SecFlags)
}

// Fragmenter splits one logical update payload into fast-path update
// records (SINGLE when it fits in one record, otherwise
// FIRST/NEXT*/LAST), compressing each fragment through codec when
// compression is enabled. It is
// grounded on fpv-sender/sender.go's Packetizer, which performs the
// same size-capped splitting for its own outbound frames.
//
// Fragmenter produces the records for exactly one output PDU; it
// does not itself span multiple PDUs for updates too large even for
// that (a deliberate simplification relative to batching several
// output PDUs per logical update).
type Fragmenter struct {
	codec            *bulkcodec.Bridge
	maxFragmentSize  int
	compressionFlags uint8
	useCompression   bool
}

// NewFragmenter builds a Fragmenter. When useCompression is true,
// every fragment is compressed via codec using compressionFlags as
// the backend selector; otherwise fragments are written uncompressed.
func NewFragmenter(codec *bulkcodec.Bridge, maxFragmentSize int, useCompression bool, compressionFlags uint8) *Fragmenter {
	return &Fragmenter{
		codec:            codec,
		maxFragmentSize:  maxFragmentSize,
		compressionFlags: compressionFlags,
		useCompression:   useCompression,
	}
}

// Split encodes payload as one or more update records for updateCode,
// returning the concatenated record bytes ready to hand to
// AssembleOutputPDU.
func (f *Fragmenter) Split(updateCode uint8, payload []byte) ([]byte, error) {
	if len(payload) <= f.maxFragmentSize {
		rec, err := f.encodeRecord(updateCode, FragSingle, payload)
		if err != nil {
			return nil, err
		}
		return rec, nil
	}

	var out []byte
	for offset := 0; offset < len(payload); {
		end := offset + f.maxFragmentSize
		if end > len(payload) {
			end = len(payload)
		}
		frag := FragNext
		switch {
		case offset == 0:
			frag = FragFirst
		case end == len(payload):
			frag = FragLast
		}
		rec, err := f.encodeRecord(updateCode, uint8(frag), payload[offset:end])
		if err != nil {
			return nil, err
		}
		out = append(out, rec...)
		offset = end
	}
	return out, nil
}

func (f *Fragmenter) encodeRecord(updateCode uint8, frag uint8, chunk []byte) ([]byte, error) {
	compFlags := uint8(0)
	comp := uint8(CompressionNone)
	body := chunk

	if f.useCompression {
		compressed, err := f.codec.Compress(f.compressionFlags, chunk)
		if err != nil {
			return nil, err
		}
		body = compressed
		comp = CompressionUsed
		compFlags = f.compressionFlags
	}

	c := bytecursor.New(4 + len(body))
	h := UpdateHeader{
		UpdateCode:       updateCode,
		Fragmentation:    frag,
		Compression:      comp,
		CompressionFlags: compFlags,
		Size:             uint16(len(body)),
	}
	if err := EncodeUpdateHeader(c, h); err != nil {
		return nil, err
	}
	if err := c.WriteBytes(body); err != nil {
		return nil, fmt.Errorf("fastpath: write update record body: %w", err)
	}
	return c.Bytes(), nil
}
