// Package bulkcodec implements the bulk compression bridge: a
// pluggable compress/decompress step keyed by the update header's
// compression_flags byte, sitting between the fast-path fragmentation
// reassembler and the update dispatcher.
//
// RDP's own bulk compressors (MPPC variants) are out of scope for
// this module, the same way video codecs and wire parsers are
// treated as external collaborators. What is in scope is the bridge
// shape itself, and this module wires a real third-party compressor
// (github.com/andybalholm/brotli, also used by snapetech-plexTuner's
// go.mod) into one of the selectable backends so the bridge is
// exercised by more than a no-op.
package bulkcodec

import (
	"errors"
	"fmt"
)

// ErrCodecFailure is returned (wrapped) when a backend fails to
// compress or decompress, matching the CodecFailure kind.
var ErrCodecFailure = errors.New("bulkcodec: failure")

// Compression type selectors, carried in the low nibble of the
// update header's compression_flags byte. This mirrors MS-RDPBCGR's
// CompressionTypeMask convention of reserving the low bits of that
// byte for a backend selector.
const (
	TypeNone   byte = 0x00
	TypeBrotli byte = 0x01

	typeMask = 0x0F
)

// Backend is one selectable compression algorithm.
type Backend interface {
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
	// MaxOutputSize returns an upper bound on the compressed size of
	// an input of n bytes, used by callers sizing output buffers
	// before a compress call.
	MaxOutputSize(n int) int
}

// Bridge dispatches compress/decompress calls to a Backend selected
// by the low nibble of compression_flags.
type Bridge struct {
	backends map[byte]Backend
}

// NewBridge builds a Bridge with the standard backend set: TypeNone
// (passthrough) and TypeBrotli (github.com/andybalholm/brotli).
func NewBridge() *Bridge {
	return &Bridge{
		backends: map[byte]Backend{
			TypeNone:   noneBackend{},
			TypeBrotli: newBrotliBackend(),
		},
	}
}

// RegisterBackend installs or overrides a backend for the given type
// selector. Tests use this to plug in deterministic fakes.
func (b *Bridge) RegisterBackend(typ byte, backend Backend) {
	b.backends[typ] = backend
}

func (b *Bridge) backendFor(flags byte) (Backend, error) {
	backend, ok := b.backends[flags&typeMask]
	if !ok {
		return nil, fmt.Errorf("bulkcodec: unknown compression type %#x: %w", flags&typeMask, ErrCodecFailure)
	}
	return backend, nil
}

// Decompress decompresses src. The returned
// slice is "borrowed" in the sense that the reassembler must copy it
// out (via Cursor.Append) before the next call, but this
// implementation does not itself reuse buffers across calls, so
// callers may also just retain the slice.
func (b *Bridge) Decompress(flags byte, src []byte) ([]byte, error) {
	backend, err := b.backendFor(flags)
	if err != nil {
		return nil, err
	}
	out, err := backend.Decompress(src)
	if err != nil {
		return nil, fmt.Errorf("bulkcodec: decompress: %w", ErrCodecFailure)
	}
	return out, nil
}

// Compress compresses src using the backend selected by flags.
func (b *Bridge) Compress(flags byte, src []byte) ([]byte, error) {
	backend, err := b.backendFor(flags)
	if err != nil {
		return nil, err
	}
	out, err := backend.Compress(src)
	if err != nil {
		return nil, fmt.Errorf("bulkcodec: compress: %w", ErrCodecFailure)
	}
	return out, nil
}

// MaxOutputSize returns the worst-case compressed size for n input
// bytes under the backend selected by flags.
func (b *Bridge) MaxOutputSize(flags byte, n int) (int, error) {
	backend, err := b.backendFor(flags)
	if err != nil {
		return 0, err
	}
	return backend.MaxOutputSize(n), nil
}
