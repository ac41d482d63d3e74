package bulkcodec

import (
	"bytes"
	"io"

	"github.com/andybalholm/brotli"
)

// brotliBackend compresses/decompresses using github.com/andybalholm/brotli.
// It is grounded on snapetech-plexTuner's go.mod, which pulls in the
// same library for its own on-the-wire compression needs; this bridge
// gives the fast-path update pipeline a real backend to exercise
// instead of only the no-op passthrough.
type brotliBackend struct {
	quality int
}

func newBrotliBackend() *brotliBackend {
	return &brotliBackend{quality: brotli.DefaultCompression}
}

func (b *brotliBackend) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, b.quality)
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (b *brotliBackend) Decompress(src []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(src))
	return io.ReadAll(r)
}

// MaxOutputSize returns a conservative upper bound for brotli output:
// compressed data is never larger than the input plus a small
// framing overhead in the worst case (incompressible input).
func (b *brotliBackend) MaxOutputSize(n int) int {
	return n + n/8 + 64
}
