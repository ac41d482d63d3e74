package bulkcodec

// noneBackend is the passthrough backend used when a fragment's
// compression_flags indicate no compression was applied: the
// decompressed length equals the input size.
type noneBackend struct{}

func (noneBackend) Compress(src []byte) ([]byte, error) {
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

func (noneBackend) Decompress(src []byte) ([]byte, error) {
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

func (noneBackend) MaxOutputSize(n int) int {
	return n
}
