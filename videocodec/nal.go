package videocodec

import (
	"bufio"
	"fmt"
	"io"
)

// readOneAccessUnit reads bytes from r until it has buffered one
// complete NAL unit beginning at a start code, plus enough of the
// next start code to know the first NAL ended, and returns the first
// NAL's bytes (including its start code). It returns ErrNoOutput on a
// clean EOF with nothing buffered yet (the encoder has not emitted a
// unit for this input), or ErrCodecFailure on any other read error.
func readOneAccessUnit(r *bufio.Reader) ([]byte, error) {
	start, err := findStartCode(r)
	if err != nil {
		if err == io.EOF {
			return nil, ErrNoOutput
		}
		return nil, fmt.Errorf("videocodec: scan for nal start code: %w", ErrCodecFailure)
	}

	var au []byte
	au = append(au, start...)

	for {
		if looksLikeUpcomingStartCode(r) {
			return au, nil
		}
		b, err := r.ReadByte()
		if err == io.EOF {
			return au, nil
		}
		if err != nil {
			return nil, fmt.Errorf("videocodec: read nal body: %w", ErrCodecFailure)
		}
		au = append(au, b)
	}
}

// findStartCode consumes bytes up to and including the next 3- or
// 4-byte Annex B start code (00 00 01 or 00 00 00 01) and returns it.
func findStartCode(r *bufio.Reader) ([]byte, error) {
	var zeros int
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch {
		case b == 0x00:
			zeros++
		case b == 0x01 && zeros >= 2:
			if zeros >= 3 {
				return []byte{0x00, 0x00, 0x00, 0x01}, nil
			}
			return []byte{0x00, 0x00, 0x01}, nil
		default:
			zeros = 0
		}
	}
}

// looksLikeUpcomingStartCode peeks ahead without consuming to check
// whether the next bytes look like the start of the next start code
// (00 00 01 or 00 00 00), leaving them in r for the next call.
func looksLikeUpcomingStartCode(r *bufio.Reader) bool {
	peek, err := r.Peek(3)
	if err != nil {
		return false
	}
	return peek[0] == 0x00 && peek[1] == 0x00 && (peek[2] == 0x00 || peek[2] == 0x01)
}
