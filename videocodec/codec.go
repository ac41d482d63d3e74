// Package videocodec defines the decoder/encoder contract for
// surface-command video frames: a planar YUV 4:2:0 exchange format
// plus init/decompress/compress operations, adapted from
// fpv-sender's h264.Reader Access Unit model (one AccessUnit ==
// one Frame here) and protocol.Hello's stream-parameter fields.
package videocodec

import "errors"

// Error kinds returned (wrapped) by Decoder/Encoder implementations.
var (
	// ErrNeedMore means the decoder consumed src but has not yet
	// produced a complete frame; callers should feed more data.
	ErrNeedMore = errors.New("videocodec: need more data")
	// ErrCodecFailure covers a hard decode/encode failure.
	ErrCodecFailure = errors.New("videocodec: codec failure")
	// ErrNoOutput means the encoder buffered the frame without
	// emitting an access unit yet (B-frame reordering, rate-control
	// lookahead).
	ErrNoOutput = errors.New("videocodec: no output yet")
)

// PixelFormat names the plane layout of a Frame.
type PixelFormat int

const (
	PixelFormatYUV420P PixelFormat = iota
)

// Frame is a borrowed planar YUV 4:2:0 frame: three plane slices,
// three strides, and dimensions. The decoder owns the backing memory;
// callers may read a Frame only until the next Decode call on the
// same Decoder.
type Frame struct {
	Y, U, V                   []byte
	StrideY, StrideU, StrideV int
	Width, Height             int
	PixelFormat               PixelFormat

	// PTS is the caller-assigned presentation timestamp for this
	// frame. The caller owns its meaning and units; an Encoder only
	// records the value it was last given, it does not derive or pace
	// by it.
	PTS int64
}

// RateControlMode selects how EncoderConfig.BitrateBps or
// EncoderConfig.QP is interpreted.
type RateControlMode int

const (
	RateControlVBR RateControlMode = iota
	RateControlCQP
)

// EncoderConfig mirrors protocol.Hello's stream-negotiation fields
// (Width/Height/FpsX10/BitrateBps/AVCProfile/AVCLevel/
// IDRIntervalFrames), reapplied whenever width, height, or framerate
// changes relative to the last opened context.
type EncoderConfig struct {
	Width, Height     int
	FpsX10            int
	RateControl       RateControlMode
	BitrateBps        int
	QP                int
	AVCProfile        int
	AVCLevel          int
	IDRIntervalFrames int
	HardwareAccel     bool
}

// Decoder turns a stream of compressed access units into Frames.
type Decoder interface {
	// Decompress feeds src (one or more compressed access units, or a
	// fragment of one) into the decoder. It returns ErrNeedMore if no
	// complete frame is available yet, or a Frame valid until the
	// next Decompress call.
	Decompress(src []byte) (Frame, error)
	Close() error
}

// Encoder turns Frames into a compressed access-unit stream.
type Encoder interface {
	// Compress encodes one Frame. It returns ErrNoOutput if the
	// encoder buffered the frame without emitting an access unit.
	Compress(f Frame) ([]byte, error)
	// Reconfigure reapplies cfg; implementations compare against the
	// last-opened configuration and only reopen the underlying codec
	// context when width, height, or framerate actually changed.
	Reconfigure(cfg EncoderConfig) error
	// LastPTS returns the PTS of the most recent Frame passed to
	// Compress. An implementation records it unconditionally, even on
	// a call that returns ErrNoOutput, so callers that want to track
	// drift between frames submitted and access units emitted can
	// compare LastPTS against the PTS carried by their own accounting
	// rather than the encoder silently advancing it on their behalf.
	LastPTS() int64
	Close() error
}
