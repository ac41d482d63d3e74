package videocodec

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"
)

// ffmpegDecoder shells out to a local ffmpeg process and reads back
// raw planar YUV 4:2:0 frames on its stdout pipe, the same
// exec.Command/StdoutPipe process-orchestration shape the restreamer
// binary uses for its camera/RTMP pipeline. It is the module's one concrete
// software Decoder; hardware acceleration is represented only as a
// constructor flag (no GPU codec SDK is wired in), with software
// decode always available as the fallback path.
type ffmpegDecoder struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stdin  io.WriteCloser
	reader *bufio.Reader
	log    *log.Logger

	width, height int
	frameSize     int
	mu            sync.Mutex
	closed        bool
}

// NewFFmpegDecoder starts an ffmpeg process decoding an H.264
// elementary stream on stdin into raw yuv420p frames on stdout.
// hardwareAccel adds ffmpeg's "-hwaccel auto" option; if
// starting that process fails, callers should retry with
// hardwareAccel=false rather than this constructor doing so silently,
// matching the transparent-fallback-to-software policy being the
// caller's decision at the init boundary, not buried here.
func NewFFmpegDecoder(width, height int, hardwareAccel bool, logger *log.Logger) (Decoder, error) {
	if logger == nil {
		logger = log.Default()
	}
	args := []string{"-hide_banner", "-loglevel", "error"}
	if hardwareAccel {
		args = append(args, "-hwaccel", "auto")
	}
	args = append(args,
		"-f", "h264", "-i", "pipe:0",
		"-f", "rawvideo", "-pix_fmt", "yuv420p",
		"pipe:1",
	)

	cmd := exec.Command("ffmpeg", args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("videocodec: open ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("videocodec: open ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("videocodec: start ffmpeg: %w", err)
	}
	logger.Printf("[codec] ffmpeg decoder started (PID %d, hwaccel=%v)", cmd.Process.Pid, hardwareAccel)

	frameSize := width*height + 2*((width+1)/2)*((height+1)/2)
	return &ffmpegDecoder{
		cmd:       cmd,
		stdin:     stdin,
		stdout:    stdout,
		reader:    bufio.NewReaderSize(stdout, frameSize),
		log:       logger,
		width:     width,
		height:    height,
		frameSize: frameSize,
	}, nil
}

// Decompress blocks until one full yuv420p frame has been read back
// from ffmpeg's stdout, or returns ErrNeedMore on a clean EOF with a
// partial frame still pending, or ErrCodecFailure on a hard read
// error. Frame plane slices alias the decoder's internal buffer and
// are valid only until the next call.
func (d *ffmpegDecoder) Decompress(src []byte) (Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(src) > 0 {
		if _, err := d.stdin.Write(src); err != nil {
			return Frame{}, fmt.Errorf("videocodec: write to ffmpeg stdin: %w", err)
		}
	}

	buf := make([]byte, d.frameSize)
	n, err := io.ReadFull(d.reader, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return Frame{}, fmt.Errorf("videocodec: %d/%d bytes before eof: %w", n, d.frameSize, ErrNeedMore)
	}
	if err != nil {
		return Frame{}, fmt.Errorf("videocodec: read frame from ffmpeg stdout: %v: %w", err, ErrCodecFailure)
	}

	ySize := d.width * d.height
	cw, ch := (d.width+1)/2, (d.height+1)/2
	cSize := cw * ch

	return Frame{
		Y:           buf[:ySize],
		U:           buf[ySize : ySize+cSize],
		V:           buf[ySize+cSize : ySize+2*cSize],
		StrideY:     d.width,
		StrideU:     cw,
		StrideV:     cw,
		Width:       d.width,
		Height:      d.height,
		PixelFormat: PixelFormatYUV420P,
	}, nil
}

// Close terminates the ffmpeg process, mirroring the
// stop/Kill/Wait sequence restreamer applies to its own ffmpeg
// child process.
func (d *ffmpegDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	d.stdin.Close()
	if d.cmd.Process != nil {
		d.cmd.Process.Kill()
	}
	d.cmd.Wait()
	d.log.Println("[codec] ffmpeg decoder stopped")
	return nil
}

// ffmpegEncoder mirrors ffmpegDecoder on the compress path: raw
// yuv420p frames on stdin, an H.264 elementary stream on stdout.
// Tuning: zerolatency always, preset medium for software, veryslow
// when hardwareAccel requests the accelerated preset balance.
type ffmpegEncoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	reader *bufio.Reader
	log    *log.Logger

	cfg     EncoderConfig
	lastPTS int64
	mu      sync.Mutex
	closed  bool
}

// NewFFmpegEncoder starts an ffmpeg process with the given initial
// configuration.
func NewFFmpegEncoder(cfg EncoderConfig, logger *log.Logger) (Encoder, error) {
	if logger == nil {
		logger = log.Default()
	}
	e := &ffmpegEncoder{log: logger}
	if err := e.open(cfg); err != nil {
		return nil, err
	}
	return e, nil
}

func encoderArgs(cfg EncoderConfig) []string {
	preset := "medium"
	if cfg.HardwareAccel {
		preset = "veryslow"
	}
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo", "-pix_fmt", "yuv420p",
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-r", fmt.Sprintf("%.1f", float64(cfg.FpsX10)/10),
		"-i", "pipe:0",
		"-c:v", "libx264", "-preset", preset, "-tune", "zerolatency",
		"-profile:v", profileName(cfg.AVCProfile),
	}
	if cfg.RateControl == RateControlCQP {
		args = append(args, "-qp", fmt.Sprintf("%d", cfg.QP))
	} else {
		args = append(args, "-b:v", fmt.Sprintf("%d", cfg.BitrateBps))
	}
	if cfg.IDRIntervalFrames > 0 {
		args = append(args, "-g", fmt.Sprintf("%d", cfg.IDRIntervalFrames),
			"-keyint_min", fmt.Sprintf("%d", cfg.IDRIntervalFrames))
	}
	args = append(args, "-f", "h264", "pipe:1")
	return args
}

func profileName(avcProfile int) string {
	switch avcProfile {
	case 100:
		return "high"
	case 77:
		return "main"
	default:
		return "baseline"
	}
}

func (e *ffmpegEncoder) open(cfg EncoderConfig) error {
	cmd := exec.Command("ffmpeg", encoderArgs(cfg)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("videocodec: open ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("videocodec: open ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("videocodec: start ffmpeg: %w", err)
	}
	e.log.Printf("[codec] ffmpeg encoder started (PID %d, %dx%d@%.1f)",
		cmd.Process.Pid, cfg.Width, cfg.Height, float64(cfg.FpsX10)/10)

	e.cmd = cmd
	e.stdin = stdin
	e.stdout = stdout
	e.reader = bufio.NewReaderSize(stdout, 256*1024)
	e.cfg = cfg
	return nil
}

// Reconfigure reopens the underlying ffmpeg process only when width,
// height, or framerate actually changed from the last-opened
// configuration.
func (e *ffmpegEncoder) Reconfigure(cfg EncoderConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd != nil && cfg.Width == e.cfg.Width && cfg.Height == e.cfg.Height && cfg.FpsX10 == e.cfg.FpsX10 {
		e.cfg = cfg
		return nil
	}
	if e.cmd != nil {
		e.stdin.Close()
		e.cmd.Process.Kill()
		e.cmd.Wait()
	}
	return e.open(cfg)
}

// Compress writes one raw frame and reads back one H.264 access unit.
// This adapter's underlying ffmpeg process does not reorder frames
// (zerolatency tuning disables B-frames), so ErrNoOutput is not
// expected in practice, but the interface still distinguishes it from
// ErrCodecFailure for encoders that do buffer.
//
// lastPTS is recorded from f.PTS unconditionally, before the write
// attempt, regardless of whether an access unit comes back from this
// call: a caller comparing LastPTS against its own frame accounting
// sees every submitted PTS, not just the ones that produced output.
func (e *ffmpegEncoder) Compress(f Frame) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastPTS = f.PTS

	for _, plane := range [][]byte{f.Y, f.U, f.V} {
		if _, err := e.stdin.Write(plane); err != nil {
			return nil, fmt.Errorf("videocodec: write frame plane to ffmpeg stdin: %w", err)
		}
	}

	au, err := readOneAccessUnit(e.reader)
	if err != nil {
		return nil, err
	}
	return au, nil
}

// LastPTS returns the PTS of the most recently submitted Frame.
func (e *ffmpegEncoder) LastPTS() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastPTS
}

// Close terminates the ffmpeg process.
func (e *ffmpegEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	e.stdin.Close()
	if e.cmd.Process != nil {
		e.cmd.Process.Kill()
	}
	e.cmd.Wait()
	e.log.Println("[codec] ffmpeg encoder stopped")
	return nil
}
