// Command fastpathsim exercises the fast-path output and input
// pipelines end-to-end over an in-memory transport: it assembles a
// SINGLE bitmap-update output PDU, drives it through a
// Reassembler/Dispatcher pair, then builds and dispatches one input
// PDU carrying a scancode event. It plays the role fpv-sender's main.go
// plays for the camera/transport pipeline: a runnable, State-machine-free
// smoke test, not a production server.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/iKun10001/FreeRDP/bulkcodec"
	"github.com/iKun10001/FreeRDP/bytecursor"
	"github.com/iKun10001/FreeRDP/fastpath"
	"github.com/iKun10001/FreeRDP/session"
)

func main() {
	local := flag.Bool("local", true, "run the in-memory demo loop (no real transport exists yet)")
	fips := flag.Bool("fips", false, "enable FIPS-mode crypto envelope")
	compress := flag.Bool("compress", false, "enable brotli compression for the demo update")
	flag.Parse()

	if !*local {
		fmt.Fprintln(os.Stderr, "fastpathsim: only -local mode is implemented")
		os.Exit(1)
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)
	if err := run(*fips, *compress, logger); err != nil {
		logger.Fatalf("fastpathsim: %v", err)
	}
}

func run(fips, compress bool, logger *log.Logger) error {
	var transport bytes.Buffer

	cfg := session.Config{
		Encrypting:         true,
		SecureChecksum:     false,
		Fips:               fips,
		CompressionEnabled: compress,
		MacKey:             []byte("mac-key-0123456"),
		SaltKey:            []byte("salt-key-012345"),
		FipsKey:            []byte("012345678901234567890123"),
		FipsIV:             []byte("01234567"),
		RC4Key:             []byte("rc4-key-0123456"),
		Logger:             logger,
	}

	sender, err := session.New(cfg, &transport)
	if err != nil {
		return fmt.Errorf("build sender session: %w", err)
	}
	defer sender.Close()

	payload := []byte("demo bitmap bytes")
	compFlags := uint8(bulkcodec.TypeNone)
	if compress {
		compFlags = bulkcodec.TypeBrotli
	}
	frag := sender.NewFragmenter(fastpath.MaxPacketSize, compFlags)
	records, err := frag.Split(fastpath.UpdateBitmap, payload)
	if err != nil {
		return fmt.Errorf("split update into records: %w", err)
	}
	if fips {
		// Envelope.Seal needs room to grow the payload by up to 7 FIPS
		// pad bytes; Split's own buffer has no spare capacity.
		padded := make([]byte, len(records), len(records)+7)
		copy(padded, records)
		records = padded
	}

	encoded, err := fastpath.AssembleOutputPDU(sender.Envelope(), sender.SecFlags(), fips, records)
	if err != nil {
		return fmt.Errorf("assemble output pdu: %w", err)
	}
	if err := sender.WritePDU(encoded); err != nil {
		return err
	}
	logger.Printf("[fastpathsim] wrote %d-byte output pdu", len(encoded))

	var receiverTransport bytes.Buffer
	receiver, err := session.New(cfg, &receiverTransport)
	if err != nil {
		return fmt.Errorf("build receiver session: %w", err)
	}
	defer receiver.Close()

	decoded, err := fastpath.DisassembleOutputPDU(encoded, receiver.Envelope(), fips)
	if err != nil {
		return fmt.Errorf("disassemble output pdu: %w", err)
	}

	receiver.Dispatcher.Parsers.Bitmap = func(c *bytecursor.Cursor) (any, error) {
		return c.ReadBytes(c.RemainingLength())
	}
	receiver.Dispatcher.Handlers.BitmapUpdate = func(v any) error {
		logger.Printf("[fastpathsim] received bitmap update: %q", v)
		return nil
	}
	if err := receiver.Dispatcher.DriveLoop(bytecursor.NewFromBytes(decoded)); err != nil {
		return fmt.Errorf("drive update dispatch: %w", err)
	}

	inputBuilder := sender.NewInputBuilder()
	if err := inputBuilder.AppendScancode(0, 0x1E); err != nil {
		return fmt.Errorf("append scancode event: %w", err)
	}
	inputPDU, err := inputBuilder.Finalize()
	if err != nil {
		return fmt.Errorf("finalize input pdu: %w", err)
	}

	receiver.InputIn.Scancode = func(eventFlags uint8, keyCode uint8) {
		logger.Printf("[fastpathsim] received scancode 0x%02x (flags=0x%02x)", keyCode, eventFlags)
	}
	if err := receiver.InputIn.DispatchPDU(inputPDU); err != nil {
		return fmt.Errorf("dispatch input pdu: %w", err)
	}

	return nil
}
