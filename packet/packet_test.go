package packet

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/boddie-obex/obex/obexerr"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body := []byte{0x10, 0x00, 0xff, 0xff}

	if err := Write(&buf, 0x80, body); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	opcode, got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if opcode != 0x80 {
		t.Fatalf("expected opcode 0x80, got 0x%02x", opcode)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("body mismatch: got %x, want %x", got, body)
	}
}

func TestConnectWireExample(t *testing.T) {
	// CONNECT, version 1.0, no flags, max-packet 0xFFFF, no headers.
	want := []byte{0x80, 0x00, 0x07, 0x10, 0x00, 0xFF, 0xFF}

	var buf bytes.Buffer
	if err := Write(&buf, 0x80, []byte{0x10, 0x00, 0xFF, 0xFF}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("wire mismatch: got %x, want %x", buf.Bytes(), want)
	}
}

func TestReadEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, 0x81, nil); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	opcode, body, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if opcode != 0x81 || len(body) != 0 {
		t.Fatalf("unexpected result: opcode=0x%02x body=%x", opcode, body)
	}
}

func TestReadPartialPacketIsTransportError(t *testing.T) {
	// Advertises 7 bytes total but only 3 are actually present.
	r := bytes.NewReader([]byte{0x80, 0x00, 0x07})
	_, _, err := Read(r)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	var te *obexerr.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
}

func TestReadEOFBeforeAnyBytes(t *testing.T) {
	_, _, err := Read(bytes.NewReader(nil))
	var te *obexerr.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
	if !errors.Is(te.Err, io.EOF) {
		t.Fatalf("expected wrapped io.EOF, got %v", te.Err)
	}
}

func TestReadMalformedLengthTooShort(t *testing.T) {
	r := bytes.NewReader([]byte{0x80, 0x00, 0x02})
	_, _, err := Read(r)
	var mp *obexerr.MalformedPacket
	if !errors.As(err, &mp) {
		t.Fatalf("expected MalformedPacket, got %T: %v", err, err)
	}
}

// loopingWriter accepts at most maxPerWrite bytes per call, exercising the
// send-all loop in Write.
type loopingWriter struct {
	buf         bytes.Buffer
	maxPerWrite int
}

func (w *loopingWriter) Write(p []byte) (int, error) {
	if len(p) > w.maxPerWrite {
		p = p[:w.maxPerWrite]
	}
	return w.buf.Write(p)
}

func TestWriteLoopsOnShortWrites(t *testing.T) {
	w := &loopingWriter{maxPerWrite: 2}
	body := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	if err := Write(w, 0x02, body); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	opcode, got, err := Read(&w.buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if opcode != 0x02 || !bytes.Equal(got, body) {
		t.Fatalf("unexpected result: opcode=0x%02x body=%x", opcode, got)
	}
}
