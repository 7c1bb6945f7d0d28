// Package packet implements the OBEX packet framing layer: reading one
// complete packet from a byte-stream transport and writing one packet
// atomically.
//
// A packet is a 1-byte opcode, a 2-byte big-endian total length (counting
// itself), then length-3 more bytes of opcode-specific fixed fields and
// header chunks. Reading loops until the exact advertised byte count has
// been obtained ("read-all"); writing loops until every byte has been
// handed to the transport ("send-all") even though net.Conn already
// guarantees this for a single Write, matching the belt-and-suspenders the
// source's MessageHandler._read_packet applies via socket.MSG_WAITALL.
package packet

import (
	"encoding/binary"
	"io"

	"github.com/boddie-obex/obex/obexerr"
)

// MinLength is the minimum size of any packet: 1-byte opcode + 2-byte length.
const MinLength = 3

// Read reads exactly one complete packet from r: the 3-byte prefix, then
// length-3 more bytes if length > 3. It returns the opcode and the body
// (everything after the 3-byte prefix — fixed fields followed by headers).
func Read(r io.Reader) (opcode byte, body []byte, err error) {
	prefix := make([]byte, MinLength)
	if _, err := io.ReadFull(r, prefix); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, nil, &obexerr.TransportError{Op: "recv", Err: io.EOF}
		}
		return 0, nil, &obexerr.TransportError{Op: "recv", Err: err}
	}

	opcode = prefix[0]
	length := int(binary.BigEndian.Uint16(prefix[1:3]))
	if length < MinLength {
		return 0, nil, &obexerr.MalformedPacket{Reason: "total length field shorter than packet prefix"}
	}

	if length == MinLength {
		return opcode, nil, nil
	}

	body = make([]byte, length-MinLength)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, nil, &obexerr.TransportError{Op: "recv", Err: io.EOF}
		}
		return 0, nil, &obexerr.TransportError{Op: "recv", Err: err}
	}
	return opcode, body, nil
}

// Encode produces a full packet's on-wire bytes (opcode + total length +
// body) without touching any transport. Used directly by package message
// to build the buffers its own multi-packet Encode returns.
func Encode(opcode byte, body []byte) ([]byte, error) {
	total := MinLength + len(body)
	if total > 0xffff {
		return nil, &obexerr.MalformedPacket{Reason: "packet exceeds maximum 16-bit length"}
	}

	buf := make([]byte, total)
	buf[0] = opcode
	binary.BigEndian.PutUint16(buf[1:3], uint16(total))
	copy(buf[3:], body)
	return buf, nil
}

// Write encodes a full packet (opcode + total length + body) in memory,
// then hands it to w with a send-all loop.
func Write(w io.Writer, opcode byte, body []byte) error {
	buf, err := Encode(opcode, body)
	if err != nil {
		return err
	}
	if err := writeAll(w, buf); err != nil {
		return &obexerr.TransportError{Op: "send", Err: err}
	}
	return nil
}

// writeAll loops until every byte of buf has been accepted by w, in case
// the writer performs a short write (not guaranteed by io.Writer's
// contract alone on every platform).
func writeAll(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}
