package message

import (
	"github.com/boddie-obex/obex/header"
	"github.com/boddie-obex/obex/obexerr"
	"github.com/boddie-obex/obex/packet"
)

// frame is the shared envelope backing both Request and Response, exactly
// as PyOBEX's common.Message base class backs both requests.Request and
// responses.Response: an opcode, an opcode-specific fixed-field byte
// string, and an ordered header list.
type frame struct {
	opcode  Opcode
	fixed   []byte
	headers []header.Header
}

// minimumLength is the packet's length before any headers are added: the
// 3-byte opcode+length prefix plus the fixed fields.
func (f *frame) minimumLength() int {
	return packet.MinLength + len(f.fixed)
}

// totalLength is the packet's current on-wire length with all headers
// currently attached.
func (f *frame) totalLength() int {
	total := f.minimumLength()
	for _, h := range f.headers {
		total += h.Len()
	}
	return total
}

// AddHeader appends hdr to the frame's header list if doing so keeps the
// frame's total length within maxLen, reporting whether it did so. On
// false, the frame is left unchanged.
func (f *frame) AddHeader(hdr header.Header, maxLen int) bool {
	if f.totalLength()+hdr.Len() > maxLen {
		return false
	}
	f.headers = append(f.headers, hdr)
	return true
}

// ResetHeaders clears the frame's header list, preserving its opcode and
// fixed fields.
func (f *frame) ResetHeaders() {
	f.headers = nil
}

// Headers returns the frame's current header list.
func (f *frame) Headers() []header.Header {
	return f.headers
}

// Opcode returns the frame's current opcode as a raw byte. Request and
// Response each shadow this with their own Opcode() returning the typed
// Opcode; this one exists so internal frame-level helpers don't need to
// know which of the two they're holding.
func (f *frame) Opcode() byte {
	return byte(f.opcode)
}

// body returns the fixed fields followed by the encoded header chunks —
// everything that follows the 3-byte opcode+length prefix on the wire.
func (f *frame) body() []byte {
	buf := make([]byte, 0, f.totalLength()-packet.MinLength)
	buf = append(buf, f.fixed...)
	for _, h := range f.headers {
		buf = append(buf, header.Encode(h)...)
	}
	return buf
}

// encodeChunks packs headers greedily into successive packet bodies of at
// most maxChunk bytes each. A single header is never split across chunks.
// All but the last returned buffer carry the CONTINUE opcode (0x90); the
// last carries the frame's own opcode.
func (f *frame) encodeChunks(maxChunk int) ([][]byte, error) {
	var buffers [][]byte

	fixed := f.fixed
	remaining := f.headers

	for {
		// How many of the remaining headers fit in one chunk of this frame's
		// fixed fields, starting fresh each iteration (mirrors reset_headers
		// between CONTINUE sends).
		budget := packet.MinLength + len(fixed)
		i := 0
		for i < len(remaining) {
			hlen := remaining[i].Len()
			if budget+hlen > maxChunk {
				break
			}
			budget += hlen
			i++
		}

		if i == 0 && len(remaining) > 0 {
			return nil, &obexerr.MalformedPacket{Reason: "a single header exceeds the negotiated maximum packet length"}
		}

		body := make([]byte, 0, budget-packet.MinLength)
		body = append(body, fixed...)
		for _, h := range remaining[:i] {
			body = append(body, header.Encode(h)...)
		}

		isLast := i == len(remaining)
		opcode := byte(OpContinue)
		if isLast {
			opcode = byte(f.opcode)
		}

		buf, err := packet.Encode(opcode, body)
		if err != nil {
			return nil, err
		}
		buffers = append(buffers, buf)

		remaining = remaining[i:]
		if isLast {
			break
		}
		// A CONTINUE chunk never repeats the fixed fields (there are none
		// left to resend — the fixed fields are only meaningful on the
		// frame's own opcode, e.g. CONNECT's version/flags/max-packet).
		fixed = nil
	}

	return buffers, nil
}
