package message

import (
	"encoding/binary"

	"github.com/boddie-obex/obex/header"
	"github.com/boddie-obex/obex/obexerr"
	"github.com/boddie-obex/obex/packet"
)

// Request is one of CONNECT, DISCONNECT, PUT, PUT_FINAL, GET, GET_FINAL,
// SETPATH, ABORT, or an unrecognized opcode, carrying an ordered header
// list and (for CONNECT and SETPATH) a decoded fixed-field tuple.
type Request struct {
	frame
}

// IsFinal reports whether this request's opcode has bit 7 set.
func (r *Request) IsFinal() bool { return r.opcode.IsFinal() }

// AddHeader appends hdr if the frame stays within maxLen.
func (r *Request) AddHeader(hdr header.Header, maxLen int) bool { return r.frame.AddHeader(hdr, maxLen) }

// ResetHeaders clears the header list.
func (r *Request) ResetHeaders() { r.frame.ResetHeaders() }

// Headers returns the request's current header list.
func (r *Request) Headers() []header.Header { return r.frame.Headers() }

// Opcode returns the request's current opcode.
func (r *Request) Opcode() Opcode { return r.opcode }

// SetOpcode overrides the request's opcode, used by the client's flush
// loop to promote a trailing GET to GET_FINAL.
func (r *Request) SetOpcode(op Opcode) { r.opcode = op }

// Encode returns one or more packet buffers for this request, splitting
// across CONTINUE-opcode buffers if the header list overflows maxChunk.
func (r *Request) Encode(maxChunk int) ([][]byte, error) {
	return r.frame.encodeChunks(maxChunk)
}

// EncodeOne returns this request's single-packet encoding, assuming its
// current headers fit in one packet; callers that need segmentation should
// use Encode instead.
func (r *Request) EncodeOne() []byte {
	buf, _ := packet.Encode(byte(r.opcode), r.frame.body())
	return buf
}

// NewConnect builds a CONNECT request with the given version, flags, and
// advertised max packet length.
func NewConnect(version Version, flags byte, maxPacketLength uint16) *Request {
	fixed := make([]byte, 4)
	fixed[0] = version.ToByte()
	fixed[1] = flags
	binary.BigEndian.PutUint16(fixed[2:4], maxPacketLength)
	return &Request{frame{opcode: OpConnect, fixed: fixed}}
}

// ConnectFields returns the decoded version/flags/max-packet-length tuple
// of a CONNECT request, and false if this request isn't CONNECT.
func (r *Request) ConnectFields() (version Version, flags byte, maxPacketLength uint16, ok bool) {
	if r.opcode != OpConnect || len(r.fixed) != 4 {
		return Version{}, 0, 0, false
	}
	return VersionFromByte(r.fixed[0]), r.fixed[1], binary.BigEndian.Uint16(r.fixed[2:4]), true
}

// NewDisconnect builds a DISCONNECT request.
func NewDisconnect() *Request {
	return &Request{frame{opcode: OpDisconnect}}
}

// NewPut builds a non-final PUT request.
func NewPut() *Request {
	return &Request{frame{opcode: OpPut}}
}

// NewPutFinal builds a PUT_FINAL request.
func NewPutFinal() *Request {
	return &Request{frame{opcode: OpPutFinal}}
}

// NewGet builds a non-final GET request.
func NewGet() *Request {
	return &Request{frame{opcode: OpGet}}
}

// NewGetFinal builds a GET_FINAL request.
func NewGetFinal() *Request {
	return &Request{frame{opcode: OpGetFinal}}
}

// NewSetPath builds a SETPATH request with the given flags (see
// NavigateToParent/DontCreateDir) and the reserved constants byte, which
// implementations always send as 0.
func NewSetPath(flags byte) *Request {
	return &Request{frame{opcode: OpSetPath, fixed: []byte{flags, 0}}}
}

// SetPathFields returns the decoded flags/constants tuple of a SETPATH
// request, and false if this request isn't SETPATH.
func (r *Request) SetPathFields() (flags byte, constants byte, ok bool) {
	if r.opcode != OpSetPath || len(r.fixed) != 2 {
		return 0, 0, false
	}
	return r.fixed[0], r.fixed[1], true
}

// NewAbort builds an ABORT request.
func NewAbort() *Request {
	return &Request{frame{opcode: OpAbort}}
}

// DecodeRequest decodes a packet body into a typed Request. Unknown
// opcodes decode successfully as a bare frame with no fixed-field
// interpretation, so they round-trip; callers distinguish them by checking
// Opcode against the known constants.
func DecodeRequest(opcode byte, body []byte) (*Request, error) {
	op := Opcode(opcode)

	var fixedLen int
	switch op {
	case OpConnect:
		fixedLen = 4
	case OpSetPath:
		fixedLen = 2
	}

	if len(body) < fixedLen {
		return nil, &obexerr.MalformedPacket{Reason: "truncated fixed fields"}
	}

	fixed := append([]byte{}, body[:fixedLen]...)
	headers, err := header.DecodeAll(body[fixedLen:])
	if err != nil {
		return nil, err
	}

	return &Request{frame{opcode: op, fixed: fixed, headers: headers}}, nil
}
