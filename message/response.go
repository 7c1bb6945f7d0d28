package message

import (
	"encoding/binary"

	"github.com/boddie-obex/obex/header"
	"github.com/boddie-obex/obex/obexerr"
	"github.com/boddie-obex/obex/packet"
)

// Response is one of CONTINUE, SUCCESS (plain or, as the reply to CONNECT,
// carrying the CONNECT fixed-field tuple), BAD_REQUEST, UNAUTHORIZED,
// FORBIDDEN, NOT_FOUND, PRECONDITION_FAILED, or an unrecognized opcode.
//
// The opcode 0xA0 means SUCCESS in general, but the reply to CONNECT
// carries additional fixed fields the generic decoder has no way to know
// to expect — hence the two decode entry points, DecodeResponse and
// DecodeConnectReply.
type Response struct {
	frame
}

// AddHeader appends hdr if the frame stays within maxLen.
func (r *Response) AddHeader(hdr header.Header, maxLen int) bool {
	return r.frame.AddHeader(hdr, maxLen)
}

// ResetHeaders clears the header list.
func (r *Response) ResetHeaders() { r.frame.ResetHeaders() }

// Headers returns the response's current header list.
func (r *Response) Headers() []header.Header { return r.frame.Headers() }

// Opcode returns the response's opcode.
func (r *Response) Opcode() Opcode { return r.opcode }

// IsContinue reports whether this response is CONTINUE.
func (r *Response) IsContinue() bool { return r.opcode == OpContinue }

// IsSuccess reports whether this response is SUCCESS (including the
// CONNECT-reply form).
func (r *Response) IsSuccess() bool { return r.opcode == OpSuccess }

// IsFailure reports whether this response is one of the well-formed
// failure opcodes (BAD_REQUEST, UNAUTHORIZED, FORBIDDEN, NOT_FOUND,
// PRECONDITION_FAILED, SERVICE_UNAVAILABLE).
func (r *Response) IsFailure() bool {
	switch r.opcode {
	case OpBadRequest, OpUnauthorized, OpForbidden, OpNotFound, OpPreconditionFailed, OpServiceUnavailable:
		return true
	default:
		return false
	}
}

// Encode returns one or more packet buffers for this response, splitting
// across CONTINUE-opcode buffers if the header list overflows maxChunk.
// This is the dual of Request.Encode, used by the server's multi-packet
// response emission.
func (r *Response) Encode(maxChunk int) ([][]byte, error) {
	return r.frame.encodeChunks(maxChunk)
}

// EncodeOne returns this response's single-packet encoding, assuming its
// current headers fit in one packet.
func (r *Response) EncodeOne() []byte {
	buf, _ := packet.Encode(byte(r.opcode), r.frame.body())
	return buf
}

// NewContinue builds a CONTINUE response.
func NewContinue() *Response { return &Response{frame{opcode: OpContinue}} }

// NewSuccess builds a plain SUCCESS response (no CONNECT fixed fields).
func NewSuccess() *Response { return &Response{frame{opcode: OpSuccess}} }

// NewConnectSuccess builds the SUCCESS reply to a CONNECT request, which
// carries the same version/flags/max-packet tuple CONNECT itself does.
func NewConnectSuccess(version Version, flags byte, maxPacketLength uint16) *Response {
	fixed := make([]byte, 4)
	fixed[0] = version.ToByte()
	fixed[1] = flags
	binary.BigEndian.PutUint16(fixed[2:4], maxPacketLength)
	return &Response{frame{opcode: OpSuccess, fixed: fixed}}
}

// ConnectReplyFields returns the decoded version/flags/max-packet-length
// tuple from a CONNECT-reply SUCCESS response, and false otherwise.
func (r *Response) ConnectReplyFields() (version Version, flags byte, maxPacketLength uint16, ok bool) {
	if r.opcode != OpSuccess || len(r.fixed) != 4 {
		return Version{}, 0, 0, false
	}
	return VersionFromByte(r.fixed[0]), r.fixed[1], binary.BigEndian.Uint16(r.fixed[2:4]), true
}

// NewFailure builds a failure response with the given opcode (one of
// OpBadRequest, OpUnauthorized, OpForbidden, OpNotFound,
// OpPreconditionFailed, OpServiceUnavailable).
func NewFailure(opcode Opcode) *Response {
	return &Response{frame{opcode: opcode}}
}

// responseOpcode adapts Response to obexerr.PeerResponse, whose Opcode
// method returns a plain byte rather than the Opcode type (obexerr cannot
// import this package without an import cycle).
type responseOpcode struct{ *Response }

func (r responseOpcode) Opcode() byte { return byte(r.Response.opcode) }

// AsError wraps a failure response as an error for callers that prefer to
// propagate it through Go's error-handling idioms (errors.As) rather than
// inspecting IsFailure directly. Returns nil if the response is not a
// failure.
func (r *Response) AsError() error {
	if !r.IsFailure() {
		return nil
	}
	return &obexerr.OBEXFailure{Response: responseOpcode{r}}
}

// DecodeResponse decodes a packet body into a typed Response using the
// general entry point: it never infers CONNECT-reply fixed fields, even
// for opcode 0xA0. Use DecodeConnectReply for the response to a CONNECT
// request.
func DecodeResponse(opcode byte, body []byte) (*Response, error) {
	headers, err := header.DecodeAll(body)
	if err != nil {
		return nil, err
	}
	return &Response{frame{opcode: Opcode(opcode), headers: headers}}, nil
}

// DecodeConnectReply decodes a packet body as the reply to a CONNECT
// request: opcode 0xA0 carries the version/flags/max-packet fixed fields;
// any other opcode (a failure response) carries none.
func DecodeConnectReply(opcode byte, body []byte) (*Response, error) {
	if Opcode(opcode) != OpSuccess {
		return DecodeResponse(opcode, body)
	}
	if len(body) < 4 {
		return nil, &obexerr.MalformedPacket{Reason: "truncated CONNECT-reply fixed fields"}
	}
	fixed := append([]byte{}, body[:4]...)
	headers, err := header.DecodeAll(body[4:])
	if err != nil {
		return nil, err
	}
	return &Response{frame{opcode: OpSuccess, fixed: fixed, headers: headers}}, nil
}
