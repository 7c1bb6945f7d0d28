// Package obexerr defines the error taxonomy shared by every layer of the
// OBEX engine: transport failures, malformed wire data, protocol violations,
// well-formed peer failure responses, and version mismatches.
//
// Each type wraps its underlying cause (where one exists) so callers can use
// errors.As/errors.Is instead of string matching or type-switching on a
// handful of sentinel values.
package obexerr

import "fmt"

// TransportError wraps a failure from the underlying byte-stream: closed
// connection, reset, or a partial send/recv that the transport could not
// complete.
type TransportError struct {
	Op  string // "send", "recv", "dial", "accept", "close"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("obex: transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedPacket reports an inconsistent length field, an unknown opcode
// where one was required, or truncated fixed fields.
type MalformedPacket struct {
	Reason string
}

func (e *MalformedPacket) Error() string {
	return fmt.Sprintf("obex: malformed packet: %s", e.Reason)
}

// MalformedHeader reports a header whose advertised length is shorter than
// the minimum chunk size or extends past the remaining packet body.
type MalformedHeader struct {
	ID     byte
	Reason string
}

func (e *MalformedHeader) Error() string {
	return fmt.Sprintf("obex: malformed header (id=0x%02x): %s", e.ID, e.Reason)
}

// ProtocolViolation reports a message arriving out of the sequence the
// protocol requires: a server received something other than GET_FINAL
// between response chunks, or a client received an unexpected response
// kind mid-operation.
type ProtocolViolation struct {
	Reason string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("obex: protocol violation: %s", e.Reason)
}

// PeerResponse is the minimal view of a response an OBEXFailure carries for
// inspection, kept here (rather than importing package message) to avoid a
// dependency cycle between obexerr and message.
type PeerResponse interface {
	Opcode() byte
}

// OBEXFailure wraps a well-formed failure response from the peer
// (Bad-Request, Unauthorized, Forbidden, Not-Found, Precondition-Failed, or
// an unrecognized response opcode). This is a normal, non-terminal outcome
// of a round trip: the session remains usable unless the caller closes it.
type OBEXFailure struct {
	Response PeerResponse
}

func (e *OBEXFailure) Error() string {
	return fmt.Sprintf("obex: peer returned failure response (opcode=0x%02x)", e.Response.Opcode())
}

// VersionMismatch reports that the server rejected the client's protocol
// version. The server surfaces this to the wire as a plain FORBIDDEN
// response; this type is how the server-side caller of the version check
// observes it before that response is sent.
type VersionMismatch struct {
	ClientMajor, ClientMinor byte
	ServerMajor, ServerMinor byte
}

func (e *VersionMismatch) Error() string {
	return fmt.Sprintf("obex: client version %d.%d is newer than server version %d.%d",
		e.ClientMajor, e.ClientMinor, e.ServerMajor, e.ServerMinor)
}
