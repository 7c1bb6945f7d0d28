package server

import (
	"github.com/boddie-obex/obex/header"
	"github.com/boddie-obex/obex/message"
)

// Handler implements one OBEX profile's application logic: what to do with
// a fully-assembled PUT, what object a GET should return, and how to
// interpret a SETPATH. A Server dispatches to the Handler registered for
// the CONNECT request's Target header (or the default Handler, if one was
// registered with no Target), mirroring how PyOBEX's BrowserServer/
// PushServer subclasses override Server.put/Server.get for their own
// profile instead of the base class's blanket rejection.
type Handler interface {
	// OnPut receives one fully-reassembled object: the Name/Type/Length
	// headers observed across the PUT sequence (if any were sent) and the
	// concatenated Body/End-Of-Body payload. Returning an error rejects
	// the PUT; the caller chooses the failure opcode via RejectWith.
	OnPut(name string, headers []header.Header, body []byte) error

	// OnGet returns the object named by name (the GET request's own Name
	// header, empty if the client asked for the "default" object), plus
	// any extra headers to attach to the response (e.g. Type, Length).
	// The Server segments the returned body across as many response
	// packets as the negotiated max packet length requires.
	OnGet(name string, headers []header.Header) (body []byte, extra []header.Header, err error)

	// OnSetPath applies one SETPATH navigation step: NavigateToParent steps
	// up a directory, an empty name with dontCreate set returns to root,
	// otherwise name is descended into (created first if it doesn't exist
	// and dontCreate is clear). Returning an error rejects it.
	OnSetPath(name string, toParent, dontCreate bool) error
}

// RejectionOpcoder is an optional extension a Handler may implement to
// choose which failure opcode an OnPut/OnGet/OnSetPath error is reported
// with. Without it, any handler error is reported as FORBIDDEN.
type RejectionOpcoder interface {
	RejectWith(err error) message.Opcode
}
