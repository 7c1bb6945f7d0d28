// Package client implements the OBEX client: a connection lifecycle
// (Connect/Disconnect), the request/response flush loop shared by every
// operation, and the higher-level Put/Get/SetPath/Delete/Abort operations
// built on it.
package client

import (
	"github.com/boddie-obex/obex/header"
	"github.com/boddie-obex/obex/message"
	"github.com/boddie-obex/obex/obexerr"
	"github.com/boddie-obex/obex/transport"
)

// Client manages one OBEX session: CONNECT through DISCONNECT over a
// single Transport, strictly one request/response exchange at a time.
type Client struct {
	t                     transport.Transport
	externalTransport     bool
	addr                  string
	version               message.Version
	maxPacketLength       uint16
	remoteMaxPacketLength uint16
	connectionID          *header.Header
}

// New creates a client that will dial addr on Connect.
func New(addr string) *Client {
	return &Client{
		addr:            addr,
		version:         message.DefaultVersion,
		maxPacketLength: 0xFFFF,
	}
}

// SetTransport supplies a Transport the client does not own and will not
// close on Disconnect — useful for testing against an in-memory pipe, or
// for reusing a Transport obtained from a DialPool.
func (c *Client) SetTransport(t transport.Transport) {
	c.t = t
	c.externalTransport = true
}

// flushHeaders is the core send loop shared by every operation: it drains
// headerList into request, sending and resetting whenever a header no
// longer fits within maxLength, until the list is empty, then sends the
// final packet and returns the peer's response.
//
// Any pending Connection-ID is always sent first, mirroring the session
// binding every subsequent request after CONNECT must carry.
func (c *Client) flushHeaders(req *message.Request, headerList []header.Header, maxLength int) (*message.Response, error) {
	if c.connectionID != nil {
		headerList = append([]header.Header{*c.connectionID}, headerList...)
	}

	isConnect := req.Opcode() == message.OpConnect

	for len(headerList) > 0 {
		if req.AddHeader(headerList[0], maxLength) {
			headerList = headerList[1:]
			continue
		}

		if err := c.send(req); err != nil {
			return nil, err
		}
		resp, err := c.recv(isConnect)
		if err != nil {
			return nil, err
		}
		if !resp.IsContinue() {
			return resp, nil
		}
		req.ResetHeaders()
	}

	// A trailing GET becomes GET_FINAL once its header list is exhausted —
	// there is no more data to continue sending, so this packet must
	// terminate the request.
	if req.Opcode() == message.OpGet {
		req.SetOpcode(message.OpGetFinal)
	}

	if err := c.send(req); err != nil {
		return nil, err
	}
	return c.recv(isConnect)
}

func (c *Client) send(req *message.Request) error {
	return c.t.Send(req.EncodeOne())
}

func (c *Client) recv(isConnect bool) (*message.Response, error) {
	opcode, body, err := c.t.Recv()
	if err != nil {
		return nil, err
	}
	if isConnect {
		return message.DecodeConnectReply(opcode, body)
	}
	return message.DecodeResponse(opcode, body)
}

// Connect opens the underlying transport (unless one was supplied via
// SetTransport) and sends CONNECT, optionally carrying extra headers (most
// commonly a Target header identifying the service being connected to).
//
// If the caller's header list overflows a single packet, Connect will
// attempt to segment it into several CONNECT-opcode packets exactly as the
// source implementation does, even though most real OBEX servers only
// expect to see CONNECT once per session and may not interoperate
// correctly with a segmented CONNECT. Callers should keep the CONNECT
// header list small.
func (c *Client) Connect(headerList ...header.Header) (*message.Response, error) {
	if !c.externalTransport {
		t, err := transport.Dial(c.addr)
		if err != nil {
			return nil, err
		}
		c.t = t
	}

	req := message.NewConnect(c.version, 0, c.maxPacketLength)
	resp, err := c.flushHeaders(req, headerList, int(c.maxPacketLength))
	if err != nil {
		c.closeIfOwned()
		return nil, err
	}

	if resp.IsSuccess() {
		if _, _, maxLen, ok := resp.ConnectReplyFields(); ok {
			c.remoteMaxPacketLength = maxLen
		}
		for _, h := range resp.Headers() {
			if h.ID == header.ConnectionID {
				hc := h
				c.connectionID = &hc
			}
		}
	} else {
		c.closeIfOwned()
	}

	return resp, nil
}

func (c *Client) closeIfOwned() {
	if !c.externalTransport && c.t != nil {
		c.t.Close()
	}
}

// Disconnect sends DISCONNECT and closes the transport unless it was
// supplied externally via SetTransport.
func (c *Client) Disconnect(headerList ...header.Header) (*message.Response, error) {
	req := message.NewDisconnect()
	resp, err := c.flushHeaders(req, headerList, int(c.remoteMaxPacketLength))
	c.closeIfOwned()
	c.connectionID = nil
	return resp, err
}

// Put sends name and data to the server's current directory, segmenting
// data across as many PUT/PUT_FINAL packets as the negotiated max packet
// length requires. If progress is non-nil it is called with every
// intermediate response; Put still returns the final response either way.
func (c *Client) Put(name string, data []byte, headerList []header.Header, progress func(*message.Response)) (*message.Response, error) {
	all := append([]header.Header{header.NewName(name), header.NewUint32(header.Length, uint32(len(data)))}, headerList...)

	maxLength := int(c.remoteMaxPacketLength)
	req := message.NewPut()
	resp, err := c.flushHeaders(req, all, maxLength)
	if err != nil {
		return nil, err
	}
	if progress != nil {
		progress(resp)
	}
	if !resp.IsContinue() {
		return resp, nil
	}

	// Optimum chunk size: max packet length minus the 3-byte packet prefix
	// and the 3-byte Body/End-Of-Body header prefix.
	optimum := maxLength - 3 - 3
	if optimum <= 0 {
		return nil, &obexerr.ProtocolViolation{Reason: "negotiated max packet length too small for body transfer"}
	}

	for i := 0; i < len(data); {
		chunk := data[i:min(i+optimum, len(data))]
		i += len(chunk)

		var out *message.Request
		if i < len(data) {
			out = message.NewPut()
			out.AddHeader(header.NewBytes(header.Body, chunk), maxLength)
		} else {
			out = message.NewPutFinal()
			out.AddHeader(header.NewBytes(header.EndOfBody, chunk), maxLength)
		}

		if err := c.send(out); err != nil {
			return nil, err
		}
		resp, err = c.recv(false)
		if err != nil {
			return nil, err
		}
		if progress != nil {
			progress(resp)
		}
		if i < len(data) {
			if !resp.IsContinue() {
				return resp, nil
			}
		} else {
			return resp, nil
		}
	}
	return resp, nil
}

// Get requests name (or, if empty, the current directory's default
// object) from the server. On success, resp is the terminal SUCCESS
// response, headers holds every non-body header collected across the
// exchange, and body holds the concatenated Body/End-Of-Body payload. If
// the server's first response is a failure instead of CONTINUE/SUCCESS,
// Get returns that response with nil headers and body — callers
// distinguish success from failure via resp.IsSuccess(), the same way
// every other operation on Client does.
func (c *Client) Get(name string, headerList []header.Header, progress func(*message.Response)) (resp *message.Response, headers []header.Header, body []byte, err error) {
	var all []header.Header
	if name != "" {
		all = append(all, header.NewName(name))
	}
	all = append(all, headerList...)

	maxLength := int(c.remoteMaxPacketLength)
	req := message.NewGet()
	resp, err = c.flushHeaders(req, all, maxLength)
	if err != nil {
		return nil, nil, nil, err
	}
	if progress != nil {
		progress(resp)
	}
	if !resp.IsContinue() && !resp.IsSuccess() {
		return resp, nil, nil, nil
	}

	collect := func(r *message.Response) {
		for _, h := range r.Headers() {
			switch h.ID {
			case header.Body, header.EndOfBody:
				b, _ := h.Bytes()
				body = append(body, b...)
			default:
				headers = append(headers, h)
			}
		}
	}
	collect(resp)

	for resp.IsContinue() {
		req := message.NewGetFinal()
		if err := c.send(req); err != nil {
			return nil, nil, nil, err
		}
		resp, err = c.recv(false)
		if err != nil {
			return nil, nil, nil, err
		}
		if progress != nil {
			progress(resp)
		}
		collect(resp)
	}

	return resp, headers, body, nil
}

// SetPath requests a change to the server's current directory for this
// session. Set toParent to navigate up one level, and createDir to permit
// the server to create name if it doesn't already exist.
func (c *Client) SetPath(name string, createDir, toParent bool, headerList []header.Header) (*message.Response, error) {
	var flags byte
	if !createDir {
		flags |= message.DontCreateDir
	}
	if toParent {
		flags |= message.NavigateToParent
	}

	all := append([]header.Header{header.NewName(name)}, headerList...)
	req := message.NewSetPath(flags)
	return c.flushHeaders(req, all, int(c.remoteMaxPacketLength))
}

// Delete requests removal of name from the server's current directory,
// implemented (per the OBEX convention) as a PUT_FINAL with no body.
func (c *Client) Delete(name string, headerList []header.Header) (*message.Response, error) {
	all := append([]header.Header{header.NewName(name)}, headerList...)
	req := message.NewPutFinal()
	return c.flushHeaders(req, all, int(c.remoteMaxPacketLength))
}

// Abort terminates the operation currently in progress.
func (c *Client) Abort(headerList []header.Header) (*message.Response, error) {
	req := message.NewAbort()
	return c.flushHeaders(req, headerList, int(c.remoteMaxPacketLength))
}

