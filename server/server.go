// Package server implements the OBEX server engine: an accept loop, a
// dispatch table keyed by request opcode and (for CONNECT) Target UUID,
// server-side PUT assembly and GET streaming, server-side SETPATH, and the
// multi-packet response emission CONNECT/GET replies may require.
//
// Request processing pipeline, one goroutine per accepted connection:
//
//	Accept conn → handleConn (single goroutine reads packets)
//	  → accumulate PUT/GET header chunks until the final packet arrives
//	    → middleware chain → Handler.OnGet/OnPut/OnSetPath → response chunks
package server

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/boddie-obex/obex/header"
	"github.com/boddie-obex/obex/message"
	"github.com/boddie-obex/obex/middleware"
	"github.com/boddie-obex/obex/obexerr"
	"github.com/boddie-obex/obex/registry"
	"github.com/boddie-obex/obex/transport"
)

// Server hosts one or more OBEX profiles and dispatches accepted
// connections to the Handler registered for the CONNECT request's Target.
type Server struct {
	handlers    map[string]Handler // Target UUID -> Handler; "" is the default
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // built once Serve starts: Chain(middlewares...)(dispatch)

	version         message.Version
	maxPacketLength uint16 // this server's own advertised max packet length

	// Accepter mirrors PyOBEX's Server.accept_connection(address, port):
	// an optional veto point consulted before a connection's first packet
	// is even read. A nil Accepter accepts every connection.
	Accepter func(peerAddr string) bool

	advertiser    registry.Advertiser
	profile       string
	advertiseAddr string

	// packetLimiter, set by RateLimit, caps packets per second across every
	// connection this server accepts, checked in handleConn per received
	// packet rather than per dispatched operation — see RateLimit's doc
	// comment for why that distinction matters.
	packetLimiter *rate.Limiter

	listener transport.Listener
	wg       sync.WaitGroup
	shutdown atomic.Bool
}

// NewServer creates a server with no registered handlers.
func NewServer() *Server {
	return &Server{
		handlers:        make(map[string]Handler),
		version:         message.DefaultVersion,
		maxPacketLength: 0xFFFF,
	}
}

// Register associates a Handler with the Target UUID a CONNECT request
// must carry to reach it — e.g. the OBEX FTP or Object Push UUID, mirroring
// BrowserServer/PushServer each overriding Server.put/Server.get for a
// fixed profile. Register one Handler with targetUUID == "" to also serve
// CONNECT requests that carry no Target header, or as the only handler a
// single-profile server needs.
func (svr *Server) Register(targetUUID string, h Handler) {
	svr.handlers[targetUUID] = h
}

// Use registers a middleware. Middlewares are applied in the order they
// are added, wrapping the dispatch function in an onion: the first
// registered middleware's before-logic runs first and its after-logic
// runs last.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// RateLimit caps the packets svr accepts to r per second, up to burst, the
// same token-bucket policy as middleware.RateLimitMiddleware but checked
// in handleConn against every packet it reads rather than middleware.Chain
// wrapping dispatch against every fully-assembled operation. The
// difference matters for abuse: a peer flooding non-final GET/PUT
// fragments never reaches dispatch at all until it sends a final packet,
// so a middleware-only limiter never sees — and never throttles — that
// flood. RateLimit closes that gap at the one point every packet, final
// or not, actually passes through.
func (svr *Server) RateLimit(r float64, burst int) {
	svr.packetLimiter = rate.NewLimiter(rate.Limit(r), burst)
}

// Advertise registers this server's profile/address with adv so discovery
// clients can find it, and withdraws it again on Shutdown.
func (svr *Server) Advertise(adv registry.Advertiser, profile, addr string) {
	svr.advertiser = adv
	svr.profile = profile
	svr.advertiseAddr = addr
}

// Serve listens on addr and runs the accept loop until Shutdown is called
// or the listener errors.
func (svr *Server) Serve(addr string) error {
	ln, err := transport.Listen(addr)
	if err != nil {
		return err
	}
	return svr.ServeListener(ln)
}

// ServeListener runs the accept loop over an already-created Listener —
// useful for tests against an in-memory listener, or a host-supplied
// Bluetooth RFCOMM listener satisfying transport.Listener.
func (svr *Server) ServeListener(ln transport.Listener) error {
	svr.listener = ln
	svr.handler = middleware.Chain(svr.middlewares...)(svr.dispatch)

	if svr.advertiser != nil {
		if err := svr.advertiser.Advertise(svr.profile, registry.Instance{Addr: svr.advertiseAddr}, 10); err != nil {
			log.Printf("obex: failed to advertise %s at %s: %v", svr.profile, svr.advertiseAddr, err)
		}
	}

	for {
		t, err := ln.Accept()
		if err != nil {
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		svr.wg.Add(1)
		go func() {
			defer svr.wg.Done()
			svr.handleConn(t)
		}()
	}
}

// Shutdown withdraws this server's advertisement (if any), stops accepting
// new connections, and waits up to timeout for in-flight sessions to end
// (a session ends when its peer disconnects or its connection closes).
func (svr *Server) Shutdown(timeout time.Duration) error {
	if svr.advertiser != nil {
		svr.advertiser.Withdraw(svr.profile, svr.advertiseAddr)
	}

	svr.shutdown.Store(true)
	if svr.listener != nil {
		svr.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("obex: timeout waiting for in-flight sessions to finish")
	}
}

// session holds the per-connection state a dispatch call needs: which
// Handler CONNECT resolved, and the max packet length the client advertised
// (the dual of the client's own remoteMaxPacketLength).
type session struct {
	handler               Handler
	remoteMaxPacketLength uint16
	connected             bool
}

// handleConn reads one connection's packets sequentially — OBEX sessions
// run strictly single-threaded, so everything here runs on one goroutine
// per connection — accumulating PUT/GET header chunks until the operation's
// final packet arrives, then running the middleware-wrapped dispatch and
// sending its response (itself possibly multiple packets, via sendResponse).
func (svr *Server) handleConn(t transport.Transport) {
	defer t.Close()

	peerAddr := peerAddrOf(t)
	if svr.Accepter != nil && !svr.Accepter(peerAddr) {
		return
	}

	sess := &session{remoteMaxPacketLength: 0xFFFF, connected: true}
	var getHeaders, putHeaders []header.Header

	for {
		opcode, body, err := t.Recv()
		if err != nil {
			return
		}

		req, err := message.DecodeRequest(opcode, body)
		if err != nil {
			log.Printf("obex: malformed request from %s: %v", peerAddr, err)
			return
		}

		if svr.packetLimiter != nil && !svr.packetLimiter.Allow() {
			// Drop whatever PUT/GET fragments were accumulated so far: the
			// client's own flush loop treats this non-CONTINUE response as
			// terminal and stops the operation, so resuming accumulation
			// into it on a later packet would just graft unrelated headers
			// onto it.
			getHeaders, putHeaders = nil, nil
			if err := svr.sendResponse(t, sess, message.NewFailure(message.OpServiceUnavailable)); err != nil {
				log.Printf("obex: %s: %v", peerAddr, err)
				return
			}
			continue
		}

		var finalReq *message.Request
		switch req.Opcode() {
		case message.OpGet:
			getHeaders = append(getHeaders, req.Headers()...)
			if err := svr.sendResponse(t, sess, message.NewContinue()); err != nil {
				log.Printf("obex: %s: %v", peerAddr, err)
				return
			}
			continue
		case message.OpPut:
			putHeaders = append(putHeaders, req.Headers()...)
			if err := svr.sendResponse(t, sess, message.NewContinue()); err != nil {
				log.Printf("obex: %s: %v", peerAddr, err)
				return
			}
			continue
		case message.OpGetFinal:
			finalReq = rebuild(message.NewGetFinal(), getHeaders, req.Headers())
			getHeaders = nil
		case message.OpPutFinal:
			finalReq = rebuild(message.NewPutFinal(), putHeaders, req.Headers())
			putHeaders = nil
		default:
			finalReq = req
		}

		ctx := context.WithValue(context.Background(), sessionKey{}, sess)
		resp := svr.handler(ctx, finalReq)
		if err := svr.sendResponse(t, sess, resp); err != nil {
			log.Printf("obex: %s: %v", peerAddr, err)
			return
		}
		if !sess.connected {
			return
		}
	}
}

// rebuild reassembles req's logical header list — headers accumulated over
// earlier non-final chunks followed by the final packet's own headers —
// onto a fresh Request of the supplied final opcode. AddHeader's maxLen
// gate is bypassed (a generous bound instead of the real negotiated max)
// because this is reconstructing an already-received operation, not
// packing one to send.
func rebuild(req *message.Request, earlier, final []header.Header) *message.Request {
	for _, h := range earlier {
		req.AddHeader(h, math.MaxInt)
	}
	for _, h := range final {
		req.AddHeader(h, math.MaxInt)
	}
	return req
}

// dispatch is the business handler wrapped by the middleware chain: one
// fully-assembled operation in, one response out.
func (svr *Server) dispatch(ctx context.Context, req *message.Request) *message.Response {
	sess, _ := ctx.Value(sessionKey{}).(*session)
	switch req.Opcode() {
	case message.OpConnect:
		return svr.dispatchConnect(sess, req)
	case message.OpDisconnect:
		sess.connected = false
		return message.NewSuccess()
	case message.OpGetFinal:
		return svr.dispatchGet(sess, req)
	case message.OpPutFinal:
		return svr.dispatchPut(sess, req)
	case message.OpSetPath:
		return svr.dispatchSetPath(sess, req)
	default:
		return message.NewFailure(message.OpForbidden)
	}
}

type sessionKey struct{}

func (svr *Server) dispatchConnect(sess *session, req *message.Request) *message.Response {
	version, _, maxPacketLength, ok := req.ConnectFields()
	if !ok {
		return message.NewFailure(message.OpBadRequest)
	}
	if version.GreaterThan(svr.version) {
		err := &obexerr.VersionMismatch{
			ClientMajor: version.Major, ClientMinor: version.Minor,
			ServerMajor: svr.version.Major, ServerMinor: svr.version.Minor,
		}
		log.Printf("obex: rejecting CONNECT: %v", err)
		return message.NewFailure(message.OpForbidden)
	}

	target := ""
	for _, h := range req.Headers() {
		if h.ID == header.Target {
			if b, err := h.Bytes(); err == nil {
				target = string(b)
			}
		}
	}
	handler, ok := svr.handlerFor(target)
	if !ok {
		return message.NewFailure(message.OpNotFound)
	}

	sess.handler = handler
	sess.remoteMaxPacketLength = maxPacketLength
	sess.connected = true

	return message.NewConnectSuccess(svr.version, 0, svr.maxPacketLength)
}

func (svr *Server) handlerFor(target string) (Handler, bool) {
	if h, ok := svr.handlers[target]; ok {
		return h, true
	}
	if h, ok := svr.handlers[""]; ok {
		return h, true
	}
	return nil, false
}

func (svr *Server) dispatchGet(sess *session, req *message.Request) *message.Response {
	if sess == nil || sess.handler == nil {
		return message.NewFailure(message.OpForbidden)
	}

	var name string
	var extra []header.Header
	for _, h := range req.Headers() {
		if h.ID == header.Name {
			if s, err := h.Text(); err == nil {
				name = s
			}
			continue
		}
		extra = append(extra, h)
	}

	body, respHeaders, err := sess.handler.OnGet(name, extra)
	if err != nil {
		return message.NewFailure(svr.rejectOpcode(sess.handler, err))
	}

	resp := message.NewSuccess()
	for _, h := range respHeaders {
		resp.AddHeader(h, math.MaxInt)
	}
	for _, h := range bodyHeaders(body, int(sess.remoteMaxPacketLength)) {
		resp.AddHeader(h, math.MaxInt)
	}
	return resp
}

// bodyHeaders splits body into as many Body/End-Of-Body headers as the
// negotiated packet size requires — the server-side dual of Client.Put's
// own chunking. Every chunk but the last uses Body; the last (or the sole
// chunk, including an empty body) uses End-Of-Body.
func bodyHeaders(body []byte, remoteMax int) []header.Header {
	optimum := remoteMax - 3 - 3
	if optimum <= 0 {
		optimum = len(body)
		if optimum == 0 {
			optimum = 1
		}
	}

	if len(body) == 0 {
		return []header.Header{header.NewBytes(header.EndOfBody, nil)}
	}

	var out []header.Header
	for i := 0; i < len(body); {
		end := i + optimum
		if end > len(body) {
			end = len(body)
		}
		chunk := body[i:end]
		i = end
		if i < len(body) {
			out = append(out, header.NewBytes(header.Body, chunk))
		} else {
			out = append(out, header.NewBytes(header.EndOfBody, chunk))
		}
	}
	return out
}

func (svr *Server) dispatchPut(sess *session, req *message.Request) *message.Response {
	if sess == nil || sess.handler == nil {
		return message.NewFailure(message.OpForbidden)
	}

	var name string
	var extra []header.Header
	var body []byte
	for _, h := range req.Headers() {
		switch h.ID {
		case header.Name:
			if s, err := h.Text(); err == nil {
				name = s
			}
		case header.Body, header.EndOfBody:
			if b, err := h.Bytes(); err == nil {
				body = append(body, b...)
			}
		default:
			extra = append(extra, h)
		}
	}

	if err := sess.handler.OnPut(name, extra, body); err != nil {
		return message.NewFailure(svr.rejectOpcode(sess.handler, err))
	}
	return message.NewSuccess()
}

func (svr *Server) dispatchSetPath(sess *session, req *message.Request) *message.Response {
	if sess == nil || sess.handler == nil {
		return message.NewFailure(message.OpForbidden)
	}

	flags, _, ok := req.SetPathFields()
	if !ok {
		return message.NewFailure(message.OpBadRequest)
	}

	var name string
	for _, h := range req.Headers() {
		if h.ID == header.Name {
			if s, err := h.Text(); err == nil {
				name = s
			}
		}
	}

	toParent := flags&message.NavigateToParent != 0
	dontCreate := flags&message.DontCreateDir != 0

	if err := sess.handler.OnSetPath(name, toParent, dontCreate); err != nil {
		return message.NewFailure(svr.rejectOpcode(sess.handler, err))
	}
	return message.NewSuccess()
}

func (svr *Server) rejectOpcode(h Handler, err error) message.Opcode {
	if ro, ok := h.(RejectionOpcoder); ok {
		return ro.RejectWith(err)
	}
	return message.OpForbidden
}

// sendResponse encodes resp into one or more packet buffers (all but the
// last carrying CONTINUE), sending each and, for every buffer but the
// last, requiring the client's next packet to be GET_FINAL before
// continuing.
func (svr *Server) sendResponse(t transport.Transport, sess *session, resp *message.Response) error {
	buffers, err := resp.Encode(int(sess.remoteMaxPacketLength))
	if err != nil {
		return err
	}

	for i, buf := range buffers {
		if err := t.Send(buf); err != nil {
			return err
		}
		if i == len(buffers)-1 {
			return nil
		}
		opcode, _, err := t.Recv()
		if err != nil {
			return err
		}
		if message.Opcode(opcode) != message.OpGetFinal {
			return &obexerr.ProtocolViolation{Reason: "expected GET_FINAL between response chunks"}
		}
	}
	return nil
}

func peerAddrOf(t transport.Transport) string {
	if tcp, ok := t.(*transport.TCPTransport); ok && tcp.Conn() != nil {
		return tcp.Conn().RemoteAddr().String()
	}
	return ""
}
