package server

import (
	"errors"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/boddie-obex/obex/client"
	"github.com/boddie-obex/obex/header"
	"github.com/boddie-obex/obex/message"
	"github.com/boddie-obex/obex/transport"
)

// memHandler is a trivial in-memory Handler: PUT stores the named object,
// GET returns it, SETPATH always succeeds. Good enough to exercise the
// dispatch table without any real backing store.
type memHandler struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemHandler() *memHandler {
	return &memHandler{objects: make(map[string][]byte)}
}

func (h *memHandler) OnPut(name string, hdrs []header.Header, body []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.objects[name] = append([]byte{}, body...)
	return nil
}

func (h *memHandler) OnGet(name string, hdrs []header.Header) ([]byte, []header.Header, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	body, ok := h.objects[name]
	if !ok {
		return nil, nil, errNotFound
	}
	return body, nil, nil
}

func (h *memHandler) OnSetPath(name string, toParent, dontCreate bool) error {
	return nil
}

func (h *memHandler) RejectWith(err error) message.Opcode {
	if errors.Is(err, errNotFound) {
		return message.OpNotFound
	}
	return message.OpForbidden
}

var errNotFound = errors.New("object not found")

func startTestServer(t *testing.T, h Handler) string {
	t.Helper()
	ln, err := transport.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	svr := NewServer()
	svr.Register("", h)

	done := make(chan error, 1)
	go func() { done <- svr.ServeListener(ln) }()
	t.Cleanup(func() {
		svr.Shutdown(time.Second)
		<-done
	})

	return ln.Addr().String()
}

func TestServerConnectDisconnect(t *testing.T) {
	addr := startTestServer(t, newMemHandler())

	c := client.New(addr)
	resp, err := c.Connect()
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !resp.IsSuccess() {
		t.Fatalf("expected CONNECT to succeed, got opcode 0x%02x", resp.Opcode())
	}

	resp, err = c.Disconnect()
	if err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if !resp.IsSuccess() {
		t.Fatalf("expected DISCONNECT to succeed, got opcode 0x%02x", resp.Opcode())
	}
}

func TestServerPutThenGetRoundTrip(t *testing.T) {
	addr := startTestServer(t, newMemHandler())

	c := client.New(addr)
	if _, err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	payload := []byte("hello obex")
	resp, err := c.Put("greeting.txt", payload, nil, nil)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !resp.IsSuccess() {
		t.Fatalf("expected PUT to succeed, got opcode 0x%02x", resp.Opcode())
	}

	resp, _, body, err := c.Get("greeting.txt", nil, nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !resp.IsSuccess() {
		t.Fatalf("expected GET to succeed, got opcode 0x%02x", resp.Opcode())
	}
	if string(body) != string(payload) {
		t.Fatalf("expected body %q, got %q", payload, body)
	}
}

func TestServerGetMissingObjectIsNotFound(t *testing.T) {
	addr := startTestServer(t, newMemHandler())

	c := client.New(addr)
	if _, err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	resp, _, _, err := c.Get("missing.txt", nil, nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if resp.Opcode() != message.OpNotFound {
		t.Fatalf("expected NOT_FOUND, got opcode 0x%02x", resp.Opcode())
	}
}

func TestServerPutWithoutConnectIsForbidden(t *testing.T) {
	addr := startTestServer(t, newMemHandler())

	clientConn, err := transport.Dial(addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer clientConn.Close()

	req := message.NewPutFinal()
	req.AddHeader(header.NewName("x"), 0xFFFF)
	if err := clientConn.Send(req.EncodeOne()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	opcode, _, err := clientConn.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if message.Opcode(opcode) != message.OpForbidden {
		t.Fatalf("expected FORBIDDEN for PUT before CONNECT, got 0x%02x", opcode)
	}
}

func TestServerSetPath(t *testing.T) {
	addr := startTestServer(t, newMemHandler())

	c := client.New(addr)
	if _, err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	resp, err := c.SetPath("subdir", true, false, nil)
	if err != nil {
		t.Fatalf("SetPath failed: %v", err)
	}
	if !resp.IsSuccess() {
		t.Fatalf("expected SETPATH to succeed, got opcode 0x%02x", resp.Opcode())
	}
}

func TestServerUnknownTargetIsNotFound(t *testing.T) {
	ln, err := transport.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	svr := NewServer()
	svr.Register("F9EC7BC4-953C-11d2-984E-525400DC9E09", newMemHandler())

	done := make(chan error, 1)
	go func() { done <- svr.ServeListener(ln) }()
	t.Cleanup(func() {
		svr.Shutdown(time.Second)
		<-done
	})

	c := client.New(ln.Addr().String())
	resp, err := c.Connect(header.NewBytes(header.Target, []byte("unregistered-uuid")))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if resp.Opcode() != message.OpNotFound {
		t.Fatalf("expected NOT_FOUND for an unregistered Target, got opcode 0x%02x", resp.Opcode())
	}
}

func TestServerRejectsNewerClientVersion(t *testing.T) {
	addr := startTestServer(t, newMemHandler())

	clientConn, err := transport.Dial(addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer clientConn.Close()

	req := message.NewConnect(message.Version{Major: 9, Minor: 9}, 0, 0xFFFF)
	if err := clientConn.Send(req.EncodeOne()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	opcode, _, err := clientConn.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if message.Opcode(opcode) != message.OpForbidden {
		t.Fatalf("expected FORBIDDEN for a newer client version, got 0x%02x", opcode)
	}
}

// TestServerRateLimitThrottlesNonFinalFragments confirms RateLimit gates
// every received packet, not just completed operations: a flood of
// non-final PUT fragments (each of which would otherwise only cost the
// server a CONTINUE reply) trips the limiter before any of them assembles
// into a dispatched operation.
func TestServerRateLimitThrottlesNonFinalFragments(t *testing.T) {
	ln, err := transport.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	svr := NewServer()
	svr.Register("", newMemHandler())
	svr.RateLimit(1, 2) // burst of 2; the 3rd packet in quick succession is throttled

	done := make(chan error, 1)
	go func() { done <- svr.ServeListener(ln) }()
	t.Cleanup(func() {
		svr.Shutdown(time.Second)
		<-done
	})

	c, err := transport.Dial(ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	connect := message.NewConnect(message.DefaultVersion, 0, 0xFFFF)
	if err := c.Send(connect.EncodeOne()); err != nil {
		t.Fatalf("Send CONNECT failed: %v", err)
	}
	if opcode, _, err := c.Recv(); err != nil || message.Opcode(opcode) != message.OpSuccess {
		t.Fatalf("CONNECT failed: opcode=0x%02x err=%v", opcode, err)
	}

	// CONNECT spent 1 of the 2-packet burst. The next non-final PUT
	// fragment spends the last one and should still succeed with CONTINUE;
	// a flood of non-final fragments never reaches dispatch, so without a
	// packet-level gate nothing would ever throttle them.
	frag := message.NewPut()
	frag.AddHeader(header.NewName("flood.bin"), 0xFFFF)
	if err := c.Send(frag.EncodeOne()); err != nil {
		t.Fatalf("Send first PUT fragment failed: %v", err)
	}
	if opcode, _, err := c.Recv(); err != nil || message.Opcode(opcode) != message.OpContinue {
		t.Fatalf("expected CONTINUE for the first fragment, got opcode=0x%02x err=%v", opcode, err)
	}

	// The burst is now exhausted: a second non-final fragment sent right
	// after should be throttled rather than reaching the accumulation path.
	if err := c.Send(frag.EncodeOne()); err != nil {
		t.Fatalf("Send second PUT fragment failed: %v", err)
	}
	opcode, _, err := c.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if message.Opcode(opcode) != message.OpServiceUnavailable {
		t.Fatalf("expected SERVICE_UNAVAILABLE for a throttled non-final fragment, got 0x%02x", opcode)
	}
}

// TestSendResponseMultiPacketRequiresGetFinal exercises multi-packet
// response emission directly: a response too large for one packet must be
// split into CONTINUE-opcode chunks, each one followed by a client
// GET_FINAL before the next is sent.
func TestSendResponseMultiPacketRequiresGetFinal(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	svr := NewServer()
	sess := &session{remoteMaxPacketLength: 20}

	resp := message.NewSuccess()
	for _, h := range bodyHeaders([]byte("0123456789abcdefghijklmnopqrstuvwxyz"), int(sess.remoteMaxPacketLength)) {
		resp.AddHeader(h, math.MaxInt)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- svr.sendResponse(transport.NewTCPTransport(serverConn), sess, resp)
	}()

	clientSide := transport.NewTCPTransport(clientConn)
	var chunkCount int
	for {
		opcode, _, err := clientSide.Recv()
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		chunkCount++
		if message.Opcode(opcode) == message.OpSuccess {
			break
		}
		if message.Opcode(opcode) != message.OpContinue {
			t.Fatalf("expected CONTINUE mid-stream, got 0x%02x", opcode)
		}
		if err := clientSide.Send(message.NewGetFinal().EncodeOne()); err != nil {
			t.Fatalf("Send GET_FINAL failed: %v", err)
		}
	}

	if err := <-errCh; err != nil {
		t.Fatalf("sendResponse failed: %v", err)
	}
	if chunkCount < 2 {
		t.Fatalf("expected a multi-packet response, got %d chunk(s)", chunkCount)
	}
}

// TestServerPutAssemblyAcrossMultiplePackets: a PUT split across several
// non-final packets must be reassembled into one object, replying CONTINUE
// after every non-final chunk and SUCCESS on PUT_FINAL.
func TestServerPutAssemblyAcrossMultiplePackets(t *testing.T) {
	h := newMemHandler()
	addr := startTestServer(t, h)

	c, err := transport.Dial(addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	connect := message.NewConnect(message.DefaultVersion, 0, 0xFFFF)
	if err := c.Send(connect.EncodeOne()); err != nil {
		t.Fatalf("Send CONNECT failed: %v", err)
	}
	if opcode, body, err := c.Recv(); err != nil || message.Opcode(opcode) != message.OpSuccess {
		t.Fatalf("CONNECT failed: opcode=0x%02x err=%v body=%x", opcode, err, body)
	}

	first := message.NewPut()
	first.AddHeader(header.NewName("chunked.bin"), 0xFFFF)
	first.AddHeader(header.NewBytes(header.Body, []byte("hello ")), 0xFFFF)
	if err := c.Send(first.EncodeOne()); err != nil {
		t.Fatalf("Send PUT failed: %v", err)
	}
	if opcode, _, err := c.Recv(); err != nil || message.Opcode(opcode) != message.OpContinue {
		t.Fatalf("expected CONTINUE after first PUT chunk, got opcode=0x%02x err=%v", opcode, err)
	}

	final := message.NewPutFinal()
	final.AddHeader(header.NewBytes(header.EndOfBody, []byte("world")), 0xFFFF)
	if err := c.Send(final.EncodeOne()); err != nil {
		t.Fatalf("Send PUT_FINAL failed: %v", err)
	}
	if opcode, _, err := c.Recv(); err != nil || message.Opcode(opcode) != message.OpSuccess {
		t.Fatalf("expected SUCCESS after PUT_FINAL, got opcode=0x%02x err=%v", opcode, err)
	}

	h.mu.Lock()
	got := string(h.objects["chunked.bin"])
	h.mu.Unlock()
	if got != "hello world" {
		t.Fatalf("expected assembled body %q, got %q", "hello world", got)
	}
}
