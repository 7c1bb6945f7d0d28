// Package transport supplies the byte-stream abstraction the client and
// server engines are built on, plus a bounded exclusive-use connection pool
// for fan-out sends.
//
// OBEX sessions are strictly sequential: one client, one connection, one
// request in flight at a time — there is no multiplexing of concurrent
// calls over a shared socket the way an RPC client needs. A Transport is
// therefore a single borrowed byte-stream, not a shared, demultiplexed one.
package transport

import (
	"net"

	"github.com/boddie-obex/obex/obexerr"
	"github.com/boddie-obex/obex/packet"
)

// Transport is the byte-stream a client session or an accepted server
// connection sends and receives OBEX packets over. It is not safe for
// concurrent use — an OBEX session never has two packets in flight at once.
type Transport interface {
	Send(buf []byte) error
	Recv() (opcode byte, body []byte, err error)
	Close() error
}

// Listener accepts incoming Transports.
type Listener interface {
	Accept() (Transport, error)
	Close() error
	Addr() net.Addr
}

// TCPTransport is the default Transport, wrapping a net.Conn.
type TCPTransport struct {
	conn net.Conn
}

// NewTCPTransport wraps an already-established net.Conn as a Transport.
func NewTCPTransport(conn net.Conn) *TCPTransport {
	return &TCPTransport{conn: conn}
}

// Dial opens a new TCP connection and wraps it as a Transport.
func Dial(addr string) (*TCPTransport, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, &obexerr.TransportError{Op: "dial", Err: err}
	}
	return NewTCPTransport(conn), nil
}

func (t *TCPTransport) Send(buf []byte) error {
	n := 0
	for n < len(buf) {
		written, err := t.conn.Write(buf[n:])
		if err != nil {
			return &obexerr.TransportError{Op: "send", Err: err}
		}
		n += written
	}
	return nil
}

func (t *TCPTransport) Recv() (byte, []byte, error) {
	return packet.Read(t.conn)
}

func (t *TCPTransport) Close() error {
	return t.conn.Close()
}

// Conn returns the underlying net.Conn, for callers that need peer-address
// information (e.g. consistent-hash worker sharding keyed on remote addr).
func (t *TCPTransport) Conn() net.Conn {
	return t.conn
}

// TCPListener is the default Listener, wrapping a net.Listener.
type TCPListener struct {
	ln net.Listener
}

// Listen starts a TCP listener and wraps it as a Listener.
func Listen(addr string) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &obexerr.TransportError{Op: "accept", Err: err}
	}
	return &TCPListener{ln: ln}, nil
}

func (l *TCPListener) Accept() (Transport, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, &obexerr.TransportError{Op: "accept", Err: err}
	}
	return NewTCPTransport(conn), nil
}

func (l *TCPListener) Close() error { return l.ln.Close() }
func (l *TCPListener) Addr() net.Addr { return l.ln.Addr() }
