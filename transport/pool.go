package transport

import (
	"fmt"
	"sync"
)

// DialPool manages a bounded set of exclusively-borrowed Transports to a
// single address, for callers that hold several concurrent OBEX sessions
// against one server without exceeding a dial-concurrency ceiling
// (client.PushMany uses one single-transport pool per peer address).
// Unlike a multiplexed RPC transport,
// a borrowed Transport here is used for one entire OBEX session (CONNECT
// through DISCONNECT) before being returned — never shared mid-session.
type DialPool struct {
	mu       sync.Mutex
	conns    chan *pooledTransport
	addr     string
	maxConns int
	curConns int
	factory  func() (Transport, error)
}

// pooledTransport wraps a Transport with pool metadata.
type pooledTransport struct {
	Transport
	pool     *DialPool
	unusable bool
}

// NewDialPool creates a pool bounded at maxConns Transports to addr. If
// factory is nil, Dial(addr) is used.
func NewDialPool(addr string, maxConns int, factory func() (Transport, error)) *DialPool {
	if factory == nil {
		factory = func() (Transport, error) { return Dial(addr) }
	}
	return &DialPool{
		conns:    make(chan *pooledTransport, maxConns),
		addr:     addr,
		maxConns: maxConns,
		factory:  factory,
	}
}

// Get borrows a Transport, creating one if the pool is under capacity or
// blocking until one is returned if at capacity.
func (p *DialPool) Get() (*pooledTransport, error) {
	select {
	case t := <-p.conns:
		if t.unusable {
			return p.createNew()
		}
		return t, nil
	default:
		p.mu.Lock()
		underCap := p.curConns < p.maxConns
		p.mu.Unlock()
		if underCap {
			return p.createNew()
		}
		t := <-p.conns
		return t, nil
	}
}

// Put returns t to the pool, or closes and discards it if it was marked
// unusable by a caller that hit a transport error.
func (p *DialPool) Put(t *pooledTransport) {
	if t.unusable {
		t.Transport.Close()
		p.mu.Lock()
		p.curConns--
		p.mu.Unlock()
		return
	}
	p.conns <- t
}

// MarkUnusable flags t so the next Put discards it instead of recycling it.
func (t *pooledTransport) MarkUnusable() { t.unusable = true }

// Close shuts down the pool and every Transport it currently holds.
func (p *DialPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	close(p.conns)
	for t := range p.conns {
		t.Transport.Close()
		p.curConns--
	}
	return nil
}

func (p *DialPool) createNew() (*pooledTransport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.curConns >= p.maxConns {
		return nil, fmt.Errorf("obex: dial pool for %s exhausted", p.addr)
	}

	t, err := p.factory()
	if err != nil {
		return nil, err
	}

	p.curConns++
	return &pooledTransport{Transport: t, pool: p}, nil
}
