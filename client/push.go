package client

import (
	"sync"

	"github.com/boddie-obex/obex/message"
	"github.com/boddie-obex/obex/transport"
)

// PushResult is one peer's outcome from PushMany.
type PushResult struct {
	Response *message.Response
	Err      error
}

// PushMany sends name/data to every address in addrs, each as its own
// CONNECT/PUT/DISCONNECT session, generalizing the single-device
// connect-put-disconnect sequence to many peers at once. Each peer is
// dialed through its own single-connection transport.DialPool so a failed
// session's transport is discarded rather than recycled; no more than
// maxConcurrent of those dials run at once. A failure on one peer (dial,
// transport, or a failure response) does not prevent the others from
// completing; the full set of outcomes is returned keyed by address.
func PushMany(addrs []string, name string, data []byte, maxConcurrent int) map[string]PushResult {
	results := make(map[string]PushResult, len(addrs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	sem := make(chan struct{}, maxConcurrent)

	for _, addr := range addrs {
		addr := addr
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			resp, err := pushOne(addr, name, data)

			mu.Lock()
			results[addr] = PushResult{Response: resp, Err: err}
			mu.Unlock()
		}()
	}

	wg.Wait()
	return results
}

func pushOne(addr string, name string, data []byte) (*message.Response, error) {
	pool := transport.NewDialPool(addr, 1, nil)
	defer pool.Close()

	borrowed, err := pool.Get()
	if err != nil {
		return nil, err
	}

	c := New(addr)
	c.SetTransport(borrowed)

	resp, err := func() (*message.Response, error) {
		resp, err := c.Connect()
		if err != nil {
			borrowed.MarkUnusable()
			return nil, err
		}
		if !resp.IsSuccess() {
			return resp, nil
		}

		resp, err = c.Put(name, data, nil, nil)
		if err != nil {
			borrowed.MarkUnusable()
			return nil, err
		}

		if _, derr := c.Disconnect(); derr != nil {
			borrowed.MarkUnusable()
			return resp, derr
		}
		return resp, nil
	}()

	pool.Put(borrowed)
	return resp, err
}
