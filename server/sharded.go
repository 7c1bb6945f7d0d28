package server

import (
	"log"

	"github.com/boddie-obex/obex/loadbalance"
	"github.com/boddie-obex/obex/middleware"
	"github.com/boddie-obex/obex/registry"
	"github.com/boddie-obex/obex/transport"
)

// ShardPicker selects which worker owns an accepted connection, given its
// peer address. A closure over loadbalance.ConsistentHashBalancer.Pick
// gives true session affinity (repeat connections from the same device
// land on the same worker); a closure over RoundRobinBalancer/
// WeightedRandomBalancer.Pick (ignoring the address) spreads connections
// without affinity.
type ShardPicker func(peerAddr string) (*loadbalance.Worker, error)

// ServeSharded is an alternative to ServeListener's unbounded
// goroutine-per-connection accept loop: every accepted connection is
// routed, via pick, to one of a fixed set of worker goroutines — one
// queue per entry in workers, in the same order — instead of spawning a
// new goroutine per session. This bounds concurrent in-flight OBEX
// sessions on resource-constrained hosts (e.g. a Bluetooth gateway
// multiplexing many phones against a handful of workers) while preserving
// the per-session sequential-processing invariant: a worker runs one
// session until its connection ends before starting its next queued
// connection.
func (svr *Server) ServeSharded(ln transport.Listener, workers []loadbalance.Worker, pick ShardPicker) error {
	svr.listener = ln
	svr.handler = middleware.Chain(svr.middlewares...)(svr.dispatch)

	if svr.advertiser != nil {
		if err := svr.advertiser.Advertise(svr.profile, registry.Instance{Addr: svr.advertiseAddr}, 10); err != nil {
			log.Printf("obex: failed to advertise %s at %s: %v", svr.profile, svr.advertiseAddr, err)
		}
	}

	index := make(map[string]int, len(workers))
	queues := make([]chan transport.Transport, len(workers))
	for i, w := range workers {
		index[w.ID] = i
		queues[i] = make(chan transport.Transport, 16)
		svr.wg.Add(1)
		go func(queue chan transport.Transport) {
			defer svr.wg.Done()
			for t := range queue {
				svr.handleConn(t)
			}
		}(queues[i])
	}
	defer func() {
		for _, q := range queues {
			close(q)
		}
	}()

	for {
		t, err := ln.Accept()
		if err != nil {
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}

		peerAddr := peerAddrOf(t)
		w, err := pick(peerAddr)
		if err != nil {
			log.Printf("obex: no worker available for %s: %v", peerAddr, err)
			t.Close()
			continue
		}
		idx, ok := index[w.ID]
		if !ok {
			log.Printf("obex: picker returned unknown worker %q for %s", w.ID, peerAddr)
			t.Close()
			continue
		}
		queues[idx] <- t
	}
}
