package loadbalance

import (
	"fmt"
	"math/rand"
	"sync/atomic"
)

// RoundRobinBalancer and WeightedRandomBalancer carry no OBEX-specific
// behavior — picking the next worker in order, or picking one proportional
// to a weight, has nothing to do with what a worker does with the
// connection once it has it. They're kept as plain generic distribution
// utilities rather than adapted further; ConsistentHashBalancer, in
// consistent_hash.go, is where this package's OBEX-specific logic (device
// affinity across reconnects) actually lives.

// RoundRobinBalancer cycles through workers in order using an atomic
// counter, for a fixed set of equal-capacity shards.
type RoundRobinBalancer struct {
	counter int64
}

func (b *RoundRobinBalancer) Pick(workers []Worker) (*Worker, error) {
	if len(workers) == 0 {
		return nil, fmt.Errorf("no workers available")
	}
	index := atomic.AddInt64(&b.counter, 1) % int64(len(workers))
	return &workers[index], nil
}

func (b *RoundRobinBalancer) Name() string { return "RoundRobin" }

// WeightedRandomBalancer picks a worker at random, weighted by Worker.Weight
// (a worker with weight 10 gets roughly 2x the picks of one with weight 5),
// for a fixed set of heterogeneous-capacity shards.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(workers []Worker) (*Worker, error) {
	if len(workers) == 0 {
		return nil, fmt.Errorf("no workers available")
	}

	total := 0
	for _, w := range workers {
		total += w.Weight
	}

	r := rand.Intn(total)
	for i := range workers {
		r -= workers[i].Weight
		if r < 0 {
			return &workers[i], nil
		}
	}
	return nil, fmt.Errorf("unexpected error in weighted random selection")
}

func (b *WeightedRandomBalancer) Name() string { return "WeightedRandom" }
