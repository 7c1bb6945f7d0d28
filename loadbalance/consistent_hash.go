package loadbalance

import (
	"fmt"
	"hash/crc32"
	"net"
	"sort"
)

// ConsistentHashBalancer maps keys (peer addresses) to workers using a hash
// ring. The same key always maps to the same worker (until the ring
// changes) — session affinity for a profile whose handler keeps per-peer
// state (e.g. a SyncML session) across reconnects.
//
// Virtual nodes: each real worker is mapped to N virtual nodes on the ring.
// Without virtual nodes, a handful of workers might cluster together on the
// ring, causing uneven load distribution. 100 virtual nodes per worker
// ensures statistical uniformity.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int             // Virtual nodes per real worker
	ring     []uint32        // Sorted hash values on the ring
	nodes    map[uint32]*Worker // Hash value → worker mapping
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per worker.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		ring:     []uint32{},
		nodes:    make(map[uint32]*Worker),
	}
}

// Add places a worker onto the hash ring with N virtual nodes.
// Each virtual node is hashed from "{id}#{i}" to spread evenly across the ring.
func (b *ConsistentHashBalancer) Add(worker *Worker) {
	for i := 0; i < b.replicas; i++ {
		key := fmt.Sprintf("%s#%d", worker.ID, i)
		hash := crc32.ChecksumIEEE([]byte(key))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = worker
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// Pick finds the worker responsible for the given key — typically a
// peer's remote address. It hashes deviceKey(key), then binary-searches
// for the first node >= hash on the ring. If the hash is larger than all
// nodes, it wraps around to the first node (ring property).
//
// Pick takes a string key rather than a []Worker because consistent
// hashing is key-based — it does not implement the Balancer interface.
func (b *ConsistentHashBalancer) Pick(key string) (*Worker, error) {
	if len(b.ring) == 0 {
		return nil, fmt.Errorf("no workers available")
	}

	hash := crc32.ChecksumIEEE([]byte(deviceKey(key)))

	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})

	if idx == len(b.ring) {
		idx = 0
	}

	return b.nodes[b.ring[idx]], nil
}

// deviceKey strips the ephemeral port from a "host:port" peer address
// before hashing, falling back to the raw key if it isn't in that form.
// A Bluetooth-backed gateway's RFCOMM reconnect (or a TCP stand-in
// redialing after a drop) typically keeps the same device address but
// gets a new port/channel each time; hashing on the port as well as the
// host would scatter one device's sessions across different workers on
// every reconnect instead of the one worker its affinity is meant to
// pin it to.
func deviceKey(key string) string {
	host, _, err := net.SplitHostPort(key)
	if err != nil {
		return key
	}
	return host
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
