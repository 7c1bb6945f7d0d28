// Package registry provides the etcd-based implementation of the
// Advertiser interface.
//
// etcd is a distributed key-value store that provides strong consistency
// (Raft protocol). We use it as a "distributed phonebook" for OBEX gateway
// processes:
//
//	Key:   /obex/{profile}/{Addr}
//	Value: JSON-encoded Instance
//
// Advertisement uses TTL-based leases: if the gateway process crashes, the
// lease expires and the entry is automatically removed — preventing
// "ghost" instances.
package registry

import (
	"context"
	"encoding/json"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Advertise leases are clamped to this window. A gateway fronting a
// Bluetooth radio can go quiet for a few seconds on a routine link reset
// without actually being down, so a TTL below minAdvertiseTTL would flap
// the advertisement on every minor radio hiccup; a TTL above
// maxAdvertiseTTL leaves a genuinely crashed gateway looking live for too
// long. Callers outside this window are clamped rather than rejected —
// Advertise runs on a gateway's startup path, where failing outright over
// a bad TTL argument would keep it from serving at all.
const (
	minAdvertiseTTL int64 = 5
	maxAdvertiseTTL int64 = 300
)

// watchDebounce coalesces a burst of etcd watch events into a single
// Discover call. A Bluetooth adapter reset can knock several gateway
// processes off the same host within milliseconds of each other, each
// withdrawing and re-advertising; without debouncing, Watch would issue
// one etcd Get per event in that burst instead of one per settled
// topology change.
const watchDebounce = 200 * time.Millisecond

// EtcdAdvertiser implements Advertiser using etcd v3.
type EtcdAdvertiser struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
}

// NewEtcdAdvertiser creates a new advertiser connected to the given etcd endpoints.
func NewEtcdAdvertiser(endpoints []string) (*EtcdAdvertiser, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdAdvertiser{client: c}, nil
}

func clampTTL(ttlSeconds int64) int64 {
	switch {
	case ttlSeconds < minAdvertiseTTL:
		return minAdvertiseTTL
	case ttlSeconds > maxAdvertiseTTL:
		return maxAdvertiseTTL
	default:
		return ttlSeconds
	}
}

func instanceKey(profile, addr string) string {
	return "/obex/" + profile + "/" + addr
}

// Advertise adds an instance to etcd with a TTL lease, clamped to
// [minAdvertiseTTL, maxAdvertiseTTL].
//
// Flow:
//  1. Create a lease with the clamped TTL
//  2. Put the key-value pair with the lease attached
//  3. Start KeepAlive to automatically renew the lease
//
// Note: leaseID is a local variable, NOT stored on the struct. This
// prevents a data race when multiple gateways share one EtcdAdvertiser
// instance.
func (r *EtcdAdvertiser) Advertise(profile string, instance Instance, ttlSeconds int64) error {
	ctx := context.TODO()

	lease, err := r.client.Grant(ctx, clampTTL(ttlSeconds))
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, instanceKey(profile, instance.Addr), string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	// Start background lease renewal — KeepAlive sends heartbeats to etcd
	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}

	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Withdraw removes an instance from etcd.
// Called during graceful shutdown before closing the listener.
func (r *EtcdAdvertiser) Withdraw(profile string, addr string) error {
	ctx := context.TODO()
	_, err := r.client.Delete(ctx, instanceKey(profile, addr))
	if err != nil {
		return err
	}
	return nil
}

// Watch monitors a profile prefix in etcd and emits updated instance lists
// whenever changes settle — a contiguous burst of watch events is
// collapsed into one Discover call fired watchDebounce after the last
// event in the burst, rather than one Discover per raw event.
func (r *EtcdAdvertiser) Watch(profile string) <-chan []Instance {
	ctx := context.TODO()
	out := make(chan []Instance, 1)
	prefix := "/obex/" + profile + "/"

	go func() {
		watchChan := r.client.Watch(ctx, prefix, clientv3.WithPrefix())
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case _, ok := <-watchChan:
				if !ok {
					return
				}
				if timer == nil {
					timer = time.NewTimer(watchDebounce)
				} else {
					// Drain only a fire that has not been received yet; once
					// the fire case has taken it, the channel is empty.
					if !timer.Stop() && fire != nil {
						<-timer.C
					}
					timer.Reset(watchDebounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				instances, err := r.Discover(profile)
				if err != nil {
					continue
				}
				select {
				case out <- instances:
				default:
					// Slow consumer — drop this settled snapshot rather than
					// block the watch loop; the next settle will catch up.
				}
			}
		}
	}()

	return out
}

// Discover returns all currently advertised instances for a profile.
// Queries etcd with a key prefix to find all instances under /obex/{profile}/.
func (r *EtcdAdvertiser) Discover(profile string) ([]Instance, error) {
	ctx := context.TODO()
	prefix := "/obex/" + profile + "/"

	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance Instance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // Skip malformed entries
		}
		instances = append(instances, instance)
	}

	return instances, nil
}
