package registry

import (
	"context"
	"testing"
	"time"
)

// requireEtcd skips the test if no etcd instance answers at localhost:2379.
// EtcdAdvertiser needs a live cluster to exercise; the rest of the package
// (LocalAdvertiser) is tested without one.
func requireEtcd(t *testing.T) *EtcdAdvertiser {
	t.Helper()
	adv, err := NewEtcdAdvertiser([]string{"localhost:2379"})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := adv.client.Get(ctx, "health-check"); err != nil {
		t.Skipf("no etcd reachable at localhost:2379: %v", err)
	}
	return adv
}

func TestAdvertiseAndDiscover(t *testing.T) {
	adv := requireEtcd(t)

	inst1 := Instance{Addr: "127.0.0.1:8001", Weight: 10, Version: "1.0"}
	inst2 := Instance{Addr: "127.0.0.1:8002", Weight: 5, Version: "1.0"}

	if err := adv.Advertise("OBEX-ObjectPush", inst1, 10); err != nil {
		t.Fatal(err)
	}
	if err := adv.Advertise("OBEX-ObjectPush", inst2, 10); err != nil {
		t.Fatal(err)
	}

	instances, err := adv.Discover("OBEX-ObjectPush")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	if err := adv.Withdraw("OBEX-ObjectPush", inst1.Addr); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)

	instances, err = adv.Discover("OBEX-ObjectPush")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 {
		t.Fatalf("expect 1 instance after withdraw, got %d", len(instances))
	}
	if instances[0].Addr != inst2.Addr {
		t.Fatalf("expect %s, got %s", inst2.Addr, instances[0].Addr)
	}

	adv.Withdraw("OBEX-ObjectPush", inst2.Addr)
}
