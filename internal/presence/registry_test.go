package presence

import (
	"sync"
	"testing"
)

func TestRegistry_RegisterUnregisterLifecycle(t *testing.T) {
	r := NewRegistry()

	r.Register("u1", "c1")
	r.Register("u1", "c2")

	if !r.IsOnline("u1") {
		t.Fatalf("expected u1 online with two connections")
	}
	if got := r.ConnectionCount("u1"); got != 2 {
		t.Fatalf("expected 2 connections, got %d", got)
	}

	r.Unregister("c1")
	if !r.IsOnline("u1") {
		t.Fatalf("expected u1 still online after closing one connection")
	}
	if got := r.ConnectionCount("u1"); got != 1 {
		t.Fatalf("expected 1 connection, got %d", got)
	}

	r.Unregister("c2")
	if r.IsOnline("u1") {
		t.Fatalf("expected u1 offline after closing all connections")
	}
	for _, id := range r.OnlineIdentityIDs() {
		if id == "u1" {
			t.Fatalf("expected u1 absent from online identities")
		}
	}
}

func TestRegistry_UnregisterUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Unregister("never-registered")

	if len(r.OnlineIdentityIDs()) != 0 {
		t.Fatalf("expected empty registry")
	}
}

func TestRegistry_StatsAndConnections(t *testing.T) {
	r := NewRegistry()
	r.Register("u1", "c1")
	r.Register("u1", "c2")
	r.Register("u2", "c3")

	stats := r.Stats()
	if stats["u1"] != 2 || stats["u2"] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if got := len(r.Connections("u1")); got != 2 {
		t.Fatalf("expected 2 connection ids for u1, got %d", got)
	}
	if r.Connections("u3") != nil {
		t.Fatalf("expected nil connections for unknown identity")
	}
}

// Los mapas forward y reverse deben quedar consistentes bajo mutacion
// concurrente de muchos accepts y closes.
func TestRegistry_ConcurrentMutation(t *testing.T) {
	r := NewRegistry()

	const workers = 16
	const perWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			identity := "u" + string(rune('a'+w%4))
			for i := 0; i < perWorker; i++ {
				connID := identity + "-" + string(rune('a'+w)) + "-" + string(rune('0'+i%10))
				r.Register(identity, connID)
				r.Unregister(connID)
			}
		}(w)
	}
	wg.Wait()

	if got := len(r.OnlineIdentityIDs()); got != 0 {
		t.Fatalf("expected empty registry after paired register/unregister, got %d identities", got)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.reverse) != 0 {
		t.Fatalf("reverse map leaked %d entries", len(r.reverse))
	}
}
