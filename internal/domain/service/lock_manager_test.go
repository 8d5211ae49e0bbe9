package service

import (
	"context"
	"testing"
	"time"

	"hotspare/internal/infrastructure/kv/memory"
)

func TestLockMutualExclusion(t *testing.T) {
	kv := memory.New()
	ctx := context.Background()

	a := NewLockManager(kv, "testbot", "A", time.Minute)
	b := NewLockManager(kv, "testbot", "B", time.Minute)

	okA, err := a.TryAcquire(ctx)
	if err != nil {
		t.Fatalf("TryAcquire A failed: %v", err)
	}
	if !okA {
		t.Fatal("A should have acquired a free lock")
	}

	okB, err := b.TryAcquire(ctx)
	if err != nil {
		t.Fatalf("TryAcquire B failed: %v", err)
	}
	if okB {
		t.Fatal("B must not acquire while A holds the lock")
	}
}

func TestLockRenewalKeepsLease(t *testing.T) {
	kv := memory.New()
	ctx := context.Background()

	a := NewLockManager(kv, "testbot", "A", 60*time.Millisecond)
	b := NewLockManager(kv, "testbot", "B", 60*time.Millisecond)

	if ok, _ := a.TryAcquire(ctx); !ok {
		t.Fatal("A failed to acquire")
	}

	// Renew inside the lease window a few times; B must stay locked out
	// the whole time.
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		ok, err := a.Renew(ctx)
		if err != nil {
			t.Fatalf("renew %d failed: %v", i, err)
		}
		if !ok {
			t.Fatalf("renew %d lost a live lease", i)
		}
		if ok, _ := b.TryAcquire(ctx); ok {
			t.Fatal("B acquired while A was renewing in time")
		}
	}
}

func TestLockExpiryAllowsTakeover(t *testing.T) {
	kv := memory.New()
	ctx := context.Background()

	a := NewLockManager(kv, "testbot", "A", 40*time.Millisecond)
	b := NewLockManager(kv, "testbot", "B", 40*time.Millisecond)

	if ok, _ := a.TryAcquire(ctx); !ok {
		t.Fatal("A failed to acquire")
	}

	time.Sleep(60 * time.Millisecond) // let the lease lapse

	ok, err := b.TryAcquire(ctx)
	if err != nil {
		t.Fatalf("TryAcquire B failed: %v", err)
	}
	if !ok {
		t.Fatal("B should claim an expired lock")
	}

	// A's renew must now report the lease as lost.
	ok, err = a.Renew(ctx)
	if err != nil {
		t.Fatalf("renew failed: %v", err)
	}
	if ok {
		t.Fatal("A renewed a lock that B now holds")
	}
}

func TestLockReleaseEnablesImmediateTakeover(t *testing.T) {
	kv := memory.New()
	ctx := context.Background()

	a := NewLockManager(kv, "testbot", "A", time.Minute)
	b := NewLockManager(kv, "testbot", "B", time.Minute)

	if ok, _ := a.TryAcquire(ctx); !ok {
		t.Fatal("A failed to acquire")
	}
	if err := a.Release(ctx); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	ok, err := b.TryAcquire(ctx)
	if err != nil {
		t.Fatalf("TryAcquire B failed: %v", err)
	}
	if !ok {
		t.Fatal("B should acquire immediately after release, no TTL wait")
	}
}

func TestLockReleaseWithoutHold(t *testing.T) {
	kv := memory.New()
	a := NewLockManager(kv, "testbot", "A", time.Minute)

	if err := a.Release(context.Background()); err != ErrNotHeld {
		t.Fatalf("expected ErrNotHeld, got %v", err)
	}
}

func TestLockRenewAfterExternalReplacement(t *testing.T) {
	kv := memory.New()
	ctx := context.Background()

	a := NewLockManager(kv, "testbot", "A", time.Minute)
	if ok, _ := a.TryAcquire(ctx); !ok {
		t.Fatal("A failed to acquire")
	}

	// Simulate the lock being reclaimed out from under A.
	x := NewLockManager(kv, "testbot", "X", time.Minute)
	if err := kv.Delete(ctx, "bot:testbot:primary_lock"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if ok, _ := x.TryAcquire(ctx); !ok {
		t.Fatal("X failed to reclaim")
	}

	ok, err := a.Renew(ctx)
	if err != nil {
		t.Fatalf("renew failed: %v", err)
	}
	if ok {
		t.Fatal("A must not renew a lock held by X")
	}

	// A releasing now must not destroy X's lock.
	_ = a.Release(ctx)
	if ok, _ := x.Renew(ctx); !ok {
		t.Fatal("X's lock was destroyed by A's release")
	}
}
