package service

import (
	"context"
	"testing"
	"time"

	"hotspare/internal/infrastructure/kv/memory"
)

func TestHeartbeatFreshAfterBeat(t *testing.T) {
	kv := memory.New()
	ctx := context.Background()
	hb := NewHeartbeat(kv, "testbot", "A", time.Minute)

	if err := hb.Beat(ctx); err != nil {
		t.Fatalf("beat failed: %v", err)
	}

	stale, err := hb.IsStale(ctx, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("IsStale failed: %v", err)
	}
	if stale {
		t.Fatal("heartbeat stale immediately after a beat")
	}
}

func TestHeartbeatStaleAfterThreshold(t *testing.T) {
	kv := memory.New()
	ctx := context.Background()
	hb := NewHeartbeat(kv, "testbot", "A", time.Minute)

	if err := hb.Beat(ctx); err != nil {
		t.Fatalf("beat failed: %v", err)
	}
	time.Sleep(40 * time.Millisecond)

	stale, err := hb.IsStale(ctx, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("IsStale failed: %v", err)
	}
	if !stale {
		t.Fatal("heartbeat should be stale past the threshold")
	}

	// A fresh beat resets staleness.
	if err := hb.Beat(ctx); err != nil {
		t.Fatalf("beat failed: %v", err)
	}
	stale, _ = hb.IsStale(ctx, 20*time.Millisecond)
	if stale {
		t.Fatal("heartbeat stale right after a new beat")
	}
}

func TestHeartbeatAbsentIsStale(t *testing.T) {
	kv := memory.New()
	hb := NewHeartbeat(kv, "testbot", "A", time.Minute)

	stale, err := hb.IsStale(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("IsStale failed: %v", err)
	}
	if !stale {
		t.Fatal("absent heartbeat must read as stale")
	}
}

func TestHeartbeatExpiredKeyIsStale(t *testing.T) {
	kv := memory.New()
	ctx := context.Background()
	hb := NewHeartbeat(kv, "testbot", "A", 20*time.Millisecond)

	if err := hb.Beat(ctx); err != nil {
		t.Fatalf("beat failed: %v", err)
	}
	time.Sleep(40 * time.Millisecond) // TTL drops the key

	stale, err := hb.IsStale(ctx, time.Hour)
	if err != nil {
		t.Fatalf("IsStale failed: %v", err)
	}
	if !stale {
		t.Fatal("expired heartbeat key must read as stale regardless of threshold")
	}
}

func TestHeartbeatAge(t *testing.T) {
	kv := memory.New()
	ctx := context.Background()
	hb := NewHeartbeat(kv, "testbot", "A", time.Minute)

	if _, known, _ := hb.Age(ctx); known {
		t.Fatal("age should be unknown before the first beat")
	}

	if err := hb.Beat(ctx); err != nil {
		t.Fatalf("beat failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	age, known, err := hb.Age(ctx)
	if err != nil {
		t.Fatalf("Age failed: %v", err)
	}
	if !known {
		t.Fatal("age should be known after a beat")
	}
	if age < 20*time.Millisecond {
		t.Fatalf("age %v shorter than elapsed time", age)
	}
}
