package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hotspare/internal/application/port"
	"hotspare/internal/domain/model"
	domsvc "hotspare/internal/domain/service"
	"hotspare/internal/infrastructure/kv/memory"
)

type stubStrategy struct {
	restored      bool
	restoredState *model.BotState
	restoredBook  map[string]*model.PositionRecord
	cycles        int
}

func (s *stubStrategy) Restore(ctx context.Context, state *model.BotState, positions map[string]*model.PositionRecord) error {
	s.restored = true
	s.restoredState = state
	s.restoredBook = positions
	return nil
}

func (s *stubStrategy) Cycle(ctx context.Context) error {
	s.cycles++
	return nil
}

// newTestController builds a controller against the shared store with
// aggressive timings so failover scenarios fit inside a test run.
func newTestController(t *testing.T, kv port.KV, id string, strat port.Strategy, ttl time.Duration) *Controller {
	t.Helper()
	c, err := NewController(
		ControllerConfig{
			BotName:            "testbot",
			InstanceID:         id,
			AcquireInterval:    10 * time.Millisecond,
			RenewInterval:      10 * time.Millisecond,
			PollInterval:       10 * time.Millisecond,
			StalenessThreshold: ttl / 2,
			OpTimeout:          200 * time.Millisecond,
			ShutdownGrace:      300 * time.Millisecond,
		},
		ControllerDeps{
			Locks:     domsvc.NewLockManager(kv, "testbot", id, ttl),
			Heartbeat: domsvc.NewHeartbeat(kv, "testbot", id, ttl),
			Snapshots: NewSnapshotService(kv, "testbot", time.Hour, time.Hour),
			Shutdown:  NewShutdownCoordinator(100 * time.Millisecond),
			Strategy:  strat,
		},
	)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	return c
}

func TestAcquireBecomesPrimary(t *testing.T) {
	kv := memory.New()
	strat := &stubStrategy{}
	a := newTestController(t, kv, "A", strat, time.Minute)
	ctx := context.Background()

	a.stepAcquire(ctx)

	if got := a.Role(); got != model.RolePrimary {
		t.Fatalf("role = %s, want PRIMARY", got)
	}
	if !a.CanTrade() {
		t.Fatal("primary must be allowed to trade")
	}
	if !strat.restored {
		t.Fatal("strategy restore must run on promotion")
	}
	if _, ok, _ := kv.Get(ctx, model.HeartbeatKey("testbot")); !ok {
		t.Fatal("promotion must write an initial heartbeat")
	}
}

func TestAcquireAgainstHeldLockGoesStandby(t *testing.T) {
	kv := memory.New()
	ctx := context.Background()

	a := newTestController(t, kv, "A", nil, time.Minute)
	b := newTestController(t, kv, "B", nil, time.Minute)

	a.stepAcquire(ctx)
	b.stepAcquire(ctx)

	if got := b.Role(); got != model.RoleStandby {
		t.Fatalf("B role = %s, want STANDBY", got)
	}
	if b.CanTrade() {
		t.Fatal("standby must not trade")
	}
}

func TestForcedDemotionOnLostLease(t *testing.T) {
	kv := memory.New()
	ctx := context.Background()

	a := newTestController(t, kv, "A", nil, time.Minute)
	a.stepAcquire(ctx)
	if a.Role() != model.RolePrimary {
		t.Fatal("A should be primary")
	}

	// The lock key is externally deleted and reclaimed by "X" while A
	// still believes itself primary.
	if err := kv.Delete(ctx, model.LockKey("testbot")); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	x := domsvc.NewLockManager(kv, "testbot", "X", time.Minute)
	if ok, _ := x.TryAcquire(ctx); !ok {
		t.Fatal("X failed to reclaim the lock")
	}

	a.stepPrimary(ctx)

	if got := a.Role(); got != model.RoleStandby {
		t.Fatalf("role after failed renew = %s, want STANDBY", got)
	}
	if a.CanTrade() {
		t.Fatal("demoted process must not trade")
	}
}

func TestStandbyPromotesOnStaleHeartbeat(t *testing.T) {
	kv := memory.New()
	ctx := context.Background()

	a := newTestController(t, kv, "A", nil, time.Minute)
	b := newTestController(t, kv, "B", nil, time.Minute)

	a.stepAcquire(ctx)
	b.stepAcquire(ctx)
	if b.Role() != model.RoleStandby {
		t.Fatal("B should be standby")
	}

	// A hands the lock back; its heartbeat key is wiped too, so B sees
	// staleness on its next poll.
	a.shutdown()
	if err := kv.Delete(ctx, model.HeartbeatKey("testbot")); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	b.stepStandby(ctx)
	if got := b.Role(); got != model.RoleAcquiring {
		t.Fatalf("B role after stale heartbeat = %s, want ACQUIRING", got)
	}
	b.stepAcquire(ctx)
	if got := b.Role(); got != model.RolePrimary {
		t.Fatalf("B role = %s, want PRIMARY", got)
	}
}

func TestCleanFailoverAfterPrimaryDeath(t *testing.T) {
	kv := memory.New()
	ctx := context.Background()
	ttl := 40 * time.Millisecond

	a := newTestController(t, kv, "A", nil, ttl)
	b := newTestController(t, kv, "B", nil, ttl)

	a.stepAcquire(ctx)
	b.stepAcquire(ctx)
	if a.Role() != model.RolePrimary || b.Role() != model.RoleStandby {
		t.Fatal("expected A primary, B standby")
	}

	// A dies without releasing: no renew, no beat. Lock and heartbeat
	// both lapse.
	time.Sleep(60 * time.Millisecond)

	b.stepStandby(ctx)
	if got := b.Role(); got != model.RoleAcquiring {
		t.Fatalf("B role after A's death = %s, want ACQUIRING", got)
	}
	b.stepAcquire(ctx)
	if got := b.Role(); got != model.RolePrimary {
		t.Fatalf("B role = %s, want PRIMARY", got)
	}
}

func TestPrimaryBeatCadenceHonored(t *testing.T) {
	kv := memory.New()
	ctx := context.Background()

	c, err := NewController(
		ControllerConfig{
			BotName:            "testbot",
			InstanceID:         "A",
			AcquireInterval:    10 * time.Millisecond,
			RenewInterval:      10 * time.Millisecond,
			PollInterval:       10 * time.Millisecond,
			HeartbeatInterval:  60 * time.Millisecond,
			StalenessThreshold: time.Minute,
			OpTimeout:          200 * time.Millisecond,
			ShutdownGrace:      300 * time.Millisecond,
		},
		ControllerDeps{
			Locks:     domsvc.NewLockManager(kv, "testbot", "A", time.Minute),
			Heartbeat: domsvc.NewHeartbeat(kv, "testbot", "A", time.Minute),
			Snapshots: NewSnapshotService(kv, "testbot", time.Hour, time.Hour),
			Shutdown:  NewShutdownCoordinator(100 * time.Millisecond),
		},
	)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	c.stepAcquire(ctx)
	first, ok, _ := kv.Get(ctx, model.HeartbeatKey("testbot"))
	if !ok {
		t.Fatal("promotion must write an initial heartbeat")
	}

	// Ticks inside the interval renew the lease but must not rewrite the
	// heartbeat.
	time.Sleep(10 * time.Millisecond)
	c.stepPrimary(ctx)
	if cur, _, _ := kv.Get(ctx, model.HeartbeatKey("testbot")); cur != first {
		t.Fatal("heartbeat rewritten before the interval elapsed")
	}

	time.Sleep(70 * time.Millisecond)
	c.stepPrimary(ctx)
	if cur, _, _ := kv.Get(ctx, model.HeartbeatKey("testbot")); cur == first {
		t.Fatal("heartbeat not refreshed once the interval elapsed")
	}
}

func TestGracefulHandoff(t *testing.T) {
	kv := memory.New()
	ctx := context.Background()

	a := newTestController(t, kv, "A", nil, time.Minute)
	a.stepAcquire(ctx)

	st := &model.BotState{
		Strategy: "momentum",
		Equity:   decimal.RequireFromString("9000.50"),
	}
	if err := a.OnStateChange(ctx, st); err != nil {
		t.Fatalf("OnStateChange failed: %v", err)
	}

	a.shutdown()
	if got := a.Role(); got != model.RoleShuttingDown {
		t.Fatalf("role = %s, want SHUTTING_DOWN", got)
	}
	if a.CanTrade() {
		t.Fatal("no trading during shutdown")
	}

	// The very next acquire attempt must succeed, no TTL wait.
	b := newTestController(t, kv, "B", nil, time.Minute)
	b.stepAcquire(ctx)
	if got := b.Role(); got != model.RolePrimary {
		t.Fatalf("B role = %s, want PRIMARY after release", got)
	}

	// The final flush survived the handoff.
	snaps := NewSnapshotService(kv, "testbot", time.Hour, time.Hour)
	out, err := snaps.LoadState(ctx)
	if err != nil || out == nil {
		t.Fatalf("final snapshot missing: %v", err)
	}
	if !out.Equity.Equal(st.Equity) {
		t.Fatalf("flushed equity = %s, want %s", out.Equity, st.Equity)
	}
}

func TestRecoveryHandsBookToStrategy(t *testing.T) {
	kv := memory.New()
	ctx := context.Background()

	a := newTestController(t, kv, "A", nil, time.Minute)
	a.stepAcquire(ctx)

	if err := a.OnStateChange(ctx, &model.BotState{Strategy: "momentum", PositionCount: 1}); err != nil {
		t.Fatalf("OnStateChange failed: %v", err)
	}
	rec := &model.PositionRecord{
		Quantity:   decimal.RequireFromString("0.5"),
		EntryPrice: decimal.RequireFromString("64000"),
	}
	if err := a.OnPositionChange(ctx, "BTCUSD", rec); err != nil {
		t.Fatalf("OnPositionChange failed: %v", err)
	}
	a.shutdown()

	strat := &stubStrategy{}
	b := newTestController(t, kv, "B", strat, time.Minute)
	b.stepAcquire(ctx)

	if !strat.restored {
		t.Fatal("restore must run")
	}
	if strat.restoredState == nil || strat.restoredState.Strategy != "momentum" {
		t.Fatalf("restored state = %+v, want the flushed snapshot", strat.restoredState)
	}
	got := strat.restoredBook["BTCUSD"]
	if got == nil || !got.Quantity.Equal(rec.Quantity) {
		t.Fatalf("restored book = %+v, want BTCUSD position", strat.restoredBook)
	}
}

func TestHooksRejectedWhileNotPrimary(t *testing.T) {
	kv := memory.New()
	ctx := context.Background()

	a := newTestController(t, kv, "A", nil, time.Minute)
	b := newTestController(t, kv, "B", nil, time.Minute)
	a.stepAcquire(ctx)
	b.stepAcquire(ctx) // standby

	if err := b.OnStateChange(ctx, &model.BotState{}); !errors.Is(err, ErrNotPrimary) {
		t.Fatalf("OnStateChange err = %v, want ErrNotPrimary", err)
	}
	if err := b.OnPositionChange(ctx, "BTCUSD", nil); !errors.Is(err, ErrNotPrimary) {
		t.Fatalf("OnPositionChange err = %v, want ErrNotPrimary", err)
	}
}

func TestClosedPositionDeletedViaHook(t *testing.T) {
	kv := memory.New()
	ctx := context.Background()

	a := newTestController(t, kv, "A", nil, time.Minute)
	a.stepAcquire(ctx)

	rec := &model.PositionRecord{Quantity: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100)}
	if err := a.OnPositionChange(ctx, "BTCUSD", rec); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := a.OnPositionChange(ctx, "BTCUSD", nil); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	snaps := NewSnapshotService(kv, "testbot", time.Hour, time.Hour)
	book, err := snaps.LoadPositions(ctx)
	if err != nil {
		t.Fatalf("LoadPositions failed: %v", err)
	}
	if _, ok := book["BTCUSD"]; ok {
		t.Fatal("closed position still recoverable")
	}
}

func TestRunLoopShutdownOnCancel(t *testing.T) {
	kv := memory.New()
	a := newTestController(t, kv, "A", nil, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = a.Run(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for a.Role() != model.RolePrimary {
		select {
		case <-deadline:
			t.Fatal("controller never became primary")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if got := a.Role(); got != model.RoleShuttingDown {
		t.Fatalf("role = %s, want SHUTTING_DOWN", got)
	}
	if _, ok, _ := kv.Get(context.Background(), model.LockKey("testbot")); ok {
		t.Fatal("lock still held after shutdown")
	}
}
