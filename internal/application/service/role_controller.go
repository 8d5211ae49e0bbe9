package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"hotspare/internal/application/port"
	"hotspare/internal/domain/model"
	domsvc "hotspare/internal/domain/service"
)

// ErrNotPrimary is returned by the persistence hooks when this process
// does not currently hold the primary role.
var ErrNotPrimary = errors.New("not primary")

// ControllerConfig carries the tick intervals and thresholds. Config
// validation guarantees RenewInterval < the lock lease and OpTimeout
// shorter than any TTL, so a slow store cannot eat a renewal deadline
// the process could otherwise have met.
type ControllerConfig struct {
	BotName    string
	InstanceID string

	AcquireInterval    time.Duration
	RenewInterval      time.Duration
	PollInterval       time.Duration
	StalenessThreshold time.Duration

	// HeartbeatInterval is the cadence of liveness writes while
	// primary. Beats happen on renew ticks, so the real gap between two
	// beats can stretch to HeartbeatInterval plus one RenewInterval;
	// config validation keeps that worst case inside the heartbeat TTL.
	// Zero beats on every tick.
	HeartbeatInterval time.Duration

	// StateStaleAfter flags a recovered snapshot whose embedded
	// timestamp is older than this; zero disables the check.
	StateStaleAfter time.Duration

	OpTimeout     time.Duration
	ShutdownGrace time.Duration
}

type ControllerDeps struct {
	Locks      *domsvc.LockManager
	Heartbeat  *domsvc.Heartbeat
	Snapshots  *SnapshotService
	Shutdown   *ShutdownCoordinator
	Reconciler *Reconciler

	// Optional collaborators.
	Journal  port.Journal
	Strategy port.Strategy
	Instr    *Instrumentation
}

// Controller is the per-process role state machine:
//
//	ACQUIRING -> PRIMARY   (lock claimed)
//	ACQUIRING -> STANDBY   (lock held elsewhere, or store unreachable)
//	PRIMARY   -> STANDBY   (failed renew: lease lost)
//	STANDBY   -> ACQUIRING (heartbeat stale)
//	any       -> SHUTTING_DOWN (terminal)
//
// Two independent processes run this loop against the same store; the
// store's atomic set-if-absent is the only synchronization between
// them. Any doubt (store error, failed renew) resolves to standby.
type Controller struct {
	cfg  ControllerConfig
	deps ControllerDeps

	mu        sync.RWMutex
	role      model.Role
	lastState *model.BotState

	// lastBeat is touched only by the run-loop goroutine.
	lastBeat time.Time
}

func NewController(cfg ControllerConfig, deps ControllerDeps) (*Controller, error) {
	switch {
	case deps.Locks == nil:
		return nil, errors.New("controller: lock manager is required")
	case deps.Heartbeat == nil:
		return nil, errors.New("controller: heartbeat is required")
	case deps.Snapshots == nil:
		return nil, errors.New("controller: snapshot service is required")
	case deps.Shutdown == nil:
		return nil, errors.New("controller: shutdown coordinator is required")
	}
	if deps.Reconciler == nil {
		deps.Reconciler = NewReconciler(nil)
	}
	return &Controller{
		cfg:  cfg,
		deps: deps,
		role: model.RoleAcquiring,
	}, nil
}

// Role returns the most recently computed role.
func (c *Controller) Role() model.Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// CanTrade is the single gating query the strategy must consult before
// every order-affecting action. It always reflects the latest computed
// role; callers must not cache it across a tick boundary.
func (c *Controller) CanTrade() bool {
	return c.Role() == model.RolePrimary
}

// RegisterShutdownHandler adds a cleanup callback (flatten risk, cancel
// open orders) to run before the process exits.
func (c *Controller) RegisterShutdownHandler(name string, fn func(ctx context.Context) error) {
	c.deps.Shutdown.Register(name, fn)
}

// OnStateChange persists a new bot snapshot. Rejected while not
// primary so a demoted process can never clobber its successor's state.
func (c *Controller) OnStateChange(ctx context.Context, st *model.BotState) error {
	if !c.CanTrade() {
		return ErrNotPrimary
	}
	opCtx, cancel := c.opCtx(ctx)
	defer cancel()
	if err := c.deps.Snapshots.SaveState(opCtx, st); err != nil {
		c.deps.Instr.onSnapshotError()
		return err
	}
	c.mu.Lock()
	c.lastState = st
	c.mu.Unlock()
	return nil
}

// OnPositionChange persists a position update; a nil record means the
// position closed and its record must be deleted so recovery can never
// resurrect it.
func (c *Controller) OnPositionChange(ctx context.Context, symbol string, rec *model.PositionRecord) error {
	if !c.CanTrade() {
		return ErrNotPrimary
	}
	opCtx, cancel := c.opCtx(ctx)
	defer cancel()
	if rec == nil {
		return c.deps.Snapshots.DeletePosition(opCtx, symbol)
	}
	return c.deps.Snapshots.SavePosition(opCtx, symbol, rec)
}

// Run drives the state machine until ctx is cancelled, then walks the
// shutdown sequence and returns.
func (c *Controller) Run(ctx context.Context) error {
	log.Info().
		Str("component", "controller").
		Str("bot", c.cfg.BotName).
		Str("instance", c.cfg.InstanceID).
		Msg("role controller started")

	for {
		if ctx.Err() != nil {
			c.shutdown()
			return nil
		}

		switch c.Role() {
		case model.RoleAcquiring:
			c.stepAcquire(ctx)
		case model.RolePrimary:
			c.stepPrimary(ctx)
		case model.RoleStandby:
			c.stepStandby(ctx)
		case model.RoleShuttingDown:
			return nil
		}

		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case <-time.After(c.tickInterval()):
		}
	}
}

func (c *Controller) tickInterval() time.Duration {
	switch c.Role() {
	case model.RolePrimary:
		return c.cfg.RenewInterval
	case model.RoleStandby:
		return c.cfg.PollInterval
	default:
		return c.cfg.AcquireInterval
	}
}

// stepAcquire attempts to claim the lock. Store errors resolve to
// standby: a process that cannot reach the arbiter must never assume
// anything.
func (c *Controller) stepAcquire(ctx context.Context) {
	opCtx, cancel := c.opCtx(ctx)
	ok, err := c.deps.Locks.TryAcquire(opCtx)
	cancel()
	if err != nil {
		c.setRole(model.RoleStandby, "store unreachable during acquire")
		log.Warn().Err(err).Str("component", "controller").Msg("acquire failed")
		return
	}
	if !ok {
		c.setRole(model.RoleStandby, "lock held elsewhere")
		return
	}

	c.recoverState(ctx)

	// First beat before announcing the role, so a peer polling right
	// now already sees a fresh heartbeat.
	opCtx, cancel = c.opCtx(ctx)
	if err := c.deps.Heartbeat.Beat(opCtx); err != nil {
		log.Warn().Err(err).Str("component", "controller").Msg("initial heartbeat failed")
	} else {
		c.lastBeat = time.Now()
	}
	cancel()

	c.setRole(model.RolePrimary, "lock acquired")
}

// stepPrimary renews the lease and beats the heartbeat. A failed renew
// demotes before anything else: logging, journaling and metrics all
// come after the role swap, so no order can be placed on a dead lease.
func (c *Controller) stepPrimary(ctx context.Context) {
	opCtx, cancel := c.opCtx(ctx)
	ok, err := c.deps.Locks.Renew(opCtx)
	cancel()
	if err != nil || !ok {
		reason := "lease lost"
		if err != nil {
			reason = "store unreachable during renew"
		}
		c.setRole(model.RoleStandby, reason)
		c.deps.Instr.onRenewFailed()
		log.Error().Err(err).Str("component", "controller").Msg("renew failed, demoted")
		return
	}

	if time.Since(c.lastBeat) >= c.cfg.HeartbeatInterval {
		opCtx, cancel = c.opCtx(ctx)
		if err := c.deps.Heartbeat.Beat(opCtx); err != nil {
			// Liveness write failure is not a demotion by itself; the
			// renew above is the authority. The standby will see
			// staleness if this keeps failing. lastBeat stays put so
			// the next tick retries immediately.
			log.Warn().Err(err).Str("component", "controller").Msg("heartbeat write failed")
		} else {
			c.lastBeat = time.Now()
		}
		cancel()
	}

	if c.deps.Strategy != nil {
		if err := c.deps.Strategy.Cycle(ctx); err != nil {
			log.Error().Err(err).Str("component", "controller").Msg("strategy cycle failed")
		}
	}

	c.refreshSnapshot(ctx)
}

// stepStandby probes heartbeat staleness. A probe error keeps us
// standby (fail closed); staleness moves us to acquiring.
func (c *Controller) stepStandby(ctx context.Context) {
	opCtx, cancel := c.opCtx(ctx)
	age, known, err := c.deps.Heartbeat.Age(opCtx)
	cancel()
	if err != nil {
		log.Warn().Err(err).Str("component", "controller").Msg("heartbeat probe failed")
		return
	}
	if known {
		c.deps.Instr.onHeartbeatAge(age)
	}
	if !known || age > c.cfg.StalenessThreshold {
		c.setRole(model.RoleAcquiring, "heartbeat stale")
	}
}

// recoverState loads the prior snapshot and position records, then
// reconciles them against the broker. Everything here is best-effort: a
// missing or stale snapshot is a degraded recovery, not a failure.
func (c *Controller) recoverState(ctx context.Context) {
	opCtx, cancel := c.opCtx(ctx)
	st, err := c.deps.Snapshots.LoadState(opCtx)
	cancel()
	switch {
	case err != nil:
		log.Warn().Err(err).Str("component", "controller").Msg("no recovered state available")
		st = nil
	case st == nil:
		log.Info().Str("component", "controller").Msg("no prior snapshot, starting fresh")
	case c.cfg.StateStaleAfter > 0 && time.Since(st.UpdatedAt()) > c.cfg.StateStaleAfter:
		log.Warn().
			Time("snapshot_at", st.UpdatedAt()).
			Str("component", "controller").
			Msg("recovered snapshot is stale, treat with suspicion")
	}

	opCtx, cancel = c.opCtx(ctx)
	recovered, err := c.deps.Snapshots.LoadPositions(opCtx)
	cancel()
	if err != nil {
		log.Warn().Err(err).Str("component", "controller").Msg("position recovery failed, book starts empty")
		recovered = map[string]*model.PositionRecord{}
	}

	opCtx, cancel = c.opCtx(ctx)
	positions, err := c.deps.Reconciler.Reconcile(opCtx, recovered)
	cancel()
	if err != nil {
		log.Warn().Err(err).Str("component", "controller").Msg("broker reconciliation failed, using recovered records")
		positions = recovered
	}

	if c.deps.Strategy != nil {
		if err := c.deps.Strategy.Restore(ctx, st, positions); err != nil {
			log.Error().Err(err).Str("component", "controller").Msg("strategy restore failed")
		}
	}

	c.mu.Lock()
	c.lastState = st
	c.mu.Unlock()

	log.Info().
		Int("positions", len(positions)).
		Bool("snapshot", st != nil).
		Str("component", "controller").
		Msg("state recovered")
}

// refreshSnapshot re-saves the latest known snapshot each primary tick
// so its TTL tracks liveness even when the strategy made no changes.
func (c *Controller) refreshSnapshot(ctx context.Context) {
	c.mu.RLock()
	st := c.lastState
	c.mu.RUnlock()
	if st == nil {
		return
	}

	cp := *st
	cp.UpdatedAtMs = time.Now().UnixMilli()

	opCtx, cancel := c.opCtx(ctx)
	defer cancel()
	if err := c.deps.Snapshots.SaveState(opCtx, &cp); err != nil {
		c.deps.Instr.onSnapshotError()
		log.Warn().Err(err).Str("component", "controller").Msg("snapshot refresh failed")
		return
	}
	c.mu.Lock()
	c.lastState = &cp
	c.mu.Unlock()
}

// shutdown walks the ordered exit sequence: stop trading decisions,
// run registered handlers, flush a final snapshot, release the lock if
// we hold it. Every step is best-effort and bounded; delaying exit
// risks holding the lock past its useful lease.
func (c *Controller) shutdown() {
	wasPrimary := c.Role() == model.RolePrimary
	c.setRole(model.RoleShuttingDown, "termination signal")

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownGrace)
	defer cancel()

	c.deps.Shutdown.Execute(ctx,
		func(ctx context.Context) error { return c.flushFinalState(ctx) },
		func(ctx context.Context) error {
			if !wasPrimary {
				return nil
			}
			if err := c.deps.Locks.Release(ctx); err != nil && !errors.Is(err, domsvc.ErrNotHeld) {
				return fmt.Errorf("release lock: %w", err)
			}
			log.Info().Str("component", "controller").Msg("primary lock released")
			return nil
		},
	)

	log.Info().Str("component", "controller").Msg("shutdown complete")
}

func (c *Controller) flushFinalState(ctx context.Context) error {
	c.mu.RLock()
	st := c.lastState
	c.mu.RUnlock()
	if st == nil {
		return nil
	}
	cp := *st
	cp.UpdatedAtMs = time.Now().UnixMilli()
	return c.deps.Snapshots.SaveState(ctx, &cp)
}

// setRole swaps the role under lock first; journaling, metrics and
// logging all happen after the swap so CanTrade flips before any other
// side effect.
func (c *Controller) setRole(to model.Role, reason string) {
	c.mu.Lock()
	from := c.role
	if from == to {
		c.mu.Unlock()
		return
	}
	c.role = to
	c.mu.Unlock()

	log.Info().
		Str("component", "controller").
		Str("from", from.String()).
		Str("to", to.String()).
		Str("reason", reason).
		Msg("role transition")

	c.deps.Instr.onRoleChanged(from, to, reason)

	if c.deps.Journal != nil {
		jCtx, cancel := context.WithTimeout(context.Background(), c.cfg.OpTimeout)
		defer cancel()
		tr := model.Transition{
			Bot:      c.cfg.BotName,
			Holder:   c.cfg.InstanceID,
			FromRole: from,
			ToRole:   to,
			Reason:   reason,
			TsMs:     time.Now().UnixMilli(),
		}
		if err := c.deps.Journal.RecordTransition(jCtx, tr); err != nil {
			log.Warn().Err(err).Str("component", "controller").Msg("journal write failed")
		}
	}
}

func (c *Controller) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.OpTimeout)
}
