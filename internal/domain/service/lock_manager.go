package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"hotspare/internal/application/port"
	"hotspare/internal/domain/model"
)

// ErrNotHeld is returned by Release when this manager does not hold the
// lock.
var ErrNotHeld = errors.New("lock not held by this instance")

// LockManager owns the single primary-lock record. TryAcquire is one
// atomic set-if-absent against the store; a read-then-write pair would
// reintroduce the dual-primary race this type exists to prevent.
//
// Renew and Release compare the exact token written at acquire time, so
// a lease that expired and was re-claimed by anyone (including another
// instance reusing the same holder id) reads as lost.
type LockManager struct {
	mu     sync.Mutex
	kv     port.KV
	key    string
	holder string
	lease  time.Duration
	token  string // serialized LockToken written at acquire; empty when not held
}

func NewLockManager(kv port.KV, botName, holder string, lease time.Duration) *LockManager {
	return &LockManager{
		kv:     kv,
		key:    model.LockKey(botName),
		holder: holder,
		lease:  lease,
	}
}

func (m *LockManager) Holder() string { return m.holder }

// TryAcquire claims the lock if it is absent or expired. Returns true
// iff this call created it. A store error means "indeterminate": the
// caller must not assume anything about ownership.
func (m *LockManager) TryAcquire(ctx context.Context) (bool, error) {
	tok, err := json.Marshal(model.LockToken{
		Holder:       m.holder,
		AcquiredAtMs: time.Now().UnixMilli(),
	})
	if err != nil {
		return false, fmt.Errorf("marshal lock token: %w", err)
	}

	ok, err := m.kv.SetNX(ctx, m.key, string(tok), m.lease)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", m.key, err)
	}
	if ok {
		m.mu.Lock()
		m.token = string(tok)
		m.mu.Unlock()
	}
	return ok, nil
}

// Renew extends the lease only if the stored token is still ours.
// (false, nil) is the lost-lease signal: the caller must demote before
// doing anything else.
func (m *LockManager) Renew(ctx context.Context) (bool, error) {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()
	if token == "" {
		return false, nil
	}

	ok, err := m.kv.CompareAndExpire(ctx, m.key, token, m.lease)
	if err != nil {
		return false, fmt.Errorf("renew %s: %w", m.key, err)
	}
	if !ok {
		m.mu.Lock()
		m.token = ""
		m.mu.Unlock()
	}
	return ok, nil
}

// Release deletes the lock if still ours, so a standby can take over
// immediately instead of waiting out the TTL. Safe to call when the
// lease was already lost.
func (m *LockManager) Release(ctx context.Context) error {
	m.mu.Lock()
	token := m.token
	m.token = ""
	m.mu.Unlock()
	if token == "" {
		return ErrNotHeld
	}

	if _, err := m.kv.CompareAndDelete(ctx, m.key, token); err != nil {
		return fmt.Errorf("release %s: %w", m.key, err)
	}
	return nil
}
