package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"hotspare/internal/application/port"
	"hotspare/internal/domain/model"
)

// Heartbeat writes and probes the primary's liveness record. The
// heartbeat TTL is deliberately decoupled from the lock TTL: the
// heartbeat is the liveness symptom, the lock is the right to act. A
// standby may notice probable primary death and start an acquisition
// attempt slightly before the lock itself expires; the lock's atomicity
// still prevents a dual-primary outcome.
type Heartbeat struct {
	kv     port.KV
	key    string
	holder string
	ttl    time.Duration
}

func NewHeartbeat(kv port.KV, botName, holder string, ttl time.Duration) *Heartbeat {
	return &Heartbeat{
		kv:     kv,
		key:    model.HeartbeatKey(botName),
		holder: holder,
		ttl:    ttl,
	}
}

// Beat writes the current timestamp with the heartbeat TTL. Called only
// while primary, on an interval shorter than the TTL so one delayed
// write does not read as staleness.
func (h *Heartbeat) Beat(ctx context.Context) error {
	rec, err := json.Marshal(model.HeartbeatRecord{
		Holder: h.holder,
		TsMs:   time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}
	if err := h.kv.Set(ctx, h.key, string(rec), h.ttl); err != nil {
		return fmt.Errorf("beat %s: %w", h.key, err)
	}
	return nil
}

// Age returns how long ago the last beat was written. known is false
// when the key is absent or expired.
func (h *Heartbeat) Age(ctx context.Context) (age time.Duration, known bool, err error) {
	v, ok, err := h.kv.Get(ctx, h.key)
	if err != nil {
		return 0, false, fmt.Errorf("read %s: %w", h.key, err)
	}
	if !ok {
		return 0, false, nil
	}
	var rec model.HeartbeatRecord
	if err := json.Unmarshal([]byte(v), &rec); err != nil {
		return 0, false, fmt.Errorf("decode %s: %w", h.key, err)
	}
	return time.Since(time.UnixMilli(rec.TsMs)), true, nil
}

// IsStale reports whether the heartbeat is absent or older than
// threshold. An absent key is stale: on a cold start that is what lets
// the first standby promote itself.
func (h *Heartbeat) IsStale(ctx context.Context, threshold time.Duration) (bool, error) {
	age, known, err := h.Age(ctx)
	if err != nil {
		return false, err
	}
	if !known {
		return true, nil
	}
	return age > threshold, nil
}
