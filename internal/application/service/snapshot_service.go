package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"hotspare/internal/application/port"
	"hotspare/internal/domain/model"
)

// SnapshotService persists the bot-level snapshot and the per-symbol
// position records. Only the primary ever writes, so plain
// last-writer-wins overwrites are sufficient. The TTLs differ on
// purpose: the bot state is medium-lived (stale strategy state must not
// be trusted forever), positions are long-lived (losing an open
// position record is far worse than re-checking an old one against the
// broker).
type SnapshotService struct {
	kv          port.KV
	botName     string
	stateTTL    time.Duration
	positionTTL time.Duration
}

func NewSnapshotService(kv port.KV, botName string, stateTTL, positionTTL time.Duration) *SnapshotService {
	return &SnapshotService{
		kv:          kv,
		botName:     botName,
		stateTTL:    stateTTL,
		positionTTL: positionTTL,
	}
}

// SaveState overwrites the bot snapshot. Stamps UpdatedAtMs when the
// caller left it zero.
func (s *SnapshotService) SaveState(ctx context.Context, st *model.BotState) error {
	if st.UpdatedAtMs == 0 {
		st.UpdatedAtMs = time.Now().UnixMilli()
	}
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal bot state: %w", err)
	}
	if err := s.kv.Set(ctx, model.StateKey(s.botName), string(b), s.stateTTL); err != nil {
		return fmt.Errorf("save bot state: %w", err)
	}
	return nil
}

// LoadState returns nil when no snapshot exists (missing or expired).
// The embedded UpdatedAtMs is preserved so the caller can judge
// wall-clock staleness on top of the store TTL.
func (s *SnapshotService) LoadState(ctx context.Context) (*model.BotState, error) {
	v, ok, err := s.kv.Get(ctx, model.StateKey(s.botName))
	if err != nil {
		return nil, fmt.Errorf("load bot state: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var st model.BotState
	if err := json.Unmarshal([]byte(v), &st); err != nil {
		return nil, fmt.Errorf("decode bot state: %w", err)
	}
	return &st, nil
}

func (s *SnapshotService) SavePosition(ctx context.Context, symbol string, rec *model.PositionRecord) error {
	rec.Symbol = symbol
	if rec.UpdatedAtMs == 0 {
		rec.UpdatedAtMs = time.Now().UnixMilli()
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal position %s: %w", symbol, err)
	}
	if err := s.kv.Set(ctx, model.PositionKey(s.botName, symbol), string(b), s.positionTTL); err != nil {
		return fmt.Errorf("save position %s: %w", symbol, err)
	}
	return nil
}

// LoadPositions enumerates every open position under the bot's prefix.
// The recovering process needs no prior knowledge of which symbols were
// open; that is the whole point of the prefix scan.
func (s *SnapshotService) LoadPositions(ctx context.Context) (map[string]*model.PositionRecord, error) {
	prefix := model.PositionPrefix(s.botName)
	keys, err := s.kv.ScanPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("scan positions: %w", err)
	}

	out := make(map[string]*model.PositionRecord, len(keys))
	for _, key := range keys {
		v, ok, err := s.kv.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("load position %s: %w", key, err)
		}
		if !ok {
			// expired between scan and read
			continue
		}
		var rec model.PositionRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, fmt.Errorf("decode position %s: %w", key, err)
		}
		symbol := strings.TrimPrefix(key, prefix)
		if rec.Symbol == "" {
			rec.Symbol = symbol
		}
		out[symbol] = &rec
	}
	return out, nil
}

// DeletePosition removes a closed position so recovery can never
// resurrect it.
func (s *SnapshotService) DeletePosition(ctx context.Context, symbol string) error {
	if err := s.kv.Delete(ctx, model.PositionKey(s.botName, symbol)); err != nil {
		return fmt.Errorf("delete position %s: %w", symbol, err)
	}
	return nil
}
