package storage

import (
	"context"

	"hotspare/internal/application/port"
	"hotspare/internal/domain/model"
)

// NoopJournal discards transitions. Default when no journal backend is
// configured; transitions still land in the logs.
type NoopJournal struct{}

func NewNoopJournal() *NoopJournal { return &NoopJournal{} }

func (*NoopJournal) RecordTransition(ctx context.Context, tr model.Transition) error { return nil }

func (*NoopJournal) Recent(ctx context.Context, botName string, limit int) ([]model.Transition, error) {
	return nil, nil
}

func (*NoopJournal) Close() error { return nil }

var _ port.Journal = (*NoopJournal)(nil)
