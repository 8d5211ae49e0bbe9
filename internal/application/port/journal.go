package port

import (
	"context"

	"hotspare/internal/domain/model"
)

// Journal records role transitions for operator audit. Journal failures
// must never block or delay a transition; callers log and move on.
type Journal interface {
	RecordTransition(ctx context.Context, tr model.Transition) error

	// Recent returns the latest transitions for a bot, newest first.
	// Read at startup to surface the failover history, and available to
	// embedders for their own status surfaces.
	Recent(ctx context.Context, botName string, limit int) ([]model.Transition, error)

	Close() error
}
