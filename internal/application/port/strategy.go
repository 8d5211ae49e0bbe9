package port

import (
	"context"

	"hotspare/internal/domain/model"
)

// Strategy is the signal-generation/order-placement collaborator. The
// controller gates it: Restore runs once on promotion with whatever
// state could be recovered, Cycle runs on every primary tick. The
// strategy persists its own changes back through the controller's
// OnStateChange/OnPositionChange hooks.
type Strategy interface {
	// Restore seeds the strategy after promotion. state is nil and
	// positions empty when nothing could be recovered; the strategy
	// must then treat the book as empty-and-reconciled, not fail.
	Restore(ctx context.Context, state *model.BotState, positions map[string]*model.PositionRecord) error

	// Cycle runs one trading iteration.
	Cycle(ctx context.Context) error
}
