package port

import (
	"context"

	"hotspare/internal/domain/model"
)

// Broker is the live trading account, an external collaborator. The
// coordination layer only needs it for one thing: after promotion, the
// broker's open positions are the truth the recovered snapshot is
// reconciled against.
type Broker interface {
	Positions(ctx context.Context) ([]model.BrokerPosition, error)
}
