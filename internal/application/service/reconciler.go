package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"hotspare/internal/application/port"
	"hotspare/internal/domain/model"
)

// Reconciler merges recovered position records with the broker's live
// account after a promotion. The broker is the truth: a fill may have
// landed between the last snapshot and the old primary's death, so
// recovered records are only hints.
//
// Rules:
//   - symbol known to both: quantity/entry come from the broker,
//     stop-loss/take-profit carry over from the recovered record (the
//     broker does not store them);
//   - symbol only in the store: dropped with a warning (the position
//     was closed behind the snapshot's back);
//   - symbol only at the broker: adopted with empty risk levels, for
//     the strategy to re-derive.
type Reconciler struct {
	broker port.Broker
}

func NewReconciler(broker port.Broker) *Reconciler {
	return &Reconciler{broker: broker}
}

// Reconcile returns the position book a freshly promoted primary should
// trust. With no broker wired the recovered records pass through
// unchanged; that is a degraded recovery and is logged as such.
func (r *Reconciler) Reconcile(ctx context.Context, recovered map[string]*model.PositionRecord) (map[string]*model.PositionRecord, error) {
	if r.broker == nil {
		log.Warn().Int("recovered", len(recovered)).
			Msg("no broker wired, trusting recovered positions unverified")
		return recovered, nil
	}

	live, err := r.broker.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("broker positions: %w", err)
	}

	now := time.Now().UnixMilli()
	out := make(map[string]*model.PositionRecord, len(live))
	for _, bp := range live {
		rec := &model.PositionRecord{
			Symbol:      bp.Symbol,
			Quantity:    bp.Quantity,
			EntryPrice:  bp.EntryPrice,
			UpdatedAtMs: now,
		}
		if hint, ok := recovered[bp.Symbol]; ok {
			rec.StopLoss = hint.StopLoss
			rec.TakeProfit = hint.TakeProfit
			if !hint.Quantity.Equal(bp.Quantity) {
				log.Warn().Str("symbol", bp.Symbol).
					Str("recovered_qty", hint.Quantity.String()).
					Str("broker_qty", bp.Quantity.String()).
					Msg("recovered quantity disagrees with broker, using broker")
			}
		} else {
			log.Warn().Str("symbol", bp.Symbol).
				Msg("broker position unknown to snapshot, adopting without risk levels")
		}
		out[bp.Symbol] = rec
	}

	for symbol := range recovered {
		if _, ok := out[symbol]; !ok {
			log.Warn().Str("symbol", symbol).
				Msg("recovered position absent at broker, dropping")
		}
	}
	return out, nil
}
