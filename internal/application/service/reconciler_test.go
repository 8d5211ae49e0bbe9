package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotspare/internal/domain/model"
)

type stubBroker struct {
	positions []model.BrokerPosition
	err       error
}

func (b *stubBroker) Positions(ctx context.Context) ([]model.BrokerPosition, error) {
	return b.positions, b.err
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestReconcileBrokerIsTruth(t *testing.T) {
	broker := &stubBroker{positions: []model.BrokerPosition{
		{Symbol: "BTCUSD", Quantity: dec("0.75"), EntryPrice: dec("64100")},
		{Symbol: "SOLUSD", Quantity: dec("10"), EntryPrice: dec("150")},
	}}
	recovered := map[string]*model.PositionRecord{
		// quantity disagrees with the broker: a fill landed after the
		// last snapshot
		"BTCUSD": {Symbol: "BTCUSD", Quantity: dec("0.5"), EntryPrice: dec("64000"),
			StopLoss: dec("62000"), TakeProfit: dec("70000")},
		// closed behind the snapshot's back
		"ETHUSD": {Symbol: "ETHUSD", Quantity: dec("2"), EntryPrice: dec("3100")},
	}

	out, err := NewReconciler(broker).Reconcile(context.Background(), recovered)
	require.NoError(t, err)
	require.Len(t, out, 2)

	btc := out["BTCUSD"]
	require.NotNil(t, btc)
	assert.True(t, btc.Quantity.Equal(dec("0.75")), "broker quantity wins")
	assert.True(t, btc.EntryPrice.Equal(dec("64100")), "broker entry wins")
	assert.True(t, btc.StopLoss.Equal(dec("62000")), "risk levels carry over from the snapshot")
	assert.True(t, btc.TakeProfit.Equal(dec("70000")))

	assert.NotContains(t, out, "ETHUSD", "store-only position must be dropped")

	sol := out["SOLUSD"]
	require.NotNil(t, sol, "broker-only position must be adopted")
	assert.True(t, sol.StopLoss.IsZero(), "adopted position has no risk levels yet")
}

func TestReconcileWithoutBroker(t *testing.T) {
	recovered := map[string]*model.PositionRecord{
		"BTCUSD": {Symbol: "BTCUSD", Quantity: dec("1"), EntryPrice: dec("60000")},
	}
	out, err := NewReconciler(nil).Reconcile(context.Background(), recovered)
	require.NoError(t, err)
	assert.Equal(t, recovered, out, "degraded recovery passes hints through")
}

func TestReconcileBrokerError(t *testing.T) {
	broker := &stubBroker{err: errors.New("gateway timeout")}
	_, err := NewReconciler(broker).Reconcile(context.Background(), nil)
	require.Error(t, err)
}
