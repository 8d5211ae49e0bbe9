package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// LockToken is the value stored under the primary lock key. Renew and
// release compare the full serialized token, not just the holder id, so
// a lock lost and re-claimed between two ticks is always detected.
type LockToken struct {
	Holder       string `json:"holder"`
	AcquiredAtMs int64  `json:"acquired_at_ms"`
}

// HeartbeatRecord is the value stored under the heartbeat key. Written
// only by the primary; staleness is judged by the embedded timestamp,
// never by comparing two processes' clocks directly.
type HeartbeatRecord struct {
	Holder string `json:"holder"`
	TsMs   int64  `json:"ts_ms"`
}

// BotState is the bot-level snapshot persisted after every trading
// cycle and on shutdown. It seeds recovery on promotion; it is a
// recovery aid, never the system of record (the broker is).
//
// Money values are decimals serialized as strings so writer and reader
// never disagree on rounding.
type BotState struct {
	Strategy      string          `json:"strategy"`
	Equity        decimal.Decimal `json:"equity"`
	Cash          decimal.Decimal `json:"cash"`
	BuyingPower   decimal.Decimal `json:"buying_power"`
	PositionCount int             `json:"position_count"`
	UpdatedAtMs   int64           `json:"updated_at_ms"`
	// Extra carries strategy-specific fields opaque to the
	// coordination layer.
	Extra json.RawMessage `json:"extra,omitempty"`
}

// UpdatedAt returns the embedded snapshot time for wall-clock staleness
// checks, independent of the store key's own TTL.
func (s *BotState) UpdatedAt() time.Time { return time.UnixMilli(s.UpdatedAtMs) }

// PositionRecord is one open position, keyed per symbol. Written on
// every position change by the primary, deleted when the position
// closes, and read back on promotion to rebuild the position book.
type PositionRecord struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	StopLoss    decimal.Decimal `json:"stop_loss"`
	TakeProfit  decimal.Decimal `json:"take_profit"`
	UpdatedAtMs int64           `json:"updated_at_ms"`
}

// BrokerPosition is a live position as the broker reports it. The
// broker knows quantity and entry but not the bot's risk levels.
type BrokerPosition struct {
	Symbol     string
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
}
