package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// TimestampLayout is the ISO-8601 form used for sample timestamps (UTC, millisecond precision).
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// SampleRecord is one appended sample of the pool.
type SampleRecord struct {
	Timestamp    time.Time           `json:"timestamp"`
	Pool         string              `json:"pool,omitempty"`
	Block        uint64              `json:"block"`
	Price        decimal.Decimal     `json:"price"`
	PctChange    decimal.NullDecimal `json:"pct_change"`
	DeltaQuote   decimal.NullDecimal `json:"delta_quote"`
	DeltaBase    decimal.NullDecimal `json:"delta_base"`
	QuoteReserve decimal.NullDecimal `json:"quote_reserve"`
	BaseReserve  decimal.NullDecimal `json:"base_reserve"`
	Alert        bool                `json:"alert"`
}

// AlertRecord captures an emitted alert for auditing.
type AlertRecord struct {
	ID           int64
	Pool         string
	Block        uint64
	ObservedAt   time.Time
	Price        decimal.Decimal
	PctChange    decimal.Decimal
	ThresholdPct decimal.Decimal
	DeltaQuote   decimal.NullDecimal
	Direction    string
	Channels     []string
	CreatedAt    time.Time
}
