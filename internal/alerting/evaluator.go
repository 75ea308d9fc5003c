package alerting

import (
	"github.com/shopspring/decimal"

	"pool-price-alerts/internal/history"
)

var hundred = decimal.NewFromInt(100)

// Rule holds the dual alert thresholds.
type Rule struct {
	// ThresholdPct is the minimum absolute percentage move over the window.
	ThresholdPct decimal.Decimal
	// MinActivity is the minimum absolute quote reserve change between consecutive samples.
	// Zero disables the activity gate.
	MinActivity decimal.Decimal
}

// Decision is the outcome of evaluating one sample.
type Decision struct {
	PctChange  decimal.NullDecimal
	DeltaQuote decimal.NullDecimal
	DeltaBase  decimal.NullDecimal
	PriceAlert bool
	ActivityOK bool
	IsAlert    bool
}

// Evaluate compares the current sample with the look-back and previous samples.
// A nil lookBack or previous means the buffer did not hold that point yet.
func Evaluate(current history.Sample, lookBack, previous *history.Sample, rule Rule) Decision {
	var d Decision

	if lookBack != nil && !lookBack.Price.IsZero() {
		pct := current.Price.Sub(lookBack.Price).Div(lookBack.Price).Mul(hundred)
		d.PctChange = decimal.NewNullDecimal(pct)
	}

	if previous != nil {
		d.DeltaQuote = delta(current.QuoteReserve, previous.QuoteReserve)
		d.DeltaBase = delta(current.BaseReserve, previous.BaseReserve)
	}

	d.PriceAlert = d.PctChange.Valid && d.PctChange.Decimal.Abs().GreaterThanOrEqual(rule.ThresholdPct)
	d.ActivityOK = rule.MinActivity.IsZero() ||
		(d.DeltaQuote.Valid && d.DeltaQuote.Decimal.Abs().GreaterThanOrEqual(rule.MinActivity))
	d.IsAlert = d.PriceAlert && d.ActivityOK

	return d
}

func delta(cur, prev decimal.NullDecimal) decimal.NullDecimal {
	if !cur.Valid || !prev.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(cur.Decimal.Sub(prev.Decimal))
}

// Direction classifies the windowed move.
func (d Decision) Direction() string {
	if !d.PctChange.Valid {
		return "flat"
	}
	switch d.PctChange.Decimal.Sign() {
	case 1:
		return "up"
	case -1:
		return "down"
	default:
		return "flat"
	}
}
