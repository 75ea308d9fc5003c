package pricing

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const significantDigits = 16

// DerivationError reports a reserve pair that cannot produce a positive price.
type DerivationError struct {
	Reason string
}

func (e *DerivationError) Error() string {
	return "derive price: " + e.Reason
}

// Token describes one side of the pair.
type Token struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

// Pair captures the orientation resolved once at startup.
type Pair struct {
	Token0 Token
	Token1 Token

	// QuoteIs0 selects token0 as the quote asset; price is quote units per one base unit.
	QuoteIs0 bool

	// QuoteIndex / BaseIndex are 0 or 1 when the symbol was recognised, -1 otherwise.
	QuoteIndex int
	BaseIndex  int
}

// Observation is the per-block output of price derivation.
type Observation struct {
	Price        decimal.Decimal
	QuoteReserve decimal.NullDecimal
	BaseReserve  decimal.NullDecimal
}

// Resolve matches token symbols against the expected base and quote assets.
// Base matching is a case-insensitive substring test so wrapped variants (WETH, WETH.e) still match.
// Quote matching is a case-insensitive equality test.
func Resolve(token0, token1 Token, baseSymbol, quoteSymbol string) Pair {
	p := Pair{Token0: token0, Token1: token1, QuoteIndex: -1, BaseIndex: -1}

	base := strings.ToUpper(strings.TrimSpace(baseSymbol))
	quote := strings.ToUpper(strings.TrimSpace(quoteSymbol))

	sym0 := strings.ToUpper(token0.Symbol)
	sym1 := strings.ToUpper(token1.Symbol)

	base0 := base != "" && strings.Contains(sym0, base)
	base1 := base != "" && strings.Contains(sym1, base)

	switch {
	case base0:
		p.QuoteIs0 = false
	case base1:
		p.QuoteIs0 = true
	default:
		// unknown pair: keep token1-per-token0 and let the loop run without role data
		p.QuoteIs0 = false
	}

	if base0 {
		p.BaseIndex = 0
	} else if base1 {
		p.BaseIndex = 1
	}

	if quote != "" && sym0 == quote {
		p.QuoteIndex = 0
	} else if quote != "" && sym1 == quote {
		p.QuoteIndex = 1
	}

	return p
}

// Recognised reports whether both roles were identified.
func (p Pair) Recognised() bool {
	return p.QuoteIndex >= 0 && p.BaseIndex >= 0
}

// BaseToken returns the token priced by Observe.
func (p Pair) BaseToken() Token {
	if p.QuoteIs0 {
		return p.Token1
	}
	return p.Token0
}

// QuoteToken returns the token the price is expressed in.
func (p Pair) QuoteToken() Token {
	if p.QuoteIs0 {
		return p.Token0
	}
	return p.Token1
}

// Observe derives the spot price and the role-tagged reserves for one reserve pair.
func (p Pair) Observe(reserve0, reserve1 *big.Int) (Observation, error) {
	price, err := DerivePrice(reserve0, p.Token0.Decimals, reserve1, p.Token1.Decimals, p.QuoteIs0)
	if err != nil {
		return Observation{}, err
	}

	norm := [2]decimal.Decimal{
		Normalize(reserve0, p.Token0.Decimals),
		Normalize(reserve1, p.Token1.Decimals),
	}

	obs := Observation{Price: price}
	if p.QuoteIndex >= 0 {
		obs.QuoteReserve = decimal.NewNullDecimal(norm[p.QuoteIndex])
	}
	if p.BaseIndex >= 0 {
		obs.BaseReserve = decimal.NewNullDecimal(norm[p.BaseIndex])
	}
	return obs, nil
}

// DerivePrice returns quote units per one base unit after scaling both reserves by their decimals.
func DerivePrice(reserve0 *big.Int, decimals0 uint8, reserve1 *big.Int, decimals1 uint8, quoteIs0 bool) (decimal.Decimal, error) {
	if reserve0 == nil || reserve1 == nil {
		return decimal.Decimal{}, &DerivationError{Reason: "missing reserve"}
	}

	r0 := Normalize(reserve0, decimals0)
	r1 := Normalize(reserve1, decimals1)

	quote, base := r1, r0
	if quoteIs0 {
		quote, base = r0, r1
	}

	if base.Sign() <= 0 {
		return decimal.Decimal{}, &DerivationError{Reason: fmt.Sprintf("base reserve is %s", base.String())}
	}
	if quote.Sign() <= 0 {
		return decimal.Decimal{}, &DerivationError{Reason: fmt.Sprintf("quote reserve is %s", quote.String())}
	}

	// scale follows the reserve magnitudes so tiny prices keep their significant digits
	places := int32(decimals0) + int32(decimals1) + int32(len(base.Coefficient().String())) + significantDigits
	price := quote.DivRound(base, places)
	if price.Sign() <= 0 {
		return decimal.Decimal{}, &DerivationError{Reason: fmt.Sprintf("price %s/%s rounds to zero", quote.String(), base.String())}
	}
	return price, nil
}

// Normalize scales a raw token amount to human units.
func Normalize(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}
