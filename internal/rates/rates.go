package rates

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"
)

// PriceFetcher retrieves the current fiat price of the settlement token.
// The boolean is false when the oracle is unavailable; implementations
// never surface transport errors to callers.
type PriceFetcher interface {
	TokenPriceUSD(ctx context.Context) (decimal.Decimal, bool)
}

var smallestUnitScale = decimal.NewFromInt(1_000_000_000_000_000_000)

// ConvertUSDToToken converts a USD amount into settlement-token units at
// the given price. An unavailable price yields an unavailable result.
func ConvertUSDToToken(usd decimal.Decimal, price decimal.Decimal, priceOK bool) (decimal.Decimal, bool) {
	if !priceOK || price.IsZero() {
		return decimal.Decimal{}, false
	}
	if usd.IsZero() {
		return decimal.Zero, true
	}
	return usd.Div(price), true
}

// ToSmallestUnit scales a token amount to 18-decimal base units,
// truncating toward zero. The operation is lossy and has no exact
// inverse.
func ToSmallestUnit(tokens decimal.Decimal) *big.Int {
	return tokens.Mul(smallestUnitScale).Truncate(0).BigInt()
}
