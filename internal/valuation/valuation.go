// Package valuation converts raw token amounts into USD values.
package valuation

import (
	"math/big"

	"github.com/shopspring/decimal"

	"positionScope/internal/model"
)

// divisionPrecision bounds the scale of non-terminating quotients.
const divisionPrecision = 36

// ToDecimal converts a raw integer amount into token units (amount / 10^decimals).
func ToDecimal(amount *big.Int, decimals uint8) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

// AmountUSD values a raw amount of one token. A token without a price
// contributes zero.
func AmountUSD(amount *big.Int, token model.Token) decimal.Decimal {
	if token.LastPriceUSD == nil {
		return decimal.Zero
	}
	return ToDecimal(amount, token.Decimals).Mul(*token.LastPriceUSD)
}

// SumUSD values per-token raw amounts against the pool's ordered tokens.
func SumUSD(amounts []*big.Int, tokens []model.Token) decimal.Decimal {
	total := decimal.Zero
	for i, amount := range amounts {
		if i >= len(tokens) {
			break
		}
		total = total.Add(AmountUSD(amount, tokens[i]))
	}
	return total
}

// AddAmounts adds delta into base elementwise and returns a new slice. Both
// sequences are sized to the pool's token count.
func AddAmounts(base, delta []*big.Int) []*big.Int {
	out := make([]*big.Int, len(base))
	for i := range base {
		sum := new(big.Int)
		if base[i] != nil {
			sum.Set(base[i])
		}
		if i < len(delta) && delta[i] != nil {
			sum.Add(sum, delta[i])
		}
		out[i] = sum
	}
	return out
}

// SafeDiv divides a by b, returning zero when b is zero.
func SafeDiv(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.DivRound(b, divisionPrecision)
}

// LiquidityUSD prices a position's share of pool liquidity:
// liquidity * totalLiquidityUSD / totalLiquidity. The product is taken before
// the division so exact shares stay exact.
func LiquidityUSD(liquidity, totalLiquidity *big.Int, totalLiquidityUSD decimal.Decimal) decimal.Decimal {
	if liquidity == nil || totalLiquidity == nil || totalLiquidity.Sign() == 0 {
		return decimal.Zero
	}
	value := decimal.NewFromBigInt(liquidity, 0).Mul(totalLiquidityUSD)
	return SafeDiv(value, decimal.NewFromBigInt(totalLiquidity, 0))
}
