package model

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Position is one NPM token id: a lease of liquidity in a pool tick range.
type Position struct {
	ID                             string
	Pool                           string
	Account                        string
	TickLower                      int32
	TickUpper                      int32
	Liquidity                      *big.Int
	LiquidityUSD                   decimal.Decimal
	CumulativeDepositTokenAmounts  []*big.Int
	CumulativeWithdrawTokenAmounts []*big.Int
	CumulativeDepositUSD           decimal.Decimal
	CumulativeWithdrawUSD          decimal.Decimal
	DepositCount                   uint64
	WithdrawCount                  uint64
	HashOpened                     string
	BlockNumberOpened              uint64
	TimestampOpened                uint64
	HashClosed                     *string
	BlockNumberClosed              *uint64
	TimestampClosed                *uint64
}

// IsClosed reports whether the position currently holds no liquidity.
func (p Position) IsClosed() bool {
	return p.Liquidity == nil || p.Liquidity.Sign() == 0
}

// WasClosed reports whether the position carries a close stamp.
func (p Position) WasClosed() bool {
	return p.HashClosed != nil
}

// Clone returns a deep copy.
func (p Position) Clone() Position {
	out := p
	out.Liquidity = cloneInt(p.Liquidity)
	out.CumulativeDepositTokenAmounts = cloneInts(p.CumulativeDepositTokenAmounts)
	out.CumulativeWithdrawTokenAmounts = cloneInts(p.CumulativeWithdrawTokenAmounts)
	if p.HashClosed != nil {
		hash := *p.HashClosed
		out.HashClosed = &hash
	}
	if p.BlockNumberClosed != nil {
		block := *p.BlockNumberClosed
		out.BlockNumberClosed = &block
	}
	if p.TimestampClosed != nil {
		ts := *p.TimestampClosed
		out.TimestampClosed = &ts
	}
	return out
}

// ZeroAmounts returns n zero-valued token amounts.
func ZeroAmounts(n int) []*big.Int {
	out := make([]*big.Int, n)
	for i := range out {
		out[i] = big.NewInt(0)
	}
	return out
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func cloneInts(values []*big.Int) []*big.Int {
	if values == nil {
		return nil
	}
	out := make([]*big.Int, len(values))
	for i, v := range values {
		out[i] = cloneInt(v)
	}
	return out
}
