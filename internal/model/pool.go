package model

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Pool is a liquidity pool aggregate. Position counters are owned by the
// position engine; the remaining fields are a metadata snapshot.
type Pool struct {
	Address             string
	InputTokens         []string
	Fee                 uint32
	TickSpacing         int32
	TotalLiquidity      *big.Int
	TotalLiquidityUSD   decimal.Decimal
	OpenPositionCount   uint64
	ClosedPositionCount uint64
	PositionCount       uint64
}

// NewPoolFromMeta builds a pool record with zero counters.
func NewPoolFromMeta(meta PoolMeta) Pool {
	return Pool{
		Address:        meta.Address,
		InputTokens:    meta.InputTokens(),
		Fee:            meta.Fee,
		TickSpacing:    meta.TickSpacing,
		TotalLiquidity: big.NewInt(0),
	}
}

// Clone returns a deep copy.
func (p Pool) Clone() Pool {
	out := p
	out.InputTokens = append([]string(nil), p.InputTokens...)
	out.TotalLiquidity = cloneInt(p.TotalLiquidity)
	return out
}
