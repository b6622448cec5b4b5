package model

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// PositionSnapshot is an immutable copy of a position after one event.
type PositionSnapshot struct {
	ID                             string
	Position                       string
	Account                        string
	Hash                           string
	BlockNumber                    uint64
	LogIndex                       uint64
	Timestamp                      uint64
	Liquidity                      *big.Int
	LiquidityUSD                   decimal.Decimal
	CumulativeDepositTokenAmounts  []*big.Int
	CumulativeWithdrawTokenAmounts []*big.Int
	CumulativeDepositUSD           decimal.Decimal
	CumulativeWithdrawUSD          decimal.Decimal
	DepositCount                   uint64
	WithdrawCount                  uint64
}

// SnapshotID keys a snapshot by position and event ordinal.
func SnapshotID(positionID string, at Cursor) string {
	return fmt.Sprintf("%s-%d-%d", positionID, at.BlockNumber, at.LogIndex)
}

// NewPositionSnapshot copies the post-update fields of p.
func NewPositionSnapshot(p Position, hash string, at Cursor, timestamp uint64) PositionSnapshot {
	c := p.Clone()
	return PositionSnapshot{
		ID:                             SnapshotID(p.ID, at),
		Position:                       p.ID,
		Account:                        p.Account,
		Hash:                           hash,
		BlockNumber:                    at.BlockNumber,
		LogIndex:                       at.LogIndex,
		Timestamp:                      timestamp,
		Liquidity:                      c.Liquidity,
		LiquidityUSD:                   c.LiquidityUSD,
		CumulativeDepositTokenAmounts:  c.CumulativeDepositTokenAmounts,
		CumulativeWithdrawTokenAmounts: c.CumulativeWithdrawTokenAmounts,
		CumulativeDepositUSD:           c.CumulativeDepositUSD,
		CumulativeWithdrawUSD:          c.CumulativeWithdrawUSD,
		DepositCount:                   c.DepositCount,
		WithdrawCount:                  c.WithdrawCount,
	}
}
