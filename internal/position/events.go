package position

import (
	"math/big"

	"positionScope/internal/model"
)

// EventMeta carries the fields every handler reads from the triggering log.
type EventMeta struct {
	TxHash      string
	BlockNumber uint64
	LogIndex    uint64
	Timestamp   uint64
	Sender      string
}

// Cursor returns the ledger ordinal of the event.
func (m EventMeta) Cursor() model.Cursor {
	return model.Cursor{BlockNumber: m.BlockNumber, LogIndex: m.LogIndex}
}

// LiquidityEvent is an increase or decrease of a position's liquidity.
// Liquidity is a signed delta added to the position for both kinds; Amounts are
// the per-token raw amounts in pool token order. Position, when set, is used to
// create a position seen for the first time.
type LiquidityEvent struct {
	EventMeta
	TokenID   *big.Int
	Liquidity *big.Int
	Amounts   []*big.Int
	Position  *model.PositionMeta
}

// TransferEvent moves a position NFT between owners.
type TransferEvent struct {
	EventMeta
	TokenID  *big.Int
	From     string
	To       string
	Position *model.PositionMeta
}
