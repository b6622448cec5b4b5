package position

import (
	"math/big"

	"positionScope/internal/model"
)

type transition int

const (
	transitionNone transition = iota
	transitionOpen
	transitionReopen
	transitionClose
)

func (t transition) String() string {
	switch t {
	case transitionOpen:
		return "open"
	case transitionReopen:
		return "reopen"
	case transitionClose:
		return "close"
	default:
		return "none"
	}
}

// openTransition inspects the position before an increase is applied.
// A zero-liquidity increase opens nothing; the position manager reverts those.
func openTransition(pos model.Position, next *big.Int) transition {
	if !pos.IsClosed() || next.Sign() == 0 {
		return transitionNone
	}
	if pos.WasClosed() {
		return transitionReopen
	}
	return transitionOpen
}

// closeTransition inspects the position after a decrease is applied.
// Decreasing an already empty position does not close it twice.
func closeTransition(prev *big.Int, pos model.Position) transition {
	if pos.IsClosed() && prev.Sign() != 0 {
		return transitionClose
	}
	return transitionNone
}

// counters is the slice of aggregate state a transition moves in lockstep.
type counters struct {
	pool     *model.Pool
	account  *model.Account
	protocol *model.Protocol
}

func (e *Engine) applyTransition(t transition, c counters, pos *model.Position, meta EventMeta) {
	switch t {
	case transitionOpen:
		c.pool.OpenPositionCount++
		c.pool.PositionCount++
		c.account.OpenPositionCount++
		c.account.PositionCount++
		c.protocol.OpenPositionCount++
		c.protocol.CumulativePositionCount++
	case transitionReopen:
		c.pool.OpenPositionCount++
		c.pool.ClosedPositionCount = e.decrement(c.pool.ClosedPositionCount, "pool.closed", c.pool.Address)
		c.account.OpenPositionCount++
		c.account.ClosedPositionCount = e.decrement(c.account.ClosedPositionCount, "account.closed", c.account.Address)
		c.protocol.OpenPositionCount++
		pos.HashClosed = nil
		pos.BlockNumberClosed = nil
		pos.TimestampClosed = nil
	case transitionClose:
		c.pool.OpenPositionCount = e.decrement(c.pool.OpenPositionCount, "pool.open", c.pool.Address)
		c.pool.ClosedPositionCount++
		c.account.OpenPositionCount = e.decrement(c.account.OpenPositionCount, "account.open", c.account.Address)
		c.account.ClosedPositionCount++
		c.protocol.OpenPositionCount = e.decrement(c.protocol.OpenPositionCount, "protocol.open", c.protocol.ID)
		hash := meta.TxHash
		block := meta.BlockNumber
		ts := meta.Timestamp
		pos.HashClosed = &hash
		pos.BlockNumberClosed = &block
		pos.TimestampClosed = &ts
	}
}
