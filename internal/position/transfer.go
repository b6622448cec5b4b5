package position

import (
	"context"
	"fmt"

	"positionScope/internal/model"
)

// Transfer moves a position between owner accounts. Transfers from the zero
// address are mints, already counted by IncreaseLiquidity, and are ignored.
// Pool and protocol counters are never touched.
func (e *Engine) Transfer(ctx context.Context, ev TransferEvent) error {
	if isZeroAddress(ev.From) {
		e.metrics.skipped(model.EventTransfer)
		return nil
	}
	return e.observe(model.EventTransfer, func() error {
		return e.applyTransfer(ctx, ev)
	})
}

func (e *Engine) applyTransfer(ctx context.Context, ev TransferEvent) error {
	pos, err := e.getOrCreatePosition(ctx, ev.EventMeta, ev.TokenID, ev.Position)
	if err != nil {
		return err
	}

	to, err := e.getOrCreateAccount(ctx, ev.To)
	if err != nil {
		return err
	}

	accounts := []model.Account{to}
	if !sameAddress(ev.From, ev.To) {
		from, err := e.getOrCreateAccount(ctx, ev.From)
		if err != nil {
			return err
		}

		to.PositionCount++
		from.PositionCount = e.decrement(from.PositionCount, "account.total", from.Address)
		if pos.IsClosed() {
			to.ClosedPositionCount++
			from.ClosedPositionCount = e.decrement(from.ClosedPositionCount, "account.closed", from.Address)
		} else {
			to.OpenPositionCount++
			from.OpenPositionCount = e.decrement(from.OpenPositionCount, "account.open", from.Address)
		}
		accounts = []model.Account{to, from}
	}

	pos.Account = ev.To

	snapshot := model.NewPositionSnapshot(pos, ev.TxHash, ev.Cursor(), ev.Timestamp)
	cs := ChangeSet{
		Position: pos,
		Accounts: accounts,
		Snapshot: &snapshot,
		Cursor:   ev.Cursor(),
	}
	if err := e.store.Apply(ctx, cs); err != nil {
		return fmt.Errorf("apply transfer %s: %w", pos.ID, err)
	}
	return nil
}
