// Package position applies position manager events to positions and to the
// pool, account and protocol counters that aggregate them.
package position

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"positionScope/internal/model"
	"positionScope/internal/valuation"
)

// Config holds engine dependencies.
type Config struct {
	Registry prometheus.Registerer
}

// Engine handles liquidity and ownership events one at a time, in ledger
// order. It is not safe for concurrent use.
type Engine struct {
	store    Store
	protocol model.Protocol
	metrics  *Metrics
	logger   *zap.Logger
}

// NewEngine loads the protocol singleton and returns an engine bound to store.
func NewEngine(ctx context.Context, cfg Config, store Store, logger *zap.Logger) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("metrics registry is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	lookup, err := store.Protocol(ctx)
	if err != nil {
		return nil, fmt.Errorf("load protocol: %w", err)
	}

	return &Engine{
		store:    store,
		protocol: lookup.OrElse(model.Protocol{ID: model.ProtocolID}),
		metrics:  NewMetrics(cfg.Registry),
		logger:   logger,
	}, nil
}

// Protocol returns the protocol counters as of the last applied event.
func (e *Engine) Protocol() model.Protocol {
	return e.protocol
}

// IncreaseLiquidity applies a deposit. A position with no liquidity is opened
// for the first time, or re-opened when it carries a close stamp.
func (e *Engine) IncreaseLiquidity(ctx context.Context, ev LiquidityEvent) error {
	return e.observe(model.EventIncreaseLiquidity, func() error {
		return e.applyLiquidity(ctx, ev, true)
	})
}

// DecreaseLiquidity applies a withdrawal. A position left with no liquidity
// is closed and stamped with the event.
func (e *Engine) DecreaseLiquidity(ctx context.Context, ev LiquidityEvent) error {
	return e.observe(model.EventDecreaseLiquidity, func() error {
		return e.applyLiquidity(ctx, ev, false)
	})
}

func (e *Engine) observe(event string, fn func() error) error {
	timer := prometheus.NewTimer(e.metrics.duration.WithLabelValues(event))
	defer timer.ObserveDuration()

	err := fn()
	e.metrics.observe(event, err)
	return err
}

func (e *Engine) applyLiquidity(ctx context.Context, ev LiquidityEvent, deposit bool) error {
	pos, err := e.getOrCreatePosition(ctx, ev.EventMeta, ev.TokenID, ev.Position)
	if err != nil {
		return err
	}

	poolLookup, err := e.store.Pool(ctx, pos.Pool)
	if err != nil {
		return fmt.Errorf("load pool %s: %w", pos.Pool, err)
	}
	pool, ok := poolLookup.Get()
	if !ok {
		e.logger.Warn("pool not found",
			zap.String("position_id", pos.ID),
			zap.String("pool", pos.Pool),
			zap.String("tx_hash", ev.TxHash),
		)
		return &AbortError{Kind: AbortPoolNotFound, TxHash: ev.TxHash, TokenID: pos.ID, PositionID: pos.ID, Pool: pos.Pool}
	}

	account, err := e.getOrCreateAccount(ctx, pos.Account)
	if err != nil {
		return err
	}
	protocol := e.protocol

	tokens := make([]model.Token, 0, len(pool.InputTokens))
	for _, address := range pool.InputTokens {
		token, err := e.getOrCreateToken(ctx, address)
		if err != nil {
			return err
		}
		tokens = append(tokens, token)
	}

	if pos.CumulativeDepositTokenAmounts == nil {
		pos.CumulativeDepositTokenAmounts = model.ZeroAmounts(len(pool.InputTokens))
	}
	if pos.CumulativeWithdrawTokenAmounts == nil {
		pos.CumulativeWithdrawTokenAmounts = model.ZeroAmounts(len(pool.InputTokens))
	}

	prev := pos.Liquidity
	if prev == nil {
		prev = big.NewInt(0)
	}
	next := new(big.Int).Add(prev, deltaOrZero(ev.Liquidity))
	if next.Sign() < 0 {
		return fmt.Errorf("position %s at %s: %w", pos.ID, ev.TxHash, ErrNegativeLiquidity)
	}

	c := counters{pool: &pool, account: &account, protocol: &protocol}
	var t transition
	if deposit {
		t = openTransition(pos, next)
		e.applyTransition(t, c, &pos, ev.EventMeta)
		pos.Liquidity = next
	} else {
		pos.Liquidity = next
		t = closeTransition(prev, pos)
		e.applyTransition(t, c, &pos, ev.EventMeta)
	}

	pos.LiquidityUSD = valuation.LiquidityUSD(pos.Liquidity, pool.TotalLiquidity, pool.TotalLiquidityUSD)
	if deposit {
		pos.CumulativeDepositTokenAmounts = valuation.AddAmounts(pos.CumulativeDepositTokenAmounts, ev.Amounts)
		pos.CumulativeDepositUSD = valuation.SumUSD(pos.CumulativeDepositTokenAmounts, tokens)
		pos.DepositCount++
	} else {
		pos.CumulativeWithdrawTokenAmounts = valuation.AddAmounts(pos.CumulativeWithdrawTokenAmounts, ev.Amounts)
		pos.CumulativeWithdrawUSD = valuation.SumUSD(pos.CumulativeWithdrawTokenAmounts, tokens)
		pos.WithdrawCount++
	}

	snapshot := model.NewPositionSnapshot(pos, ev.TxHash, ev.Cursor(), ev.Timestamp)
	cs := ChangeSet{
		Position: pos,
		Pools:    []model.Pool{pool},
		Accounts: []model.Account{account},
		Protocol: &protocol,
		Snapshot: &snapshot,
		Cursor:   ev.Cursor(),
	}
	if err := e.store.Apply(ctx, cs); err != nil {
		return fmt.Errorf("apply position %s: %w", pos.ID, err)
	}

	e.protocol = protocol
	e.metrics.transition(t)
	if t != transitionNone {
		e.logger.Debug("position transition",
			zap.String("position_id", pos.ID),
			zap.String("transition", t.String()),
			zap.String("tx_hash", ev.TxHash),
		)
	}
	return nil
}

// getOrCreatePosition resolves a position by token id, creating a default
// record from the event's position metadata on first sight.
func (e *Engine) getOrCreatePosition(ctx context.Context, meta EventMeta, tokenID *big.Int, info *model.PositionMeta) (model.Position, error) {
	if tokenID == nil {
		e.logger.Error("position not found", zap.String("tx_hash", meta.TxHash), zap.String("token_id", ""))
		return model.Position{}, &AbortError{Kind: AbortPositionNotFound, TxHash: meta.TxHash}
	}
	id := tokenID.String()

	lookup, err := e.store.Position(ctx, id)
	if err != nil {
		return model.Position{}, fmt.Errorf("load position %s: %w", id, err)
	}
	if pos, ok := lookup.Get(); ok {
		return pos, nil
	}

	if info == nil || info.Pool == "" {
		e.logger.Error("position not found", zap.String("tx_hash", meta.TxHash), zap.String("token_id", id))
		return model.Position{}, &AbortError{Kind: AbortPositionNotFound, TxHash: meta.TxHash, TokenID: id}
	}

	return model.Position{
		ID:                id,
		Pool:              info.Pool,
		Account:           meta.Sender,
		TickLower:         info.TickLower,
		TickUpper:         info.TickUpper,
		Liquidity:         big.NewInt(0),
		HashOpened:        meta.TxHash,
		BlockNumberOpened: meta.BlockNumber,
		TimestampOpened:   meta.Timestamp,
	}, nil
}

func (e *Engine) getOrCreateAccount(ctx context.Context, address string) (model.Account, error) {
	lookup, err := e.store.Account(ctx, address)
	if err != nil {
		return model.Account{}, fmt.Errorf("load account %s: %w", address, err)
	}
	return lookup.OrElse(model.Account{Address: address}), nil
}

func (e *Engine) getOrCreateToken(ctx context.Context, address string) (model.Token, error) {
	lookup, err := e.store.Token(ctx, address)
	if err != nil {
		return model.Token{}, fmt.Errorf("load token %s: %w", address, err)
	}
	return lookup.OrElse(model.Token{Address: address}), nil
}

// decrement lowers a counter, holding at zero when the store is already
// inconsistent.
func (e *Engine) decrement(v uint64, counter, key string) uint64 {
	if v == 0 {
		e.logger.Warn("counter underflow", zap.String("counter", counter), zap.String("key", key))
		return 0
	}
	return v - 1
}

func deltaOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func isZeroAddress(address string) bool {
	return common.HexToAddress(address) == (common.Address{})
}

func sameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}
