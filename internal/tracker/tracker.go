// Package tracker replays decoded position manager events into the position
// engine in ledger order.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"go.uber.org/zap"

	"positionScope/internal/model"
	"positionScope/internal/position"
	"positionScope/internal/price"
	"positionScope/internal/storage"
	"positionScope/internal/valuation"
)

// Engine handles the three position events.
type Engine interface {
	IncreaseLiquidity(ctx context.Context, ev position.LiquidityEvent) error
	DecreaseLiquidity(ctx context.Context, ev position.LiquidityEvent) error
	Transfer(ctx context.Context, ev position.TransferEvent) error
}

// MetaStore is the part of an entity store the tracker writes metadata
// snapshots through and reads the resume cursor from.
type MetaStore interface {
	Pool(ctx context.Context, address string) (position.Lookup[model.Pool], error)
	Token(ctx context.Context, address string) (position.Lookup[model.Token], error)
	UpsertPoolMeta(ctx context.Context, pool model.Pool) error
	UpsertToken(ctx context.Context, token model.Token) error
	Cursor(ctx context.Context) (model.Cursor, bool, error)
}

// Config controls replay behavior.
type Config struct {
	// Strict makes position-not-found and negative liquidity fatal.
	Strict bool
}

// Stats summarizes one replay.
type Stats struct {
	Total   int
	Applied int
	Skipped int
	Aborted int
	Failed  int
}

type Tracker struct {
	cfg    Config
	engine Engine
	store  MetaStore
	prices price.Source
	logger *zap.Logger
}

// New validates dependencies and returns a tracker. A nil prices source
// means no prices are ever found.
func New(cfg Config, engine Engine, store MetaStore, prices price.Source, logger *zap.Logger) (*Tracker, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if prices == nil {
		prices = price.Chain{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{cfg: cfg, engine: engine, store: store, prices: prices, logger: logger}, nil
}

// Run replays a typed events JSONL file.
func (t *Tracker) Run(ctx context.Context, inputPath string) (Stats, error) {
	file, err := os.Open(inputPath)
	if err != nil {
		return Stats{}, fmt.Errorf("open input: %w", err)
	}
	defer file.Close()
	return t.Replay(ctx, file)
}

// Replay applies every event of r that is later than the store cursor.
func (t *Tracker) Replay(ctx context.Context, r io.Reader) (Stats, error) {
	var stats Stats

	last, resumed, err := t.store.Cursor(ctx)
	if err != nil {
		return stats, fmt.Errorf("load cursor: %w", err)
	}
	if resumed {
		t.logger.Info("resume tracker", zap.String("cursor", last.String()))
	}

	err = storage.ScanJSONL(r, func(lineNo int, line []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Total++

		var record model.TypedEventRecord
		if err := json.Unmarshal(line, &record); err != nil {
			stats.Failed++
			t.logger.Warn("decode typed event", zap.Int("line", lineNo), zap.Error(err))
			return nil
		}
		if resumed && !record.Cursor().After(last) {
			stats.Skipped++
			return nil
		}

		err := t.Handle(ctx, record)
		switch {
		case err == nil:
			stats.Applied++
			return nil
		case errors.Is(err, errUnsupportedEvent):
			stats.Skipped++
			return nil
		}

		if abort, ok := position.AsAbort(err); ok {
			stats.Aborted++
			if abort.Hard() && t.cfg.Strict {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			return nil
		}
		if errors.Is(err, position.ErrNegativeLiquidity) || errors.Is(err, errBadPayload) {
			stats.Failed++
			t.logger.Warn("rejected event",
				zap.Int("line", lineNo),
				zap.String("tx_hash", record.TxHash),
				zap.String("event", record.EventName),
				zap.Error(err),
			)
			if t.cfg.Strict {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			return nil
		}
		return fmt.Errorf("line %d: %w", lineNo, err)
	})
	if err != nil {
		return stats, err
	}

	t.logger.Info("track complete",
		zap.Int("total", stats.Total),
		zap.Int("applied", stats.Applied),
		zap.Int("skipped", stats.Skipped),
		zap.Int("aborted", stats.Aborted),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}

var (
	errUnsupportedEvent = errors.New("unsupported event")
	errBadPayload       = errors.New("bad event payload")
)

// Handle refreshes the metadata snapshots carried by record and dispatches it
// to the engine.
func (t *Tracker) Handle(ctx context.Context, record model.TypedEventRecord) error {
	meta := position.EventMeta{
		TxHash:      record.TxHash,
		BlockNumber: record.BlockNumber,
		LogIndex:    record.LogIndex,
		Timestamp:   record.Timestamp,
		Sender:      record.Sender,
	}

	switch record.EventName {
	case model.EventIncreaseLiquidity, model.EventDecreaseLiquidity:
		ev, err := liquidityEvent(record, meta)
		if err != nil {
			return err
		}
		if err := t.refreshMeta(ctx, record); err != nil {
			return err
		}
		if record.EventName == model.EventIncreaseLiquidity {
			return t.engine.IncreaseLiquidity(ctx, ev)
		}
		return t.engine.DecreaseLiquidity(ctx, ev)
	case model.EventTransfer:
		ev, err := transferEvent(record, meta)
		if err != nil {
			return err
		}
		return t.engine.Transfer(ctx, ev)
	default:
		return fmt.Errorf("%w: %s", errUnsupportedEvent, record.EventName)
	}
}

// refreshMeta writes token snapshots first so the pool valuation reads the
// freshest prices.
func (t *Tracker) refreshMeta(ctx context.Context, record model.TypedEventRecord) error {
	for _, meta := range record.Tokens {
		if err := t.refreshToken(ctx, meta); err != nil {
			return err
		}
	}
	if record.PoolMeta == nil || record.PoolMeta.Address == "" {
		return nil
	}
	return t.refreshPool(ctx, *record.PoolMeta)
}

func (t *Tracker) refreshToken(ctx context.Context, meta model.TokenMeta) error {
	token := model.Token{
		Address:  meta.Address,
		Symbol:   meta.Symbol,
		Name:     meta.Name,
		Decimals: meta.Decimals,
	}
	p, ok, err := t.prices.PriceUSD(ctx, meta.Address)
	if err != nil {
		// A broken price source leaves the stored price in place.
		t.logger.Warn("price lookup failed", zap.String("token", meta.Address), zap.Error(err))
	} else if ok {
		token.LastPriceUSD = &p
	}
	if err := t.store.UpsertToken(ctx, token); err != nil {
		return fmt.Errorf("upsert token %s: %w", meta.Address, err)
	}
	return nil
}

func (t *Tracker) refreshPool(ctx context.Context, meta model.PoolMeta) error {
	pool := model.NewPoolFromMeta(meta)

	if meta.Liquidity == "" {
		// No live state at this block: keep the last valuation.
		lookup, err := t.store.Pool(ctx, meta.Address)
		if err != nil {
			return fmt.Errorf("load pool %s: %w", meta.Address, err)
		}
		existing := lookup.OrElse(model.Pool{TotalLiquidity: big.NewInt(0)})
		pool.TotalLiquidity = existing.TotalLiquidity
		pool.TotalLiquidityUSD = existing.TotalLiquidityUSD
	} else {
		liquidity, err := parseAmount(meta.Liquidity)
		if err != nil {
			return fmt.Errorf("%w: pool %s liquidity: %v", errBadPayload, meta.Address, err)
		}
		balances := make([]*big.Int, 0, 2)
		for _, raw := range []string{meta.Balance0, meta.Balance1} {
			balance, err := parseAmount(raw)
			if err != nil {
				return fmt.Errorf("%w: pool %s balance: %v", errBadPayload, meta.Address, err)
			}
			balances = append(balances, balance)
		}
		tokens := make([]model.Token, 0, len(pool.InputTokens))
		for _, address := range pool.InputTokens {
			lookup, err := t.store.Token(ctx, address)
			if err != nil {
				return fmt.Errorf("load token %s: %w", address, err)
			}
			tokens = append(tokens, lookup.OrElse(model.Token{Address: address}))
		}
		pool.TotalLiquidity = liquidity
		pool.TotalLiquidityUSD = valuation.SumUSD(balances, tokens)
	}

	if err := t.store.UpsertPoolMeta(ctx, pool); err != nil {
		return fmt.Errorf("upsert pool %s: %w", meta.Address, err)
	}
	return nil
}

func liquidityEvent(record model.TypedEventRecord, meta position.EventMeta) (position.LiquidityEvent, error) {
	// Increase and decrease payloads share a shape.
	var data model.IncreaseLiquidityEventData
	if err := json.Unmarshal(record.Decoded, &data); err != nil {
		return position.LiquidityEvent{}, fmt.Errorf("%w: %v", errBadPayload, err)
	}
	tokenID, err := parseTokenID(data.TokenID)
	if err != nil {
		return position.LiquidityEvent{}, err
	}
	liquidity, err := parseAmount(data.Liquidity)
	if err != nil {
		return position.LiquidityEvent{}, fmt.Errorf("%w: liquidity: %v", errBadPayload, err)
	}
	amount0, err := parseAmount(data.Amount0)
	if err != nil {
		return position.LiquidityEvent{}, fmt.Errorf("%w: amount0: %v", errBadPayload, err)
	}
	amount1, err := parseAmount(data.Amount1)
	if err != nil {
		return position.LiquidityEvent{}, fmt.Errorf("%w: amount1: %v", errBadPayload, err)
	}
	if record.EventName == model.EventDecreaseLiquidity {
		liquidity.Neg(liquidity)
	}
	return position.LiquidityEvent{
		EventMeta: meta,
		TokenID:   tokenID,
		Liquidity: liquidity,
		Amounts:   []*big.Int{amount0, amount1},
		Position:  record.Position,
	}, nil
}

func transferEvent(record model.TypedEventRecord, meta position.EventMeta) (position.TransferEvent, error) {
	var data model.TransferEventData
	if err := json.Unmarshal(record.Decoded, &data); err != nil {
		return position.TransferEvent{}, fmt.Errorf("%w: %v", errBadPayload, err)
	}
	tokenID, err := parseTokenID(data.TokenID)
	if err != nil {
		return position.TransferEvent{}, err
	}
	return position.TransferEvent{
		EventMeta: meta,
		TokenID:   tokenID,
		From:      data.From,
		To:        data.To,
		Position:  record.Position,
	}, nil
}

func parseTokenID(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: missing token id", errBadPayload)
	}
	id, ok := new(big.Int).SetString(raw, 10)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("%w: token id %q", errBadPayload, raw)
	}
	return id, nil
}

// parseAmount reads an unsigned decimal amount; blank is zero.
func parseAmount(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", raw)
	}
	return v, nil
}
