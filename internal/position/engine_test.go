package position_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"positionScope/internal/model"
	"positionScope/internal/position"
	"positionScope/internal/storage/memory"
)

const (
	poolAddr  = "0x1111111111111111111111111111111111111111"
	wethAddr  = "0xaAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa"
	usdcAddr  = "0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB"
	alice     = "0xA11CE00000000000000000000000000000000001"
	bob       = "0xB0B0000000000000000000000000000000000002"
	zeroAddr  = "0x0000000000000000000000000000000000000000"
	unknownPl = "0x9999999999999999999999999999999999999999"
)

var oneEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

type harness struct {
	t      *testing.T
	ctx    context.Context
	store  *memory.Store
	engine *position.Engine
	block  uint64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	require.NoError(t, store.UpsertPoolMeta(ctx, model.Pool{
		Address:           poolAddr,
		InputTokens:       []string{wethAddr, usdcAddr},
		Fee:               500,
		TotalLiquidity:    big.NewInt(1000),
		TotalLiquidityUSD: decimal.NewFromInt(5000),
	}))
	wethPrice := decimal.NewFromInt(2000)
	usdcPrice := decimal.NewFromInt(1)
	require.NoError(t, store.UpsertToken(ctx, model.Token{Address: wethAddr, Decimals: 18, LastPriceUSD: &wethPrice}))
	require.NoError(t, store.UpsertToken(ctx, model.Token{Address: usdcAddr, Decimals: 6, LastPriceUSD: &usdcPrice}))

	return &harness{t: t, ctx: ctx, store: store, engine: newEngine(t, store), block: 100}
}

func newEngine(t *testing.T, store position.Store) *position.Engine {
	t.Helper()
	engine, err := position.NewEngine(context.Background(), position.Config{Registry: prometheus.NewRegistry()}, store, zap.NewNop())
	require.NoError(t, err)
	return engine
}

func (h *harness) meta(tx string) position.EventMeta {
	h.block++
	return position.EventMeta{
		TxHash:      tx,
		BlockNumber: h.block,
		LogIndex:    1,
		Timestamp:   1_700_000_000 + h.block,
		Sender:      alice,
	}
}

func positionInfo(tokenID int64, pool string) *model.PositionMeta {
	return &model.PositionMeta{
		TokenID:   big.NewInt(tokenID).String(),
		Pool:      pool,
		Token0:    wethAddr,
		Token1:    usdcAddr,
		Fee:       500,
		TickLower: -600,
		TickUpper: 600,
	}
}

func (h *harness) increase(tokenID int64, tx string, liquidity int64, amounts ...*big.Int) error {
	return h.engine.IncreaseLiquidity(h.ctx, position.LiquidityEvent{
		EventMeta: h.meta(tx),
		TokenID:   big.NewInt(tokenID),
		Liquidity: big.NewInt(liquidity),
		Amounts:   amounts,
		Position:  positionInfo(tokenID, poolAddr),
	})
}

func (h *harness) decrease(tokenID int64, tx string, liquidity int64, amounts ...*big.Int) error {
	return h.engine.DecreaseLiquidity(h.ctx, position.LiquidityEvent{
		EventMeta: h.meta(tx),
		TokenID:   big.NewInt(tokenID),
		Liquidity: big.NewInt(-liquidity),
		Amounts:   amounts,
	})
}

func (h *harness) transfer(tokenID int64, from, to string) error {
	return h.engine.Transfer(h.ctx, position.TransferEvent{
		EventMeta: h.meta("0xtransfer"),
		TokenID:   big.NewInt(tokenID),
		From:      from,
		To:        to,
	})
}

func (h *harness) position(id string) model.Position {
	h.t.Helper()
	lookup, err := h.store.Position(h.ctx, id)
	require.NoError(h.t, err)
	pos, ok := lookup.Get()
	require.True(h.t, ok, "position %s should exist", id)
	return pos
}

func (h *harness) pool() model.Pool {
	h.t.Helper()
	lookup, err := h.store.Pool(h.ctx, poolAddr)
	require.NoError(h.t, err)
	pool, ok := lookup.Get()
	require.True(h.t, ok)
	return pool
}

func (h *harness) account(address string) model.Account {
	h.t.Helper()
	lookup, err := h.store.Account(h.ctx, address)
	require.NoError(h.t, err)
	return lookup.OrElse(model.Account{Address: address})
}

func (h *harness) protocol() model.Protocol {
	h.t.Helper()
	lookup, err := h.store.Protocol(h.ctx)
	require.NoError(h.t, err)
	return lookup.OrElse(model.Protocol{})
}

func (h *harness) assertCounterIdentity() {
	h.t.Helper()
	pool := h.pool()
	assert.Equal(h.t, pool.PositionCount, pool.OpenPositionCount+pool.ClosedPositionCount, "pool open+closed")
	for _, address := range []string{alice, bob} {
		account := h.account(address)
		assert.Equal(h.t, account.PositionCount, account.OpenPositionCount+account.ClosedPositionCount, "account %s open+closed", address)
	}
	protocol := h.protocol()
	assert.LessOrEqual(h.t, protocol.OpenPositionCount, protocol.CumulativePositionCount)
}

func TestPositionLifecycle(t *testing.T) {
	h := newHarness(t)

	t.Run("first increase opens the position", func(t *testing.T) {
		require.NoError(t, h.increase(1, "0xopen", 100, oneEther, big.NewInt(500_000_000)))

		pos := h.position("1")
		assert.Equal(t, int64(100), pos.Liquidity.Int64())
		assert.Nil(t, pos.HashClosed)
		assert.Equal(t, alice, pos.Account)
		assert.Equal(t, "0xopen", pos.HashOpened)
		assert.Equal(t, uint64(1), pos.DepositCount)
		assert.True(t, pos.LiquidityUSD.Equal(decimal.NewFromInt(500)), pos.LiquidityUSD.String())
		assert.True(t, pos.CumulativeDepositUSD.Equal(decimal.NewFromInt(2500)), pos.CumulativeDepositUSD.String())

		pool := h.pool()
		assert.Equal(t, uint64(1), pool.OpenPositionCount)
		assert.Equal(t, uint64(0), pool.ClosedPositionCount)
		assert.Equal(t, uint64(1), pool.PositionCount)

		account := h.account(alice)
		assert.Equal(t, uint64(1), account.OpenPositionCount)
		assert.Equal(t, uint64(1), account.PositionCount)

		protocol := h.protocol()
		assert.Equal(t, uint64(1), protocol.OpenPositionCount)
		assert.Equal(t, uint64(1), protocol.CumulativePositionCount)
		assert.Equal(t, protocol, h.engine.Protocol())
	})

	t.Run("decrease to zero closes and stamps the position", func(t *testing.T) {
		require.NoError(t, h.decrease(1, "0xclose", 100, oneEther, big.NewInt(400_000_000)))

		pos := h.position("1")
		assert.Equal(t, int64(0), pos.Liquidity.Int64())
		require.NotNil(t, pos.HashClosed)
		assert.Equal(t, "0xclose", *pos.HashClosed)
		require.NotNil(t, pos.BlockNumberClosed)
		assert.Equal(t, h.block, *pos.BlockNumberClosed)
		require.NotNil(t, pos.TimestampClosed)
		assert.Equal(t, uint64(1), pos.WithdrawCount)
		assert.True(t, pos.LiquidityUSD.IsZero())
		assert.True(t, pos.CumulativeWithdrawUSD.Equal(decimal.NewFromInt(2400)), pos.CumulativeWithdrawUSD.String())

		pool := h.pool()
		assert.Equal(t, uint64(0), pool.OpenPositionCount)
		assert.Equal(t, uint64(1), pool.ClosedPositionCount)
		assert.Equal(t, uint64(1), pool.PositionCount)

		account := h.account(alice)
		assert.Equal(t, uint64(0), account.OpenPositionCount)
		assert.Equal(t, uint64(1), account.ClosedPositionCount)

		assert.Equal(t, uint64(0), h.protocol().OpenPositionCount)
		assert.Equal(t, uint64(1), h.protocol().CumulativePositionCount)
	})

	t.Run("increase after close re-opens without counting a new position", func(t *testing.T) {
		require.NoError(t, h.increase(1, "0xreopen", 50, big.NewInt(0), big.NewInt(0)))

		pos := h.position("1")
		assert.Equal(t, int64(50), pos.Liquidity.Int64())
		assert.Nil(t, pos.HashClosed)
		assert.Nil(t, pos.BlockNumberClosed)
		assert.Nil(t, pos.TimestampClosed)
		assert.Equal(t, uint64(2), pos.DepositCount)

		pool := h.pool()
		assert.Equal(t, uint64(1), pool.OpenPositionCount)
		assert.Equal(t, uint64(0), pool.ClosedPositionCount)
		assert.Equal(t, uint64(1), pool.PositionCount)

		protocol := h.protocol()
		assert.Equal(t, uint64(1), protocol.OpenPositionCount)
		assert.Equal(t, uint64(1), protocol.CumulativePositionCount)
	})

	t.Run("increase on an open position leaves counters alone", func(t *testing.T) {
		before := h.pool()
		require.NoError(t, h.increase(1, "0xtopup", 25, big.NewInt(1), big.NewInt(1)))

		assert.Equal(t, int64(75), h.position("1").Liquidity.Int64())
		after := h.pool()
		assert.Equal(t, before.OpenPositionCount, after.OpenPositionCount)
		assert.Equal(t, before.PositionCount, after.PositionCount)
	})

	t.Run("partial decrease leaves counters alone", func(t *testing.T) {
		before := h.pool()
		require.NoError(t, h.decrease(1, "0xpartial", 70, big.NewInt(1), big.NewInt(1)))

		pos := h.position("1")
		assert.Equal(t, int64(5), pos.Liquidity.Int64())
		assert.Nil(t, pos.HashClosed)
		assert.Equal(t, before.OpenPositionCount, h.pool().OpenPositionCount)
		assert.Equal(t, before.ClosedPositionCount, h.pool().ClosedPositionCount)
	})

	t.Run("one snapshot per liquidity event", func(t *testing.T) {
		snaps := h.store.Snapshots("1")
		require.Len(t, snaps, 5)
		assert.Equal(t, "0xopen", snaps[0].Hash)
		assert.Equal(t, int64(100), snaps[0].Liquidity.Int64())
		assert.Equal(t, "0xclose", snaps[1].Hash)
		assert.Equal(t, int64(0), snaps[1].Liquidity.Int64())
		assert.Equal(t, int64(5), snaps[4].Liquidity.Int64())
	})
}

func TestCounterIdentityAcrossEventSequence(t *testing.T) {
	h := newHarness(t)

	steps := []struct {
		tokenID   int64
		increase  bool
		liquidity int64
	}{
		{1, true, 10},
		{2, true, 20},
		{1, false, 10},
		{3, true, 5},
		{2, false, 5},
		{1, true, 7},
		{2, false, 15},
		{3, false, 5},
		{3, true, 1},
		{1, false, 7},
	}

	for _, step := range steps {
		var err error
		if step.increase {
			err = h.increase(step.tokenID, "0xseq", step.liquidity, big.NewInt(1), big.NewInt(1))
		} else {
			err = h.decrease(step.tokenID, "0xseq", step.liquidity, big.NewInt(1), big.NewInt(1))
		}
		require.NoError(t, err)
		h.assertCounterIdentity()
	}

	pool := h.pool()
	assert.Equal(t, uint64(3), pool.PositionCount)
	assert.Equal(t, uint64(1), pool.OpenPositionCount)
	assert.Equal(t, uint64(2), pool.ClosedPositionCount)
	assert.Equal(t, uint64(3), h.protocol().CumulativePositionCount)
	assert.Equal(t, uint64(1), h.protocol().OpenPositionCount)
}

func TestAborts(t *testing.T) {
	t.Run("unresolvable position is a hard abort", func(t *testing.T) {
		h := newHarness(t)

		err := h.decrease(42, "0xghost", 10)
		require.Error(t, err)
		assert.True(t, errors.Is(err, position.ErrPositionNotFound))
		abort, ok := position.AsAbort(err)
		require.True(t, ok)
		assert.True(t, abort.Hard())
		assert.Equal(t, "42", abort.TokenID)
		assert.Equal(t, "0xghost", abort.TxHash)

		lookup, err := h.store.Position(h.ctx, "42")
		require.NoError(t, err)
		_, found := lookup.Get()
		assert.False(t, found)
		_, ok, err = h.store.Cursor(h.ctx)
		require.NoError(t, err)
		assert.False(t, ok, "nothing may be persisted")
	})

	t.Run("unknown pool is a soft abort", func(t *testing.T) {
		h := newHarness(t)

		err := h.engine.IncreaseLiquidity(h.ctx, position.LiquidityEvent{
			EventMeta: h.meta("0xorphan"),
			TokenID:   big.NewInt(7),
			Liquidity: big.NewInt(10),
			Amounts:   []*big.Int{big.NewInt(1), big.NewInt(1)},
			Position:  positionInfo(7, unknownPl),
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, position.ErrPoolNotFound))
		abort, ok := position.AsAbort(err)
		require.True(t, ok)
		assert.False(t, abort.Hard())
		assert.Equal(t, "7", abort.PositionID)

		lookup, err := h.store.Position(h.ctx, "7")
		require.NoError(t, err)
		_, found := lookup.Get()
		assert.False(t, found)
		assert.Equal(t, uint64(0), h.account(alice).PositionCount)
		assert.Equal(t, uint64(0), h.protocol().CumulativePositionCount)
	})

	t.Run("liquidity below zero is rejected", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.increase(1, "0xopen", 10, big.NewInt(1), big.NewInt(1)))

		err := h.decrease(1, "0xover", 11)
		require.ErrorIs(t, err, position.ErrNegativeLiquidity)
		assert.Equal(t, int64(10), h.position("1").Liquidity.Int64())
		assert.Equal(t, uint64(1), h.pool().OpenPositionCount)
	})
}

func TestValuationPolicies(t *testing.T) {
	t.Run("zero liquidity changes do not move counters", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.increase(1, "0xempty", 0, big.NewInt(0), big.NewInt(0)))
		assert.Equal(t, uint64(0), h.pool().OpenPositionCount)
		assert.Equal(t, uint64(0), h.pool().PositionCount)

		require.NoError(t, h.increase(1, "0xopen", 10, big.NewInt(1), big.NewInt(1)))
		require.NoError(t, h.decrease(1, "0xclose", 10, big.NewInt(1), big.NewInt(1)))
		require.NoError(t, h.decrease(1, "0xagain", 0, big.NewInt(0), big.NewInt(0)))

		pool := h.pool()
		assert.Equal(t, uint64(1), pool.PositionCount)
		assert.Equal(t, uint64(1), pool.ClosedPositionCount)
		assert.Equal(t, uint64(0), pool.OpenPositionCount)
		assert.Equal(t, "0xclose", *h.position("1").HashClosed)
		h.assertCounterIdentity()
	})

	t.Run("token without price contributes zero", func(t *testing.T) {
		h := newHarness(t)
		unpricedStore := memory.NewStore()
		require.NoError(t, unpricedStore.UpsertPoolMeta(h.ctx, h.pool()))
		usdcPrice := decimal.NewFromInt(1)
		require.NoError(t, unpricedStore.UpsertToken(h.ctx, model.Token{Address: wethAddr, Decimals: 18}))
		require.NoError(t, unpricedStore.UpsertToken(h.ctx, model.Token{Address: usdcAddr, Decimals: 6, LastPriceUSD: &usdcPrice}))
		h.store = unpricedStore
		h.engine = newEngine(t, unpricedStore)

		require.NoError(t, h.increase(1, "0xopen", 100, oneEther, big.NewInt(3_000_000)))
		assert.True(t, h.position("1").CumulativeDepositUSD.Equal(decimal.NewFromInt(3)))
	})

	t.Run("zero pool liquidity values the position at zero", func(t *testing.T) {
		h := newHarness(t)
		pool := h.pool()
		pool.TotalLiquidity = big.NewInt(0)
		require.NoError(t, h.store.UpsertPoolMeta(h.ctx, pool))

		require.NoError(t, h.increase(1, "0xopen", 100, oneEther, big.NewInt(0)))
		assert.True(t, h.position("1").LiquidityUSD.IsZero())
	})
}

func TestTransfer(t *testing.T) {
	t.Run("transfer from the zero address is a no-op", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.increase(1, "0xopen", 100, big.NewInt(1), big.NewInt(1)))
		before := h.position("1")
		cursor, _, err := h.store.Cursor(h.ctx)
		require.NoError(t, err)

		require.NoError(t, h.transfer(1, zeroAddr, bob))

		assert.Equal(t, before.Account, h.position("1").Account)
		assert.Len(t, h.store.Snapshots("1"), 1)
		assert.Equal(t, model.Account{Address: bob}, h.account(bob))
		assert.Equal(t, uint64(1), h.account(alice).PositionCount)
		after, _, err := h.store.Cursor(h.ctx)
		require.NoError(t, err)
		assert.Equal(t, cursor, after)
	})

	t.Run("open position moves open counters", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.increase(1, "0xopen", 100, big.NewInt(1), big.NewInt(1)))
		poolBefore := h.pool()
		protocolBefore := h.protocol()

		require.NoError(t, h.transfer(1, alice, bob))

		assert.Equal(t, bob, h.position("1").Account)
		snaps := h.store.Snapshots("1")
		require.Len(t, snaps, 2)
		assert.Equal(t, alice, snaps[0].Account)
		assert.Equal(t, bob, snaps[1].Account)
		assert.Equal(t, int64(1), snaps[1].Liquidity.Int64())
		a := h.account(alice)
		b := h.account(bob)
		assert.Equal(t, uint64(0), a.PositionCount)
		assert.Equal(t, uint64(0), a.OpenPositionCount)
		assert.Equal(t, uint64(1), b.PositionCount)
		assert.Equal(t, uint64(1), b.OpenPositionCount)
		assert.Equal(t, uint64(0), b.ClosedPositionCount)
		assert.Equal(t, poolBefore, h.pool())
		assert.Equal(t, protocolBefore, h.protocol())
		h.assertCounterIdentity()
	})

	t.Run("closed position moves closed counters", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.increase(1, "0xopen", 100, big.NewInt(1), big.NewInt(1)))
		require.NoError(t, h.decrease(1, "0xclose", 100, big.NewInt(1), big.NewInt(1)))

		require.NoError(t, h.transfer(1, alice, bob))

		a := h.account(alice)
		b := h.account(bob)
		assert.Equal(t, uint64(0), a.ClosedPositionCount)
		assert.Equal(t, uint64(0), a.PositionCount)
		assert.Equal(t, uint64(1), b.ClosedPositionCount)
		assert.Equal(t, uint64(0), b.OpenPositionCount)
		assert.Equal(t, uint64(1), b.PositionCount)
		h.assertCounterIdentity()

		require.NoError(t, h.increase(1, "0xreopen", 10, big.NewInt(1), big.NewInt(1)))
		b = h.account(bob)
		assert.Equal(t, uint64(1), b.OpenPositionCount)
		assert.Equal(t, uint64(0), b.ClosedPositionCount)
		h.assertCounterIdentity()
	})

	t.Run("transfer to self only rewrites ownership", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.increase(1, "0xopen", 100, big.NewInt(1), big.NewInt(1)))
		before := h.account(alice)

		require.NoError(t, h.transfer(1, alice, alice))

		assert.Equal(t, before, h.account(alice))
		assert.Equal(t, alice, h.position("1").Account)
	})

	t.Run("unknown position is a hard abort", func(t *testing.T) {
		h := newHarness(t)

		err := h.transfer(99, alice, bob)
		require.ErrorIs(t, err, position.ErrPositionNotFound)
		assert.Equal(t, model.Account{Address: bob}, h.account(bob))
	})
}

type failingStore struct {
	*memory.Store
	err error
}

func (s *failingStore) Apply(ctx context.Context, cs position.ChangeSet) error {
	if s.err != nil {
		return s.err
	}
	return s.Store.Apply(ctx, cs)
}

func TestFailedApplyKeepsProtocolHandle(t *testing.T) {
	h := newHarness(t)
	store := &failingStore{Store: h.store, err: errors.New("disk full")}
	engine := newEngine(t, store)

	err := engine.IncreaseLiquidity(h.ctx, position.LiquidityEvent{
		EventMeta: h.meta("0xopen"),
		TokenID:   big.NewInt(1),
		Liquidity: big.NewInt(100),
		Amounts:   []*big.Int{big.NewInt(1), big.NewInt(1)},
		Position:  positionInfo(1, poolAddr),
	})
	require.Error(t, err)
	_, isAbort := position.AsAbort(err)
	assert.False(t, isAbort)
	assert.Equal(t, model.Protocol{ID: model.ProtocolID}, engine.Protocol())

	store.err = nil
	require.NoError(t, engine.IncreaseLiquidity(h.ctx, position.LiquidityEvent{
		EventMeta: h.meta("0xopen"),
		TokenID:   big.NewInt(1),
		Liquidity: big.NewInt(100),
		Amounts:   []*big.Int{big.NewInt(1), big.NewInt(1)},
		Position:  positionInfo(1, poolAddr),
	}))
	assert.Equal(t, uint64(1), engine.Protocol().CumulativePositionCount)
}

func TestEngineResumesProtocolFromStore(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.increase(1, "0xopen", 100, big.NewInt(1), big.NewInt(1)))
	require.NoError(t, h.increase(2, "0xopen2", 100, big.NewInt(1), big.NewInt(1)))

	resumed := newEngine(t, h.store)
	assert.Equal(t, uint64(2), resumed.Protocol().OpenPositionCount)
	assert.Equal(t, uint64(2), resumed.Protocol().CumulativePositionCount)
}
