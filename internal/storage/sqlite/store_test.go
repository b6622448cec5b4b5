package sqlite

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"positionScope/internal/model"
	"positionScope/internal/position"
)

const (
	testPool   = "0x1111111111111111111111111111111111111111"
	testToken0 = "0xaAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa"
	testToken1 = "0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB"
	testOwner  = "0xA11CE00000000000000000000000000000000001"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "positions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreLookupsNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pos, err := store.Position(ctx, "1")
	require.NoError(t, err)
	_, ok := pos.Get()
	assert.False(t, ok)

	pool, err := store.Pool(ctx, testPool)
	require.NoError(t, err)
	_, ok = pool.Get()
	assert.False(t, ok)

	protocol, err := store.Protocol(ctx)
	require.NoError(t, err)
	_, ok = protocol.Get()
	assert.False(t, ok)

	_, ok, err = store.Cursor(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreApplyRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertPoolMeta(ctx, model.Pool{
		Address:           testPool,
		InputTokens:       []string{testToken0, testToken1},
		Fee:               3000,
		TickSpacing:       60,
		TotalLiquidity:    big.NewInt(1000),
		TotalLiquidityUSD: decimal.RequireFromString("5000.5"),
	}))

	closedHash := "0xclose"
	closedBlock := uint64(12)
	pos := model.Position{
		ID:                             "42",
		Pool:                           testPool,
		Account:                        testOwner,
		TickLower:                      -600,
		TickUpper:                      600,
		Liquidity:                      big.NewInt(0),
		LiquidityUSD:                   decimal.Zero,
		CumulativeDepositTokenAmounts:  []*big.Int{big.NewInt(5), big.NewInt(7)},
		CumulativeWithdrawTokenAmounts: []*big.Int{big.NewInt(5), big.NewInt(7)},
		CumulativeDepositUSD:           decimal.RequireFromString("12.25"),
		CumulativeWithdrawUSD:          decimal.RequireFromString("12.5"),
		DepositCount:                   1,
		WithdrawCount:                  1,
		HashOpened:                     "0xopen",
		BlockNumberOpened:              10,
		TimestampOpened:                1000,
		HashClosed:                     &closedHash,
		BlockNumberClosed:              &closedBlock,
	}
	snapshot := model.NewPositionSnapshot(pos, closedHash, model.Cursor{BlockNumber: 12, LogIndex: 3}, 1200)
	protocol := model.Protocol{ID: model.ProtocolID, OpenPositionCount: 0, CumulativePositionCount: 1}
	cs := position.ChangeSet{
		Position: pos,
		Pools: []model.Pool{{
			Address:             testPool,
			ClosedPositionCount: 1,
			PositionCount:       1,
		}},
		Accounts: []model.Account{{Address: testOwner, ClosedPositionCount: 1, PositionCount: 1}},
		Protocol: &protocol,
		Snapshot: &snapshot,
		Cursor:   model.Cursor{BlockNumber: 12, LogIndex: 3},
	}
	require.NoError(t, store.Apply(ctx, cs))
	// Replaying the same change set must not duplicate the snapshot.
	require.NoError(t, store.Apply(ctx, cs))

	t.Run("position", func(t *testing.T) {
		lookup, err := store.Position(ctx, "42")
		require.NoError(t, err)
		got, ok := lookup.Get()
		require.True(t, ok)
		assert.Equal(t, testOwner, got.Account)
		assert.Equal(t, int32(-600), got.TickLower)
		assert.Equal(t, 0, got.Liquidity.Sign())
		assert.Equal(t, "5", got.CumulativeDepositTokenAmounts[0].String())
		assert.Equal(t, "7", got.CumulativeWithdrawTokenAmounts[1].String())
		assert.True(t, got.CumulativeDepositUSD.Equal(decimal.RequireFromString("12.25")))
		require.NotNil(t, got.HashClosed)
		assert.Equal(t, closedHash, *got.HashClosed)
		require.NotNil(t, got.BlockNumberClosed)
		assert.Equal(t, uint64(12), *got.BlockNumberClosed)
		assert.Nil(t, got.TimestampClosed)
	})

	t.Run("pool keeps metadata", func(t *testing.T) {
		lookup, err := store.Pool(ctx, testPool)
		require.NoError(t, err)
		got, ok := lookup.Get()
		require.True(t, ok)
		assert.Equal(t, []string{testToken0, testToken1}, got.InputTokens)
		assert.Equal(t, "1000", got.TotalLiquidity.String())
		assert.True(t, got.TotalLiquidityUSD.Equal(decimal.RequireFromString("5000.5")))
		assert.Equal(t, uint64(1), got.ClosedPositionCount)
		assert.Equal(t, uint64(1), got.PositionCount)
	})

	t.Run("account and protocol", func(t *testing.T) {
		account, err := store.Account(ctx, testOwner)
		require.NoError(t, err)
		got, ok := account.Get()
		require.True(t, ok)
		assert.Equal(t, uint64(1), got.ClosedPositionCount)

		p, err := store.Protocol(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), p.OrElse(model.Protocol{}).CumulativePositionCount)
	})

	t.Run("cursor and snapshot", func(t *testing.T) {
		cursor, ok, err := store.Cursor(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, model.Cursor{BlockNumber: 12, LogIndex: 3}, cursor)

		var count int64
		require.NoError(t, store.db.Model(&snapshotRow{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("pool meta refresh keeps counters", func(t *testing.T) {
		require.NoError(t, store.UpsertPoolMeta(ctx, model.Pool{
			Address:           testPool,
			InputTokens:       []string{testToken0, testToken1},
			TotalLiquidity:    big.NewInt(2000),
			TotalLiquidityUSD: decimal.NewFromInt(9000),
		}))
		lookup, err := store.Pool(ctx, testPool)
		require.NoError(t, err)
		got := lookup.OrElse(model.Pool{})
		assert.Equal(t, "2000", got.TotalLiquidity.String())
		assert.Equal(t, uint64(1), got.PositionCount)
	})
}

func TestStoreUpsertTokenKeepsPrice(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	price := decimal.RequireFromString("1999.5")
	require.NoError(t, store.UpsertToken(ctx, model.Token{Address: testToken0, Symbol: "WETH", Decimals: 18, LastPriceUSD: &price}))
	require.NoError(t, store.UpsertToken(ctx, model.Token{Address: testToken0, Symbol: "WETH", Name: "Wrapped Ether", Decimals: 18}))

	lookup, err := store.Token(ctx, testToken0)
	require.NoError(t, err)
	got, ok := lookup.Get()
	require.True(t, ok)
	assert.Equal(t, "Wrapped Ether", got.Name)
	require.NotNil(t, got.LastPriceUSD)
	assert.True(t, got.LastPriceUSD.Equal(price))
}

func TestAmountsText(t *testing.T) {
	got, err := splitAmounts(joinAmounts([]*big.Int{big.NewInt(1), nil, big.NewInt(300)}))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "0", got[1].String())
	assert.Equal(t, "300", got[2].String())

	empty, err := splitAmounts("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = splitAmounts("1,x")
	assert.Error(t, err)
}
