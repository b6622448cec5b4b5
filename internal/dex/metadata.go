package dex

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"positionScope/internal/chain"
	"positionScope/internal/model"
)

// Cache is a concurrency-safe map used for metadata that never changes once
// read from chain.
type Cache[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]V
}

func NewCache[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{data: make(map[K]V)}
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	v, ok := c.data[key]
	c.mu.RUnlock()
	return v, ok
}

func (c *Cache[K, V]) Set(key K, v V) {
	c.mu.Lock()
	c.data[key] = v
	c.mu.Unlock()
}

// PositionMetaCache caches position manager info by token id.
type PositionMetaCache = Cache[string, model.PositionMeta]

// PoolMetaCache caches pool metadata by address.
type PoolMetaCache = Cache[common.Address, model.PoolMeta]

// TokenMetaCache caches token metadata by address.
type TokenMetaCache = Cache[common.Address, model.TokenMeta]

// SenderCache caches transaction senders by tx hash.
type SenderCache = Cache[common.Hash, common.Address]

func NewPositionMetaCache() *PositionMetaCache { return NewCache[string, model.PositionMeta]() }
func NewPoolMetaCache() *PoolMetaCache         { return NewCache[common.Address, model.PoolMeta]() }
func NewTokenMetaCache() *TokenMetaCache       { return NewCache[common.Address, model.TokenMeta]() }
func NewSenderCache() *SenderCache             { return NewCache[common.Hash, common.Address]() }

// ResolveFactory reads the factory address from the position manager.
func ResolveFactory(ctx context.Context, chainClient *chain.Client, positionManager common.Address) (common.Address, error) {
	npmABI, err := PositionManagerABI()
	if err != nil {
		return common.Address{}, fmt.Errorf("parse position manager abi: %w", err)
	}
	values, err := callMethod(ctx, chainClient, positionManager, npmABI, "factory", nil)
	if err != nil {
		return common.Address{}, err
	}
	return asAddress(values[0])
}

// FetchPositionMeta reads positions(tokenId) at a block height and resolves
// the pool through the factory. It fails when the token id does not exist at
// that height (burned or not yet minted).
func FetchPositionMeta(ctx context.Context, chainClient *chain.Client, positionManager, factory common.Address, tokenID *big.Int, blockNumber uint64) (model.PositionMeta, error) {
	npmABI, err := PositionManagerABI()
	if err != nil {
		return model.PositionMeta{}, fmt.Errorf("parse position manager abi: %w", err)
	}
	facABI, err := FactoryABI()
	if err != nil {
		return model.PositionMeta{}, fmt.Errorf("parse factory abi: %w", err)
	}

	values, err := callMethod(ctx, chainClient, positionManager, npmABI, "positions", blockPtr(blockNumber), tokenID)
	if err != nil {
		return model.PositionMeta{}, err
	}
	if len(values) != 12 {
		return model.PositionMeta{}, fmt.Errorf("unexpected positions values: %d", len(values))
	}

	token0, err := asAddress(values[2])
	if err != nil {
		return model.PositionMeta{}, fmt.Errorf("token0: %w", err)
	}
	token1, err := asAddress(values[3])
	if err != nil {
		return model.PositionMeta{}, fmt.Errorf("token1: %w", err)
	}
	feeInt, err := asBigInt(values[4])
	if err != nil {
		return model.PositionMeta{}, fmt.Errorf("fee: %w", err)
	}
	lowerInt, err := asBigInt(values[5])
	if err != nil {
		return model.PositionMeta{}, fmt.Errorf("tick lower: %w", err)
	}
	tickLower, err := int24FromBig(lowerInt)
	if err != nil {
		return model.PositionMeta{}, fmt.Errorf("tick lower: %w", err)
	}
	upperInt, err := asBigInt(values[6])
	if err != nil {
		return model.PositionMeta{}, fmt.Errorf("tick upper: %w", err)
	}
	tickUpper, err := int24FromBig(upperInt)
	if err != nil {
		return model.PositionMeta{}, fmt.Errorf("tick upper: %w", err)
	}

	// getPool takes the fee as uint24, which go-ethereum packs from *big.Int.
	values, err = callMethod(ctx, chainClient, factory, facABI, "getPool", nil, token0, token1, feeInt)
	if err != nil {
		return model.PositionMeta{}, err
	}
	pool, err := asAddress(values[0])
	if err != nil {
		return model.PositionMeta{}, fmt.Errorf("pool: %w", err)
	}
	if pool == (common.Address{}) {
		return model.PositionMeta{}, fmt.Errorf("no pool for %s/%s fee %s", token0.Hex(), token1.Hex(), feeInt.String())
	}

	return model.PositionMeta{
		TokenID:   tokenID.String(),
		Pool:      pool.Hex(),
		Token0:    token0.Hex(),
		Token1:    token1.Hex(),
		Fee:       uint32(feeInt.Uint64()),
		TickLower: tickLower,
		TickUpper: tickUpper,
	}, nil
}

// FetchPoolMeta loads immutable pool metadata from chain and fills the token
// cache for both pool tokens.
func FetchPoolMeta(ctx context.Context, chainClient *chain.Client, pool common.Address, tokenCache *TokenMetaCache, logger *zap.Logger) (model.PoolMeta, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	parsed, err := PoolABI()
	if err != nil {
		return model.PoolMeta{}, fmt.Errorf("parse pool abi: %w", err)
	}

	values, err := callMethod(ctx, chainClient, pool, parsed, "token0", nil)
	if err != nil {
		return model.PoolMeta{}, err
	}
	token0, err := asAddress(values[0])
	if err != nil {
		return model.PoolMeta{}, fmt.Errorf("token0: %w", err)
	}

	values, err = callMethod(ctx, chainClient, pool, parsed, "token1", nil)
	if err != nil {
		return model.PoolMeta{}, err
	}
	token1, err := asAddress(values[0])
	if err != nil {
		return model.PoolMeta{}, fmt.Errorf("token1: %w", err)
	}

	values, err = callMethod(ctx, chainClient, pool, parsed, "fee", nil)
	if err != nil {
		return model.PoolMeta{}, err
	}
	feeInt, err := asBigInt(values[0])
	if err != nil {
		return model.PoolMeta{}, fmt.Errorf("fee: %w", err)
	}

	values, err = callMethod(ctx, chainClient, pool, parsed, "tickSpacing", nil)
	if err != nil {
		return model.PoolMeta{}, err
	}
	tickSpacingInt, err := asBigInt(values[0])
	if err != nil {
		return model.PoolMeta{}, fmt.Errorf("tick spacing: %w", err)
	}
	tickSpacing, err := int24FromBig(tickSpacingInt)
	if err != nil {
		return model.PoolMeta{}, fmt.Errorf("tick spacing: %w", err)
	}

	if tokenCache != nil {
		for _, token := range []common.Address{token0, token1} {
			if _, ok := tokenCache.Get(token); ok {
				continue
			}
			tokenMeta, err := FetchTokenMeta(ctx, chainClient, token, logger)
			if err != nil {
				// Decimals default to zero; the token is still cached so the
				// failing calls are not retried for every event.
				logger.Warn("token metadata fetch failed", zap.String("token", token.Hex()), zap.Error(err))
			}
			tokenCache.Set(token, tokenMeta)
		}
	}

	return model.PoolMeta{
		Address:     pool.Hex(),
		Token0:      token0.Hex(),
		Token1:      token1.Hex(),
		Fee:         uint32(feeInt.Uint64()),
		TickSpacing: tickSpacing,
	}, nil
}

// FetchPoolState reads in-range liquidity and the pool's token balances at a
// block height. Balances fall back to the latest block when the node has no
// state for the height. Missing fields are left empty.
func FetchPoolState(ctx context.Context, chainClient *chain.Client, meta model.PoolMeta, blockNumber uint64, logger *zap.Logger) model.PoolMeta {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool := common.HexToAddress(meta.Address)
	block := blockPtr(blockNumber)

	if parsed, err := PoolABI(); err == nil {
		if values, err := callMethod(ctx, chainClient, pool, parsed, "liquidity", block); err == nil {
			if liq, err := asBigInt(values[0]); err == nil {
				meta.Liquidity = liq.String()
			}
		} else {
			logger.Debug("liquidity call failed", zap.String("pool", meta.Address), zap.Error(err))
		}
	}

	token0 := common.HexToAddress(meta.Token0)
	token1 := common.HexToAddress(meta.Token1)
	bal0, err0 := balanceOf(ctx, chainClient, token0, pool, block)
	bal1, err1 := balanceOf(ctx, chainClient, token1, pool, block)
	if err0 != nil || err1 != nil {
		bal0, err0 = balanceOf(ctx, chainClient, token0, pool, nil)
		bal1, err1 = balanceOf(ctx, chainClient, token1, pool, nil)
	}
	if err0 == nil && err1 == nil {
		meta.Balance0 = bal0.String()
		meta.Balance1 = bal1.String()
	} else {
		logger.Debug("balanceOf failed", zap.String("pool", meta.Address), zap.NamedError("token0", err0), zap.NamedError("token1", err1))
	}
	return meta
}

func balanceOf(ctx context.Context, chainClient *chain.Client, token, owner common.Address, block *big.Int) (*big.Int, error) {
	parsed, err := erc20ABIStringInstance()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	values, err := callMethod(ctx, chainClient, token, parsed, "balanceOf", block, owner)
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0])
}

func callMethod(ctx context.Context, chainClient *chain.Client, to common.Address, parsed abi.ABI, method string, block *big.Int, args ...interface{}) ([]interface{}, error) {
	if chainClient == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	resp, err := chainClient.CallContract(ctx, msg, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return values, nil
}

// FetchTokenMeta loads token metadata via ERC20 calls.
func FetchTokenMeta(ctx context.Context, chainClient *chain.Client, token common.Address, logger *zap.Logger) (model.TokenMeta, error) {
	meta := model.TokenMeta{Address: token.Hex()}
	if logger == nil {
		logger = zap.NewNop()
	}

	stringABI, err := erc20ABIStringInstance()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 string abi: %w", err)
	}
	bytes32ABI, err := erc20ABIBytes32Instance()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	values, err := callMethod(ctx, chainClient, token, stringABI, "decimals", nil)
	if err != nil {
		return meta, err
	}
	decimals, err := asUint8(values[0])
	if err != nil {
		return meta, err
	}
	meta.Decimals = decimals

	meta.Symbol = readStringField(ctx, chainClient, token, "symbol", stringABI, bytes32ABI, logger)
	meta.Name = readStringField(ctx, chainClient, token, "name", stringABI, bytes32ABI, logger)
	return meta, nil
}

func readStringField(ctx context.Context, chainClient *chain.Client, token common.Address, method string, stringABI, bytes32ABI abi.ABI, logger *zap.Logger) string {
	if values, err := callMethod(ctx, chainClient, token, stringABI, method, nil); err == nil {
		if s, ok := values[0].(string); ok {
			return s
		}
	}
	values, err := callMethod(ctx, chainClient, token, bytes32ABI, method, nil)
	if err != nil {
		logger.Debug(method+" call failed", zap.String("token", token.Hex()), zap.Error(err))
		return ""
	}
	s, _ := bytes32ToString(values[0])
	return s
}

func blockPtr(blockNumber uint64) *big.Int {
	if blockNumber == 0 {
		return nil
	}
	return new(big.Int).SetUint64(blockNumber)
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int8:
		return big.NewInt(int64(v)), nil
	case int16:
		return big.NewInt(int64(v)), nil
	case int32:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case *big.Int:
		if !v.IsUint64() || v.Uint64() > 255 {
			return 0, fmt.Errorf("uint8 overflow: %s", v.String())
		}
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}

func int24FromBig(value *big.Int) (int32, error) {
	min := big.NewInt(-1 << 23)
	max := big.NewInt((1 << 23) - 1)
	if value.Cmp(min) < 0 || value.Cmp(max) > 0 {
		return 0, fmt.Errorf("int24 overflow: %s", value.String())
	}
	return int32(value.Int64()), nil
}
