package dex

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"positionScope/internal/model"
)

// DecoderConfig configures decoder behavior.
type DecoderConfig struct {
	// Topic0Map adds topic0 aliases for forks that renamed events.
	Topic0Map map[string]string
}

// PositionManagerDecoder decodes NonfungiblePositionManager events.
type PositionManagerDecoder struct {
	npmABI      abi.ABI
	topicToName map[string]string
}

// NewPositionManagerDecoder builds a position manager decoder.
func NewPositionManagerDecoder(cfg DecoderConfig) (*PositionManagerDecoder, error) {
	npmABI, err := PositionManagerABI()
	if err != nil {
		return nil, err
	}

	topicToName := make(map[string]string, 3+len(cfg.Topic0Map))
	for _, name := range []string{model.EventIncreaseLiquidity, model.EventDecreaseLiquidity, model.EventTransfer} {
		topicToName[strings.ToLower(npmABI.Events[name].ID.Hex())] = name
	}

	for topic0, name := range cfg.Topic0Map {
		original := name
		name = normalizeEventName(name)
		if name == "" {
			return nil, fmt.Errorf("unsupported event name in topic0 map: %s", original)
		}
		if topic0 == "" {
			continue
		}
		topicToName[strings.ToLower(topic0)] = name
	}

	return &PositionManagerDecoder{
		npmABI:      npmABI,
		topicToName: topicToName,
	}, nil
}

// CanDecode checks if the topic0 is supported.
func (d *PositionManagerDecoder) CanDecode(topic0 string) bool {
	if topic0 == "" {
		return false
	}
	_, ok := d.topicToName[strings.ToLower(topic0)]
	return ok
}

// Decode converts a LogRecord into a TypedEvent. Liquidity events are
// enriched with the transaction sender, the position's pool and tick range,
// pool metadata and token metadata. A position the manager no longer knows
// is emitted without position metadata.
func (d *PositionManagerDecoder) Decode(log model.LogRecord, ctx DecodeContext) (*model.TypedEvent, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("missing topics")
	}
	name, ok := d.topicToName[strings.ToLower(log.Topics[0])]
	if !ok {
		return nil, fmt.Errorf("unsupported topic0: %s", log.Topics[0])
	}
	if !common.IsHexAddress(log.Address) {
		return nil, fmt.Errorf("invalid position manager address: %s", log.Address)
	}

	switch name {
	case model.EventTransfer:
		decoded, err := d.decodeTransfer(log)
		if err != nil {
			return nil, err
		}
		return buildTypedEvent(log, name, decoded), nil
	case model.EventIncreaseLiquidity, model.EventDecreaseLiquidity:
		tokenID, liquidity, amount0, amount1, err := d.decodeLiquidity(log, name)
		if err != nil {
			return nil, err
		}
		var decoded interface{}
		if name == model.EventIncreaseLiquidity {
			decoded = model.IncreaseLiquidityEventData{
				TokenID:   tokenID.String(),
				Liquidity: liquidity.String(),
				Amount0:   amount0.String(),
				Amount1:   amount1.String(),
			}
		} else {
			decoded = model.DecreaseLiquidityEventData{
				TokenID:   tokenID.String(),
				Liquidity: liquidity.String(),
				Amount0:   amount0.String(),
				Amount1:   amount1.String(),
			}
		}
		event := buildTypedEvent(log, name, decoded)
		if err := enrich(event, log, tokenID, ctx); err != nil {
			return nil, err
		}
		return event, nil
	default:
		return nil, fmt.Errorf("unsupported event name: %s", name)
	}
}

func normalizeEventName(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "increaseliquidity":
		return model.EventIncreaseLiquidity
	case "decreaseliquidity":
		return model.EventDecreaseLiquidity
	case "transfer":
		return model.EventTransfer
	default:
		return ""
	}
}

func enrich(event *model.TypedEvent, log model.LogRecord, tokenID *big.Int, ctx DecodeContext) error {
	sender, err := getSender(ctx, log)
	if err != nil {
		return err
	}
	event.Sender = sender.Hex()

	positionMeta, err := getPositionMeta(ctx, common.HexToAddress(log.Address), tokenID, log.BlockNumber)
	if err != nil {
		ctx.logger().Warn("position metadata unavailable",
			zap.String("token_id", tokenID.String()),
			zap.String("tx_hash", log.TxHash),
			zap.Error(err),
		)
		return nil
	}
	event.Position = &positionMeta

	poolMeta, err := getPoolMeta(ctx, common.HexToAddress(positionMeta.Pool), log.BlockNumber)
	if err != nil {
		return err
	}
	event.PoolMeta = &poolMeta

	for _, token := range poolMeta.InputTokens() {
		if ctx.TokenMetaCache == nil {
			break
		}
		if meta, ok := ctx.TokenMetaCache.Get(common.HexToAddress(token)); ok {
			event.Tokens = append(event.Tokens, meta)
		}
	}
	return nil
}

func getSender(ctx DecodeContext, log model.LogRecord) (common.Address, error) {
	txHash := common.HexToHash(log.TxHash)
	if ctx.SenderCache != nil {
		if sender, ok := ctx.SenderCache.Get(txHash); ok {
			return sender, nil
		}
	}
	if ctx.Chain == nil {
		return common.Address{}, fmt.Errorf("chain client is nil")
	}
	sender, err := ctx.Chain.TransactionSender(ctx.callContext(), txHash, common.HexToHash(log.BlockHash), uint(log.TxIndex))
	if err != nil {
		return common.Address{}, err
	}
	if ctx.SenderCache != nil {
		ctx.SenderCache.Set(txHash, sender)
	}
	return sender, nil
}

func getPositionMeta(ctx DecodeContext, positionManager common.Address, tokenID *big.Int, blockNumber uint64) (model.PositionMeta, error) {
	key := tokenID.String()
	if ctx.PositionMetaCache != nil {
		if meta, ok := ctx.PositionMetaCache.Get(key); ok {
			return meta, nil
		}
	}
	if ctx.Chain == nil {
		return model.PositionMeta{}, fmt.Errorf("chain client is nil")
	}

	factory := ctx.Factory
	if factory == (common.Address{}) {
		resolved, err := ResolveFactory(ctx.callContext(), ctx.Chain, positionManager)
		if err != nil {
			return model.PositionMeta{}, fmt.Errorf("resolve factory: %w", err)
		}
		factory = resolved
	}

	meta, err := FetchPositionMeta(ctx.callContext(), ctx.Chain, positionManager, factory, tokenID, blockNumber)
	if err != nil {
		return model.PositionMeta{}, err
	}
	if ctx.PositionMetaCache != nil {
		ctx.PositionMetaCache.Set(key, meta)
	}
	return meta, nil
}

func getPoolMeta(ctx DecodeContext, pool common.Address, blockNumber uint64) (model.PoolMeta, error) {
	var meta model.PoolMeta
	var ok bool
	if ctx.PoolMetaCache != nil {
		meta, ok = ctx.PoolMetaCache.Get(pool)
	}

	if !ok {
		if ctx.Chain == nil {
			return model.PoolMeta{}, fmt.Errorf("chain client is nil")
		}
		var err error
		meta, err = FetchPoolMeta(ctx.callContext(), ctx.Chain, pool, ctx.TokenMetaCache, ctx.Logger)
		if err != nil {
			return model.PoolMeta{}, err
		}
		if ctx.PoolMetaCache != nil {
			ctx.PoolMetaCache.Set(pool, meta)
		}
	}

	if ctx.IncludeLiveMeta && ctx.Chain != nil {
		meta = FetchPoolState(ctx.callContext(), ctx.Chain, meta, blockNumber, ctx.Logger)
	}
	return meta, nil
}

func buildTypedEvent(log model.LogRecord, name string, decoded interface{}) *model.TypedEvent {
	raw := &model.RawLogRef{Topic0: log.Topics[0], Data: log.Data}
	return &model.TypedEvent{
		ChainID:     log.ChainID,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash,
		TxHash:      log.TxHash,
		LogIndex:    log.LogIndex,
		Address:     log.Address,
		EventName:   name,
		Timestamp:   log.Timestamp,
		Decoded:     decoded,
		Raw:         raw,
	}
}

func (d *PositionManagerDecoder) decodeLiquidity(log model.LogRecord, name string) (tokenID, liquidity, amount0, amount1 *big.Int, err error) {
	event := d.npmABI.Events[name]
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	var indexed struct {
		TokenId *big.Int
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("parse topics: %w", err)
	}

	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if len(values) != 3 {
		return nil, nil, nil, nil, fmt.Errorf("unexpected %s values: %d", name, len(values))
	}

	if liquidity, err = asBigInt(values[0]); err != nil {
		return nil, nil, nil, nil, err
	}
	if amount0, err = asBigInt(values[1]); err != nil {
		return nil, nil, nil, nil, err
	}
	if amount1, err = asBigInt(values[2]); err != nil {
		return nil, nil, nil, nil, err
	}
	return indexed.TokenId, liquidity, amount0, amount1, nil
}

func (d *PositionManagerDecoder) decodeTransfer(log model.LogRecord) (model.TransferEventData, error) {
	event := d.npmABI.Events[model.EventTransfer]
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return model.TransferEventData{}, err
	}

	var indexed struct {
		From    common.Address
		To      common.Address
		TokenId *big.Int
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return model.TransferEventData{}, fmt.Errorf("parse topics: %w", err)
	}

	return model.TransferEventData{
		From:    indexed.From.Hex(),
		To:      indexed.To.Hex(),
		TokenID: indexed.TokenId.String(),
	}, nil
}

func parseIndexedTopics(event abi.Event, topics []string) ([]common.Hash, error) {
	indexedCount := len(indexedArguments(event.Inputs))
	if len(topics) != indexedCount+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", indexedCount+1, len(topics))
	}
	return parseTopicHashes(topics[1:])
}

func parseTopicHashes(topics []string) ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(topics))
	for _, topic := range topics {
		data, err := hexutil.Decode(topic)
		if err != nil {
			return nil, fmt.Errorf("invalid topic: %w", err)
		}
		if len(data) > 32 {
			return nil, fmt.Errorf("topic length %d", len(data))
		}
		out = append(out, common.BytesToHash(data))
	}
	return out, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func unpackNonIndexed(event abi.Event, dataHex string) ([]interface{}, error) {
	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	return values, nil
}
