// Package dex decodes position manager logs and reads the on-chain metadata
// the tracker needs to value positions.
package dex

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"positionScope/internal/chain"
	"positionScope/internal/model"
)

// Decoder defines a log decoder.
type Decoder interface {
	CanDecode(topic0 string) bool
	Decode(log model.LogRecord, ctx DecodeContext) (*model.TypedEvent, error)
}

// DecodeContext provides shared dependencies for decoders. Chain may be nil
// when every lookup is served from the caches.
type DecodeContext struct {
	Context           context.Context
	Chain             *chain.Client
	Factory           common.Address
	PositionMetaCache *PositionMetaCache
	PoolMetaCache     *PoolMetaCache
	TokenMetaCache    *TokenMetaCache
	SenderCache       *SenderCache
	Logger            *zap.Logger
	IncludeLiveMeta   bool
}

func (c DecodeContext) callContext() context.Context {
	if c.Context == nil {
		return context.Background()
	}
	return c.Context
}

func (c DecodeContext) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
