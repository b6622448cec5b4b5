package price

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisConfig holds connection parameters for the price cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisSource reads prices published by an external feeder. Each token is a
// hash at "price:{address}" with fields "price" (decimal string) and "ts"
// (unix nanoseconds).
type RedisSource struct {
	rdb *redis.Client
}

// NewRedisSource connects and pings the server.
func NewRedisSource(ctx context.Context, cfg RedisConfig) (*RedisSource, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisSource{rdb: rdb}, nil
}

// NewRedisSourceFromClient wraps an existing client.
func NewRedisSourceFromClient(rdb *redis.Client) *RedisSource {
	return &RedisSource{rdb: rdb}
}

func priceKey(token string) string {
	return "price:" + normalize(token)
}

// PriceUSD reads the cached price. A missing key is a miss, not an error.
func (s *RedisSource) PriceUSD(ctx context.Context, token string) (decimal.Decimal, bool, error) {
	raw, err := s.rdb.HGet(ctx, priceKey(token), "price").Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("redis: get price %s: %w", token, err)
	}
	p, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("redis: parse price %s: %w", token, err)
	}
	return p, true, nil
}

// SetPrice publishes a price in the layout PriceUSD reads.
func (s *RedisSource) SetPrice(ctx context.Context, token string, p decimal.Decimal, ts time.Time) error {
	fields := map[string]interface{}{
		"price": p.String(),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := s.rdb.HSet(ctx, priceKey(token), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", token, err)
	}
	return nil
}

// Close closes the connection.
func (s *RedisSource) Close() error {
	return s.rdb.Close()
}
