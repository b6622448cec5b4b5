package price

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// StaticSource serves prices fixed at startup, keyed by token address.
type StaticSource struct {
	prices map[string]decimal.Decimal
}

// NewStaticSource parses a token address to decimal string map, as read from
// the prices section of the config.
func NewStaticSource(raw map[string]string) (*StaticSource, error) {
	prices := make(map[string]decimal.Decimal, len(raw))
	for token, value := range raw {
		p, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("parse price for %s: %w", token, err)
		}
		if p.IsNegative() {
			return nil, fmt.Errorf("negative price for %s: %s", token, value)
		}
		prices[normalize(token)] = p
	}
	return &StaticSource{prices: prices}, nil
}

func (s *StaticSource) PriceUSD(_ context.Context, token string) (decimal.Decimal, bool, error) {
	p, ok := s.prices[normalize(token)]
	return p, ok, nil
}

// Len returns the number of configured prices.
func (s *StaticSource) Len() int {
	return len(s.prices)
}
