// Package price resolves token USD prices for the tracker.
package price

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// Source returns the USD price of a token. ok is false when the source has no
// price for it; that is not an error.
type Source interface {
	PriceUSD(ctx context.Context, token string) (price decimal.Decimal, ok bool, err error)
}

// Chain asks each source in order and returns the first price found.
type Chain []Source

func (c Chain) PriceUSD(ctx context.Context, token string) (decimal.Decimal, bool, error) {
	for _, src := range c {
		if src == nil {
			continue
		}
		p, ok, err := src.PriceUSD(ctx, token)
		if err != nil {
			return decimal.Zero, false, err
		}
		if ok {
			return p, true, nil
		}
	}
	return decimal.Zero, false, nil
}

func normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
