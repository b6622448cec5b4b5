package model

import "github.com/shopspring/decimal"

// Token is a read-only snapshot of a pool input token. A nil LastPriceUSD means
// no price has been observed yet.
type Token struct {
	Address      string
	Symbol       string
	Name         string
	Decimals     uint8
	LastPriceUSD *decimal.Decimal
}

// Clone returns a deep copy.
func (t Token) Clone() Token {
	out := t
	if t.LastPriceUSD != nil {
		price := *t.LastPriceUSD
		out.LastPriceUSD = &price
	}
	return out
}
