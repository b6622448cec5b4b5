package model

// PoolMeta captures immutable pool metadata with optional live fields read at
// the event block.
type PoolMeta struct {
	Address     string `json:"address"`
	Token0      string `json:"token0"`
	Token1      string `json:"token1"`
	Fee         uint32 `json:"fee"`
	TickSpacing int32  `json:"tick_spacing"`
	Liquidity   string `json:"liquidity,omitempty"`
	Balance0    string `json:"balance0,omitempty"`
	Balance1    string `json:"balance1,omitempty"`
}

// InputTokens returns the pool tokens in pool order.
func (m PoolMeta) InputTokens() []string {
	return []string{m.Token0, m.Token1}
}

// PositionMeta is the position manager's view of a token id at the event block.
type PositionMeta struct {
	TokenID   string `json:"token_id"`
	Pool      string `json:"pool"`
	Token0    string `json:"token0"`
	Token1    string `json:"token1"`
	Fee       uint32 `json:"fee"`
	TickLower int32  `json:"tick_lower"`
	TickUpper int32  `json:"tick_upper"`
}
