package sqlite

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"positionScope/internal/model"
)

// Big integers and decimals are stored as TEXT; sqlite has no exact numeric
// type wide enough for uint256 amounts.

type tokenRow struct {
	Address      string  `gorm:"column:address;primaryKey"`
	Symbol       string  `gorm:"column:symbol"`
	Name         string  `gorm:"column:name"`
	Decimals     int     `gorm:"column:decimals"`
	LastPriceUSD *string `gorm:"column:last_price_usd"`
}

func (tokenRow) TableName() string { return "tokens" }

type poolRow struct {
	Address             string `gorm:"column:address;primaryKey"`
	InputTokens         string `gorm:"column:input_tokens"`
	Fee                 int64  `gorm:"column:fee"`
	TickSpacing         int32  `gorm:"column:tick_spacing"`
	TotalLiquidity      string `gorm:"column:total_liquidity"`
	TotalLiquidityUSD   string `gorm:"column:total_liquidity_usd"`
	OpenPositionCount   int64  `gorm:"column:open_position_count"`
	ClosedPositionCount int64  `gorm:"column:closed_position_count"`
	PositionCount       int64  `gorm:"column:position_count"`
}

func (poolRow) TableName() string { return "pools" }

type accountRow struct {
	Address             string `gorm:"column:address;primaryKey"`
	OpenPositionCount   int64  `gorm:"column:open_position_count"`
	ClosedPositionCount int64  `gorm:"column:closed_position_count"`
	PositionCount       int64  `gorm:"column:position_count"`
}

func (accountRow) TableName() string { return "accounts" }

type protocolRow struct {
	ID                      string `gorm:"column:id;primaryKey"`
	OpenPositionCount       int64  `gorm:"column:open_position_count"`
	CumulativePositionCount int64  `gorm:"column:cumulative_position_count"`
}

func (protocolRow) TableName() string { return "protocol" }

type positionRow struct {
	ID                             string  `gorm:"column:id;primaryKey"`
	Pool                           string  `gorm:"column:pool;index"`
	Account                        string  `gorm:"column:account;index"`
	TickLower                      int32   `gorm:"column:tick_lower"`
	TickUpper                      int32   `gorm:"column:tick_upper"`
	Liquidity                      string  `gorm:"column:liquidity"`
	LiquidityUSD                   string  `gorm:"column:liquidity_usd"`
	CumulativeDepositTokenAmounts  string  `gorm:"column:cumulative_deposit_token_amounts"`
	CumulativeWithdrawTokenAmounts string  `gorm:"column:cumulative_withdraw_token_amounts"`
	CumulativeDepositUSD           string  `gorm:"column:cumulative_deposit_usd"`
	CumulativeWithdrawUSD          string  `gorm:"column:cumulative_withdraw_usd"`
	DepositCount                   int64   `gorm:"column:deposit_count"`
	WithdrawCount                  int64   `gorm:"column:withdraw_count"`
	HashOpened                     string  `gorm:"column:hash_opened"`
	BlockNumberOpened              int64   `gorm:"column:block_number_opened"`
	TimestampOpened                int64   `gorm:"column:timestamp_opened"`
	HashClosed                     *string `gorm:"column:hash_closed"`
	BlockNumberClosed              *int64  `gorm:"column:block_number_closed"`
	TimestampClosed                *int64  `gorm:"column:timestamp_closed"`
}

func (positionRow) TableName() string { return "positions" }

type snapshotRow struct {
	ID                             string `gorm:"column:id;primaryKey"`
	Position                       string `gorm:"column:position;index:idx_snapshot_position,priority:1"`
	Account                        string `gorm:"column:account"`
	Hash                           string `gorm:"column:hash"`
	BlockNumber                    int64  `gorm:"column:block_number;index:idx_snapshot_position,priority:2"`
	LogIndex                       int64  `gorm:"column:log_index;index:idx_snapshot_position,priority:3"`
	Timestamp                      int64  `gorm:"column:timestamp"`
	Liquidity                      string `gorm:"column:liquidity"`
	LiquidityUSD                   string `gorm:"column:liquidity_usd"`
	CumulativeDepositTokenAmounts  string `gorm:"column:cumulative_deposit_token_amounts"`
	CumulativeWithdrawTokenAmounts string `gorm:"column:cumulative_withdraw_token_amounts"`
	CumulativeDepositUSD           string `gorm:"column:cumulative_deposit_usd"`
	CumulativeWithdrawUSD          string `gorm:"column:cumulative_withdraw_usd"`
	DepositCount                   int64  `gorm:"column:deposit_count"`
	WithdrawCount                  int64  `gorm:"column:withdraw_count"`
}

func (snapshotRow) TableName() string { return "position_snapshots" }

type stateRow struct {
	Name        string `gorm:"column:name;primaryKey"`
	BlockNumber int64  `gorm:"column:block_number"`
	LogIndex    int64  `gorm:"column:log_index"`
}

func (stateRow) TableName() string { return "indexer_state" }

func newTokenRow(t model.Token) tokenRow {
	row := tokenRow{Address: t.Address, Symbol: t.Symbol, Name: t.Name, Decimals: int(t.Decimals)}
	if t.LastPriceUSD != nil {
		p := t.LastPriceUSD.String()
		row.LastPriceUSD = &p
	}
	return row
}

func (r tokenRow) toModel() (model.Token, error) {
	t := model.Token{Address: r.Address, Symbol: r.Symbol, Name: r.Name, Decimals: uint8(r.Decimals)}
	if r.LastPriceUSD != nil {
		p, err := decimal.NewFromString(*r.LastPriceUSD)
		if err != nil {
			return model.Token{}, fmt.Errorf("token %s price: %w", r.Address, err)
		}
		t.LastPriceUSD = &p
	}
	return t, nil
}

func newPoolRow(p model.Pool) poolRow {
	return poolRow{
		Address:             p.Address,
		InputTokens:         strings.Join(p.InputTokens, ","),
		Fee:                 int64(p.Fee),
		TickSpacing:         p.TickSpacing,
		TotalLiquidity:      bigText(p.TotalLiquidity),
		TotalLiquidityUSD:   p.TotalLiquidityUSD.String(),
		OpenPositionCount:   int64(p.OpenPositionCount),
		ClosedPositionCount: int64(p.ClosedPositionCount),
		PositionCount:       int64(p.PositionCount),
	}
}

func (r poolRow) toModel() (model.Pool, error) {
	liq, err := parseBig(r.TotalLiquidity)
	if err != nil {
		return model.Pool{}, fmt.Errorf("pool %s liquidity: %w", r.Address, err)
	}
	liqUSD, err := decimal.NewFromString(r.TotalLiquidityUSD)
	if err != nil {
		return model.Pool{}, fmt.Errorf("pool %s liquidity usd: %w", r.Address, err)
	}
	var tokens []string
	if r.InputTokens != "" {
		tokens = strings.Split(r.InputTokens, ",")
	}
	return model.Pool{
		Address:             r.Address,
		InputTokens:         tokens,
		Fee:                 uint32(r.Fee),
		TickSpacing:         r.TickSpacing,
		TotalLiquidity:      liq,
		TotalLiquidityUSD:   liqUSD,
		OpenPositionCount:   uint64(r.OpenPositionCount),
		ClosedPositionCount: uint64(r.ClosedPositionCount),
		PositionCount:       uint64(r.PositionCount),
	}, nil
}

func newPositionRow(p model.Position) positionRow {
	return positionRow{
		ID:                             p.ID,
		Pool:                           p.Pool,
		Account:                        p.Account,
		TickLower:                      p.TickLower,
		TickUpper:                      p.TickUpper,
		Liquidity:                      bigText(p.Liquidity),
		LiquidityUSD:                   p.LiquidityUSD.String(),
		CumulativeDepositTokenAmounts:  joinAmounts(p.CumulativeDepositTokenAmounts),
		CumulativeWithdrawTokenAmounts: joinAmounts(p.CumulativeWithdrawTokenAmounts),
		CumulativeDepositUSD:           p.CumulativeDepositUSD.String(),
		CumulativeWithdrawUSD:          p.CumulativeWithdrawUSD.String(),
		DepositCount:                   int64(p.DepositCount),
		WithdrawCount:                  int64(p.WithdrawCount),
		HashOpened:                     p.HashOpened,
		BlockNumberOpened:              int64(p.BlockNumberOpened),
		TimestampOpened:                int64(p.TimestampOpened),
		HashClosed:                     p.HashClosed,
		BlockNumberClosed:              optionalInt(p.BlockNumberClosed),
		TimestampClosed:                optionalInt(p.TimestampClosed),
	}
}

func (r positionRow) toModel() (model.Position, error) {
	p := model.Position{
		ID:                r.ID,
		Pool:              r.Pool,
		Account:           r.Account,
		TickLower:         r.TickLower,
		TickUpper:         r.TickUpper,
		DepositCount:      uint64(r.DepositCount),
		WithdrawCount:     uint64(r.WithdrawCount),
		HashOpened:        r.HashOpened,
		BlockNumberOpened: uint64(r.BlockNumberOpened),
		TimestampOpened:   uint64(r.TimestampOpened),
		HashClosed:        r.HashClosed,
		BlockNumberClosed: optionalUint(r.BlockNumberClosed),
		TimestampClosed:   optionalUint(r.TimestampClosed),
	}
	var err error
	if p.Liquidity, err = parseBig(r.Liquidity); err != nil {
		return model.Position{}, fmt.Errorf("position %s liquidity: %w", r.ID, err)
	}
	if p.LiquidityUSD, err = decimal.NewFromString(r.LiquidityUSD); err != nil {
		return model.Position{}, fmt.Errorf("position %s liquidity usd: %w", r.ID, err)
	}
	if p.CumulativeDepositTokenAmounts, err = splitAmounts(r.CumulativeDepositTokenAmounts); err != nil {
		return model.Position{}, fmt.Errorf("position %s deposits: %w", r.ID, err)
	}
	if p.CumulativeWithdrawTokenAmounts, err = splitAmounts(r.CumulativeWithdrawTokenAmounts); err != nil {
		return model.Position{}, fmt.Errorf("position %s withdraws: %w", r.ID, err)
	}
	if p.CumulativeDepositUSD, err = decimal.NewFromString(r.CumulativeDepositUSD); err != nil {
		return model.Position{}, fmt.Errorf("position %s deposit usd: %w", r.ID, err)
	}
	if p.CumulativeWithdrawUSD, err = decimal.NewFromString(r.CumulativeWithdrawUSD); err != nil {
		return model.Position{}, fmt.Errorf("position %s withdraw usd: %w", r.ID, err)
	}
	return p, nil
}

func newSnapshotRow(s model.PositionSnapshot) snapshotRow {
	return snapshotRow{
		ID:                             s.ID,
		Position:                       s.Position,
		Account:                        s.Account,
		Hash:                           s.Hash,
		BlockNumber:                    int64(s.BlockNumber),
		LogIndex:                       int64(s.LogIndex),
		Timestamp:                      int64(s.Timestamp),
		Liquidity:                      bigText(s.Liquidity),
		LiquidityUSD:                   s.LiquidityUSD.String(),
		CumulativeDepositTokenAmounts:  joinAmounts(s.CumulativeDepositTokenAmounts),
		CumulativeWithdrawTokenAmounts: joinAmounts(s.CumulativeWithdrawTokenAmounts),
		CumulativeDepositUSD:           s.CumulativeDepositUSD.String(),
		CumulativeWithdrawUSD:          s.CumulativeWithdrawUSD.String(),
		DepositCount:                   int64(s.DepositCount),
		WithdrawCount:                  int64(s.WithdrawCount),
	}
}

func bigText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}

func joinAmounts(amounts []*big.Int) string {
	parts := make([]string, len(amounts))
	for i, a := range amounts {
		parts[i] = bigText(a)
	}
	return strings.Join(parts, ",")
}

func splitAmounts(s string) ([]*big.Int, error) {
	if s == "" {
		return []*big.Int{}, nil
	}
	parts := strings.Split(s, ",")
	out := make([]*big.Int, len(parts))
	for i, part := range parts {
		v, err := parseBig(part)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func optionalInt(v *uint64) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}

func optionalUint(v *int64) *uint64 {
	if v == nil {
		return nil
	}
	n := uint64(*v)
	return &n
}
