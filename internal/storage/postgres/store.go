// Package postgres persists position entities in PostgreSQL via pgx.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"positionScope/internal/model"
	"positionScope/internal/position"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// cursorName keys the tracker row in indexer_state.
const cursorName = "position-tracker"

// Store implements position.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// RunMigrations applies embedded SQL files in lexicographic order and records
// each in schema_migrations.
func (s *Store) RunMigrations(ctx context.Context) error {
	const createTracker = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`
	if _, err := s.pool.Exec(ctx, createTracker); err != nil {
		return fmt.Errorf("postgres: create schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		data, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("postgres: read migration %s: %w", entry.Name(), err)
		}

		err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			var exists bool
			if err := tx.QueryRow(ctx,
				"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)",
				entry.Name(),
			).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return nil
			}
			if _, err := tx.Exec(ctx, string(data)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (filename) VALUES ($1)", entry.Name())
			return err
		})
		if err != nil {
			return fmt.Errorf("postgres: apply migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

const positionSelectCols = `id, pool, account, tick_lower, tick_upper,
	liquidity::text, liquidity_usd::text,
	cumulative_deposit_token_amounts, cumulative_withdraw_token_amounts,
	cumulative_deposit_usd::text, cumulative_withdraw_usd::text,
	deposit_count, withdraw_count,
	hash_opened, block_number_opened, timestamp_opened,
	hash_closed, block_number_closed, timestamp_closed`

func (s *Store) Position(ctx context.Context, id string) (position.Lookup[model.Position], error) {
	row := s.pool.QueryRow(ctx, `SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	var (
		p                           model.Position
		liquidity, liquidityUSD     string
		depositUSD, withdrawUSD     string
		deposits, withdraws         []string
		depositCount, withdrawCount int64
		blockOpened, tsOpened       int64
		blockClosed, tsClosed       *int64
	)
	err := row.Scan(
		&p.ID, &p.Pool, &p.Account, &p.TickLower, &p.TickUpper,
		&liquidity, &liquidityUSD,
		&deposits, &withdraws,
		&depositUSD, &withdrawUSD,
		&depositCount, &withdrawCount,
		&p.HashOpened, &blockOpened, &tsOpened,
		&p.HashClosed, &blockClosed, &tsClosed,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return position.NotFound[model.Position](), nil
	}
	if err != nil {
		return position.Lookup[model.Position]{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}

	if p.Liquidity, err = parseBig(liquidity); err != nil {
		return position.Lookup[model.Position]{}, fmt.Errorf("postgres: position %s liquidity: %w", id, err)
	}
	if p.LiquidityUSD, err = parseDecimal(liquidityUSD); err != nil {
		return position.Lookup[model.Position]{}, fmt.Errorf("postgres: position %s liquidity usd: %w", id, err)
	}
	if p.CumulativeDepositTokenAmounts, err = parseAmounts(deposits); err != nil {
		return position.Lookup[model.Position]{}, fmt.Errorf("postgres: position %s deposits: %w", id, err)
	}
	if p.CumulativeWithdrawTokenAmounts, err = parseAmounts(withdraws); err != nil {
		return position.Lookup[model.Position]{}, fmt.Errorf("postgres: position %s withdraws: %w", id, err)
	}
	if p.CumulativeDepositUSD, err = parseDecimal(depositUSD); err != nil {
		return position.Lookup[model.Position]{}, fmt.Errorf("postgres: position %s deposit usd: %w", id, err)
	}
	if p.CumulativeWithdrawUSD, err = parseDecimal(withdrawUSD); err != nil {
		return position.Lookup[model.Position]{}, fmt.Errorf("postgres: position %s withdraw usd: %w", id, err)
	}
	p.DepositCount = uint64(depositCount)
	p.WithdrawCount = uint64(withdrawCount)
	p.BlockNumberOpened = uint64(blockOpened)
	p.TimestampOpened = uint64(tsOpened)
	p.BlockNumberClosed = optionalUint(blockClosed)
	p.TimestampClosed = optionalUint(tsClosed)
	return position.Found(p), nil
}

func (s *Store) Pool(ctx context.Context, address string) (position.Lookup[model.Pool], error) {
	row := s.pool.QueryRow(ctx, `
		SELECT address, input_tokens, fee, tick_spacing,
			total_liquidity::text, total_liquidity_usd::text,
			open_position_count, closed_position_count, position_count
		FROM pools WHERE address = $1`, address)

	var (
		p                     model.Pool
		fee, tickSpacing      int32
		totalLiq, totalLiqUSD string
		open, closed, count   int64
	)
	err := row.Scan(&p.Address, &p.InputTokens, &fee, &tickSpacing, &totalLiq, &totalLiqUSD, &open, &closed, &count)
	if errors.Is(err, pgx.ErrNoRows) {
		return position.NotFound[model.Pool](), nil
	}
	if err != nil {
		return position.Lookup[model.Pool]{}, fmt.Errorf("postgres: get pool %s: %w", address, err)
	}
	if p.TotalLiquidity, err = parseBig(totalLiq); err != nil {
		return position.Lookup[model.Pool]{}, fmt.Errorf("postgres: pool %s liquidity: %w", address, err)
	}
	if p.TotalLiquidityUSD, err = parseDecimal(totalLiqUSD); err != nil {
		return position.Lookup[model.Pool]{}, fmt.Errorf("postgres: pool %s liquidity usd: %w", address, err)
	}
	p.Fee = uint32(fee)
	p.TickSpacing = tickSpacing
	p.OpenPositionCount = uint64(open)
	p.ClosedPositionCount = uint64(closed)
	p.PositionCount = uint64(count)
	return position.Found(p), nil
}

func (s *Store) Token(ctx context.Context, address string) (position.Lookup[model.Token], error) {
	row := s.pool.QueryRow(ctx, `
		SELECT address, symbol, name, decimals, last_price_usd::text
		FROM tokens WHERE address = $1`, address)

	var (
		t        model.Token
		decimals int16
		price    *string
	)
	err := row.Scan(&t.Address, &t.Symbol, &t.Name, &decimals, &price)
	if errors.Is(err, pgx.ErrNoRows) {
		return position.NotFound[model.Token](), nil
	}
	if err != nil {
		return position.Lookup[model.Token]{}, fmt.Errorf("postgres: get token %s: %w", address, err)
	}
	t.Decimals = uint8(decimals)
	if price != nil {
		p, err := parseDecimal(*price)
		if err != nil {
			return position.Lookup[model.Token]{}, fmt.Errorf("postgres: token %s price: %w", address, err)
		}
		t.LastPriceUSD = &p
	}
	return position.Found(t), nil
}

func (s *Store) Account(ctx context.Context, address string) (position.Lookup[model.Account], error) {
	row := s.pool.QueryRow(ctx, `
		SELECT address, open_position_count, closed_position_count, position_count
		FROM accounts WHERE address = $1`, address)

	var (
		a                   model.Account
		open, closed, count int64
	)
	err := row.Scan(&a.Address, &open, &closed, &count)
	if errors.Is(err, pgx.ErrNoRows) {
		return position.NotFound[model.Account](), nil
	}
	if err != nil {
		return position.Lookup[model.Account]{}, fmt.Errorf("postgres: get account %s: %w", address, err)
	}
	a.OpenPositionCount = uint64(open)
	a.ClosedPositionCount = uint64(closed)
	a.PositionCount = uint64(count)
	return position.Found(a), nil
}

func (s *Store) Protocol(ctx context.Context) (position.Lookup[model.Protocol], error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, open_position_count, cumulative_position_count
		FROM protocol WHERE id = $1`, model.ProtocolID)

	var (
		p                model.Protocol
		open, cumulative int64
	)
	err := row.Scan(&p.ID, &open, &cumulative)
	if errors.Is(err, pgx.ErrNoRows) {
		return position.NotFound[model.Protocol](), nil
	}
	if err != nil {
		return position.Lookup[model.Protocol]{}, fmt.Errorf("postgres: get protocol: %w", err)
	}
	p.OpenPositionCount = uint64(open)
	p.CumulativePositionCount = uint64(cumulative)
	return position.Found(p), nil
}

// Apply writes a change set and the tracker cursor in one transaction.
func (s *Store) Apply(ctx context.Context, cs position.ChangeSet) error {
	batch := &pgx.Batch{}
	queuePosition(batch, cs.Position)
	for _, pool := range cs.Pools {
		queuePoolCounters(batch, pool)
	}
	for _, account := range cs.Accounts {
		queueAccount(batch, account)
	}
	if cs.Protocol != nil {
		queueProtocol(batch, *cs.Protocol)
	}
	if cs.Snapshot != nil {
		queueSnapshot(batch, *cs.Snapshot)
	}
	queueCursor(batch, cs.Cursor)

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return execBatch(ctx, tx, batch)
	})
	if err != nil {
		return fmt.Errorf("postgres: apply position %s: %w", cs.Position.ID, err)
	}
	return nil
}

func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	return br.Close()
}

func queuePosition(batch *pgx.Batch, p model.Position) {
	batch.Queue(`
		INSERT INTO positions (
			id, pool, account, tick_lower, tick_upper, liquidity, liquidity_usd,
			cumulative_deposit_token_amounts, cumulative_withdraw_token_amounts,
			cumulative_deposit_usd, cumulative_withdraw_usd, deposit_count, withdraw_count,
			hash_opened, block_number_opened, timestamp_opened,
			hash_closed, block_number_closed, timestamp_closed, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6::numeric,$7::numeric,$8,$9,$10::numeric,$11::numeric,$12,$13,$14,$15,$16,$17,$18,$19,now())
		ON CONFLICT (id) DO UPDATE SET
			account = EXCLUDED.account,
			liquidity = EXCLUDED.liquidity,
			liquidity_usd = EXCLUDED.liquidity_usd,
			cumulative_deposit_token_amounts = EXCLUDED.cumulative_deposit_token_amounts,
			cumulative_withdraw_token_amounts = EXCLUDED.cumulative_withdraw_token_amounts,
			cumulative_deposit_usd = EXCLUDED.cumulative_deposit_usd,
			cumulative_withdraw_usd = EXCLUDED.cumulative_withdraw_usd,
			deposit_count = EXCLUDED.deposit_count,
			withdraw_count = EXCLUDED.withdraw_count,
			hash_closed = EXCLUDED.hash_closed,
			block_number_closed = EXCLUDED.block_number_closed,
			timestamp_closed = EXCLUDED.timestamp_closed,
			updated_at = now()
	`,
		p.ID, p.Pool, p.Account, p.TickLower, p.TickUpper,
		bigText(p.Liquidity), p.LiquidityUSD.String(),
		amountsText(p.CumulativeDepositTokenAmounts), amountsText(p.CumulativeWithdrawTokenAmounts),
		p.CumulativeDepositUSD.String(), p.CumulativeWithdrawUSD.String(),
		int64(p.DepositCount), int64(p.WithdrawCount),
		p.HashOpened, int64(p.BlockNumberOpened), int64(p.TimestampOpened),
		p.HashClosed, optionalInt(p.BlockNumberClosed), optionalInt(p.TimestampClosed),
	)
}

// queuePoolCounters touches only the engine-owned counters; metadata is
// written by UpsertPoolMeta.
func queuePoolCounters(batch *pgx.Batch, p model.Pool) {
	batch.Queue(`
		UPDATE pools SET
			open_position_count = $2,
			closed_position_count = $3,
			position_count = $4,
			updated_at = now()
		WHERE address = $1
	`, p.Address, int64(p.OpenPositionCount), int64(p.ClosedPositionCount), int64(p.PositionCount))
}

func queueAccount(batch *pgx.Batch, a model.Account) {
	batch.Queue(`
		INSERT INTO accounts (address, open_position_count, closed_position_count, position_count, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (address) DO UPDATE SET
			open_position_count = EXCLUDED.open_position_count,
			closed_position_count = EXCLUDED.closed_position_count,
			position_count = EXCLUDED.position_count,
			updated_at = now()
	`, a.Address, int64(a.OpenPositionCount), int64(a.ClosedPositionCount), int64(a.PositionCount))
}

func queueProtocol(batch *pgx.Batch, p model.Protocol) {
	batch.Queue(`
		INSERT INTO protocol (id, open_position_count, cumulative_position_count, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET
			open_position_count = EXCLUDED.open_position_count,
			cumulative_position_count = EXCLUDED.cumulative_position_count,
			updated_at = now()
	`, p.ID, int64(p.OpenPositionCount), int64(p.CumulativePositionCount))
}

func queueSnapshot(batch *pgx.Batch, snap model.PositionSnapshot) {
	batch.Queue(`
		INSERT INTO position_snapshots (
			id, position, account, hash, block_number, log_index, timestamp,
			liquidity, liquidity_usd,
			cumulative_deposit_token_amounts, cumulative_withdraw_token_amounts,
			cumulative_deposit_usd, cumulative_withdraw_usd, deposit_count, withdraw_count
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8::numeric,$9::numeric,$10,$11,$12::numeric,$13::numeric,$14,$15)
		ON CONFLICT (id) DO NOTHING
	`,
		snap.ID, snap.Position, snap.Account, snap.Hash,
		int64(snap.BlockNumber), int64(snap.LogIndex), int64(snap.Timestamp),
		bigText(snap.Liquidity), snap.LiquidityUSD.String(),
		amountsText(snap.CumulativeDepositTokenAmounts), amountsText(snap.CumulativeWithdrawTokenAmounts),
		snap.CumulativeDepositUSD.String(), snap.CumulativeWithdrawUSD.String(),
		int64(snap.DepositCount), int64(snap.WithdrawCount),
	)
}

func queueCursor(batch *pgx.Batch, c model.Cursor) {
	batch.Queue(`
		INSERT INTO indexer_state (name, block_number, log_index, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (name) DO UPDATE SET
			block_number = EXCLUDED.block_number,
			log_index = EXCLUDED.log_index,
			updated_at = now()
	`, cursorName, int64(c.BlockNumber), int64(c.LogIndex))
}

// UpsertPoolMeta registers a pool or refreshes its metadata, leaving the
// position counters untouched.
func (s *Store) UpsertPoolMeta(ctx context.Context, p model.Pool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pools (address, input_tokens, fee, tick_spacing, total_liquidity, total_liquidity_usd, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, now())
		ON CONFLICT (address) DO UPDATE SET
			input_tokens = EXCLUDED.input_tokens,
			fee = EXCLUDED.fee,
			tick_spacing = EXCLUDED.tick_spacing,
			total_liquidity = EXCLUDED.total_liquidity,
			total_liquidity_usd = EXCLUDED.total_liquidity_usd,
			updated_at = now()
	`, p.Address, p.InputTokens, int32(p.Fee), p.TickSpacing, bigText(p.TotalLiquidity), p.TotalLiquidityUSD.String())
	if err != nil {
		return fmt.Errorf("postgres: upsert pool %s: %w", p.Address, err)
	}
	return nil
}

// UpsertToken stores token metadata. A nil price keeps the stored one.
func (s *Store) UpsertToken(ctx context.Context, t model.Token) error {
	var price *string
	if t.LastPriceUSD != nil {
		v := t.LastPriceUSD.String()
		price = &v
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tokens (address, symbol, name, decimals, last_price_usd, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, now())
		ON CONFLICT (address) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			name = EXCLUDED.name,
			decimals = EXCLUDED.decimals,
			last_price_usd = COALESCE(EXCLUDED.last_price_usd, tokens.last_price_usd),
			updated_at = now()
	`, t.Address, t.Symbol, t.Name, int16(t.Decimals), price)
	if err != nil {
		return fmt.Errorf("postgres: upsert token %s: %w", t.Address, err)
	}
	return nil
}

// Cursor returns the ordinal of the last applied event.
func (s *Store) Cursor(ctx context.Context) (model.Cursor, bool, error) {
	var block, logIndex int64
	err := s.pool.QueryRow(ctx, `SELECT block_number, log_index FROM indexer_state WHERE name = $1`, cursorName).Scan(&block, &logIndex)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Cursor{}, false, nil
	}
	if err != nil {
		return model.Cursor{}, false, fmt.Errorf("postgres: load cursor: %w", err)
	}
	return model.Cursor{BlockNumber: uint64(block), LogIndex: uint64(logIndex)}, true, nil
}
