// Package sqlite persists position entities in an embedded sqlite database
// through gorm.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"positionScope/internal/model"
	"positionScope/internal/position"
)

const cursorName = "position-tracker"

// Store implements position.Store on sqlite.
type Store struct {
	db *gorm.DB
}

// NewStore opens (creating if needed) the database at path and migrates it.
func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	return NewStoreFromDB(db)
}

// NewStoreFromDB migrates and wraps an existing connection.
func NewStoreFromDB(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db is nil")
	}
	models := []interface{}{
		&tokenRow{},
		&poolRow{},
		&accountRow{},
		&protocolRow{},
		&positionRow{},
		&snapshotRow{},
		&stateRow{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		// One writer keeps sqlite from returning SQLITE_BUSY inside Apply.
		sqlDB.SetMaxOpenConns(1)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Position(ctx context.Context, id string) (position.Lookup[model.Position], error) {
	var row positionRow
	if found, err := s.first(ctx, &row, "id = ?", id); err != nil || !found {
		return position.NotFound[model.Position](), wrap("get position "+id, err)
	}
	p, err := row.toModel()
	if err != nil {
		return position.Lookup[model.Position]{}, wrap("decode position", err)
	}
	return position.Found(p), nil
}

func (s *Store) Pool(ctx context.Context, address string) (position.Lookup[model.Pool], error) {
	var row poolRow
	if found, err := s.first(ctx, &row, "address = ?", address); err != nil || !found {
		return position.NotFound[model.Pool](), wrap("get pool "+address, err)
	}
	p, err := row.toModel()
	if err != nil {
		return position.Lookup[model.Pool]{}, wrap("decode pool", err)
	}
	return position.Found(p), nil
}

func (s *Store) Token(ctx context.Context, address string) (position.Lookup[model.Token], error) {
	var row tokenRow
	if found, err := s.first(ctx, &row, "address = ?", address); err != nil || !found {
		return position.NotFound[model.Token](), wrap("get token "+address, err)
	}
	t, err := row.toModel()
	if err != nil {
		return position.Lookup[model.Token]{}, wrap("decode token", err)
	}
	return position.Found(t), nil
}

func (s *Store) Account(ctx context.Context, address string) (position.Lookup[model.Account], error) {
	var row accountRow
	if found, err := s.first(ctx, &row, "address = ?", address); err != nil || !found {
		return position.NotFound[model.Account](), wrap("get account "+address, err)
	}
	return position.Found(model.Account{
		Address:             row.Address,
		OpenPositionCount:   uint64(row.OpenPositionCount),
		ClosedPositionCount: uint64(row.ClosedPositionCount),
		PositionCount:       uint64(row.PositionCount),
	}), nil
}

func (s *Store) Protocol(ctx context.Context) (position.Lookup[model.Protocol], error) {
	var row protocolRow
	if found, err := s.first(ctx, &row, "id = ?", model.ProtocolID); err != nil || !found {
		return position.NotFound[model.Protocol](), wrap("get protocol", err)
	}
	return position.Found(model.Protocol{
		ID:                      row.ID,
		OpenPositionCount:       uint64(row.OpenPositionCount),
		CumulativePositionCount: uint64(row.CumulativePositionCount),
	}), nil
}

func (s *Store) first(ctx context.Context, dest interface{}, query string, args ...interface{}) (bool, error) {
	err := s.db.WithContext(ctx).Where(query, args...).Take(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Apply writes a change set and the tracker cursor in one transaction.
func (s *Store) Apply(ctx context.Context, cs position.ChangeSet) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pos := newPositionRow(cs.Position)
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&pos).Error; err != nil {
			return fmt.Errorf("position: %w", err)
		}

		for _, pool := range cs.Pools {
			// Counters only; metadata belongs to UpsertPoolMeta.
			if err := tx.Model(&poolRow{}).Where("address = ?", pool.Address).Updates(map[string]interface{}{
				"open_position_count":   int64(pool.OpenPositionCount),
				"closed_position_count": int64(pool.ClosedPositionCount),
				"position_count":        int64(pool.PositionCount),
			}).Error; err != nil {
				return fmt.Errorf("pool %s: %w", pool.Address, err)
			}
		}

		for _, account := range cs.Accounts {
			row := accountRow{
				Address:             account.Address,
				OpenPositionCount:   int64(account.OpenPositionCount),
				ClosedPositionCount: int64(account.ClosedPositionCount),
				PositionCount:       int64(account.PositionCount),
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "address"}},
				UpdateAll: true,
			}).Create(&row).Error; err != nil {
				return fmt.Errorf("account %s: %w", account.Address, err)
			}
		}

		if cs.Protocol != nil {
			row := protocolRow{
				ID:                      cs.Protocol.ID,
				OpenPositionCount:       int64(cs.Protocol.OpenPositionCount),
				CumulativePositionCount: int64(cs.Protocol.CumulativePositionCount),
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				UpdateAll: true,
			}).Create(&row).Error; err != nil {
				return fmt.Errorf("protocol: %w", err)
			}
		}

		if cs.Snapshot != nil {
			row := newSnapshotRow(*cs.Snapshot)
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
				return fmt.Errorf("snapshot %s: %w", row.ID, err)
			}
		}

		state := stateRow{Name: cursorName, BlockNumber: int64(cs.Cursor.BlockNumber), LogIndex: int64(cs.Cursor.LogIndex)}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			UpdateAll: true,
		}).Create(&state).Error; err != nil {
			return fmt.Errorf("cursor: %w", err)
		}
		return nil
	})
	return wrap("apply position "+cs.Position.ID, err)
}

// UpsertPoolMeta registers a pool or refreshes its metadata, leaving the
// position counters untouched.
func (s *Store) UpsertPoolMeta(ctx context.Context, pool model.Pool) error {
	row := newPoolRow(pool)
	row.OpenPositionCount, row.ClosedPositionCount, row.PositionCount = 0, 0, 0
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"input_tokens", "fee", "tick_spacing", "total_liquidity", "total_liquidity_usd",
		}),
	}).Create(&row).Error
	return wrap("upsert pool "+pool.Address, err)
}

// UpsertToken stores token metadata. A nil price keeps the stored one.
func (s *Store) UpsertToken(ctx context.Context, token model.Token) error {
	row := newTokenRow(token)
	cols := []string{"symbol", "name", "decimals"}
	if row.LastPriceUSD != nil {
		cols = append(cols, "last_price_usd")
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns(cols),
	}).Create(&row).Error
	return wrap("upsert token "+token.Address, err)
}

// Cursor returns the ordinal of the last applied event.
func (s *Store) Cursor(ctx context.Context) (model.Cursor, bool, error) {
	var row stateRow
	found, err := s.first(ctx, &row, "name = ?", cursorName)
	if err != nil {
		return model.Cursor{}, false, wrap("load cursor", err)
	}
	if !found {
		return model.Cursor{}, false, nil
	}
	return model.Cursor{BlockNumber: uint64(row.BlockNumber), LogIndex: uint64(row.LogIndex)}, true, nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("sqlite: %s: %w", op, err)
}
