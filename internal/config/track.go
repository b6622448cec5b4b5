package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// Store backends accepted by the track command.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// TrackConfig holds configuration for the track command.
type TrackConfig struct {
	In          string
	Store       string
	PGDSN       string
	SQLitePath  string
	Migrate     bool
	Prices      map[string]string
	RedisAddr   string
	RedisPass   string
	RedisDB     int
	MetricsAddr string
	Strict      bool
	LogLevel    string
}

// LoadTrack merges config file, environment variables, and flags into TrackConfig.
func LoadTrack(cfgFile string, flags *pflag.FlagSet) (TrackConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"in":          "./data/typed_events.jsonl",
		"store":       StorePostgres,
		"sqlite-path": "./data/positions.db",
		"migrate":     true,
		"log-level":   "info",
	})
	if err != nil {
		return TrackConfig{}, err
	}

	cfg := TrackConfig{
		In:          v.GetString("in"),
		Store:       strings.ToLower(strings.TrimSpace(v.GetString("store"))),
		PGDSN:       v.GetString("pg-dsn"),
		SQLitePath:  v.GetString("sqlite-path"),
		Migrate:     v.GetBool("migrate"),
		Prices:      getStringMap(v, "prices"),
		RedisAddr:   strings.TrimSpace(v.GetString("redis-addr")),
		RedisPass:   v.GetString("redis-password"),
		RedisDB:     v.GetInt("redis-db"),
		MetricsAddr: strings.TrimSpace(v.GetString("metrics-addr")),
		Strict:      v.GetBool("strict"),
		LogLevel:    v.GetString("log-level"),
	}
	if err := cfg.Validate(); err != nil {
		return TrackConfig{}, err
	}
	return cfg, nil
}

// Validate checks that the selected store has what it needs.
func (c TrackConfig) Validate() error {
	if c.In == "" {
		return fmt.Errorf("input path is required")
	}
	switch c.Store {
	case StorePostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("pg dsn is required for the postgres store")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for the sqlite store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.RedisDB < 0 {
		return fmt.Errorf("redis db must be >= 0")
	}
	return nil
}
