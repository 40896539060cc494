package database

import (
	"fmt"
	"os"
	"path/filepath"

	"megadata-go/internal/config"
	"megadata-go/internal/megadata"
)

// DatabaseFile is the SQLite file name created under data_dir.
const DatabaseFile = "megadata.db"

// NewStoreFromConfig opens the token store described by cfg. The schema is
// not migrated; callers decide whether to migrate or only check.
func NewStoreFromConfig(cfg config.DatabaseConfig, clock megadata.Clock, ids megadata.IDGenerator) (*SQLiteStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, DatabaseFile), clock, ids)
	case "memory":
		return NewSQLiteStore(":memory:", clock, ids)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
