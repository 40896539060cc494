package database

import (
	"os"
	"path/filepath"
	"testing"

	"megadata-go/internal/config"
)

func TestNewStoreFromConfig(t *testing.T) {
	t.Run("memory database", func(t *testing.T) {
		got, err := NewStoreFromConfig(config.DatabaseConfig{Type: "memory"}, nil, nil)
		if err != nil {
			t.Fatalf("NewStoreFromConfig() error = %v", err)
		}
		defer got.Close()

		if err := got.Migrate(); err != nil {
			t.Errorf("Migrate() error = %v", err)
		}
	})

	t.Run("sqlite database", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "db")
		got, err := NewStoreFromConfig(config.DatabaseConfig{Type: "sqlite", DataDir: dir}, nil, nil)
		if err != nil {
			t.Fatalf("NewStoreFromConfig() error = %v", err)
		}
		defer got.Close()

		if err := got.Migrate(); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, DatabaseFile)); err != nil {
			t.Errorf("database file not created: %v", err)
		}
		if err := got.CheckMigrationStatus(); err != nil {
			t.Errorf("CheckMigrationStatus() error = %v", err)
		}
	})

	t.Run("sqlite without data dir", func(t *testing.T) {
		_, err := NewStoreFromConfig(config.DatabaseConfig{Type: "sqlite"}, nil, nil)
		if err == nil {
			t.Error("NewStoreFromConfig() expected error, got nil")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := NewStoreFromConfig(config.DatabaseConfig{Type: "postgres"}, nil, nil)
		if err == nil {
			t.Error("NewStoreFromConfig() expected error, got nil")
		}
	})
}
