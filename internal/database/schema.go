package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const schemaHeader = `-- Generated from internal/database/migrations/files/*.sql.
-- Regenerate with 'megadata db schema'.

`

// Schema returns the CREATE statements of the store's tables and indexes,
// excluding SQLite internals and the migration bookkeeping table.
func (s *SQLiteStore) Schema(ctx context.Context) (string, error) {
	return extractSchema(ctx, s.db)
}

// GenerateSchema migrates a scratch in-memory database and returns its schema.
func GenerateSchema(ctx context.Context) (string, error) {
	s, err := NewSQLiteStore(":memory:", nil, nil)
	if err != nil {
		return "", err
	}
	defer s.Close()

	if err := s.Migrate(); err != nil {
		return "", fmt.Errorf("migration failed: %w", err)
	}
	return s.Schema(ctx)
}

func extractSchema(ctx context.Context, db *sql.DB) (string, error) {
	query := `
		SELECT sql || ';'
		FROM sqlite_master
		WHERE type IN ('table', 'index')
		  AND sql IS NOT NULL
		  AND name NOT LIKE 'sqlite_%'
		  AND tbl_name != 'schema_migrations'
		ORDER BY
		  CASE type
		    WHEN 'table' THEN 1
		    WHEN 'index' THEN 2
		  END,
		  name
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return "", fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	b.WriteString(schemaHeader)
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return "", fmt.Errorf("scan failed: %w", err)
		}
		b.WriteString(stmt)
		b.WriteString("\n\n")
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("rows error: %w", err)
	}
	return b.String(), nil
}
