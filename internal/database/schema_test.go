package database

import (
	"context"
	"strings"
	"testing"
)

func TestGenerateSchema(t *testing.T) {
	schema, err := GenerateSchema(context.Background())
	if err != nil {
		t.Fatalf("GenerateSchema() error = %v", err)
	}

	for _, table := range []string{"accounts", "collections", "modules", "tokens", "token_modules"} {
		if !strings.Contains(schema, "CREATE TABLE "+table+" (") {
			t.Errorf("schema missing table %s", table)
		}
	}
	if strings.Contains(schema, "schema_migrations") {
		t.Error("schema includes migration bookkeeping table")
	}
	if !strings.HasPrefix(schema, "-- Generated") {
		t.Error("schema missing header")
	}
}

func TestSchema_TablesBeforeIndexes(t *testing.T) {
	s, _ := newTestStore(t)

	schema, err := s.Schema(context.Background())
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}
	lastTable := strings.LastIndex(schema, "CREATE TABLE")
	firstIndex := strings.Index(schema, "CREATE INDEX")
	if firstIndex >= 0 && firstIndex < lastTable {
		t.Error("index statement precedes a table statement")
	}
}
