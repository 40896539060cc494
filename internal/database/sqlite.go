package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"megadata-go/internal/database/migrations"
	"megadata-go/internal/megadata"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// maxInParams keeps IN (...) lists well under SQLite's bound-variable limit.
const maxInParams = 500

// SQLiteStore implements megadata.TokenStore on SQLite.
type SQLiteStore struct {
	db    *sql.DB
	clock megadata.Clock
	ids   megadata.IDGenerator
	path  string
}

var _ megadata.TokenStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens a store at path, or an in-memory store for ":memory:".
// Nil clock and ids fall back to the real clock and UUIDs.
func NewSQLiteStore(path string, clock megadata.Clock, ids megadata.IDGenerator) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = megadata.RealClock{}
	}
	if ids == nil {
		ids = megadata.UUIDGenerator{}
	}
	return &SQLiteStore{db: db, clock: clock, ids: ids, path: path}, nil
}

// OpenConnection opens a SQLite connection with foreign keys enforced.
// An in-memory database is pinned to one connection so every query sees
// the same schema.
func OpenConnection(path string) (*sql.DB, error) {
	dsn := "file:" + path + "?_foreign_keys=on&_busy_timeout=5000"
	if path == ":memory:" {
		dsn = "file::memory:?_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Migrate brings the schema up to date.
func (s *SQLiteStore) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrationStatus reports whether the schema is current.
func (s *SQLiteStore) CheckMigrationStatus() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Path returns the database location the store was opened with.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Accounts and collections

// CreateAccount returns the id of the account owning address, creating it if needed.
func (s *SQLiteStore) CreateAccount(ctx context.Context, address string) (string, error) {
	address = megadata.NormalizeAddress(address)
	if address == "" {
		return "", fmt.Errorf("account address is required")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, address, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (address) DO NOTHING`,
		s.ids.New(), address, toMillis(s.clock.Now()))
	if err != nil {
		return "", fmt.Errorf("inserting account: %w", err)
	}

	var id string
	if err := s.db.QueryRowContext(ctx, "SELECT id FROM accounts WHERE address = ?", address).Scan(&id); err != nil {
		return "", fmt.Errorf("loading account: %w", err)
	}
	return id, nil
}

// CreateCollection inserts a collection owned by c.OwnerAddress. An empty
// c.ID is replaced with a generated one.
func (s *SQLiteStore) CreateCollection(ctx context.Context, c megadata.Collection) (*megadata.Collection, error) {
	accountID, err := s.CreateAccount(ctx, c.OwnerAddress)
	if err != nil {
		return nil, err
	}
	if c.ID == "" {
		c.ID = s.ids.New()
	}
	if c.Kind == "" {
		c.Kind = megadata.CollectionDefault
	}

	var source, externalID, contractType sql.NullString
	var lastChecked sql.NullInt64
	if c.External != nil {
		source = sql.NullString{String: c.External.Source, Valid: true}
		externalID = sql.NullString{String: megadata.NormalizeAddress(c.External.ExternalID), Valid: true}
		contractType = sql.NullString{String: string(c.External.ContractType), Valid: true}
		if c.External.LastCheckedAt != nil {
			lastChecked = sql.NullInt64{Int64: toMillis(*c.External.LastCheckedAt), Valid: true}
		}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO collections
		   (id, account_id, name, kind, published, source, external_id, contract_type, last_checked_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, accountID, c.Name, string(c.Kind), c.Published,
		source, externalID, contractType, lastChecked, toMillis(s.clock.Now()))
	if err != nil {
		return nil, fmt.Errorf("inserting collection: %w", err)
	}
	return s.GetCollection(ctx, c.ID)
}

const collectionColumns = `c.id, c.account_id, a.address, c.name, c.kind, c.published,
	c.source, c.external_id, c.contract_type, c.last_checked_at, c.created_at`

func (s *SQLiteStore) GetCollection(ctx context.Context, collectionID string) (*megadata.Collection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+collectionColumns+`
		 FROM collections c JOIN accounts a ON a.id = c.account_id
		 WHERE c.id = ?`, collectionID)

	c, err := scanCollection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("collection %s: %w", collectionID, megadata.ErrNotFound)
		}
		return nil, fmt.Errorf("loading collection: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) ListCollectionsNeedingCheck(ctx context.Context, threshold time.Time) ([]megadata.Collection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+collectionColumns+`
		 FROM collections c JOIN accounts a ON a.id = c.account_id
		 WHERE c.kind = 'external' AND (c.last_checked_at IS NULL OR c.last_checked_at < ?)
		 ORDER BY COALESCE(c.last_checked_at, 0), c.id`, toMillis(threshold))
	if err != nil {
		return nil, fmt.Errorf("listing collections needing check: %w", err)
	}
	defer rows.Close()

	var result []megadata.Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning collection: %w", err)
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) UpdateLastChecked(ctx context.Context, collectionID string, ts time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE collections SET last_checked_at = ?
		 WHERE id = ? AND (last_checked_at IS NULL OR last_checked_at < ?)`,
		toMillis(ts), collectionID, toMillis(ts))
	if err != nil {
		return fmt.Errorf("updating last checked: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either the collection is missing or a later timestamp is already stored.
		if _, err := s.GetCollection(ctx, collectionID); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) MarkCollectionPublished(ctx context.Context, collectionID string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE collections SET published = 1 WHERE id = ?", collectionID)
	if err != nil {
		return fmt.Errorf("marking collection published: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("collection %s: %w", collectionID, megadata.ErrNotFound)
	}
	return nil
}

// Modules

// UpsertModule inserts or replaces a module schema.
func (s *SQLiteStore) UpsertModule(ctx context.Context, m megadata.Module) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO modules (id, schema, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET schema = excluded.schema`,
		m.ID, string(m.Schema), toMillis(s.clock.Now()))
	if err != nil {
		return fmt.Errorf("upserting module %s: %w", m.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetModules(ctx context.Context, ids []string) ([]megadata.Module, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	byID := make(map[string]megadata.Module, len(ids))
	for _, chunk := range lo.Chunk(lo.Uniq(ids), maxInParams) {
		rows, err := s.db.QueryContext(ctx,
			"SELECT id, schema FROM modules WHERE id IN ("+placeholders(len(chunk))+")",
			toArgs(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("loading modules: %w", err)
		}
		for rows.Next() {
			var m megadata.Module
			var schema string
			if err := rows.Scan(&m.ID, &schema); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning module: %w", err)
			}
			m.Schema = []byte(schema)
			byID[m.ID] = m
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("loading modules: %w", err)
		}
	}

	result := make([]megadata.Module, 0, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			result = append(result, m)
		}
	}
	return result, nil
}

// Tokens

func (s *SQLiteStore) ListTokenIDs(ctx context.Context, collectionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT token_id FROM tokens WHERE collection_id = ? ORDER BY token_id", collectionID)
	if err != nil {
		return nil, fmt.Errorf("listing token ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning token id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) CreateTokens(ctx context.Context, collectionID string, tokens []megadata.NewToken) ([]megadata.Token, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	now := s.clock.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var created []megadata.Token
	for _, nt := range tokens {
		data := nt.Data
		if data == nil {
			data = map[string]any{}
		}
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encoding token %s: %w", nt.TokenID, err)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO tokens (collection_id, token_id, data, published, sync_status, created_at, updated_at)
			 VALUES (?, ?, ?, 0, 'pending', ?, ?)
			 ON CONFLICT (collection_id, token_id) DO NOTHING`,
			collectionID, nt.TokenID, string(encoded), toMillis(now), toMillis(now))
		if err != nil {
			return nil, fmt.Errorf("inserting token %s: %w", nt.TokenID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}

		modules := lo.Uniq(nt.Modules)
		for pos, moduleID := range modules {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO token_modules (collection_id, token_id, module_id, position) VALUES (?, ?, ?, ?)`,
				collectionID, nt.TokenID, moduleID, pos)
			if err != nil {
				return nil, fmt.Errorf("attaching module %s to token %s: %w", moduleID, nt.TokenID, err)
			}
		}

		created = append(created, megadata.Token{
			CollectionID:    collectionID,
			TokenID:         nt.TokenID,
			Data:            data,
			AttachedModules: modules,
			SyncStatus:      megadata.SyncPending,
			CreatedAt:       fromMillis(toMillis(now)),
			UpdatedAt:       fromMillis(toMillis(now)),
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return created, nil
}

// UpdateTokenData replaces a token's data and marks it pending so the ledger
// sync worker republishes it.
func (s *SQLiteStore) UpdateTokenData(ctx context.Context, collectionID, tokenID string, data map[string]any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding token %s: %w", tokenID, err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tokens SET data = ?, sync_status = 'pending', updated_at = ?
		 WHERE collection_id = ? AND token_id = ?`,
		string(encoded), toMillis(s.clock.Now()), collectionID, tokenID)
	if err != nil {
		return fmt.Errorf("updating token %s: %w", tokenID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("token %s/%s: %w", collectionID, tokenID, megadata.ErrNotFound)
	}
	return nil
}

// GetToken returns one token with its attached modules, or ErrNotFound.
func (s *SQLiteStore) GetToken(ctx context.Context, collectionID, tokenID string) (*megadata.Token, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT collection_id, token_id, data, published, sync_status, created_at, updated_at
		 FROM tokens WHERE collection_id = ? AND token_id = ?`, collectionID, tokenID)
	tok, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("token %s/%s: %w", collectionID, tokenID, megadata.ErrNotFound)
		}
		return nil, fmt.Errorf("loading token: %w", err)
	}

	tokens := []megadata.Token{*tok}
	if err := s.attachModules(ctx, tokens); err != nil {
		return nil, err
	}
	return &tokens[0], nil
}

func (s *SQLiteStore) MarkPublished(ctx context.Context, collectionID string, tokenIDs []string) error {
	return s.markDone(ctx, collectionID, tokenIDs)
}

func (s *SQLiteStore) MarkSyncDone(ctx context.Context, collectionID string, tokenIDs []string) error {
	return s.markDone(ctx, collectionID, tokenIDs)
}

// markDone flags tokens as published and synced in one transaction.
func (s *SQLiteStore) markDone(ctx context.Context, collectionID string, tokenIDs []string) error {
	if len(tokenIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	now := toMillis(s.clock.Now())
	for _, chunk := range lo.Chunk(tokenIDs, maxInParams) {
		args := append([]any{now, collectionID}, toArgs(chunk)...)
		_, err := tx.ExecContext(ctx,
			`UPDATE tokens SET published = 1, sync_status = 'done', updated_at = ?
			 WHERE collection_id = ? AND token_id IN (`+placeholders(len(chunk))+`)`,
			args...)
		if err != nil {
			return fmt.Errorf("marking tokens published: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListPendingSync(ctx context.Context, after megadata.SyncCursor, exclude []string, limit int) ([]megadata.Token, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `SELECT collection_id, token_id, data, published, sync_status, created_at, updated_at
		 FROM tokens WHERE sync_status = 'pending'`
	var args []any
	if !after.IsZero() {
		query += ` AND (collection_id, created_at, token_id) > (?, ?, ?)`
		args = append(args, after.CollectionID, toMillis(after.CreatedAt), after.TokenID)
	}
	if len(exclude) > 0 {
		query += ` AND collection_id NOT IN (` + placeholders(len(exclude)) + `)`
		args = append(args, toArgs(exclude)...)
	}
	query += ` ORDER BY collection_id, created_at, token_id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing pending tokens: %w", err)
	}

	var tokens []megadata.Token
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning token: %w", err)
		}
		tokens = append(tokens, *tok)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("listing pending tokens: %w", err)
	}

	if err := s.attachModules(ctx, tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

// attachModules loads each token's module list in attachment order.
// Callers must have closed any open result set first.
func (s *SQLiteStore) attachModules(ctx context.Context, tokens []megadata.Token) error {
	for i := range tokens {
		rows, err := s.db.QueryContext(ctx,
			`SELECT module_id FROM token_modules
			 WHERE collection_id = ? AND token_id = ? ORDER BY position`,
			tokens[i].CollectionID, tokens[i].TokenID)
		if err != nil {
			return fmt.Errorf("loading token modules: %w", err)
		}
		var modules []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scanning token module: %w", err)
			}
			modules = append(modules, id)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("loading token modules: %w", err)
		}
		tokens[i].AttachedModules = modules
	}
	return nil
}

// Row scanning

type scanner interface {
	Scan(dest ...any) error
}

func scanCollection(row scanner) (*megadata.Collection, error) {
	var (
		c                                megadata.Collection
		kind                             string
		source, externalID, contractType sql.NullString
		lastChecked                      sql.NullInt64
		createdAt                        int64
	)
	err := row.Scan(&c.ID, &c.AccountID, &c.OwnerAddress, &c.Name, &kind, &c.Published,
		&source, &externalID, &contractType, &lastChecked, &createdAt)
	if err != nil {
		return nil, err
	}

	c.Kind = megadata.CollectionKind(kind)
	c.CreatedAt = fromMillis(createdAt)
	if c.Kind == megadata.CollectionExternal {
		c.External = &megadata.ExternalSource{
			Source:       source.String,
			ExternalID:   externalID.String,
			ContractType: megadata.ContractKind(contractType.String),
		}
		if lastChecked.Valid {
			ts := fromMillis(lastChecked.Int64)
			c.External.LastCheckedAt = &ts
		}
	}
	return &c, nil
}

func scanToken(row scanner) (*megadata.Token, error) {
	var (
		t                    megadata.Token
		data, status         string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&t.CollectionID, &t.TokenID, &data, &t.Published, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &t.Data); err != nil {
		return nil, fmt.Errorf("decoding token %s data: %w", t.TokenID, err)
	}
	t.SyncStatus = megadata.SyncStatus(status)
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	return &t, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(values []string) []any {
	return lo.Map(values, func(v string, _ int) any { return v })
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
