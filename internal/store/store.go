// Package store implements the document storage contract on SQLite.
//
// Every physical collection is a table of (id, version, doc) rows where doc
// holds the canonical JSON of the record. Filters compile to json_extract
// expressions (see querysql); indexes are expression indexes over the same
// expressions.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/semantika/internal/query"
	"github.com/roach88/semantika/internal/querysql"
	"github.com/roach88/semantika/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - no catalog
// 1 - _collections catalog
const currentSchemaVersion = 1

var collectionName = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// Store is a SQLite-backed storage.Storage.
type Store struct {
	db       *sql.DB
	compiler *querysql.Compiler
	ids      IDGenerator
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics
	queries  query.Dictionary

	mu          sync.Mutex
	collections map[string]*Collection
}

var _ storage.Storage = (*Store)(nil)

// Option configures a Store.
type Option func(*Store) error

// WithIDGenerator replaces the UUIDv7 physical id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Store) error {
		s.ids = g
		return nil
	}
}

// WithClock replaces time.Now for _created and _lastUpdate stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) error {
		s.now = now
		return nil
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) error {
		s.logger = l
		return nil
	}
}

// WithMetrics registers store counters on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *Store) error {
		m, err := newMetrics(reg)
		if err != nil {
			return err
		}
		s.metrics = m
		return nil
	}
}

// WithQueryDictionary installs the named queries used by Load.
func WithQueryDictionary(d query.Dictionary) Option {
	return func(s *Store) error {
		s.queries = d
		return nil
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//
// A single connection is used, so ":memory:" databases behave like a file.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{
		db:          db,
		compiler:    querysql.NewCompiler(),
		ids:         UUIDv7Generator{},
		now:         time.Now,
		logger:      slog.Default(),
		collections: make(map[string]*Collection),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure store: %w", err)
		}
	}
	return s, nil
}

// Close closes the database connection and ends every active Watch.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	s.mu.Lock()
	for _, c := range s.collections {
		c.feed.close()
	}
	s.mu.Unlock()
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// PhysicalCollection returns the named collection, creating its table and
// catalog entry on first use.
func (s *Store) PhysicalCollection(ctx context.Context, name string, forPredicates bool) (storage.Collection, error) {
	c, err := s.collection(ctx, name, forPredicates)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// collection is PhysicalCollection returning the concrete type.
func (s *Store) collection(ctx context.Context, name string, forPredicates bool) (*Collection, error) {
	if !collectionName.MatchString(name) {
		return nil, fmt.Errorf("invalid collection name %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.collections[name]; ok {
		return c, nil
	}

	table := querysql.QuoteIdent(name)
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id      TEXT PRIMARY KEY,
		version INTEGER NOT NULL DEFAULT 1,
		doc     TEXT NOT NULL
	)`, table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO _collections (name, for_predicates, created)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO NOTHING
	`, name, forPredicates, s.now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("catalog collection %s: %w", name, err)
	}

	c := &Collection{
		store:         s,
		name:          name,
		forPredicates: forPredicates,
		feed:          newChangeFeed(),
	}
	s.collections[name] = c
	s.logger.Debug("collection ready", "collection", name, "predicates", forPredicates)
	return c, nil
}

// CollectionNames lists every catalogued collection in name order.
func (s *Store) CollectionNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM _collections ORDER BY name ASC COLLATE BINARY`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("list collections: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Purge drops every catalogued collection and forgets cached handles.
func (s *Store) Purge(ctx context.Context) error {
	names, err := s.CollectionNames(ctx)
	if err != nil {
		return fmt.Errorf("purge: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range names {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+querysql.QuoteIdent(n)); err != nil {
			return fmt.Errorf("purge %s: %w", n, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM _collections`); err != nil {
		return fmt.Errorf("purge catalog: %w", err)
	}
	for _, c := range s.collections {
		c.feed.close()
	}
	s.collections = make(map[string]*Collection)
	s.logger.Info("database purged", "collections", len(names))
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates the catalog if needed and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE or PRIMARY KEY
// constraint failure.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
