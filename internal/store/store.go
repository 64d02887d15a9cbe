package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/retrace/internal/codec"
	"github.com/roach88/retrace/internal/object"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on function_calls.branched_from
const currentSchemaVersion = 1

const defaultCacheSize = 1024

// Store provides durable storage for recorded executions: content-addressed
// object payloads, identity version chains, function calls, stack snapshots,
// monitoring sessions and code definitions.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db     *sql.DB
	log    *slog.Logger
	codecs *codec.Registry
	cache  *lru.Cache[object.Key, object.Payload]
	zenc   *zstd.Encoder
	zdec   *zstd.Decoder
	now    func() time.Time

	// gcMu serializes DeleteCall and CollectGarbage so reachability is
	// computed against a stable row set.
	gcMu sync.Mutex
}

// Option configures a Store at Open time.
type Option func(*config)

type config struct {
	logger    *slog.Logger
	codecs    *codec.Registry
	cacheSize int
	now       func() time.Time
}

// WithLogger sets the logger used for warnings (unstorable substitutions,
// import skips). Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithCodecs sets the codec registry used to decompose and recompose live
// values. Defaults to a fresh registry with the builtin codecs.
func WithCodecs(r *codec.Registry) Option {
	return func(c *config) { c.codecs = r }
}

// WithCacheSize sets the decoded-payload cache capacity in entries.
// A size <= 0 disables the cache.
func WithCacheSize(n int) Option {
	return func(c *config) { c.cacheSize = n }
}

// WithNow sets the clock stamped onto staged object rows. Defaults to
// time.Now; tests pass a frozen clock for deterministic rows.
func WithNow(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
// Pass ":memory:" for an in-memory store (tests, harness).
func Open(path string, opts ...Option) (*Store, error) {
	cfg := config{cacheSize: defaultCacheSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.codecs == nil {
		cfg.codecs = codec.NewRegistry()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// A single connection also keeps :memory: databases alive.
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

	s := &Store{db: db, log: cfg.logger, codecs: cfg.codecs, now: cfg.now}

	if cfg.cacheSize > 0 {
		cache, err := lru.New[object.Key, object.Payload](cfg.cacheSize)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to build object cache: %w", err)
		}
		s.cache = cache
	}

	s.zenc, err = zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to build zstd encoder: %w", err)
	}
	s.zdec, err = zstd.NewReader(nil)
	if err != nil {
		s.zenc.Close()
		db.Close()
		return nil, fmt.Errorf("failed to build zstd decoder: %w", err)
	}

	return s, nil
}

// Close closes the database connection and releases compression state.
// Should be called when the store is no longer needed.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	s.zdec.Close()
	if err := s.zenc.Close(); err != nil {
		s.db.Close()
		return fmt.Errorf("close zstd encoder: %w", err)
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Codecs returns the registry used for value decomposition, so callers
// can register their own types and codecs before recording or replaying.
func (s *Store) Codecs() *codec.Registry {
	return s.codecs
}

// Query executes a query and returns the resulting rows.
// This is a convenience wrapper around db.QueryContext for use by the
// query layer. Callers are responsible for closing the returned rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	// Apply migrations sequentially
	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
		version = 1
	}

	// Set version after all migrations
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the branched_from index for existing databases.
// New databases get this from schema.sql, but databases created before v1
// need the index added explicitly.
func migrateToV1(db *sql.DB) error {
	// CREATE INDEX IF NOT EXISTS is safe - no-op if index exists
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_function_calls_branched_from
		ON function_calls(branched_from)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
