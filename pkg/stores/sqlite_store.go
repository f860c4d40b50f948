package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/contentkit/modrun/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements engine.CompileStore using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
	now func() time.Time
}

var _ engine.CompileStore = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is a separate database.
	if isMemory(cfg.Path) {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg, now: time.Now}, nil
}

// Open creates, initializes and migrates a store at path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path
	if !isMemory(dsn) {
		dsn = "file:" + dsn + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Get implements engine.CompileStore. A hit refreshes the unit's last-used
// time.
func (s *SQLiteStore) Get(ctx context.Context, hash string) (string, bool, error) {
	var text string
	err := s.db.QueryRowContext(ctx, `SELECT text FROM compiled_units WHERE hash = ?`, hash).Scan(&text)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get compiled unit: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE compiled_units SET last_used_at = ? WHERE hash = ?`,
		s.now().UnixNano(), hash,
	); err != nil {
		return "", false, fmt.Errorf("failed to touch compiled unit: %w", err)
	}
	return text, true, nil
}

// Put implements engine.CompileStore. Storing an existing hash only refreshes
// its last-used time.
func (s *SQLiteStore) Put(ctx context.Context, unit engine.CompiledUnit) error {
	if unit.Hash == "" {
		return fmt.Errorf("compiled unit hash is required")
	}
	now := s.now().UnixNano()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO compiled_units (hash, path, text, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET last_used_at = excluded.last_used_at
	`, unit.Hash, string(unit.Path), unit.Text, now, now)
	if err != nil {
		return fmt.Errorf("failed to put compiled unit: %w", err)
	}
	return nil
}

// Lookup returns the full record for hash without touching it.
func (s *SQLiteStore) Lookup(ctx context.Context, hash string) (*CompiledUnitRecord, error) {
	var (
		rec               CompiledUnitRecord
		created, lastUsed int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT hash, path, text, created_at, last_used_at
		FROM compiled_units WHERE hash = ?
	`, hash).Scan(&rec.Hash, &rec.Path, &rec.Text, &created, &lastUsed)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("compiled unit not found: %s", hash)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get compiled unit: %w", err)
	}
	rec.CreatedAt = time.Unix(0, created)
	rec.LastUsedAt = time.Unix(0, lastUsed)
	return &rec, nil
}

// Prune deletes units not used within olderThan and returns how many were
// removed.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan).UnixNano()
	result, err := s.db.ExecContext(ctx, `DELETE FROM compiled_units WHERE last_used_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune compiled units: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned units: %w", err)
	}
	return n, nil
}

// Stats summarizes the stored units.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	var (
		stats          Stats
		oldest, newest sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT path), COALESCE(SUM(LENGTH(CAST(text AS BLOB))), 0),
		       MIN(last_used_at), MAX(last_used_at)
		FROM compiled_units
	`).Scan(&stats.Units, &stats.Paths, &stats.Bytes, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("failed to read store stats: %w", err)
	}
	if oldest.Valid {
		stats.Oldest = time.Unix(0, oldest.Int64)
	}
	if newest.Valid {
		stats.Newest = time.Unix(0, newest.Int64)
	}
	return &stats, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
