package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rl1809/stockgrid/internal/core/domain"
)

// Dialect holds the statements that differ between SQL backends.
type Dialect struct {
	Driver string
	schema string
	load   string
	upsert string
}

var (
	MySQL = Dialect{
		Driver: "mysql",
		schema: `CREATE TABLE IF NOT EXISTS kv_store (
			k VARCHAR(191) PRIMARY KEY,
			v LONGTEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		)`,
		load: `SELECT v FROM kv_store WHERE k = ?`,
		upsert: `
			INSERT INTO kv_store (k, v) VALUES (?, ?)
			ON DUPLICATE KEY UPDATE v = VALUES(v)`,
	}

	Postgres = Dialect{
		Driver: "postgres",
		schema: `CREATE TABLE IF NOT EXISTS kv_store (
			k TEXT PRIMARY KEY,
			v TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		load: `SELECT v FROM kv_store WHERE k = $1`,
		upsert: `
			INSERT INTO kv_store (k, v) VALUES ($1, $2)
			ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v, updated_at = NOW()`,
	}

	SQLite = Dialect{
		Driver: "sqlite3",
		schema: `CREATE TABLE IF NOT EXISTS kv_store (
			k TEXT PRIMARY KEY,
			v TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		load: `SELECT v FROM kv_store WHERE k = ?`,
		upsert: `
			INSERT INTO kv_store (k, v) VALUES (?, ?)
			ON CONFLICT(k) DO UPDATE SET v = excluded.v, updated_at = CURRENT_TIMESTAMP`,
	}
)

// SQLiteDSN points the sqlite3 driver at a database file in WAL mode.
func SQLiteDSN(path string) string {
	return path + "?_busy_timeout=5000&_journal_mode=WAL"
}

// SQLAdapter keeps the item list in a single keyed row; one upsert statement
// replaces it atomically.
type SQLAdapter struct {
	db      *sql.DB
	dialect Dialect
	key     string
}

func NewSQLAdapter(db *sql.DB, dialect Dialect, key string) *SQLAdapter {
	if key == "" {
		key = DefaultKey
	}
	return &SQLAdapter{db: db, dialect: dialect, key: key}
}

// OpenSQL opens and pings a database for the given dialect.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.Driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect.Driver, err)
	}
	return db, nil
}

func (s *SQLAdapter) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.schema); err != nil {
		return fmt.Errorf("create kv_store: %w", err)
	}
	return nil
}

func (s *SQLAdapter) Load(ctx context.Context) ([]domain.Item, error) {
	var data string
	err := s.db.QueryRowContext(ctx, s.dialect.load, s.key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return []domain.Item{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query kv_store: %w", err)
	}
	return decodeItems([]byte(data))
}

func (s *SQLAdapter) Save(ctx context.Context, items []domain.Item) error {
	data, err := encodeItems(items)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.upsert, s.key, string(data)); err != nil {
		return fmt.Errorf("upsert kv_store: %w", err)
	}
	return nil
}

func (s *SQLAdapter) Close() error {
	return s.db.Close()
}
