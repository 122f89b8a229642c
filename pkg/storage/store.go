// Package storage persists OLD entities, enforces restricted visibility,
// and writes a backup row before every accepted update or delete.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/dativebase/old/pkg/observability"
	"github.com/dativebase/old/pkg/queryc"
)

// sqliteBatchSize bounds id-list parameters per statement; SQLite hosts cap
// bound parameters at 999.
const sqliteBatchSize = 500

// Config for the store backend.
type Config struct {
	Dialect  string // "mysql", "sqlite" or "postgres"
	URL      string // driver-specific DSN
	MaxConns int
	MinConns int
	Timeout  time.Duration
}

// DefaultConfig returns sensible defaults for a development instance.
func DefaultConfig() Config {
	return Config{
		Dialect:  "sqlite",
		URL:      "file:old.db?cache=shared",
		MaxConns: 20,
		MinConns: 2,
		Timeout:  10 * time.Second,
	}
}

// Store is the SQL-backed persistence layer. All methods are context-aware;
// workers share the pool but not transactions with request handlers.
type Store struct {
	db      *sql.DB
	dialect queryc.Dialect
	logger  *observability.Logger
	nowFunc func() time.Time
}

func init() {
	// The query compiler's regexp relation needs a regexp() SQL function on
	// SQLite connections; back it with Go's regexp package.
	sql.Register("sqlite3_old", &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("regexp", func(pattern, s string) (bool, error) {
				return regexp.MatchString(pattern, s)
			}, true)
		},
	})
}

// Open connects to the configured backend and verifies the connection.
func Open(cfg Config, logger *observability.Logger) (*Store, error) {
	dialect, err := queryc.DialectByName(cfg.Dialect)
	if err != nil {
		return nil, err
	}

	driver := ""
	dsn := cfg.URL
	switch dialect.Name() {
	case "mysql":
		driver = "mysql"
		// time.Time scanning requires parseTime on the DSN.
		if mcfg, err := mysql.ParseDSN(dsn); err == nil && !mcfg.ParseTime {
			mcfg.ParseTime = true
			dsn = mcfg.FormatDSN()
		}
	case "sqlite":
		driver = "sqlite3_old"
	case "postgres":
		driver = "postgres"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", dialect.Name(), err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping %s: %w", dialect.Name(), err)
	}

	return NewStore(db, dialect, logger), nil
}

// NewStore wraps an existing database handle. Used directly by tests.
func NewStore(db *sql.DB, dialect queryc.Dialect, logger *observability.Logger) *Store {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Store{db: db, dialect: dialect, logger: logger, nowFunc: time.Now}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect reports the SQL dialect in use; the query compiler and the corpus
// engine adjust their SQL to it.
func (s *Store) Dialect() queryc.Dialect { return s.dialect }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) now() time.Time {
	// InnoDB persists whole seconds; keep in-memory values in step with
	// what a round trip would return.
	return s.dialect.RoundDatetime(s.nowFunc().UTC())
}

// ph renders the i-th (1-based) parameter placeholder.
func (s *Store) ph(i int) string { return s.dialect.Placeholder(i) }

// phList renders placeholders n..n+count-1 joined by commas.
func (s *Store) phList(n, count int) string {
	parts := make([]string, count)
	for i := 0; i < count; i++ {
		parts[i] = s.ph(n + i)
	}
	return strings.Join(parts, ", ")
}

// batchSize is the id-chunk size used when fetching by explicit id lists.
func (s *Store) batchSize() int {
	if s.dialect.Name() == "sqlite" {
		return sqliteBatchSize
	}
	return 2000
}

// restrictionClause renders the restricted-visibility predicate for a
// resource table whose tags live in assocTable(localKey, tag_id). An empty
// string means the caller is unrestricted.
func restrictionClause(table, assocTable, localKey string, unrestricted bool) string {
	if unrestricted {
		return ""
	}
	return fmt.Sprintf(
		"NOT EXISTS (SELECT 1 FROM %s rx JOIN tag rt ON rt.id = rx.tag_id WHERE rx.%s = %s.id AND rt.name = 'restricted')",
		assocTable, localKey, table)
}

// normalizedJSON serializes a value for the field-wise distinct check used
// to reject vacuous updates. Callers pass copies with volatile fields
// (modifier, datetime_modified, compile status) zeroed.
func normalizedJSON(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to serialize for distinct check: %w", err)
	}
	return string(raw), nil
}

func intsToArgs(ids []int) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func nullableInt(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
