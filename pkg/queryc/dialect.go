package queryc

import (
	"fmt"
	"time"
)

// Dialect abstracts the RDBMS-specific parts of SQL generation: parameter
// placeholders, case-sensitivity collation wrappers, the regexp operator and
// datetime storage granularity.
type Dialect interface {
	Name() string

	// Placeholder returns the parameter marker for the i-th argument
	// (1-based).
	Placeholder(i int) string

	// CollateFilter wraps a string-typed column for use in a comparison so
	// that like/regexp/equality behave case-sensitively.
	CollateFilter(column string) string

	// CollateOrder wraps a string-typed column for use in ORDER BY.
	CollateOrder(column string) string

	// RegexpCondition renders a regular-expression match of column against
	// the placeholder.
	RegexpCondition(column, placeholder string) string

	// RoundDatetime adjusts a datetime value to the granularity the backing
	// store will actually persist.
	RoundDatetime(t time.Time) time.Time
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string              { return "mysql" }
func (mysqlDialect) Placeholder(int) string    { return "?" }
func (mysqlDialect) CollateFilter(col string) string {
	// InnoDB's default collations are case-insensitive; binary collation
	// restores case-sensitive matching for =, like and regexp.
	return col + " COLLATE utf8mb4_bin"
}
func (mysqlDialect) CollateOrder(col string) string { return col }
func (mysqlDialect) RegexpCondition(col, ph string) string {
	return fmt.Sprintf("%s REGEXP BINARY %s", col, ph)
}
func (mysqlDialect) RoundDatetime(t time.Time) time.Time {
	// InnoDB DATETIME stores whole seconds; round to the nearest one so
	// equality filters match what was persisted.
	return t.Round(time.Second)
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string                   { return "sqlite" }
func (sqliteDialect) Placeholder(int) string         { return "?" }
func (sqliteDialect) CollateFilter(col string) string { return col }
func (sqliteDialect) CollateOrder(col string) string {
	// SQLite compares case-sensitively by default; ordering is friendlier
	// case-insensitively.
	return col + " COLLATE NOCASE"
}
func (sqliteDialect) RegexpCondition(col, ph string) string {
	// Requires a regexp() function registered on the connection; the
	// storage layer installs one backed by Go's regexp package.
	return fmt.Sprintf("%s REGEXP %s", col, ph)
}
func (sqliteDialect) RoundDatetime(t time.Time) time.Time { return t }

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }
func (postgresDialect) Placeholder(i int) string {
	return fmt.Sprintf("$%d", i)
}
func (postgresDialect) CollateFilter(col string) string { return col }
func (postgresDialect) CollateOrder(col string) string  { return col }
func (postgresDialect) RegexpCondition(col, ph string) string {
	return fmt.Sprintf("%s ~ %s", col, ph)
}
func (postgresDialect) RoundDatetime(t time.Time) time.Time { return t }

// Dialects.
var (
	MySQL    Dialect = mysqlDialect{}
	SQLite   Dialect = sqliteDialect{}
	Postgres Dialect = postgresDialect{}
)

// DialectByName resolves a configuration string to a Dialect.
func DialectByName(name string) (Dialect, error) {
	switch name {
	case "mysql":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql":
		return Postgres, nil
	}
	return nil, fmt.Errorf("unknown SQL dialect: %s", name)
}
