// Package database opens the SQL connection shared by the SQL-backed stores.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	// SQL drivers
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Open connects with the given driver and verifies the connection.
// SQLite connections are limited to a single writer to avoid lock errors.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}
	return db, nil
}

// ValidateDialect rejects dialects the stores have no queries for.
func ValidateDialect(dialect string) error {
	switch dialect {
	case DialectSQLite, DialectPostgres:
		return nil
	default:
		return fmt.Errorf("unsupported dialect: %s (supported: sqlite, postgres)", dialect)
	}
}

// Rebind rewrites ? placeholders to $n for Postgres.
func Rebind(dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
