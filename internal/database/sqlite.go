package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql" // remote libsql/Turso
	_ "modernc.org/sqlite"                                // local SQLite, no cgo
)

// OpenSQLite opens a local SQLite file (or :memory:) with the pure-Go driver,
// or a libsql:// / wss:// database through the libsql client.
//
// The pool is pinned to a single connection: SQLite has one writer anyway, and
// an in-memory database only lives as long as its connection.
func OpenSQLite(ctx context.Context, dsn string) (*sql.DB, error) {
	driverName := "sqlite"
	if strings.HasPrefix(dsn, "libsql://") || strings.HasPrefix(dsn, "wss://") {
		driverName = "libsql"
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driverName, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driverName, err)
	}

	if driverName == "sqlite" {
		// Best effort; not every build honours every pragma.
		_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;")
		_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL;")
	}

	return db, nil
}
