package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/tinylink/go-server/internal/metrics"
	"github.com/tinylink/go-server/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS links (
	code         TEXT PRIMARY KEY,
	url          TEXT NOT NULL,
	clicks       INTEGER NOT NULL DEFAULT 0,
	last_clicked TIMESTAMP NULL,
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_links_created_at ON links (created_at DESC);
`

// SQLiteLinkRepository implements LinkRepository on an embedded SQLite (or
// libsql) database. It expects a *sql.DB limited to one open connection.
type SQLiteLinkRepository struct {
	db      *sql.DB
	logger  *zap.Logger
	nowFunc func() time.Time
}

// NewSQLiteLinkRepository creates a new SQLiteLinkRepository
func NewSQLiteLinkRepository(db *sql.DB) *SQLiteLinkRepository {
	return &SQLiteLinkRepository{
		db:      db,
		logger:  zap.L().With(zap.String("component", "SQLiteLinkRepository")),
		nowFunc: time.Now,
	}
}

// Migrate creates the links table if it does not exist yet
func (r *SQLiteLinkRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("%w: migrate: %v", ErrDatabaseError, err)
	}
	return nil
}

// Create inserts a new link with zero clicks
func (r *SQLiteLinkRepository) Create(ctx context.Context, code, url string) (*model.Link, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	defer metrics.ObserveQuery("sqlite", "create", time.Now())

	link := &model.Link{Code: code, URL: url, CreatedAt: r.nowFunc().UTC()}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO links (code, url, clicks, created_at) VALUES (?, ?, 0, ?)",
		link.Code, link.URL, link.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			r.logger.Debug("Code already taken", zap.String("code", code))
			return nil, ErrCodeConflict
		}
		r.logger.Error("Failed to insert link", zap.Error(err), zap.String("code", code))
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	r.logger.Info("Link created", zap.String("code", code), zap.String("url", url))
	return link, nil
}

// FindByCode retrieves a single link
func (r *SQLiteLinkRepository) FindByCode(ctx context.Context, code string) (*model.Link, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	defer metrics.ObserveQuery("sqlite", "find", time.Now())

	row := r.db.QueryRowContext(ctx,
		"SELECT code, url, clicks, last_clicked, created_at FROM links WHERE code = ?",
		code,
	)
	link, err := scanLink(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		r.logger.Error("Database query error", zap.Error(err), zap.String("code", code))
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	return &link, nil
}

// List returns every link, newest first
func (r *SQLiteLinkRepository) List(ctx context.Context) ([]model.Link, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	defer metrics.ObserveQuery("sqlite", "list", time.Now())

	rows, err := r.db.QueryContext(ctx,
		"SELECT code, url, clicks, last_clicked, created_at FROM links ORDER BY created_at DESC, code ASC",
	)
	if err != nil {
		r.logger.Error("Failed to list links", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	links := []model.Link{}
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			r.logger.Error("Failed to scan link", zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	return links, nil
}

// Delete removes a link
func (r *SQLiteLinkRepository) Delete(ctx context.Context, code string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	defer metrics.ObserveQuery("sqlite", "delete", time.Now())

	res, err := r.db.ExecContext(ctx, "DELETE FROM links WHERE code = ?", code)
	if err != nil {
		r.logger.Error("Failed to delete link", zap.Error(err), zap.String("code", code))
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if n == 0 {
		return ErrLinkNotFound
	}

	r.logger.Info("Link deleted", zap.String("code", code))
	return nil
}

// ResolveAndBump increments and reads back in one UPDATE ... RETURNING
// statement, which SQLite executes atomically under its write lock.
func (r *SQLiteLinkRepository) ResolveAndBump(ctx context.Context, code string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	defer metrics.ObserveQuery("sqlite", "resolve_and_bump", time.Now())

	var url string
	err := r.db.QueryRowContext(ctx,
		"UPDATE links SET clicks = clicks + 1, last_clicked = ? WHERE code = ? RETURNING url",
		r.nowFunc().UTC(), code,
	).Scan(&url)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrLinkNotFound
		}
		r.logger.Error("Failed to bump clicks", zap.Error(err), zap.String("code", code))
		return "", fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	return url, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (model.Link, error) {
	var (
		link        model.Link
		lastClicked sql.NullTime
	)
	if err := row.Scan(&link.Code, &link.URL, &link.Clicks, &lastClicked, &link.CreatedAt); err != nil {
		return model.Link{}, err
	}
	link.CreatedAt = link.CreatedAt.UTC()
	if lastClicked.Valid {
		t := lastClicked.Time.UTC()
		link.LastClicked = &t
	}
	return link, nil
}

// isUniqueViolation recognises duplicate keys from the modernc driver by
// extended result code and from the libsql driver by message.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
