package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tinylink/go-server/internal/metrics"
	"github.com/tinylink/go-server/internal/model"
)

const pgUniqueViolation = "23505"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS links (
	code         VARCHAR(8) PRIMARY KEY,
	url          TEXT NOT NULL,
	clicks       BIGINT NOT NULL DEFAULT 0,
	last_clicked TIMESTAMPTZ NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_links_created_at ON links (created_at DESC);
`

// PostgresLinkRepository implements LinkRepository using PostgreSQL
type PostgresLinkRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLinkRepository creates a new PostgresLinkRepository
func NewPostgresLinkRepository(db *pgxpool.Pool) *PostgresLinkRepository {
	return &PostgresLinkRepository{
		db:     db,
		logger: zap.L().With(zap.String("component", "PostgresLinkRepository")),
	}
}

// Migrate creates the links table if it does not exist yet
func (r *PostgresLinkRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("%w: migrate: %v", ErrDatabaseError, err)
	}
	return nil
}

// Create inserts a new link with zero clicks
func (r *PostgresLinkRepository) Create(ctx context.Context, code, url string) (*model.Link, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	defer metrics.ObserveQuery("postgres", "create", time.Now())

	link := &model.Link{}
	err := r.db.QueryRow(ctx,
		`INSERT INTO links (code, url) VALUES ($1, $2)
		RETURNING code, url, clicks, last_clicked, created_at`,
		code, url,
	).Scan(&link.Code, &link.URL, &link.Clicks, &link.LastClicked, &link.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
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
func (r *PostgresLinkRepository) FindByCode(ctx context.Context, code string) (*model.Link, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	defer metrics.ObserveQuery("postgres", "find", time.Now())

	link := &model.Link{}
	err := r.db.QueryRow(ctx,
		"SELECT code, url, clicks, last_clicked, created_at FROM links WHERE code = $1",
		code,
	).Scan(&link.Code, &link.URL, &link.Clicks, &link.LastClicked, &link.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		r.logger.Error("Database query error", zap.Error(err), zap.String("code", code))
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	return link, nil
}

// List returns every link, newest first
func (r *PostgresLinkRepository) List(ctx context.Context) ([]model.Link, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	defer metrics.ObserveQuery("postgres", "list", time.Now())

	rows, err := r.db.Query(ctx,
		"SELECT code, url, clicks, last_clicked, created_at FROM links ORDER BY created_at DESC, code ASC",
	)
	if err != nil {
		r.logger.Error("Failed to list links", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	links, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Link, error) {
		var l model.Link
		err := row.Scan(&l.Code, &l.URL, &l.Clicks, &l.LastClicked, &l.CreatedAt)
		return l, err
	})
	if err != nil {
		r.logger.Error("Failed to scan links", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	return links, nil
}

// Delete removes a link
func (r *PostgresLinkRepository) Delete(ctx context.Context, code string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	defer metrics.ObserveQuery("postgres", "delete", time.Now())

	tag, err := r.db.Exec(ctx, "DELETE FROM links WHERE code = $1", code)
	if err != nil {
		r.logger.Error("Failed to delete link", zap.Error(err), zap.String("code", code))
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLinkNotFound
	}

	r.logger.Info("Link deleted", zap.String("code", code))
	return nil
}

// ResolveAndBump locks the row, counts the click and commits. Concurrent
// callers on the same code queue on the row lock; other codes are unaffected.
func (r *PostgresLinkRepository) ResolveAndBump(ctx context.Context, code string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	defer metrics.ObserveQuery("postgres", "resolve_and_bump", time.Now())

	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.logger.Error("Failed to start transaction", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	// No-op once committed.
	defer tx.Rollback(ctx)

	var url string
	err = tx.QueryRow(ctx, "SELECT url FROM links WHERE code = $1 FOR UPDATE", code).Scan(&url)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrLinkNotFound
		}
		r.logger.Error("Database query error", zap.Error(err), zap.String("code", code))
		return "", fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	_, err = tx.Exec(ctx,
		"UPDATE links SET clicks = clicks + 1, last_clicked = now() WHERE code = $1",
		code,
	)
	if err != nil {
		r.logger.Error("Failed to bump clicks", zap.Error(err), zap.String("code", code))
		return "", fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("Failed to commit transaction", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	return url, nil
}
