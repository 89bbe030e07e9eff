package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tinylink/go-server/internal/model"
)

var (
	ErrLinkNotFound  = errors.New("link not found")
	ErrCodeConflict  = errors.New("code already exists")
	ErrDatabaseError = errors.New("database error")
)

const dbTimeout = 5 * time.Second

// LinkRepository is the single source of truth for links. Create is the only
// uniqueness check: callers must not look a code up before inserting it.
type LinkRepository interface {
	Create(ctx context.Context, code, url string) (*model.Link, error)
	FindByCode(ctx context.Context, code string) (*model.Link, error)
	List(ctx context.Context) ([]model.Link, error)
	Delete(ctx context.Context, code string) error
	// ResolveAndBump returns the destination of code and counts one click,
	// as one atomic unit.
	ResolveAndBump(ctx context.Context, code string) (string, error)
}
