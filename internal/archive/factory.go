package archive

import (
	"context"
	"strings"
)

// ModeForURL names the backend NewStore would choose for databaseURL.
func ModeForURL(databaseURL string) string {
	u := strings.TrimSpace(databaseURL)
	switch {
	case u == "":
		return "in-memory"
	case strings.HasPrefix(u, "sqlite://"), strings.HasPrefix(u, "file:"):
		return "sqlite"
	default:
		return "postgres"
	}
}

// NewStore picks a backend from the URL: empty means in-memory, postgres:// or
// postgresql:// uses PostgreSQL, sqlite:// or file: uses SQLite.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	u := strings.TrimSpace(databaseURL)
	switch {
	case u == "":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(u, "sqlite://"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(u, "sqlite://"))
	case strings.HasPrefix(u, "file:"):
		return NewSQLiteStore(ctx, u)
	default:
		return NewPostgresStore(ctx, u)
	}
}
