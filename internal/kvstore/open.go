package kvstore

import (
	"context"
	"fmt"
	"strings"
)

// Open builds a Store from a DSN:
//
//	memory://
//	sqlite:///var/lib/gallery/gallery.db
//	redis://localhost:6379/0
func Open(ctx context.Context, dsn string) (Store, error) {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, dsn)
	}

	switch scheme {
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		if rest == "" {
			rest = ":memory:"
		}
		return OpenSQLite(rest)
	case "redis", "rediss":
		return OpenRedis(ctx, dsn, "gallery:")
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, scheme)
	}
}
