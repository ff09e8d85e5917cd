package tasks

import (
	"context"
	"fmt"
	"strings"
)

// NewStore picks a backend from the URL scheme: empty means in-memory,
// postgres:// or postgresql:// selects Postgres, redis:// or rediss:// selects Redis.
func NewStore(ctx context.Context, storeURL string) (Store, string, error) {
	storeURL = strings.TrimSpace(storeURL)
	if storeURL == "" {
		return NewMemoryStore(), "memory", nil
	}
	scheme, _, _ := strings.Cut(storeURL, "://")
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		s, err := NewPostgresStore(ctx, storeURL)
		if err != nil {
			return nil, "", err
		}
		return s, "postgres", nil
	case "redis", "rediss":
		s, err := NewRedisStore(ctx, storeURL, "agentos")
		if err != nil {
			return nil, "", err
		}
		return s, "redis", nil
	default:
		return nil, "", fmt.Errorf("unsupported task store scheme %q", scheme)
	}
}
