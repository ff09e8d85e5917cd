package memory

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// NewStore picks a backend from the URL scheme: postgres, redis, or
// in-memory when url is empty. The returned mode names the backend.
func NewStore(ctx context.Context, storeURL string, ttl time.Duration) (Store, string, error) {
	storeURL = strings.TrimSpace(storeURL)
	if storeURL == "" {
		return NewInMemoryStore(), "in-memory", nil
	}
	u, err := url.Parse(storeURL)
	if err != nil {
		return nil, "", fmt.Errorf("parse memory store url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		s, err := NewPostgresStore(ctx, storeURL)
		if err != nil {
			return nil, "", err
		}
		return s, "postgres", nil
	case "redis", "rediss":
		s, err := NewRedisStore(ctx, storeURL, "agentos", ttl)
		if err != nil {
			return nil, "", err
		}
		return s, "redis", nil
	default:
		return nil, "", fmt.Errorf("unsupported memory store scheme %q", u.Scheme)
	}
}
