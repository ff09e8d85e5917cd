package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisTurnsPerSession = 200
	defaultRedisSessionTTL      = 24 * time.Hour
)

// RedisStore keeps each session's turns in a capped list that expires after
// a period of inactivity.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	max    int64
}

func NewRedisStore(ctx context.Context, redisURL, prefix string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultRedisSessionTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, max: defaultRedisTurnsPerSession}, nil
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return s.prefix + ":turns:" + sessionID
}

func (s *RedisStore) SaveTurn(ctx context.Context, record TurnRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}
	key := s.sessionKey(record.SessionID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, -s.max, -1)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

func (s *RedisStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	raw, err := s.client.LRange(ctx, s.sessionKey(sessionID), -int64(limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	out := make([]TurnRecord, 0, len(raw))
	for _, item := range raw {
		var r TurnRecord
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("decode turn: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
