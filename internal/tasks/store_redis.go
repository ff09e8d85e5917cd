package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one JSON document per task plus two sorted sets (active
// and history) scored by UpdatedAt in unix nanoseconds.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(ctx context.Context, redisURL, prefix string) (*RedisStore, error) {
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
	if prefix == "" {
		prefix = "agentos"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) taskKey(id string) string { return s.prefix + ":task:" + id }
func (s *RedisStore) activeKey() string { return s.prefix + ":tasks:active" }
func (s *RedisStore) historyKey() string { return s.prefix + ":tasks:history" }

func (s *RedisStore) SaveTask(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	member := redis.Z{Score: float64(task.UpdatedAt.UnixNano()), Member: task.ID}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.taskKey(task.ID), data, 0)
		if task.IsTerminal() {
			pipe.ZRem(ctx, s.activeKey(), task.ID)
			pipe.ZAdd(ctx, s.historyKey(), member)
		} else {
			pipe.ZRem(ctx, s.historyKey(), task.ID)
			pipe.ZAdd(ctx, s.activeKey(), member)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func (s *RedisStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	data, err := s.client.Get(ctx, s.taskKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Task{}, ErrStoreNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	return task, nil
}

func (s *RedisStore) ActiveTasks(ctx context.Context) ([]Task, error) {
	ids, err := s.client.ZRevRange(ctx, s.activeKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	return s.loadAll(ctx, ids)
}

func (s *RedisStore) History(ctx context.Context, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	ids, err := s.client.ZRevRange(ctx, s.historyKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list task history: %w", err)
	}
	return s.loadAll(ctx, ids)
}

func (s *RedisStore) DeleteTask(ctx context.Context, taskID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.taskKey(taskID))
		pipe.ZRem(ctx, s.activeKey(), taskID)
		pipe.ZRem(ctx, s.historyKey(), taskID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (s *RedisStore) ClearOldTasks(ctx context.Context, before time.Time) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.historyKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixNano(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("clear old tasks: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		keys := make([]string, len(ids))
		members := make([]any, len(ids))
		for i, id := range ids {
			keys[i] = s.taskKey(id)
			members[i] = id
		}
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.historyKey(), members...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("clear old tasks: %w", err)
	}
	return ids, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) loadAll(ctx context.Context, ids []string) ([]Task, error) {
	if len(ids) == 0 {
		return []Task{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.taskKey(id)
	}
	raw, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	out := make([]Task, 0, len(raw))
	for i, item := range raw {
		str, ok := item.(string)
		if !ok {
			// index entry without a document; skip it
			continue
		}
		var task Task
		if err := json.Unmarshal([]byte(str), &task); err != nil {
			return nil, fmt.Errorf("decode task %s: %w", ids[i], err)
		}
		out = append(out, task)
	}
	return out, nil
}
