package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initTaskSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initTaskSchema(ctx context.Context, pool *pgxpool.Pool) error {
	// slots is JSON rather than JSONB so key order (slot order) is preserved.
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agent_tasks (
			id TEXT PRIMARY KEY,
			intent_domain TEXT NOT NULL,
			intent_action TEXT NOT NULL,
			intent_confidence DOUBLE PRECISION NOT NULL DEFAULT 1,
			status TEXT NOT NULL,
			slots JSON NOT NULL,
			context JSON NOT NULL,
			result JSON NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_agent_tasks_status_updated ON agent_tasks (status, updated_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init task schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

var terminalStatuses = []string{
	string(TaskStatusCompleted),
	string(TaskStatusFailed),
	string(TaskStatusCancelled),
}

const taskColumns = `id, intent_domain, intent_action, intent_confidence, status, slots, context, result, created_at, updated_at`

func (s *PostgresStore) SaveTask(ctx context.Context, task Task) error {
	slots, err := json.Marshal(task.Slots)
	if err != nil {
		return fmt.Errorf("encode slots: %w", err)
	}
	tctx, err := json.Marshal(task.Context)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	var result []byte
	if task.Result != nil {
		result, err = json.Marshal(task.Result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO agent_tasks (`+taskColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			intent_domain=EXCLUDED.intent_domain,
			intent_action=EXCLUDED.intent_action,
			intent_confidence=EXCLUDED.intent_confidence,
			status=EXCLUDED.status,
			slots=EXCLUDED.slots,
			context=EXCLUDED.context,
			result=EXCLUDED.result,
			updated_at=EXCLUDED.updated_at`,
		task.ID,
		task.Intent.Domain,
		task.Intent.Action,
		task.Intent.Confidence,
		string(task.Status),
		string(slots),
		string(tctx),
		nullableJSON(result),
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM agent_tasks WHERE id=$1`, taskID)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrStoreNotFound
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) ActiveTasks(ctx context.Context) ([]Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM agent_tasks
		  WHERE status <> ALL($1) ORDER BY updated_at DESC, id ASC`,
		terminalStatuses,
	)
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	return collectTasks(rows)
}

func (s *PostgresStore) History(ctx context.Context, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM agent_tasks
		  WHERE status = ANY($1) ORDER BY updated_at DESC, id ASC LIMIT $2`,
		terminalStatuses, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list task history: %w", err)
	}
	return collectTasks(rows)
}

func (s *PostgresStore) DeleteTask(ctx context.Context, taskID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM agent_tasks WHERE id=$1`, taskID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClearOldTasks(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM agent_tasks WHERE status = ANY($1) AND updated_at < $2 RETURNING id`,
		terminalStatuses, before,
	)
	if err != nil {
		return nil, fmt.Errorf("clear old tasks: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("clear old tasks: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func collectTasks(rows pgx.Rows) ([]Task, error) {
	defer rows.Close()
	out := make([]Task, 0, 16)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return out, nil
}

func scanTask(row pgx.Row) (Task, error) {
	var (
		task   Task
		status string
		slots  string
		tctx   string
		result *string
	)
	if err := row.Scan(
		&task.ID,
		&task.Intent.Domain,
		&task.Intent.Action,
		&task.Intent.Confidence,
		&status,
		&slots,
		&tctx,
		&result,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return Task{}, err
	}
	task.Status = TaskStatus(status)
	if err := json.Unmarshal([]byte(slots), &task.Slots); err != nil {
		return Task{}, fmt.Errorf("decode slots: %w", err)
	}
	if err := json.Unmarshal([]byte(tctx), &task.Context); err != nil {
		return Task{}, fmt.Errorf("decode context: %w", err)
	}
	if result != nil {
		var r TaskResult
		if err := json.Unmarshal([]byte(*result), &r); err != nil {
			return Task{}, fmt.Errorf("decode result: %w", err)
		}
		task.Result = &r
	}
	task.CreatedAt = task.CreatedAt.UTC()
	task.UpdatedAt = task.UpdatedAt.UTC()
	return task, nil
}

func nullableJSON(b []byte) *string {
	if b == nil {
		return nil
	}
	s := string(b)
	return &s
}
